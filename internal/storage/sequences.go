package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/streetpano/internal/models"
)

func (s *PostgresStore) CreateSequence(ctx context.Context, title, accountID string) (*models.Sequence, error) {
	seq := &models.Sequence{
		Title:     title,
		AccountID: accountID,
		Status:    models.SequenceStatusPreparing,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO sequences (title, account_id) VALUES ($1, $2)
		 RETURNING id, inserted_at`,
		title, accountID,
	).Scan(&seq.ID, &seq.InsertedAt)
	if err != nil {
		return nil, fmt.Errorf("create sequence: %w", err)
	}
	return seq, nil
}

// GetSequence returns nil when the id is unknown.
func (s *PostgresStore) GetSequence(ctx context.Context, id uuid.UUID) (*models.Sequence, error) {
	seq := &models.Sequence{ID: id}
	var geom []byte
	err := s.pool.QueryRow(ctx,
		`SELECT title, account_id, status, geom, metadata, inserted_at
		 FROM sequences WHERE id = $1`, id,
	).Scan(&seq.Title, &seq.AccountID, &seq.Status, &geom, &seq.Metadata, &seq.InsertedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get sequence: %w", err)
	}
	if geom != nil {
		if err := json.Unmarshal(geom, &seq.Geom); err != nil {
			return nil, fmt.Errorf("unmarshal sequence geometry: %w", err)
		}
	}
	return seq, nil
}

// ListSequencePictures returns the sequence's pictures ordered by rank,
// unranked ones last in upload order. Broken pictures are included so the
// owner can see what failed.
func (s *PostgresStore) ListSequencePictures(ctx context.Context, seqID uuid.UUID) ([]models.Picture, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, sp.rank, p.status, p.captured_at, p.lon, p.lat,
		        p.heading, p.heading_computed, COALESCE(p.projection, ''),
		        COALESCE(p.width, 0), COALESCE(p.height, 0),
		        COALESCE(p.cols, 0), COALESCE(p.rows, 0),
		        p.is_blurred, p.nb_errors, COALESCE(p.process_error, ''),
		        p.inserted_at
		 FROM sequences_pictures sp
		 JOIN pictures p ON p.id = sp.pic_id
		 WHERE sp.seq_id = $1
		 ORDER BY sp.rank NULLS LAST, p.inserted_at`, seqID)
	if err != nil {
		return nil, fmt.Errorf("list sequence pictures: %w", err)
	}
	defer rows.Close()

	var pics []models.Picture
	for rows.Next() {
		p := models.Picture{SequenceID: seqID}
		if err := rows.Scan(&p.ID, &p.Rank, &p.Status, &p.CapturedAt, &p.Lon, &p.Lat,
			&p.Heading, &p.HeadingComputed, &p.Projection,
			&p.Sizing.Width, &p.Sizing.Height, &p.Sizing.Cols, &p.Sizing.Rows,
			&p.IsBlurred, &p.NbErrors, &p.ProcessError, &p.InsertedAt); err != nil {
			return nil, fmt.Errorf("scan sequence picture: %w", err)
		}
		pics = append(pics, p)
	}
	return pics, rows.Err()
}

// ReadyPictures returns the geolocated, processed pictures of a sequence
// in capture order, for the assembler. Capture-time ties break on upload
// order so the ordering is stable.
func (s *PostgresStore) ReadyPictures(ctx context.Context, seqID uuid.UUID) ([]models.Picture, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT p.id, p.captured_at, p.lon, p.lat, p.heading, p.heading_computed
		 FROM sequences_pictures sp
		 JOIN pictures p ON p.id = sp.pic_id
		 WHERE sp.seq_id = $1
		   AND p.status IN ('ready', 'hidden', 'preparing-derivates')
		   AND p.lon IS NOT NULL
		 ORDER BY p.captured_at, p.inserted_at`, seqID)
	if err != nil {
		return nil, fmt.Errorf("list ready pictures: %w", err)
	}
	defer rows.Close()

	var pics []models.Picture
	for rows.Next() {
		p := models.Picture{SequenceID: seqID}
		if err := rows.Scan(&p.ID, &p.CapturedAt, &p.Lon, &p.Lat, &p.Heading, &p.HeadingComputed); err != nil {
			return nil, fmt.Errorf("scan ready picture: %w", err)
		}
		pics = append(pics, p)
	}
	return pics, rows.Err()
}

// SaveAssembly writes back what the assembler computed: the ranks, the
// computed headings and the sequence geometry, then marks the sequence
// ready. The rank unique constraint is deferred, so swapping ranks inside
// one transaction is safe.
func (s *PostgresStore) SaveAssembly(ctx context.Context, seqID uuid.UUID, pics []models.Picture, geom models.LineString) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, p := range pics {
		if _, err := tx.Exec(ctx,
			`UPDATE sequences_pictures SET rank = $3 WHERE seq_id = $1 AND pic_id = $2`,
			seqID, p.ID, p.Rank); err != nil {
			return fmt.Errorf("update rank: %w", err)
		}
		if p.HeadingComputed {
			if _, err := tx.Exec(ctx,
				`UPDATE pictures SET heading = $2, heading_computed = TRUE WHERE id = $1`,
				p.ID, p.Heading); err != nil {
				return fmt.Errorf("update heading: %w", err)
			}
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sequences SET geom = $2, status = $3 WHERE id = $1`,
		seqID, geom.JSON(), models.SequenceStatusReady); err != nil {
		return fmt.Errorf("update sequence geometry: %w", err)
	}

	return tx.Commit(ctx)
}
