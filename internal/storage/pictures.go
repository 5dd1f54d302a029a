package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/streetpano/internal/models"
)

// CreatePicture inserts the picture row, its sequence membership (rank is
// assigned later by the assembler) and the process queue entry in one
// transaction. Returns pgx's unique violation as-is so the caller can map
// a duplicate upload to a conflict.
func (s *PostgresStore) CreatePicture(ctx context.Context, p *models.Picture) error {
	meta, err := json.Marshal(p.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO pictures (id, status, is_blurred, account_id, metadata)
		 VALUES ($1, $2, $3, $4, $5) RETURNING inserted_at`,
		p.ID, models.StatusWaitingForProcess, p.IsBlurred, p.AccountID, meta,
	).Scan(&p.InsertedAt)
	if err != nil {
		return fmt.Errorf("insert picture: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO sequences_pictures (seq_id, pic_id) VALUES ($1, $2)`,
		p.SequenceID, p.ID); err != nil {
		return fmt.Errorf("insert sequence membership: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO pictures_to_process (picture_id, task) VALUES ($1, $2)`,
		p.ID, models.TaskPrepare); err != nil {
		return fmt.Errorf("enqueue picture: %w", err)
	}

	return tx.Commit(ctx)
}

// GetPicture loads a picture with its sequence id and sequence status.
// Returns nil when the id is unknown.
func (s *PostgresStore) GetPicture(ctx context.Context, id uuid.UUID) (*models.Picture, error) {
	p := &models.Picture{ID: id}
	var meta []byte
	err := s.pool.QueryRow(ctx,
		`SELECT sp.seq_id, sp.rank, p.status, p.captured_at, p.lon, p.lat,
		        p.heading, p.heading_computed, COALESCE(p.projection, ''),
		        COALESCE(p.width, 0), COALESCE(p.height, 0),
		        COALESCE(p.cols, 0), COALESCE(p.rows, 0),
		        p.is_blurred, p.account_id, p.metadata,
		        p.nb_errors, COALESCE(p.process_error, ''), p.processed_at,
		        p.inserted_at, s.status
		 FROM pictures p
		 JOIN sequences_pictures sp ON sp.pic_id = p.id
		 JOIN sequences s ON s.id = sp.seq_id
		 WHERE p.id = $1`, id,
	).Scan(&p.SequenceID, &p.Rank, &p.Status, &p.CapturedAt, &p.Lon, &p.Lat,
		&p.Heading, &p.HeadingComputed, &p.Projection,
		&p.Sizing.Width, &p.Sizing.Height, &p.Sizing.Cols, &p.Sizing.Rows,
		&p.IsBlurred, &p.AccountID, &meta,
		&p.NbErrors, &p.ProcessError, &p.ProcessedAt,
		&p.InsertedAt, &p.SequenceStatus)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get picture: %w", err)
	}
	if err := json.Unmarshal(meta, &p.Metadata); err != nil {
		return nil, fmt.Errorf("unmarshal picture metadata: %w", err)
	}
	return p, nil
}

// ApplyMetadata stores what the extractor read from the picture file.
func (s *PostgresStore) ApplyMetadata(ctx context.Context, id uuid.UUID, capturedAt time.Time, lon, lat float64, heading *int, m models.Metadata) error {
	meta, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	var exif []byte
	if m.Exif != nil {
		if exif, err = json.Marshal(m.Exif); err != nil {
			return fmt.Errorf("marshal exif: %w", err)
		}
	}

	var cols, rows *int
	if m.Type == models.ProjectionEquirectangular {
		cols, rows = &m.Cols, &m.Rows
	}

	_, err = s.pool.Exec(ctx,
		`UPDATE pictures SET
		     captured_at = $2, lon = $3, lat = $4, heading = $5,
		     projection = $6, width = $7, height = $8, cols = $9, rows = $10,
		     metadata = $11, exif = $12
		 WHERE id = $1`,
		id, capturedAt, lon, lat, heading,
		m.Type, m.Width, m.Height, cols, rows, meta, exif)
	if err != nil {
		return fmt.Errorf("apply metadata: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetPictureStatus(ctx context.Context, id uuid.UUID, status models.PictureStatus) error {
	_, err := s.pool.Exec(ctx, `UPDATE pictures SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("set picture status: %w", err)
	}
	return nil
}

// StartProcessing stamps the processing attempt.
func (s *PostgresStore) StartProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE pictures SET status = $2, processed_at = NOW() WHERE id = $1`,
		id, models.StatusPreparing)
	if err != nil {
		return fmt.Errorf("start processing: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetPictureBlurred(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE pictures SET is_blurred = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("set picture blurred: %w", err)
	}
	return nil
}

// SetPictureVisibility flips a picture between ready and hidden. Only
// pictures that finished processing can be toggled.
func (s *PostgresStore) SetPictureVisibility(ctx context.Context, id uuid.UUID, visible bool) (bool, error) {
	from, to := models.StatusReady, models.StatusHidden
	if visible {
		from, to = models.StatusHidden, models.StatusReady
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE pictures SET status = $3 WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return false, fmt.Errorf("set picture visibility: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkForDeletion flags the picture and queues the delete task, replacing
// any pending prepare task.
func (s *PostgresStore) MarkForDeletion(ctx context.Context, id uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`UPDATE pictures SET status = $2 WHERE id = $1`,
		id, models.StatusWaitingForDelete); err != nil {
		return fmt.Errorf("mark for deletion: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO pictures_to_process (picture_id, task) VALUES ($1, $2)
		 ON CONFLICT (picture_id) DO UPDATE SET task = EXCLUDED.task, inserted_at = NOW()`,
		id, models.TaskDelete); err != nil {
		return fmt.Errorf("enqueue delete: %w", err)
	}

	return tx.Commit(ctx)
}

// QueueDepth reports the number of queued pictures, for the metrics gauge.
func (s *PostgresStore) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM pictures_to_process`).Scan(&n)
	return n, err
}
