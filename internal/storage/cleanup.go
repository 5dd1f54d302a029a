package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PictureIDs lists the pictures to clean. With sequence ids, pictures
// also referenced by a sequence outside the set are excluded so shared
// pictures survive. Without, every picture is returned.
func (s *PostgresStore) PictureIDs(ctx context.Context, seqIDs []uuid.UUID) ([]uuid.UUID, error) {
	query := `SELECT id FROM pictures`
	args := []any{}
	if len(seqIDs) > 0 {
		query = `SELECT pic_id FROM sequences_pictures WHERE seq_id = ANY($1)
		         EXCEPT
		         SELECT pic_id FROM sequences_pictures WHERE NOT (seq_id = ANY($1))`
		args = append(args, seqIDs)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list pictures to clean: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan picture id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DeleteRows removes the database side of the given sequences and
// pictures. Memberships and queue entries cascade.
func (s *PostgresStore) DeleteRows(ctx context.Context, seqIDs, picIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if len(picIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM pictures WHERE id = ANY($1)`, picIDs); err != nil {
			return fmt.Errorf("delete pictures: %w", err)
		}
	}
	if len(seqIDs) > 0 {
		if _, err := tx.Exec(ctx, `DELETE FROM sequences WHERE id = ANY($1)`, seqIDs); err != nil {
			return fmt.Errorf("delete sequences: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// DeleteAllRows wipes every table, for a full cleanup.
func (s *PostgresStore) DeleteAllRows(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`TRUNCATE sequences, pictures, sequences_pictures, pictures_to_process`)
	if err != nil {
		return fmt.Errorf("truncate tables: %w", err)
	}
	return nil
}
