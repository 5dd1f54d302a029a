package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/your-org/streetpano/internal/models"
)

// Work is one locked queue entry. The row lock is held by the embedded
// transaction until Complete or Fail is called, so a crashed worker
// releases the picture back to the queue automatically.
type Work struct {
	PictureID uuid.UUID
	Task      models.ProcessTask

	tx pgx.Tx
}

// LockNextWork grabs the highest-priority queue entry with SKIP LOCKED so
// concurrent workers never pick the same picture. Pictures that already
// failed are tried after fresh ones, and pictures mid-preparation (a
// previous worker died) come before everything only within the same error
// count. Returns nil when the queue is empty.
func (s *PostgresStore) LockNextWork(ctx context.Context) (*Work, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}

	w := &Work{tx: tx}
	err = tx.QueryRow(ctx,
		`SELECT p.id, ptp.task
		 FROM pictures_to_process ptp
		 JOIN pictures p ON p.id = ptp.picture_id
		 ORDER BY p.nb_errors,
		          CASE
		              WHEN p.status IN ('waiting-for-process', 'waiting-for-delete') THEN 0
		              WHEN p.status LIKE 'preparing%' THEN 1
		              ELSE 2
		          END,
		          ptp.inserted_at
		 FOR UPDATE OF ptp SKIP LOCKED
		 LIMIT 1`,
	).Scan(&w.PictureID, &w.Task)
	if err != nil {
		tx.Rollback(ctx)
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("lock next work: %w", err)
	}
	return w, nil
}

// Complete removes the queue entry. For delete tasks the picture row goes
// with it, cascading the sequence membership.
func (w *Work) Complete(ctx context.Context) error {
	if _, err := w.tx.Exec(ctx,
		`DELETE FROM pictures_to_process WHERE picture_id = $1`, w.PictureID); err != nil {
		w.tx.Rollback(ctx)
		return fmt.Errorf("dequeue picture: %w", err)
	}
	if w.Task == models.TaskDelete {
		if _, err := w.tx.Exec(ctx,
			`DELETE FROM pictures WHERE id = $1`, w.PictureID); err != nil {
			w.tx.Rollback(ctx)
			return fmt.Errorf("delete picture row: %w", err)
		}
	}
	if err := w.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit work: %w", err)
	}
	return nil
}

// Fail records a processing failure. Recoverable failures keep the queue
// entry and push the picture back to waiting, bumping its error count so
// it yields to fresh uploads. Fatal failures mark the picture broken and
// drop the queue entry for good.
func (w *Work) Fail(ctx context.Context, cause error, recoverable bool) error {
	msg := cause.Error()
	if recoverable {
		waiting := models.StatusWaitingForProcess
		if w.Task == models.TaskDelete {
			waiting = models.StatusWaitingForDelete
		}
		if _, err := w.tx.Exec(ctx,
			`UPDATE pictures
			 SET status = $2, nb_errors = nb_errors + 1, process_error = $3
			 WHERE id = $1`,
			w.PictureID, waiting, msg); err != nil {
			w.tx.Rollback(ctx)
			return fmt.Errorf("record recoverable failure: %w", err)
		}
	} else {
		if _, err := w.tx.Exec(ctx,
			`UPDATE pictures
			 SET status = $2, nb_errors = nb_errors + 1, process_error = $3
			 WHERE id = $1`,
			w.PictureID, models.StatusBroken, msg); err != nil {
			w.tx.Rollback(ctx)
			return fmt.Errorf("record fatal failure: %w", err)
		}
		if _, err := w.tx.Exec(ctx,
			`DELETE FROM pictures_to_process WHERE picture_id = $1`, w.PictureID); err != nil {
			w.tx.Rollback(ctx)
			return fmt.Errorf("drop broken picture from queue: %w", err)
		}
	}
	if err := w.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit failure: %w", err)
	}
	return nil
}

// Release rolls the transaction back without touching the rows, putting
// the entry straight back in the queue. Used on shutdown.
func (w *Work) Release(ctx context.Context) {
	w.tx.Rollback(ctx)
}
