// Package cleanup removes stored data by facet: database rows, cached
// derivates, original files. Used by the cleanup command after failed
// imports or to retire whole sequences.
package cleanup

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/your-org/streetpano/internal/objstore"
	"github.com/your-org/streetpano/internal/picture"
)

// Options selects what to clean. An empty sequence list targets the
// whole dataset.
type Options struct {
	Database  bool
	Cache     bool
	Original  bool
	Sequences []uuid.UUID
}

// All returns options with every facet enabled.
func All(sequences []uuid.UUID) Options {
	return Options{Database: true, Cache: true, Original: true, Sequences: sequences}
}

// Store is the database surface the cleaner needs.
type Store interface {
	PictureIDs(ctx context.Context, seqIDs []uuid.UUID) ([]uuid.UUID, error)
	DeleteRows(ctx context.Context, seqIDs, picIDs []uuid.UUID) error
	DeleteAllRows(ctx context.Context) error
}

type Cleaner struct {
	db Store
	fs *objstore.Filesystems
}

func New(db Store, fs *objstore.Filesystems) *Cleaner {
	return &Cleaner{db: db, fs: fs}
}

// Run applies the selected facets. File deletions are tolerant: a
// missing or undeletable file is logged and skipped so a partial
// previous run can be resumed. Database rows go last, since the picture
// list comes from them.
func (c *Cleaner) Run(ctx context.Context, opts Options) error {
	pics, err := c.db.PictureIDs(ctx, opts.Sequences)
	if err != nil {
		return err
	}
	slog.Info("cleanup starting", "pictures", len(pics),
		"database", opts.Database, "cache", opts.Cache, "original", opts.Original)

	if opts.Cache {
		for _, id := range pics {
			// The derivates directory also holds legacy blurring
			// intermediates (blurred.jpg, blur_mask.png) from older
			// deployments; the tree delete covers those too.
			if err := c.fs.Derivates.DeleteTree(ctx, picture.DirPath(id)); err != nil {
				slog.Warn("delete derivates", "error", err, "picture", id)
			}
			// The hd WebP cache lives beside the directory, not in it.
			if err := c.fs.Derivates.Delete(ctx, picture.HDWebPPath(id)); err != nil {
				slog.Warn("delete hd webp", "error", err, "picture", id)
			}
		}
	}

	if opts.Original {
		for _, id := range pics {
			hdPath := picture.HDPath(id)
			if err := c.fs.Permanent.Delete(ctx, hdPath); err != nil {
				slog.Warn("delete original", "error", err, "picture", id)
			}
			if err := c.fs.Tmp.Delete(ctx, hdPath); err != nil {
				slog.Warn("delete staged upload", "error", err, "picture", id)
			}
		}
	}

	if opts.Database {
		if len(opts.Sequences) == 0 {
			if err := c.db.DeleteAllRows(ctx); err != nil {
				return fmt.Errorf("delete database rows: %w", err)
			}
		} else if err := c.db.DeleteRows(ctx, opts.Sequences, pics); err != nil {
			return fmt.Errorf("delete database rows: %w", err)
		}
	}

	slog.Info("cleanup finished", "pictures", len(pics))
	return nil
}
