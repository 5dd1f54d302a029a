package objstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/your-org/streetpano/internal/config"
)

// ErrNotFound is returned by Read when no object exists at the given path.
var ErrNotFound = errors.New("object not found")

// ObjectStore is a single addressable blob namespace. Paths are logical,
// slash-separated and rooted ("/ab/cd/...jpg"). Writes overwrite atomically
// at single-object granularity and deleting a missing object is a no-op.
type ObjectStore interface {
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
	// List returns the paths of all objects under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) error
	// DeleteTree removes every object under the given prefix.
	DeleteTree(ctx context.Context, prefix string) error
}

// Filesystems bundles the three logical namespaces used by the pipeline.
type Filesystems struct {
	Permanent ObjectStore
	Derivates ObjectStore
	Tmp       ObjectStore
}

// Open builds the namespace bundle from config.
func Open(cfg config.StorageConfig) (*Filesystems, error) {
	switch cfg.Backend {
	case "minio":
		client, err := newMinIOClient(cfg.MinIO)
		if err != nil {
			return nil, err
		}
		return &Filesystems{
			Permanent: &MinIOStore{client: client, bucket: cfg.MinIO.PermanentBucket},
			Derivates: &MinIOStore{client: client, bucket: cfg.MinIO.DerivatesBucket},
			Tmp:       &MinIOStore{client: client, bucket: cfg.MinIO.TmpBucket},
		}, nil
	case "fs":
		if cfg.Root == "" {
			return nil, fmt.Errorf("storage root is required for the fs backend")
		}
		return &Filesystems{
			Permanent: NewLocalStore(cfg.Root + "/permanent"),
			Derivates: NewLocalStore(cfg.Root + "/derivates"),
			Tmp:       NewLocalStore(cfg.Root + "/tmp"),
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// Move transfers an object between namespaces as write-then-delete. On a
// failed source delete the partial destination is cleaned up so a retry
// starts from a consistent state.
func Move(ctx context.Context, src ObjectStore, srcPath string, dst ObjectStore, dstPath string) error {
	data, err := src.Read(ctx, srcPath)
	if err != nil {
		return fmt.Errorf("read %s: %w", srcPath, err)
	}
	if err := dst.Write(ctx, dstPath, data); err != nil {
		return fmt.Errorf("write %s: %w", dstPath, err)
	}
	if err := src.Delete(ctx, srcPath); err != nil {
		_ = dst.Delete(ctx, dstPath)
		return fmt.Errorf("delete %s after move: %w", srcPath, err)
	}
	return nil
}
