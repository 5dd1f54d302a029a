package objstore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// LocalStore is a namespace backed by a directory tree. Writes go through a
// temp file and rename so readers never observe partial objects. Empty
// parent directories are pruned on delete to mirror the on-disk layout of
// the permanent and derivates trees.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) *LocalStore {
	return &LocalStore{root: root}
}

func (s *LocalStore) abs(path string) string {
	return filepath.Join(s.root, filepath.FromSlash(strings.TrimPrefix(path, "/")))
}

func (s *LocalStore) Read(_ context.Context, path string) ([]byte, error) {
	data, err := os.ReadFile(s.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *LocalStore) Write(_ context.Context, path string, data []byte) error {
	target := s.abs(path)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(target), ".write-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}

func (s *LocalStore) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(s.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (s *LocalStore) List(_ context.Context, prefix string) ([]string, error) {
	var paths []string
	base := s.abs(prefix)
	err := filepath.WalkDir(base, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, "/"+filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *LocalStore) Delete(_ context.Context, path string) error {
	err := os.Remove(s.abs(path))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	s.pruneEmptyParents(filepath.Dir(s.abs(path)))
	return nil
}

func (s *LocalStore) DeleteTree(_ context.Context, prefix string) error {
	target := s.abs(prefix)
	if target == filepath.Clean(s.root) {
		// wiping the whole namespace keeps the root itself
		entries, err := os.ReadDir(target)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(target, e.Name())); err != nil {
				return err
			}
		}
		return nil
	}
	if err := os.RemoveAll(target); err != nil {
		return err
	}
	s.pruneEmptyParents(filepath.Dir(target))
	return nil
}

func (s *LocalStore) pruneEmptyParents(dir string) {
	root := filepath.Clean(s.root)
	for dir != root && strings.HasPrefix(dir, root) {
		entries, err := os.ReadDir(dir)
		if err != nil || len(entries) > 0 {
			return
		}
		if err := os.Remove(dir); err != nil {
			return
		}
		dir = filepath.Dir(dir)
	}
}
