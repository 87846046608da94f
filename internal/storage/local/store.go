// Package local stores component bundles on the local filesystem.
package local

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/animus-labs/mikro-registry/internal/storage"
)

const stagingDir = ".staging"

type Store struct {
	root string
}

func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("local storage root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(abs, stagingDir), 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Store{root: abs}, nil
}

func (s *Store) Kind() storage.Kind {
	return storage.KindLocal
}

// Save copies localDir into a staging directory and renames it into place,
// so readers never observe a partially written bundle.
func (s *Store) Save(ctx context.Context, localDir, key string) error {
	if s == nil || s.root == "" {
		return errors.New("local store not initialized")
	}
	dest, err := s.path(key)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dest); err == nil {
		return fmt.Errorf("%w: %s", storage.ErrExists, key)
	}

	staging := filepath.Join(s.root, stagingDir, uuid.NewString())
	if err := copyTree(ctx, localDir, staging); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("stage %s: %w", key, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		_ = os.RemoveAll(staging)
		return fmt.Errorf("create %s: %w", key, err)
	}
	if err := os.Rename(staging, dest); err != nil {
		_ = os.RemoveAll(staging)
		if _, statErr := os.Stat(dest); statErr == nil {
			return fmt.Errorf("%w: %s", storage.ErrExists, key)
		}
		return fmt.Errorf("commit %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.root == "" {
		return nil, errors.New("local store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.path(key)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
		}
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return os.ReadFile(p)
}

func (s *Store) URL(key string) *url.URL {
	p, err := s.path(key)
	if err != nil {
		p = filepath.Join(s.root, filepath.FromSlash(key))
	}
	return &url.URL{Scheme: "file", Path: filepath.ToSlash(p)}
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if s == nil || s.root == "" {
		return errors.New("local store not initialized")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.path(key)
	if err != nil {
		return err
	}
	return os.RemoveAll(p)
}

func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := os.Stat(s.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("storage root %s is not a directory", s.root)
	}
	return nil
}

func (s *Store) path(key string) (string, error) {
	cleaned, err := storage.CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(s.root, filepath.FromSlash(cleaned)), nil
}

func copyTree(ctx context.Context, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(p, target)
		default:
			// Symlinks and devices never leave the scratch area.
			return nil
		}
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}
