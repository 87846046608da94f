// Package objectstore keeps component bundles in an S3 compatible bucket.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"golang.org/x/sync/errgroup"

	platformstore "github.com/animus-labs/mikro-registry/internal/platform/objectstore"
	"github.com/animus-labs/mikro-registry/internal/storage"
)

const (
	rollbackTimeout = 30 * time.Second
	// commitMarker is uploaded after the rest of a bundle.
	commitMarker = "package.json"
)

type Store struct {
	client      *minio.Client
	bucket      string
	publicBase  *url.URL
	concurrency int
	logger      *slog.Logger
}

func New(cfg platformstore.Config, logger *slog.Logger) (*Store, error) {
	client, err := platformstore.NewMinIOClient(cfg)
	if err != nil {
		return nil, err
	}
	return NewWithClient(client, cfg, logger)
}

func NewWithClient(client *minio.Client, cfg platformstore.Config, logger *slog.Logger) (*Store, error) {
	if client == nil {
		return nil, errors.New("minio client is required")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Store{
		client:      client,
		bucket:      cfg.Bucket,
		concurrency: cfg.UploadConcurrency,
		logger:      logger,
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	if cfg.PublicBaseURL != "" {
		u, err := url.Parse(cfg.PublicBaseURL)
		if err != nil {
			return nil, fmt.Errorf("parse public base url: %w", err)
		}
		s.publicBase = u
	}
	return s, nil
}

func (s *Store) Kind() storage.Kind {
	return storage.KindMinio
}

// Save uploads every regular file below localDir. Objects are written only
// if absent and the descriptor goes last, so a bundle becomes readable once
// complete and a concurrent writer for the same key fails with
// storage.ErrExists instead of overwriting it. On failure only the objects
// this call created are removed.
func (s *Store) Save(ctx context.Context, localDir, key string) error {
	if s == nil || s.client == nil {
		return errors.New("minio store not initialized")
	}
	prefix, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	exists, err := s.hasPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", storage.ErrExists, key)
	}

	files, err := listFiles(localDir)
	if err != nil {
		return fmt.Errorf("list %s: %w", localDir, err)
	}
	var (
		body   []string
		marker bool
	)
	for _, rel := range files {
		if rel == commitMarker {
			marker = true
			continue
		}
		body = append(body, rel)
	}

	var (
		mu       sync.Mutex
		uploaded []string
	)
	upload := func(ctx context.Context, rel string) error {
		objectKey := path.Join(prefix, rel)
		if err := s.put(ctx, filepath.Join(localDir, filepath.FromSlash(rel)), objectKey); err != nil {
			return fmt.Errorf("upload %s: %w", objectKey, err)
		}
		mu.Lock()
		uploaded = append(uploaded, objectKey)
		mu.Unlock()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, rel := range body {
		g.Go(func() error { return upload(gctx, rel) })
	}
	err = g.Wait()
	if err == nil && marker {
		err = upload(ctx, commitMarker)
	}
	if err != nil {
		s.rollback(context.WithoutCancel(ctx), uploaded)
		return err
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, errors.New("minio store not initialized")
	}
	objectKey, err := storage.CleanKey(key)
	if err != nil {
		return nil, err
	}
	obj, err := s.client.GetObject(ctx, s.bucket, objectKey, minio.GetObjectOptions{})
	if err != nil {
		return nil, mapError(err, key)
	}
	defer obj.Close()

	body, err := io.ReadAll(obj)
	if err != nil {
		return nil, mapError(err, key)
	}
	return body, nil
}

func (s *Store) URL(key string) *url.URL {
	objectKey, err := storage.CleanKey(key)
	if err != nil {
		objectKey = strings.TrimPrefix(key, "/")
	}
	if s.publicBase != nil {
		return s.publicBase.JoinPath(objectKey)
	}
	return s.client.EndpointURL().JoinPath(s.bucket, objectKey)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return errors.New("minio store not initialized")
	}
	prefix, err := storage.CleanKey(key)
	if err != nil {
		return err
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix + "/", Recursive: true}) {
		if obj.Err != nil {
			return fmt.Errorf("list %s: %w", key, obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	var errs []error
	for _, k := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", k, err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.client == nil {
		return errors.New("minio store not initialized")
	}
	return platformstore.CheckBucket(ctx, s.client, s.bucket)
}

func (s *Store) put(ctx context.Context, localPath, objectKey string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}
	opts := minio.PutObjectOptions{ContentType: contentType(objectKey)}
	opts.SetMatchETagExcept("*")
	if _, err := s.client.PutObject(ctx, s.bucket, objectKey, f, info.Size(), opts); err != nil {
		return mapPutError(err, objectKey)
	}
	return nil
}

func (s *Store) hasPrefix(ctx context.Context, prefix string) (bool, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix + "/", Recursive: true, MaxKeys: 1}) {
		if obj.Err != nil {
			return false, fmt.Errorf("list %s: %w", prefix, obj.Err)
		}
		return true, nil
	}
	return false, nil
}

func (s *Store) rollback(ctx context.Context, keys []string) {
	ctx, cancel := context.WithTimeout(ctx, rollbackTimeout)
	defer cancel()
	for _, k := range keys {
		if err := s.client.RemoveObject(ctx, s.bucket, k, minio.RemoveObjectOptions{}); err != nil {
			s.logger.Error("rollback upload failed", "bucket", s.bucket, "key", k, "error", err)
		}
	}
}

func mapPutError(err error, key string) error {
	switch minio.ToErrorResponse(err).Code {
	case "PreconditionFailed", "ConditionalRequestConflict":
		return fmt.Errorf("%w: %s", storage.ErrExists, key)
	}
	return err
}

func mapError(err error, key string) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, key)
	}
	return err
}

// listFiles returns the slash separated paths of regular files below dir.
func listFiles(dir string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	return out, err
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
