package storage

import (
	"context"
	"errors"
	"net/url"
	"path"
	"strings"
)

var (
	ErrNotFound = errors.New("storage: key not found")
	ErrExists   = errors.New("storage: key already exists")
)

// Kind names a storage backend.
type Kind string

const (
	KindLocal Kind = "local"
	KindMinio Kind = "minio"
)

// Store is the durable storage capability behind component bundles. Keys
// are slash separated; a bundle lives under "name/version".
type Store interface {
	// Save commits every file below localDir under the key prefix.
	Save(ctx context.Context, localDir, key string) error
	Get(ctx context.Context, key string) ([]byte, error)
	URL(key string) *url.URL
	// Remove deletes everything under the key prefix.
	Remove(ctx context.Context, key string) error
	Kind() Kind
}

// Pinger is implemented by stores that can report readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CleanKey normalises key and rejects keys escaping the store root.
func CleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", errors.New("storage: key is required")
	}
	if strings.Contains(key, `\`) {
		return "", errors.New("storage: key must use forward slashes")
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", errors.New("storage: key escapes root")
		}
	}
	cleaned := strings.TrimPrefix(path.Clean("/"+key), "/")
	if cleaned == "" {
		return "", errors.New("storage: key is required")
	}
	return cleaned, nil
}
