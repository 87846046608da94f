// Package assets is the single access point to component bundles in
// durable storage. Parsed package descriptors are kept in a bounded LRU
// cache; committed bundles are immutable so a cached entry never goes
// stale.
package assets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/animus-labs/mikro-registry/internal/domain"
	"github.com/animus-labs/mikro-registry/internal/storage"
)

const (
	DefaultCacheSize = 500

	PackageFile  = "package.json"
	TemplateFile = "template.js"
	ServerFile   = "server.wasm"
)

type Options struct {
	CacheSize int
}

type Repository struct {
	store storage.Store
	cache *lru.Cache[string, domain.Package]
}

func New(store storage.Store, opts Options) (*Repository, error) {
	if store == nil {
		return nil, errors.New("asset store is required")
	}
	size := opts.CacheSize
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[string, domain.Package](size)
	if err != nil {
		return nil, fmt.Errorf("create package cache: %w", err)
	}
	return &Repository{store: store, cache: cache}, nil
}

// PackageJSON returns the descriptor of name@version, reading through the
// cache. Two concurrent misses for the same key both parse the same bytes,
// so the last write is as good as the first.
func (r *Repository) PackageJSON(ctx context.Context, name, version string) (domain.Package, error) {
	key := domain.Key(name, version)
	if pkg, ok := r.cache.Get(key); ok {
		return pkg, nil
	}

	raw, err := r.store.Get(ctx, path.Join(key, PackageFile))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.Package{}, fmt.Errorf("%w: %s", domain.ErrComponentNotFound, key)
		}
		return domain.Package{}, fmt.Errorf("read %s descriptor: %w", key, err)
	}
	var pkg domain.Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return domain.Package{}, fmt.Errorf("parse %s descriptor: %w", key, err)
	}
	r.cache.Add(key, pkg)
	return pkg, nil
}

func (r *Repository) Template(ctx context.Context, name, version string) ([]byte, error) {
	return r.get(ctx, domain.Key(name, version), TemplateFile)
}

// File returns a static file of the bundle. filePath is relative to the
// bundle root.
func (r *Repository) File(ctx context.Context, name, version, filePath string) ([]byte, error) {
	rel, err := storage.CleanKey(filePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageNotFound, err)
	}
	return r.get(ctx, domain.Key(name, version), rel)
}

func (r *Repository) Server(ctx context.Context, name, version string) ([]byte, error) {
	return r.get(ctx, domain.Key(name, version), ServerFile)
}

func (r *Repository) TemplateURL(name, version string) *url.URL {
	return r.store.URL(path.Join(domain.Key(name, version), TemplateFile))
}

// IsLocal reports whether u cannot be handed to clients and its bytes
// must be proxied through the registry instead.
func IsLocal(u *url.URL) bool {
	return u != nil && u.Scheme == "file"
}

// SaveComponent commits scratchDir under the key named by its descriptor.
// Uniqueness is enforced by the caller against the metadata database.
func (r *Repository) SaveComponent(ctx context.Context, scratchDir string) (domain.Package, error) {
	raw, err := os.ReadFile(filepath.Join(scratchDir, PackageFile))
	if err != nil {
		return domain.Package{}, fmt.Errorf("read scratch descriptor: %w", err)
	}
	var pkg domain.Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return domain.Package{}, fmt.Errorf("parse scratch descriptor: %w", err)
	}
	if pkg.Name == "" || pkg.Version == "" {
		return domain.Package{}, errors.New("scratch descriptor is missing name or version")
	}
	if err := r.store.Save(ctx, scratchDir, pkg.Key()); err != nil {
		if errors.Is(err, storage.ErrExists) {
			return domain.Package{}, fmt.Errorf("%w: %s", domain.ErrVersionAlreadyExists, pkg.Key())
		}
		return domain.Package{}, fmt.Errorf("save %s: %w", pkg.Key(), err)
	}
	return pkg, nil
}

// RemoveComponent deletes a bundle whose database record could not be
// written.
func (r *Repository) RemoveComponent(ctx context.Context, name, version string) error {
	key := domain.Key(name, version)
	r.cache.Remove(key)
	if err := r.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("remove %s: %w", key, err)
	}
	return nil
}

func (r *Repository) StorageKind() storage.Kind {
	return r.store.Kind()
}

// Ping checks the backing store when it supports readiness probes.
func (r *Repository) Ping(ctx context.Context) error {
	if p, ok := r.store.(storage.Pinger); ok {
		return p.Ping(ctx)
	}
	return nil
}

func (r *Repository) CacheLen() int {
	return r.cache.Len()
}

func (r *Repository) get(ctx context.Context, key, file string) ([]byte, error) {
	body, err := r.store.Get(ctx, path.Join(key, file))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", domain.ErrStorageNotFound, key, file)
		}
		return nil, err
	}
	return body, nil
}
