// Package sqlite keeps component metadata in a single SQLite file for
// single-node deployments and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/animus-labs/mikro-registry/internal/repo"
)

//go:embed schema.sql
var schema string

// Open opens (creating if needed) the database at path and applies the
// schema.
func Open(ctx context.Context, path string) (*sql.DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	q := url.Values{}
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(wal)")
	db, err := sql.Open("sqlite3", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return db, nil
}

type ComponentStore struct {
	db *sql.DB
}

var _ repo.ComponentRepository = (*ComponentStore)(nil)

func NewComponentStore(db *sql.DB) *ComponentStore {
	if db == nil {
		return nil
	}
	return &ComponentStore{db: db}
}

func (s *ComponentStore) VersionExists(ctx context.Context, name, version string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("component store not initialized")
	}
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM components WHERE name = ? AND version = ?`,
		strings.TrimSpace(name), strings.TrimSpace(version),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("version exists: %w", err)
	}
	return n > 0, nil
}

func (s *ComponentStore) InsertComponent(ctx context.Context, c repo.Component) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("component store not initialized")
	}
	name := strings.TrimSpace(c.Name)
	version := strings.TrimSpace(c.Version)
	if name == "" || version == "" {
		return fmt.Errorf("component name and version are required")
	}
	publishedAt := c.PublishedAt
	if publishedAt.IsZero() {
		publishedAt = time.Now()
	}
	serialized := 0
	if c.Serialized {
		serialized = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO components (name, version, client_size, server_size, serialized, published_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		name, version, nullInt64(c.ClientSize), nullInt64(c.ServerSize), serialized, publishedAt.UTC().UnixMilli(),
	)
	if err != nil {
		if errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) || errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) {
			return repo.ErrAlreadyExists
		}
		return fmt.Errorf("insert component: %w", err)
	}
	return nil
}

func (s *ComponentStore) GetComponentVersions(ctx context.Context, name string) ([]string, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("component store not initialized")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT version FROM components WHERE name = ? ORDER BY published_at ASC`,
		strings.TrimSpace(name),
	)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return out, nil
}

func (s *ComponentStore) GetComponent(ctx context.Context, name, version string) (repo.Component, error) {
	if s == nil || s.db == nil {
		return repo.Component{}, fmt.Errorf("component store not initialized")
	}
	var (
		c           repo.Component
		clientSize  sql.NullInt64
		serverSize  sql.NullInt64
		serialized  int64
		publishedAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, version, client_size, server_size, serialized, published_at
		 FROM components WHERE name = ? AND version = ?`,
		strings.TrimSpace(name), strings.TrimSpace(version),
	).Scan(&c.Name, &c.Version, &clientSize, &serverSize, &serialized, &publishedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return repo.Component{}, repo.ErrNotFound
		}
		return repo.Component{}, err
	}
	if clientSize.Valid {
		v := clientSize.Int64
		c.ClientSize = &v
	}
	if serverSize.Valid {
		v := serverSize.Int64
		c.ServerSize = &v
	}
	c.Serialized = serialized != 0
	c.PublishedAt = time.UnixMilli(publishedAt).UTC()
	return c, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
