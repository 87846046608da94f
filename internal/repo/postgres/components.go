package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/repo"
)

type ComponentStore struct {
	db DB
}

var _ repo.ComponentRepository = (*ComponentStore)(nil)

func NewComponentStore(db DB) *ComponentStore {
	if db == nil {
		return nil
	}
	return &ComponentStore{db: db}
}

func (s *ComponentStore) VersionExists(ctx context.Context, name, version string) (bool, error) {
	if s == nil || s.db == nil {
		return false, fmt.Errorf("component store not initialized")
	}
	var exists bool
	err := s.db.QueryRowContext(
		ctx,
		`SELECT EXISTS (SELECT 1 FROM components WHERE name = $1 AND version = $2)`,
		strings.TrimSpace(name),
		strings.TrimSpace(version),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("version exists: %w", err)
	}
	return exists, nil
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
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO components (name, version, client_size, server_size, serialized, published_at)
		 VALUES ($1,$2,$3,$4,$5,$6)`,
		name,
		version,
		nullInt64(c.ClientSize),
		nullInt64(c.ServerSize),
		c.Serialized,
		normalizeTime(c.PublishedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
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
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT version FROM components WHERE name = $1 ORDER BY published_at ASC`,
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
		c          repo.Component
		clientSize sql.NullInt64
		serverSize sql.NullInt64
	)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT name, version, client_size, server_size, serialized, published_at
		 FROM components
		 WHERE name = $1 AND version = $2`,
		strings.TrimSpace(name),
		strings.TrimSpace(version),
	)
	if err := row.Scan(&c.Name, &c.Version, &clientSize, &serverSize, &c.Serialized, &c.PublishedAt); err != nil {
		return repo.Component{}, handleNotFound(err)
	}
	c.ClientSize = fromNullInt64(clientSize)
	c.ServerSize = fromNullInt64(serverSize)
	c.PublishedAt = c.PublishedAt.UTC()
	return c, nil
}
