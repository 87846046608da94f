package repo

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// Component is the metadata database record of a committed bundle.
type Component struct {
	Name        string
	Version     string
	ClientSize  *int64
	ServerSize  *int64
	Serialized  bool
	PublishedAt time.Time
}

type ComponentRepository interface {
	VersionExists(ctx context.Context, name, version string) (bool, error)
	// InsertComponent returns ErrAlreadyExists when name/version is taken.
	InsertComponent(ctx context.Context, c Component) error
	GetComponentVersions(ctx context.Context, name string) ([]string, error)
	GetComponent(ctx context.Context, name, version string) (Component, error)
}
