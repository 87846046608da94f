package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/animus-labs/mikro-registry/internal/platform/env"
	"github.com/animus-labs/mikro-registry/internal/storage"
)

const (
	databasePostgres = "postgres"
	databaseSQLite   = "sqlite"
)

// settings are the process level options read from the environment.
type settings struct {
	LogLevel       slog.Level
	ConfigFile     string
	Database       string
	SQLitePath     string
	AutoMigrate    bool
	StorageBackend storage.Kind
	StorageDir     string
	ScratchDir     string
	CacheSize      int
	PublicBaseURL  string
	UploadMaxMiB   int
	WasmMemoryMiB  int
}

func settingsFromEnv() (settings, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(env.String("REGISTRY_LOG_LEVEL", "info"))); err != nil {
		return settings{}, fmt.Errorf("REGISTRY_LOG_LEVEL: %w", err)
	}
	autoMigrate, err := env.Bool("REGISTRY_AUTO_MIGRATE", true)
	if err != nil {
		return settings{}, err
	}
	cacheSize, err := env.Int("REGISTRY_CACHE_SIZE", 500)
	if err != nil {
		return settings{}, err
	}
	uploadMaxMiB, err := env.Int("REGISTRY_UPLOAD_MAX_MIB", 64)
	if err != nil {
		return settings{}, err
	}
	wasmMemoryMiB, err := env.Int("REGISTRY_WASM_MEMORY_MIB", 64)
	if err != nil {
		return settings{}, err
	}

	s := settings{
		LogLevel:       level,
		ConfigFile:     env.String("REGISTRY_CONFIG_FILE", ""),
		Database:       strings.ToLower(env.String("REGISTRY_DATABASE", databasePostgres)),
		SQLitePath:     env.String("REGISTRY_SQLITE_PATH", "./data/registry.db"),
		AutoMigrate:    autoMigrate,
		StorageBackend: storage.Kind(strings.ToLower(env.String("REGISTRY_STORAGE_BACKEND", string(storage.KindLocal)))),
		StorageDir:     env.String("REGISTRY_STORAGE_DIR", "./data/components"),
		ScratchDir:     env.String("REGISTRY_SCRATCH_DIR", "./data/uploads"),
		CacheSize:      cacheSize,
		PublicBaseURL:  env.String("REGISTRY_PUBLIC_BASE_URL", ""),
		UploadMaxMiB:   uploadMaxMiB,
		WasmMemoryMiB:  wasmMemoryMiB,
	}
	return s, s.Validate()
}

func (s settings) Validate() error {
	switch s.Database {
	case databasePostgres:
	case databaseSQLite:
		if strings.TrimSpace(s.SQLitePath) == "" {
			return errors.New("REGISTRY_SQLITE_PATH is required when REGISTRY_DATABASE=sqlite")
		}
	default:
		return fmt.Errorf("REGISTRY_DATABASE must be one of: postgres, sqlite (got %q)", s.Database)
	}
	switch s.StorageBackend {
	case storage.KindLocal:
		if strings.TrimSpace(s.StorageDir) == "" {
			return errors.New("REGISTRY_STORAGE_DIR is required when REGISTRY_STORAGE_BACKEND=local")
		}
	case storage.KindMinio:
	default:
		return fmt.Errorf("REGISTRY_STORAGE_BACKEND must be one of: local, minio (got %q)", s.StorageBackend)
	}
	if strings.TrimSpace(s.ScratchDir) == "" {
		return errors.New("REGISTRY_SCRATCH_DIR is required")
	}
	if s.CacheSize < 1 {
		return errors.New("REGISTRY_CACHE_SIZE must be >= 1")
	}
	if s.UploadMaxMiB < 1 {
		return errors.New("REGISTRY_UPLOAD_MAX_MIB must be >= 1")
	}
	if s.WasmMemoryMiB < 1 {
		return errors.New("REGISTRY_WASM_MEMORY_MIB must be >= 1")
	}
	if s.PublicBaseURL != "" {
		u, err := url.Parse(s.PublicBaseURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("REGISTRY_PUBLIC_BASE_URL must be an absolute URL (got %q)", s.PublicBaseURL)
		}
	}
	return nil
}
