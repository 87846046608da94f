package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/animus-labs/mikro-registry/internal/assets"
	"github.com/animus-labs/mikro-registry/internal/config"
	"github.com/animus-labs/mikro-registry/internal/execution"
	"github.com/animus-labs/mikro-registry/internal/execution/wasm"
	"github.com/animus-labs/mikro-registry/internal/platform/auth"
	"github.com/animus-labs/mikro-registry/internal/platform/httpserver"
	platformstore "github.com/animus-labs/mikro-registry/internal/platform/objectstore"
	"github.com/animus-labs/mikro-registry/internal/platform/postgres"
	"github.com/animus-labs/mikro-registry/internal/platform/tracing"
	"github.com/animus-labs/mikro-registry/internal/repo"
	repopg "github.com/animus-labs/mikro-registry/internal/repo/postgres"
	"github.com/animus-labs/mikro-registry/internal/repo/sqlite"
	"github.com/animus-labs/mikro-registry/internal/service/registry"
	"github.com/animus-labs/mikro-registry/internal/storage"
	"github.com/animus-labs/mikro-registry/internal/storage/local"
	"github.com/animus-labs/mikro-registry/internal/storage/objectstore"
	"github.com/spf13/cobra"
)

const serviceName = "mikro-registry"

var version = "dev"

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "registry",
		Short:         "Serve, version-resolve and execute published micro-components",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the registry HTTP server (default)",
			RunE:  runServe,
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply metadata database migrations and exit",
			RunE:  runMigrate,
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the registry version",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintln(cmd.OutOrStdout(), version)
			},
		},
	)
	return root
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	logger := newLogger(slog.LevelInfo)
	s, err := settingsFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		return err
	}
	if s.Database != databasePostgres {
		logger.Info("sqlite schema is applied on open; nothing to migrate", "database", s.Database)
		return nil
	}
	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		return err
	}
	db, err := postgres.Open(cmd.Context(), dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		return err
	}
	defer func() { _ = db.Close() }()

	if err := repopg.Migrate(db); err != nil {
		logger.Error("migrations failed", "error", err)
		return err
	}
	ver, dirty, err := repopg.MigrationVersion(db)
	if err != nil {
		return err
	}
	logger.Info("migrations applied", "version", ver, "dirty", dirty)
	return nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	s, err := settingsFromEnv()
	if err != nil {
		newLogger(slog.LevelInfo).Error("invalid env", "error", err)
		return err
	}
	logger := newLogger(s.LogLevel)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tracingCfg, err := tracing.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid tracing config", "error", err)
		return err
	}
	tracer, err := tracing.NewProvider(ctx, tracingCfg)
	if err != nil {
		logger.Error("tracing init failed", "error", err)
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(shutdownCtx)
	}()

	opts, err := config.Load(s.ConfigFile)
	if err != nil {
		logger.Error("invalid options file", "path", s.ConfigFile, "error", err)
		return err
	}

	db, components, err := openDatabase(ctx, logger, s)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	store, err := openStorage(ctx, logger, s)
	if err != nil {
		return err
	}
	assetRepo, err := assets.New(store, assets.Options{CacheSize: s.CacheSize})
	if err != nil {
		logger.Error("asset repository init failed", "error", err)
		return err
	}

	loader, err := wasm.NewLoader(ctx, wasm.Config{MemoryLimitMiB: s.WasmMemoryMiB}, logger)
	if err != nil {
		logger.Error("wasm runtime init failed", "error", err)
		return err
	}
	defer func() { _ = loader.Close(context.WithoutCancel(ctx)) }()

	plugins := opts.BuildPlugins(nil)
	runner := execution.NewRunner(execution.Config{
		Timeout:      opts.Timeout(),
		Plugins:      plugins,
		Dependencies: opts.AvailableDependencies,
	}, logger)

	if err := os.MkdirAll(s.ScratchDir, 0o755); err != nil {
		logger.Error("scratch dir unavailable", "path", s.ScratchDir, "error", err)
		return err
	}
	svc, err := registry.NewService(components, assetRepo, runner, loader, registry.Config{
		ScratchDir: s.ScratchDir,
		Validator:  opts.PublishValidator(),
	}, logger)
	if err != nil {
		logger.Error("registry service init failed", "error", err)
		return err
	}

	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		return err
	}
	authn, err := auth.New(ctx, authCfg)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		return err
	}
	if authCfg.Mode == auth.ModeDisabled {
		logger.Warn("publish authentication is disabled")
	}
	publishAuth := auth.Middleware{
		Logger:        logger,
		Authenticator: authn,
		Realm:         authCfg.Realm,
		RequiredRole:  authCfg.RequiredRole,
	}.Wrap

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc("GET /readyz", httpserver.ReadyzWithChecks(serviceName,
		httpserver.ReadinessCheck{Name: s.Database, Check: db.PingContext},
		httpserver.ReadinessCheck{Name: string(assetRepo.StorageKind()), Check: assetRepo.Ping},
	))
	newRegistryAPI(logger, svc, s.PublicBaseURL, int64(s.UploadMaxMiB)<<20, publishAuth).register(mux)

	httpCfg, err := httpserver.ConfigFromEnv(serviceName)
	if err != nil {
		logger.Error("invalid http config", "error", err)
		return err
	}
	logger.Info("registry starting",
		"version", version,
		"database", s.Database,
		"storage", store.Kind(),
		"auth_mode", authCfg.Mode,
		"execution_timeout", runner.Timeout().String(),
		"plugins", plugins.Names(),
	)
	if err := httpserver.Run(ctx, logger, httpCfg, httpserver.Wrap(logger, serviceName, mux)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		return err
	}
	return nil
}

func openDatabase(ctx context.Context, logger *slog.Logger, s settings) (*sql.DB, repo.ComponentRepository, error) {
	if s.Database == databaseSQLite {
		db, err := sqlite.Open(ctx, s.SQLitePath)
		if err != nil {
			logger.Error("sqlite unavailable", "path", s.SQLitePath, "error", err)
			return nil, nil, err
		}
		return db, sqlite.NewComponentStore(db), nil
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		return nil, nil, err
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		return nil, nil, err
	}
	if s.AutoMigrate {
		if err := repopg.Migrate(db); err != nil {
			_ = db.Close()
			logger.Error("migrations failed", "error", err)
			return nil, nil, err
		}
	}
	return db, repopg.NewComponentStore(db), nil
}

func openStorage(ctx context.Context, logger *slog.Logger, s settings) (storage.Store, error) {
	if s.StorageBackend == storage.KindLocal {
		store, err := local.New(s.StorageDir)
		if err != nil {
			logger.Error("local storage unavailable", "path", s.StorageDir, "error", err)
			return nil, err
		}
		return store, nil
	}

	storeCfg, err := platformstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		return nil, err
	}
	client, err := platformstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		return nil, err
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := platformstore.EnsureBucket(startupCtx, client, storeCfg); err != nil {
		logger.Error("object store unavailable", "error", err)
		return nil, err
	}
	store, err := objectstore.NewWithClient(client, storeCfg, logger)
	if err != nil {
		logger.Error("object store init failed", "error", err)
		return nil, err
	}
	return store, nil
}
