// Package app wires the AutoTable service together and manages its lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	grpcapi "github.com/autotable/autotable/internal/api/grpc"
	httpapi "github.com/autotable/autotable/internal/api/http"
	"github.com/autotable/autotable/internal/backup"
	"github.com/autotable/autotable/internal/config"
	"github.com/autotable/autotable/internal/engine"
	"github.com/autotable/autotable/internal/server"
	"github.com/autotable/autotable/internal/storage"
	"github.com/autotable/autotable/internal/store/sqlite"
	"google.golang.org/grpc"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "autotable"

// App owns the store, the write engine, the API servers and the snapshot
// daemon.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	store    *sqlite.Executor
	engine   *engine.Engine
	objects  storage.ObjectStorage
	daemon   *backup.Daemon
	shutdown *server.ShutdownManager

	httpServer   *http.Server
	httpListener net.Listener
	grpcServer   *grpc.Server
	grpcListener net.Listener

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates cfg and prepares its directories.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("failed to create directories: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &App{cfg: cfg, logger: logger}, nil
}

// OpenStore opens the SQLite store described by cfg.
func OpenStore(cfg *config.Config) (*sqlite.Executor, error) {
	return sqlite.Open(sqlite.Config{
		Path:         cfg.StorePath(),
		Namespace:    cfg.Store.Namespace,
		BusyTimeout:  cfg.Store.BusyTimeout,
		MaxOpenConns: cfg.Store.MaxOpenConns,
	})
}

// OpenStorage opens the snapshot object storage described by cfg.
func OpenStorage(ctx context.Context, cfg *config.Config) (storage.ObjectStorage, error) {
	switch cfg.Storage.Type {
	case "local":
		return storage.NewLocalStorage(cfg.Storage.Path)
	case "s3":
		s3Cfg := storage.DefaultS3Config()
		if cfg.Storage.S3.Region != "" {
			s3Cfg.Region = cfg.Storage.S3.Region
		}
		s3Cfg.Endpoint = cfg.Storage.S3.Endpoint
		s3Cfg.UsePathStyle = cfg.Storage.S3.UsePathStyle
		s3Cfg.StorageClass = cfg.Storage.S3.StorageClass
		s3Cfg.ServerSideEncryption = cfg.Storage.S3.ServerSideEncryption
		return storage.NewS3Storage(ctx, cfg.Storage.S3.Bucket, s3Cfg)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}
}

// SnapshotConfig derives the snapshotter configuration from cfg.
func SnapshotConfig(cfg *config.Config) backup.Config {
	return backup.Config{
		Prefix:    cfg.Backup.Prefix,
		WorkDir:   cfg.Backup.WorkDir,
		Retention: cfg.Backup.Retention,
	}
}

// Start opens the store and starts every configured service.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("app is already running")
	}
	a.running = true
	a.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.initCore(ctx); err != nil {
		a.cleanup()
		return err
	}
	if err := a.startBackups(ctx); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start snapshot daemon: %w", err)
	}
	if err := a.startHTTP(); err != nil {
		a.cleanup()
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if a.cfg.GRPC.Enabled {
		if err := a.startGRPC(); err != nil {
			a.cleanup()
			return fmt.Errorf("failed to start gRPC server: %w", err)
		}
	}
	a.registerClosers()

	a.logger.Info("autotable started",
		"store", a.store.Path(),
		"namespace", a.store.Namespace(),
		"strict_update", a.cfg.Engine.StrictUpdate,
		"backups", a.daemon != nil)
	return nil
}

func (a *App) initCore(ctx context.Context) error {
	st, err := OpenStore(a.cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	a.store = st

	a.engine = engine.New(st,
		engine.WithStrictUpdate(a.cfg.Engine.StrictUpdate),
		engine.WithLogger(a.logger.With("component", "engine")))

	if a.cfg.Engine.WarmOnStart {
		if _, err := a.engine.Warm(ctx); err != nil {
			return fmt.Errorf("failed to warm schema catalog: %w", err)
		}
	}

	if window := a.cfg.Engine.StatsWindow; window > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.engine.Stats().RunPruner(ctx, window, pruneInterval(window))
		}()
	}

	a.shutdown = server.NewShutdownManager(server.ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
		Logger:          a.logger.With("component", "shutdown"),
	})
	return nil
}

// pruneInterval checks four times per window, at most once a second.
func pruneInterval(window time.Duration) time.Duration {
	return max(window/4, time.Second)
}

func (a *App) startBackups(ctx context.Context) error {
	if !a.cfg.Backup.Enabled {
		return nil
	}
	objects, err := OpenStorage(ctx, a.cfg)
	if err != nil {
		return err
	}
	a.objects = objects

	logger := a.logger.With("component", "backup")
	snap := backup.NewSnapshotter(a.store, objects, SnapshotConfig(a.cfg), logger)
	a.daemon = backup.NewDaemon(snap, a.cfg.Backup.Interval, logger)
	if err := a.daemon.Start(ctx); err != nil {
		a.daemon = nil
		return err
	}
	a.logger.Info("snapshot daemon started",
		"storage", a.cfg.Storage.Type,
		"interval", a.cfg.Backup.Interval,
		"retention", a.cfg.Backup.Retention)
	return nil
}

func (a *App) startHTTP() error {
	var trigger httpapi.SnapshotTrigger
	if a.daemon != nil {
		trigger = a.daemon
	}

	logger := a.logger.With("component", "http")
	mux := httpapi.NewRouter(httpapi.RouterConfig{
		Service:   ServiceName,
		Namespace: a.engine.Namespace(),
		Writer:    a.engine,
		Catalog:   a.engine.Catalog(),
		Stats:     a.engine.Stats(),
		Snapshots: trigger,
		Logger:    logger,
		Middleware: httpapi.ChainMiddleware(
			server.ShutdownMiddleware(a.shutdown),
			httpapi.RateLimitMiddleware(a.cfg.HTTP.RateLimit, a.cfg.HTTP.RateBurst),
			httpapi.RequestIDMiddleware,
			httpapi.AccessLogMiddleware(logger),
			httpapi.RecoveryMiddleware(logger),
			httpapi.CorrelationIDMiddleware,
			httpapi.ContentTypeMiddleware,
		),
	})

	lis, err := net.Listen("tcp", a.cfg.HTTP.Addr)
	if err != nil {
		return err
	}
	a.httpListener = lis
	a.httpServer = &http.Server{
		Handler:      mux,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
		IdleTimeout:  a.cfg.HTTP.IdleTimeout,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info("HTTP server listening", "addr", lis.Addr().String())
		if err := a.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "err", err)
		}
	}()
	return nil
}

func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", a.cfg.GRPC.Addr)
	if err != nil {
		return err
	}
	a.grpcListener = lis

	logger := a.logger.With("component", "grpc")
	a.grpcServer = grpc.NewServer()
	grpcapi.NewEntryServer(a.engine, logger).Register(a.grpcServer)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		logger.Info("gRPC server listening", "addr", lis.Addr().String())
		if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Error("gRPC server error", "err", err)
		}
	}()
	return nil
}

// HTTPAddr returns the bound HTTP address, or "" before Start.
func (a *App) HTTPAddr() string {
	if a.httpListener == nil {
		return ""
	}
	return a.httpListener.Addr().String()
}

// GRPCAddr returns the bound gRPC address, or "" when gRPC is disabled.
func (a *App) GRPCAddr() string {
	if a.grpcListener == nil {
		return ""
	}
	return a.grpcListener.Addr().String()
}

// Engine returns the write engine.
func (a *App) Engine() *engine.Engine {
	return a.engine
}

// Stop drains requests and stops every service, closing the store last.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	a.mu.Unlock()

	a.logger.Info("stopping autotable")
	err := a.shutdown.Shutdown(ctx, "stop requested")

	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, ctx.Err())
	}
	return err
}

// WaitForShutdown blocks until a termination signal or ctx cancellation,
// then stops the app.
func (a *App) WaitForShutdown(ctx context.Context) error {
	return a.shutdown.ListenForSignals(ctx)
}

// registerClosers is called once every component is up; the shutdown
// manager closes them in reverse order.
func (a *App) registerClosers() {
	a.shutdown.RegisterCloser("store", a.store)
	if a.daemon != nil {
		a.shutdown.RegisterCloser("snapshot daemon", a.daemon)
	}
	if a.grpcServer != nil {
		a.shutdown.RegisterCloser("grpc server", server.CloserFunc(func() error {
			a.grpcServer.GracefulStop()
			return nil
		}))
	}
	a.shutdown.RegisterCloser("http server", server.HTTPServerCloser(a.httpServer, 10*time.Second))
}

// cleanup releases whatever Start managed to open before failing.
func (a *App) cleanup() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.httpServer != nil {
		a.httpServer.Close()
	}
	if a.grpcServer != nil {
		a.grpcServer.Stop()
	}
	if a.daemon != nil {
		a.daemon.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	a.wg.Wait()

	a.mu.Lock()
	a.running = false
	a.mu.Unlock()
}
