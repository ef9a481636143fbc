// Package server coordinates graceful shutdown of the AutoTable service.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ShutdownManager tracks in-flight requests and closes registered
// resources in reverse registration order once shutdown begins.
type ShutdownManager struct {
	shutdownTimeout time.Duration
	drainTimeout    time.Duration
	logger          *slog.Logger

	shutdownCh     chan struct{}
	shutdownOnce   sync.Once
	shutdownErr    error
	inFlight       int64
	isShuttingDown int32

	closers   []namedCloser
	closersMu sync.Mutex
}

type namedCloser struct {
	name   string
	closer io.Closer
}

// ShutdownConfig holds configuration for the shutdown manager.
type ShutdownConfig struct {
	// ShutdownTimeout bounds the whole shutdown. Default: 30 seconds
	ShutdownTimeout time.Duration

	// DrainTimeout bounds the wait for in-flight requests. Default: 15 seconds
	DrainTimeout time.Duration

	Logger *slog.Logger
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() ShutdownConfig {
	return ShutdownConfig{
		ShutdownTimeout: 30 * time.Second,
		DrainTimeout:    15 * time.Second,
	}
}

// NewShutdownManager creates a shutdown manager.
func NewShutdownManager(config ShutdownConfig) *ShutdownManager {
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 30 * time.Second
	}
	if config.DrainTimeout == 0 {
		config.DrainTimeout = 15 * time.Second
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &ShutdownManager{
		shutdownTimeout: config.ShutdownTimeout,
		drainTimeout:    config.DrainTimeout,
		logger:          config.Logger,
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterCloser adds a named resource to close during shutdown.
// Closers run in reverse order of registration.
func (sm *ShutdownManager) RegisterCloser(name string, closer io.Closer) {
	sm.closersMu.Lock()
	defer sm.closersMu.Unlock()
	sm.closers = append(sm.closers, namedCloser{name: name, closer: closer})
}

// ListenForSignals blocks until SIGINT or SIGTERM, ctx cancellation or
// another caller starting shutdown, then shuts down.
func (sm *ShutdownManager) ListenForSignals(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		return sm.Shutdown(context.Background(), fmt.Sprintf("received signal: %v", sig))
	case <-ctx.Done():
		return sm.Shutdown(context.Background(), "context cancelled")
	case <-sm.shutdownCh:
		return nil
	}
}

// Shutdown stops accepting requests, waits for in-flight ones and closes
// every registered resource. Only the first call does any work; later
// calls return its result.
func (sm *ShutdownManager) Shutdown(ctx context.Context, reason string) error {
	sm.shutdownOnce.Do(func() {
		atomic.StoreInt32(&sm.isShuttingDown, 1)
		close(sm.shutdownCh)
		sm.logger.Info("shutdown started", "reason", reason)

		shutdownCtx, cancel := context.WithTimeout(ctx, sm.shutdownTimeout)
		defer cancel()

		var errs []error
		if err := sm.drainInFlight(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("drain failed: %w", err))
		}

		sm.closersMu.Lock()
		closers := append([]namedCloser(nil), sm.closers...)
		sm.closersMu.Unlock()

		for i := len(closers) - 1; i >= 0; i-- {
			c := closers[i]
			if err := c.closer.Close(); err != nil {
				sm.logger.Warn("close failed", "resource", c.name, "err", err)
				errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
				continue
			}
			sm.logger.Debug("closed", "resource", c.name)
		}

		sm.shutdownErr = errors.Join(errs...)
		sm.logger.Info("shutdown complete", "in_flight", sm.InFlightCount())
	})
	return sm.shutdownErr
}

func (sm *ShutdownManager) drainInFlight(ctx context.Context) error {
	drainCtx, cancel := context.WithTimeout(ctx, sm.drainTimeout)
	defer cancel()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		if atomic.LoadInt64(&sm.inFlight) == 0 {
			return nil
		}
		select {
		case <-drainCtx.Done():
			if remaining := atomic.LoadInt64(&sm.inFlight); remaining > 0 {
				return fmt.Errorf("timeout waiting for %d in-flight requests", remaining)
			}
			return nil
		case <-ticker.C:
		}
	}
}

// TrackRequest counts a request as in flight. It returns false once
// shutdown has begun.
func (sm *ShutdownManager) TrackRequest() bool {
	if atomic.LoadInt32(&sm.isShuttingDown) == 1 {
		return false
	}
	atomic.AddInt64(&sm.inFlight, 1)
	return true
}

// UntrackRequest marks a tracked request as finished.
func (sm *ShutdownManager) UntrackRequest() {
	atomic.AddInt64(&sm.inFlight, -1)
}

// IsShuttingDown reports whether shutdown has begun.
func (sm *ShutdownManager) IsShuttingDown() bool {
	return atomic.LoadInt32(&sm.isShuttingDown) == 1
}

// InFlightCount returns the number of tracked requests.
func (sm *ShutdownManager) InFlightCount() int64 {
	return atomic.LoadInt64(&sm.inFlight)
}

// ShutdownCh is closed when shutdown begins.
func (sm *ShutdownManager) ShutdownCh() <-chan struct{} {
	return sm.shutdownCh
}

// ShutdownMiddleware tracks in-flight requests and answers 503 once
// shutdown has begun.
func ShutdownMiddleware(sm *ShutdownManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !sm.TrackRequest() {
				w.Header().Set("Connection", "close")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				io.WriteString(w, `{"error":"service is shutting down"}`+"\n")
				return
			}
			defer sm.UntrackRequest()
			next.ServeHTTP(w, r)
		})
	}
}

// HTTPServerCloser returns a closer that gracefully shuts srv down within
// timeout.
func HTTPServerCloser(srv *http.Server, timeout time.Duration) io.Closer {
	return CloserFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(ctx)
	})
}

// CloserFunc adapts a function to io.Closer.
type CloserFunc func() error

// Close calls f.
func (f CloserFunc) Close() error {
	return f()
}
