package http

import (
	"log/slog"
	"net/http"
)

// RouterConfig wires handlers to their dependencies.
type RouterConfig struct {
	Service   string
	Namespace string
	Writer    Writer
	Catalog   CatalogReader
	Stats     StatsReader
	Snapshots SnapshotTrigger // nil when backups are disabled
	Logger    *slog.Logger

	// Middleware wraps every /v1 route. Defaults to DefaultMiddleware.
	Middleware func(http.Handler) http.Handler
}

// NewRouter builds the API mux. /health bypasses the middleware chain.
func NewRouter(cfg RouterConfig) *http.ServeMux {
	mw := cfg.Middleware
	if mw == nil {
		mw = DefaultMiddleware(cfg.Logger)
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/entries", mw(NewEntriesHandler(cfg.Writer, cfg.Logger)))
	mux.Handle("/v1/tables", mw(NewTablesHandler(cfg.Namespace, cfg.Catalog)))
	mux.Handle("/v1/stats", mw(NewStatsHandler(cfg.Stats)))
	mux.Handle("/v1/snapshots", mw(NewSnapshotHandler(cfg.Snapshots)))
	mux.HandleFunc("/health", HealthHandler(cfg.Service))
	return mux
}
