package http

import (
	"net/http"
	"strconv"

	"github.com/autotable/autotable/internal/observability"
)

// CatalogReader exposes the schema catalog's known tables and columns.
type CatalogReader interface {
	Snapshot() map[string][]string
}

// StatsReader exposes write statistics.
type StatsReader interface {
	Snapshot() observability.Snapshot
	TopTables(n int) []observability.TableStats
}

// SnapshotTrigger requests an asynchronous store snapshot. Trigger reports
// false when a request is already pending.
type SnapshotTrigger interface {
	Trigger() bool
}

// TablesResponse lists the tables and columns this process has seen.
type TablesResponse struct {
	Namespace string              `json:"namespace"`
	Tables    map[string][]string `json:"tables"`
}

// TablesHandler handles GET /v1/tables.
type TablesHandler struct {
	namespace string
	catalog   CatalogReader
}

// NewTablesHandler creates a tables handler.
func NewTablesHandler(namespace string, catalog CatalogReader) *TablesHandler {
	return &TablesHandler{namespace: namespace, catalog: catalog}
}

func (h *TablesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, TablesResponse{
		Namespace: h.namespace,
		Tables:    h.catalog.Snapshot(),
	})
}

// StatsResponse is the body of GET /v1/stats.
type StatsResponse struct {
	observability.Snapshot
	Top []observability.TableStats `json:"top"`
}

// StatsHandler handles GET /v1/stats. The optional top query parameter
// limits the ranked table list (default 10).
type StatsHandler struct {
	stats StatsReader
}

// NewStatsHandler creates a stats handler.
func NewStatsHandler(stats StatsReader) *StatsHandler {
	return &StatsHandler{stats: stats}
}

func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	top := 10
	if v := r.URL.Query().Get("top"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "top must be a non-negative integer", "", requestID)
			return
		}
		top = n
	}

	writeJSON(w, http.StatusOK, StatsResponse{
		Snapshot: h.stats.Snapshot(),
		Top:      h.stats.TopTables(top),
	})
}

// SnapshotResponse acknowledges a snapshot request.
type SnapshotResponse struct {
	Status    string `json:"status"`
	RequestID string `json:"request_id"`
}

// SnapshotHandler handles POST /v1/snapshots. A nil trigger means backups
// are disabled.
type SnapshotHandler struct {
	trigger SnapshotTrigger
}

// NewSnapshotHandler creates a snapshot handler.
func NewSnapshotHandler(trigger SnapshotTrigger) *SnapshotHandler {
	return &SnapshotHandler{trigger: trigger}
}

func (h *SnapshotHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}
	if h.trigger == nil {
		writeError(w, http.StatusNotFound, "snapshots are not enabled", "", requestID)
		return
	}

	status := "scheduled"
	if !h.trigger.Trigger() {
		status = "already_pending"
	}
	writeJSON(w, http.StatusAccepted, SnapshotResponse{Status: status, RequestID: requestID})
}

// HealthHandler returns a handler reporting service liveness.
func HealthHandler(service string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"service": service,
		})
	}
}
