package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/pkg/types"
)

// maxBodyBytes caps the size of an entry request body.
const maxBodyBytes = 1 << 20

// Writer is the part of the engine the entry handler needs.
type Writer interface {
	Insert(ctx context.Context, entry types.Entry) error
	Update(ctx context.Context, entry types.Entry) error
}

// EntryResponse acknowledges a write.
type EntryResponse struct {
	Table     string `json:"table"`
	Key       string `json:"key"`
	RequestID string `json:"request_id"`
}

// EntriesHandler handles POST (insert) and PUT (update) on /v1/entries.
type EntriesHandler struct {
	writer Writer
	logger *slog.Logger
}

// NewEntriesHandler creates an entries handler.
func NewEntriesHandler(w Writer, logger *slog.Logger) *EntriesHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EntriesHandler{writer: w, logger: logger}
}

// ServeHTTP dispatches on the request method.
func (h *EntriesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	var (
		write  func(context.Context, types.Entry) error
		status int
	)
	switch r.Method {
	case http.MethodPost:
		write, status = h.writer.Insert, http.StatusCreated
	case http.MethodPut:
		write, status = h.writer.Update, http.StatusOK
	default:
		w.Header().Set("Allow", "POST, PUT")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", "", requestID)
		return
	}

	var entry types.Entry
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&entry); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), autoerrors.CodeInvalidEntry, requestID)
		return
	}

	if err := write(r.Context(), entry); err != nil {
		code := statusFor(err)
		if code >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "write failed",
				"method", r.Method, "table", entry.Table, "key", entry.Key, "request_id", requestID, "err", err)
		}
		writeError(w, code, err.Error(), autoerrors.GetCode(err), requestID)
		return
	}

	writeJSON(w, status, EntryResponse{
		Table:     entry.Table,
		Key:       entry.Key,
		RequestID: requestID,
	})
}

// statusFor maps an engine error to an HTTP status code.
func statusFor(err error) int {
	switch {
	case errors.Is(err, autoerrors.ErrInvalidEntry), errors.Is(err, autoerrors.ErrInvalidIdentifier):
		return http.StatusBadRequest
	case errors.Is(err, autoerrors.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, autoerrors.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, autoerrors.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
