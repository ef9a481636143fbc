// Package engine implements AutoTable's schema-less writes: every Insert or
// Update first reconciles the destination table's schema, then issues one
// parameterized data statement.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/internal/observability"
	"github.com/autotable/autotable/internal/schema"
	"github.com/autotable/autotable/internal/store"
	"github.com/autotable/autotable/pkg/types"
)

// Engine writes entries through an Executor. It is safe for concurrent use
// and holds no per-call state; the schema catalog is its only shared state.
type Engine struct {
	exec    store.Executor
	catalog *schema.Catalog
	sync    *schema.Synchronizer
	stats   *observability.WriteStats
	logger  *slog.Logger
	now     func() time.Time
	strict  bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithCatalog shares an existing catalog instead of creating a new one.
func WithCatalog(c *schema.Catalog) Option {
	return func(e *Engine) { e.catalog = c }
}

// WithStrictUpdate makes Update return NOT_FOUND when no row matches the key.
// By default such an update succeeds silently.
func WithStrictUpdate(strict bool) Option {
	return func(e *Engine) { e.strict = strict }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithClock overrides the time source used for createdAt and updatedAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithStats records write statistics into s.
func WithStats(s *observability.WriteStats) Option {
	return func(e *Engine) { e.stats = s }
}

// New creates an engine writing through exec.
func New(exec store.Executor, opts ...Option) *Engine {
	e := &Engine{
		exec:   exec,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.catalog == nil {
		e.catalog = schema.NewCatalog(schema.DefaultShardCount)
	}
	if e.stats == nil {
		e.stats = observability.NewWriteStats()
	}
	e.sync = schema.NewSynchronizer(exec, e.catalog, e.logger)
	return e
}

// Catalog returns the engine's schema catalog.
func (e *Engine) Catalog() *schema.Catalog {
	return e.catalog
}

// Stats returns the engine's write statistics.
func (e *Engine) Stats() *observability.WriteStats {
	return e.stats
}

// Namespace returns the store namespace tables are written to.
func (e *Engine) Namespace() string {
	return e.exec.Namespace()
}

// StrictUpdate reports whether updates of unknown keys fail.
func (e *Engine) StrictUpdate() bool {
	return e.strict
}

// Warm pre-populates the catalog from the store when the executor supports
// introspection. It is a no-op otherwise.
func (e *Engine) Warm(ctx context.Context) (int, error) {
	in, ok := e.exec.(store.Introspector)
	if !ok {
		return 0, nil
	}
	return e.sync.Warm(ctx, in)
}

// Insert writes a new row for entry. The table and any new field columns
// are created first. A row with the same key fails with DUPLICATE_KEY;
// callers that want to overwrite it must use Update.
func (e *Engine) Insert(ctx context.Context, entry types.Entry) error {
	if err := e.prepare(ctx, entry); err != nil {
		e.stats.RecordFailure(statsTable(entry))
		return err
	}

	stmt := store.InsertStatement(e.exec.Namespace(), entry, e.now().UTC())
	if _, err := e.exec.Exec(ctx, stmt); err != nil {
		if errors.Is(err, store.ErrUniqueViolation) {
			e.stats.RecordDuplicate(entry.Table)
			return autoerrors.NewDuplicateKey(entry.Table, entry.Key, err)
		}
		e.stats.RecordFailure(entry.Table)
		return writeError(entry.Table, err)
	}

	e.stats.RecordInsert(entry.Table)
	e.logger.DebugContext(ctx, "entry inserted", "table", entry.Table, "key", entry.Key, "fields", entry.Fields.Len())
	return nil
}

// Update sets updatedAt and every field of entry on the row matching its
// key. If no row matches, Update succeeds without writing anything unless
// the engine is in strict mode, in which case it returns NOT_FOUND.
func (e *Engine) Update(ctx context.Context, entry types.Entry) error {
	if err := e.prepare(ctx, entry); err != nil {
		e.stats.RecordFailure(statsTable(entry))
		return err
	}

	stmt := store.UpdateStatement(e.exec.Namespace(), entry, e.now().UTC())
	n, err := e.exec.Exec(ctx, stmt)
	if err != nil {
		e.stats.RecordFailure(entry.Table)
		return writeError(entry.Table, err)
	}

	if n == 0 {
		e.stats.RecordUpdateMiss(entry.Table)
		if e.strict {
			return autoerrors.NewNotFound(entry.Table, entry.Key)
		}
		e.logger.DebugContext(ctx, "update matched no rows", "table", entry.Table, "key", entry.Key)
		return nil
	}

	e.stats.RecordUpdate(entry.Table)
	e.logger.DebugContext(ctx, "entry updated", "table", entry.Table, "key", entry.Key, "fields", entry.Fields.Len())
	return nil
}

// prepare validates entry and syncs its schema.
func (e *Engine) prepare(ctx context.Context, entry types.Entry) error {
	if err := entry.Validate(); err != nil {
		return autoerrors.NewInvalidEntry(err)
	}
	if err := store.ValidateLengths(entry); err != nil {
		return err
	}
	res, err := e.sync.Sync(ctx, entry)
	if err != nil {
		return err
	}
	if res.TableEnsured {
		e.stats.RecordTableEnsured(entry.Table)
	}
	if len(res.ColumnsAdded) > 0 {
		e.stats.RecordColumnsAdded(entry.Table, len(res.ColumnsAdded))
	}
	return nil
}

// statsTable names the table a failure is attributed to. Names that are not
// valid identifiers count towards the totals only, so rejected input cannot
// grow the per-table map.
func statsTable(entry types.Entry) string {
	if store.ValidateTableName(entry.Table) != nil {
		return ""
	}
	return entry.Table
}

// writeError passes store unavailability through unchanged, reports width
// violations as INVALID_ENTRY and wraps anything else as WRITE_FAILED.
func writeError(table string, err error) error {
	if errors.Is(err, autoerrors.ErrStoreUnavailable) {
		return err
	}
	if errors.Is(err, store.ErrValueTooLong) {
		return autoerrors.NewInvalidEntry(err)
	}
	return autoerrors.NewWriteFailed(table, err)
}
