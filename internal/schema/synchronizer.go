package schema

import (
	"context"
	"fmt"
	"log/slog"

	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/internal/store"
	"github.com/autotable/autotable/pkg/types"
	"golang.org/x/sync/errgroup"
)

// warmConcurrency bounds concurrent column lookups during Warm.
const warmConcurrency = 4

// SyncResult describes the DDL a Sync call issued.
type SyncResult struct {
	// TableEnsured is set when the guarded create-table statement ran.
	TableEnsured bool

	// ColumnsAdded lists the columns passed to the guarded add-columns
	// statement. Some may have already existed in the store.
	ColumnsAdded []string
}

// Synchronizer makes the physical schema a superset of what an entry needs
// and records the result in the catalog.
type Synchronizer struct {
	exec    store.Executor
	catalog *Catalog
	logger  *slog.Logger
}

// NewSynchronizer creates a synchronizer over exec and catalog.
func NewSynchronizer(exec store.Executor, catalog *Catalog, logger *slog.Logger) *Synchronizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Synchronizer{
		exec:    exec,
		catalog: catalog,
		logger:  logger,
	}
}

// Catalog returns the catalog this synchronizer maintains.
func (s *Synchronizer) Catalog() *Catalog {
	return s.catalog
}

// Sync ensures entry's table and every field column exist.
//
// Identifiers are validated before any statement is built. The table is
// created with a guarded statement the first time this process sees it (or
// again after a failed attempt). Missing columns are added in one guarded
// batch and recorded only after the store confirms them. Any statement
// failure, or ctx ending while waiting for another Sync's DDL on the same
// table, is returned as SCHEMA_SYNC_FAILED and leaves the catalog as it was.
func (s *Synchronizer) Sync(ctx context.Context, entry types.Entry) (SyncResult, error) {
	var res SyncResult
	if err := store.ValidateEntry(entry); err != nil {
		return res, err
	}

	d, _ := s.catalog.GetOrCreate(entry.Table)
	names := entry.FieldNames()
	if d.Ready() && len(d.Missing(names)) == 0 {
		return res, nil
	}

	if err := d.lockDDL(ctx); err != nil {
		return res, autoerrors.NewSchemaSyncFailed(entry.Table, err)
	}
	defer d.unlockDDL()

	if !d.Ready() {
		if err := s.exec.CreateTable(ctx, entry.Table); err != nil {
			s.logger.WarnContext(ctx, "create table failed", "table", entry.Table, "err", err)
			return res, autoerrors.NewSchemaSyncFailed(entry.Table, err)
		}
		d.markReady()
		res.TableEnsured = true
		s.logger.InfoContext(ctx, "table ensured", "table", entry.Table, "namespace", s.exec.Namespace())
	}

	// Recomputed under the DDL lock: a concurrent Sync may have added some.
	missing := d.Missing(names)
	if len(missing) == 0 {
		return res, nil
	}
	if err := s.exec.AddColumns(ctx, entry.Table, missing); err != nil {
		s.logger.WarnContext(ctx, "add columns failed", "table", entry.Table, "columns", missing, "err", err)
		return res, autoerrors.NewSchemaSyncFailed(entry.Table, err)
	}
	d.record(missing)
	res.ColumnsAdded = missing
	s.logger.InfoContext(ctx, "columns ensured", "table", entry.Table, "columns", missing)

	return res, nil
}

// Warm pre-populates the catalog from the store. Tables that lack the
// system columns, or whose names are not valid identifiers, are left out
// and will go through the normal guarded path on first use.
// It returns the number of tables loaded.
func (s *Synchronizer) Warm(ctx context.Context, in store.Introspector) (int, error) {
	tables, err := in.Tables(ctx)
	if err != nil {
		return 0, fmt.Errorf("schema: warm: %w", err)
	}

	loaded := make([]bool, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(warmConcurrency)
	for i, table := range tables {
		if err := store.ValidateTableName(table); err != nil {
			s.logger.DebugContext(ctx, "warm: skipping table", "table", table, "err", err)
			continue
		}
		g.Go(func() error {
			cols, err := in.Columns(gctx, table)
			if err != nil {
				return fmt.Errorf("schema: warm %s: %w", table, err)
			}
			fields, managed := splitColumns(cols)
			if !managed {
				s.logger.DebugContext(gctx, "warm: skipping unmanaged table", "table", table)
				return nil
			}
			d, _ := s.catalog.GetOrCreate(table)
			d.record(fields)
			d.markReady()
			loaded[i] = true
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	n := 0
	for _, ok := range loaded {
		if ok {
			n++
		}
	}
	s.logger.InfoContext(ctx, "schema catalog warmed", "tables", n)
	return n, nil
}

// splitColumns separates field columns from system columns and reports
// whether every system column is present.
func splitColumns(cols []string) (fields []string, managed bool) {
	seen := 0
	for _, col := range cols {
		if store.IsSystemColumn(col) {
			seen++
			continue
		}
		if store.ValidateIdentifier("field", col) == nil {
			fields = append(fields, col)
		}
	}
	return fields, seen == len(store.SystemColumns)
}
