package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/internal/store"
	"github.com/autotable/autotable/pkg/types"
)

func openTestExecutor(t *testing.T, path string) *Executor {
	t.Helper()
	exec, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to open executor: %v", err)
	}
	t.Cleanup(func() { exec.Close() })
	return exec
}

func TestExecutor_CreateTableIsIdempotent(t *testing.T) {
	exec := openTestExecutor(t, filepath.Join(t.TempDir(), "store.db"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := exec.CreateTable(ctx, "events"); err != nil {
			t.Fatalf("create #%d failed: %v", i, err)
		}
	}

	cols, err := exec.Columns(ctx, "events")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	if !reflect.DeepEqual(cols, store.SystemColumns) {
		t.Errorf("columns = %v, want %v", cols, store.SystemColumns)
	}

	tables, err := exec.Tables(ctx)
	if err != nil {
		t.Fatalf("tables: %v", err)
	}
	if !reflect.DeepEqual(tables, []string{"events"}) {
		t.Errorf("tables = %v, want [events]", tables)
	}

	rows, err := exec.DB().Query(
		"SELECT name FROM sqlite_master WHERE type = 'index' AND tbl_name = 'events' AND name LIKE 'IX\\_%' ESCAPE '\\' ORDER BY name",
	)
	if err != nil {
		t.Fatalf("list indexes: %v", err)
	}
	defer rows.Close()
	var indexes []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scan index: %v", err)
		}
		indexes = append(indexes, name)
	}
	want := []string{"IX_events_createdAt", "IX_events_updatedAt"}
	if !reflect.DeepEqual(indexes, want) {
		t.Errorf("indexes = %v, want %v", indexes, want)
	}
}

func TestExecutor_ColumnWidthsAreEnforced(t *testing.T) {
	exec := openTestExecutor(t, filepath.Join(t.TempDir(), "store.db"))
	ctx := context.Background()

	if err := exec.CreateTable(ctx, "events"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := exec.AddColumns(ctx, "events", []string{"a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	now := time.Now()

	tests := []struct {
		name  string
		entry types.Entry
		ok    bool
	}{
		{"key at limit", types.Entry{Table: "events", Key: strings.Repeat("k", store.KeyColumnLength)}, true},
		{"key over limit", types.Entry{Table: "events", Key: strings.Repeat("k", 5000)}, false},
		{"field at limit", types.Entry{Table: "events", Key: "f1",
			Fields: types.NewFields().Set("a", strings.Repeat("x", store.FieldColumnLength))}, true},
		{"field over limit", types.Entry{Table: "events", Key: "f2",
			Fields: types.NewFields().Set("a", strings.Repeat("x", 100000))}, false},
		{"null field", types.Entry{Table: "events", Key: "f3"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := exec.Exec(ctx, store.InsertStatement("main", tt.entry, now))
			if tt.ok && err != nil {
				t.Fatalf("insert: %v", err)
			}
			if !tt.ok && !errors.Is(err, store.ErrValueTooLong) {
				t.Fatalf("insert error = %v, want ErrValueTooLong", err)
			}
		})
	}

	var n int
	if err := exec.DB().QueryRow(`SELECT COUNT(*) FROM "events"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 3 {
		t.Errorf("rows = %d, want 3", n)
	}
}

func TestExecutor_AddColumnsSkipsExisting(t *testing.T) {
	exec := openTestExecutor(t, filepath.Join(t.TempDir(), "store.db"))
	ctx := context.Background()

	if err := exec.CreateTable(ctx, "events"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := exec.AddColumns(ctx, "events", []string{"a", "b"}); err != nil {
		t.Fatalf("first add: %v", err)
	}
	// "A" differs only in case from an existing column and must be skipped.
	if err := exec.AddColumns(ctx, "events", []string{"b", "A", "c"}); err != nil {
		t.Fatalf("second add: %v", err)
	}

	cols, err := exec.Columns(ctx, "events")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	want := append(append([]string{}, store.SystemColumns...), "a", "b", "c")
	if !reflect.DeepEqual(cols, want) {
		t.Errorf("columns = %v, want %v", cols, want)
	}
}

func TestExecutor_AddColumnsMissingTable(t *testing.T) {
	exec := openTestExecutor(t, filepath.Join(t.TempDir(), "store.db"))
	if err := exec.AddColumns(context.Background(), "ghost", []string{"a"}); err == nil {
		t.Fatal("expected error adding columns to a missing table")
	}
	if err := exec.AddColumns(context.Background(), "ghost", nil); err != nil {
		t.Errorf("empty column list should be a no-op, got %v", err)
	}
}

func TestExecutor_ExecInsertAndUniqueViolation(t *testing.T) {
	exec := openTestExecutor(t, filepath.Join(t.TempDir(), "store.db"))
	ctx := context.Background()

	if err := exec.CreateTable(ctx, "events"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := exec.AddColumns(ctx, "events", []string{"a"}); err != nil {
		t.Fatalf("add: %v", err)
	}

	entry := types.Entry{Table: "events", Key: "k1", Fields: types.NewFields().Set("a", "1")}
	n, err := exec.Exec(ctx, store.InsertStatement("main", entry, time.Now()))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if n != 1 {
		t.Errorf("rows affected = %d, want 1", n)
	}

	_, err = exec.Exec(ctx, store.InsertStatement("main", entry, time.Now()))
	if !errors.Is(err, store.ErrUniqueViolation) {
		t.Fatalf("second insert error = %v, want ErrUniqueViolation", err)
	}

	n, err = exec.Exec(ctx, store.UpdateStatement("main", types.Entry{Table: "events", Key: "missing"}, time.Now()))
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if n != 0 {
		t.Errorf("rows affected = %d, want 0", n)
	}
}

func TestExecutor_ConcurrentProcessesAddSameColumn(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.db")
	ctx := context.Background()

	// Two executors on one file behave like two processes: separate pools,
	// shared physical schema.
	execs := []*Executor{openTestExecutor(t, path), openTestExecutor(t, path)}

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		exec := execs[i%2]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := exec.CreateTable(ctx, "events"); err != nil {
				errs <- err
				return
			}
			if err := exec.AddColumns(ctx, "events", []string{"shared", "other"}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent DDL failed: %v", err)
	}

	cols, err := execs[0].Columns(ctx, "events")
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	count := 0
	for _, c := range cols {
		if c == "shared" {
			count++
		}
	}
	if count != 1 {
		t.Errorf("column shared appears %d times in %v", count, cols)
	}
}

func TestExecutor_Namespace(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "store.db"))
	cfg.Namespace = "tenant"

	exec, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer exec.Close()
	ctx := context.Background()

	if exec.Namespace() != "tenant" {
		t.Errorf("namespace = %q", exec.Namespace())
	}
	if err := exec.CreateTable(ctx, "events"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := exec.AddColumns(ctx, "events", []string{"a"}); err != nil {
		t.Fatalf("add: %v", err)
	}
	entry := types.Entry{Table: "events", Key: "k1", Fields: types.NewFields().Set("a", "1")}
	if _, err := exec.Exec(ctx, store.InsertStatement("tenant", entry, time.Now())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "tenant.db")); err != nil {
		t.Errorf("namespace database not created: %v", err)
	}

	var inMain int
	if err := exec.DB().QueryRow(
		"SELECT COUNT(*) FROM main.sqlite_master WHERE name = 'events'").Scan(&inMain); err != nil {
		t.Fatalf("query main: %v", err)
	}
	if inMain != 0 {
		t.Error("table leaked into the main schema")
	}
}

func TestOpen_RejectsInvalidNamespace(t *testing.T) {
	cfg := DefaultConfig(filepath.Join(t.TempDir(), "store.db"))
	cfg.Namespace = "bad-name"
	if _, err := Open(cfg); !errors.Is(err, autoerrors.ErrInvalidIdentifier) {
		t.Errorf("Open() error = %v, want ErrInvalidIdentifier", err)
	}
}

func TestExecutor_Snapshot(t *testing.T) {
	dir := t.TempDir()
	exec := openTestExecutor(t, filepath.Join(dir, "store.db"))
	ctx := context.Background()

	if err := exec.CreateTable(ctx, "events"); err != nil {
		t.Fatalf("create: %v", err)
	}
	for i := 0; i < 5; i++ {
		entry := types.Entry{Table: "events", Key: fmt.Sprintf("k%d", i)}
		if _, err := exec.Exec(ctx, store.InsertStatement("main", entry, time.Now())); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	snapPath := filepath.Join(dir, "snap.db")
	if err := exec.Snapshot(ctx, snapPath); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	db, err := sql.Open("sqlite3", snapPath)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow(`SELECT COUNT(*) FROM "events"`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 5 {
		t.Errorf("snapshot rows = %d, want 5", n)
	}
}

func TestClassify(t *testing.T) {
	if err := classify("op", nil); err != nil {
		t.Errorf("classify(nil) = %v", err)
	}
	if err := classify("op", context.DeadlineExceeded); !errors.Is(err, autoerrors.ErrStoreUnavailable) {
		t.Errorf("deadline should be unavailable, got %v", err)
	}
	if err := classify("op", sql.ErrConnDone); !errors.Is(err, autoerrors.ErrStoreUnavailable) {
		t.Errorf("conn done should be unavailable, got %v", err)
	}
	plain := fmt.Errorf("syntax error")
	if err := classify("op", plain); !errors.Is(err, plain) || errors.Is(err, autoerrors.ErrStoreUnavailable) {
		t.Errorf("plain error misclassified: %v", err)
	}
}
