// Package storetest provides an in-memory store.Executor for tests.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/autotable/autotable/internal/store"
)

// Memory is an in-memory executor that tracks the physical schema and
// counts every call. Failures can be injected per operation.
// Exec does not interpret SQL; it records the statement and returns
// ExecRows.
type Memory struct {
	mu        sync.Mutex
	namespace string
	tables    map[string][]string // table -> columns in creation order

	CreateCalls int
	AddCalls    int
	AddedBatch  [][]string
	Statements  []store.Statement

	// FailCreate, FailAdd and FailExec, when non-nil, are returned by the
	// matching operation instead of executing it.
	FailCreate error
	FailAdd    error
	FailExec   error

	// ExecRows is the affected-row count Exec reports.
	ExecRows int64
}

var (
	_ store.Executor     = (*Memory)(nil)
	_ store.Introspector = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		namespace: store.DefaultNamespace,
		tables:    make(map[string][]string),
		ExecRows:  1,
	}
}

// Namespace returns the default namespace.
func (m *Memory) Namespace() string { return m.namespace }

// CreateTable creates table with the system columns unless it exists.
func (m *Memory) CreateTable(ctx context.Context, table string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateCalls++
	if m.FailCreate != nil {
		return m.FailCreate
	}
	if _, ok := m.tables[table]; !ok {
		m.tables[table] = append([]string{}, store.SystemColumns...)
	}
	return nil
}

// AddColumns adds the columns table lacks, case-insensitively.
func (m *Memory) AddColumns(ctx context.Context, table string, columns []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.AddCalls++
	if m.FailAdd != nil {
		return m.FailAdd
	}
	existing, ok := m.tables[table]
	if !ok {
		return fmt.Errorf("no such table: %s", table)
	}
	m.AddedBatch = append(m.AddedBatch, append([]string{}, columns...))
	for _, col := range columns {
		if !containsFold(existing, col) {
			existing = append(existing, col)
		}
	}
	m.tables[table] = existing
	return nil
}

// Exec records stmt.
func (m *Memory) Exec(ctx context.Context, stmt store.Statement) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailExec != nil {
		return 0, m.FailExec
	}
	m.Statements = append(m.Statements, stmt)
	return m.ExecRows, nil
}

// Close is a no-op.
func (m *Memory) Close() error { return nil }

// Tables lists tables, sorted.
func (m *Memory) Tables(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.tables))
	for name := range m.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Columns lists the columns of table.
func (m *Memory) Columns(ctx context.Context, table string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.tables[table]...), nil
}

// PutTable installs a table with the given columns directly, as if another
// process had created it.
func (m *Memory) PutTable(table string, columns ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[table] = append([]string{}, columns...)
}

// HasColumn reports whether table physically has column.
func (m *Memory) HasColumn(table, column string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return containsFold(m.tables[table], column)
}

// HasTable reports whether table exists.
func (m *Memory) HasTable(table string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tables[table]
	return ok
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}
