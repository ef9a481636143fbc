// Package store defines the capability AutoTable needs from a relational
// store and the statement shapes it issues against it.
//
// The engine never talks to a driver directly. It asks an Executor for two
// guarded DDL operations (create table, add columns) and runs parameterized
// data statements built here.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/autotable/autotable/pkg/types"
)

// DefaultNamespace is the schema under which managed tables live when none is
// configured. It is the SQLite name of the primary database.
const DefaultNamespace = "main"

// System columns present on every managed table.
const (
	ColumnID        = "id"
	ColumnKey       = "key"
	ColumnCreatedAt = "createdAt"
	ColumnUpdatedAt = "updatedAt"
)

// Column widths for the bounded text columns.
const (
	KeyColumnLength   = 200
	FieldColumnLength = 500
)

// SystemColumns lists the fixed columns in declaration order.
var SystemColumns = []string{ColumnID, ColumnKey, ColumnCreatedAt, ColumnUpdatedAt}

// Statement is a parameterized statement. Values are never interpolated
// into SQL.
type Statement struct {
	SQL  string
	Args []any
}

// Executor runs statements against a configured store and namespace.
// Implementations must be safe for concurrent use.
type Executor interface {
	// Namespace returns the schema under which tables are created.
	Namespace() string

	// CreateTable creates table with the system columns and its two
	// timestamp indexes unless it already exists. The existence check and
	// creation happen in one statement or transaction, so concurrent
	// callers (in this or another process) neither fail nor duplicate work.
	CreateTable(ctx context.Context, table string) error

	// AddColumns adds every column in columns that the table does not
	// already have, as nullable bounded text. Each addition is guarded by an
	// existence check made in the same transaction, so columns added
	// concurrently elsewhere are skipped rather than reported as errors.
	AddColumns(ctx context.Context, table string, columns []string) error

	// Exec runs a data statement and returns the number of affected rows.
	Exec(ctx context.Context, stmt Statement) (int64, error)

	// Close releases the store connection.
	Close() error
}

// Introspector lists the physical schema. It is optional: the engine only
// needs it to pre-warm its cache.
type Introspector interface {
	// Tables returns the managed tables in the namespace.
	Tables(ctx context.Context) ([]string, error)

	// Columns returns every column of table, including system columns.
	Columns(ctx context.Context, table string) ([]string, error)
}

// InsertStatement builds the INSERT for a new entry: key, creation time and
// every field, in field order.
func InsertStatement(namespace string, entry types.Entry, createdAt time.Time) Statement {
	cols := make([]string, 0, entry.Fields.Len()+2)
	cols = append(cols, QuoteIdentifier(ColumnKey), QuoteIdentifier(ColumnCreatedAt))
	args := make([]any, 0, entry.Fields.Len()+2)
	args = append(args, entry.Key, createdAt.UTC())
	entry.Fields.Range(func(name, value string) bool {
		cols = append(cols, QuoteIdentifier(name))
		args = append(args, value)
		return true
	})

	return Statement{
		SQL: "INSERT INTO " + QualifiedName(namespace, entry.Table) +
			" (" + strings.Join(cols, ", ") + ") VALUES (" + placeholders(len(cols)) + ")",
		Args: args,
	}
}

// UpdateStatement builds the UPDATE for an existing entry, matched by key.
func UpdateStatement(namespace string, entry types.Entry, updatedAt time.Time) Statement {
	sets := make([]string, 0, entry.Fields.Len()+1)
	sets = append(sets, QuoteIdentifier(ColumnUpdatedAt)+" = ?")
	args := make([]any, 0, entry.Fields.Len()+2)
	args = append(args, updatedAt.UTC())
	entry.Fields.Range(func(name, value string) bool {
		sets = append(sets, QuoteIdentifier(name)+" = ?")
		args = append(args, value)
		return true
	})
	args = append(args, entry.Key)

	return Statement{
		SQL: "UPDATE " + QualifiedName(namespace, entry.Table) +
			" SET " + strings.Join(sets, ", ") +
			" WHERE " + QuoteIdentifier(ColumnKey) + " = ?",
		Args: args,
	}
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ErrUniqueViolation is wrapped by executors when a data statement violates
// a uniqueness constraint.
var ErrUniqueViolation = errors.New("store: unique constraint violation")

// ErrValueTooLong is wrapped by executors when a value exceeds the width of
// its column.
var ErrValueTooLong = errors.New("store: value exceeds column width")
