// Package sqlite implements the store Executor on SQLite via go-sqlite3.
//
// SQLite has no "ADD COLUMN IF NOT EXISTS". Guarded DDL therefore runs in a
// BEGIN IMMEDIATE transaction: the write lock is taken before the catalog
// is read, so the existence check and the mutation are atomic with respect
// to every other connection and process using the same file.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/internal/store"
	"github.com/mattn/go-sqlite3"
)

// Config holds connection settings for the SQLite executor.
type Config struct {
	// Path is the database file for the main schema.
	Path string

	// Namespace is the schema managed tables live in. Anything other than
	// "main" is attached from <dir(Path)>/<Namespace>.db on every connection.
	Namespace string

	// BusyTimeout is how long a connection waits on a locked database.
	BusyTimeout time.Duration

	// MaxOpenConns caps the connection pool (0 = database/sql default).
	MaxOpenConns int
}

// DefaultConfig returns the default configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:         path,
		Namespace:    store.DefaultNamespace,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 8,
	}
}

// Executor implements store.Executor and store.Introspector.
type Executor struct {
	db        *sql.DB
	path      string
	namespace string
}

var (
	_ store.Executor     = (*Executor)(nil)
	_ store.Introspector = (*Executor)(nil)
)

// driverSeq gives every attaching executor its own registered driver, since
// a ConnectHook is bound to the driver rather than to a DSN.
var driverSeq atomic.Int64

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config) (*Executor, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}
	if cfg.Namespace == "" {
		cfg.Namespace = store.DefaultNamespace
	}
	if err := store.ValidateIdentifier("namespace", cfg.Namespace); err != nil {
		return nil, err
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
		return nil, fmt.Errorf("sqlite: failed to create database directory: %w", err)
	}

	driverName := "sqlite3"
	if !strings.EqualFold(cfg.Namespace, store.DefaultNamespace) {
		driverName = registerAttachDriver(cfg.Namespace, filepath.Join(filepath.Dir(cfg.Path), cfg.Namespace+".db"))
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=%d&_txlock=immediate",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, classify(fmt.Sprintf("sqlite: failed to connect to %s", cfg.Path), err)
	}

	return &Executor{
		db:        db,
		path:      cfg.Path,
		namespace: cfg.Namespace,
	}, nil
}

// registerAttachDriver registers a go-sqlite3 driver whose connections attach
// the namespace database.
func registerAttachDriver(namespace, attachPath string) string {
	name := fmt.Sprintf("sqlite3_autotable_%d", driverSeq.Add(1))
	sql.Register(name, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			if _, err := conn.Exec(
				"ATTACH DATABASE ? AS "+store.QuoteIdentifier(namespace),
				[]driver.Value{attachPath},
			); err != nil {
				return fmt.Errorf("attach %s: %w", namespace, err)
			}
			_, err := conn.Exec("PRAGMA "+store.QuoteIdentifier(namespace)+".journal_mode = WAL", nil)
			return err
		},
	})
	return name
}

// Namespace returns the schema managed tables are created in.
func (e *Executor) Namespace() string {
	return e.namespace
}

// Path returns the main database file.
func (e *Executor) Path() string {
	return e.path
}

// DB exposes the underlying pool for introspection in tests and tools.
func (e *Executor) DB() *sql.DB {
	return e.db
}

// Close closes the connection pool.
func (e *Executor) Close() error {
	return e.db.Close()
}

// CreateTable creates table with the system columns and both timestamp
// indexes unless it exists.
func (e *Executor) CreateTable(ctx context.Context, table string) error {
	return e.inImmediateTx(ctx, fmt.Sprintf("sqlite: create table %s", table), func(tx *sql.Tx) error {
		for _, stmt := range createTableSQL(e.namespace, table) {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return err
			}
		}
		return nil
	})
}

// AddColumns adds each column of columns the table lacks. The lookup of
// existing columns and the ALTERs share one immediate transaction.
func (e *Executor) AddColumns(ctx context.Context, table string, columns []string) error {
	if len(columns) == 0 {
		return nil
	}
	return e.inImmediateTx(ctx, fmt.Sprintf("sqlite: add columns to %s", table), func(tx *sql.Tx) error {
		existing, err := tableColumns(ctx, tx, e.namespace, table)
		if err != nil {
			return err
		}
		if len(existing) == 0 {
			return fmt.Errorf("no such table: %s.%s", e.namespace, table)
		}

		present := make(map[string]bool, len(existing))
		for _, col := range existing {
			present[strings.ToLower(col)] = true
		}
		for _, col := range columns {
			folded := strings.ToLower(col)
			if present[folded] {
				continue
			}
			if _, err := tx.ExecContext(ctx, addColumnSQL(e.namespace, table, col)); err != nil {
				return err
			}
			present[folded] = true
		}
		return nil
	})
}

// Exec runs a data statement and returns the affected row count.
func (e *Executor) Exec(ctx context.Context, stmt store.Statement) (int64, error) {
	res, err := e.db.ExecContext(ctx, stmt.SQL, stmt.Args...)
	if err != nil {
		return 0, classify("sqlite: exec failed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, classify("sqlite: rows affected", err)
	}
	return n, nil
}

// Tables lists user tables in the namespace.
func (e *Executor) Tables(ctx context.Context) ([]string, error) {
	rows, err := e.db.QueryContext(ctx,
		"SELECT name FROM "+store.QuoteIdentifier(e.namespace)+".sqlite_master "+
			"WHERE type = 'table' AND name NOT LIKE 'sqlite\\_%' ESCAPE '\\' ORDER BY name")
	if err != nil {
		return nil, classify("sqlite: list tables", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, classify("sqlite: scan table name", err)
		}
		tables = append(tables, name)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("sqlite: list tables", err)
	}
	return tables, nil
}

// Columns lists every column of table, system columns included.
func (e *Executor) Columns(ctx context.Context, table string) ([]string, error) {
	cols, err := tableColumns(ctx, e.db, e.namespace, table)
	if err != nil {
		return nil, classify("sqlite: list columns", err)
	}
	return cols, nil
}

// Snapshot writes a transactionally consistent copy of the namespace
// database to destPath. destPath must not exist.
func (e *Executor) Snapshot(ctx context.Context, destPath string) error {
	if _, err := e.db.ExecContext(ctx,
		"VACUUM "+store.QuoteIdentifier(e.namespace)+" INTO ?", destPath); err != nil {
		return classify("sqlite: snapshot", err)
	}
	return nil
}

// inImmediateTx runs fn in a transaction opened with BEGIN IMMEDIATE.
func (e *Executor) inImmediateTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op, err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return classify(op, err)
	}
	if err := tx.Commit(); err != nil {
		return classify(op, err)
	}
	return nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func tableColumns(ctx context.Context, q queryer, namespace, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, "SELECT name FROM pragma_table_info(?, ?) ORDER BY cid", table, namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols = append(cols, name)
	}
	return cols, rows.Err()
}

// classify maps driver errors onto the store taxonomy: unique violations
// wrap store.ErrUniqueViolation, width checks wrap store.ErrValueTooLong,
// connectivity and lock timeouts become
// STORE_UNAVAILABLE, everything else is returned wrapped as is.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, driver.ErrBadConn) {
		return autoerrors.NewStoreUnavailable(op, err)
	}

	var se sqlite3.Error
	if errors.As(err, &se) {
		switch se.Code {
		case sqlite3.ErrConstraint:
			if se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
				return fmt.Errorf("%s: %w: %v", op, store.ErrUniqueViolation, err)
			}
			if se.ExtendedCode == sqlite3.ErrConstraintCheck {
				return fmt.Errorf("%s: %w: %v", op, store.ErrValueTooLong, err)
			}
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen,
			sqlite3.ErrIoErr, sqlite3.ErrNotADB, sqlite3.ErrProtocol, sqlite3.ErrFull:
			return autoerrors.NewStoreUnavailable(op, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
