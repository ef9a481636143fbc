package sqlite

import (
	"fmt"

	"github.com/autotable/autotable/internal/store"
)

// createTableSQL returns the guarded statements that create a managed table
// and its indexes. Every statement is a no-op when the object exists.
func createTableSQL(namespace, table string) []string {
	q := store.QuoteIdentifier
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    %s INTEGER PRIMARY KEY AUTOINCREMENT,
    %s VARCHAR(%d) NOT NULL CHECK (length(%s) <= %d),
    %s TIMESTAMP NOT NULL,
    %s TIMESTAMP NULL,
    CONSTRAINT %s UNIQUE (%s)
)`,
			store.QualifiedName(namespace, table),
			q(store.ColumnID),
			q(store.ColumnKey), store.KeyColumnLength, q(store.ColumnKey), store.KeyColumnLength,
			q(store.ColumnCreatedAt),
			q(store.ColumnUpdatedAt),
			q("UQ_"+table+"_Key"), q(store.ColumnKey),
		),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s DESC)`,
			store.QualifiedName(namespace, "IX_"+table+"_createdAt"), q(table), q(store.ColumnCreatedAt)),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (%s DESC)`,
			store.QualifiedName(namespace, "IX_"+table+"_updatedAt"), q(table), q(store.ColumnUpdatedAt)),
	}
}

// addColumnSQL returns the ALTER adding one nullable text field column.
// SQLite does not enforce VARCHAR widths, so the bound is a CHECK.
func addColumnSQL(namespace, table, column string) string {
	col := store.QuoteIdentifier(column)
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s VARCHAR(%d) NULL CHECK (length(%s) <= %d)`,
		store.QualifiedName(namespace, table), col, store.FieldColumnLength, col, store.FieldColumnLength)
}
