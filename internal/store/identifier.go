package store

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	autoerrors "github.com/autotable/autotable/internal/errors"
	"github.com/autotable/autotable/pkg/types"
)

// MaxIdentifierLength bounds table, field and namespace names.
const MaxIdentifierLength = 128

// reservedTablePrefix is claimed by SQLite for its internal tables.
const reservedTablePrefix = "sqlite_"

var identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// ValidateIdentifier checks that name is safe to use as a store identifier:
// ASCII letters, digits and underscore, 1 to MaxIdentifierLength characters.
// kind names the identifier in the error ("table", "field", "namespace").
func ValidateIdentifier(kind, name string) error {
	switch {
	case name == "":
		return autoerrors.NewInvalidIdentifier(kind, name, "must not be empty")
	case len(name) > MaxIdentifierLength:
		return autoerrors.NewInvalidIdentifier(kind, name, "exceeds maximum length")
	case !identifierPattern.MatchString(name):
		return autoerrors.NewInvalidIdentifier(kind, name, "only letters, digits and underscore are allowed")
	}
	return nil
}

// ValidateTableName checks a table identifier.
func ValidateTableName(name string) error {
	if err := ValidateIdentifier("table", name); err != nil {
		return err
	}
	if strings.HasPrefix(strings.ToLower(name), reservedTablePrefix) {
		return autoerrors.NewInvalidIdentifier("table", name, "prefix is reserved by the store")
	}
	return nil
}

// ValidateFieldName checks a field identifier. System column names are
// reserved, compared case-insensitively.
func ValidateFieldName(name string) error {
	if err := ValidateIdentifier("field", name); err != nil {
		return err
	}
	if IsSystemColumn(name) {
		return autoerrors.NewInvalidIdentifier("field", name, "collides with a system column")
	}
	return nil
}

// ValidateEntry checks every identifier an entry would introduce into a
// statement. Store identifiers are case-insensitive, so two fields that
// differ only in case are rejected.
func ValidateEntry(entry types.Entry) error {
	if err := ValidateTableName(entry.Table); err != nil {
		return err
	}

	var err error
	seen := make(map[string]string, entry.Fields.Len())
	entry.Fields.Range(func(name, _ string) bool {
		if err = ValidateFieldName(name); err != nil {
			return false
		}
		folded := strings.ToLower(name)
		if prev, ok := seen[folded]; ok {
			err = autoerrors.NewInvalidIdentifier("field", name, "differs only in case from field "+prev)
			return false
		}
		seen[folded] = name
		return true
	})
	return err
}

// IsSystemColumn reports whether name is one of the fixed columns.
func IsSystemColumn(name string) bool {
	for _, col := range SystemColumns {
		if strings.EqualFold(col, name) {
			return true
		}
	}
	return false
}

// QuoteIdentifier quotes name for use in SQL, doubling embedded quotes.
// Identifiers are validated before they get here; quoting is still applied
// so reserved words such as "key" are accepted by the parser.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QualifiedName returns namespace.table, quoted.
func QualifiedName(namespace, table string) string {
	return QuoteIdentifier(namespace) + "." + QuoteIdentifier(table)
}

// ValidateLengths checks the key and every field value against the widths of
// their columns. Lengths are counted in characters, as the store does.
func ValidateLengths(entry types.Entry) error {
	if n := utf8.RuneCountInString(entry.Key); n > KeyColumnLength {
		return autoerrors.NewInvalidEntry(
			fmt.Errorf("key is %d characters, maximum is %d", n, KeyColumnLength))
	}

	var err error
	entry.Fields.Range(func(name, value string) bool {
		if n := utf8.RuneCountInString(value); n > FieldColumnLength {
			err = autoerrors.NewInvalidEntry(
				fmt.Errorf("field %q is %d characters, maximum is %d", name, n, FieldColumnLength))
			return false
		}
		return true
	})
	return err
}
