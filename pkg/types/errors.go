package types

import "errors"

// Entry validation errors
var (
	// ErrEmptyTable is returned when an entry does not name a table
	ErrEmptyTable = errors.New("entry table is required")

	// ErrEmptyKey is returned when an entry has no key
	ErrEmptyKey = errors.New("entry key is required")
)

// Validate checks the structural requirements of an entry. Identifier
// rules for the table and field names are enforced by the store layer.
func (e Entry) Validate() error {
	if e.Table == "" {
		return ErrEmptyTable
	}
	if e.Key == "" {
		return ErrEmptyKey
	}
	return nil
}
