// Package types provides the core data types for AutoTable.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Entry is a unit of work submitted by a caller: a destination table, a
// business key unique within that table, and an open set of text fields.
type Entry struct {
	// Table names the destination table.
	Table string `json:"table"`

	// Key uniquely identifies the logical record within Table.
	Key string `json:"key"`

	// Fields maps field names to values. All values are opaque text.
	Fields *Fields `json:"fields,omitempty"`

	// Children is reserved for hierarchical writes and is not processed by the engine.
	Children []Entry `json:"children,omitempty"`
}

// NewEntry creates an entry with an empty field set.
func NewEntry(table, key string) Entry {
	return Entry{Table: table, Key: key, Fields: NewFields()}
}

// FieldNames returns the entry's field names in insertion order.
// A nil field set yields no names.
func (e Entry) FieldNames() []string {
	if e.Fields == nil {
		return nil
	}
	return e.Fields.Names()
}

// Fields is an ordered string-to-string mapping. Names are unique; setting an
// existing name replaces its value in place.
// The zero value is ready to use. Fields is not safe for concurrent mutation.
type Fields struct {
	names  []string
	values map[string]string
}

// NewFields creates an empty field set.
func NewFields() *Fields {
	return &Fields{values: make(map[string]string)}
}

// FieldsFrom builds a field set from a plain map. Names are ordered lexically
// so that the result does not depend on map iteration order.
func FieldsFrom(m map[string]string) *Fields {
	f := NewFields()
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f.Set(name, m[name])
	}
	return f
}

// Set assigns value to name and returns the receiver for chaining.
func (f *Fields) Set(name, value string) *Fields {
	if f.values == nil {
		f.values = make(map[string]string)
	}
	if _, ok := f.values[name]; !ok {
		f.names = append(f.names, name)
	}
	f.values[name] = value
	return f
}

// Get returns the value for name.
func (f *Fields) Get(name string) (string, bool) {
	if f == nil {
		return "", false
	}
	v, ok := f.values[name]
	return v, ok
}

// Has reports whether name is present.
func (f *Fields) Has(name string) bool {
	_, ok := f.Get(name)
	return ok
}

// Len returns the number of fields.
func (f *Fields) Len() int {
	if f == nil {
		return 0
	}
	return len(f.names)
}

// Names returns a copy of the field names in insertion order.
func (f *Fields) Names() []string {
	if f == nil {
		return nil
	}
	out := make([]string, len(f.names))
	copy(out, f.names)
	return out
}

// Range calls fn for each field in insertion order until fn returns false.
func (f *Fields) Range(fn func(name, value string) bool) {
	if f == nil {
		return
	}
	for _, name := range f.names {
		if !fn(name, f.values[name]) {
			return
		}
	}
}

// Map returns a plain map copy of the fields.
func (f *Fields) Map() map[string]string {
	out := make(map[string]string, f.Len())
	f.Range(func(name, value string) bool {
		out[name] = value
		return true
	})
	return out
}

// MarshalJSON encodes the fields as a JSON object in insertion order.
func (f *Fields) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	var err error
	i := 0
	f.Range(func(name, value string) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		var b []byte
		if b, err = json.Marshal(name); err != nil {
			return false
		}
		buf.Write(b)
		buf.WriteByte(':')
		if b, err = json.Marshal(value); err != nil {
			return false
		}
		buf.Write(b)
		return true
	})
	if err != nil {
		return nil, err
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object of string values, keeping document order.
// A repeated name keeps its first position and its last value.
func (f *Fields) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*f = Fields{values: make(map[string]string)}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected JSON object, got %v", tok)
	}

	out := Fields{values: make(map[string]string)}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("fields: expected field name, got %v", tok)
		}
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("fields: value of %q must be a string: %w", name, err)
		}
		out.Set(name, value)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*f = out
	return nil
}
