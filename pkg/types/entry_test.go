package types

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestFields_SetKeepsInsertionOrder(t *testing.T) {
	f := NewFields().Set("b", "1").Set("a", "2").Set("c", "3")
	f.Set("b", "updated")

	want := []string{"b", "a", "c"}
	if got := f.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
	if v, _ := f.Get("b"); v != "updated" {
		t.Errorf("b = %q, want %q", v, "updated")
	}
	if f.Len() != 3 {
		t.Errorf("len = %d, want 3", f.Len())
	}
}

func TestFields_ZeroValueAndNil(t *testing.T) {
	var f Fields
	f.Set("x", "1")
	if !f.Has("x") {
		t.Error("zero-value Fields should accept Set")
	}

	var nilFields *Fields
	if nilFields.Len() != 0 || nilFields.Has("x") || nilFields.Names() != nil {
		t.Error("nil Fields should behave as empty")
	}
	if m := nilFields.Map(); len(m) != 0 {
		t.Errorf("nil Fields map = %v, want empty", m)
	}
}

func TestFieldsFrom_SortsNames(t *testing.T) {
	f := FieldsFrom(map[string]string{"zeta": "z", "alpha": "a", "mid": "m"})
	want := []string{"alpha", "mid", "zeta"}
	if got := f.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("names = %v, want %v", got, want)
	}
}

func TestFields_RangeStopsEarly(t *testing.T) {
	f := NewFields().Set("a", "1").Set("b", "2").Set("c", "3")
	var seen []string
	f.Range(func(name, _ string) bool {
		seen = append(seen, name)
		return name != "b"
	})
	if !reflect.DeepEqual(seen, []string{"a", "b"}) {
		t.Errorf("seen = %v", seen)
	}
}

func TestFields_JSONPreservesOrder(t *testing.T) {
	input := `{"table":"events","key":"k1","fields":{"z":"1","a":"2","m":"3"}}`

	var e Entry
	if err := json.Unmarshal([]byte(input), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := e.FieldNames(); !reflect.DeepEqual(got, []string{"z", "a", "m"}) {
		t.Fatalf("field names = %v", got)
	}

	out, err := json.Marshal(e)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(out) != input {
		t.Errorf("round trip = %s, want %s", out, input)
	}
}

func TestFields_UnmarshalRejectsNonString(t *testing.T) {
	var f Fields
	if err := json.Unmarshal([]byte(`{"a":1}`), &f); err == nil {
		t.Error("expected error for numeric value")
	}
	if err := json.Unmarshal([]byte(`["a"]`), &f); err == nil {
		t.Error("expected error for array")
	}
}

func TestEntry_Validate(t *testing.T) {
	tests := []struct {
		name  string
		entry Entry
		want  error
	}{
		{"valid", NewEntry("events", "k1"), nil},
		{"no fields is valid", Entry{Table: "events", Key: "k1"}, nil},
		{"empty table", Entry{Key: "k1"}, ErrEmptyTable},
		{"empty key", Entry{Table: "events"}, ErrEmptyKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.entry.Validate(); !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEntry_ChildrenCarried(t *testing.T) {
	input := `{"table":"orders","key":"o1","children":[{"table":"lines","key":"l1","fields":{"sku":"x"}}]}`
	var e Entry
	if err := json.Unmarshal([]byte(input), &e); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(e.Children) != 1 || e.Children[0].Table != "lines" {
		t.Fatalf("children = %+v", e.Children)
	}
	if v, _ := e.Children[0].Fields.Get("sku"); v != "x" {
		t.Errorf("child sku = %q", v)
	}
}
