// Package database implements tuples, heap tables, and the catalog tying
// tables to their indexes.
package database

import (
	"encoding/binary"
	"fmt"
	"strings"

	"basaltdb/pkg/entry"

	"github.com/cespare/xxhash"
)

// Value is one column value: a 64-bit integer or NULL.
type Value struct {
	Int  int64
	Null bool
}

// NewValue constructs a non-null value.
func NewValue(v int64) Value {
	return Value{Int: v}
}

// NullValue constructs a NULL value.
func NullValue() Value {
	return Value{Null: true}
}

// Compare orders two values: NULL sorts before any integer.
func (v Value) Compare(other Value) int {
	switch {
	case v.Null && other.Null:
		return 0
	case v.Null:
		return -1
	case other.Null:
		return 1
	case v.Int < other.Int:
		return -1
	case v.Int > other.Int:
		return 1
	}
	return 0
}

// Size in bytes of a marshalled value: a null flag plus the integer.
const ValueSize int64 = 9

func (v Value) marshal(buf []byte) {
	if v.Null {
		buf[0] = 1
	} else {
		buf[0] = 0
	}
	binary.LittleEndian.PutUint64(buf[1:9], uint64(v.Int))
}

// Hash returns a 64-bit hash of the value, used by the hash join's build
// table.
func (v Value) Hash() uint64 {
	var buf [ValueSize]byte
	v.marshal(buf[:])
	return xxhash.Sum64(buf[:])
}

func unmarshalValue(buf []byte) Value {
	return Value{
		Null: buf[0] == 1,
		Int:  int64(binary.LittleEndian.Uint64(buf[1:9])),
	}
}

// Schema names a table's columns. All columns hold Values.
type Schema struct {
	Columns []string
}

// NumColumns returns the number of columns in the schema.
func (s Schema) NumColumns() int64 {
	return int64(len(s.Columns))
}

// ColumnIndex returns the position of the named column, or -1.
func (s Schema) ColumnIndex(name string) int64 {
	for i, col := range s.Columns {
		if col == name {
			return int64(i)
		}
	}
	return -1
}

// Tuple is a row of column values plus the record id it was read from (zero
// for tuples that never touched a heap, eg join outputs).
type Tuple struct {
	Values []Value
	RID    entry.RID
}

// NewTuple constructs a tuple from integer column values.
func NewTuple(vals ...int64) Tuple {
	t := Tuple{Values: make([]Value, len(vals))}
	for i, v := range vals {
		t.Values[i] = NewValue(v)
	}
	return t
}

// String renders the tuple for logs and error messages.
func (t Tuple) String() string {
	parts := make([]string, len(t.Values))
	for i, v := range t.Values {
		if v.Null {
			parts[i] = "NULL"
		} else {
			parts[i] = fmt.Sprintf("%d", v.Int)
		}
	}
	return "(" + strings.Join(parts, ", ") + ")"
}
