package table

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/razeghi71/feedflow/etlerr"
	"github.com/razeghi71/feedflow/xmlnode"
)

// ValueType represents the type of a Value.
type ValueType int

const (
	TypeNull ValueType = iota
	TypeInt
	TypeFloat
	TypeString
	TypeBool
	TypeList   // ordered list of values
	TypeNode   // structured XML node
	TypeNested // nested table (from aggregate)
)

var typeNames = [...]string{"null", "int", "float", "string", "bool", "list", "node", "nested"}

func (t ValueType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("ValueType(%d)", int(t))
}

// Value is a dynamically-typed cell in a table.
type Value struct {
	Type   ValueType
	Int    int64
	Float  float64
	Str    string
	Bool   bool
	List   []Value
	Node   *xmlnode.Node
	Nested *Table
}

// Null returns a null value.
func Null() Value {
	return Value{Type: TypeNull}
}

// IntVal creates an integer value.
func IntVal(v int64) Value {
	return Value{Type: TypeInt, Int: v}
}

// FloatVal creates a float value.
func FloatVal(v float64) Value {
	return Value{Type: TypeFloat, Float: v}
}

// StrVal creates a string value.
func StrVal(v string) Value {
	return Value{Type: TypeString, Str: v}
}

// BoolVal creates a boolean value.
func BoolVal(v bool) Value {
	return Value{Type: TypeBool, Bool: v}
}

// ListVal creates a list value.
func ListVal(vs ...Value) Value {
	return Value{Type: TypeList, List: vs}
}

// StrList creates a list value of strings.
func StrList(ss ...string) Value {
	vs := make([]Value, len(ss))
	for i, s := range ss {
		vs[i] = StrVal(s)
	}
	return ListVal(vs...)
}

// NodeVal creates a structured node value. A nil node is null.
func NodeVal(n *xmlnode.Node) Value {
	if n == nil {
		return Null()
	}
	return Value{Type: TypeNode, Node: n}
}

// NestedVal creates a nested table value.
func NestedVal(t *Table) Value {
	return Value{Type: TypeNested, Nested: t}
}

// FromAny converts a decoded Go value (JSON, Avro, SQL driver, literal maps)
// into a Value.
func FromAny(v any) Value {
	switch val := v.(type) {
	case nil:
		return Null()
	case Value:
		return val
	case string:
		return StrVal(val)
	case []byte:
		return StrVal(string(val))
	case bool:
		return BoolVal(val)
	case int:
		return IntVal(int64(val))
	case int8:
		return IntVal(int64(val))
	case int16:
		return IntVal(int64(val))
	case int32:
		return IntVal(int64(val))
	case int64:
		return IntVal(val)
	case uint8:
		return IntVal(int64(val))
	case uint16:
		return IntVal(int64(val))
	case uint32:
		return IntVal(int64(val))
	case uint64:
		if val > math.MaxInt64 {
			return FloatVal(float64(val))
		}
		return IntVal(int64(val))
	case float32:
		return FloatVal(float64(val))
	case float64:
		return FloatVal(val)
	case *xmlnode.Node:
		return NodeVal(val)
	case []string:
		return StrList(val...)
	case []any:
		vs := make([]Value, len(val))
		for i, e := range val {
			vs[i] = FromAny(e)
		}
		return ListVal(vs...)
	case fmt.Stringer:
		return StrVal(val.String())
	default:
		return StrVal(fmt.Sprintf("%v", val))
	}
}

// IsNull returns true if the value is null.
func (v Value) IsNull() bool {
	return v.Type == TypeNull
}

// AsFloat attempts to coerce to float64 for arithmetic.
func (v Value) AsFloat() (float64, bool) {
	switch v.Type {
	case TypeInt:
		return float64(v.Int), true
	case TypeFloat:
		return v.Float, true
	default:
		return 0, false
	}
}

// Numeric reports the value as a number when it is one or when it is a
// string that looks like one ("10", " 2.5 ").
func (v Value) Numeric() (float64, bool) {
	if f, ok := v.AsFloat(); ok {
		return f, true
	}
	if v.Type != TypeString {
		return 0, false
	}
	s := strings.TrimSpace(v.Str)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// AsString returns the display representation; null renders as "null".
func (v Value) AsString() string {
	if v.Type == TypeNull {
		return "null"
	}
	return v.Text()
}

// Text returns the plain string form used for coercion and output; null
// is the empty string and lists are comma-joined.
func (v Value) Text() string {
	switch v.Type {
	case TypeNull:
		return ""
	case TypeInt:
		return strconv.FormatInt(v.Int, 10)
	case TypeFloat:
		return strconv.FormatFloat(v.Float, 'f', -1, 64)
	case TypeString:
		return v.Str
	case TypeBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case TypeList:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.Text()
		}
		return strings.Join(parts, ",")
	case TypeNode:
		return v.Node.String()
	case TypeNested:
		return v.Nested.String()
	default:
		return "?"
	}
}

// AsBool coerces to boolean for logical operations.
func (v Value) AsBool() (bool, bool) {
	switch v.Type {
	case TypeBool:
		return v.Bool, true
	case TypeNull:
		return false, true
	default:
		return false, false
	}
}

// Row is a single row in a table, mapping column index to value.
type Row struct {
	Values []Value
}

// Table is the core data structure: columns + rows.
type Table struct {
	Columns []string
	Rows    []Row
}

// NewTable creates an empty table with the given columns.
func NewTable(columns []string) *Table {
	return &Table{
		Columns: columns,
		Rows:    nil,
	}
}

// FromRecords builds a table from maps. The schema is the union of keys in
// first-seen order; keys inside one map are taken in sorted order so the
// result does not depend on map iteration.
func FromRecords(records []map[string]any) *Table {
	var columns []string
	seen := make(map[string]bool)
	for _, rec := range records {
		keys := make([]string, 0, len(rec))
		for k := range rec {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
	}

	t := NewTable(columns)
	for _, rec := range records {
		vals := make([]Value, len(columns))
		for i, col := range columns {
			vals[i] = FromAny(rec[col])
		}
		t.AddRow(vals)
	}
	return t
}

// ColIndex returns the index of a column by name, or -1.
func (t *Table) ColIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// HasColumn reports whether the schema contains name.
func (t *Table) HasColumn(name string) bool {
	return t.ColIndex(name) >= 0
}

// AddColumn appends a column filled with nulls and returns its index.
func (t *Table) AddColumn(name string) (int, error) {
	if t.HasColumn(name) {
		return -1, etlerr.Schemaf("column %q already exists", name)
	}
	t.Columns = append(t.Columns, name)
	for i := range t.Rows {
		t.Rows[i].Values = append(t.Rows[i].Values, Null())
	}
	return len(t.Columns) - 1, nil
}

// AddRow appends a row to the table. Short rows are padded with nulls.
func (t *Table) AddRow(values []Value) {
	for len(values) < len(t.Columns) {
		values = append(values, Null())
	}
	t.Rows = append(t.Rows, Row{Values: values})
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Get returns the value at a given row and column name.
func (t *Table) Get(row int, col string) Value {
	idx := t.ColIndex(col)
	if idx < 0 || row < 0 || row >= len(t.Rows) || idx >= len(t.Rows[row].Values) {
		return Null()
	}
	return t.Rows[row].Values[idx]
}

// Record returns row i as a column-name map, for tests and debugging.
func (t *Table) Record(i int) map[string]Value {
	out := make(map[string]Value, len(t.Columns))
	for _, c := range t.Columns {
		out[c] = t.Get(i, c)
	}
	return out
}

// Clone creates a deep copy of the table structure (shares Value data).
func (t *Table) Clone() *Table {
	cols := make([]string, len(t.Columns))
	copy(cols, t.Columns)
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		vals := make([]Value, len(r.Values))
		copy(vals, r.Values)
		rows[i] = Row{Values: vals}
	}
	return &Table{Columns: cols, Rows: rows}
}

// String returns a compact representation of the table.
func (t *Table) String() string {
	if len(t.Rows) == 0 {
		return "[" + strings.Join(t.Columns, ", ") + "] (0 rows)"
	}

	var sb strings.Builder
	sb.WriteString("[ ")
	for i, r := range t.Rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("{")
		for j, v := range r.Values {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.Columns[j])
			sb.WriteString(":")
			sb.WriteString(v.AsString())
		}
		sb.WriteString("}")
	}
	sb.WriteString(" ]")
	return sb.String()
}
