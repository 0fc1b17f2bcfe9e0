// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import "fmt"

// Column is a symbol carrying a column's identity plus its coding
// functions. Identity is by reference semantics over the
// (ModelRef, PropertyName) pair: two Column values constructed for the same
// model property compare equal via Equals even if they are different Go
// values, because a ModelDescriptor only ever hands out one Column per
// property name.
type Column struct {
	PropertyName string
	ColumnName   string
	TableName    string
	ModelRef     string // descriptor registry key this column belongs to.
	SQLType      string
	PrimaryKey   bool
	Serialize    func(interface{}) (interface{}, error)
	Deserialize  func(interface{}) (interface{}, error)
}

// String displays the column as its bare column name.
func (c Column) String() string { return c.ColumnName }

// Equals reports whether two columns denote the same (ModelRef, PropertyName)
// pair, independent of Go identity.
func (c Column) Equals(o Column) bool {
	return c.ModelRef == o.ModelRef && c.PropertyName == o.PropertyName
}

// Qualified renders "table.column", used by ParentRef and relation joins.
func (c Column) Qualified() string { return c.TableName + "." + c.ColumnName }

// --- Condition constructors ---

// Eq builds an equality/IN/IS-NULL condition entry depending on v's shape:
// nil -> IS NULL, a slice -> Array(IN), otherwise Param(=).
func (c Column) Eq(v interface{}) ConditionEntry {
	return ColumnValueEntry{Col: c, Val: toValueNode(v)}
}

// Ne builds a "!= / NOT IN / IS NOT NULL" condition using a dynamic fragment,
// since != is not representable purely through the equality-shaped Eq slot.
// A Skip value drops the entry, as with every other constructor.
func (c Column) Ne(v interface{}) ConditionEntry {
	if IsSkip(v) {
		return ColumnValueEntry{Col: c, Val: skipNode{}}
	}
	if v == nil {
		return ColumnValueEntry{Col: c, Val: NotNull{}}
	}
	if values, ok := asSlice(v); ok {
		return FragmentEntry{Fragment: c.ColumnName + " NOT IN (?)", Val: Array{Values: values}}
	}
	return FragmentEntry{Fragment: c.ColumnName + " != ?", Val: Param{V: v}}
}

func (c Column) cmp(op string, v interface{}) ConditionEntry {
	if IsSkip(v) {
		return ColumnValueEntry{Col: c, Val: skipNode{}}
	}
	return FragmentEntry{Fragment: c.ColumnName + " " + op + " ?", Val: Param{V: v}}
}

func (c Column) Gt(v interface{}) ConditionEntry  { return c.cmp(">", v) }
func (c Column) Gte(v interface{}) ConditionEntry { return c.cmp(">=", v) }
func (c Column) Lt(v interface{}) ConditionEntry  { return c.cmp("<", v) }
func (c Column) Lte(v interface{}) ConditionEntry { return c.cmp("<=", v) }
func (c Column) Like(pattern interface{}) ConditionEntry {
	if IsSkip(pattern) {
		return ColumnValueEntry{Col: c, Val: skipNode{}}
	}
	return FragmentEntry{Fragment: c.ColumnName + " LIKE ?", Val: Param{V: pattern}}
}

// Between builds "<col> BETWEEN ? AND ?". A Skip in either bound drops the
// whole entry.
func (c Column) Between(lo, hi interface{}) ConditionEntry {
	if IsSkip(lo) || IsSkip(hi) {
		return ColumnValueEntry{Col: c, Val: skipNode{}}
	}
	return FragmentEntry{
		Fragment: c.ColumnName + " BETWEEN ? AND ?",
		Val:      Dynamic{SQL: "", Values: []interface{}{lo, hi}},
	}
}

// In builds an Array-IN condition over the given values.
func (c Column) In(values []interface{}) ConditionEntry {
	return ColumnValueEntry{Col: c, Val: Array{Values: values}}
}

// IsNull / IsNotNull are explicit spellings of the nil-Eq / Ne shorthands.
func (c Column) IsNull() ConditionEntry    { return ColumnValueEntry{Col: c, Val: Null{}} }
func (c Column) IsNotNull() ConditionEntry { return ColumnValueEntry{Col: c, Val: NotNull{}} }

// Asc / Desc build OrderSpec entries for this column.
func (c Column) Asc() OrderSpec  { return OrderSpec{Column: c, Direction: OrderAsc} }
func (c Column) Desc() OrderSpec { return OrderSpec{Column: c, Direction: OrderDesc} }

func toValueNode(v interface{}) ValueNode {
	if v == nil {
		return Null{}
	}
	if IsSkip(v) {
		return skipNode{}
	}
	if values, ok := asSlice(v); ok {
		return Array{Values: values}
	}
	return Param{V: v}
}

// skipNode is an internal ValueNode marker recognized by ConditionTree.Compile
// to drop the owning entry; it never reaches Compile in practice because the
// tree filters skipped entries up front, but implementing ValueNode keeps the
// type system happy when a Column.Eq(Skip) value flows through generic code.
type skipNode struct{}

func (skipNode) Compile(*[]interface{}, string, CastFormatter) string {
	panic("relo: internal error: skipNode reached Compile")
}

func asSlice(v interface{}) ([]interface{}, bool) {
	switch vv := v.(type) {
	case []interface{}:
		return vv, true
	case []int:
		out := make([]interface{}, len(vv))
		for i, x := range vv {
			out[i] = x
		}
		return out, true
	case []int64:
		out := make([]interface{}, len(vv))
		for i, x := range vv {
			out[i] = x
		}
		return out, true
	case []string:
		out := make([]interface{}, len(vv))
		for i, x := range vv {
			out[i] = x
		}
		return out, true
	default:
		return nil, false
	}
}

// OrderDirection selects ASC/DESC sort order.
type OrderDirection int

const (
	OrderAsc OrderDirection = iota
	OrderDesc
)

// NullsPosition selects where NULLs sort relative to non-null values.
type NullsPosition int

const (
	NullsUnspecified NullsPosition = iota
	NullsFirst
	NullsLast
)

// OrderSpec is one ORDER BY term.
type OrderSpec struct {
	Column    Column
	Direction OrderDirection
	Nulls     NullsPosition
	Raw       string // when set, used verbatim instead of Column/Direction/Nulls.
}

func (o OrderSpec) render() string {
	if o.Raw != "" {
		return o.Raw
	}
	dir := "ASC"
	if o.Direction == OrderDesc {
		dir = "DESC"
	}
	s := fmt.Sprintf("%s %s", o.Column.ColumnName, dir)
	switch o.Nulls {
	case NullsFirst:
		s += " NULLS FIRST"
	case NullsLast:
		s += " NULLS LAST"
	}
	return s
}

// RenderOrderBy joins a list of OrderSpec into an ORDER BY clause body (no
// leading "ORDER BY" keyword, so callers can suppress it when empty).
func RenderOrderBy(specs []OrderSpec) string {
	parts := make([]string, len(specs))
	for i, s := range specs {
		parts[i] = s.render()
	}
	return joinComma(parts)
}
