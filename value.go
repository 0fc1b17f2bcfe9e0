// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import "fmt"

// ValueNode is the tagged value/token AST behind every condition and SET
// value. Each variant implements Compile, appending any parameters it needs
// to paramsOut and returning the SQL fragment to splice into the caller's
// statement. The variant set is flat so dialect builders can type-switch
// over it exhaustively.
type ValueNode interface {
	// Compile appends this node's parameters to paramsOut and returns the
	// SQL fragment. keyName is the column name in scope, if any (empty for
	// value positions with no associated key, e.g. inside a tuple). fmtr is
	// the dialect's cast formatter.
	Compile(paramsOut *[]interface{}, keyName string, fmtr CastFormatter) string
}

// CastFormatter renders a placeholder with or without a dialect-specific
// type-cast suffix ("?::uuid" on PostgreSQL, bare "?" on MySQL and SQLite).
type CastFormatter func(placeholder, sqlType string) string

// Skip is the sentinel that removes a condition/value entry silently
// wherever it appears.
var Skip = struct{ skip bool }{skip: true}

// IsSkip reports whether v is the Skip sentinel.
func IsSkip(v interface{}) bool {
	_, ok := v.(struct{ skip bool })
	return ok
}

// Param wraps a single bound value, rendered as a bare placeholder.
type Param struct{ V interface{} }

func (p Param) Compile(paramsOut *[]interface{}, keyName string, fmtr CastFormatter) string {
	*paramsOut = append(*paramsOut, p.V)
	if keyName == "" {
		return "?"
	}
	return keyName + " = ?"
}

// Immediate is a scalar literal emitted verbatim, with no bound parameter.
type Immediate struct{ SQL string }

func (im Immediate) Compile(_ *[]interface{}, keyName string, _ CastFormatter) string {
	if keyName == "" {
		return im.SQL
	}
	return keyName + " = " + im.SQL
}

// Raw is an arbitrary SQL fragment, possibly multi-token, emitted verbatim.
type Raw struct{ SQL string }

func (r Raw) Compile(_ *[]interface{}, _ string, _ CastFormatter) string { return r.SQL }

// Null renders "<key> IS NULL" (or bare "NULL" with no key).
type Null struct{}

func (Null) Compile(_ *[]interface{}, keyName string, _ CastFormatter) string {
	if keyName == "" {
		return "NULL"
	}
	return keyName + " IS NULL"
}

// NotNull renders "<key> IS NOT NULL".
type NotNull struct{}

func (NotNull) Compile(_ *[]interface{}, keyName string, _ CastFormatter) string {
	if keyName == "" {
		return "IS NOT NULL"
	}
	return keyName + " IS NOT NULL"
}

// Bool renders a boolean literal. Dialect-level encoding (0/1 vs true/false)
// is applied by the type coder before this node is constructed, so Compile
// just forwards whatever the dialect already decided.
type Bool struct{ B interface{} }

func (b Bool) Compile(paramsOut *[]interface{}, keyName string, _ CastFormatter) string {
	*paramsOut = append(*paramsOut, b.B)
	if keyName == "" {
		return "?"
	}
	return keyName + " = ?"
}

// Array renders an IN-list. An empty array compiles to the stable-false
// fragment "1 = 0" and appends zero parameters.
type Array struct{ Values []interface{} }

func (a Array) Compile(paramsOut *[]interface{}, keyName string, _ CastFormatter) string {
	if len(a.Values) == 0 {
		return "1 = 0"
	}
	placeholders, args := expandPlaceholders(a.Values)
	*paramsOut = append(*paramsOut, args...)
	if keyName == "" {
		return placeholders
	}
	return fmt.Sprintf("%s IN %s", keyName, placeholders)
}

// Cast renders "<key> <op> <fmt(?, sqlType)>" (op defaults to "=").
type Cast struct {
	V       interface{}
	SQLType string
	Op      string
}

func (c Cast) Compile(paramsOut *[]interface{}, keyName string, fmtr CastFormatter) string {
	*paramsOut = append(*paramsOut, c.V)
	op := c.Op
	if op == "" {
		op = "="
	}
	rendered := fmtr("?", c.SQLType)
	if keyName == "" {
		return rendered
	}
	return fmt.Sprintf("%s %s %s", keyName, op, rendered)
}

// CastArray is the IN-expanded form of Cast: every element gets the same
// cast suffix applied to its placeholder.
type CastArray struct {
	Values  []interface{}
	SQLType string
}

func (ca CastArray) Compile(paramsOut *[]interface{}, keyName string, fmtr CastFormatter) string {
	if len(ca.Values) == 0 {
		return "1 = 0"
	}
	parts := make([]string, len(ca.Values))
	for i, v := range ca.Values {
		*paramsOut = append(*paramsOut, v)
		parts[i] = fmtr("?", ca.SQLType)
	}
	joined := joinComma(parts)
	if keyName == "" {
		return "(" + joined + ")"
	}
	return keyName + " IN (" + joined + ")"
}

// TupleIn renders composite-key membership: (c1, c2, ...) IN ((?, ?, ...), ...).
// An empty tuple list compiles to the stable-false fragment.
type TupleIn struct {
	Columns []Column
	Tuples  [][]interface{}
}

func (t TupleIn) Compile(paramsOut *[]interface{}, _ string, _ CastFormatter) string {
	if len(t.Tuples) == 0 {
		return "1 = 0"
	}
	colNames := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		colNames[i] = c.ColumnName
	}
	tupleParts := make([]string, len(t.Tuples))
	for i, tuple := range t.Tuples {
		ph := make([]string, len(tuple))
		for j, v := range tuple {
			*paramsOut = append(*paramsOut, v)
			ph[j] = "?"
		}
		tupleParts[i] = "(" + joinComma(ph) + ")"
	}
	return fmt.Sprintf("(%s) IN (%s)", joinComma(colNames), joinComma(tupleParts))
}

// Dynamic splices a fragment that already contains its own "?" placeholders,
// appending the supplied values in order.
type Dynamic struct {
	SQL    string
	Values []interface{}
}

func (d Dynamic) Compile(paramsOut *[]interface{}, keyName string, _ CastFormatter) string {
	*paramsOut = append(*paramsOut, d.Values...)
	if keyName == "" {
		return d.SQL
	}
	return keyName + " " + d.SQL
}

// ParentRef renders a qualified column reference with no bound parameter,
// enabling correlated subqueries.
type ParentRef struct{ Col Column }

func (p ParentRef) Compile(_ *[]interface{}, _ string, _ CastFormatter) string {
	return p.Col.TableName + "." + p.Col.ColumnName
}

// SubqueryKind selects between IN and NOT IN rendering for Subquery.
type SubqueryKind int

const (
	SubqueryIn SubqueryKind = iota
	SubqueryNotIn
)

// Subquery renders parent-key membership against a correlated SELECT.
type Subquery struct {
	ParentCols  []Column
	TargetTable string
	SelectCols  []string
	Conds       *ConditionTree
	Kind        SubqueryKind
}

func (s Subquery) Compile(paramsOut *[]interface{}, _ string, fmtr CastFormatter) string {
	qualified := func(c Column) string {
		if c.TableName == "" {
			return c.ColumnName
		}
		return c.TableName + "." + c.ColumnName
	}
	lhs := qualified(s.ParentCols[0])
	if len(s.ParentCols) > 1 {
		names := make([]string, len(s.ParentCols))
		for i, c := range s.ParentCols {
			names[i] = qualified(c)
		}
		lhs = "(" + joinComma(names) + ")"
	}
	op := "IN"
	if s.Kind == SubqueryNotIn {
		op = "NOT IN"
	}
	inner := fmt.Sprintf("SELECT %s FROM %s", joinComma(s.SelectCols), s.TargetTable)
	if s.Conds != nil {
		where := s.Conds.Compile(paramsOut, fmtr)
		if where != "" {
			inner += " WHERE " + where
		}
	}
	return fmt.Sprintf("%s %s (%s)", lhs, op, inner)
}

// Exists renders [NOT ]EXISTS (SELECT 1 FROM <table>[ WHERE <conds>]).
type Exists struct {
	Table    string
	Conds    *ConditionTree
	Negated  bool
}

func (e Exists) Compile(paramsOut *[]interface{}, _ string, fmtr CastFormatter) string {
	inner := "SELECT 1 FROM " + e.Table
	if e.Conds != nil {
		where := e.Conds.Compile(paramsOut, fmtr)
		if where != "" {
			inner += " WHERE " + where
		}
	}
	prefix := "EXISTS"
	if e.Negated {
		prefix = "NOT EXISTS"
	}
	return fmt.Sprintf("%s (%s)", prefix, inner)
}

// DBToken is a pluggable value carrier for callers that need to embed their
// own SQL fragment (e.g. PostGIS ST_GeomFromText(...)) alongside its bound
// params. A DBToken value anywhere in a batch INSERT forces the dialect
// builder to fall back from UNNEST/ROW bulk forms to plain VALUES() rows,
// since array-of-column transposition cannot carry a per-row custom
// fragment.
type DBToken struct {
	Render func(paramsOut *[]interface{}, fmtr CastFormatter) string
}

func (t DBToken) Compile(paramsOut *[]interface{}, keyName string, fmtr CastFormatter) string {
	rendered := t.Render(paramsOut, fmtr)
	if keyName == "" {
		return rendered
	}
	return keyName + " = " + rendered
}

func joinComma(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ", "
		}
		out += p
	}
	return out
}
