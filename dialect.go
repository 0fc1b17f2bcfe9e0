// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"fmt"
	"strings"
)

// InsertSpec describes a batch of rows to insert.
type InsertSpec struct {
	Table                string
	Columns              []Column
	Records              [][]interface{} // one slice of column values per row, same order as Columns.
	OnConflictCols       []Column
	OnConflictIgnore     bool
	OnConflictUpdateCols []Column // columns to refresh from the incoming row on conflict.
	Returning            bool
}

// UpdateSpec describes a single-row UPDATE.
type UpdateSpec struct {
	Table         string
	SetClauses    []SetClause
	Where         *ConditionTree
	Returning     bool
	ReturningCols []Column
}

// SetClause is one "column = value" assignment. A SKIP value (IsSkip) drops
// the clause entirely.
type SetClause struct {
	Col Column
	Val ValueNode
}

// UpdateManyRecord is one row of a batch UPDATE: Keys supplies the values
// for UpdateManySpec.KeyColumns (in order) and Values supplies the values
// for UpdateManySpec.UpdateColumns (in order); Skip marks per-column values
// in this row that should be left untouched.
type UpdateManyRecord struct {
	Keys   []interface{}
	Values []interface{}
	Skip   []bool // parallel to UpdateColumns; true means "leave existing value".
}

// UpdateManySpec describes a batch UPDATE of N rows with per-row values.
type UpdateManySpec struct {
	Table         string
	KeyColumns    []Column
	UpdateColumns []Column
	Records       []UpdateManyRecord
	Returning     bool
	ReturningCols []Column
}

// DeleteSpec describes a DELETE statement. Returning mirrors UpdateSpec's:
// RETURNING-capable
// dialects append ReturningCols to the DELETE itself, MySQL relies on the
// query engine's pre-SELECT instead and never sees Returning set.
type DeleteSpec struct {
	Table         string
	Where         *ConditionTree
	Returning     bool
	ReturningCols []Column
}

// CompiledSQL is a builder's output: SQL text plus positional parameters in
// the stable shape the dialect promises.
type CompiledSQL struct {
	SQL    string
	Params []interface{}
}

// SqlBuilder is the single interface dialect-specific builders implement.
// Static dispatch on the concrete builder chosen at base-assembly time
// replaces any per-call "if dialect" branching.
type SqlBuilder interface {
	Dialect() Dialect
	SupportsReturning() bool
	CastFormatter() CastFormatter

	BuildInsert(spec InsertSpec) (CompiledSQL, error)
	BuildUpdate(spec UpdateSpec) (CompiledSQL, error)
	BuildUpdateMany(spec UpdateManySpec) (CompiledSQL, error)
	BuildDelete(spec DeleteSpec) (CompiledSQL, error)
	BuildSelect(sel SelectSpec) (CompiledSQL, error)
	BuildSelectPkeys(table string, pkeyColumns []Column, where *ConditionTree) (CompiledSQL, error)
	BuildFindByPkeys(table string, pkeyColumns []Column, pkeyValues [][]interface{}, selectCols []string) (CompiledSQL, error)
	BuildReturning(table string, columns []Column) string

	// BuildRelationLimited renders a batch relation fetch with a per-parent
	// row cap: a PostgreSQL LATERAL join or a
	// MySQL/SQLite ROW_NUMBER() OVER (PARTITION BY ...) wrapper, since plain
	// LIMIT applies to the whole result set rather than per source key.
	BuildRelationLimited(spec RelationLimitSpec) (CompiledSQL, error)
}

// RelationLimitSpec describes a hasMany relation fetch capped to N rows per
// source key tuple. TargetCols are the relation's target-side
// key columns, in key-pair order; Tuples are the distinct, non-null source
// key tuples collected from the owning batch context.
type RelationLimitSpec struct {
	TargetTable    string
	TargetCols     []Column
	Tuples         [][]interface{}
	Where          *ConditionTree
	OrderBy        []OrderSpec
	PerParentLimit int
	OuterLimit     int // 0 means unset; applied as a final LIMIT on the whole bucketed result.
	SelectCols     []string
}

func (s RelationLimitSpec) selectCols() string {
	if len(s.SelectCols) > 0 {
		return joinComma(s.SelectCols)
	}
	return "*"
}

func (s RelationLimitSpec) targetColNames() []string {
	names := make([]string, len(s.TargetCols))
	for i, c := range s.TargetCols {
		names[i] = c.ColumnName
	}
	return names
}

// buildRelationLimitedWindow renders the ROW_NUMBER()-over-PARTITION form of
// a per-parent-capped relation fetch, shared by MySQL and SQLite; PostgreSQL
// gets the LATERAL-join form instead.
func buildRelationLimitedWindow(spec RelationLimitSpec, fmtr CastFormatter) (CompiledSQL, error) {
	if len(spec.Tuples) == 0 {
		return CompiledSQL{SQL: "SELECT * FROM " + spec.TargetTable + " WHERE 1 = 0"}, nil
	}
	var params []interface{}
	targetNames := spec.targetColNames()
	var whereFrag string
	if len(spec.TargetCols) == 1 {
		values := make([]interface{}, len(spec.Tuples))
		for i, t := range spec.Tuples {
			values[i] = t[0]
		}
		whereFrag = Array{Values: values}.Compile(&params, targetNames[0], fmtr)
	} else {
		whereFrag = TupleIn{Columns: spec.TargetCols, Tuples: spec.Tuples}.Compile(&params, "", fmtr)
	}
	if extra := buildWhereClause(spec.Where, &params, fmtr); extra != "" {
		whereFrag += " AND " + strings.TrimPrefix(extra, " WHERE ")
	}
	orderClause := "(SELECT NULL)"
	if len(spec.OrderBy) > 0 {
		orderClause = RenderOrderBy(spec.OrderBy)
	}
	inner := fmt.Sprintf(
		"SELECT %s, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) AS relo_rn FROM %s WHERE %s",
		spec.selectCols(), joinComma(targetNames), orderClause, spec.TargetTable, whereFrag,
	)
	sqlText := fmt.Sprintf("SELECT * FROM (%s) AS relo_ranked WHERE relo_rn <= %d", inner, spec.PerParentLimit)
	if spec.OuterLimit > 0 {
		sqlText += fmt.Sprintf(" LIMIT %d", spec.OuterLimit)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// SelectSpec describes a SELECT statement.
type SelectSpec struct {
	SelectCols       []string
	From             string // table name, or CTE alias when CTE is set.
	CTE              string // "WITH <alias> AS (ctesql)" body, empty if not query-based.
	CTEAlias         string
	CTEPrebindParams []interface{}
	Where            *ConditionTree
	GroupBy          string
	OrderBy          []OrderSpec
	Limit            int // 0 means unset.
	Offset           int // 0 or less means unset.
	CountOnly        bool
}

func quoteIdent(charL, charR, name string) string { return charL + name + charR }

func joinColumnNames(cols []Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.ColumnName
	}
	return joinComma(names)
}

func placeholderList(n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = "?"
	}
	return joinComma(out)
}

// buildWhereClause renders a condition tree as " WHERE <body>", or "" if the
// tree compiles to nothing.
func buildWhereClause(cond *ConditionTree, params *[]interface{}, fmtr CastFormatter) string {
	body := cond.Compile(params, fmtr)
	if body == "" {
		return ""
	}
	return " WHERE " + body
}

func errUnsupportedReturning(dialect Dialect) error {
	return fmt.Errorf("relo: dialect %s does not support RETURNING natively", dialect)
}

// buildSelectCommon renders the SELECT/CTE/WHERE/GROUP/ORDER/LIMIT/OFFSET
// shape shared by all three dialects; only cast formatting differs per
// dialect, supplied by the caller. Identifiers are emitted unquoted.
func buildSelectCommon(sel SelectSpec, fmtr CastFormatter) (CompiledSQL, error) {
	var params []interface{}
	if len(sel.CTEPrebindParams) > 0 {
		params = append(params, sel.CTEPrebindParams...)
	}
	cols := "*"
	if sel.CountOnly {
		cols = "COUNT(*)"
	} else if len(sel.SelectCols) > 0 {
		cols = joinComma(sel.SelectCols)
	}

	from := sel.From
	prefix := ""
	if sel.CTE != "" {
		prefix = fmt.Sprintf("WITH %s AS (%s) ", sel.CTEAlias, sel.CTE)
		from = sel.CTEAlias
	}

	sqlText := fmt.Sprintf("%sSELECT %s FROM %s", prefix, cols, from)
	sqlText += buildWhereClause(sel.Where, &params, fmtr)

	if sel.GroupBy != "" {
		sqlText += " GROUP BY " + sel.GroupBy
	}
	if len(sel.OrderBy) > 0 {
		sqlText += " ORDER BY " + RenderOrderBy(sel.OrderBy)
	}
	if sel.Limit > 0 {
		sqlText += fmt.Sprintf(" LIMIT %d", sel.Limit)
	}
	if sel.Offset > 0 {
		sqlText += fmt.Sprintf(" OFFSET %d", sel.Offset)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}
