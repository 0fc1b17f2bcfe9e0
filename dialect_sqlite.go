// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"fmt"
	"strings"
)

// SqliteBuilder implements SqlBuilder for SQLite. It has no set-based batch
// forms analogous to UNNEST or VALUES ROW, so batch UPDATE falls back to a
// per-column CASE WHEN keyed on the primary key.
type SqliteBuilder struct{}

func (SqliteBuilder) Dialect() Dialect        { return DialectSQLite }
func (SqliteBuilder) SupportsReturning() bool { return true }
func (SqliteBuilder) CastFormatter() CastFormatter {
	return func(placeholder, sqlType string) string {
		return placeholder
	}
}

const liteCharL, liteCharR = `"`, `"`

func (b SqliteBuilder) BuildInsert(spec InsertSpec) (CompiledSQL, error) {
	if len(spec.Records) == 0 {
		return CompiledSQL{}, fmt.Errorf("relo: insert requires at least one record")
	}
	var params []interface{}
	cols := joinColumnNames(spec.Columns)
	fmtr := b.CastFormatter()
	rowsSQL := make([]string, len(spec.Records))
	for i, row := range spec.Records {
		ph := make([]string, len(row))
		for j, v := range row {
			ph[j] = renderInsertValue(v, spec.Columns[j], &params, fmtr)
		}
		rowsSQL[i] = "(" + joinComma(ph) + ")"
	}
	sqlText := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s", spec.Table, cols, joinComma(rowsSQL))
	sqlText += b.conflictClause(spec)
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, nil)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b SqliteBuilder) conflictClause(spec InsertSpec) string {
	if len(spec.OnConflictCols) == 0 {
		return ""
	}
	target := "(" + joinColumnNames(spec.OnConflictCols) + ")"
	if spec.OnConflictIgnore || len(spec.OnConflictUpdateCols) == 0 {
		return fmt.Sprintf(" ON CONFLICT %s DO NOTHING", target)
	}
	sets := make([]string, len(spec.OnConflictUpdateCols))
	for i, c := range spec.OnConflictUpdateCols {
		sets[i] = fmt.Sprintf("%s = excluded.%s", c.ColumnName, c.ColumnName)
	}
	return fmt.Sprintf(" ON CONFLICT %s DO UPDATE SET %s", target, joinComma(sets))
}

func (b SqliteBuilder) BuildUpdate(spec UpdateSpec) (CompiledSQL, error) {
	var params []interface{}
	fmtr := b.CastFormatter()
	sets := make([]string, 0, len(spec.SetClauses))
	for _, sc := range spec.SetClauses {
		if _, skip := sc.Val.(skipNode); skip {
			continue
		}
		sets = append(sets, sc.Val.Compile(&params, sc.Col.ColumnName, fmtr))
	}
	if len(sets) == 0 {
		return CompiledSQL{}, nil
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s", spec.Table, joinComma(sets))
	sqlText += buildWhereClause(spec.Where, &params, fmtr)
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, spec.ReturningCols)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// BuildUpdateMany renders the per-column CASE WHEN batch form:
//
//	UPDATE t SET c1 = CASE WHEN k = ? THEN ? WHEN k = ? THEN ? ... ELSE c1 END
//	WHERE k IN (?, ?, ...)
//
// Composite keys render each WHEN as a parenthesized conjunction
// ((k1 = ? AND k2 = ?)) and the outer filter as a row-value IN. A skipped
// row is simply absent from that column's chain, so the ELSE arm preserves
// its existing value.
func (b SqliteBuilder) BuildUpdateMany(spec UpdateManySpec) (CompiledSQL, error) {
	if len(spec.Records) == 0 {
		return CompiledSQL{}, nil
	}
	matchFrag := spec.KeyColumns[0].ColumnName + " = ?"
	if len(spec.KeyColumns) > 1 {
		conds := make([]string, len(spec.KeyColumns))
		for i, c := range spec.KeyColumns {
			conds[i] = c.ColumnName + " = ?"
		}
		matchFrag = "(" + strings.Join(conds, " AND ") + ")"
	}
	var params []interface{}
	sets := make([]string, len(spec.UpdateColumns))
	for j, c := range spec.UpdateColumns {
		when := ""
		var whenParams []interface{}
		for _, rec := range spec.Records {
			if j < len(rec.Skip) && rec.Skip[j] {
				continue
			}
			when += "WHEN " + matchFrag + " THEN ? "
			whenParams = append(whenParams, rec.Keys...)
			whenParams = append(whenParams, rec.Values[j])
		}
		if when == "" {
			sets[j] = fmt.Sprintf("%s = %s", c.ColumnName, c.ColumnName)
			continue
		}
		params = append(params, whenParams...)
		sets[j] = fmt.Sprintf("%s = CASE %sELSE %s END", c.ColumnName, when, c.ColumnName)
	}
	var whereFrag string
	if len(spec.KeyColumns) == 1 {
		keyVals := make([]interface{}, len(spec.Records))
		for i, rec := range spec.Records {
			keyVals[i] = rec.Keys[0]
		}
		whereFrag = fmt.Sprintf("%s IN (%s)", spec.KeyColumns[0].ColumnName, placeholderList(len(keyVals)))
		params = append(params, keyVals...)
	} else {
		tuples := make([]string, len(spec.Records))
		for i, rec := range spec.Records {
			tuples[i] = "(" + placeholderList(len(rec.Keys)) + ")"
			params = append(params, rec.Keys...)
		}
		whereFrag = fmt.Sprintf("(%s) IN (%s)", joinColumnNames(spec.KeyColumns), joinComma(tuples))
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s WHERE %s", spec.Table, joinComma(sets), whereFrag)
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, spec.ReturningCols)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b SqliteBuilder) BuildDelete(spec DeleteSpec) (CompiledSQL, error) {
	var params []interface{}
	sqlText := "DELETE FROM " + spec.Table
	sqlText += buildWhereClause(spec.Where, &params, b.CastFormatter())
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, spec.ReturningCols)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b SqliteBuilder) BuildSelect(sel SelectSpec) (CompiledSQL, error) {
	return buildSelectCommon(sel, b.CastFormatter())
}

func (b SqliteBuilder) BuildSelectPkeys(table string, pkeyColumns []Column, where *ConditionTree) (CompiledSQL, error) {
	var params []interface{}
	sqlText := fmt.Sprintf("SELECT DISTINCT %s FROM %s", joinColumnNames(pkeyColumns), table)
	sqlText += buildWhereClause(where, &params, b.CastFormatter())
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// BuildFindByPkeys renders "col IN (?, ?, ...)" for single-column keys. For
// composite keys it uses a WITH v(...) AS (VALUES (?,?),...) join rather
// than a row-value IN.
func (b SqliteBuilder) BuildFindByPkeys(table string, pkeyColumns []Column, pkeyValues [][]interface{}, selectCols []string) (CompiledSQL, error) {
	cols := "*"
	if len(selectCols) > 0 {
		cols = joinComma(selectCols)
	}
	var params []interface{}
	if len(pkeyColumns) == 1 {
		col := pkeyColumns[0]
		ph := make([]string, len(pkeyValues))
		for i, tuple := range pkeyValues {
			params = append(params, tuple[0])
			ph[i] = "?"
		}
		sqlText := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s)", cols, table, col.ColumnName, joinComma(ph))
		return CompiledSQL{SQL: sqlText, Params: params}, nil
	}
	n := len(pkeyColumns)
	aliasCols := make([]string, n)
	joinConds := make([]string, n)
	for j, c := range pkeyColumns {
		aliasCols[j] = c.ColumnName
		joinConds[j] = fmt.Sprintf("t.%s = v.%s", c.ColumnName, c.ColumnName)
	}
	rowsSQL := make([]string, len(pkeyValues))
	for i, tuple := range pkeyValues {
		ph := make([]string, n)
		for j, v := range tuple {
			params = append(params, v)
			ph[j] = "?"
		}
		rowsSQL[i] = "(" + joinComma(ph) + ")"
	}
	sqlText := fmt.Sprintf(
		"WITH v(%s) AS (VALUES %s) SELECT %s FROM %s AS t JOIN v ON %s",
		joinComma(aliasCols), joinComma(rowsSQL), cols, table, strings.Join(joinConds, " AND "),
	)
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b SqliteBuilder) BuildReturning(table string, columns []Column) string {
	if len(columns) == 0 {
		return "RETURNING *"
	}
	return "RETURNING " + joinColumnNames(columns)
}

// BuildRelationLimited renders the ROW_NUMBER()-over-PARTITION form;
// requires SQLite 3.25+ for window-function support.
func (b SqliteBuilder) BuildRelationLimited(spec RelationLimitSpec) (CompiledSQL, error) {
	return buildRelationLimitedWindow(spec, b.CastFormatter())
}
