// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"fmt"
	"strings"
)

// MysqlBuilder implements SqlBuilder for MySQL. It leans on VALUES ROW
// batch forms and ON DUPLICATE KEY UPDATE rather than PostgreSQL's
// UNNEST/array machinery.
type MysqlBuilder struct{}

func (MysqlBuilder) Dialect() Dialect        { return DialectMySQL }
func (MysqlBuilder) SupportsReturning() bool { return false }
func (MysqlBuilder) CastFormatter() CastFormatter {
	return func(placeholder, sqlType string) string {
		return placeholder
	}
}

const myCharL, myCharR = "`", "`"

func (b MysqlBuilder) BuildInsert(spec InsertSpec) (CompiledSQL, error) {
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
	insertVerb := "INSERT"
	if spec.OnConflictIgnore {
		// MySQL has no column-scoped ON CONFLICT; "ignore" maps to INSERT
		// IGNORE rather than any ON DUPLICATE KEY UPDATE clause.
		insertVerb = "INSERT IGNORE"
	}
	sqlText := fmt.Sprintf("%s INTO %s (%s) VALUES %s", insertVerb, spec.Table, cols, joinComma(rowsSQL))
	sqlText += b.conflictClause(spec)
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b MysqlBuilder) conflictClause(spec InsertSpec) string {
	if len(spec.OnConflictCols) == 0 || spec.OnConflictIgnore || len(spec.OnConflictUpdateCols) == 0 {
		return ""
	}
	sets := make([]string, len(spec.OnConflictUpdateCols))
	for i, c := range spec.OnConflictUpdateCols {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", c.ColumnName, c.ColumnName)
	}
	return " ON DUPLICATE KEY UPDATE " + joinComma(sets)
}

func (b MysqlBuilder) BuildUpdate(spec UpdateSpec) (CompiledSQL, error) {
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
		return CompiledSQL{}, errUnsupportedReturning(DialectMySQL)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// BuildUpdateMany renders the JOIN-VALUES-ROW batch form:
//
//	UPDATE t AS t JOIN (VALUES ROW(?,?,?,?,?),...) AS v(k0, _skip_c1, c1, _skip_c2, c2)
//	  ON t.k = v.k0
//	  SET t.c1 = IF(v._skip_c1, t.c1, v.c1), t.c2 = IF(v._skip_c2, t.c2, v.c2)
//
// VALUES ROW needs MySQL 8.0.19 or later. There is no per-row fallback for
// older servers: the query engine always uses this form, whatever the
// server version.
func (b MysqlBuilder) BuildUpdateMany(spec UpdateManySpec) (CompiledSQL, error) {
	if len(spec.Records) == 0 {
		return CompiledSQL{}, nil
	}
	var params []interface{}
	keyAliasCols := make([]string, len(spec.KeyColumns))
	for i := range spec.KeyColumns {
		keyAliasCols[i] = "k" + itoa(i)
	}
	rowsSQL := make([]string, len(spec.Records))
	for i, rec := range spec.Records {
		cells := make([]string, 0, len(spec.KeyColumns)+len(spec.UpdateColumns)*2)
		for _, kv := range rec.Keys {
			params = append(params, kv)
			cells = append(cells, "?")
		}
		for j, vv := range rec.Values {
			skipped := j < len(rec.Skip) && rec.Skip[j]
			params = append(params, skipped, vv)
			cells = append(cells, "?", "?")
		}
		rowsSQL[i] = "ROW(" + joinComma(cells) + ")"
	}
	// Every column gets a paired _skip_<col> flag column in VALUES ROW so
	// the SET clause can IF()-fall-back uniformly, not only for columns
	// where some row skips; the flag is simply always false otherwise.
	fullAliasCols := make([]string, 0, len(keyAliasCols)+len(spec.UpdateColumns)*2)
	fullAliasCols = append(fullAliasCols, keyAliasCols...)
	for _, c := range spec.UpdateColumns {
		fullAliasCols = append(fullAliasCols, "_skip_"+c.ColumnName, c.ColumnName)
	}
	sets := make([]string, len(spec.UpdateColumns))
	for j, c := range spec.UpdateColumns {
		sets[j] = fmt.Sprintf("t.%s = IF(v._skip_%s, t.%s, v.%s)", c.ColumnName, c.ColumnName, c.ColumnName, c.ColumnName)
	}
	joinConds := make([]string, len(spec.KeyColumns))
	for i, c := range spec.KeyColumns {
		joinConds[i] = fmt.Sprintf("t.%s = v.k%d", c.ColumnName, i)
	}
	sqlText := fmt.Sprintf(
		"UPDATE %s AS t JOIN (VALUES %s) AS v(%s) ON %s SET %s",
		spec.Table, joinComma(rowsSQL), joinComma(fullAliasCols), strings.Join(joinConds, " AND "), joinComma(sets),
	)
	if spec.Returning {
		return CompiledSQL{}, errUnsupportedReturning(DialectMySQL)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b MysqlBuilder) BuildDelete(spec DeleteSpec) (CompiledSQL, error) {
	if spec.Returning {
		return CompiledSQL{}, errUnsupportedReturning(DialectMySQL)
	}
	var params []interface{}
	sqlText := "DELETE FROM " + spec.Table
	sqlText += buildWhereClause(spec.Where, &params, b.CastFormatter())
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b MysqlBuilder) BuildSelect(sel SelectSpec) (CompiledSQL, error) {
	return buildSelectCommon(sel, b.CastFormatter())
}

func (b MysqlBuilder) BuildSelectPkeys(table string, pkeyColumns []Column, where *ConditionTree) (CompiledSQL, error) {
	var params []interface{}
	sqlText := fmt.Sprintf("SELECT DISTINCT %s FROM %s", joinColumnNames(pkeyColumns), table)
	sqlText += buildWhereClause(where, &params, b.CastFormatter())
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// BuildFindByPkeys renders a plain IN(...) for single-column keys and a
// JOIN against a VALUES ROW derived table for composite keys, the same
// 8.0.19+ construct BuildUpdateMany already leans on.
func (b MysqlBuilder) BuildFindByPkeys(table string, pkeyColumns []Column, pkeyValues [][]interface{}, selectCols []string) (CompiledSQL, error) {
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
	rowsSQL := make([]string, len(pkeyValues))
	for i, tuple := range pkeyValues {
		ph := make([]string, len(tuple))
		for j, v := range tuple {
			params = append(params, v)
			ph[j] = "?"
		}
		rowsSQL[i] = "ROW(" + joinComma(ph) + ")"
	}
	aliasCols := make([]string, len(pkeyColumns))
	joinConds := make([]string, len(pkeyColumns))
	for j, c := range pkeyColumns {
		aliasCols[j] = c.ColumnName
		joinConds[j] = fmt.Sprintf("t.%s = v.%s", c.ColumnName, c.ColumnName)
	}
	sqlText := fmt.Sprintf(
		"SELECT %s FROM %s AS t JOIN (VALUES %s) AS v(%s) ON %s",
		cols, table, joinComma(rowsSQL), joinComma(aliasCols), strings.Join(joinConds, " AND "),
	)
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// BuildReturning has no native MySQL equivalent; callers emulate RETURNING
// via the insertId-range trick (single-column auto_increment PK) or a
// pre-SELECT, implemented in pkey.go for create() and in
// Base.preselectPkeys (query.go) for update()/updateMany()/delete(), since
// they need the driver's results, not just SQL text.
func (b MysqlBuilder) BuildReturning(table string, columns []Column) string { return "" }

// BuildRelationLimited renders the ROW_NUMBER()-over-PARTITION form; MySQL
// 8.0+ window-function support is assumed, consistent with
// BuildUpdateMany's VALUES ROW requiring 8.0.19+.
func (b MysqlBuilder) BuildRelationLimited(spec RelationLimitSpec) (CompiledSQL, error) {
	return buildRelationLimitedWindow(spec, b.CastFormatter())
}
