// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"fmt"
	"strings"
)

// PostgresBuilder implements SqlBuilder for PostgreSQL. It favors set-based
// UNNEST/array forms so a batch of any size binds a fixed number of
// parameters.
type PostgresBuilder struct{}

func (PostgresBuilder) Dialect() Dialect         { return DialectPostgres }
func (PostgresBuilder) SupportsReturning() bool  { return true }
func (PostgresBuilder) CastFormatter() CastFormatter {
	return func(placeholder, sqlType string) string {
		if sqlType == "" {
			return placeholder
		}
		return placeholder + "::" + sqlType
	}
}

const pgCharL, pgCharR = `"`, `"`

func (b PostgresBuilder) BuildInsert(spec InsertSpec) (CompiledSQL, error) {
	if len(spec.Records) == 0 {
		return CompiledSQL{}, fmt.Errorf("relo: insert requires at least one record")
	}
	if len(spec.Records) == 1 || hasDBToken(spec.Records) {
		return b.buildInsertValues(spec)
	}
	return b.buildInsertUnnest(spec)
}

func hasDBToken(records [][]interface{}) bool {
	for _, row := range records {
		for _, v := range row {
			if _, ok := v.(DBToken); ok {
				return true
			}
		}
	}
	return false
}

func (b PostgresBuilder) buildInsertValues(spec InsertSpec) (CompiledSQL, error) {
	var params []interface{}
	cols := joinColumnNames(spec.Columns)
	rowsSQL := make([]string, len(spec.Records))
	fmtr := b.CastFormatter()
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

// buildInsertUnnest renders the set-based batch form:
//
//	INSERT INTO t (c1, c2) SELECT v.c1, v.c2 FROM UNNEST($1::t1[], $2::t2[]) AS v(c1, c2)
//
// one array parameter per column.
func (b PostgresBuilder) buildInsertUnnest(spec InsertSpec) (CompiledSQL, error) {
	n := len(spec.Columns)
	columnArrays := make([][]interface{}, n)
	for _, row := range spec.Records {
		for j := 0; j < n; j++ {
			columnArrays[j] = append(columnArrays[j], row[j])
		}
	}
	var params []interface{}
	unnestArgs := make([]string, n)
	selectExprs := make([]string, n)
	aliasCols := make([]string, n)
	for j, col := range spec.Columns {
		aliasCols[j] = col.ColumnName
		sqlType := pgArrayElemType(col.SQLType)
		params = append(params, columnArrays[j])
		unnestArgs[j] = fmt.Sprintf("?::%s[]", sqlType)
		switch {
		case isJSONType(col.SQLType):
			selectExprs[j] = fmt.Sprintf("v.%s::jsonb", col.ColumnName)
		case isArrayType(col.SQLType):
			// Array columns travel as text[] of JSON-encoded rows and are
			// projected back into typed arrays via jsonb_array_elements_text.
			elemType := strings.TrimSuffix(col.SQLType, "[]")
			selectExprs[j] = fmt.Sprintf(
				"CASE WHEN v.%s IS NULL THEN NULL ELSE COALESCE((SELECT array_agg(x::%s) FROM jsonb_array_elements_text(v.%s::jsonb) AS x), ARRAY[]::%s[]) END",
				col.ColumnName, elemType, col.ColumnName, elemType,
			)
		default:
			selectExprs[j] = "v." + col.ColumnName
		}
	}
	cols := joinColumnNames(spec.Columns)
	sqlText := fmt.Sprintf(
		"INSERT INTO %s (%s) SELECT %s FROM UNNEST(%s) AS v(%s)",
		spec.Table, cols, joinComma(selectExprs), joinComma(unnestArgs), joinComma(aliasCols),
	)
	sqlText += b.conflictClause(spec)
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, nil)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func pgArrayElemType(sqlType string) string {
	if sqlType == "" {
		return "text"
	}
	if isJSONType(sqlType) {
		return "text"
	}
	if isArrayType(sqlType) {
		return "text"
	}
	return sqlType
}

func isJSONType(sqlType string) bool {
	t := strings.ToLower(sqlType)
	return t == "json" || t == "jsonb"
}

func isArrayType(sqlType string) bool { return strings.HasSuffix(sqlType, "[]") }

func renderInsertValue(v interface{}, col Column, params *[]interface{}, fmtr CastFormatter) string {
	if tok, ok := v.(DBToken); ok {
		return tok.Render(params, fmtr)
	}
	if raw, ok := v.(Raw); ok {
		return raw.SQL
	}
	*params = append(*params, v)
	return "?"
}

func (b PostgresBuilder) conflictClause(spec InsertSpec) string {
	if len(spec.OnConflictCols) == 0 {
		return ""
	}
	target := "(" + joinColumnNames(spec.OnConflictCols) + ")"
	if spec.OnConflictIgnore || len(spec.OnConflictUpdateCols) == 0 {
		return fmt.Sprintf(" ON CONFLICT %s DO NOTHING", target)
	}
	sets := make([]string, len(spec.OnConflictUpdateCols))
	for i, c := range spec.OnConflictUpdateCols {
		sets[i] = fmt.Sprintf("%s = EXCLUDED.%s", c.ColumnName, c.ColumnName)
	}
	return fmt.Sprintf(" ON CONFLICT %s DO UPDATE SET %s", target, joinComma(sets))
}

func (b PostgresBuilder) BuildUpdate(spec UpdateSpec) (CompiledSQL, error) {
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
		return CompiledSQL{}, nil // SKIP idempotence: all-SKIP update is a no-op.
	}
	sqlText := fmt.Sprintf("UPDATE %s SET %s", spec.Table, joinComma(sets))
	sqlText += buildWhereClause(spec.Where, &params, fmtr)
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, spec.ReturningCols)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// BuildUpdateMany renders the UNNEST-join batch form:
//
//	UPDATE t SET c = v.c FROM UNNEST(?::t1[], ...) AS v(k1, ..., c1, ...)
//	WHERE t.k1 = v.k1 AND ...
//
// Columns with any skipped row get a parallel boolean array so the SET
// clause can fall back to the existing value with CASE WHEN.
func (b PostgresBuilder) BuildUpdateMany(spec UpdateManySpec) (CompiledSQL, error) {
	if len(spec.Records) == 0 {
		return CompiledSQL{}, nil
	}
	var params []interface{}
	keyArrays := make([][]interface{}, len(spec.KeyColumns))
	valArrays := make([][]interface{}, len(spec.UpdateColumns))
	skipArrays := make([][]interface{}, len(spec.UpdateColumns))
	colHasSkip := make([]bool, len(spec.UpdateColumns))
	for _, rec := range spec.Records {
		for i := range spec.KeyColumns {
			keyArrays[i] = append(keyArrays[i], rec.Keys[i])
		}
		for j := range spec.UpdateColumns {
			valArrays[j] = append(valArrays[j], rec.Values[j])
			skipped := j < len(rec.Skip) && rec.Skip[j]
			skipArrays[j] = append(skipArrays[j], skipped)
			if skipped {
				colHasSkip[j] = true
			}
		}
	}
	vAliasCols := make([]string, 0, len(spec.KeyColumns)+len(spec.UpdateColumns)*2)
	unnestArgs := make([]string, 0, cap(vAliasCols))
	for i, c := range spec.KeyColumns {
		vAliasCols = append(vAliasCols, "k"+itoa(i))
		unnestArgs = append(unnestArgs, fmt.Sprintf("?::%s[]", pgArrayElemType(c.SQLType)))
		params = append(params, keyArrays[i])
	}
	for j, c := range spec.UpdateColumns {
		alias := c.ColumnName
		vAliasCols = append(vAliasCols, alias)
		unnestArgs = append(unnestArgs, fmt.Sprintf("?::%s[]", pgArrayElemType(c.SQLType)))
		params = append(params, valArrays[j])
		if colHasSkip[j] {
			vAliasCols = append(vAliasCols, "_skip_"+alias)
			unnestArgs = append(unnestArgs, "?::boolean[]")
			params = append(params, skipArrays[j])
		}
	}
	sets := make([]string, len(spec.UpdateColumns))
	for j, c := range spec.UpdateColumns {
		if colHasSkip[j] {
			sets[j] = fmt.Sprintf("%s = CASE WHEN v._skip_%s THEN t.%s ELSE v.%s END", c.ColumnName, c.ColumnName, c.ColumnName, c.ColumnName)
		} else {
			sets[j] = fmt.Sprintf("%s = v.%s", c.ColumnName, c.ColumnName)
		}
	}
	joinConds := make([]string, len(spec.KeyColumns))
	for i, c := range spec.KeyColumns {
		joinConds[i] = fmt.Sprintf("t.%s = v.k%d", c.ColumnName, i)
	}
	sqlText := fmt.Sprintf(
		"UPDATE %s AS t SET %s FROM UNNEST(%s) AS v(%s) WHERE %s",
		spec.Table, joinComma(sets), joinComma(unnestArgs), joinComma(vAliasCols), strings.Join(joinConds, " AND "),
	)
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, spec.ReturningCols)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	n := i
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (b PostgresBuilder) BuildDelete(spec DeleteSpec) (CompiledSQL, error) {
	var params []interface{}
	sqlText := "DELETE FROM " + spec.Table
	sqlText += buildWhereClause(spec.Where, &params, b.CastFormatter())
	if spec.Returning {
		sqlText += " " + b.BuildReturning(spec.Table, spec.ReturningCols)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b PostgresBuilder) BuildSelect(sel SelectSpec) (CompiledSQL, error) {
	return buildSelectCommon(sel, b.CastFormatter())
}

func (b PostgresBuilder) BuildSelectPkeys(table string, pkeyColumns []Column, where *ConditionTree) (CompiledSQL, error) {
	var params []interface{}
	sqlText := fmt.Sprintf("SELECT DISTINCT %s FROM %s", joinColumnNames(pkeyColumns), table)
	sqlText += buildWhereClause(where, &params, b.CastFormatter())
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

// BuildFindByPkeys renders the relation-batch-loading shapes: a single pkey
// compiles to "WHERE k = ANY($1::int[])", binding one array parameter
// regardless of how many values are matched; composite keys compile to a
// JOIN UNNEST.
func (b PostgresBuilder) BuildFindByPkeys(table string, pkeyColumns []Column, pkeyValues [][]interface{}, selectCols []string) (CompiledSQL, error) {
	cols := "*"
	if len(selectCols) > 0 {
		cols = joinComma(selectCols)
	}
	if len(pkeyColumns) == 1 {
		col := pkeyColumns[0]
		values := make([]interface{}, len(pkeyValues))
		for i, tuple := range pkeyValues {
			values[i] = tuple[0]
		}
		sqlText := fmt.Sprintf(
			"SELECT %s FROM %s WHERE %s = ANY(?::%s[])",
			cols, table, col.ColumnName, pgArrayElemType(col.SQLType),
		)
		return CompiledSQL{SQL: sqlText, Params: []interface{}{values}}, nil
	}
	n := len(pkeyColumns)
	columnArrays := make([][]interface{}, n)
	for _, tuple := range pkeyValues {
		for j := 0; j < n; j++ {
			columnArrays[j] = append(columnArrays[j], tuple[j])
		}
	}
	unnestArgs := make([]string, n)
	aliasCols := make([]string, n)
	joinConds := make([]string, n)
	var params []interface{}
	for j, c := range pkeyColumns {
		aliasCols[j] = c.ColumnName
		unnestArgs[j] = fmt.Sprintf("?::%s[]", pgArrayElemType(c.SQLType))
		params = append(params, columnArrays[j])
		joinConds[j] = fmt.Sprintf("t.%s = v.%s", c.ColumnName, c.ColumnName)
	}
	sqlText := fmt.Sprintf(
		"SELECT %s FROM %s AS t JOIN UNNEST(%s) AS v(%s) ON %s",
		cols, table, joinComma(unnestArgs), joinComma(aliasCols), strings.Join(joinConds, " AND "),
	)
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func (b PostgresBuilder) BuildReturning(table string, columns []Column) string {
	if len(columns) == 0 {
		return "RETURNING *"
	}
	return "RETURNING " + joinColumnNames(columns)
}

// BuildRelationLimited renders the PostgreSQL LATERAL-join form of a
// per-parent-capped hasMany fetch: one VALUES row per distinct source key
// tuple, cross joined against a LATERAL subquery that applies the
// relation's own ORDER BY/LIMIT per key.
func (b PostgresBuilder) BuildRelationLimited(spec RelationLimitSpec) (CompiledSQL, error) {
	if len(spec.Tuples) == 0 {
		return CompiledSQL{SQL: "SELECT " + spec.selectCols() + " FROM " + spec.TargetTable + " WHERE 1 = 0"}, nil
	}
	var params []interface{}
	n := len(spec.TargetCols)
	keyAliasCols := make([]string, n)
	for i := range keyAliasCols {
		keyAliasCols[i] = "k" + itoa(i)
	}
	valuesRows := make([]string, len(spec.Tuples))
	for i, tuple := range spec.Tuples {
		ph := make([]string, n)
		for j, v := range tuple {
			params = append(params, v)
			ph[j] = "?"
		}
		valuesRows[i] = "(" + joinComma(ph) + ")"
	}
	joinConds := make([]string, n)
	for j, c := range spec.TargetCols {
		joinConds[j] = fmt.Sprintf("t.%s = keys.%s", c.ColumnName, keyAliasCols[j])
	}
	innerWhere := strings.Join(joinConds, " AND ")
	if extra := buildWhereClause(spec.Where, &params, b.CastFormatter()); extra != "" {
		innerWhere += " AND " + strings.TrimPrefix(extra, " WHERE ")
	}
	orderClause := ""
	if len(spec.OrderBy) > 0 {
		orderClause = " ORDER BY " + RenderOrderBy(spec.OrderBy)
	}
	limitClause := ""
	if spec.PerParentLimit > 0 {
		limitClause = fmt.Sprintf(" LIMIT %d", spec.PerParentLimit)
	}
	sqlText := fmt.Sprintf(
		"SELECT t.* FROM (VALUES %s) AS keys(%s) CROSS JOIN LATERAL (SELECT %s FROM %s AS t WHERE %s%s%s) AS t",
		joinComma(valuesRows), joinComma(keyAliasCols), spec.selectCols(), spec.TargetTable, innerWhere, orderClause, limitClause,
	)
	if spec.OuterLimit > 0 {
		sqlText += fmt.Sprintf(" LIMIT %d", spec.OuterLimit)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}
