// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"fmt"
)

// PkeyResult carries back the primary-key values for every row of a batch
// INSERT, in row order, regardless of whether the dialect returned them
// natively or they had to be synthesized.
type PkeyResult struct {
	Key    []Column
	Values [][]interface{}
}

// resolvePkeyResult turns a driver write outcome into a PkeyResult via one
// of three strategies: native RETURNING rows, a contiguous insertId range
// (MySQL auto_increment single-column pkey only), or the caller's own
// presupplied pkey values for tables whose pkey isn't server-generated.
func resolvePkeyResult(ctx context.Context, builder SqlBuilder, pkeyCols []Column, rowCount int, returnedRows Rows, lastInsertID int64, presuppliedKeys [][]interface{}) (PkeyResult, error) {
	if len(presuppliedKeys) > 0 {
		return PkeyResult{Key: pkeyCols, Values: presuppliedKeys}, nil
	}
	if builder.SupportsReturning() {
		return pkeyResultFromRows(pkeyCols, returnedRows)
	}
	return pkeyResultFromInsertIDRange(pkeyCols, rowCount, lastInsertID)
}

func pkeyResultFromRows(pkeyCols []Column, rows Rows) (PkeyResult, error) {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		tuple := make([]interface{}, len(pkeyCols))
		for j, col := range pkeyCols {
			v, ok := row[col.ColumnName]
			if !ok {
				return PkeyResult{}, fmt.Errorf("relo: RETURNING result missing pkey column %q", col.ColumnName)
			}
			tuple[j] = v.Val()
		}
		values[i] = tuple
	}
	return PkeyResult{Key: pkeyCols, Values: values}, nil
}

// pkeyResultFromInsertIDRange emulates RETURNING on MySQL for a
// single-column auto_increment primary key: MySQL guarantees that a
// multi-row INSERT's LastInsertId is the id of the FIRST row inserted, and
// that ids are contiguous across the statement for a plain auto_increment
// column. This does not
// hold if the table has triggers or a non-default auto_increment step, a
// documented limitation rather than a bug in the range arithmetic.
func pkeyResultFromInsertIDRange(pkeyCols []Column, rowCount int, lastInsertID int64) (PkeyResult, error) {
	if len(pkeyCols) != 1 {
		return PkeyResult{}, fmt.Errorf("relo: insertId-range RETURNING emulation requires exactly one auto-generated pkey column, got %d", len(pkeyCols))
	}
	if rowCount <= 0 {
		return PkeyResult{Key: pkeyCols}, nil
	}
	values := make([][]interface{}, rowCount)
	for i := 0; i < rowCount; i++ {
		values[i] = []interface{}{lastInsertID + int64(i)}
	}
	return PkeyResult{Key: pkeyCols, Values: values}, nil
}

// pkeyResultFromPreSelect emulates RETURNING for MySQL tables whose pkey is
// not server-generated (natural keys supplied by the caller): rather than
// trusting insertId arithmetic, it re-reads the rows with the builder's
// BuildFindByPkeys on the caller's own pkey values immediately after the
// INSERT, through exec, inside the same
// transaction so the read is consistent.
func pkeyResultFromPreSelect(ctx context.Context, exec func(ctx context.Context, sql string, params []interface{}) (Rows, error), builder SqlBuilder, table string, pkeyCols []Column, keyValues [][]interface{}) (PkeyResult, error) {
	compiled, err := builder.BuildFindByPkeys(table, pkeyCols, keyValues, columnNamesOf(pkeyCols))
	if err != nil {
		return PkeyResult{}, err
	}
	rows, err := exec(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return PkeyResult{}, err
	}
	return pkeyResultFromRows(pkeyCols, rows)
}

func columnNamesOf(cols []Column) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.ColumnName
	}
	return out
}
