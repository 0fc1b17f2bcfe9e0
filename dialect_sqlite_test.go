// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSqlite_BuildInsert_ConflictDoUpdate(t *testing.T) {
	b := SqliteBuilder{}
	spec := InsertSpec{
		Table:                "users",
		Columns:              userCols(),
		Records:              [][]interface{}{{1, "alice"}},
		OnConflictCols:       []Column{{ColumnName: "id"}},
		OnConflictUpdateCols: []Column{{ColumnName: "name"}},
	}
	compiled, err := b.BuildInsert(spec)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "ON CONFLICT (id) DO UPDATE SET name = excluded.name")
}

func TestSqlite_BuildInsert_ConflictDoNothing(t *testing.T) {
	b := SqliteBuilder{}
	spec := InsertSpec{
		Table:          "users",
		Columns:        userCols(),
		Records:        [][]interface{}{{1, "alice"}},
		OnConflictCols: []Column{{ColumnName: "id"}},
	}
	compiled, err := b.BuildInsert(spec)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "ON CONFLICT (id) DO NOTHING")
}

// TestSqlite_BuildUpdateMany_CaseWhenChain covers the batch-update form:
// per-column searched CASE chains keyed on the key column, falling
// back to the existing value when no WHEN matches. A skipped row is simply
// absent from that column's chain.
func TestSqlite_BuildUpdateMany_CaseWhenChain(t *testing.T) {
	b := SqliteBuilder{}
	spec := UpdateManySpec{
		Table:         "users",
		KeyColumns:    []Column{{ColumnName: "id"}},
		UpdateColumns: []Column{{ColumnName: "name"}, {ColumnName: "age"}},
		Records: []UpdateManyRecord{
			{Keys: []interface{}{1}, Values: []interface{}{"alice", 30}, Skip: []bool{false, false}},
			{Keys: []interface{}{2}, Values: []interface{}{"bob", nil}, Skip: []bool{false, true}},
		},
	}
	compiled, err := b.BuildUpdateMany(spec)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "name = CASE WHEN id = ? THEN ? WHEN id = ? THEN ? ELSE name END")
	assert.Contains(t, compiled.SQL, "age = CASE WHEN id = ? THEN ? ELSE age END")
	assert.Contains(t, compiled.SQL, "WHERE id IN (?, ?)")
	assert.Equal(t, []interface{}{1, "alice", 2, "bob", 1, 30, 1, 2}, compiled.Params)
}

// TestSqlite_BuildUpdateMany_CompositeKey covers the composite-key rendering:
// each WHEN becomes a parenthesized conjunction and the outer filter a
// row-value IN.
func TestSqlite_BuildUpdateMany_CompositeKey(t *testing.T) {
	b := SqliteBuilder{}
	spec := UpdateManySpec{
		Table:         "orders",
		KeyColumns:    []Column{{ColumnName: "tenant_id"}, {ColumnName: "id"}},
		UpdateColumns: []Column{{ColumnName: "status"}},
		Records: []UpdateManyRecord{
			{Keys: []interface{}{1, 10}, Values: []interface{}{"paid"}, Skip: []bool{false}},
			{Keys: []interface{}{1, 11}, Values: []interface{}{"void"}, Skip: []bool{false}},
		},
	}
	compiled, err := b.BuildUpdateMany(spec)
	require.NoError(t, err)
	assert.Equal(t,
		"UPDATE orders SET status = CASE WHEN (tenant_id = ? AND id = ?) THEN ? WHEN (tenant_id = ? AND id = ?) THEN ? ELSE status END WHERE (tenant_id, id) IN ((?, ?), (?, ?))",
		compiled.SQL,
	)
	assert.Equal(t, []interface{}{1, 10, "paid", 1, 11, "void", 1, 10, 1, 11}, compiled.Params)
}

// TestSqlite_BuildFindByPkeys_CompositeUsesTopLevelCTE pins the exact
// shape: a top-level WITH clause, not a CTE nested inside a JOIN subquery.
func TestSqlite_BuildFindByPkeys_CompositeUsesTopLevelCTE(t *testing.T) {
	b := SqliteBuilder{}
	cols := []Column{{ColumnName: "tenant_id"}, {ColumnName: "id"}}
	compiled, err := b.BuildFindByPkeys("orders", cols, [][]interface{}{{1, 10}, {1, 11}}, nil)
	require.NoError(t, err)
	assert.Equal(t,
		"WITH v(tenant_id, id) AS (VALUES (?, ?), (?, ?)) SELECT * FROM orders AS t JOIN v ON t.tenant_id = v.tenant_id AND t.id = v.id",
		compiled.SQL,
	)
	assert.Equal(t, []interface{}{1, 10, 1, 11}, compiled.Params)
}

func TestSqlite_BuildFindByPkeys_SingleColumn(t *testing.T) {
	b := SqliteBuilder{}
	compiled, err := b.BuildFindByPkeys("users", []Column{{ColumnName: "id"}}, [][]interface{}{{1}, {2}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "SELECT * FROM users WHERE id IN (?, ?)", compiled.SQL)
}

func TestSqlite_SupportsReturningTrue(t *testing.T) {
	assert.True(t, SqliteBuilder{}.SupportsReturning())
}

func TestSqlite_BuildRelationLimited_WindowForm(t *testing.T) {
	b := SqliteBuilder{}
	spec := RelationLimitSpec{
		TargetTable:    "orders",
		TargetCols:     []Column{{ColumnName: "user_id"}},
		Tuples:         [][]interface{}{{1}},
		PerParentLimit: 1,
	}
	compiled, err := b.BuildRelationLimited(spec)
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "ROW_NUMBER() OVER (PARTITION BY user_id")
	assert.Contains(t, compiled.SQL, "relo_rn <= 1")
}
