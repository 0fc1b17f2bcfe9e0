// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"testing"

	"github.com/gogf/gf/container/gvar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usersDescriptorForQuery() *ModelDescriptor {
	return &ModelDescriptor{
		TableName: "users",
		Columns: map[string]Column{
			"id":   {PropertyName: "id", ColumnName: "id", PrimaryKey: true, Serialize: passthroughCoder, Deserialize: passthroughCoder},
			"name": {PropertyName: "name", ColumnName: "name", Serialize: passthroughCoder, Deserialize: passthroughCoder},
			"age":  {PropertyName: "age", ColumnName: "age", Serialize: passthroughCoder, Deserialize: passthroughCoder},
		},
		ColumnOrder: []string{"id", "name", "age"},
		PkeyColumns: []Column{{PropertyName: "id", ColumnName: "id", PrimaryKey: true}},
	}
}

// TestBase_Find_HardLimitOverflowRaises: a result set
// exceeding the configured FindHardLimit raises LimitExceededError rather
// than silently truncating.
func TestBase_Find_HardLimitOverflowRaises(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	rows := make(Rows, 3)
	for i := range rows {
		rows[i] = Record{"id": gvar.New(i), "name": gvar.New("x"), "age": gvar.New(1)}
	}
	driver.executeResult = rows
	base := newTestBase(driver)
	base.cfg.FindHardLimit = 2

	desc := usersDescriptorForQuery()
	_, err := base.Find(context.Background(), desc, nil, FindOptions{})
	require.Error(t, err)
	var limitErr *LimitExceededError
	assert.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 2, limitErr.Limit)
	assert.Equal(t, 3, limitErr.Actual)
}

func TestBase_Find_UnderHardLimitPasses(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	driver.executeResult = Rows{{"id": gvar.New(1), "name": gvar.New("alice"), "age": gvar.New(30)}}
	base := newTestBase(driver)
	base.cfg.FindHardLimit = 10

	desc := usersDescriptorForQuery()
	rows, err := base.Find(context.Background(), desc, nil, FindOptions{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "alice", rows[0]["name"].String())
}

// TestBase_Find_ExplicitLimitBypassesHardLimitGuard: an
// explicit opts.Limit is a caller-chosen cap, not subject to the N+1 overflow
// check the implicit hard limit performs.
func TestBase_Find_ExplicitLimitBypassesHardLimitGuard(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	rows := make(Rows, 5)
	for i := range rows {
		rows[i] = Record{"id": gvar.New(i), "name": gvar.New("x"), "age": gvar.New(1)}
	}
	driver.executeResult = rows
	base := newTestBase(driver)
	base.cfg.FindHardLimit = 2

	desc := usersDescriptorForQuery()
	got, err := base.Find(context.Background(), desc, nil, FindOptions{Limit: 5})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestBase_FindOne_NoMatchReturnsFalse(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	driver.executeResult = Rows{}
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	row, ok, err := base.FindOne(context.Background(), desc, nil, FindOptions{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, row)
}

func TestBase_EffectiveWhere_DefaultFilterAppliesUnlessUnscoped(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()
	desc.DefaultFilter = NewConditionTree(statusCol.Eq("active"))

	scoped := base.effectiveWhere(desc, nil, false)
	assert.Len(t, scoped.Entries, 1)

	unscoped := base.effectiveWhere(desc, nil, true)
	assert.Empty(t, unscoped.Entries)
}

// TestBase_Update_AllSkipIsNoStatement covers the no-op rule at the
// query-engine level: every Set value equal to Skip drops the column, so no
// UPDATE statement is executed at all.
func TestBase_Update_AllSkipIsNoStatement(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	driver.writeResult = fakeWriteResult{rowCount: 0}
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		_, _, uerr := base.Update(ctx, desc, map[string]interface{}{"name": Skip, "age": Skip}, nil, UpdateOptions{})
		return uerr
	})
	require.NoError(t, err)
	assert.Empty(t, driver.calls())
}

// TestBase_Find_GroupByPrecedence covers the defaultGroup
// precedence: an explicit opts.Group wins, else the descriptor's
// DefaultGroup applies.
func TestBase_Find_GroupByPrecedence(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()
	desc.DefaultGroup = "age"

	_, err := base.Find(context.Background(), desc, nil, FindOptions{})
	require.NoError(t, err)
	calls := driver.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].query, "GROUP BY age")

	_, err = base.Find(context.Background(), desc, nil, FindOptions{Group: "name"})
	require.NoError(t, err)
	calls = driver.calls()
	require.Len(t, calls, 2)
	assert.Contains(t, calls[1].query, "GROUP BY name")
}

func TestBase_Update_MissingColumnErrors(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		_, _, uerr := base.Update(ctx, desc, map[string]interface{}{"bogus": 1}, nil, UpdateOptions{})
		return uerr
	})
	assert.Error(t, err)
}

func TestBase_Create_EmptyRecordsIsNoop(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		pk, cerr := base.Create(ctx, desc, nil, InsertOptions{})
		assert.Empty(t, pk.Values)
		return cerr
	})
	require.NoError(t, err)
}

// TestBase_Create_PresuppliedKeysSkipRangeArithmetic covers the presupplied
// key strategy: when every record already carries its own pkey value, the
// result comes from re-reading the rows by those values, not from insertId.
func TestBase_Create_PresuppliedKeysSkipRangeArithmetic(t *testing.T) {
	driver := newFakeDriver("writer", DialectMySQL)
	base := newTestBase(driver)
	base.builder = MysqlBuilder{}
	desc := usersDescriptorForQuery()

	records := []map[string]interface{}{
		{"id": 10, "name": "alice", "age": 30},
		{"id": 11, "name": "bob", "age": 25},
	}
	var result PkeyResult
	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		conn := driver.connections[len(driver.connections)-1]
		conn.writeResult = fakeWriteResult{rowCount: 2}
		conn.executeResult = Rows{{"id": gvar.New(10)}, {"id": gvar.New(11)}}
		var cerr error
		result, cerr = base.Create(ctx, desc, records, InsertOptions{})
		return cerr
	})
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{10}, {11}}, result.Values)
}

// TestBase_Create_ReturningCapableDialectDecodesFromRows covers the first
// strategy for a dialect that supports RETURNING.
func TestBase_Create_ReturningCapableDialectDecodesFromRows(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	records := []map[string]interface{}{
		{"name": "alice", "age": 30},
		{"name": "bob", "age": 25},
	}
	var result PkeyResult
	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		conn := driver.connections[len(driver.connections)-1]
		conn.executeResult = Rows{{"id": gvar.New(1)}, {"id": gvar.New(2)}}
		var cerr error
		result, cerr = base.Create(ctx, desc, records, InsertOptions{})
		return cerr
	})
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{1}, {2}}, result.Values)
}

// TestBase_Create_OutsideTransactionRejected covers write gating by code
// path: create() asserts an open transaction before building
// any SQL, so even the RETURNING path (which travels the read-statement
// route) cannot slip past the router's ExecuteWrite gate.
func TestBase_Create_OutsideTransactionRejected(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	_, err := base.Create(context.Background(), desc, []map[string]interface{}{{"name": "a", "age": 1}}, InsertOptions{})
	var gateErr *WriteOutsideTransactionError
	require.ErrorAs(t, err, &gateErr)
	assert.Empty(t, driver.calls())
}

// TestBase_Update_InsideWithWriterRejected covers the second gating row:
// withWriter() pins reads to the writer pool but remains an explicitly
// read-only scope.
func TestBase_Update_InsideWithWriterRejected(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	err := base.WithWriter(context.Background(), func(ctx context.Context) error {
		_, _, uerr := base.Update(ctx, desc, map[string]interface{}{"name": "x"}, nil, UpdateOptions{})
		return uerr
	})
	var roErr *WriteInReadOnlyContextError
	require.ErrorAs(t, err, &roErr)
	assert.Empty(t, driver.calls())
}

// TestBase_Create_NonReturningDialectUsesInsertIDRange covers the second
// strategy: MySQL with a server-generated pkey falls back to insertId-range
// arithmetic.
func TestBase_Create_NonReturningDialectUsesInsertIDRange(t *testing.T) {
	driver := newFakeDriver("writer", DialectMySQL)
	base := newTestBase(driver)
	base.builder = MysqlBuilder{}
	desc := usersDescriptorForQuery()

	records := []map[string]interface{}{
		{"name": "alice", "age": 30},
		{"name": "bob", "age": 25},
	}
	var result PkeyResult
	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		conn := driver.connections[len(driver.connections)-1]
		conn.writeResult = fakeWriteResult{rowCount: 2, lastInsertID: 50}
		var cerr error
		result, cerr = base.Create(ctx, desc, records, InsertOptions{})
		return cerr
	})
	require.NoError(t, err)
	assert.Equal(t, [][]interface{}{{int64(50)}, {int64(51)}}, result.Values)
}

func TestBase_Create_QueryBasedModelRejected(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()
	desc.CTESQL = "SELECT * FROM users"

	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		_, cerr := base.Create(ctx, desc, []map[string]interface{}{{"name": "a"}}, InsertOptions{})
		return cerr
	})
	assert.Error(t, err)
}

func TestBase_Delete_QueryBasedModelRejected(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()
	desc.CTESQL = "SELECT * FROM users"

	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		_, _, derr := base.Delete(ctx, desc, nil, DeleteOptions{})
		return derr
	})
	assert.Error(t, err)
}

func TestBase_UpdateMany_UnionOfColumnsAcrossRows(t *testing.T) {
	desc := usersDescriptorForQuery()
	rows := []UpdateManyRow{
		{Keys: []interface{}{1}, Set: map[string]interface{}{"name": "alice"}},
		{Keys: []interface{}{2}, Set: map[string]interface{}{"age": 40}},
	}
	cols := collectUpdateColumns(desc, rows)
	require.Len(t, cols, 2)
	assert.Equal(t, "name", cols[0].ColumnName)
	assert.Equal(t, "age", cols[1].ColumnName)
}

func TestInsertColumnsFor_EmptyRecordErrors(t *testing.T) {
	desc := usersDescriptorForQuery()
	_, err := insertColumnsFor(desc, map[string]interface{}{})
	assert.Error(t, err)
}

// TestBase_Update_ReturningCapableDialectAppendsReturning covers the
// native RETURNING strategy as exercised through update(): a
// RETURNING-capable dialect decodes the pkey result straight from the rows
// the UPDATE itself returns, issuing exactly one statement.
func TestBase_Update_ReturningCapableDialectAppendsReturning(t *testing.T) {
	driver := newFakeDriver("writer", DialectPostgres)
	base := newTestBase(driver)
	desc := usersDescriptorForQuery()

	var rowCount int64
	var pkeys PkeyResult
	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		conn := driver.connections[len(driver.connections)-1]
		conn.executeResult = Rows{{"id": gvar.New(1)}}
		var uerr error
		rowCount, pkeys, uerr = base.Update(ctx, desc, map[string]interface{}{"name": "alice"}, nil, UpdateOptions{Returning: true})
		return uerr
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowCount)
	assert.Equal(t, [][]interface{}{{1}}, pkeys.Values)
}

// TestBase_Update_ReturningOnMySQLPreSelectsPkeys covers the pre-SELECT
// strategy for a non-RETURNING dialect: the matching pkeys are
// read before the UPDATE runs, in the same transaction the write-gating
// rules already require update() to run inside.
func TestBase_Update_ReturningOnMySQLPreSelectsPkeys(t *testing.T) {
	driver := newFakeDriver("writer", DialectMySQL)
	base := newTestBase(driver)
	base.builder = MysqlBuilder{}
	desc := usersDescriptorForQuery()

	var rowCount int64
	var pkeys PkeyResult
	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		conn := driver.connections[len(driver.connections)-1]
		conn.executeResult = Rows{{"id": gvar.New(1)}, {"id": gvar.New(2)}}
		conn.writeResult = fakeWriteResult{rowCount: 2}
		var uerr error
		rowCount, pkeys, uerr = base.Update(ctx, desc, map[string]interface{}{"name": "alice"}, nil, UpdateOptions{Returning: true})
		return uerr
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rowCount)
	assert.Equal(t, [][]interface{}{{1}, {2}}, pkeys.Values)
}

// TestBase_Delete_ReturningOnMySQLPreSelectsPkeys mirrors
// TestBase_Update_ReturningOnMySQLPreSelectsPkeys for delete().
func TestBase_Delete_ReturningOnMySQLPreSelectsPkeys(t *testing.T) {
	driver := newFakeDriver("writer", DialectMySQL)
	base := newTestBase(driver)
	base.builder = MysqlBuilder{}
	desc := usersDescriptorForQuery()

	var rowCount int64
	var pkeys PkeyResult
	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		conn := driver.connections[len(driver.connections)-1]
		conn.executeResult = Rows{{"id": gvar.New(7)}}
		conn.writeResult = fakeWriteResult{rowCount: 1}
		var derr error
		rowCount, pkeys, derr = base.Delete(ctx, desc, nil, DeleteOptions{Returning: true})
		return derr
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowCount)
	assert.Equal(t, [][]interface{}{{7}}, pkeys.Values)
}

// TestBase_UpdateMany_ReturningOnMySQLPreSelectsPkeys covers updateMany()'s
// pre-SELECT path, matched against the batch's own key tuples rather than
// an arbitrary WHERE clause.
func TestBase_UpdateMany_ReturningOnMySQLPreSelectsPkeys(t *testing.T) {
	driver := newFakeDriver("writer", DialectMySQL)
	base := newTestBase(driver)
	base.builder = MysqlBuilder{}
	desc := usersDescriptorForQuery()

	rows := []UpdateManyRow{
		{Keys: []interface{}{1}, Set: map[string]interface{}{"name": "alice"}},
		{Keys: []interface{}{2}, Set: map[string]interface{}{"name": "bob"}},
	}

	var rowCount int64
	var pkeys PkeyResult
	err := base.router.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		conn := driver.connections[len(driver.connections)-1]
		conn.executeResult = Rows{{"id": gvar.New(1)}, {"id": gvar.New(2)}}
		conn.writeResult = fakeWriteResult{rowCount: 2}
		var uerr error
		rowCount, pkeys, uerr = base.UpdateMany(ctx, desc, rows, UpdateManyOptions{Returning: true})
		return uerr
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), rowCount)
	assert.Equal(t, [][]interface{}{{1}, {2}}, pkeys.Values)
}
