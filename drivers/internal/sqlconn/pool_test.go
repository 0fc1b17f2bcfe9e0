// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package sqlconn

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relo-orm/relo"
)

func newMockPool(t *testing.T) (*Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return &Pool{db: sqlx.NewDb(db, "sqlmock"), dialect: relo.DialectPostgres, bind: sqlx.DOLLAR}, mock
}

func TestPool_Execute_ScansRowsByColumnName(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectQuery("SELECT id, name FROM users WHERE id = $1").
		WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name"}).AddRow(1, "alice"))

	rows, err := pool.Execute(context.Background(), "SELECT id, name FROM users WHERE id = $1", []interface{}{1})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(1), rows[0]["id"].Int64())
	assert.Equal(t, "alice", rows[0]["name"].String())
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPool_Execute_NormalizesByteSlicesToString covers scanRows' treatment of
// the driver-level []byte/string ambiguity database/sql introduces for
// text-ish columns scanned into interface{}.
func TestPool_Execute_NormalizesByteSlicesToString(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectQuery("SELECT name FROM users").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow([]byte("alice")))

	rows, err := pool.Execute(context.Background(), "SELECT name FROM users", nil)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.IsType(t, "", rows[0]["name"].Val())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_Execute_NoRowsReturnsEmptySlice(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectQuery("SELECT id FROM users WHERE id = $1").
		WithArgs(99).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	rows, err := pool.Execute(context.Background(), "SELECT id FROM users WHERE id = $1", []interface{}{99})
	require.NoError(t, err)
	assert.Empty(t, rows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPool_ExecuteWrite_ReturnsRowsAffected(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectExec("UPDATE users SET name = $1 WHERE id = $2").
		WithArgs("bob", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))

	rowCount, _, err := pool.ExecuteWrite(context.Background(), "UPDATE users SET name = $1 WHERE id = $2", []interface{}{"bob", 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowCount)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestPool_ApplyTransform_WrapsParamsForArrayBinding covers the hook
// drivers/postgres relies on (WithParamTransform) to rewrap slice-typed
// params before they reach the underlying driver.
func TestPool_ApplyTransform_WrapsParamsForArrayBinding(t *testing.T) {
	pool, mock := newMockPool(t)
	pool.transform = func(params []interface{}) []interface{} {
		out := make([]interface{}, len(params))
		for i, p := range params {
			if ids, ok := p.([]int); ok {
				out[i] = len(ids) // stand-in "wrapped" representation for this test.
				continue
			}
			out[i] = p
		}
		return out
	}
	mock.ExpectQuery("SELECT id FROM users WHERE id = ANY($1)").
		WithArgs(3).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))

	_, err := pool.Execute(context.Background(), "SELECT id FROM users WHERE id = ANY($1)", []interface{}{[]int{1, 2, 3}})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestConnHandle_TransactionCommitsThroughBoundTx covers GetConnection's
// contract: once Begin succeeds, Execute/ExecuteWrite run on the bound *Tx
// rather than the pool directly, and Commit finalizes it.
func TestConnHandle_TransactionCommitsThroughBoundTx(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("UPDATE users SET name = $1 WHERE id = $2").
		WithArgs("bob", 1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	conn, err := pool.GetConnection(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Begin(context.Background()))

	rowCount, _, err := conn.ExecuteWrite(context.Background(), "UPDATE users SET name = $1 WHERE id = $2", []interface{}{"bob", 1})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rowCount)

	require.NoError(t, conn.Commit())
	conn.Release()
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestConnHandle_RollbackOnFailure covers the failure path: a statement
// error inside the transaction still allows a clean Rollback.
func TestConnHandle_RollbackOnFailure(t *testing.T) {
	pool, mock := newMockPool(t)
	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM users WHERE id = $1").
		WithArgs(1).
		WillReturnError(assertAnError{})
	mock.ExpectRollback()

	conn, err := pool.GetConnection(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Begin(context.Background()))

	_, _, execErr := conn.ExecuteWrite(context.Background(), "DELETE FROM users WHERE id = $1", []interface{}{1})
	require.Error(t, execErr)

	require.NoError(t, conn.Rollback())
	conn.Release()
	require.NoError(t, mock.ExpectationsWereMet())
}

// assertAnError is a minimal error value, avoiding a dependency on testify's
// internal sentinel for a driver-level WillReturnError fixture.
type assertAnError struct{}

func (assertAnError) Error() string { return "sqlconn: simulated driver error" }

func TestPool_Rebind_TranslatesQuestionMarksForDialect(t *testing.T) {
	pool := &Pool{bind: sqlx.DOLLAR}
	assert.Equal(t, "SELECT * FROM t WHERE id = $1 AND name = $2", pool.rebind("SELECT * FROM t WHERE id = ? AND name = ?"))
}

func TestPool_Dialect(t *testing.T) {
	pool := &Pool{dialect: relo.DialectPostgres}
	assert.Equal(t, relo.DialectPostgres, pool.Dialect())
}
