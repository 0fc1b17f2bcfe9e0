// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"database/sql"
	"time"

	"github.com/gogf/gf/container/gvar"
)

// Dialect identifies which SQL dialect a SqlBuilder/Driver pair targets.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

type (
	// Value is a boxed driver/result value, so callers get gvar's loose
	// conversion helpers (Int/String/Bool/...) without the core committing
	// to one concrete Go type per column.
	Value = *gvar.Var
	// Record is a single row keyed by column name.
	Record map[string]Value
	// Rows is a result set, row order preserved.
	Rows []Record
)

// NewValue boxes a driver-returned or application-level value, the
// constructor drivers/{postgres,mysql,sqlite} use when scanning a result set
// so they never need to import gogf/gf/container/gvar themselves.
func NewValue(v interface{}) Value { return gvar.New(v) }

// Driver is the narrow interface the core consumes from a physical database
// driver. The core never imports database/sql driver
// packages directly; concrete adapters live in drivers/{postgres,mysql,sqlite}.
type Driver interface {
	// Execute runs a statement that returns rows (SELECT and RETURNING forms).
	Execute(ctx context.Context, query string, params []interface{}) (Rows, error)
	// ExecuteWrite runs a statement that does not return rows, returning the
	// affected row count and, for dialects that support it, the last insert id.
	ExecuteWrite(ctx context.Context, query string, params []interface{}) (rowCount int64, lastInsertID int64, err error)
	// GetConnection checks out a transactional handle bound to a single
	// underlying connection; all statements issued through it share one
	// session until Commit/Rollback releases it.
	GetConnection(ctx context.Context) (ConnHandle, error)
	// Close releases the underlying pool.
	Close() error
	// Dialect reports which SQL dialect this driver speaks.
	Dialect() Dialect
}

// ConnHandle is a single checked-out connection, usually backing a
// transaction.
type ConnHandle interface {
	Execute(ctx context.Context, query string, params []interface{}) (Rows, error)
	ExecuteWrite(ctx context.Context, query string, params []interface{}) (rowCount int64, lastInsertID int64, err error)
	Begin(ctx context.Context) error
	Commit() error
	Rollback() error
	Release()
}

// DeadlockClassifier reports whether a driver error belongs to the
// deadlock/serialization-failure class that a transaction may retry. The
// exact error taxonomy is dialect-specific, so the core accepts a
// caller-supplied classifier rather than encoding one itself.
type DeadlockClassifier func(err error) bool

// Sql is a single executed-statement trace record.
type Sql struct {
	Text     string
	Args     []interface{}
	Error    error
	Start    time.Time
	End      time.Time
	Database string
}

// sqlResult is a minimal sql.Result-compatible value for dry-run execution
// or for drivers that do not report a last insert id.
type sqlResult struct {
	lastInsertID int64
	rowsAffected int64
}

func (r *sqlResult) LastInsertId() (int64, error) { return r.lastInsertID, nil }
func (r *sqlResult) RowsAffected() (int64, error) { return r.rowsAffected, nil }

var _ sql.Result = (*sqlResult)(nil)
