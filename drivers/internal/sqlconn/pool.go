// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

// Package sqlconn is the database/sql adapter shared by drivers/postgres,
// drivers/mysql, and drivers/sqlite: each of those packages only supplies a
// driver name and a DSN, and gets a relo.Driver/relo.ConnHandle pair back.
// Keeping this logic in one place avoids triplicating the row-scanning and
// transaction bookkeeping per dialect.
package sqlconn

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/relo-orm/relo"
)

// Pool wraps a *sqlx.DB as a relo.Driver.
type Pool struct {
	db        *sqlx.DB
	dialect   relo.Dialect
	bind      int // sqlx bind type (sqlx.DOLLAR, sqlx.QUESTION, ...), derived from the driver name.
	transform func([]interface{}) []interface{}
}

// Option customizes New beyond the common driverName/dsn/dialect/node
// arguments, for the rare per-dialect wrinkle (PostgreSQL array param
// wrapping, an initial session-level statement).
type Option func(*Pool, *sqlx.DB) error

// WithParamTransform rewrites every statement's bound parameters just before
// they reach database/sql; drivers/postgres uses this to wrap slice-typed
// params in pq.Array so they bind as native Postgres arrays instead of
// tripping lib/pq's "unsupported type" error.
func WithParamTransform(f func([]interface{}) []interface{}) Option {
	return func(p *Pool, _ *sqlx.DB) error {
		p.transform = f
		return nil
	}
}

// WithPostConnect runs stmt once against the freshly opened pool, for a
// session-scoping statement a driver needs issued before any query, e.g.
// drivers/postgres's `SET search_path`.
func WithPostConnect(stmt string) Option {
	return func(_ *Pool, db *sqlx.DB) error {
		if stmt == "" {
			return nil
		}
		_, err := db.Exec(stmt)
		return err
	}
}

// New opens a connection pool for driverName/dsn and applies the
// pool-sizing knobs a ConfigNode carries, setting conn-lifetime bounds
// right after sqlx.Connect rather than leaving database/sql's unbounded
// defaults in place. The placeholder bind style is derived from driverName
// via sqlx.BindType, so drivers never spell it out.
func New(driverName, dsn string, dialect relo.Dialect, node relo.ConfigNode, opts ...Option) (*Pool, error) {
	db, err := sqlx.Connect(driverName, dsn)
	if err != nil {
		return nil, err
	}
	if node.MaxOpenConnCount > 0 {
		db.SetMaxOpenConns(node.MaxOpenConnCount)
	}
	if node.MaxIdleConnCount > 0 {
		db.SetMaxIdleConns(node.MaxIdleConnCount)
	}
	if node.MaxConnLifetime > 0 {
		db.SetConnMaxLifetime(node.MaxConnLifetime)
	}
	p := &Pool{db: db, dialect: dialect, bind: sqlx.BindType(driverName)}
	for _, opt := range opts {
		if err := opt(p, db); err != nil {
			db.Close()
			return nil, err
		}
	}
	return p, nil
}

func (p *Pool) rebind(query string) string { return sqlx.Rebind(p.bind, query) }

func (p *Pool) applyTransform(params []interface{}) []interface{} {
	if p.transform == nil {
		return params
	}
	return p.transform(params)
}

// Execute runs a read statement against the pool directly (no explicit
// transaction), used for ordinary find/count statements outside a
// transaction() or withWriter() scope.
func (p *Pool) Execute(ctx context.Context, query string, params []interface{}) (relo.Rows, error) {
	rows, err := p.db.QueryContext(ctx, p.rebind(query), p.applyTransform(params)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

// ExecuteWrite runs a write statement against the pool directly, for the
// raw execute() DDL escape hatch (ExecuteWriteUnsafe) or for a driver used
// without relo's router atop it (e.g. in a test harness).
func (p *Pool) ExecuteWrite(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	res, err := p.db.ExecContext(ctx, p.rebind(query), p.applyTransform(params)...)
	if err != nil {
		return 0, 0, err
	}
	return writeResult(res)
}

// ExecuteWriteUnsafe satisfies the writeUnsafeDriver interface Core.ExecRaw
// probes for; at the pool level there is no gating to bypass, so it is
// identical to ExecuteWrite.
func (p *Pool) ExecuteWriteUnsafe(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	return p.ExecuteWrite(ctx, query, params)
}

// GetConnection checks out a single physical connection for a transaction,
// following relo.Driver's contract that GetConnection returns a handle bound
// to one session until Commit/Rollback/Release.
func (p *Pool) GetConnection(ctx context.Context) (relo.ConnHandle, error) {
	conn, err := p.db.Connx(ctx)
	if err != nil {
		return nil, err
	}
	return &connHandle{conn: conn, rebind: p.rebind, transform: p.transform}, nil
}

func (p *Pool) Close() error          { return p.db.Close() }
func (p *Pool) Dialect() relo.Dialect { return p.dialect }

// connHandle is one checked-out connection, optionally wrapping an open
// *sqlx.Tx once Begin is called; one *sql.Tx backs one logical
// transaction.
type connHandle struct {
	conn      *sqlx.Conn
	tx        *sqlx.Tx
	rebind    func(string) string
	transform func([]interface{}) []interface{}
}

func (h *connHandle) applyTransform(params []interface{}) []interface{} {
	if h.transform == nil {
		return params
	}
	return h.transform(params)
}

func (h *connHandle) Begin(ctx context.Context) error {
	tx, err := h.conn.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	h.tx = tx
	return nil
}

func (h *connHandle) Execute(ctx context.Context, query string, params []interface{}) (relo.Rows, error) {
	params = h.applyTransform(params)
	var rows *sql.Rows
	var err error
	if h.tx != nil {
		rows, err = h.tx.QueryContext(ctx, h.rebind(query), params...)
	} else {
		rows, err = h.conn.QueryContext(ctx, h.rebind(query), params...)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRows(rows)
}

func (h *connHandle) ExecuteWrite(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	params = h.applyTransform(params)
	var res sql.Result
	var err error
	if h.tx != nil {
		res, err = h.tx.ExecContext(ctx, h.rebind(query), params...)
	} else {
		res, err = h.conn.ExecContext(ctx, h.rebind(query), params...)
	}
	if err != nil {
		return 0, 0, err
	}
	return writeResult(res)
}

func (h *connHandle) Commit() error {
	if h.tx == nil {
		return nil
	}
	return h.tx.Commit()
}

func (h *connHandle) Rollback() error {
	if h.tx == nil {
		return nil
	}
	return h.tx.Rollback()
}

func (h *connHandle) Release() { _ = h.conn.Close() }

func writeResult(res sql.Result) (int64, int64, error) {
	rowCount, err := res.RowsAffected()
	if err != nil {
		return 0, 0, err
	}
	lastInsertID, err := res.LastInsertId()
	if err != nil {
		// Not every dialect/driver reports a last-insert-id (PostgreSQL
		// without RETURNING, e.g.); the caller only consults it for MySQL's
		// insertId-range emulation, so swallow the error and return zero.
		return rowCount, 0, nil
	}
	return rowCount, lastInsertID, nil
}

// scanRows converts a *sql.Rows cursor into relo.Rows: scan every column
// into an interface{}, box it, key by column name. Dialect-specific value
// coercion (JSON/array/time/bool) is not performed here; relo's TypeCoder
// applies that once the descriptor's declared SQL type is known, so this
// layer only normalizes the single ambiguity database/sql itself
// introduces: []byte for text-ish columns scanned into interface{}.
func scanRows(rows *sql.Rows) (relo.Rows, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out relo.Rows
	values := make([]interface{}, len(columns))
	scanArgs := make([]interface{}, len(columns))
	for i := range values {
		scanArgs[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(scanArgs...); err != nil {
			return nil, err
		}
		row := make(relo.Record, len(columns))
		for i, name := range columns {
			row[name] = relo.NewValue(normalizeScanned(values[i]))
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func normalizeScanned(v interface{}) interface{} {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
