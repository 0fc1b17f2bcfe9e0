// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"sync"
	"time"

	"github.com/gogf/gf/errors/gerror"
)

// routerMode is the connection router's state for one logical scope. It is
// tracked per call chain rather than per-base so parallel tasks stay
// isolated and write-gating state never leaks across sibling tasks.
type routerMode int

const (
	routerModeNormal routerMode = iota
	routerModeTransaction
	routerModeWriterReadOnly
)

// scopeContextKey is the context.Context key relo uses to carry the current
// logical scope's router state. Go has no ambient task-local storage, so
// context.Context is the scope carrier; every Base method already takes a
// ctx, so scope rides along for free.
type scopeContextKey struct{}

// txScope is the per-scope state installed by Transaction/WithWriter. A nil
// *txScope (the common case: no value in context) means routerModeNormal.
type txScope struct {
	mode routerMode
	conn ConnHandle // non-nil only in routerModeTransaction; bound to the open transaction.
}

func withScope(ctx context.Context, s *txScope) context.Context {
	return context.WithValue(ctx, scopeContextKey{}, s)
}

func scopeFromContext(ctx context.Context) *txScope {
	s, _ := ctx.Value(scopeContextKey{}).(*txScope)
	return s
}

// Router decides, per statement, whether to route to the reader or writer
// pool, with a post-commit sticky-writer timer and with scope state carried
// on ctx rather than on the Router itself, so two concurrent transactions
// against the same Base never see each other's mode.
type Router struct {
	reader Driver
	writer Driver
	cfg    RouterConfig

	// mu guards stickyUntil only: the sticky-writer window is base-wide
	// state (the next find() from ANY caller routes to the writer, not just
	// the transaction's own task), unlike mode, which is scope-local.
	mu          sync.Mutex
	stickyUntil time.Time
}

// NewRouter builds a Router over a reader and writer driver pair. When
// reader is nil, all reads also route to writer (single-node setups).
func NewRouter(reader, writer Driver, cfg RouterConfig) *Router {
	return &Router{reader: reader, writer: writer, cfg: cfg}
}

// TX is a transactional scope bound to a single writer connection. It
// carries a ConnHandle instead of a raw *sql.Tx since relo's Driver
// abstraction sits above database/sql.
type TX struct {
	router *Router
	conn   ConnHandle
	done   bool
	nested bool // true when this TX rides an outer transaction's connection.
}

// Execute runs a read statement through tx's connection.
func (tx *TX) Execute(ctx context.Context, query string, params []interface{}) (Rows, error) {
	return tx.conn.Execute(ctx, query, params)
}

// ExecuteWrite runs a write statement through tx's connection.
func (tx *TX) ExecuteWrite(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	return tx.conn.ExecuteWrite(ctx, query, params)
}

// Commit ends the transaction. A nested TX no-ops here; only the outermost Commit
// issues the real COMMIT and starts the sticky-writer window.
func (tx *TX) Commit() error {
	if tx.done {
		return gerror.New("relo: transaction already committed or rolled back")
	}
	tx.done = true
	if tx.nested {
		return nil
	}
	err := tx.conn.Commit()
	if err == nil {
		tx.router.markStickyAfterCommit()
	}
	return err
}

// Rollback ends the transaction via ROLLBACK. Only a committed transaction
// starts the sticky-writer window, so Rollback never calls
// markStickyAfterCommit.
func (tx *TX) Rollback() error {
	if tx.done {
		return gerror.New("relo: transaction already committed or rolled back")
	}
	tx.done = true
	if tx.nested {
		return nil
	}
	return tx.conn.Rollback()
}

// Transaction runs f within a single writer transaction, retrying per the
// base's configured DeadlockClassifier. f receives a ctx
// carrying the transaction's scope: any Base method called with that ctx
// (not the outer one) sees routerModeTransaction and routes writes through
// the same bound connection as every other statement in the transaction.
//
// Nesting: if ctx already carries an
// open transaction scope, Transaction reuses that connection and issues no
// nested BEGIN/COMMIT; only the outermost call controls the connection's
// lifecycle.
func (r *Router) Transaction(ctx context.Context, classifier DeadlockClassifier, f func(ctx context.Context, tx *TX) error) (err error) {
	if outer := scopeFromContext(ctx); outer != nil && outer.mode == routerModeTransaction {
		tx := &TX{router: r, conn: outer.conn, nested: true}
		return f(ctx, tx)
	}
	attempts := 0
	for {
		attempts++
		err = r.runTransactionOnce(ctx, f)
		if err == nil {
			return nil
		}
		if classifier == nil || !classifier(err) || attempts > r.cfg.DeadlockRetries {
			return err
		}
	}
}

func (r *Router) runTransactionOnce(ctx context.Context, f func(ctx context.Context, tx *TX) error) (err error) {
	conn, err := r.writer.GetConnection(ctx)
	if err != nil {
		return err
	}
	if err = conn.Begin(ctx); err != nil {
		conn.Release()
		return err
	}
	scopedCtx := withScope(ctx, &txScope{mode: routerModeTransaction, conn: conn})
	tx := &TX{router: r, conn: conn}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			conn.Release()
			panic(p)
		}
	}()
	if err = f(scopedCtx, tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			err = gerror.Wrapf(err, "relo: rollback also failed: %v", rbErr)
		}
		conn.Release()
		return err
	}
	err = tx.Commit()
	conn.Release()
	return err
}

// WithWriter runs f with reads pinned to the writer pool for the duration
// of the call, without opening a transaction, e.g. for a caller that must
// read its own immediately-preceding write
// outside a transaction boundary. Writes attempted inside f (via the ctx it
// receives) raise WriteInReadOnlyContextError: the scope is explicitly
// read-only, by design.
func (r *Router) WithWriter(ctx context.Context, f func(ctx context.Context) error) error {
	scopedCtx := withScope(ctx, &txScope{mode: routerModeWriterReadOnly})
	return f(scopedCtx)
}

func (r *Router) markStickyAfterCommit() {
	if !r.cfg.UseWriterAfterTransaction || r.cfg.WriterStickyDuration <= 0 {
		return
	}
	r.mu.Lock()
	r.stickyUntil = time.Now().Add(r.cfg.WriterStickyDuration)
	r.mu.Unlock()
}

// stickyActive reports whether the base-wide post-transaction sticky-writer
// window is currently open.
func (r *Router) stickyActive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Now().Before(r.stickyUntil)
}

// routeRead picks reader, writer, or the scope's own bound connection for a
// read statement, checked fresh on every call against ctx.
func (r *Router) routeRead(ctx context.Context) Driver {
	if s := scopeFromContext(ctx); s != nil {
		// Inside a transaction, reads must go through the same connection as
		// the transaction's writes so in-flight, uncommitted changes are
		// visible; inside withWriter(), any writer-pool connection suffices.
		return r.writer
	}
	if r.reader == nil {
		return r.writer
	}
	if r.stickyActive() {
		return r.writer
	}
	return r.reader
}

// routeWrite enforces the write-gating rules: a write statement is
// permitted ONLY inside an explicit transaction() scope, where it must run on
// the transaction's own bound connection. Every other mode rejects it:
// WriteInReadOnlyContextError inside an explicit withWriter() scope (the
// caller opted into read-only), WriteOutsideTransactionError everywhere else,
// including during the post-commit sticky window where reads still favor the
// writer but writes remain gated.
func (r *Router) routeWrite(ctx context.Context, statement string) (ConnHandle, error) {
	s := scopeFromContext(ctx)
	if s == nil {
		return nil, &WriteOutsideTransactionError{Statement: statement}
	}
	switch s.mode {
	case routerModeTransaction:
		return s.conn, nil
	case routerModeWriterReadOnly:
		return nil, &WriteInReadOnlyContextError{Statement: statement}
	default:
		return nil, &WriteOutsideTransactionError{Statement: statement}
	}
}

// Execute runs a read statement, routing per the ctx's current scope. Inside
// a transaction scope it runs on that transaction's bound connection; outside
// one, it routes to the reader or writer pool per routeRead.
func (r *Router) Execute(ctx context.Context, query string, params []interface{}) (Rows, error) {
	if s := scopeFromContext(ctx); s != nil && s.conn != nil {
		return s.conn.Execute(ctx, query, params)
	}
	return r.routeRead(ctx).Execute(ctx, query, params)
}

// ExecuteWrite runs a write statement, enforcing the ctx's write-context
// gating and, when permitted, running it on the transaction's own bound
// connection rather than a fresh pool checkout.
func (r *Router) ExecuteWrite(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	conn, err := r.routeWrite(ctx, query)
	if err != nil {
		return 0, 0, err
	}
	return conn.ExecuteWrite(ctx, query, params)
}

// ExecuteWriteUnsafe runs a write statement against the writer pool without
// checking the ctx's scope at all: the raw execute() escape hatch for DDL,
// which is never gated.
func (r *Router) ExecuteWriteUnsafe(ctx context.Context, query string, params []interface{}) (int64, int64, error) {
	return r.writer.ExecuteWrite(ctx, query, params)
}

// GetConnection checks out a connection from the writer pool; a transaction
// always binds to the writer regardless of read/write routing state.
func (r *Router) GetConnection(ctx context.Context) (ConnHandle, error) {
	return r.writer.GetConnection(ctx)
}

// Dialect reports the writer's dialect; reader and writer always speak the
// same dialect within one router.
func (r *Router) Dialect() Dialect { return r.writer.Dialect() }

// Close releases both pools. Closing the same underlying pool twice (when
// reader is nil, or reader and writer share a pool) is the caller's
// responsibility to avoid.
func (r *Router) Close() error {
	if r.reader != nil {
		if err := r.reader.Close(); err != nil {
			return err
		}
	}
	return r.writer.Close()
}

var _ Driver = (*Router)(nil)
