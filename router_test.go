// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testRouterConfig() RouterConfig {
	return RouterConfig{
		WriterStickyDuration:      50 * time.Millisecond,
		UseWriterAfterTransaction: true,
		FindHardLimit:             1000,
		HasManyHardLimit:          1000,
		DeadlockRetries:           3,
	}
}

func TestRouter_ReadRoutesToReaderOutsideAnyScope(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	_, err := r.Execute(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	assert.Len(t, reader.calls(), 1)
	assert.Empty(t, writer.calls())
}

func TestRouter_ReadRoutesToWriterWhenNoReaderConfigured(t *testing.T) {
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(nil, writer, testRouterConfig())

	_, err := r.Execute(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	assert.Len(t, writer.calls(), 1)
}

// TestRouter_WriteOutsideTransactionRejected: a write attempted with no
// scope on ctx is rejected outright.
func TestRouter_WriteOutsideTransactionRejected(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	_, _, err := r.ExecuteWrite(context.Background(), "UPDATE users SET x = 1", nil)
	require.Error(t, err)
	var writeErr *WriteOutsideTransactionError
	assert.ErrorAs(t, err, &writeErr)
}

func TestRouter_WriteInsideTransactionSucceeds(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	err := r.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		_, _, werr := r.ExecuteWrite(ctx, "UPDATE users SET x = 1", nil)
		return werr
	})
	require.NoError(t, err)
}

// TestRouter_WriteInsideWithWriterRejected covers the withWriter() scope:
// explicitly read-only, so a write inside it is gated too, but with
// the distinct WriteInReadOnlyContextError.
func TestRouter_WriteInsideWithWriterRejected(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	err := r.WithWriter(context.Background(), func(ctx context.Context) error {
		_, _, werr := r.ExecuteWrite(ctx, "UPDATE users SET x = 1", nil)
		return werr
	})
	require.Error(t, err)
	var writeErr *WriteInReadOnlyContextError
	assert.ErrorAs(t, err, &writeErr)
}

func TestRouter_ReadInsideWithWriterRoutesToWriter(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	err := r.WithWriter(context.Background(), func(ctx context.Context) error {
		_, rerr := r.Execute(ctx, "SELECT 1", nil)
		return rerr
	})
	require.NoError(t, err)
	assert.Empty(t, reader.calls())
	assert.Len(t, writer.calls(), 1)
}

// TestRouter_NestedTransactionReusesOuterConnection: transactions may
// nest, and the outer alone commits; only one BEGIN/COMMIT pair is issued
// across the outer and nested call.
func TestRouter_NestedTransactionReusesOuterConnection(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	err := r.Transaction(context.Background(), nil, func(ctx context.Context, outerTx *TX) error {
		return r.Transaction(ctx, nil, func(ctx context.Context, innerTx *TX) error {
			return innerTx.Commit()
		})
	})
	require.NoError(t, err)
	require.Len(t, writer.connections, 1)
	assert.True(t, writer.connections[0].committed)
}

// TestRouter_TransactionRollsBackOnError covers the failure path: f returning
// an error rolls back rather than commits, and the sticky window never opens.
func TestRouter_TransactionRollsBackOnError(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	boom := assert.AnError
	err := r.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		return boom
	})
	require.Error(t, err)
	require.Len(t, writer.connections, 1)
	assert.True(t, writer.connections[0].rolledBack)
	assert.False(t, writer.connections[0].committed)
	assert.False(t, r.stickyActive())
}

// TestRouter_TransactionRetriesOnDeadlockClassifier covers the retry knob:
// a classifier reporting true causes a retry up to
// cfg.DeadlockRetries, then succeeds.
func TestRouter_TransactionRetriesOnDeadlockClassifier(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	attempts := 0
	classifier := func(err error) bool { return true }
	err := r.Transaction(context.Background(), classifier, func(ctx context.Context, tx *TX) error {
		attempts++
		if attempts < 3 {
			return assert.AnError
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

// TestRouter_StickyWriterWindowActivatesAfterCommit covers the
// sticky-writer timer: reads route to the writer for a window after a
// transaction commits, then fall back to the reader once it expires.
func TestRouter_StickyWriterWindowActivatesAfterCommit(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	cfg := testRouterConfig()
	cfg.WriterStickyDuration = 30 * time.Millisecond
	r := NewRouter(reader, writer, cfg)

	err := r.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		return nil
	})
	require.NoError(t, err)
	assert.True(t, r.stickyActive())

	_, err = r.Execute(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	assert.Empty(t, reader.calls(), "sticky window should still route to writer")

	time.Sleep(40 * time.Millisecond)
	assert.False(t, r.stickyActive())
	_, err = r.Execute(context.Background(), "SELECT 1", nil)
	require.NoError(t, err)
	assert.Len(t, reader.calls(), 1, "after the window expires, reads fall back to the reader")
}

// TestRouter_StickyWindowNotActivatedByRollback: only a
// committed transaction opens the sticky window, never a rolled-back one.
func TestRouter_StickyWindowNotActivatedByRollback(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	_ = r.Transaction(context.Background(), nil, func(ctx context.Context, tx *TX) error {
		return assert.AnError
	})
	assert.False(t, r.stickyActive())
}

func TestRouter_ExecuteWriteUnsafeBypassesGating(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())

	_, _, err := r.ExecuteWriteUnsafe(context.Background(), "CREATE TABLE x (id int)", nil)
	require.NoError(t, err)
	assert.Len(t, writer.calls(), 1)
}

func TestRouter_DialectReflectsWriter(t *testing.T) {
	reader := newFakeDriver("reader", DialectPostgres)
	writer := newFakeDriver("writer", DialectPostgres)
	r := NewRouter(reader, writer, testRouterConfig())
	assert.Equal(t, DialectPostgres, r.Dialect())
}
