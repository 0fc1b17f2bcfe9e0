// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import "fmt"

// LimitExceededError reports that a find() or hasMany relation load would
// have returned more rows than its configured hard limit permits. The core
// detects this by requesting limit+1 rows and raising instead of silently
// truncating to limit.
type LimitExceededError struct {
	Limit  int
	Actual int // lower bound on actual row count; the query stopped at limit+1.
}

func (e *LimitExceededError) Error() string {
	return fmt.Sprintf("relo: result exceeds hard limit of %d rows", e.Limit)
}

// WriteOutsideTransactionError reports a write statement issued through a
// connection router state that has no open transaction and no explicit
// withWriter() scope.
type WriteOutsideTransactionError struct {
	Statement string
}

func (e *WriteOutsideTransactionError) Error() string {
	return fmt.Sprintf("relo: write statement issued outside a transaction or withWriter() scope: %s", e.Statement)
}

// WriteInReadOnlyContextError reports a write statement issued while the
// router is explicitly pinned to a reader connection.
type WriteInReadOnlyContextError struct {
	Statement string
}

func (e *WriteInReadOnlyContextError) Error() string {
	return fmt.Sprintf("relo: write statement issued in a read-only context: %s", e.Statement)
}

// enforceHardLimit checks rows against limit, where rows was fetched as
// limit+1 by the caller; it returns rows unchanged when there are at most
// limit of them and raises LimitExceededError otherwise.
func enforceHardLimit(rows Rows, limit int) (Rows, error) {
	if limit <= 0 || len(rows) <= limit {
		return rows, nil
	}
	return nil, &LimitExceededError{Limit: limit, Actual: len(rows)}
}

