// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rowsOf(n int) Rows {
	rows := make(Rows, n)
	for i := range rows {
		rows[i] = Record{}
	}
	return rows
}

func TestEnforceHardLimit_UnderLimitTrimsNothing(t *testing.T) {
	rows, err := enforceHardLimit(rowsOf(3), 5)
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestEnforceHardLimit_ExactlyAtLimitPasses(t *testing.T) {
	rows, err := enforceHardLimit(rowsOf(5), 5)
	require.NoError(t, err)
	assert.Len(t, rows, 5)
}

// TestEnforceHardLimit_OverflowRaises: fetching
// limit+1 rows and finding more than limit raises LimitExceededError rather
// than silently truncating.
func TestEnforceHardLimit_OverflowRaises(t *testing.T) {
	_, err := enforceHardLimit(rowsOf(6), 5)
	require.Error(t, err)
	var limitErr *LimitExceededError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 5, limitErr.Limit)
	assert.Equal(t, 6, limitErr.Actual)
}

func TestEnforceHardLimit_ZeroLimitDisablesGuard(t *testing.T) {
	rows, err := enforceHardLimit(rowsOf(1000), 0)
	require.NoError(t, err)
	assert.Len(t, rows, 1000)
}

func TestWriteOutsideTransactionError_Message(t *testing.T) {
	err := &WriteOutsideTransactionError{Statement: "UPDATE users SET x = 1"}
	assert.Contains(t, err.Error(), "outside a transaction")
	assert.Contains(t, err.Error(), "UPDATE users SET x = 1")
}

func TestWriteInReadOnlyContextError_Message(t *testing.T) {
	err := &WriteInReadOnlyContextError{Statement: "DELETE FROM users"}
	assert.Contains(t, err.Error(), "read-only context")
}
