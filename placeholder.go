// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import "github.com/jmoiron/sqlx"

// expandPlaceholders renders the "(?, ?, ...)" placeholder list for values
// using sqlx.In's slice-expansion instead of a hand-rolled repeat loop, the
// same helper jmoiron/sqlx ships for building IN clauses against
// database/sql's flat positional-arg model. Array uses it in all three
// dialects; CastArray builds its own list so each placeholder carries the
// cast. UNNEST (PostgreSQL) and VALUES ROW (MySQL) batch forms bypass it
// entirely: UNNEST binds each column's slice as one parameter and VALUES
// ROW binds one parameter per cell.
func expandPlaceholders(values []interface{}) (string, []interface{}) {
	if len(values) == 0 {
		return "()", nil
	}
	rendered, args, err := sqlx.In("(?)", values)
	if err != nil {
		// sqlx.In only errs on a nil/zero-length slice arg, already excluded
		// above; fall back to binding the slice as-is rather than panicking.
		return "(?)", []interface{}{values}
	}
	return rendered, args
}
