// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

// Package sqlite is relo's SQLite driver adapter:
// it registers mattn/go-sqlite3 and opens a file or in-memory database from a
// relo.ConfigNode. Like MySQL, SQLite accepts "?" placeholders natively.
package sqlite

import (
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/relo-orm/relo"
	"github.com/relo-orm/relo/drivers/internal/sqlconn"
)

func init() {
	relo.RegisterDriver(relo.DialectSQLite, New)
}

// New opens a SQLite database for node and returns it as a relo.Driver,
// matching the relo.DriverFactory signature createDBBase expects. node.Name
// is the file path, or ":memory:" for an in-memory database; node.Host/Port/
// User/Pass are unused, SQLite has no connection authentication.
func New(node relo.ConfigNode) (relo.Driver, error) {
	dsn := buildDSN(node)
	return sqlconn.New("sqlite3", dsn, relo.DialectSQLite, node)
}

func buildDSN(node relo.ConfigNode) string {
	if node.LinkInfo != "" {
		return node.LinkInfo
	}
	path := node.Name
	if path == "" {
		path = ":memory:"
	}
	return fmt.Sprintf("file:%s?cache=shared&_fk=1", path)
}
