// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

// Package mysql is relo's MySQL driver adapter:
// it registers go-sql-driver/mysql, builds a DSN from a relo.ConfigNode, and
// returns a relo.Driver. MySQL's driver already accepts "?" placeholders
// natively, so unlike drivers/postgres there is no rebind step.
package mysql

import (
	"fmt"

	"github.com/go-sql-driver/mysql"

	"github.com/relo-orm/relo"
	"github.com/relo-orm/relo/drivers/internal/sqlconn"
)

func init() {
	relo.RegisterDriver(relo.DialectMySQL, New)
}

// New dials a MySQL pool for node and returns it as a relo.Driver, matching
// the relo.DriverFactory signature createDBBase expects.
func New(node relo.ConfigNode) (relo.Driver, error) {
	dsn := buildDSN(node)
	return sqlconn.New("mysql", dsn, relo.DialectMySQL, node)
}

// buildDSN renders a go-sql-driver/mysql DSN via mysql.Config rather than
// hand-formatting the "user:pass@tcp(host:port)/db?k=v" string, so option
// escaping matches what the driver itself expects (ground: the driver's own
// Config.FormatDSN, the idiomatic way every go-sql-driver/mysql caller builds
// a DSN). LinkInfo, when set, is used verbatim, as in drivers/postgres.
func buildDSN(node relo.ConfigNode) string {
	if node.LinkInfo != "" {
		return node.LinkInfo
	}
	cfg := mysql.NewConfig()
	cfg.User = node.User
	cfg.Passwd = node.Pass
	cfg.Net = "tcp"
	cfg.Addr = fmt.Sprintf("%s:%s", node.Host, node.Port)
	cfg.DBName = node.Name
	cfg.ParseTime = true
	if node.Charset != "" {
		cfg.Params = map[string]string{"charset": node.Charset}
	}
	return cfg.FormatDSN()
}
