// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

// Package postgres is relo's PostgreSQL driver adapter: it registers
// lib/pq, builds a DSN from a relo.ConfigNode, and returns a relo.Driver
// whose positional "?" placeholders get rebound to "$1, $2, ..." before
// reaching database/sql.
package postgres

import (
	"fmt"
	"net/url"
	"reflect"

	"github.com/lib/pq"

	"github.com/relo-orm/relo"
	"github.com/relo-orm/relo/drivers/internal/sqlconn"
)

func init() {
	relo.RegisterDriver(relo.DialectPostgres, New)
}

// New dials a PostgreSQL pool for node and returns it as a relo.Driver,
// matching the relo.DriverFactory signature createDBBase expects. Slice
// params are wrapped in pq.Array so they bind as native Postgres arrays
// (relo's typecoder.go passes array-typed columns through unwrapped on this
// dialect, relying on the driver boundary to do exactly this). node.Charset,
// which has no meaning for PostgreSQL connection strings, is repurposed as
// an optional target schema applied via search_path right after connecting.
func New(node relo.ConfigNode) (relo.Driver, error) {
	dsn := buildDSN(node)
	opts := []sqlconn.Option{sqlconn.WithParamTransform(wrapArrayParams)}
	if node.Charset != "" {
		opts = append(opts, sqlconn.WithPostConnect(fmt.Sprintf("SET search_path TO %s", pq.QuoteIdentifier(node.Charset))))
	}
	return sqlconn.New("postgres", dsn, relo.DialectPostgres, node, opts...)
}

// wrapArrayParams boxes any slice-typed parameter in pq.Array; lib/pq
// otherwise rejects a bare Go slice with "unsupported type" since
// database/sql's driver.Value only accepts a fixed set of scalar kinds.
func wrapArrayParams(params []interface{}) []interface{} {
	out := make([]interface{}, len(params))
	for i, v := range params {
		if v == nil {
			out[i] = v
			continue
		}
		switch v.(type) {
		case string, []byte, int64, float64, bool:
			out[i] = v
			continue
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
			out[i] = pq.Array(v)
			continue
		}
		out[i] = v
	}
	return out
}

// buildDSN renders a libpq connection URL. LinkInfo, when set, is a
// caller-supplied DSN used verbatim, bypassing the field-by-field assembly
// below entirely.
func buildDSN(node relo.ConfigNode) string {
	if node.LinkInfo != "" {
		return node.LinkInfo
	}
	q := url.Values{}
	q.Set("sslmode", "disable")
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?%s",
		url.QueryEscape(node.User), url.QueryEscape(node.Pass), node.Host, node.Port, node.Name, q.Encode(),
	)
}
