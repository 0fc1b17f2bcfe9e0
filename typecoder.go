// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gogf/gf/os/gtime"
	"github.com/gogf/gf/util/gconv"
)

// TypeCoder renders the Serialize/Deserialize pair for one column's SQL
// type. Nothing in this package wires it into a Column automatically:
// Column's Serialize/Deserialize fields are whatever the caller sets, for
// example closures over a TypeCoder and the column's SQLType.
type TypeCoder struct {
	Dialect Dialect
}

// Serialize converts an application-level Go value into the form the driver
// expects on the wire for sqlType: JSON-encode composite types, special-case
// time values, pass scalars through untouched.
func (tc TypeCoder) Serialize(sqlType string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	t := strings.ToLower(sqlType)
	switch {
	case isJSONType(t):
		return tc.serializeJSON(v)
	case isArrayType(t):
		return tc.serializeArray(v)
	case t == "timestamp" || t == "timestamptz" || t == "datetime" || t == "date":
		return tc.serializeTime(v)
	case t == "uuid":
		return gconv.String(v), nil
	case t == "bigint" || t == "int8":
		return tc.serializeBigint(v)
	case t == "bool" || t == "boolean":
		return tc.serializeBool(v)
	default:
		return v, nil
	}
}

func (tc TypeCoder) serializeJSON(v interface{}) (interface{}, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("relo: json-encode column value: %w", err)
	}
	return string(b), nil
}

func (tc TypeCoder) serializeArray(v interface{}) (interface{}, error) {
	switch tc.Dialect {
	case DialectPostgres:
		// pq/lib handles Go slices natively via pq.Array at the driver
		// adapter boundary; the coder only normalizes shape here.
		return v, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("relo: json-encode array column: %w", err)
		}
		return string(b), nil
	}
}

func (tc TypeCoder) serializeTime(v interface{}) (interface{}, error) {
	var t time.Time
	switch tv := v.(type) {
	case time.Time:
		t = tv
	case *time.Time:
		if tv == nil {
			return nil, nil
		}
		t = *tv
	case gtime.Time:
		t = tv.Time
	case *gtime.Time:
		if tv == nil {
			return nil, nil
		}
		t = tv.Time
	case string:
		return tv, nil
	default:
		return v, nil
	}
	if tc.Dialect == DialectSQLite {
		// SQLite has no native date type; store ISO-8601 text.
		return gtime.New(t).Format("c"), nil
	}
	return t, nil
}

func (tc TypeCoder) serializeBigint(v interface{}) (interface{}, error) {
	return gconv.Int64(v), nil
}

func (tc TypeCoder) serializeBool(v interface{}) (interface{}, error) {
	b := gconv.Bool(v)
	if tc.Dialect == DialectSQLite || tc.Dialect == DialectMySQL {
		if b {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return b, nil
}

// Deserialize converts a driver-returned value back into the application
// representation for sqlType.
func (tc TypeCoder) Deserialize(sqlType string, v interface{}) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	t := strings.ToLower(sqlType)
	switch {
	case isJSONType(t):
		return tc.deserializeJSON(v)
	case isArrayType(t):
		return tc.deserializeArray(v)
	case t == "timestamp" || t == "timestamptz" || t == "datetime" || t == "date":
		return tc.deserializeTime(v)
	case t == "bool" || t == "boolean":
		return gconv.Bool(v), nil
	case t == "bigint" || t == "int8":
		return gconv.Int64(v), nil
	default:
		return v, nil
	}
}

func (tc TypeCoder) deserializeJSON(v interface{}) (interface{}, error) {
	raw, ok := asBytesOrString(v)
	if !ok {
		return v, nil
	}
	var out interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("relo: json-decode column value: %w", err)
	}
	return out, nil
}

func (tc TypeCoder) deserializeArray(v interface{}) (interface{}, error) {
	if tc.Dialect == DialectPostgres {
		return v, nil
	}
	raw, ok := asBytesOrString(v)
	if !ok {
		return v, nil
	}
	var out []interface{}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("relo: json-decode array column: %w", err)
	}
	return out, nil
}

func (tc TypeCoder) deserializeTime(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case string:
		parsed, err := gtime.StrToTime(t)
		if err != nil {
			return nil, fmt.Errorf("relo: parse time column value %q: %w", t, err)
		}
		return parsed.Time, nil
	default:
		return v, nil
	}
}

func asBytesOrString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case []byte:
		return string(t), true
	case string:
		return t, true
	default:
		return "", false
	}
}
