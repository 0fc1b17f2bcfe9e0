// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName identifies this package's span producer to whatever exporter
// the host process has configured via otel.SetTracerProvider.
const tracerName = "github.com/relo-orm/relo"

// addSqlToTracing emits one span per executed statement, called from
// Core.Query/Exec right after the statement runs.
func addSqlToTracing(ctx context.Context, group string, s *Sql) {
	tracer := otel.Tracer(tracerName)
	_, span := tracer.Start(ctx, "relo.sql", trace.WithTimestamp(s.Start))
	defer span.End(trace.WithTimestamp(s.End))

	span.SetAttributes(
		attribute.String("db.system", group),
		attribute.String("db.statement", s.Text),
		attribute.Int("db.relo.param_count", len(s.Args)),
		attribute.String("db.relo.database", s.Database),
	)
	if s.Error != nil {
		span.RecordError(s.Error)
		span.SetStatus(codes.Error, s.Error.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

func formatSqlWithArgs(sqlText string, args []interface{}) string {
	if len(args) == 0 {
		return sqlText
	}
	return fmt.Sprintf("%s %v", sqlText, args)
}
