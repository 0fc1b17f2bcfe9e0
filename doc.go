// Package relo is a lightweight, SQL-faithful ORM core.
//
// It maps application-level entities to rows in PostgreSQL, MySQL, and
// SQLite, compiling a single dialect-neutral condition/value AST down to
// hand-written-style SQL for each backend while keeping the parameter
// shape stable across dialects. The package does not itself register
// model classes or open physical connections; callers supply a Model
// Descriptor and a driver handle (see the drivers/ subpackages)
// and the core takes care of query construction, lazy relation batching,
// reader/writer routing, and the middleware pipeline that wraps every
// statement.
package relo
