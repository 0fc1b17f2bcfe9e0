// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"sync"
)

// MethodCall describes one query-engine method invocation a method-level
// middleware wraps: find, findOne, count, create, update,
// delete, and so on, identified by name so a middleware can filter on it.
type MethodCall struct {
	Method string
	Model  string
	Args   []interface{}
}

// MethodMiddleware wraps a single query-engine method call. next returns
// the method's result (shape depends on Method) and any error; a
// middleware may inspect/transform either.
type MethodMiddleware func(ctx context.Context, call MethodCall, next func(ctx context.Context) (interface{}, error)) (interface{}, error)

// ExecuteMiddleware wraps a single compiled-statement execution as a full
// before/after chain rather than a single mutate-and-return function, so a
// middleware can observe the statement's outcome too, not just rewrite it
// beforehand.
type ExecuteMiddleware func(ctx context.Context, sqlText string, params []interface{}, next func(ctx context.Context, sqlText string, params []interface{}) (Rows, error)) (Rows, error)

// MiddlewarePipeline holds the method-level and execute-level middleware
// registered for one database base; two bases never share a pipeline even
// if they share a model registry.
type MiddlewarePipeline struct {
	methodMW  []MethodMiddleware
	executeMW []ExecuteMiddleware
}

// NewMiddlewarePipeline returns an empty pipeline.
func NewMiddlewarePipeline() *MiddlewarePipeline { return &MiddlewarePipeline{} }

// UseMethod registers a method-level middleware. Middlewares run in
// registration order on the way in (each wraps the next) so the first
// registered is outermost, matching typical Go http-middleware chaining
// convention.
func (p *MiddlewarePipeline) UseMethod(mw MethodMiddleware) *MiddlewarePipeline {
	p.methodMW = append(p.methodMW, mw)
	return p
}

// UseExecute registers an execute-level middleware.
func (p *MiddlewarePipeline) UseExecute(mw ExecuteMiddleware) *MiddlewarePipeline {
	p.executeMW = append(p.executeMW, mw)
	return p
}

// RunMethod invokes call through the method-level chain, terminating in
// terminal.
func (p *MiddlewarePipeline) RunMethod(ctx context.Context, call MethodCall, terminal func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	next := terminal
	for i := len(p.methodMW) - 1; i >= 0; i-- {
		mw := p.methodMW[i]
		prevNext := next
		next = func(ctx context.Context) (interface{}, error) {
			return mw(ctx, call, prevNext)
		}
	}
	return next(ctx)
}

// RunExecute invokes a single statement through the execute-level chain,
// terminating in terminal (normally the Core's driver call).
func (p *MiddlewarePipeline) RunExecute(ctx context.Context, sqlText string, params []interface{}, terminal func(ctx context.Context, sqlText string, params []interface{}) (Rows, error)) (Rows, error) {
	next := terminal
	for i := len(p.executeMW) - 1; i >= 0; i-- {
		mw := p.executeMW[i]
		prevNext := next
		next = func(ctx context.Context, sqlText string, params []interface{}) (Rows, error) {
			return mw(ctx, sqlText, params, prevNext)
		}
	}
	return next(ctx, sqlText, params)
}

// mwScopeKey is the context.Context key carrying the current logical scope's
// middleware state table, following the same ctx-as-task-local substitution
// router.go's scopeContextKey already relies on.
type mwScopeKey struct{}

// mwScope holds every middleware class's per-scope instance, lazily
// populated on first access.
type mwScope struct {
	mu    sync.Mutex
	store map[interface{}]interface{}
}

// RunScoped establishes a fresh logical scope for fn, typically called at a
// top-level public entry point such as a request handler establishing a
// scope per unit of work. Nested calls within fn that reuse
// the ctx it receives share this scope; a sibling RunScoped call (even if
// run concurrently) gets its own, isolated scope.
func RunScoped(ctx context.Context, fn func(ctx context.Context) error) error {
	scope := &mwScope{store: make(map[interface{}]interface{})}
	return fn(context.WithValue(ctx, mwScopeKey{}, scope))
}

// ScopedState returns the per-scope instance for key within ctx's current
// logical scope, creating it via newState on first access and deep-cloning
// nothing itself; newState is the caller's declared initial-state template
// constructor. Outside any RunScoped call, each access gets its own fresh,
// unshared instance, since there is no scope to memoize against.
func ScopedState(ctx context.Context, key interface{}, newState func() interface{}) interface{} {
	scope, _ := ctx.Value(mwScopeKey{}).(*mwScope)
	if scope == nil {
		return newState()
	}
	scope.mu.Lock()
	defer scope.mu.Unlock()
	if v, ok := scope.store[key]; ok {
		return v
	}
	v := newState()
	scope.store[key] = v
	return v
}
