// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"time"

	"github.com/gogf/gf/container/gvar"
	"github.com/gogf/gf/util/gconv"
)

// FindOptions carries the per-call knobs find()/findOne() accept. A zero
// value means "default behavior": no explicit select list, no order, the
// base's configured hard limit, no caching, scoped by the descriptor's
// DefaultFilter.
type FindOptions struct {
	Select        []string
	OrderBy       []OrderSpec
	Group         string
	Limit         int // explicit row cap; 0 defers to the base's FindHardLimit guard.
	Offset        int
	Unscoped      bool // when true, suppresses the descriptor's DefaultFilter (soft-delete bypass).
	CacheName     string
	CacheDuration time.Duration // 0: no caching: <0: bust any cached entry for this key.
}

// InsertOptions carries create()/createMany() knobs.
type InsertOptions struct {
	OnConflictCols       []Column
	OnConflictIgnore     bool
	OnConflictUpdateCols []Column
	NoReturning          bool // caller doesn't need the inserted pkeys back.
}

// UpdateOptions carries update()'s returning knob.
type UpdateOptions struct {
	Returning bool
}

// UpdateManyOptions carries updateMany()'s returning knob.
type UpdateManyOptions struct {
	Returning bool
}

// DeleteOptions carries delete()'s returning knob.
type DeleteOptions struct {
	Returning bool
}

// writeResult is the internal result shape update()/updateMany()/delete()
// carry through their RunMethod terminal: the affected row count plus,
// when requested, the rows' synthesized PkeyResult.
type writeResult struct {
	rowCount int64
	pkeys    PkeyResult
}

// Base is one assembled logical database: a model registry shared
// process-wide, a dialect-specific SqlBuilder, a reader/writer Router, the
// logging/tracing/cache Core wrapping that router, a middleware pipeline,
// and the guard configuration. Every find/create/update/delete operation
// hangs off it.
type Base struct {
	group      string
	registry   *ModelRegistry
	router     *Router
	core       *Core
	builder    SqlBuilder
	middleware *MiddlewarePipeline
	cfg        RouterConfig
	classifier DeadlockClassifier
}

// Model resolves a registered model reference to its descriptor, the same
// lookup every CRUD method performs internally; exposed so callers can derive
// a query-based descriptor via ModelDescriptor.WithQuery before calling Find.
func (b *Base) Model(ref string) (*ModelDescriptor, error) {
	return b.registry.Lookup(ref)
}

// Transaction runs f within a single writer transaction, retrying per the
// base's configured DeadlockClassifier. f receives a ctx
// scoped to the open transaction: pass that ctx (not the one given to
// Transaction) into any Base method called from within f so its writes are
// recognized as "inside transaction()" and share the transaction's
// connection.
func (b *Base) Transaction(ctx context.Context, f func(ctx context.Context, tx *TX) error) error {
	return b.router.Transaction(ctx, b.classifier, f)
}

// WithWriter pins reads to the writer pool for the duration of f. As with
// Transaction, f receives the scoped ctx to pass along to any Base method
// called from within it.
func (b *Base) WithWriter(ctx context.Context, f func(ctx context.Context) error) error {
	return b.router.WithWriter(ctx, f)
}

// RawQuery executes an arbitrary read statement through the base's
// middleware/logging/tracing stack, bypassing the condition/value AST
// entirely. It is itself the method-level "query" hook slot, wrapping the
// execute-level chain beneath it.
func (b *Base) RawQuery(ctx context.Context, sqlText string, params []interface{}) (Rows, error) {
	call := MethodCall{Method: "query", Args: []interface{}{sqlText, params}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		return b.execQuery(ctx, sqlText, params)
	})
	if err != nil {
		return nil, err
	}
	return result.(Rows), nil
}

// RawExec executes an arbitrary write statement through the raw execute()
// escape hatch, which is exempt from write-context gating (it is meant for
// DDL issued ad hoc, not for find/create/update/delete). It still passes
// through the execute-level middleware chain, since that hook always
// fires.
func (b *Base) RawExec(ctx context.Context, sqlText string, params []interface{}) (rowCount int64, err error) {
	_, err = b.middleware.RunExecute(ctx, sqlText, params, func(ctx context.Context, sqlText string, params []interface{}) (Rows, error) {
		rc, _, execErr := b.core.ExecRaw(ctx, sqlText, params)
		rowCount = rc
		return nil, execErr
	})
	return rowCount, err
}

// execQuery runs a read statement through the execute-level middleware chain
// before reaching the driver. Every read path in this file funnels through
// here rather than
// calling b.core.Query directly, so a registered execute middleware observes
// find/findOne/count/relation reads exactly as it observes RawQuery.
func (b *Base) execQuery(ctx context.Context, sqlText string, params []interface{}) (Rows, error) {
	return b.middleware.RunExecute(ctx, sqlText, params, func(ctx context.Context, sqlText string, params []interface{}) (Rows, error) {
		return b.core.Query(ctx, sqlText, params)
	})
}

// execWrite is execQuery's write-path counterpart. ExecuteMiddleware's
// signature returns Rows (it was designed around the read path), so the
// terminal closure smuggles the row count/last-insert-id out via closure
// variables instead of the return value, the same pattern RawExec already
// uses for the same reason.
func (b *Base) execWrite(ctx context.Context, sqlText string, params []interface{}) (rowCount, lastInsertID int64, err error) {
	_, err = b.middleware.RunExecute(ctx, sqlText, params, func(ctx context.Context, sqlText string, params []interface{}) (Rows, error) {
		rc, lid, execErr := b.core.Exec(ctx, sqlText, params)
		rowCount, lastInsertID = rc, lid
		return nil, execErr
	})
	return rowCount, lastInsertID, err
}

// assertWriteScope is the write gate every create/createMany/update/
// updateMany/delete passes before any SQL is built. The router's own
// ExecuteWrite gate cannot cover the RETURNING paths, which travel the
// read-statement route because they produce rows.
func (b *Base) assertWriteScope(ctx context.Context, operation string) error {
	s := scopeFromContext(ctx)
	if s == nil {
		return &WriteOutsideTransactionError{Statement: operation}
	}
	switch s.mode {
	case routerModeTransaction:
		return nil
	case routerModeWriterReadOnly:
		return &WriteInReadOnlyContextError{Statement: operation}
	default:
		return &WriteOutsideTransactionError{Statement: operation}
	}
}

func (b *Base) effectiveWhere(desc *ModelDescriptor, where *ConditionTree, unscoped bool) *ConditionTree {
	if unscoped || desc.DefaultFilter == nil {
		if where == nil {
			return NewConditionTree()
		}
		return where
	}
	entries := make([]ConditionEntry, 0, len(desc.DefaultFilter.Entries)+entryCount(where))
	entries = append(entries, desc.DefaultFilter.Entries...)
	if where != nil {
		entries = append(entries, where.Entries...)
	}
	return &ConditionTree{Entries: entries}
}

func entryCount(t *ConditionTree) int {
	if t == nil {
		return 0
	}
	return len(t.Entries)
}

func (b *Base) selectSpecFor(desc *ModelDescriptor, where *ConditionTree, opts FindOptions, countOnly bool) SelectSpec {
	sel := SelectSpec{
		From:      desc.TableName,
		Where:     b.effectiveWhere(desc, where, opts.Unscoped),
		CountOnly: countOnly,
	}
	if desc.IsQueryBased() {
		sel.CTE = desc.CTESQL
		sel.CTEAlias = desc.TableName
		sel.CTEPrebindParams = desc.CTEPrebindParams
	}
	if !countOnly {
		if len(opts.Select) > 0 {
			sel.SelectCols = opts.Select
		} else if len(desc.DefaultSelect) > 0 {
			sel.SelectCols = desc.DefaultSelect
		}
		if len(opts.OrderBy) > 0 {
			sel.OrderBy = opts.OrderBy
		} else {
			sel.OrderBy = desc.DefaultOrder
		}
		if opts.Group != "" {
			sel.GroupBy = opts.Group
		} else {
			sel.GroupBy = desc.DefaultGroup
		}
		sel.Offset = opts.Offset
	}
	return sel
}

// Find runs a SELECT against desc, returning at most the base's FindHardLimit
// rows unless opts.Limit explicitly bounds the call tighter. Results pass
// through the descriptor's per-column Deserialize.
func (b *Base) Find(ctx context.Context, desc *ModelDescriptor, where *ConditionTree, opts FindOptions) (Rows, error) {
	call := MethodCall{Method: "find", Model: desc.TableName, Args: []interface{}{where, opts}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		return b.doFind(ctx, desc, where, opts)
	})
	if err != nil {
		return nil, err
	}
	return result.(Rows), nil
}

func (b *Base) doFind(ctx context.Context, desc *ModelDescriptor, where *ConditionTree, opts FindOptions) (Rows, error) {
	sel := b.selectSpecFor(desc, where, opts, false)
	guarded := opts.Limit > 0
	if guarded {
		sel.Limit = opts.Limit
	} else if b.cfg.FindHardLimit > 0 {
		sel.Limit = b.cfg.FindHardLimit + 1
	}

	compiled, err := b.builder.BuildSelect(sel)
	if err != nil {
		return nil, err
	}

	rows, err := b.queryWithCache(ctx, compiled, opts.CacheName, opts.CacheDuration)
	if err != nil {
		return nil, err
	}
	if !guarded && b.cfg.FindHardLimit > 0 {
		rows, err = enforceHardLimit(rows, b.cfg.FindHardLimit)
		if err != nil {
			return nil, err
		}
	}
	if err := deserializeRows(desc, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindOne is Find with an implicit LIMIT 1, returning (nil, false, nil) when
// no row matches. It runs its own method-level hook
// ("findOne") rather than delegating to Find, so a middleware
// registered against "find" does not also fire for single-row lookups.
func (b *Base) FindOne(ctx context.Context, desc *ModelDescriptor, where *ConditionTree, opts FindOptions) (Record, bool, error) {
	opts.Limit = 1
	call := MethodCall{Method: "findOne", Model: desc.TableName, Args: []interface{}{where, opts}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		return b.doFind(ctx, desc, where, opts)
	})
	if err != nil {
		return nil, false, err
	}
	rows := result.(Rows)
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// FindByPkeys batch-loads rows by primary key tuples through the builder's
// BuildFindByPkeys, the same key shape the relation loader compiles for
// belongsTo/hasOne/hasMany batch fetches; findById delegates to it for a
// single key. This method itself carries no RunMethod wrap; FindByID
// supplies the "findById" hook for its own single-key callers.
func (b *Base) FindByPkeys(ctx context.Context, desc *ModelDescriptor, pkeyValues [][]interface{}, selectCols []string) (Rows, error) {
	if len(selectCols) == 0 {
		selectCols = []string{"*"}
	}
	compiled, err := b.builder.BuildFindByPkeys(desc.TableName, desc.PkeyColumns, pkeyValues, selectCols)
	if err != nil {
		return nil, err
	}
	rows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return nil, err
	}
	if err := deserializeRows(desc, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FindByID loads a single row by its (possibly composite) primary key.
func (b *Base) FindByID(ctx context.Context, desc *ModelDescriptor, pkeyValues []interface{}) (Record, bool, error) {
	call := MethodCall{Method: "findById", Model: desc.TableName, Args: []interface{}{pkeyValues}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		return b.FindByPkeys(ctx, desc, [][]interface{}{pkeyValues}, nil)
	})
	if err != nil {
		return nil, false, err
	}
	rows := result.(Rows)
	if len(rows) == 0 {
		return nil, false, nil
	}
	return rows[0], true, nil
}

// Count runs SELECT COUNT(*) against desc.
func (b *Base) Count(ctx context.Context, desc *ModelDescriptor, where *ConditionTree) (int64, error) {
	call := MethodCall{Method: "count", Model: desc.TableName, Args: []interface{}{where}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		return b.doCount(ctx, desc, where)
	})
	if err != nil {
		return 0, err
	}
	return result.(int64), nil
}

func (b *Base) doCount(ctx context.Context, desc *ModelDescriptor, where *ConditionTree) (int64, error) {
	sel := b.selectSpecFor(desc, where, FindOptions{}, true)
	compiled, err := b.builder.BuildSelect(sel)
	if err != nil {
		return 0, err
	}
	rows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	for _, v := range rows[0] {
		return v.Int64(), nil
	}
	return 0, nil
}

// queryWithCache consults the result cache before hitting the driver: an
// explicit cacheName or, failing that, the compiled SQL plus its params
// forms the cache key; a negative duration busts the entry instead of
// storing anything.
func (b *Base) queryWithCache(ctx context.Context, compiled CompiledSQL, cacheName string, duration time.Duration) (Rows, error) {
	if duration == 0 {
		return b.execQuery(ctx, compiled.SQL, compiled.Params)
	}
	cache := b.core.Cache()
	key := cacheName
	if key == "" {
		key = compiled.SQL + ", @PARAMS:" + gconv.String(compiled.Params)
	}
	if duration > 0 {
		if v, _ := cache.GetVar(key); !v.IsNil() {
			if rows, ok := v.Val().(Rows); ok {
				return rows, nil
			}
		}
	}
	rows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return nil, err
	}
	if duration < 0 {
		_, _ = cache.Remove(key)
		return rows, nil
	}
	_ = cache.Set(key, rows, duration)
	return rows, nil
}

// Create inserts one or more rows. Each record
// maps property name to application-level value; all records must share the
// same key set. Returns the resolved primary keys in row order. Its
// method-level hook fires as "create" for a single record and
// "createMany" for a batch, so a middleware can hook the two slots
// independently even though both share this one implementation.
func (b *Base) Create(ctx context.Context, desc *ModelDescriptor, records []map[string]interface{}, opts InsertOptions) (PkeyResult, error) {
	method := "create"
	if len(records) > 1 {
		method = "createMany"
	}
	call := MethodCall{Method: method, Model: desc.TableName, Args: []interface{}{records, opts}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		return b.doCreate(ctx, desc, records, opts)
	})
	if err != nil {
		return PkeyResult{}, err
	}
	return result.(PkeyResult), nil
}

func (b *Base) doCreate(ctx context.Context, desc *ModelDescriptor, records []map[string]interface{}, opts InsertOptions) (PkeyResult, error) {
	if desc.IsQueryBased() {
		return PkeyResult{}, errQueryBasedWrite(desc.TableName)
	}
	if err := b.assertWriteScope(ctx, "create "+desc.TableName); err != nil {
		return PkeyResult{}, err
	}
	if len(records) == 0 {
		return PkeyResult{}, nil
	}
	cols, err := insertColumnsFor(desc, records[0])
	if err != nil {
		return PkeyResult{}, err
	}
	rows := make([][]interface{}, len(records))
	for i, rec := range records {
		row := make([]interface{}, len(cols))
		for j, col := range cols {
			v, ok := rec[col.PropertyName]
			if !ok {
				return PkeyResult{}, errMissingColumn(col.PropertyName)
			}
			serialized, err := col.Serialize(v)
			if err != nil {
				return PkeyResult{}, err
			}
			row[j] = serialized
		}
		rows[i] = row
	}

	spec := InsertSpec{
		Table:                desc.EffectiveUpdateTable(),
		Columns:              cols,
		Records:              rows,
		OnConflictCols:       opts.OnConflictCols,
		OnConflictIgnore:     opts.OnConflictIgnore,
		OnConflictUpdateCols: opts.OnConflictUpdateCols,
		Returning:            len(desc.PkeyColumns) > 0 && !opts.NoReturning,
	}
	compiled, err := b.builder.BuildInsert(spec)
	if err != nil {
		return PkeyResult{}, err
	}

	if spec.Returning && b.builder.SupportsReturning() {
		returnedRows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
		if err != nil {
			return PkeyResult{}, err
		}
		return resolvePkeyResult(ctx, b.builder, desc.PkeyColumns, len(rows), returnedRows, 0, nil)
	}

	rowCount, lastInsertID, err := b.execWrite(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return PkeyResult{}, err
	}
	if !spec.Returning {
		return PkeyResult{Key: desc.PkeyColumns}, nil
	}
	if presupplied, ok := presuppliedPkeys(desc.PkeyColumns, records); ok {
		return pkeyResultFromPreSelect(ctx, b.execQuery, b.builder, desc.TableName, desc.PkeyColumns, presupplied)
	}
	return resolvePkeyResult(ctx, b.builder, desc.PkeyColumns, int(rowCount), nil, lastInsertID, nil)
}

// presuppliedPkeys reports whether every record already carries values for
// every pkey column (a natural-key table), in which case insertId-range
// arithmetic does not apply and the caller's own values are authoritative.
func presuppliedPkeys(pkeyCols []Column, records []map[string]interface{}) ([][]interface{}, bool) {
	if len(pkeyCols) == 0 {
		return nil, false
	}
	out := make([][]interface{}, len(records))
	for i, rec := range records {
		tuple := make([]interface{}, len(pkeyCols))
		for j, col := range pkeyCols {
			v, ok := rec[col.PropertyName]
			if !ok {
				return nil, false
			}
			tuple[j] = v
		}
		out[i] = tuple
	}
	return out, true
}

func insertColumnsFor(desc *ModelDescriptor, sample map[string]interface{}) ([]Column, error) {
	cols := make([]Column, 0, len(sample))
	for _, name := range desc.ColumnOrder {
		if _, ok := sample[name]; ok {
			cols = append(cols, desc.Columns[name])
		}
	}
	if len(cols) == 0 {
		return nil, errEmptyInsertRecord()
	}
	return cols, nil
}

// Update runs a single UPDATE statement against desc. A value equal to
// Skip drops that column's SET clause entirely rather than writing it back
// unchanged. When opts.Returning is
// set, the result carries the affected rows' primary keys as a PkeyResult
//: a RETURNING-capable dialect appends it to the UPDATE
// itself; MySQL instead pre-SELECTs the matching pkeys before issuing the
// write, relying on update() already requiring an open write-transaction
// scope to keep both statements on the same connection.
func (b *Base) Update(ctx context.Context, desc *ModelDescriptor, set map[string]interface{}, where *ConditionTree, opts UpdateOptions) (int64, PkeyResult, error) {
	call := MethodCall{Method: "update", Model: desc.TableName, Args: []interface{}{set, where, opts}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		rowCount, pkeys, uerr := b.doUpdate(ctx, desc, set, where, opts)
		return writeResult{rowCount, pkeys}, uerr
	})
	if err != nil {
		return 0, PkeyResult{}, err
	}
	wr := result.(writeResult)
	return wr.rowCount, wr.pkeys, nil
}

func (b *Base) doUpdate(ctx context.Context, desc *ModelDescriptor, set map[string]interface{}, where *ConditionTree, opts UpdateOptions) (int64, PkeyResult, error) {
	if desc.IsQueryBased() {
		return 0, PkeyResult{}, errQueryBasedWrite(desc.TableName)
	}
	if err := b.assertWriteScope(ctx, "update "+desc.TableName); err != nil {
		return 0, PkeyResult{}, err
	}
	clauses := make([]SetClause, 0, len(set))
	for name, v := range set {
		col, ok := desc.Columns[name]
		if !ok {
			return 0, PkeyResult{}, errMissingColumn(name)
		}
		if IsSkip(v) {
			continue
		}
		serialized, err := col.Serialize(v)
		if err != nil {
			return 0, PkeyResult{}, err
		}
		clauses = append(clauses, SetClause{Col: col, Val: Param{V: serialized}})
	}
	if len(clauses) == 0 {
		// Every value was Skip: the whole update is a no-op with no SQL
		// executed at all.
		return 0, PkeyResult{}, nil
	}

	table := desc.EffectiveUpdateTable()
	effWhere := b.effectiveWhere(desc, where, false)
	returning := opts.Returning && len(desc.PkeyColumns) > 0

	var preselected PkeyResult
	if returning && !b.builder.SupportsReturning() {
		var err error
		preselected, err = b.preselectPkeys(ctx, table, desc.PkeyColumns, effWhere)
		if err != nil {
			return 0, PkeyResult{}, err
		}
	}

	spec := UpdateSpec{
		Table:         table,
		SetClauses:    clauses,
		Where:         effWhere,
		Returning:     returning && b.builder.SupportsReturning(),
		ReturningCols: desc.PkeyColumns,
	}
	compiled, err := b.builder.BuildUpdate(spec)
	if err != nil {
		return 0, PkeyResult{}, err
	}

	if spec.Returning {
		returnedRows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
		if err != nil {
			return 0, PkeyResult{}, err
		}
		pkeys, err := pkeyResultFromRows(desc.PkeyColumns, returnedRows)
		if err != nil {
			return 0, PkeyResult{}, err
		}
		return int64(len(returnedRows)), pkeys, nil
	}

	rowCount, _, err := b.execWrite(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return 0, PkeyResult{}, err
	}
	if returning {
		return rowCount, preselected, nil
	}
	return rowCount, PkeyResult{}, nil
}

// preselectPkeys runs BuildSelectPkeys against where and decodes the result
// into a PkeyResult, the MySQL-only half of update()/delete()'s RETURNING
// emulation: the row-matching condition is known before the
// write runs, unlike create()'s insertId-range/pre-SELECT-by-value
// strategies, which only apply after the write.
func (b *Base) preselectPkeys(ctx context.Context, table string, pkeyCols []Column, where *ConditionTree) (PkeyResult, error) {
	compiled, err := b.builder.BuildSelectPkeys(table, pkeyCols, where)
	if err != nil {
		return PkeyResult{}, err
	}
	rows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return PkeyResult{}, err
	}
	return pkeyResultFromRows(pkeyCols, rows)
}

// UpdateManyRow is one row of a batch update: Keys supplies the values
// identifying the row (in desc's primary key order) and Set supplies the
// column values to write, with Skip dropping a column for that row only.
type UpdateManyRow struct {
	Keys []interface{}
	Set  map[string]interface{}
}

// UpdateMany batch-updates many rows addressed by primary key in one
// statement. The set of updated
// columns is the union across all rows; a row missing a key present in
// another row is treated as Skip for that column. opts.Returning is handled
// the same way Update's is: native RETURNING where supported, a pre-SELECT
// keyed on the batch's own key tuples on MySQL.
func (b *Base) UpdateMany(ctx context.Context, desc *ModelDescriptor, rows []UpdateManyRow, opts UpdateManyOptions) (int64, PkeyResult, error) {
	call := MethodCall{Method: "updateMany", Model: desc.TableName, Args: []interface{}{rows, opts}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		rowCount, pkeys, uerr := b.doUpdateMany(ctx, desc, rows, opts)
		return writeResult{rowCount, pkeys}, uerr
	})
	if err != nil {
		return 0, PkeyResult{}, err
	}
	wr := result.(writeResult)
	return wr.rowCount, wr.pkeys, nil
}

func (b *Base) doUpdateMany(ctx context.Context, desc *ModelDescriptor, rows []UpdateManyRow, opts UpdateManyOptions) (int64, PkeyResult, error) {
	if desc.IsQueryBased() {
		return 0, PkeyResult{}, errQueryBasedWrite(desc.TableName)
	}
	if err := b.assertWriteScope(ctx, "updateMany "+desc.TableName); err != nil {
		return 0, PkeyResult{}, err
	}
	if len(rows) == 0 {
		return 0, PkeyResult{}, nil
	}
	updateCols := collectUpdateColumns(desc, rows)
	if len(updateCols) == 0 {
		return 0, PkeyResult{}, nil
	}
	records := make([]UpdateManyRecord, len(rows))
	keyTuples := make([][]interface{}, len(rows))
	for i, r := range rows {
		values := make([]interface{}, len(updateCols))
		skip := make([]bool, len(updateCols))
		for j, col := range updateCols {
			v, ok := r.Set[col.PropertyName]
			if !ok || IsSkip(v) {
				skip[j] = true
				continue
			}
			serialized, err := col.Serialize(v)
			if err != nil {
				return 0, PkeyResult{}, err
			}
			values[j] = serialized
		}
		records[i] = UpdateManyRecord{Keys: r.Keys, Values: values, Skip: skip}
		keyTuples[i] = r.Keys
	}

	table := desc.EffectiveUpdateTable()
	returning := opts.Returning && len(desc.PkeyColumns) > 0

	var preselected PkeyResult
	if returning && !b.builder.SupportsReturning() {
		var err error
		preselected, err = b.preselectPkeys(ctx, table, desc.PkeyColumns, matchTuplesCondition(desc.PkeyColumns, keyTuples))
		if err != nil {
			return 0, PkeyResult{}, err
		}
	}

	spec := UpdateManySpec{
		Table:         table,
		KeyColumns:    desc.PkeyColumns,
		UpdateColumns: updateCols,
		Records:       records,
		Returning:     returning && b.builder.SupportsReturning(),
		ReturningCols: desc.PkeyColumns,
	}
	compiled, err := b.builder.BuildUpdateMany(spec)
	if err != nil {
		return 0, PkeyResult{}, err
	}

	if spec.Returning {
		returnedRows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
		if err != nil {
			return 0, PkeyResult{}, err
		}
		pkeys, err := pkeyResultFromRows(desc.PkeyColumns, returnedRows)
		if err != nil {
			return 0, PkeyResult{}, err
		}
		return int64(len(returnedRows)), pkeys, nil
	}

	rowCount, _, err := b.execWrite(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return 0, PkeyResult{}, err
	}
	if returning {
		return rowCount, preselected, nil
	}
	return rowCount, PkeyResult{}, nil
}

func collectUpdateColumns(desc *ModelDescriptor, rows []UpdateManyRow) []Column {
	seen := make(map[string]bool)
	var cols []Column
	for _, name := range desc.ColumnOrder {
		for _, r := range rows {
			if v, ok := r.Set[name]; ok && !IsSkip(v) && !seen[name] {
				seen[name] = true
				cols = append(cols, desc.Columns[name])
				break
			}
		}
	}
	return cols
}

// Delete runs a DELETE against desc. where is
// passed through as-is, unlike Find: unless the caller names it explicitly,
// a delete targets exactly the rows the caller's condition names, not the
// descriptor's DefaultFilter's. When opts.Returning is set, the result
// carries the deleted rows' pkeys, synthesized the same
// way Update does: native RETURNING where supported, a pre-SELECT of the
// matching pkeys before the DELETE on MySQL.
func (b *Base) Delete(ctx context.Context, desc *ModelDescriptor, where *ConditionTree, opts DeleteOptions) (int64, PkeyResult, error) {
	call := MethodCall{Method: "delete", Model: desc.TableName, Args: []interface{}{where, opts}}
	result, err := b.middleware.RunMethod(ctx, call, func(ctx context.Context) (interface{}, error) {
		rowCount, pkeys, derr := b.doDelete(ctx, desc, where, opts)
		return writeResult{rowCount, pkeys}, derr
	})
	if err != nil {
		return 0, PkeyResult{}, err
	}
	wr := result.(writeResult)
	return wr.rowCount, wr.pkeys, nil
}

func (b *Base) doDelete(ctx context.Context, desc *ModelDescriptor, where *ConditionTree, opts DeleteOptions) (int64, PkeyResult, error) {
	if desc.IsQueryBased() {
		return 0, PkeyResult{}, errQueryBasedWrite(desc.TableName)
	}
	if err := b.assertWriteScope(ctx, "delete "+desc.TableName); err != nil {
		return 0, PkeyResult{}, err
	}
	table := desc.EffectiveUpdateTable()
	returning := opts.Returning && len(desc.PkeyColumns) > 0

	var preselected PkeyResult
	if returning && !b.builder.SupportsReturning() {
		var err error
		preselected, err = b.preselectPkeys(ctx, table, desc.PkeyColumns, where)
		if err != nil {
			return 0, PkeyResult{}, err
		}
	}

	spec := DeleteSpec{
		Table:         table,
		Where:         where,
		Returning:     returning && b.builder.SupportsReturning(),
		ReturningCols: desc.PkeyColumns,
	}
	compiled, err := b.builder.BuildDelete(spec)
	if err != nil {
		return 0, PkeyResult{}, err
	}

	if spec.Returning {
		returnedRows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
		if err != nil {
			return 0, PkeyResult{}, err
		}
		pkeys, err := pkeyResultFromRows(desc.PkeyColumns, returnedRows)
		if err != nil {
			return 0, PkeyResult{}, err
		}
		return int64(len(returnedRows)), pkeys, nil
	}

	rowCount, _, err := b.execWrite(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return 0, PkeyResult{}, err
	}
	if returning {
		return rowCount, preselected, nil
	}
	return rowCount, PkeyResult{}, nil
}

// deserializeRows applies each present column's Deserialize to every row in
// place, driven by the descriptor's per-column coder. A single field's
// decode failure nulls that field rather than failing the row or the batch;
// a malformed row must never block the rest of the result set.
func deserializeRows(desc *ModelDescriptor, rows Rows) error {
	byName := columnsByName(desc)
	for _, row := range rows {
		for name, col := range byName {
			raw, ok := row[name]
			if !ok || raw == nil {
				continue
			}
			decoded, err := col.Deserialize(raw.Val())
			if err != nil {
				row[name] = gvar.New(nil)
				continue
			}
			row[name] = gvar.New(decoded)
		}
	}
	return nil
}

func columnsByName(desc *ModelDescriptor) map[string]Column {
	out := make(map[string]Column, len(desc.Columns))
	for _, col := range desc.Columns {
		out[col.ColumnName] = col
	}
	return out
}

func errQueryBasedWrite(table string) error {
	return &queryBasedWriteError{table: table}
}

type queryBasedWriteError struct{ table string }

func (e *queryBasedWriteError) Error() string {
	return "relo: model \"" + e.table + "\" is query-based (CTE) and supports reads only"
}

func errMissingColumn(name string) error {
	return &missingColumnError{name: name}
}

type missingColumnError struct{ name string }

func (e *missingColumnError) Error() string {
	return "relo: no column registered for property " + e.name
}

func errEmptyInsertRecord() error {
	return &emptyInsertError{}
}

type emptyInsertError struct{}

func (e *emptyInsertError) Error() string { return "relo: create() record has no recognized columns" }
