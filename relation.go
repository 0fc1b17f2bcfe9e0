// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// RelationKind selects a relation's cardinality.
type RelationKind int

const (
	BelongsTo RelationKind = iota
	HasOne
	HasMany
)

// KeyPair is one (ownerColumn, targetColumn) pair of a relation's key list
//: the first element names a column of the owner model, the
// second a column of the target model.
type KeyPair struct {
	Source Column
	Target Column
}

// RelationSpec is a declarative relation definition attached to a model,
// resolved against real Column values once rather than parsed from a
// relation string at call time.
type RelationSpec struct {
	Kind   RelationKind
	Keys   []KeyPair
	Target *ModelDescriptor
	Order  []OrderSpec
	Where  *ConditionTree
	// Limit, when set and Kind == HasMany, caps rows per owner using the
	// dialect's LATERAL/ROW_NUMBER form. Zero means unset.
	Limit int
	// HardLimit overrides the base's HasManyHardLimit for this relation; nil
	// means "use the base default", and a pointer to 0 or less means
	// disabled entirely.
	HardLimit *int
}

// BatchContext memoizes relation fetches across the set of rows one find()
// call returned. A relation is fetched at most once per batch regardless of how
// many owner rows request it; concurrent accesses for the same relation
// coalesce into a single query: the first awaiter initiates it and the rest
// block until it completes.
type BatchContext struct {
	mu       sync.Mutex
	resolved map[string]map[string]Rows // relationName -> source-tuple-key -> target rows
	inflight map[string]chan struct{}   // relationName -> closed when the initiating fetch finishes
}

// NewBatchContext returns an empty batch context for one find() result set.
func NewBatchContext() *BatchContext {
	return &BatchContext{
		resolved: make(map[string]map[string]Rows),
		inflight: make(map[string]chan struct{}),
	}
}

// resolve returns the memoized bucket map for relationName, running fetch at
// most once per batch even under concurrent callers. A failed fetch is not
// memoized; the next caller retries it.
func (bc *BatchContext) resolve(ctx context.Context, relationName string, fetch func() (map[string]Rows, error)) (map[string]Rows, error) {
	for {
		bc.mu.Lock()
		if m, ok := bc.resolved[relationName]; ok {
			bc.mu.Unlock()
			return m, nil
		}
		if ch, ok := bc.inflight[relationName]; ok {
			bc.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			continue
		}
		ch := make(chan struct{})
		bc.inflight[relationName] = ch
		bc.mu.Unlock()

		m, err := fetch()
		bc.mu.Lock()
		delete(bc.inflight, relationName)
		if err == nil {
			bc.resolved[relationName] = m
		}
		bc.mu.Unlock()
		close(ch)
		return m, err
	}
}

// tupleKey renders a source key tuple into a stable map key. Values are
// formatted with %v, which is adequate for the scalar column types the
// condition/value AST supports; it is not meant to be
// collision-proof against adversarial input, only against the bounded set of
// primary/foreign key value shapes this package ever serializes.
func tupleKey(tuple []interface{}) string {
	parts := make([]string, len(tuple))
	for i, v := range tuple {
		parts[i] = fmt.Sprintf("%v", v)
	}
	return strings.Join(parts, "\x1f")
}

func ownerTuple(owner Record, keys []KeyPair) ([]interface{}, bool) {
	tuple := make([]interface{}, len(keys))
	for i, kp := range keys {
		v, ok := owner[kp.Source.ColumnName]
		if !ok || v == nil || v.IsNil() {
			return nil, false
		}
		tuple[i] = v.Val()
	}
	return tuple, true
}

// LoadRelation resolves spec against owners, returning target rows bucketed
// by owner index. When batch is non-nil, the relation is fetched once for
// the union of all owners' key tuples and memoized under relationName;
// subsequent calls for the same (batch, relationName) pair reuse the cached
// fetch rather than re-querying. When batch is nil,
// only owners' own tuple is queried, unmemoized.
//
// Relation queries bypass method-level middleware hooks entirely and reach
// Core through the execute-level chain only, so a tenant-scoping find() hook cannot
// double-apply itself against the wrong model.
func (b *Base) LoadRelation(ctx context.Context, owners Rows, relationName string, spec RelationSpec, batch *BatchContext) (map[int]Rows, error) {
	bucket := make(map[int]Rows, len(owners))
	if len(owners) == 0 {
		return bucket, nil
	}

	tuples := make([]([]interface{}), len(owners))
	ok := make([]bool, len(owners))
	for i, owner := range owners {
		t, present := ownerTuple(owner, spec.Keys)
		tuples[i] = t
		ok[i] = present
	}

	var byTuple map[string]Rows
	if batch != nil {
		var err error
		byTuple, err = batch.resolve(ctx, relationName, func() (map[string]Rows, error) {
			rows, err := b.fetchRelationRows(ctx, spec, distinctTuples(tuples, ok))
			if err != nil {
				return nil, err
			}
			return bucketByTargetKey(rows, spec.Keys), nil
		})
		if err != nil {
			return nil, err
		}
	} else {
		var toFetch [][]interface{}
		for i := range tuples {
			if ok[i] {
				toFetch = append(toFetch, tuples[i])
			}
		}
		rows, err := b.fetchRelationRows(ctx, spec, toFetch)
		if err != nil {
			return nil, err
		}
		byTuple = bucketByTargetKey(rows, spec.Keys)
	}

	for i := range owners {
		if !ok[i] {
			continue
		}
		bucket[i] = byTuple[tupleKey(tuples[i])]
	}
	return bucket, nil
}

func distinctTuples(tuples [][]interface{}, ok []bool) [][]interface{} {
	seen := make(map[string]bool)
	var out [][]interface{}
	for i, t := range tuples {
		if !ok[i] {
			continue
		}
		key := tupleKey(t)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, t)
	}
	return out
}

func bucketByTargetKey(rows Rows, keys []KeyPair) map[string]Rows {
	out := make(map[string]Rows)
	for _, row := range rows {
		tuple := make([]interface{}, len(keys))
		for i, kp := range keys {
			v, ok := row[kp.Target.ColumnName]
			if !ok || v == nil {
				tuple[i] = nil
				continue
			}
			tuple[i] = v.Val()
		}
		key := tupleKey(tuple)
		out[key] = append(out[key], row)
	}
	return out
}

// fetchRelationRows issues the actual SELECT for a relation's distinct
// source key tuples, choosing between a plain capped SELECT and the
// dialect's per-parent-limited form depending on spec.Limit.
func (b *Base) fetchRelationRows(ctx context.Context, spec RelationSpec, tuples [][]interface{}) (Rows, error) {
	if len(tuples) == 0 {
		return Rows{}, nil
	}
	targetCols := make([]Column, len(spec.Keys))
	for i, kp := range spec.Keys {
		targetCols[i] = kp.Target
	}

	hardLimit := b.cfg.HasManyHardLimit
	if spec.HardLimit != nil {
		hardLimit = *spec.HardLimit
	}

	if spec.Kind == HasMany && spec.Limit > 0 {
		outer := 0
		if hardLimit > 0 {
			outer = hardLimit + 1
		}
		compiled, err := b.builder.BuildRelationLimited(RelationLimitSpec{
			TargetTable:    spec.Target.TableName,
			TargetCols:     targetCols,
			Tuples:         tuples,
			Where:          spec.Where,
			OrderBy:        spec.Order,
			PerParentLimit: spec.Limit,
			OuterLimit:     outer,
		})
		if err != nil {
			return nil, err
		}
		rows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
		if err != nil {
			return nil, err
		}
		if hardLimit > 0 {
			rows, err = enforceHardLimit(rows, hardLimit)
			if err != nil {
				return nil, err
			}
		}
		if err := deserializeRows(spec.Target, rows); err != nil {
			return nil, err
		}
		return rows, nil
	}

	limit := 0
	if hardLimit > 0 {
		limit = hardLimit + 1
	}
	compiled, err := b.buildRelationFetch(spec, targetCols, tuples, limit)
	if err != nil {
		return nil, err
	}
	rows, err := b.execQuery(ctx, compiled.SQL, compiled.Params)
	if err != nil {
		return nil, err
	}
	if hardLimit > 0 {
		rows, err = enforceHardLimit(rows, hardLimit)
		if err != nil {
			return nil, err
		}
	}
	if err := deserializeRows(spec.Target, rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// buildRelationFetch compiles the batched, unlimited relation SELECT around
// the dialect's own key shape for batch loading: BuildFindByPkeys supplies
// the ANY(array)/JOIN UNNEST/JOIN (VALUES ROW ...)/WITH v(...) AS (VALUES)
// core, and the relation's extra conditions, order, and hard-limit cap are
// appended around it. A query-based (CTE) target keeps the generic
// tuple-IN SELECT, since the key-shape forms address a physical table.
func (b *Base) buildRelationFetch(spec RelationSpec, targetCols []Column, tuples [][]interface{}, limit int) (CompiledSQL, error) {
	if spec.Target.IsQueryBased() {
		where := matchTuplesCondition(targetCols, tuples)
		if spec.Where != nil {
			where.Entries = append(where.Entries, spec.Where.Entries...)
		}
		return b.builder.BuildSelect(SelectSpec{
			From:             spec.Target.TableName,
			CTE:              spec.Target.CTESQL,
			CTEAlias:         spec.Target.TableName,
			CTEPrebindParams: spec.Target.CTEPrebindParams,
			Where:            where,
			OrderBy:          spec.Order,
			Limit:            limit,
		})
	}
	compiled, err := b.builder.BuildFindByPkeys(spec.Target.TableName, targetCols, tuples, nil)
	if err != nil {
		return CompiledSQL{}, err
	}
	sqlText := compiled.SQL
	params := compiled.Params
	if frag := spec.Where.Compile(&params, b.builder.CastFormatter()); frag != "" {
		// The single-key shapes already carry a WHERE; the JOIN shapes don't.
		if strings.Contains(sqlText, " WHERE ") {
			sqlText += " AND " + frag
		} else {
			sqlText += " WHERE " + frag
		}
	}
	if len(spec.Order) > 0 {
		sqlText += " ORDER BY " + RenderOrderBy(spec.Order)
	}
	if limit > 0 {
		sqlText += fmt.Sprintf(" LIMIT %d", limit)
	}
	return CompiledSQL{SQL: sqlText, Params: params}, nil
}

func matchTuplesCondition(targetCols []Column, tuples [][]interface{}) *ConditionTree {
	if len(targetCols) == 1 {
		values := make([]interface{}, len(tuples))
		for i, t := range tuples {
			values[i] = t[0]
		}
		return NewConditionTree(ColumnValueEntry{Col: targetCols[0], Val: Array{Values: values}})
	}
	return NewConditionTree(CompositeInEntry{Columns: targetCols, Tuples: tuples})
}

// ResolveBelongsTo/ResolveHasOne pick a single row (or none) out of a
// relation bucket: belongsTo takes the first match, hasOne asserts at most
// one exists.
func ResolveBelongsTo(rows Rows) (Record, bool) {
	if len(rows) == 0 {
		return nil, false
	}
	return rows[0], true
}

func ResolveHasOne(rows Rows) (Record, bool, error) {
	if len(rows) == 0 {
		return nil, false, nil
	}
	if len(rows) > 1 {
		return nil, false, fmt.Errorf("relo: hasOne relation resolved to %d rows, expected at most 1", len(rows))
	}
	return rows[0], true, nil
}
