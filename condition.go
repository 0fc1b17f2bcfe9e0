// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import "strings"

// ConditionEntry is one entry of a ConditionTree: a (column, value) pair, a
// placeholder fragment, a bare fragment, an OR block, a composite-tuple IN,
// or a subquery/EXISTS node.
type ConditionEntry interface {
	compile(paramsOut *[]interface{}, fmtr CastFormatter) (sql string, isEmpty bool)
}

// ColumnValueEntry is shape (a): (Column, Value).
type ColumnValueEntry struct {
	Col Column
	Val ValueNode
}

func (e ColumnValueEntry) compile(paramsOut *[]interface{}, fmtr CastFormatter) (string, bool) {
	if _, skip := e.Val.(skipNode); skip {
		return "", true
	}
	return e.Val.Compile(paramsOut, e.Col.ColumnName, fmtr), false
}

// FragmentEntry is shape (b): an operator fragment containing "?" paired
// with a value or tuple of values.
type FragmentEntry struct {
	Fragment string
	Val      ValueNode
}

func (e FragmentEntry) compile(paramsOut *[]interface{}, fmtr CastFormatter) (string, bool) {
	if _, skip := e.Val.(skipNode); skip {
		return "", true
	}
	return expandFragment(e.Fragment, e.Val, paramsOut, fmtr), false
}

// RawEntry is shape (c): a standalone fragment with no placeholders, e.g.
// "deleted_at IS NULL".
type RawEntry struct{ Fragment string }

func (e RawEntry) compile(_ *[]interface{}, _ CastFormatter) (string, bool) {
	if e.Fragment == "" {
		return "", true
	}
	return e.Fragment, false
}

// OrEntry is shape (d): a disjunction of sub-trees.
type OrEntry struct{ Subtrees []*ConditionTree }

func (e OrEntry) compile(paramsOut *[]interface{}, fmtr CastFormatter) (string, bool) {
	parts := make([]string, 0, len(e.Subtrees))
	for _, sub := range e.Subtrees {
		frag := sub.Compile(paramsOut, fmtr)
		if frag == "" {
			continue
		}
		parts = append(parts, "("+frag+")")
	}
	if len(parts) == 0 {
		return "", true
	}
	return "(" + strings.Join(parts, " OR ") + ")", false
}

// CompositeInEntry is shape (e): composite-tuple IN.
type CompositeInEntry struct {
	Columns []Column
	Tuples  [][]interface{}
}

func (e CompositeInEntry) compile(paramsOut *[]interface{}, fmtr CastFormatter) (string, bool) {
	node := TupleIn{Columns: e.Columns, Tuples: e.Tuples}
	return node.Compile(paramsOut, "", fmtr), false
}

// SubqueryEntry/ExistsEntry are shape (f): subquery/EXISTS nodes spliced
// directly into a condition position.
type SubqueryEntry struct{ Node Subquery }

func (e SubqueryEntry) compile(paramsOut *[]interface{}, fmtr CastFormatter) (string, bool) {
	return e.Node.Compile(paramsOut, "", fmtr), false
}

type ExistsEntry struct{ Node Exists }

func (e ExistsEntry) compile(paramsOut *[]interface{}, fmtr CastFormatter) (string, bool) {
	return e.Node.Compile(paramsOut, "", fmtr), false
}

// ConditionTree is an ordered list of ConditionEntry, ANDed together.
// Duplicate keys are legal and preserved in insertion order; the compiler
// does not deduplicate them.
type ConditionTree struct {
	Entries []ConditionEntry
}

// NewConditionTree builds a tree from entries, dropping nothing up front;
// SKIP handling happens per-entry during Compile so a caller can still
// introspect Entries before compilation.
func NewConditionTree(entries ...ConditionEntry) *ConditionTree {
	return &ConditionTree{Entries: entries}
}

// Or builds an OrEntry from condition trees built via NewConditionTree.
func Or(subtrees ...*ConditionTree) ConditionEntry {
	return OrEntry{Subtrees: subtrees}
}

// Add appends an entry and returns the tree for chaining.
func (t *ConditionTree) Add(e ConditionEntry) *ConditionTree {
	t.Entries = append(t.Entries, e)
	return t
}

// Compile renders the AND-joined WHERE body (no leading "WHERE" keyword).
// Entries whose value is SKIP are silently dropped; if every entry drops,
// Compile returns "" and the caller must suppress the WHERE keyword
// entirely.
func (t *ConditionTree) Compile(paramsOut *[]interface{}, fmtr CastFormatter) string {
	if t == nil {
		return ""
	}
	parts := make([]string, 0, len(t.Entries))
	for _, e := range t.Entries {
		frag, empty := e.compile(paramsOut, fmtr)
		if empty {
			continue
		}
		parts = append(parts, frag)
	}
	return strings.Join(parts, " AND ")
}

// expandFragment substitutes "?" placeholders in fragment with the compiled
// value. If the value is an array and the fragment contains exactly one
// "IN (?)" marker, the marker expands to "IN (?, ?, ...)"; otherwise
// positional "?"s substitute one-for-one.
func expandFragment(fragment string, val ValueNode, paramsOut *[]interface{}, fmtr CastFormatter) string {
	switch v := val.(type) {
	case Array:
		if strings.Count(fragment, "IN (?)") == 1 {
			rendered := v.Compile(paramsOut, "", fmtr)
			return strings.Replace(fragment, "IN (?)", "IN "+rendered, 1)
		}
		rendered := v.Compile(paramsOut, "", fmtr)
		return strings.Replace(fragment, "?", rendered, 1)
	case Dynamic:
		// The fragment already carries its own "?" placeholders in the
		// right order; just append the matching values.
		*paramsOut = append(*paramsOut, v.Values...)
		return fragment
	case Cast:
		*paramsOut = append(*paramsOut, v.V)
		return strings.Replace(fragment, "?", fmtr("?", v.SQLType), 1)
	case CastArray:
		rendered := v.Compile(paramsOut, "", fmtr)
		return strings.Replace(fragment, "IN (?)", "IN "+rendered, 1)
	default:
		rendered := val.Compile(paramsOut, "", fmtr)
		return strings.Replace(fragment, "?", rendered, 1)
	}
}
