// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"sync"

	"github.com/gogf/gf/errors/gerror"
)

// ModelDescriptor is the runtime schema the core consumes from the
// decorator/reflection layer. The core never inspects
// language-level class metadata; it consults only this struct.
type ModelDescriptor struct {
	TableName        string
	UpdateTableName  string // empty unless distinct from TableName.
	CTESQL           string // non-empty marks this descriptor "query-based" (read-only).
	CTEPrebindParams []interface{}

	Columns     map[string]Column // propertyName -> Column, insertion order tracked via ColumnOrder.
	ColumnOrder []string          // propertyNames in declaration order.
	PkeyColumns []Column

	DefaultOrder  []OrderSpec
	DefaultFilter *ConditionTree
	DefaultSelect []string
	DefaultGroup  string

	frozen bool // true once first consumed by a query; set by ModelRegistry.Lookup.
}

// IsQueryBased reports whether this descriptor's logical "table" is a CTE
// expression. Such models support only read
// operations.
func (d *ModelDescriptor) IsQueryBased() bool { return d.CTESQL != "" }

// EffectiveUpdateTable returns UpdateTableName if set, else TableName.
func (d *ModelDescriptor) EffectiveUpdateTable() string {
	if d.UpdateTableName != "" {
		return d.UpdateTableName
	}
	return d.TableName
}

// Validate checks the descriptor invariants: every column in PkeyColumns
// must appear in Columns, and a query-based model must not carry an
// UpdateTableName.
func (d *ModelDescriptor) Validate() error {
	for _, pk := range d.PkeyColumns {
		if _, ok := d.Columns[pk.PropertyName]; !ok {
			return gerror.Newf("relo: primary key column %q is not present in descriptor columns", pk.PropertyName)
		}
	}
	if d.IsQueryBased() && d.UpdateTableName != "" {
		return gerror.New("relo: a query-based (CTE) model descriptor must not set UpdateTableName")
	}
	return nil
}

// OrderedColumns returns Columns in declaration order, needed anywhere
// column order is observable (batch INSERT column lists, UNNEST arg order).
func (d *ModelDescriptor) OrderedColumns() []Column {
	out := make([]Column, 0, len(d.ColumnOrder))
	for _, name := range d.ColumnOrder {
		out = append(out, d.Columns[name])
	}
	return out
}

// WithQuery returns a derived, read-only descriptor whose CTESQL/
// CTEPrebindParams are set from sql/params, preserving TableName (used as
// the CTE alias) and Columns. Additional find()
// params are appended after the pre-bound params by the query engine, not
// here.
func (d *ModelDescriptor) WithQuery(sql string, params []interface{}) *ModelDescriptor {
	derived := *d
	derived.CTESQL = sql
	derived.CTEPrebindParams = params
	derived.UpdateTableName = ""
	derived.frozen = false
	return &derived
}

// ModelRegistry maps a model reference name to its descriptor. It is global
// across database bases because relation resolution may cross databases.
type ModelRegistry struct {
	mu    sync.RWMutex
	byRef map[string]*ModelDescriptor
}

// globalRegistry is the process-wide registry.
var globalRegistry = &ModelRegistry{byRef: make(map[string]*ModelDescriptor)}

// DefaultRegistry returns the process-wide model registry.
func DefaultRegistry() *ModelRegistry { return globalRegistry }

// Register adds or replaces a descriptor under the given reference name.
// Descriptors are expected to be registered once at model-definition time;
// re-registering after the descriptor has been consumed by a query returns
// a programmer error instead of silently corrupting state.
func (r *ModelRegistry) Register(ref string, desc *ModelDescriptor) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byRef[ref]; ok && existing.frozen {
		return gerror.Newf("relo: model %q descriptor was already used by a query; re-registration is not supported", ref)
	}
	r.byRef[ref] = desc
	return nil
}

// Lookup returns the descriptor for ref and marks it frozen (first use).
func (r *ModelRegistry) Lookup(ref string) (*ModelDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byRef[ref]
	if !ok {
		return nil, gerror.Newf("relo: no model registered for %q", ref)
	}
	d.frozen = true
	return d, nil
}
