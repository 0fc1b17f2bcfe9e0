// Copyright relo Authors. All Rights Reserved.
//
// This Source Code Form is subject to the terms of the MIT License.

package relo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestColumn_EqNilBuildsIsNull(t *testing.T) {
	entry := idCol.Eq(nil)
	cv, ok := entry.(ColumnValueEntry)
	assert.True(t, ok)
	assert.IsType(t, Null{}, cv.Val)
}

func TestColumn_EqSliceBuildsArray(t *testing.T) {
	entry := idCol.Eq([]interface{}{1, 2, 3})
	cv, ok := entry.(ColumnValueEntry)
	assert.True(t, ok)
	arr, ok := cv.Val.(Array)
	assert.True(t, ok)
	assert.Equal(t, []interface{}{1, 2, 3}, arr.Values)
}

func TestColumn_EqSkipBuildsSkipNode(t *testing.T) {
	entry := idCol.Eq(Skip)
	cv, ok := entry.(ColumnValueEntry)
	assert.True(t, ok)
	assert.IsType(t, skipNode{}, cv.Val)
}

// TestColumn_SkipDropsEveryConstructor checks the SKIP idempotence rule
// across every condition constructor, not just Eq: a Skip anywhere in a
// condition position compiles to nothing and binds nothing.
func TestColumn_SkipDropsEveryConstructor(t *testing.T) {
	c := Column{ColumnName: "age"}
	tree := NewConditionTree(
		c.Ne(Skip),
		c.Gt(Skip),
		c.Gte(Skip),
		c.Lt(Skip),
		c.Lte(Skip),
		c.Like(Skip),
		c.Between(Skip, 10),
		c.Between(1, Skip),
	)
	var params []interface{}
	frag := tree.Compile(&params, pgFmtr())
	assert.Empty(t, frag)
	assert.Empty(t, params)
}

func TestColumn_EqScalarBuildsParam(t *testing.T) {
	entry := idCol.Eq(5)
	cv, ok := entry.(ColumnValueEntry)
	assert.True(t, ok)
	p, ok := cv.Val.(Param)
	assert.True(t, ok)
	assert.Equal(t, 5, p.V)
}

func TestColumn_NeNilBuildsNotNull(t *testing.T) {
	entry := idCol.Ne(nil)
	var params []interface{}
	cv := entry.(ColumnValueEntry)
	assert.Equal(t, "id IS NOT NULL", cv.Val.Compile(&params, "id", pgFmtr()))
}

func TestColumn_NeSliceBuildsNotIn(t *testing.T) {
	entry := idCol.Ne([]interface{}{1, 2})
	fe, ok := entry.(FragmentEntry)
	assert.True(t, ok)
	var params []interface{}
	assert.Equal(t, "id NOT IN (?, ?)", expandFragment(fe.Fragment, fe.Val, &params, pgFmtr()))
}

func TestColumn_ComparisonConstructors(t *testing.T) {
	cases := []struct {
		build    func() ConditionEntry
		expected string
	}{
		{func() ConditionEntry { return idCol.Gt(1) }, "id > ?"},
		{func() ConditionEntry { return idCol.Gte(1) }, "id >= ?"},
		{func() ConditionEntry { return idCol.Lt(1) }, "id < ?"},
		{func() ConditionEntry { return idCol.Lte(1) }, "id <= ?"},
		{func() ConditionEntry { return nameCol.Like("a%") }, "name LIKE ?"},
	}
	for _, tc := range cases {
		fe := tc.build().(FragmentEntry)
		var params []interface{}
		assert.Equal(t, tc.expected, expandFragment(fe.Fragment, fe.Val, &params, pgFmtr()))
	}
}

func TestColumn_Between(t *testing.T) {
	entry := idCol.Between(1, 10).(FragmentEntry)
	var params []interface{}
	sql := expandFragment(entry.Fragment, entry.Val, &params, pgFmtr())
	assert.Equal(t, "id BETWEEN ? AND ?", sql)
	assert.Equal(t, []interface{}{1, 10}, params)
}

func TestColumn_In(t *testing.T) {
	entry := idCol.In([]interface{}{1, 2}).(ColumnValueEntry)
	var params []interface{}
	assert.Equal(t, "id IN (?, ?)", entry.Val.Compile(&params, "id", pgFmtr()))
}

func TestColumn_IsNullIsNotNull(t *testing.T) {
	var params []interface{}
	assert.Equal(t, "id IS NULL", idCol.IsNull().(ColumnValueEntry).Val.Compile(&params, "id", pgFmtr()))
	assert.Equal(t, "id IS NOT NULL", idCol.IsNotNull().(ColumnValueEntry).Val.Compile(&params, "id", pgFmtr()))
}

func TestColumn_Equals(t *testing.T) {
	a := Column{ModelRef: "User", PropertyName: "id", ColumnName: "id"}
	b := Column{ModelRef: "User", PropertyName: "id", ColumnName: "user_id_alias"}
	c := Column{ModelRef: "Order", PropertyName: "id", ColumnName: "id"}
	assert.True(t, a.Equals(b))
	assert.False(t, a.Equals(c))
}

func TestOrderSpec_RenderOrderBy(t *testing.T) {
	specs := []OrderSpec{
		idCol.Desc(),
		{Column: nameCol, Direction: OrderAsc, Nulls: NullsLast},
	}
	assert.Equal(t, "id DESC, name ASC NULLS LAST", RenderOrderBy(specs))
}

func TestOrderSpec_RawOverridesColumn(t *testing.T) {
	spec := OrderSpec{Raw: "RANDOM()"}
	assert.Equal(t, "RANDOM()", RenderOrderBy([]OrderSpec{spec}))
}
