package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/hashexec/common"
)

func TestJoinKindFromFlags(t *testing.T) {
	tests := []struct {
		pi, po, bi, bo, distinct bool
		want                     JoinKind
	}{
		{true, false, true, false, false, Inner},
		{true, true, true, false, false, LeftOuter},
		{true, false, true, true, false, RightOuter},
		{true, true, true, true, false, FullOuter},
		{true, false, false, false, false, LeftSemi},
		{false, true, false, false, false, LeftAnti},
		{false, false, true, false, false, RightSemi},
		{false, false, false, true, false, RightAnti},
		{true, false, false, false, true, IntersectDistinct},
		{false, false, false, true, true, ExceptDistinct},
	}
	for _, tc := range tests {
		got, err := JoinKindFromFlags(tc.pi, tc.po, tc.bi, tc.bo, tc.distinct)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)

		assert.Equal(t, tc.pi, got.ReturnProbeInner(), "%s probe inner", got)
		assert.Equal(t, tc.po, got.ReturnProbeOuter(), "%s probe outer", got)
		assert.Equal(t, tc.bi, got.ReturnBuildInner(), "%s build inner", got)
		assert.Equal(t, tc.bo, got.ReturnBuildOuter(), "%s build outer", got)
		assert.Equal(t, tc.distinct, got.SetOpDistinct())
	}
}

func TestJoinKindFromFlagsRejects(t *testing.T) {
	_, err := JoinKindFromFlags(false, false, false, false, false)
	assert.True(t, common.IsErrorCode(err, common.InvalidJoinTypeError))

	_, err = JoinKindFromFlags(false, true, true, false, false)
	assert.True(t, common.IsErrorCode(err, common.InvalidJoinTypeError), "unmatched probe with matched build only")

	_, err = JoinKindFromFlags(false, true, false, false, true)
	assert.True(t, common.IsErrorCode(err, common.InvalidJoinTypeError), "distinct anti join on the probe side")

	_, err = JoinKindFromFlags(true, false, true, false, true)
	assert.True(t, common.IsErrorCode(err, common.InvalidJoinTypeError), "inner join has no distinct form")
}

func TestHashJoinNodeSchema(t *testing.T) {
	probe := NewValuesNode([]common.Type{common.IntType, common.StringType}, nil)
	build := NewValuesNode([]common.Type{common.IntType, common.IntType, common.StringType}, nil)

	inner := NewHashJoinNode(probe, build, []int{0}, []int{0}, Inner)
	assert.Equal(t, []common.Type{common.IntType, common.StringType, common.IntType, common.IntType, common.StringType},
		inner.OutputSchema())

	semi := NewHashJoinNode(probe, build, []int{0}, []int{0}, LeftSemi)
	assert.Equal(t, probe.OutputSchema(), semi.OutputSchema())

	anti := NewHashJoinNode(probe, build, []int{0}, []int{0}, RightAnti)
	assert.Equal(t, build.OutputSchema(), anti.OutputSchema())

	projected := NewHashJoinNode(probe, build, []int{0}, []int{0}, Inner).WithOutputProjection([]int{4, 0})
	assert.Equal(t, []common.Type{common.StringType, common.IntType}, projected.OutputSchema())
	assert.Len(t, projected.JoinedSchema(), 5)
	assert.Contains(t, projected.String(), "Inner")
}

func TestAggregateNodeSchema(t *testing.T) {
	child := NewValuesNode([]common.Type{common.StringType, common.IntType}, nil)
	agg := NewAggregateNode(child, []int{0}, []AggregateClause{
		{Type: AggCount, Column: CountStar},
		{Type: AggSum, Column: 1},
		{Type: AggMin, Column: 0},
		{Type: AggSingleValue, Column: 1},
	})
	assert.Equal(t, []common.Type{common.StringType, common.IntType, common.IntType, common.StringType, common.IntType},
		agg.OutputSchema())
	assert.Equal(t, "COUNT(*)", agg.AggClauses[0].String())
	assert.Equal(t, "SUM(#1)", agg.AggClauses[1].String())
	assert.False(t, agg.InputEstimate.Known())
	assert.True(t, agg.WithInputEstimate(Estimate{Rows: 10}).InputEstimate.Known())
}

func TestParseJoinKind(t *testing.T) {
	for k := Inner; k <= ExceptDistinct; k++ {
		got, err := ParseJoinKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	got, err := ParseJoinKind("left_semi")
	require.NoError(t, err)
	assert.Equal(t, LeftSemi, got)
	got, err = ParseJoinKind("FULL")
	require.NoError(t, err)
	assert.Equal(t, FullOuter, got)
	_, err = ParseJoinKind("cross")
	assert.Error(t, err)
}

func TestParseAggregateClause(t *testing.T) {
	c, err := ParseAggregateClause("count:*")
	require.NoError(t, err)
	assert.Equal(t, AggregateClause{Type: AggCount, Column: CountStar}, c)
	c, err = ParseAggregateClause("single_value:3")
	require.NoError(t, err)
	assert.Equal(t, AggregateClause{Type: AggSingleValue, Column: 3}, c)
	assert.Equal(t, "SINGLE_VALUE(#3)", c.String())

	for _, bad := range []string{"sum", "avg:1", "min:-1", "max:x"} {
		_, err := ParseAggregateClause(bad)
		assert.Error(t, err, bad)
	}
}

func TestParseOrderByClause(t *testing.T) {
	c, err := ParseOrderByClause("2:DESC")
	require.NoError(t, err)
	assert.Equal(t, OrderByClause{Column: 2, Direction: SortOrderDescending}, c)
	c, err = ParseOrderByClause("0")
	require.NoError(t, err)
	assert.Equal(t, OrderByClause{Column: 0}, c)
	_, err = ParseOrderByClause("0:sideways")
	assert.Error(t, err)
	_, err = ParseOrderByClause("-1")
	assert.Error(t, err)
}
