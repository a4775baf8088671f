package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/planner"
)

func TestJoinResourceRequest(t *testing.T) {
	node := newJoinNode(planner.Inner, nil, nil)
	info, err := NewJoinHashInfo(node, testConfig(t))
	require.NoError(t, err)

	req := joinRequest(info, planner.Estimate{})
	assert.Equal(t, 10, req.Min)
	assert.Equal(t, UnboundedPages, req.Optimal)

	small := joinRequest(info, planner.Estimate{Rows: 10, DistinctKeys: 10})
	// one slot block, two node blocks and the quarter rule give a four block table
	assert.Equal(t, joinIOReserve(2)+4, small.Optimal)

	big := joinRequest(info, planner.Estimate{Rows: 1_000_000, DistinctKeys: 1000})
	assert.Greater(t, big.Optimal, 1_000_000*48/common.PageSize)
	assert.Less(t, big.Optimal, UnboundedPages)

	rowsOnly := joinRequest(info, planner.Estimate{Rows: 100_000})
	assert.Greater(t, rowsOnly.Optimal, small.Optimal)
}

func TestAggResourceRequest(t *testing.T) {
	node := planner.NewAggregateNode(planner.NewValuesNode(aggTypes, nil), []int{0},
		[]planner.AggregateClause{{Type: planner.AggCount, Column: planner.CountStar}})
	info, err := NewAggHashInfo(node, testConfig(t))
	require.NoError(t, err)

	req := aggRequest(info, planner.Estimate{})
	assert.Equal(t, 16, req.Min)
	assert.Equal(t, UnboundedPages, req.Optimal)

	est := aggRequest(info, planner.Estimate{Rows: 1_000_000, DistinctKeys: 50_000})
	assert.Greater(t, est.Optimal, 50_000*24/common.PageSize)
	assert.Equal(t, est, aggRequest(info, planner.Estimate{Rows: 50_000}), "rows stand in for unknown groups")
}

func TestPagesFor(t *testing.T) {
	req := ResourceRequest{Min: 10, Optimal: 500}
	assert.Equal(t, 77, pagesFor(req, 77))
	assert.Equal(t, 500, pagesFor(req, 0))
	assert.Equal(t, DefaultCachePages, pagesFor(ResourceRequest{Min: 10, Optimal: UnboundedPages}, 0))
}

func TestSlotsNeeded(t *testing.T) {
	assert.Equal(t, 1, SlotsNeeded(0))
	assert.Equal(t, 12, SlotsNeeded(10))
	assert.Equal(t, 1200, SlotsNeeded(1000))
}
