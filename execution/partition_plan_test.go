package execution

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spillPartitions(numInputs int) []*Partition {
	parts := make([]*Partition, numInputs*numChildren)
	for w := range parts {
		parts[w] = newSpillPartition(w / numChildren)
	}
	return parts
}

func TestPlanTreeTraversal(t *testing.T) {
	tree := NewPlanTree([]*Partition{newSpillPartition(0), newSpillPartition(1)})
	root := tree.Root()
	assert.Equal(t, root, tree.FirstLeaf(root))
	assert.Equal(t, noPlan, tree.NextLeaf(root))

	kids := tree.createChildren(root, spillPartitions(2), nil, nil, 1)
	require.Len(t, kids, numChildren)
	for _, k := range kids {
		assert.Equal(t, 1, tree.Level(k))
	}
	// split the middle child again
	grandkids := tree.createChildren(kids[1], spillPartitions(2), nil, nil, 1)

	var order []planID
	for id := tree.FirstLeaf(root); id != noPlan; id = tree.NextLeaf(id) {
		order = append(order, id)
	}
	assert.Equal(t, []planID{kids[0], grandkids[0], grandkids[1], grandkids[2], kids[2]}, order)
	assert.Equal(t, 2, tree.MaxLevel())
	assert.Equal(t, 1+3+3, tree.NumNodes())

	tree.ReleaseAll()
	assert.Contains(t, tree.String(), "released")
}

func TestPlanTreeChildrenInheritStatsAndFilters(t *testing.T) {
	tree := NewPlanTree([]*Partition{newSpillPartition(0), newSpillPartition(1)})
	parts := spillPartitions(2)
	stats := make([][]int64, len(parts))
	filters := make([]*JoinFilter, len(parts))
	for w := range parts {
		stats[w] = make([]int64, numSubPartitions)
		stats[w][0] = int64(w)
		filters[w] = NewJoinFilter()
	}
	kids := tree.createChildren(tree.Root(), parts, stats, filters, 1)
	for c, id := range kids {
		n := tree.node(id)
		assert.Same(t, parts[writerIndex(0, c)], tree.Partition(id, 0))
		assert.Same(t, parts[writerIndex(1, c)], tree.Partition(id, 1))
		assert.Equal(t, int64(writerIndex(1, c)), n.subPartStats[0], "statistics come from the build writer")
		assert.Same(t, filters[writerIndex(0, c)], n.joinFilter, "the filter comes from the probe writer")
	}
}

func TestMapSubPartitionsBalances(t *testing.T) {
	n := &planNode{subPartStats: []int64{100, 1, 1, 1, 90, 1, 1, 1, 80, 1, 1, 1, 10, 1, 1, 1}}
	n.mapSubPartitions()
	require.Len(t, n.subPartToChild, numSubPartitions)

	var bins [numChildren]int64
	for s, c := range n.subPartToChild {
		bins[c] += n.subPartStats[s]
	}
	// the three heavy sub-partitions land in different children
	assert.NotEqual(t, n.subPartToChild[0], n.subPartToChild[4])
	assert.NotEqual(t, n.subPartToChild[0], n.subPartToChild[8])
	assert.NotEqual(t, n.subPartToChild[4], n.subPartToChild[8])
	for _, b := range bins {
		assert.InDelta(t, 98, b, 12)
	}

	for h := uint64(0); h < 64; h++ {
		assert.Equal(t, n.subPartToChild[h%numSubPartitions], n.childIndex(h))
	}

	plain := &planNode{}
	plain.mapSubPartitions()
	assert.Nil(t, plain.subPartToChild)
	assert.Equal(t, 2, plain.childIndex(5))
}

func TestCalculateChildIndex(t *testing.T) {
	tree := NewPlanTree([]*Partition{newSpillPartition(0), newSpillPartition(1)})
	assert.Equal(t, writerIndex(1, 1), tree.CalculateChildIndex(tree.Root(), 7, 1))
	assert.Equal(t, 4, writerIndex(1, 1))
}
