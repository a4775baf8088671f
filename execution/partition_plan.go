package execution

import (
	"fmt"
	"strings"

	"mit.edu/dsg/hashexec/common"
)

const (
	// numChildren is the fan-out of one partitioning pass.
	numChildren = 3
	// numSubPartitions is the granularity of the statistics used to balance the children of the next pass.
	numSubPartitions = 16
)

type planID int

const noPlan planID = -1

// planNode is one recursion level of the partitioning plan. The root works on the live inputs; every other node
// works on the partitions its parent spilled for it.
type planNode struct {
	id       planID
	parent   planID
	children []planID
	level    int

	partitions []*Partition
	// joinFilter, inherited from the parent, summarizes the probe rows of this node. Build rows whose bit is
	// clear cannot match and are dropped when this node partitions.
	joinFilter *JoinFilter
	// subPartStats[s] counts the build rows of this node whose next-level hash falls into sub-partition s. Nil
	// when the parent did not collect statistics.
	subPartStats []int64
	// subPartToChild maps sub-partitions to children, computed from subPartStats when this node partitions.
	subPartToChild []int

	// filteredRows counts, per input, the rows that the join filters kept out of this node's children.
	filteredRows []int64
	released     bool
}

// PlanTree is the arena of plan nodes of one execution. Nodes refer to each other by planID.
type PlanTree struct {
	nodes     []*planNode
	numInputs int
}

// NewPlanTree creates a tree whose root reads the given live partitions.
func NewPlanTree(root []*Partition) *PlanTree {
	t := &PlanTree{numInputs: len(root)}
	t.nodes = append(t.nodes, &planNode{
		id:           0,
		parent:       noPlan,
		partitions:   root,
		filteredRows: make([]int64, len(root)),
	})
	return t
}

// Root returns the id of the root node.
func (t *PlanTree) Root() planID {
	return 0
}

func (t *PlanTree) node(id planID) *planNode {
	common.Assert(id >= 0 && int(id) < len(t.nodes), "unknown plan node %d", id)
	return t.nodes[id]
}

// Level returns the recursion level of a node.
func (t *PlanTree) Level(id planID) int {
	return t.node(id).level
}

// Partition returns the partition of input that node id works on.
func (t *PlanTree) Partition(id planID, input int) *Partition {
	return t.node(id).partitions[input]
}

// NumNodes returns the number of nodes ever created.
func (t *PlanTree) NumNodes() int {
	return len(t.nodes)
}

// MaxLevel returns the deepest level reached.
func (t *PlanTree) MaxLevel() int {
	deepest := 0
	for _, n := range t.nodes {
		deepest = max(deepest, n.level)
	}
	return deepest
}

// mapSubPartitions assigns every sub-partition to a child greedily, largest first, always to the child with the
// fewest rows so far. Without statistics children are picked by hash modulo.
func (n *planNode) mapSubPartitions() {
	if n.subPartStats == nil {
		n.subPartToChild = nil
		return
	}
	order := make([]int, numSubPartitions)
	for i := range order {
		order[i] = i
	}
	// insertion sort by descending size, stable on sub-partition number
	for i := 1; i < len(order); i++ {
		for j := i; j > 0 && n.subPartStats[order[j]] > n.subPartStats[order[j-1]]; j-- {
			order[j], order[j-1] = order[j-1], order[j]
		}
	}
	var bins [numChildren]int64
	n.subPartToChild = make([]int, numSubPartitions)
	for _, s := range order {
		smallest := 0
		for c := 1; c < numChildren; c++ {
			if bins[c] < bins[smallest] {
				smallest = c
			}
		}
		n.subPartToChild[s] = smallest
		bins[smallest] += n.subPartStats[s]
	}
}

// childIndex returns the child that a row with the given partition hash goes to.
func (n *planNode) childIndex(hash uint64) int {
	if n.subPartToChild != nil {
		return n.subPartToChild[hash%numSubPartitions]
	}
	return int(hash % numChildren)
}

// writerIndex numbers the child partitions of one pass: input*numChildren + child.
func writerIndex(input, child int) int {
	return input*numChildren + child
}

// CalculateChildIndex returns the writer index (input*3 + child) of a row of input with the given partition hash.
func (t *PlanTree) CalculateChildIndex(id planID, hash uint64, input int) int {
	return writerIndex(input, t.node(id).childIndex(hash))
}

// createChildren attaches numChildren children to node id. partitions, stats and filters are indexed by writer
// index; stats and filters may hold nils.
func (t *PlanTree) createChildren(id planID, partitions []*Partition, stats [][]int64, filters []*JoinFilter,
	buildInput int) []planID {
	parent := t.node(id)
	common.Assert(len(parent.children) == 0, "plan node %d already has children", id)
	ids := make([]planID, numChildren)
	for c := 0; c < numChildren; c++ {
		child := &planNode{
			id:           planID(len(t.nodes)),
			parent:       id,
			level:        parent.level + 1,
			partitions:   make([]*Partition, t.numInputs),
			filteredRows: make([]int64, t.numInputs),
		}
		for input := 0; input < t.numInputs; input++ {
			child.partitions[input] = partitions[writerIndex(input, c)]
		}
		if stats != nil {
			child.subPartStats = stats[writerIndex(buildInput, c)]
		}
		if filters != nil {
			// the filter built from this child's probe rows
			child.joinFilter = filters[writerIndex(probeInput, c)]
		}
		t.nodes = append(t.nodes, child)
		parent.children = append(parent.children, child.id)
		ids[c] = child.id
	}
	return ids
}

// FirstLeaf descends from id along first children to a leaf.
func (t *PlanTree) FirstLeaf(id planID) planID {
	for {
		n := t.node(id)
		if len(n.children) == 0 {
			return id
		}
		id = n.children[0]
	}
}

// NextLeaf returns the leaf that follows id in depth-first order, or noPlan after the last one.
func (t *PlanTree) NextLeaf(id planID) planID {
	for {
		n := t.node(id)
		if n.parent == noPlan {
			return noPlan
		}
		siblings := t.node(n.parent).children
		for i, s := range siblings {
			if s == id && i+1 < len(siblings) {
				return t.FirstLeaf(siblings[i+1])
			}
		}
		id = n.parent
	}
}

// Release frees whatever the node still holds on disk. Nodes are released once the driver is done with them.
func (t *PlanTree) Release(id planID) {
	n := t.node(id)
	if n.released {
		return
	}
	n.released = true
	for _, p := range n.partitions {
		if p != nil {
			p.release()
		}
	}
	n.joinFilter = nil
}

// ReleaseAll frees every node of the tree.
func (t *PlanTree) ReleaseAll() {
	for _, n := range t.nodes {
		t.Release(n.id)
	}
}

// FilteredRows returns the number of rows of input that join filters dropped across the whole tree.
func (t *PlanTree) FilteredRows(input int) int64 {
	var total int64
	for _, n := range t.nodes {
		total += n.filteredRows[input]
	}
	return total
}

func (t *PlanTree) String() string {
	var sb strings.Builder
	var walk func(id planID)
	walk = func(id planID) {
		n := t.node(id)
		sb.WriteString(strings.Repeat("  ", n.level))
		fmt.Fprintf(&sb, "node %d level %d:", n.id, n.level)
		for _, p := range n.partitions {
			sb.WriteString(" ")
			sb.WriteString(p.String())
		}
		if n.released {
			sb.WriteString(" released")
		}
		sb.WriteString("\n")
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(t.Root())
	return sb.String()
}
