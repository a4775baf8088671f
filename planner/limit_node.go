package planner

import (
	"fmt"

	"mit.edu/dsg/hashexec/common"
)

// LimitNode skips the first Offset rows of its child and returns at most Limit of the rest. A negative Limit
// returns everything after the offset.
type LimitNode struct {
	Child  PlanNode
	Limit  int
	Offset int
}

func NewLimitNode(child PlanNode, limit, offset int) *LimitNode {
	return &LimitNode{
		Child:  child,
		Limit:  limit,
		Offset: offset,
	}
}

func (n *LimitNode) OutputSchema() []common.Type {
	return n.Child.OutputSchema()
}

func (n *LimitNode) Children() []PlanNode {
	return []PlanNode{n.Child}
}

func (n *LimitNode) String() string {
	if n.Offset > 0 {
		return fmt.Sprintf("Limit: %d Offset: %d", n.Limit, n.Offset)
	}
	return fmt.Sprintf("Limit: %d", n.Limit)
}
