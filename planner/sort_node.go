package planner

import (
	"fmt"
	"strconv"
	"strings"

	"mit.edu/dsg/hashexec/common"
)

type SortDirection int

const (
	SortOrderAscending SortDirection = iota
	SortOrderDescending
)

// OrderByClause orders by one output column of the child.
type OrderByClause struct {
	Column    int
	Direction SortDirection
}

func (c OrderByClause) String() string {
	if c.Direction == SortOrderDescending {
		return fmt.Sprintf("#%d DESC", c.Column)
	}
	return fmt.Sprintf("#%d", c.Column)
}

// ParseOrderByClause parses "column" or "column:asc" / "column:desc".
func ParseOrderByClause(s string) (OrderByClause, error) {
	col, dir, _ := strings.Cut(s, ":")
	n, err := strconv.Atoi(col)
	if err != nil || n < 0 {
		return OrderByClause{}, fmt.Errorf("bad order-by column %q", col)
	}
	c := OrderByClause{Column: n}
	switch strings.ToLower(dir) {
	case "", "asc":
	case "desc":
		c.Direction = SortOrderDescending
	default:
		return OrderByClause{}, fmt.Errorf("bad sort direction %q", dir)
	}
	return c, nil
}

// SortNode sorts the input tuples. NULLs sort first in ascending order. Rows that compare equal keep the order
// of the child.
type SortNode struct {
	Child   PlanNode
	OrderBy []OrderByClause
}

func NewSortNode(child PlanNode, orderBy []OrderByClause) *SortNode {
	return &SortNode{
		Child:   child,
		OrderBy: orderBy,
	}
}

func (n *SortNode) OutputSchema() []common.Type {
	return n.Child.OutputSchema()
}

func (n *SortNode) Children() []PlanNode {
	return []PlanNode{n.Child}
}

func (n *SortNode) String() string {
	return fmt.Sprintf("Sort: %v", n.OrderBy)
}
