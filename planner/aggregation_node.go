package planner

import (
	"fmt"
	"strconv"
	"strings"

	"mit.edu/dsg/hashexec/common"
)

type AggregatorType int

const (
	AggCount AggregatorType = iota
	AggSum
	AggMin
	AggMax
	// AggSingleValue keeps the first non-NULL value seen for the group.
	AggSingleValue
)

func (a AggregatorType) String() string {
	switch a {
	case AggCount:
		return "COUNT"
	case AggSum:
		return "SUM"
	case AggMin:
		return "MIN"
	case AggMax:
		return "MAX"
	case AggSingleValue:
		return "SINGLE_VALUE"
	}
	return fmt.Sprintf("AggregatorType(%d)", int(a))
}

// CountStar is the Column of a COUNT(*) clause.
const CountStar = -1

// AggregateClause aggregates one input column. Column is CountStar for COUNT(*).
type AggregateClause struct {
	Type   AggregatorType
	Column int
}

func (c AggregateClause) String() string {
	if c.Column == CountStar {
		return c.Type.String() + "(*)"
	}
	return fmt.Sprintf("%s(#%d)", c.Type, c.Column)
}

// ParseAggregateClause parses "func:column", e.g. "sum:2", "single_value:0" or "count:*".
func ParseAggregateClause(s string) (AggregateClause, error) {
	name, col, ok := strings.Cut(s, ":")
	if !ok {
		return AggregateClause{}, fmt.Errorf("aggregate %q is not of the form func:column", s)
	}
	var c AggregateClause
	switch strings.ToUpper(name) {
	case "COUNT":
		c.Type = AggCount
	case "SUM":
		c.Type = AggSum
	case "MIN":
		c.Type = AggMin
	case "MAX":
		c.Type = AggMax
	case "SINGLE_VALUE", "SINGLEVALUE":
		c.Type = AggSingleValue
	default:
		return AggregateClause{}, fmt.Errorf("unknown aggregate function %q", name)
	}
	if col == "*" {
		c.Column = CountStar
		return c, nil
	}
	n, err := strconv.Atoi(col)
	if err != nil || n < 0 {
		return AggregateClause{}, fmt.Errorf("bad aggregate column %q", col)
	}
	c.Column = n
	return c, nil
}

// OutputType returns the type of the aggregate value given the input schema.
func (c AggregateClause) OutputType(input []common.Type) common.Type {
	switch c.Type {
	case AggCount, AggSum:
		return common.IntType
	}
	if c.Column == CountStar {
		// rejected when the plan is validated
		return common.IntType
	}
	return input[c.Column]
}

// AggregateNode represents a group-by and aggregation operation. Output rows are the group-by columns followed
// by one value per clause.
type AggregateNode struct {
	Child         PlanNode
	GroupByClause []int
	AggClauses    []AggregateClause
	// InputEstimate sizes the initial hash table (DistinctKeys = expected number of groups).
	InputEstimate Estimate
	TrimKeys      []bool
	outputSchema  []common.Type
}

func NewAggregateNode(child PlanNode, groupBy []int, aggregates []AggregateClause) *AggregateNode {
	input := child.OutputSchema()
	outputSchema := make([]common.Type, len(groupBy)+len(aggregates))
	copy(outputSchema, projectTypes(input, groupBy))
	for i, agg := range aggregates {
		outputSchema[len(groupBy)+i] = agg.OutputType(input)
	}

	return &AggregateNode{
		Child:         child,
		GroupByClause: groupBy,
		AggClauses:    aggregates,
		outputSchema:  outputSchema,
	}
}

// WithInputEstimate records the optimizer estimate of the input.
func (n *AggregateNode) WithInputEstimate(e Estimate) *AggregateNode {
	n.InputEstimate = e
	return n
}

// WithTrimKeys sets the per-group-column trailing-blank sensitivity.
func (n *AggregateNode) WithTrimKeys(trim []bool) *AggregateNode {
	n.TrimKeys = trim
	return n
}

func (n *AggregateNode) OutputSchema() []common.Type {
	return n.outputSchema
}

func (n *AggregateNode) Children() []PlanNode {
	return []PlanNode{n.Child}
}

func (n *AggregateNode) String() string {
	return fmt.Sprintf("Aggregate: GroupBy(%v) %v", n.GroupByClause, n.AggClauses)
}
