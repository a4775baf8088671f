package planner

import (
	"mit.edu/dsg/hashexec/common"
)

// PlanNode represents the static structure of a query plan.
// It is immutable and contains schema information and the plan tree structure.
type PlanNode interface {
	// OutputSchema returns the column types of the tuples produced by this node.
	OutputSchema() []common.Type

	// Children returns the child plan nodes.
	Children() []PlanNode

	// String returns a string representation of the plan node.
	String() string
}

// Estimate carries optimizer cardinality estimates for an input. Zero means unknown. Estimates only size the
// initial hash table and the resource request; results never depend on them.
type Estimate struct {
	Rows         int64
	DistinctKeys int64
}

// Known reports whether any estimate is present.
func (e Estimate) Known() bool {
	return e.Rows > 0 || e.DistinctKeys > 0
}

func projectTypes(schema []common.Type, cols []int) []common.Type {
	out := make([]common.Type, len(cols))
	for i, c := range cols {
		out[i] = schema[c]
	}
	return out
}
