package planner

import (
	"fmt"

	"mit.edu/dsg/hashexec/common"
)

// ValuesNode is a leaf producing a fixed list of rows. It stands in for a scan in tests and feeds CSV input in
// the command-line tool.
type ValuesNode struct {
	Rows         [][]common.Value
	outputSchema []common.Type
}

func NewValuesNode(schema []common.Type, rows [][]common.Value) *ValuesNode {
	return &ValuesNode{
		Rows:         rows,
		outputSchema: schema,
	}
}

func (n *ValuesNode) OutputSchema() []common.Type {
	return n.outputSchema
}

func (n *ValuesNode) Children() []PlanNode {
	return nil
}

func (n *ValuesNode) String() string {
	return fmt.Sprintf("Values: %d rows", len(n.Rows))
}
