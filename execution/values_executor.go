package execution

import (
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// ValuesExecutor emits the rows of a ValuesNode.
type ValuesExecutor struct {
	plan   *planner.ValuesNode
	desc   *storage.RawTupleDesc
	tuples []storage.Tuple
	pos    int
}

func NewValuesExecutor(plan *planner.ValuesNode) *ValuesExecutor {
	desc := storage.NewRawTupleDesc(plan.OutputSchema())
	tuples := make([]storage.Tuple, len(plan.Rows))
	for i, r := range plan.Rows {
		t := storage.FromValues(r...)
		tuples[i] = t.DeepCopy(desc)
	}
	return &ValuesExecutor{plan: plan, desc: desc, tuples: tuples, pos: -1}
}

func (e *ValuesExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *ValuesExecutor) Init(ctx *ExecutorContext) error {
	e.pos = -1
	return nil
}

func (e *ValuesExecutor) Next() bool {
	if e.pos+1 >= len(e.tuples) {
		e.pos = len(e.tuples)
		return false
	}
	e.pos++
	return true
}

func (e *ValuesExecutor) Current() storage.Tuple {
	return e.tuples[e.pos]
}

func (e *ValuesExecutor) Error() error {
	return nil
}

func (e *ValuesExecutor) Close() error {
	return nil
}
