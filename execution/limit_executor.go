package execution

import (
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// LimitExecutor applies a LimitNode to the rows of its child. Once the limit is reached it stops pulling, so a
// hash operator below it is left suspended rather than run to the end; Close releases it.
type LimitExecutor struct {
	plan  *planner.LimitNode
	child Executor

	numSkipped int
	numEmitted int
}

func NewLimitExecutor(plan *planner.LimitNode, child Executor) *LimitExecutor {
	return &LimitExecutor{
		plan:  plan,
		child: child,
	}
}

func (e *LimitExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *LimitExecutor) Init(ctx *ExecutorContext) error {
	e.numSkipped = 0
	e.numEmitted = 0
	return e.child.Init(ctx)
}

func (e *LimitExecutor) Next() bool {
	if e.plan.Limit >= 0 && e.numEmitted >= e.plan.Limit {
		return false
	}
	for e.numSkipped < e.plan.Offset {
		if !e.child.Next() {
			return false
		}
		e.numSkipped++
	}
	if e.child.Next() {
		e.numEmitted++
		return true
	}
	return false
}

func (e *LimitExecutor) Current() storage.Tuple {
	return e.child.Current()
}

func (e *LimitExecutor) Error() error {
	return e.child.Error()
}

func (e *LimitExecutor) Close() error {
	return e.child.Close()
}
