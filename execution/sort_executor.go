package execution

import (
	"slices"

	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// SortExecutor sorts the rows of its child. It is blocking: the first Next drains the child into memory.
type SortExecutor struct {
	plan  *planner.SortNode
	child Executor

	sorted       bool
	sortedTuples []storage.Tuple
	currentIndex int
}

func NewSortExecutor(plan *planner.SortNode, child Executor) *SortExecutor {
	return &SortExecutor{
		plan:  plan,
		child: child,
	}
}

func (e *SortExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *SortExecutor) Init(ctx *ExecutorContext) error {
	e.sorted = false
	e.sortedTuples = nil
	e.currentIndex = -1
	return e.child.Init(ctx)
}

func (e *SortExecutor) sortAllRows() bool {
	desc := storage.NewRawTupleDesc(e.plan.OutputSchema())
	for e.child.Next() {
		t := e.child.Current()
		e.sortedTuples = append(e.sortedTuples, t.DeepCopy(desc))
	}
	if e.child.Error() != nil {
		return false
	}

	slices.SortStableFunc(e.sortedTuples, func(t1, t2 storage.Tuple) int {
		for _, order := range e.plan.OrderBy {
			cmp := t1.GetValue(order.Column).Compare(t2.GetValue(order.Column))
			if cmp == 0 {
				continue
			}
			if order.Direction == planner.SortOrderDescending {
				return -cmp
			}
			return cmp
		}
		return 0
	})
	e.sorted = true
	return true
}

func (e *SortExecutor) Next() bool {
	if !e.sorted && !e.sortAllRows() {
		return false
	}
	if e.currentIndex+1 >= len(e.sortedTuples) {
		e.currentIndex = len(e.sortedTuples)
		return false
	}
	e.currentIndex++
	return true
}

func (e *SortExecutor) Current() storage.Tuple {
	return e.sortedTuples[e.currentIndex]
}

func (e *SortExecutor) Error() error {
	return e.child.Error()
}

func (e *SortExecutor) Close() error {
	e.sortedTuples = nil
	return e.child.Close()
}
