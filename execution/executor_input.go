package execution

import (
	"mit.edu/dsg/hashexec/storage"
)

// ExecutorInput presents an initialized Executor as an InputBuffer. Every RequestData pulls one tuple, so the
// stream reading it never sees underflow.
type ExecutorInput struct {
	child   Executor
	desc    *storage.RawTupleDesc
	current storage.Tuple
	ready   bool
	eos     bool
	err     error
}

func NewExecutorInput(child Executor) *ExecutorInput {
	return &ExecutorInput{
		child: child,
		desc:  storage.NewRawTupleDesc(child.PlanNode().OutputSchema()),
	}
}

func (in *ExecutorInput) Desc() *storage.RawTupleDesc {
	return in.desc
}

func (in *ExecutorInput) State() BufferState {
	switch {
	case in.ready:
		return BufferReady
	case in.eos:
		return BufferEOS
	}
	return BufferUnderflow
}

func (in *ExecutorInput) Tuple() storage.Tuple {
	return in.current
}

func (in *ExecutorInput) Consume() {
	in.ready = false
}

func (in *ExecutorInput) RequestData() bool {
	if in.ready || in.eos {
		return true
	}
	if in.child.Next() {
		in.current = in.child.Current()
		in.ready = true
		return true
	}
	in.eos = true
	in.err = in.child.Error()
	return true
}

func (in *ExecutorInput) Error() error {
	return in.err
}
