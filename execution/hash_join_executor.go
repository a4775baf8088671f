package execution

import (
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// streamOutput buffers the rows of a stream for an executor's Next/Current. The stream fills the buffer one
// quantum at a time, and Next hands the rows out until it runs dry.
type streamOutput struct {
	out  *MemOutputBuffer
	rows []storage.Tuple
	pos  int
	done bool
	err  error
}

func (o *streamOutput) reset(out *MemOutputBuffer) {
	o.out = out
	o.rows = nil
	o.pos = -1
	o.done = false
	o.err = nil
}

func (o *streamOutput) next(s Stream, q Quantum) bool {
	if o.err != nil {
		return false
	}
	for {
		if o.pos+1 < len(o.rows) {
			o.pos++
			return true
		}
		o.rows = o.out.Drain()
		o.pos = -1
		if len(o.rows) > 0 {
			continue
		}
		if o.done {
			return false
		}
		res, err := s.Execute(q)
		if err != nil {
			o.err = err
			return false
		}
		o.done = res == ExecEOS
	}
}

func (o *streamOutput) current() storage.Tuple {
	return o.rows[o.pos]
}

// HashJoinExecutor runs a HashJoinStream over its two child executors.
type HashJoinExecutor struct {
	plan        *planner.HashJoinNode
	left, right Executor
	stream      *HashJoinStream
	output      streamOutput
	quantum     Quantum
}

// NewHashJoinExecutor creates a join of left (probe) and right (build).
func NewHashJoinExecutor(plan *planner.HashJoinNode, left Executor, right Executor) *HashJoinExecutor {
	return &HashJoinExecutor{
		plan:  plan,
		left:  left,
		right: right,
	}
}

func (e *HashJoinExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *HashJoinExecutor) Init(ctx *ExecutorContext) error {
	if err := e.left.Init(ctx); err != nil {
		return err
	}
	if err := e.right.Init(ctx); err != nil {
		return err
	}
	cfg := ctx.Config()
	if e.stream == nil {
		s, err := NewHashJoinStream(e.plan, cfg, WithLogger(ctx.Logger()), WithMetrics(ctx.Metrics("join")))
		if err != nil {
			return err
		}
		e.stream = s
	}
	e.quantum = Quantum{MaxTuples: cfg.QuantumRows}
	out := NewMemOutputBuffer(e.plan.OutputSchema(), cfg.QuantumRows)
	e.output.reset(out)
	return e.stream.Open(ctx.Context(), NewExecutorInput(e.left), NewExecutorInput(e.right), out, true)
}

func (e *HashJoinExecutor) Next() bool {
	return e.output.next(e.stream, e.quantum)
}

func (e *HashJoinExecutor) Current() storage.Tuple {
	return e.output.current()
}

func (e *HashJoinExecutor) Error() error {
	return e.output.err
}

func (e *HashJoinExecutor) Close() error {
	var err error
	if e.stream != nil {
		err = e.stream.Close()
	}
	err1 := e.right.Close()
	err2 := e.left.Close()
	if err != nil {
		return err
	}
	if err1 != nil {
		return err1
	}
	return err2
}
