package execution

import (
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// AggregateExecutor runs a HashAggStream over its child executor.
type AggregateExecutor struct {
	plan    *planner.AggregateNode
	child   Executor
	stream  *HashAggStream
	output  streamOutput
	quantum Quantum
}

func NewAggregateExecutor(plan *planner.AggregateNode, child Executor) *AggregateExecutor {
	return &AggregateExecutor{
		child: child,
		plan:  plan,
	}
}

func (e *AggregateExecutor) PlanNode() planner.PlanNode {
	return e.plan
}

func (e *AggregateExecutor) Init(ctx *ExecutorContext) error {
	if err := e.child.Init(ctx); err != nil {
		return err
	}
	cfg := ctx.Config()
	if e.stream == nil {
		s, err := NewHashAggStream(e.plan, cfg, WithLogger(ctx.Logger()), WithMetrics(ctx.Metrics("aggregate")))
		if err != nil {
			return err
		}
		e.stream = s
	}
	e.quantum = Quantum{MaxTuples: cfg.QuantumRows}
	out := NewMemOutputBuffer(e.plan.OutputSchema(), cfg.QuantumRows)
	e.output.reset(out)
	return e.stream.Open(ctx.Context(), NewExecutorInput(e.child), out, true)
}

func (e *AggregateExecutor) Next() bool {
	return e.output.next(e.stream, e.quantum)
}

func (e *AggregateExecutor) Current() storage.Tuple {
	return e.output.current()
}

func (e *AggregateExecutor) Error() error {
	return e.output.err
}

func (e *AggregateExecutor) Close() error {
	var err error
	if e.stream != nil {
		err = e.stream.Close()
	}
	if cerr := e.child.Close(); err == nil {
		err = cerr
	}
	return err
}
