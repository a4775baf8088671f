package execution

import (
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// Executor is the pull interface of a physical plan node. The hash operators run as streams internally and
// are wrapped into executors so that plans compose.
type Executor interface {
	PlanNode() planner.PlanNode

	// Init prepares the executor to run under ctx. Calling Init again restarts it from the beginning.
	Init(ctx *ExecutorContext) error

	// Next advances to the next tuple. It returns false at the end or on error.
	Next() bool

	// Current returns the tuple most recently read by Next().
	Current() storage.Tuple

	// Error returns the last error encountered by the executor, if any.
	Error() error

	// Close cleans up any resources held by the executor.
	Close() error
}
