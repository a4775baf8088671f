package execution

import (
	"context"

	"mit.edu/dsg/hashexec/common"
)

// Stream is a cooperatively scheduled operator: HashJoinStream or HashAggStream after Open.
type Stream interface {
	Execute(q Quantum) (ExecResult, error)
	Close() error
}

// RunStats counts how a stream yielded while it was driven to completion.
type RunStats struct {
	Calls          int
	Underflows     int
	Overflows      int
	QuantaExpired  int
	RowsDelivered  int
	ConsumerDrains int
}

// Drive calls Execute until the stream reports ExecEOS. After every suspension it calls onYield with the reason,
// which is the consumer's chance to drain output or the producer's chance to deliver input; onYield returning an
// error stops the run. Underflow without progress reported by onYield is retried right away, since the stream
// pulls its inputs itself, but only maxIdleUnderflows times in a row.
func Drive(ctx context.Context, s Stream, q Quantum, onYield func(ExecResult) (progress bool, err error)) (RunStats, error) {
	var stats RunStats
	idle := 0
	for {
		if err := ctx.Err(); err != nil {
			_ = s.Close()
			return stats, common.NewExecError(common.AbortedError, "run aborted: %v", err)
		}
		res, err := s.Execute(q)
		stats.Calls++
		if err != nil {
			return stats, err
		}
		switch res {
		case ExecEOS:
			return stats, nil
		case ExecBufUnderflow:
			stats.Underflows++
		case ExecBufOverflow:
			stats.Overflows++
		case ExecQuantumExpired:
			stats.QuantaExpired++
		}
		progress := true
		if onYield != nil {
			if progress, err = onYield(res); err != nil {
				_ = s.Close()
				return stats, err
			}
		}
		if res == ExecBufUnderflow && !progress {
			idle++
			if idle > maxIdleUnderflows {
				_ = s.Close()
				return stats, common.NewExecError(common.AbortedError,
					"input made no progress after %d underflows", idle)
			}
			continue
		}
		idle = 0
	}
}

const maxIdleUnderflows = 1 << 16

// RunToBuffer drives s to completion, draining out into rows whenever the stream reports overflow or a quantum
// ends. It returns every row produced, in order.
func RunToBuffer(ctx context.Context, s Stream, out *MemOutputBuffer, q Quantum) ([][]common.Value, RunStats, error) {
	var rows [][]common.Value
	drain := func() int {
		drained := out.Drain()
		for i := range drained {
			rows = append(rows, drained[i].Values())
		}
		return len(drained)
	}
	stats, err := Drive(ctx, s, q, func(res ExecResult) (bool, error) {
		if res == ExecBufUnderflow {
			return false, nil
		}
		drain()
		return true, nil
	})
	stats.ConsumerDrains = stats.Overflows + stats.QuantaExpired
	drain()
	stats.RowsDelivered = len(rows)
	return rows, stats, err
}
