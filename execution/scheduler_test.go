package execution

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/storage"
)

// scriptedStream replays a fixed list of results, producing one row into out before each.
type scriptedStream struct {
	out     *MemOutputBuffer
	results []ExecResult
	calls   int
	closed  int
}

func (s *scriptedStream) Execute(q Quantum) (ExecResult, error) {
	if s.calls >= len(s.results) {
		return ExecEOS, nil
	}
	res := s.results[s.calls]
	if s.out != nil && res != ExecBufUnderflow {
		s.out.Produce(storage.FromValues(iv(int64(s.calls))))
	}
	s.calls++
	return res, nil
}

func (s *scriptedStream) Close() error {
	s.closed++
	return nil
}

func TestDriveCountsSuspensions(t *testing.T) {
	out := NewMemOutputBuffer([]common.Type{common.IntType}, 0)
	s := &scriptedStream{out: out, results: []ExecResult{
		ExecBufUnderflow, ExecQuantumExpired, ExecBufOverflow, ExecBufUnderflow, ExecQuantumExpired, ExecEOS,
	}}
	rows, stats, err := RunToBuffer(context.Background(), s, out, Quantum{MaxTuples: 1})
	require.NoError(t, err)
	assert.Equal(t, RunStats{
		Calls:          6,
		Underflows:     2,
		Overflows:      1,
		QuantaExpired:  2,
		RowsDelivered:  4,
		ConsumerDrains: 3,
	}, stats)
	assert.Equal(t, []string{"1", "2", "4", "5"}, rowStrings(rows))
}

func TestDriveStopsOnYieldError(t *testing.T) {
	s := &scriptedStream{results: []ExecResult{ExecQuantumExpired, ExecQuantumExpired, ExecEOS}}
	boom := errors.New("consumer gone")
	stats, err := Drive(context.Background(), s, Quantum{MaxTuples: 1}, func(ExecResult) (bool, error) {
		return false, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, stats.Calls)
	assert.Equal(t, 1, s.closed)
}

func TestDriveGivesUpOnStuckInput(t *testing.T) {
	results := make([]ExecResult, maxIdleUnderflows+10)
	for i := range results {
		results[i] = ExecBufUnderflow
	}
	s := &scriptedStream{results: results}
	_, err := Drive(context.Background(), s, Quantum{MaxTuples: 1}, func(ExecResult) (bool, error) {
		return false, nil
	})
	assert.True(t, common.IsErrorCode(err, common.AbortedError), "got %v", err)
	assert.Equal(t, 1, s.closed)
}

func TestDriveHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scriptedStream{results: []ExecResult{ExecEOS}}
	stats, err := Drive(ctx, s, Quantum{MaxTuples: 1}, nil)
	assert.True(t, common.IsErrorCode(err, common.AbortedError), "got %v", err)
	assert.Equal(t, 0, stats.Calls)
	assert.Equal(t, 1, s.closed)
}
