package execution

import (
	"context"

	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/config"
	"mit.edu/dsg/hashexec/planner"
)

// HashAggStream is a recursive hybrid hash aggregation. Groups are accumulated in a hash table; when it
// overflows, the groups in the table and the unread input rows are spilled to three partitions, pre-aggregated
// by the partition writers, and each partition is aggregated again one level deeper from its partial rows.
//
// Output rows are the group-by columns followed by one value per aggregate. An empty input yields no rows, with
// or without group-by columns.
type HashAggStream struct {
	streamBase
	node *planner.AggregateNode
	sm   stateMachine[aggState]
}

// NewHashAggStream prepares an aggregation of node under cfg.
func NewHashAggStream(node *planner.AggregateNode, cfg config.Config, opts ...StreamOption) (*HashAggStream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	info, err := NewAggHashInfo(node, cfg)
	if err != nil {
		return nil, err
	}
	s := &HashAggStream{node: node}
	s.info = info
	s.cfg = cfg
	s.applyOptions("aggregate", opts)
	s.ioReserve = aggIOReserve
	s.request = aggRequest(info, node.InputEstimate)
	s.rootEstimate = node.InputEstimate.DistinctKeys
	if s.rootEstimate <= 0 {
		s.rootEstimate = node.InputEstimate.Rows
	}
	return s, nil
}

// Open binds the stream to its input and output. With restart set, a stream that is already open is closed
// first and runs again from scratch over the given input.
func (s *HashAggStream) Open(ctx context.Context, input InputBuffer, out OutputBuffer, restart bool) error {
	if s.opened {
		common.Assert(restart, "opening an open aggregation without restart")
		if err := s.Close(); err != nil {
			return err
		}
	}
	if err := s.openBase(ctx, []InputBuffer{input}, out, s.node.OutputSchema()); err != nil {
		return s.fail(err)
	}
	initial := aggBuild
	if s.planEvent() == evPlanForced {
		initial = aggForcePartitionBuild
	}
	s.sm = newStateMachine(initial, nextAggState)
	return nil
}

// Close releases all resources. It is idempotent.
func (s *HashAggStream) Close() error {
	return s.closeBase()
}

// Execute advances the aggregation. Errors are fatal: the stream has released its resources when one is
// returned.
func (s *HashAggStream) Execute(q Quantum) (ExecResult, error) {
	common.Assert(q.MaxTuples > 0, "quantum must allow at least one row")
	if !s.opened {
		common.Assert(s.sm.state == aggDone, "executing an aggregation that is not open")
		return ExecEOS, nil
	}
	s.produced = 0
	for {
		switch s.sm.state {
		case aggForcePartitionBuild:
			if err := s.startPartition(); err != nil {
				return 0, s.fail(err)
			}
			s.sm.fire(evForcePartition)

		case aggBuild:
			underflow, err := s.build()
			if err != nil {
				return 0, s.fail(err)
			}
			if underflow {
				return ExecBufUnderflow, nil
			}

		case aggPartition:
			underflow, err := s.runPartition()
			if err != nil {
				return 0, s.fail(err)
			}
			if underflow {
				return ExecBufUnderflow, nil
			}
			s.sm.fire(evPartitionDone)

		case aggCreateChildPlan:
			if err := s.createChildPlan(); err != nil {
				return 0, s.fail(err)
			}
			s.sm.fire(s.planEvent())

		case aggGetNextPlan:
			more, err := s.nextPlan()
			if err != nil {
				return 0, s.fail(err)
			}
			if !more {
				s.sm.fire(evNoMorePlans)
				continue
			}
			s.sm.fire(s.planEvent())

		case aggProduce:
			row, ok := s.tableReader.Next()
			if !ok {
				s.sm.fire(evRowsExhausted)
				continue
			}
			s.pendingOut = row.WriteToBuffer(s.outBuf, s.outDesc)
			s.sm.fire(evRowReady)

		case aggProducePending:
			if !s.produce() {
				return ExecBufOverflow, nil
			}
			s.sm.fire(evProduced)
			if s.produced >= q.MaxTuples {
				return ExecQuantumExpired, nil
			}

		case aggDone:
			s.markEOS()
			if err := s.Close(); err != nil {
				return 0, err
			}
			return ExecEOS, nil
		}
	}
}

// build folds the current partition into the table. It returns true on underflow.
func (s *HashAggStream) build() (bool, error) {
	rd := s.readers[aggInput]
	for {
		if rd.IsTupleConsumptionPending() {
			if s.table.AddTuple(rd.UnmarshalTuple()) {
				rd.ConsumeTuple()
				continue
			}
			if err := s.startPartition(); err != nil {
				return false, err
			}
			s.sm.fire(evTableOverflow)
			return false, nil
		}
		if rd.State() == BufferEOS {
			rd.Close()
			s.readers[aggInput] = nil
			s.tableReader.BindAll()
			s.sm.fire(evInputEOS)
			return false, nil
		}
		ok, err := rd.DemandData()
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
	}
}
