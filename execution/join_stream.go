package execution

import (
	"context"

	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/config"
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// HashJoinStream is a recursive hybrid hash join. It builds a hash table over the build input (the plan's Right
// child) and probes it with the probe input (Left). When the table overflows, the rows in the table and the
// unread rows of both inputs are spread over three spilled partitions per input, and every pair of partitions is
// joined the same way, one level deeper.
//
// The stream is cooperatively scheduled: Execute runs until it has output a quantum of rows, the output buffer
// is full, a live input has nothing buffered, or everything has been produced.
type HashJoinStream struct {
	streamBase
	node *planner.HashJoinNode
	sm   stateMachine[joinState]

	probePacker *keyPacker
	buildPacker *keyPacker
	kind        planner.JoinKind
	// nullBuildOuter is set when a build row with a NULL key is returned as soon as it is read. Such a row never
	// matches, so it stays out of the table and out of the recursion.
	nullBuildOuter bool

	joinedDesc *storage.RawTupleDesc
	joinedBuf  []byte
	probeNulls storage.Tuple
	buildNulls storage.Tuple
}

// NewHashJoinStream prepares a join of node under cfg.
func NewHashJoinStream(node *planner.HashJoinNode, cfg config.Config, opts ...StreamOption) (*HashJoinStream, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	info, err := NewJoinHashInfo(node, cfg)
	if err != nil {
		return nil, err
	}
	s := &HashJoinStream{
		node:       node,
		kind:       node.Kind,
		joinedDesc: storage.NewRawTupleDesc(node.JoinedSchema()),
		probeNulls: storage.NullTuple(node.Left.OutputSchema()),
		buildNulls: storage.NullTuple(node.Right.OutputSchema()),
	}
	s.info = info
	s.cfg = cfg
	s.applyOptions("join", opts)
	s.ioReserve = joinIOReserve(info.NumInputs)
	s.request = joinRequest(info, node.BuildEstimate)
	s.rootEstimate = node.BuildEstimate.DistinctKeys
	s.joinedBuf = make([]byte, s.joinedDesc.BytesPerTuple())
	return s, nil
}

// Open binds the stream to its inputs and output. With restart set, a stream that is already open is closed
// first and runs again from scratch over the given inputs.
func (s *HashJoinStream) Open(ctx context.Context, probe, build InputBuffer, out OutputBuffer, restart bool) error {
	if s.opened {
		common.Assert(restart, "opening an open join without restart")
		if err := s.Close(); err != nil {
			return err
		}
	}
	if err := s.openBase(ctx, []InputBuffer{probe, build}, out, s.node.OutputSchema()); err != nil {
		return s.fail(err)
	}
	s.probePacker = newKeyPacker(s.codec, s.info.KeyProj[probeInput])
	s.buildPacker = newKeyPacker(s.codec, s.info.KeyProj[s.info.BuildInput()])
	s.nullBuildOuter = s.info.RegularJoin && s.kind.ReturnBuildOuter()
	initial := joinBuild
	if s.planEvent() == evPlanForced {
		initial = joinForcePartitionBuild
	}
	s.sm = newStateMachine(initial, nextJoinState)
	return nil
}

// Close releases all resources. It is idempotent.
func (s *HashJoinStream) Close() error {
	return s.closeBase()
}

// Execute advances the join. Errors are fatal: the stream has released its resources when one is returned.
func (s *HashJoinStream) Execute(q Quantum) (ExecResult, error) {
	common.Assert(q.MaxTuples > 0, "quantum must allow at least one row")
	if !s.opened {
		common.Assert(s.sm.state == joinDone, "executing a join that is not open")
		return ExecEOS, nil
	}
	s.produced = 0
	for {
		switch s.sm.state {
		case joinForcePartitionBuild:
			if err := s.startPartition(); err != nil {
				return 0, s.fail(err)
			}
			s.sm.fire(evForcePartition)

		case joinBuild:
			underflow, err := s.build()
			if err != nil {
				return 0, s.fail(err)
			}
			if underflow {
				return ExecBufUnderflow, nil
			}

		case joinPartition:
			underflow, err := s.runPartition()
			if err != nil {
				return 0, s.fail(err)
			}
			if underflow {
				return ExecBufUnderflow, nil
			}
			s.sm.fire(evPartitionDone)

		case joinCreateChildPlan:
			if err := s.createChildPlan(); err != nil {
				return 0, s.fail(err)
			}
			s.sm.fire(s.planEvent())

		case joinGetNextPlan:
			more, err := s.nextPlan()
			if err != nil {
				return 0, s.fail(err)
			}
			if !more {
				s.sm.fire(evNoMorePlans)
				continue
			}
			s.sm.fire(s.planEvent())

		case joinProbe:
			underflow, err := s.probe()
			if err != nil {
				return 0, s.fail(err)
			}
			if underflow {
				return ExecBufUnderflow, nil
			}

		case joinProduceBuild:
			s.produceBuild()

		case joinProducePending:
			if !s.produce() {
				return ExecBufOverflow, nil
			}
			if s.sm.fire(evProduced) == joinProbe {
				s.readers[probeInput].ConsumeTuple()
			}
			if s.produced >= q.MaxTuples {
				return ExecQuantumExpired, nil
			}

		case joinDone:
			s.markEOS()
			if err := s.Close(); err != nil {
				return 0, err
			}
			return ExecEOS, nil
		}
	}
}

// build loads the build partition of the current node into the table. It returns true on underflow.
func (s *HashJoinStream) build() (bool, error) {
	build := s.info.BuildInput()
	rd := s.readers[build]
	for {
		if rd.IsTupleConsumptionPending() {
			t := rd.UnmarshalTuple()
			if s.nullBuildOuter && s.buildPacker.hasNull(s.buildPacker.pack(t)) {
				s.setPending(s.probeNulls, t)
				rd.ConsumeTuple()
				s.sm.fire(evNullBuildRow)
				return false, nil
			}
			if s.table.AddTuple(t) {
				rd.ConsumeTuple()
				continue
			}
			// the row stays pending and goes to a child partition
			if err := s.startPartition(); err != nil {
				return false, err
			}
			s.sm.fire(evTableOverflow)
			return false, nil
		}
		if rd.State() == BufferEOS {
			rd.Close()
			s.readers[build] = nil
			s.readers[probeInput] = OpenPartitionReader(s.tree.Partition(s.cur, probeInput))
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

// probe looks up probe rows until one produces output or the probe input ends. It returns true on underflow.
func (s *HashJoinStream) probe() (bool, error) {
	rd := s.readers[probeInput]
	for {
		if rd.IsTupleConsumptionPending() {
			t := rd.UnmarshalTuple()
			ref := nilRef
			key := s.probePacker.pack(t)
			if !s.info.RegularJoin || !s.probePacker.hasNull(key) {
				ref = s.table.FindKey(s.probePacker, t, s.info.RemoveDuplicate[probeInput])
			}
			switch {
			case !ref.isNil() && s.kind.ReturnBuildInner():
				s.tableReader.BindKey(ref)
				s.sm.fire(evMatchBuild)
				return false, nil
			case !ref.isNil() && s.kind.ReturnProbeInner():
				s.setPending(t, s.buildNulls)
				s.sm.fire(evMatchPending)
				return false, nil
			case ref.isNil() && s.kind.ReturnProbeOuter():
				s.setPending(t, s.buildNulls)
				s.sm.fire(evNoMatchOuter)
				return false, nil
			}
			rd.ConsumeTuple()
			continue
		}
		if rd.State() == BufferEOS {
			rd.Close()
			s.readers[probeInput] = nil
			if s.kind.ReturnBuildOuter() {
				s.tableReader.BindUnmatched()
				s.sm.fire(evProbeEOSUnmatched)
			} else {
				s.sm.fire(evProbeEOS)
			}
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

// produceBuild stages the next build row of the bound key (or of the unmatched scan) as output.
func (s *HashJoinStream) produceBuild() {
	b, ok := s.tableReader.Next()
	if !ok {
		if s.sm.fire(evRowsExhausted) == joinProbe {
			s.readers[probeInput].ConsumeTuple()
		}
		return
	}
	probeSide := s.probeNulls
	if ret, _ := s.sm.returnsTo(); ret == joinProbe {
		probeSide = s.readers[probeInput].UnmarshalTuple()
	}
	s.setPending(probeSide, b)
	s.sm.fire(evRowReady)
}

// setPending builds the output row from a probe-side and a build-side row, keeping only the sides the join
// returns and applying the output projection.
func (s *HashJoinStream) setPending(probe, build storage.Tuple) {
	var joined storage.Tuple
	switch {
	case s.kind.ReturnsProbe() && s.kind.ReturnsBuild():
		joined = storage.MergeTuples(s.joinedBuf, s.joinedDesc, probe, build)
	case s.kind.ReturnsProbe():
		joined = probe.WriteToBuffer(s.joinedBuf, s.joinedDesc)
	default:
		joined = build.WriteToBuffer(s.joinedBuf, s.joinedDesc)
	}
	if s.node.OutputProjection == nil {
		s.pendingOut = joined
		return
	}
	s.pendingOut = joined.ProjectToBuffer(s.outBuf, s.outDesc, s.node.OutputProjection)
}
