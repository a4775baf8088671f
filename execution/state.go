package execution

import (
	"fmt"

	"mit.edu/dsg/hashexec/common"
)

type joinState int

const (
	joinForcePartitionBuild joinState = iota
	joinBuild
	joinPartition
	joinCreateChildPlan
	joinGetNextPlan
	joinProbe
	joinProduceBuild
	joinProducePending
	joinDone
)

func (s joinState) String() string {
	switch s {
	case joinForcePartitionBuild:
		return "ForcePartitionBuild"
	case joinBuild:
		return "Build"
	case joinPartition:
		return "Partition"
	case joinCreateChildPlan:
		return "CreateChildPlan"
	case joinGetNextPlan:
		return "GetNextPlan"
	case joinProbe:
		return "Probe"
	case joinProduceBuild:
		return "ProduceBuild"
	case joinProducePending:
		return "ProducePending"
	case joinDone:
		return "Done"
	}
	return fmt.Sprintf("joinState(%d)", int(s))
}

type aggState int

const (
	aggForcePartitionBuild aggState = iota
	aggBuild
	aggPartition
	aggCreateChildPlan
	aggGetNextPlan
	aggProduce
	aggProducePending
	aggDone
)

func (s aggState) String() string {
	switch s {
	case aggForcePartitionBuild:
		return "ForcePartitionBuild"
	case aggBuild:
		return "Build"
	case aggPartition:
		return "Partition"
	case aggCreateChildPlan:
		return "CreateChildPlan"
	case aggGetNextPlan:
		return "GetNextPlan"
	case aggProduce:
		return "Produce"
	case aggProducePending:
		return "ProducePending"
	case aggDone:
		return "Done"
	}
	return fmt.Sprintf("aggState(%d)", int(s))
}

// event is what a state observed. The drivers perform the I/O, report an event and let the transition functions
// decide where to go.
type event int

const (
	evForcePartition event = iota
	evTableOverflow
	evInputEOS
	evPartitionDone
	evPlanReady
	evPlanForced
	evNoMorePlans
	// evMatchBuild: a probe row matched and the matched build rows are emitted.
	evMatchBuild
	// evMatchPending: a probe row matched and is emitted alone, at most once.
	evMatchPending
	// evNoMatchOuter: a probe row did not match and is emitted null-extended.
	evNoMatchOuter
	// evProbeEOSUnmatched: the probe input ended and unmatched build rows are emitted.
	evProbeEOSUnmatched
	evProbeEOS
	evRowReady
	evRowsExhausted
	evProduced
	// evNullBuildRow: a build row with a NULL key is emitted null-extended while building.
	evNullBuildRow
)

func (e event) String() string {
	names := [...]string{"ForcePartition", "TableOverflow", "InputEOS", "PartitionDone", "PlanReady", "PlanForced",
		"NoMorePlans", "MatchBuild", "MatchPending", "NoMatchOuter", "ProbeEOSUnmatched", "ProbeEOS", "RowReady",
		"RowsExhausted", "Produced", "NullBuildRow"}
	if int(e) < len(names) {
		return names[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// transition is the decision of a transition function. When resume is set the driver returns to the state on
// top of its stack; otherwise it moves to next, first pushing push if pushes is set.
type transition[S comparable] struct {
	next   S
	push   S
	pushes bool
	resume bool
}

func moveTo[S comparable](next S) transition[S] {
	return transition[S]{next: next}
}

func call[S comparable](next, returnTo S) transition[S] {
	return transition[S]{next: next, push: returnTo, pushes: true}
}

func resume[S comparable]() transition[S] {
	return transition[S]{resume: true}
}

// nextJoinState is the transition function of the join driver. ok is false for an event the state cannot see.
func nextJoinState(s joinState, ev event) (t transition[joinState], ok bool) {
	switch s {
	case joinForcePartitionBuild:
		if ev == evForcePartition {
			return moveTo(joinPartition), true
		}
	case joinBuild:
		switch ev {
		case evTableOverflow:
			return moveTo(joinPartition), true
		case evInputEOS:
			return moveTo(joinProbe), true
		case evNullBuildRow:
			return call(joinProducePending, joinBuild), true
		}
	case joinPartition:
		if ev == evPartitionDone {
			return moveTo(joinCreateChildPlan), true
		}
	case joinCreateChildPlan, joinGetNextPlan:
		switch ev {
		case evPlanReady:
			return moveTo(joinBuild), true
		case evPlanForced:
			return moveTo(joinForcePartitionBuild), true
		case evNoMorePlans:
			if s == joinGetNextPlan {
				return moveTo(joinDone), true
			}
		}
	case joinProbe:
		switch ev {
		case evMatchBuild:
			return call(joinProduceBuild, joinProbe), true
		case evMatchPending, evNoMatchOuter:
			return call(joinProducePending, joinProbe), true
		case evProbeEOSUnmatched:
			return call(joinProduceBuild, joinGetNextPlan), true
		case evProbeEOS:
			return moveTo(joinGetNextPlan), true
		}
	case joinProduceBuild:
		switch ev {
		case evRowReady:
			return call(joinProducePending, joinProduceBuild), true
		case evRowsExhausted:
			return resume[joinState](), true
		}
	case joinProducePending:
		if ev == evProduced {
			return resume[joinState](), true
		}
	}
	return transition[joinState]{}, false
}

// nextAggState is the transition function of the aggregation driver.
func nextAggState(s aggState, ev event) (t transition[aggState], ok bool) {
	switch s {
	case aggForcePartitionBuild:
		if ev == evForcePartition {
			return moveTo(aggPartition), true
		}
	case aggBuild:
		switch ev {
		case evTableOverflow:
			return moveTo(aggPartition), true
		case evInputEOS:
			return moveTo(aggProduce), true
		}
	case aggPartition:
		if ev == evPartitionDone {
			return moveTo(aggCreateChildPlan), true
		}
	case aggCreateChildPlan, aggGetNextPlan:
		switch ev {
		case evPlanReady:
			return moveTo(aggBuild), true
		case evPlanForced:
			return moveTo(aggForcePartitionBuild), true
		case evNoMorePlans:
			if s == aggGetNextPlan {
				return moveTo(aggDone), true
			}
		}
	case aggProduce:
		switch ev {
		case evRowReady:
			return call(aggProducePending, aggProduce), true
		case evRowsExhausted:
			return moveTo(aggGetNextPlan), true
		}
	case aggProducePending:
		if ev == evProduced {
			return resume[aggState](), true
		}
	}
	return transition[aggState]{}, false
}

// stateMachine applies transitions and keeps the stack of states to resume.
type stateMachine[S comparable] struct {
	state S
	stack []S
	next  func(S, event) (transition[S], bool)
}

func newStateMachine[S comparable](initial S, next func(S, event) (transition[S], bool)) stateMachine[S] {
	return stateMachine[S]{state: initial, next: next}
}

// fire applies ev and returns the new state.
func (m *stateMachine[S]) fire(ev event) S {
	t, ok := m.next(m.state, ev)
	common.Assert(ok, "no transition from %v on %v", m.state, ev)
	if t.resume {
		common.Assert(len(m.stack) > 0, "resuming from %v with an empty stack", m.state)
		m.state = m.stack[len(m.stack)-1]
		m.stack = m.stack[:len(m.stack)-1]
		return m.state
	}
	if t.pushes {
		m.stack = append(m.stack, t.push)
	}
	m.state = t.next
	return m.state
}

// returnsTo reports the state that will be resumed next, if any.
func (m *stateMachine[S]) returnsTo() (S, bool) {
	if len(m.stack) == 0 {
		var zero S
		return zero, false
	}
	return m.stack[len(m.stack)-1], true
}

func (m *stateMachine[S]) reset(initial S) {
	m.state = initial
	m.stack = m.stack[:0]
}
