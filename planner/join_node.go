package planner

import (
	"fmt"
	"strings"

	"mit.edu/dsg/hashexec/common"
)

// JoinKind enumerates the row classes a hash join emits. "Left" always names the probe input and "Right" the
// build input.
type JoinKind int

const (
	// Inner emits matched probe rows joined with their matched build rows.
	Inner JoinKind = iota
	// LeftOuter additionally emits unmatched probe rows, null-extended.
	LeftOuter
	// RightOuter additionally emits unmatched build rows, null-extended.
	RightOuter
	// FullOuter emits both kinds of unmatched rows.
	FullOuter
	// LeftSemi emits each probe row that has at least one match, once.
	LeftSemi
	// LeftAnti emits probe rows without a match.
	LeftAnti
	// RightSemi emits each build row that has at least one match, once.
	RightSemi
	// RightAnti emits build rows without a match.
	RightAnti
	// IntersectDistinct is LeftSemi under set semantics: duplicates are removed on both inputs and NULL keys
	// compare equal.
	IntersectDistinct
	// ExceptDistinct is RightAnti under set semantics.
	ExceptDistinct
)

func (k JoinKind) String() string {
	switch k {
	case Inner:
		return "Inner"
	case LeftOuter:
		return "LeftOuter"
	case RightOuter:
		return "RightOuter"
	case FullOuter:
		return "FullOuter"
	case LeftSemi:
		return "LeftSemi"
	case LeftAnti:
		return "LeftAnti"
	case RightSemi:
		return "RightSemi"
	case RightAnti:
		return "RightAnti"
	case IntersectDistinct:
		return "IntersectDistinct"
	case ExceptDistinct:
		return "ExceptDistinct"
	}
	return fmt.Sprintf("JoinKind(%d)", int(k))
}

// ReturnProbeInner reports whether matched probe rows are emitted.
// ParseJoinKind parses the name of a join kind, ignoring case. Besides the String forms it accepts the short
// SQL names "left", "right", "full", "semi", "anti", "intersect" and "except".
func ParseJoinKind(s string) (JoinKind, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "inner":
		return Inner, nil
	case "leftouter", "left":
		return LeftOuter, nil
	case "rightouter", "right":
		return RightOuter, nil
	case "fullouter", "full":
		return FullOuter, nil
	case "leftsemi", "semi":
		return LeftSemi, nil
	case "leftanti", "anti":
		return LeftAnti, nil
	case "rightsemi":
		return RightSemi, nil
	case "rightanti":
		return RightAnti, nil
	case "intersectdistinct", "intersect":
		return IntersectDistinct, nil
	case "exceptdistinct", "except":
		return ExceptDistinct, nil
	}
	return 0, fmt.Errorf("unknown join kind %q", s)
}

func (k JoinKind) ReturnProbeInner() bool {
	switch k {
	case Inner, LeftOuter, RightOuter, FullOuter, LeftSemi, IntersectDistinct:
		return true
	}
	return false
}

// ReturnProbeOuter reports whether unmatched probe rows are emitted.
func (k JoinKind) ReturnProbeOuter() bool {
	return k == LeftOuter || k == FullOuter || k == LeftAnti
}

// ReturnBuildInner reports whether matched build rows are emitted.
func (k JoinKind) ReturnBuildInner() bool {
	switch k {
	case Inner, LeftOuter, RightOuter, FullOuter, RightSemi:
		return true
	}
	return false
}

// ReturnBuildOuter reports whether unmatched build rows are emitted.
func (k JoinKind) ReturnBuildOuter() bool {
	return k == RightOuter || k == FullOuter || k == RightAnti || k == ExceptDistinct
}

// SetOpDistinct reports whether the join implements a set operation with duplicate elimination.
func (k JoinKind) SetOpDistinct() bool {
	return k == IntersectDistinct || k == ExceptDistinct
}

// ReturnsProbe reports whether output rows carry probe columns.
func (k JoinKind) ReturnsProbe() bool {
	return k.ReturnProbeInner() || k.ReturnProbeOuter()
}

// ReturnsBuild reports whether output rows carry build columns.
func (k JoinKind) ReturnsBuild() bool {
	return k.ReturnBuildInner() || k.ReturnBuildOuter()
}

// JoinKindFromFlags decodes the four emission flags (matched probe, unmatched probe, matched build, unmatched
// build) plus the set-distinct flag into a JoinKind. Combinations that name no join, and anti joins that would
// have to remove duplicates on the probe side, are rejected.
func JoinKindFromFlags(probeInner, probeOuter, buildInner, buildOuter, setOpDistinct bool) (JoinKind, error) {
	type flags struct{ pi, po, bi, bo bool }
	var kind JoinKind
	switch (flags{probeInner, probeOuter, buildInner, buildOuter}) {
	case flags{true, false, true, false}:
		kind = Inner
	case flags{true, true, true, false}:
		kind = LeftOuter
	case flags{true, false, true, true}:
		kind = RightOuter
	case flags{true, true, true, true}:
		kind = FullOuter
	case flags{true, false, false, false}:
		kind = LeftSemi
	case flags{false, true, false, false}:
		kind = LeftAnti
	case flags{false, false, true, false}:
		kind = RightSemi
	case flags{false, false, false, true}:
		kind = RightAnti
	default:
		return 0, common.NewExecError(common.InvalidJoinTypeError,
			"no join emits probeInner=%t probeOuter=%t buildInner=%t buildOuter=%t",
			probeInner, probeOuter, buildInner, buildOuter)
	}
	if !setOpDistinct {
		return kind, nil
	}
	switch kind {
	case LeftSemi:
		return IntersectDistinct, nil
	case RightAnti:
		return ExceptDistinct, nil
	case LeftAnti:
		return 0, common.NewExecError(common.InvalidJoinTypeError,
			"distinct anti join must remove duplicates on the build side")
	}
	return 0, common.NewExecError(common.InvalidJoinTypeError, "%s has no set-distinct form", kind)
}

// HashJoinNode represents an equi hash join. Left is the probe input and Right the build input; keys are column
// positions in the respective inputs.
//
// Output rows are the probe columns (when the kind returns probe rows) followed by the build columns (when it
// returns build rows), optionally reordered by OutputProjection.
type HashJoinNode struct {
	Left      PlanNode
	Right     PlanNode
	LeftKeys  []int
	RightKeys []int
	Kind      JoinKind
	// TrimKeys marks key columns whose trailing blanks are insignificant. Nil trims every string key.
	TrimKeys         []bool
	OutputProjection []int
	// BuildEstimate sizes the initial hash table.
	BuildEstimate Estimate
	outputSchema  []common.Type
}

func NewHashJoinNode(left, right PlanNode, leftKeys, rightKeys []int, kind JoinKind) *HashJoinNode {
	n := &HashJoinNode{
		Left:      left,
		Right:     right,
		LeftKeys:  leftKeys,
		RightKeys: rightKeys,
		Kind:      kind,
	}
	n.outputSchema = n.joinedSchema()
	return n
}

// WithOutputProjection returns n with the joined row reordered/trimmed to the given columns.
func (n *HashJoinNode) WithOutputProjection(cols []int) *HashJoinNode {
	n.OutputProjection = cols
	n.outputSchema = projectTypes(n.joinedSchema(), cols)
	return n
}

// WithBuildEstimate records the optimizer estimate of the build input.
func (n *HashJoinNode) WithBuildEstimate(e Estimate) *HashJoinNode {
	n.BuildEstimate = e
	return n
}

// WithTrimKeys sets the per-key trailing-blank sensitivity.
func (n *HashJoinNode) WithTrimKeys(trim []bool) *HashJoinNode {
	n.TrimKeys = trim
	return n
}

func (n *HashJoinNode) joinedSchema() []common.Type {
	var schema []common.Type
	if n.Kind.ReturnsProbe() {
		schema = append(schema, n.Left.OutputSchema()...)
	}
	if n.Kind.ReturnsBuild() {
		schema = append(schema, n.Right.OutputSchema()...)
	}
	return schema
}

// JoinedSchema returns the row shape before the output projection.
func (n *HashJoinNode) JoinedSchema() []common.Type {
	return n.joinedSchema()
}

func (n *HashJoinNode) OutputSchema() []common.Type {
	return n.outputSchema
}

func (n *HashJoinNode) Children() []PlanNode {
	return []PlanNode{n.Left, n.Right}
}

func (n *HashJoinNode) String() string {
	return fmt.Sprintf("HashJoin(%s): probe%v = build%v", n.Kind, n.LeftKeys, n.RightKeys)
}
