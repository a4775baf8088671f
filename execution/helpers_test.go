package execution

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/config"
	"mit.edu/dsg/hashexec/planner"
)

var (
	probeTypes = []common.Type{common.IntType, common.StringType}
	buildTypes = []common.Type{common.IntType, common.IntType, common.StringType}
	aggTypes   = []common.Type{common.IntType, common.StringType, common.IntType}
)

func testConfig(t *testing.T) config.Config {
	cfg := config.Default()
	cfg.TempDir = t.TempDir()
	cfg.QuantumRows = 64
	return cfg
}

func iv(v int64) common.Value  { return common.NewIntValue(v) }
func sv(v string) common.Value { return common.NewStringValue(v) }

// genProbeRows returns n rows (key, payload) with keys in [0, keys) and about one NULL key in twenty.
func genProbeRows(r *rand.Rand, n, keys int) [][]common.Value {
	rows := make([][]common.Value, n)
	for i := range rows {
		key := iv(int64(r.Intn(keys)))
		if r.Intn(20) == 0 {
			key = common.NewNullInt()
		}
		rows[i] = []common.Value{key, sv(fmt.Sprintf("p%d", i))}
	}
	return rows
}

// genBuildRows returns n rows (key, payload, payload) shaped like genProbeRows.
func genBuildRows(r *rand.Rand, n, keys int) [][]common.Value {
	rows := make([][]common.Value, n)
	for i := range rows {
		key := iv(int64(r.Intn(keys)))
		if r.Intn(20) == 0 {
			key = common.NewNullInt()
		}
		rows[i] = []common.Value{key, iv(int64(i)), sv(fmt.Sprintf("b%d", i))}
	}
	return rows
}

func rowString(row []common.Value) string {
	parts := make([]string, len(row))
	for i, v := range row {
		parts[i] = v.String()
	}
	return strings.Join(parts, "|")
}

func rowStrings(rows [][]common.Value) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = rowString(r)
	}
	sort.Strings(out)
	return out
}

func nullRow(types []common.Type) []common.Value {
	row := make([]common.Value, len(types))
	for i, t := range types {
		row[i] = common.NewNullValue(t)
	}
	return row
}

func concatRows(a, b []common.Value) []common.Value {
	return append(append([]common.Value(nil), a...), b...)
}

// keysEqual compares the key columns of two rows. Under regular join semantics a NULL never matches; under set
// semantics NULLs compare equal. String columns ignore trailing blanks when trim is set.
func keysEqual(a, b []common.Value, aKeys, bKeys []int, regular, trim bool) bool {
	for i := range aKeys {
		x, y := a[aKeys[i]], b[bKeys[i]]
		if x.IsNull() || y.IsNull() {
			if regular || x.IsNull() != y.IsNull() {
				return false
			}
			continue
		}
		if x.Type() == common.StringType && trim {
			if common.TrimTrailingBlanks(x.StringValue()) != common.TrimTrailingBlanks(y.StringValue()) {
				return false
			}
			continue
		}
		if x.Compare(y) != 0 {
			return false
		}
	}
	return true
}

// referenceJoin computes the join of node by nested loops.
func referenceJoin(node *planner.HashJoinNode, probe, build [][]common.Value, trim bool) [][]common.Value {
	kind := node.Kind
	regular := !kind.SetOpDistinct()
	pTypes, bTypes := node.Left.OutputSchema(), node.Right.OutputSchema()
	match := func(p, b []common.Value) bool {
		return keysEqual(p, b, node.LeftKeys, node.RightKeys, regular, trim)
	}
	emit := func(out [][]common.Value, p, b []common.Value) [][]common.Value {
		var row []common.Value
		switch {
		case kind.ReturnsProbe() && kind.ReturnsBuild():
			row = concatRows(p, b)
		case kind.ReturnsProbe():
			row = concatRows(p, nil)
		default:
			row = concatRows(b, nil)
		}
		if node.OutputProjection != nil {
			projected := make([]common.Value, len(node.OutputProjection))
			for i, c := range node.OutputProjection {
				projected[i] = row[c]
			}
			row = projected
		}
		return append(out, row)
	}

	var out [][]common.Value
	buildMatched := make([]bool, len(build))
	seenProbe := make([][]common.Value, 0)
	for _, p := range probe {
		matched := false
		for j, b := range build {
			if !match(p, b) {
				continue
			}
			matched = true
			buildMatched[j] = true
			if kind.ReturnProbeInner() && kind.ReturnBuildInner() {
				out = emit(out, p, b)
			}
		}
		switch {
		case matched && kind.ReturnProbeInner() && !kind.ReturnBuildInner():
			if kind.SetOpDistinct() {
				dup := false
				for _, s := range seenProbe {
					if keysEqual(p, s, node.LeftKeys, node.LeftKeys, false, trim) {
						dup = true
					}
				}
				if dup {
					continue
				}
				seenProbe = append(seenProbe, p)
			}
			out = emit(out, p, nullRow(bTypes))
		case !matched && kind.ReturnProbeOuter():
			out = emit(out, p, nullRow(bTypes))
		}
	}

	var seenBuild [][]common.Value
	for j, b := range build {
		if kind.SetOpDistinct() {
			dup := false
			for _, s := range seenBuild {
				if keysEqual(b, s, node.RightKeys, node.RightKeys, false, trim) {
					dup = true
				}
			}
			if dup {
				continue
			}
			seenBuild = append(seenBuild, b)
		}
		switch {
		case buildMatched[j] && kind.ReturnBuildInner() && !kind.ReturnProbeInner():
			out = emit(out, nullRow(pTypes), b)
		case !buildMatched[j] && kind.ReturnBuildOuter():
			out = emit(out, nullRow(pTypes), b)
		}
	}
	return out
}

// referenceAgg computes node over rows with a map.
func referenceAgg(node *planner.AggregateNode, rows [][]common.Value) [][]common.Value {
	input := node.Child.OutputSchema()
	type group struct {
		keys []common.Value
		accs []common.Value
	}
	groups := make(map[string]*group)
	var order []string
	for _, r := range rows {
		keys := make([]common.Value, len(node.GroupByClause))
		for i, c := range node.GroupByClause {
			keys[i] = r[c]
		}
		id := rowString(keys)
		g, ok := groups[id]
		if !ok {
			g = &group{keys: keys, accs: make([]common.Value, len(node.AggClauses))}
			for i, a := range node.AggClauses {
				if a.Type == planner.AggCount {
					g.accs[i] = iv(0)
				} else {
					g.accs[i] = common.NewNullValue(a.OutputType(input))
				}
			}
			groups[id] = g
			order = append(order, id)
		}
		for i, a := range node.AggClauses {
			acc := g.accs[i]
			if a.Column == planner.CountStar {
				g.accs[i] = iv(acc.IntValue() + 1)
				continue
			}
			v := r[a.Column]
			if v.IsNull() {
				continue
			}
			switch a.Type {
			case planner.AggCount:
				g.accs[i] = iv(acc.IntValue() + 1)
			case planner.AggSum:
				if acc.IsNull() {
					g.accs[i] = v
				} else {
					g.accs[i] = iv(acc.IntValue() + v.IntValue())
				}
			case planner.AggMin:
				if acc.IsNull() || v.Compare(acc) < 0 {
					g.accs[i] = v
				}
			case planner.AggMax:
				if acc.IsNull() || v.Compare(acc) > 0 {
					g.accs[i] = v
				}
			case planner.AggSingleValue:
				if acc.IsNull() {
					g.accs[i] = v
				}
			}
		}
	}
	out := make([][]common.Value, 0, len(order))
	for _, id := range order {
		g := groups[id]
		out = append(out, concatRows(g.keys, g.accs))
	}
	return out
}

type runOptions struct {
	pages     int
	chunkSize int
	stall     bool
	outCap    int
	quantum   int
	opts      []StreamOption
}

func (o runOptions) inputs(types []common.Type, rows [][]common.Value) *MemInputBuffer {
	b := NewMemInputBuffer(types, rows, o.chunkSize)
	if o.stall {
		b.WithStall()
	}
	return b
}

func (o runOptions) quantumFor(cfg config.Config) Quantum {
	if o.quantum > 0 {
		return Quantum{MaxTuples: o.quantum}
	}
	return Quantum{MaxTuples: cfg.QuantumRows}
}

func runJoin(t *testing.T, node *planner.HashJoinNode, cfg config.Config, probe, build [][]common.Value,
	o runOptions) ([][]common.Value, RunStats) {
	t.Helper()
	s, err := NewHashJoinStream(node, cfg, o.opts...)
	require.NoError(t, err)
	if o.pages > 0 {
		require.NoError(t, s.SetResourceAllocation(o.pages))
	}
	out := NewMemOutputBuffer(node.OutputSchema(), o.outCap)
	require.NoError(t, s.Open(context.Background(), o.inputs(node.Left.OutputSchema(), probe),
		o.inputs(node.Right.OutputSchema(), build), out, false))
	rows, stats, err := RunToBuffer(context.Background(), s, out, o.quantumFor(cfg))
	require.NoError(t, err)
	require.True(t, out.EOS())
	return rows, stats
}

func runAgg(t *testing.T, node *planner.AggregateNode, cfg config.Config, input [][]common.Value,
	o runOptions) ([][]common.Value, RunStats) {
	t.Helper()
	s, err := NewHashAggStream(node, cfg, o.opts...)
	require.NoError(t, err)
	if o.pages > 0 {
		require.NoError(t, s.SetResourceAllocation(o.pages))
	}
	out := NewMemOutputBuffer(node.OutputSchema(), o.outCap)
	require.NoError(t, s.Open(context.Background(), o.inputs(node.Child.OutputSchema(), input), out, false))
	rows, stats, err := RunToBuffer(context.Background(), s, out, o.quantumFor(cfg))
	require.NoError(t, err)
	require.True(t, out.EOS())
	return rows, stats
}

func newJoinNode(kind planner.JoinKind, probe, build [][]common.Value) *planner.HashJoinNode {
	return planner.NewHashJoinNode(
		planner.NewValuesNode(probeTypes, probe),
		planner.NewValuesNode(buildTypes, build),
		[]int{0}, []int{0}, kind)
}
