package execution

import (
	"context"
	"fmt"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/planner"
)

var allAggs = []planner.AggregateClause{
	{Type: planner.AggCount, Column: planner.CountStar},
	{Type: planner.AggCount, Column: 2},
	{Type: planner.AggSum, Column: 2},
	{Type: planner.AggMin, Column: 2},
	{Type: planner.AggMax, Column: 2},
	{Type: planner.AggMin, Column: 1},
	{Type: planner.AggSingleValue, Column: 1},
}

// genAggRows returns n rows (group, label, value). The label is determined by the group, so SINGLE_VALUE is
// deterministic; about one value in ten is NULL.
func genAggRows(r *rand.Rand, n, groups int) [][]common.Value {
	rows := make([][]common.Value, n)
	for i := range rows {
		g := r.Intn(groups)
		v := iv(int64(r.Intn(1000) - 500))
		if r.Intn(10) == 0 {
			v = common.NewNullInt()
		}
		rows[i] = []common.Value{iv(int64(g)), sv(fmt.Sprintf("label-%d", g)), v}
	}
	return rows
}

func newAggNode(rows [][]common.Value, groupBy []int) *planner.AggregateNode {
	return planner.NewAggregateNode(planner.NewValuesNode(aggTypes, rows), groupBy, allAggs)
}

func TestHashAggExample(t *testing.T) {
	rows := [][]common.Value{
		{iv(1), sv("a"), iv(10)},
		{iv(2), sv("b"), iv(5)},
		{iv(1), sv("a"), common.NewNullInt()},
		{iv(1), sv("a"), iv(-3)},
		{iv(3), sv("c"), common.NewNullInt()},
	}
	node := newAggNode(rows, []int{0})
	out, _ := runAgg(t, node, testConfig(t), rows, runOptions{})
	assert.Equal(t, []string{
		"1|3|2|7|-3|10|a|a",
		"2|1|1|5|5|5|b|b",
		"3|1|0|NULL|NULL|NULL|c|c",
	}, rowStrings(out))
}

func TestHashAggMatchesReference(t *testing.T) {
	r := rand.New(rand.NewSource(17))
	rows := genAggRows(r, 2000, 300)

	for _, groupBy := range [][]int{{0}, {1, 0}, {}} {
		for _, force := range []int{0, 1, 2} {
			t.Run(fmt.Sprintf("groupBy%v/force%d", groupBy, force), func(t *testing.T) {
				cfg := testConfig(t)
				cfg.ForcePartitionLevel = force
				node := newAggNode(rows, groupBy)
				out, _ := runAgg(t, node, cfg, rows, runOptions{})
				assert.Equal(t, rowStrings(referenceAgg(node, rows)), rowStrings(out))
			})
		}
	}
}

func TestHashAggSpillsAtMinimumBudget(t *testing.T) {
	r := rand.New(rand.NewSource(23))
	rows := genAggRows(r, 6000, 2500)
	node := newAggNode(rows, []int{0})

	s, err := NewHashAggStream(node, testConfig(t))
	require.NoError(t, err)
	minPages := s.ResourceRequirements().Min
	assert.Equal(t, aggIOReserve+numChildren*minTableBlocks, minPages)

	metrics := NewMetrics(prometheus.NewRegistry(), "aggregate")
	out, _ := runAgg(t, node, testConfig(t), rows,
		runOptions{pages: minPages, opts: []StreamOption{WithMetrics(metrics)}})
	assert.Equal(t, rowStrings(referenceAgg(node, rows)), rowStrings(out))
	assert.Greater(t, testutil.ToFloat64(metrics.PartitionPasses), 0.0)
	assert.Greater(t, testutil.ToFloat64(metrics.SpilledRows), 0.0)
	assert.Equal(t, float64(len(out)), testutil.ToFloat64(metrics.RowsProduced))
}

func TestHashAggStringGroupsTrimmed(t *testing.T) {
	rows := [][]common.Value{
		{iv(1), sv("x"), iv(1)},
		{iv(1), sv("x  "), iv(2)},
		{iv(1), sv("y"), iv(4)},
	}
	groupByLabel := planner.NewAggregateNode(planner.NewValuesNode(aggTypes, rows), []int{1},
		[]planner.AggregateClause{{Type: planner.AggSum, Column: 2}})
	out, _ := runAgg(t, groupByLabel, testConfig(t), rows, runOptions{})
	require.Len(t, out, 2)
	sums := map[string]int64{}
	for _, row := range out {
		sums[common.TrimTrailingBlanks(row[0].StringValue())] = row[1].IntValue()
	}
	assert.Equal(t, map[string]int64{"x": 3, "y": 4}, sums)

	exact := planner.NewAggregateNode(planner.NewValuesNode(aggTypes, rows), []int{1},
		[]planner.AggregateClause{{Type: planner.AggSum, Column: 2}}).WithTrimKeys([]bool{false})
	out, _ = runAgg(t, exact, testConfig(t), rows, runOptions{})
	assert.Len(t, out, 3)
}

func TestHashAggNullGroupsAreOneGroup(t *testing.T) {
	rows := [][]common.Value{
		{common.NewNullInt(), sv("a"), iv(1)},
		{common.NewNullInt(), sv("a"), iv(2)},
		{iv(0), sv("a"), iv(4)},
	}
	node := planner.NewAggregateNode(planner.NewValuesNode(aggTypes, rows), []int{0},
		[]planner.AggregateClause{{Type: planner.AggSum, Column: 2}})
	out, _ := runAgg(t, node, testConfig(t), rows, runOptions{})
	assert.Equal(t, []string{"0|4", "NULL|3"}, rowStrings(out))
}

func TestHashAggEmptyInput(t *testing.T) {
	node := newAggNode(nil, nil)
	out, _ := runAgg(t, node, testConfig(t), nil, runOptions{})
	assert.Empty(t, out)

	node = newAggNode(nil, []int{0})
	out, _ = runAgg(t, node, testConfig(t), nil, runOptions{})
	assert.Empty(t, out)
}

func TestHashAggSuspensions(t *testing.T) {
	r := rand.New(rand.NewSource(29))
	rows := genAggRows(r, 3000, 800)
	node := newAggNode(rows, []int{0})
	want := rowStrings(referenceAgg(node, rows))

	t.Run("underflow", func(t *testing.T) {
		out, stats := runAgg(t, node, testConfig(t), rows, runOptions{chunkSize: 31, stall: true, pages: 16})
		assert.Equal(t, want, rowStrings(out))
		assert.Greater(t, stats.Underflows, 0)
	})
	t.Run("overflow", func(t *testing.T) {
		out, stats := runAgg(t, node, testConfig(t), rows, runOptions{outCap: 9})
		assert.Equal(t, want, rowStrings(out))
		assert.Greater(t, stats.Overflows, 0)
	})
	t.Run("quantum", func(t *testing.T) {
		out, stats := runAgg(t, node, testConfig(t), rows, runOptions{quantum: 4, pages: 16})
		assert.Equal(t, want, rowStrings(out))
		assert.Greater(t, stats.QuantaExpired, 0)
	})
}

func TestHashAggRestart(t *testing.T) {
	r := rand.New(rand.NewSource(31))
	rows := genAggRows(r, 2000, 700)
	node := newAggNode(rows, []int{0})
	want := rowStrings(referenceAgg(node, rows))

	s, err := NewHashAggStream(node, testConfig(t))
	require.NoError(t, err)
	require.NoError(t, s.SetResourceAllocation(16))
	in := NewMemInputBuffer(aggTypes, rows, 100)

	out := NewMemOutputBuffer(node.OutputSchema(), 0)
	require.NoError(t, s.Open(context.Background(), in, out, false))
	for i := 0; i < 3; i++ {
		_, err := s.Execute(Quantum{MaxTuples: 5})
		require.NoError(t, err)
	}

	in.Reset()
	out = NewMemOutputBuffer(node.OutputSchema(), 0)
	require.NoError(t, s.Open(context.Background(), in, out, true))
	got, _, err := RunToBuffer(context.Background(), s, out, Quantum{MaxTuples: 64})
	require.NoError(t, err)
	assert.Equal(t, want, rowStrings(got))
}

func TestHashAggAbort(t *testing.T) {
	r := rand.New(rand.NewSource(37))
	rows := genAggRows(r, 100, 10)
	node := newAggNode(rows, []int{0})
	cfg := testConfig(t)
	cfg.ForcePartitionLevel = 1

	s, err := NewHashAggStream(node, cfg)
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.Open(ctx, NewMemInputBuffer(aggTypes, rows, 0), NewMemOutputBuffer(node.OutputSchema(), 0), false))
	cancel()
	_, err = s.Execute(Quantum{MaxTuples: 10})
	assert.True(t, common.IsErrorCode(err, common.AbortedError), "got %v", err)
}

func TestHashAggRejectsBadPlans(t *testing.T) {
	cfg := testConfig(t)
	child := planner.NewValuesNode(aggTypes, nil)

	_, err := NewHashAggStream(planner.NewAggregateNode(child, []int{0},
		[]planner.AggregateClause{{Type: planner.AggSum, Column: 1}}), cfg)
	assert.True(t, common.IsErrorCode(err, common.SchemaMismatchError), "sum over a string column")

	_, err = NewHashAggStream(planner.NewAggregateNode(child, []int{0},
		[]planner.AggregateClause{{Type: planner.AggCount, Column: 9}}), cfg)
	assert.True(t, common.IsErrorCode(err, common.SchemaMismatchError), "aggregate column out of range")

	_, err = NewHashAggStream(planner.NewAggregateNode(child, []int{0},
		[]planner.AggregateClause{{Type: planner.AggMax, Column: planner.CountStar}}), cfg)
	assert.True(t, common.IsErrorCode(err, common.SchemaMismatchError), "MAX(*)")

	bad := cfg
	bad.QuantumRows = 0
	_, err = NewHashAggStream(planner.NewAggregateNode(child, []int{0}, nil), bad)
	assert.True(t, common.IsErrorCode(err, common.InvalidConfigError))
}
