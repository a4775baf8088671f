package execution

import (
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

// aggComputer folds one column of incoming rows into one accumulator column of a group.
type aggComputer struct {
	kind planner.AggregatorType
	// src is the column read from incoming rows, or planner.CountStar.
	src int
	out common.Type
}

// fullComputers aggregate raw input rows.
func fullComputers(aggs []planner.AggregateClause, input []common.Type) []aggComputer {
	computers := make([]aggComputer, len(aggs))
	for i, agg := range aggs {
		computers[i] = aggComputer{kind: agg.Type, src: agg.Column, out: agg.OutputType(input)}
	}
	return computers
}

// partialComputers merge partial rows (group keys followed by accumulators) produced by fullComputers. Counts
// become sums of partial counts; every other aggregate merges partials with itself.
func partialComputers(aggs []planner.AggregateClause, input []common.Type, numKeys int) []aggComputer {
	computers := fullComputers(aggs, input)
	for i := range computers {
		if computers[i].kind == planner.AggCount {
			computers[i].kind = planner.AggSum
		}
		computers[i].src = numKeys + i
	}
	return computers
}

func (c aggComputer) initial() common.Value {
	if c.kind == planner.AggCount {
		return common.NewIntValue(0)
	}
	return common.NewNullValue(c.out)
}

// update folds row into acc and reports whether acc changed.
func (c aggComputer) update(acc common.Value, row *storage.Tuple) (common.Value, bool) {
	if c.kind == planner.AggCount {
		if c.src == planner.CountStar || !row.GetValue(c.src).IsNull() {
			return common.NewIntValue(acc.IntValue() + 1), true
		}
		return acc, false
	}

	v := row.GetValue(c.src)
	if v.IsNull() {
		return acc, false
	}
	if acc.IsNull() {
		return v, true
	}
	switch c.kind {
	case planner.AggSum:
		return common.NewIntValue(acc.IntValue() + v.IntValue()), true
	case planner.AggMin:
		if v.Compare(acc) < 0 {
			return v, true
		}
	case planner.AggMax:
		if v.Compare(acc) > 0 {
			return v, true
		}
	case planner.AggSingleValue:
		// first non-NULL value wins
	}
	return acc, false
}
