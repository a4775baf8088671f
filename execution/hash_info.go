package execution

import (
	"fmt"

	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/config"
	"mit.edu/dsg/hashexec/planner"
	"mit.edu/dsg/hashexec/storage"
)

const (
	probeInput = 0
	// aggInput is the single input of an aggregation. It is also its "build" input.
	aggInput = 0
)

// HashInfo is the immutable per-execution configuration shared by the hash table, the partition readers and
// writers, the partitioning plan and the drivers. Input 0 is the probe input of a join (or the only input of an
// aggregation); the build input is always the last one.
type HashInfo struct {
	NumInputs  int
	InputDescs []*storage.RawTupleDesc
	KeyProj    [][]int
	KeyDesc    *storage.RawTupleDesc
	// Trim marks key columns whose trailing blanks are insignificant.
	Trim []bool

	// FilterNull drops rows with a NULL key column: they can never match.
	FilterNull []bool
	// RemoveDuplicate keeps only the first row of every key.
	RemoveDuplicate []bool
	// UseJoinFilter builds a join filter over the input so that rows of the other input that cannot match are
	// not spilled.
	UseJoinFilter []bool

	Kind        planner.JoinKind
	RegularJoin bool

	Aggs        []planner.AggregateClause
	PartialDesc *storage.RawTupleDesc

	EnableSubPartStat   bool
	ForcePartitionLevel int
	MaxPartitionLevel   int
}

// BuildInput returns the input that fills the hash table.
func (h *HashInfo) BuildInput() int {
	return h.NumInputs - 1
}

// IsAggregation reports whether h describes an aggregation.
func (h *HashInfo) IsAggregation() bool {
	return h.NumInputs == 1
}

func trimFlags(keyTypes []common.Type, trim []bool) ([]bool, error) {
	if trim != nil && len(trim) != len(keyTypes) {
		return nil, common.NewExecError(common.SchemaMismatchError,
			"%d trim flags for %d key columns", len(trim), len(keyTypes))
	}
	flags := make([]bool, len(keyTypes))
	for i, t := range keyTypes {
		flags[i] = t == common.StringType && (trim == nil || trim[i])
	}
	return flags, nil
}

func checkColumns(what string, cols []int, width int) error {
	for _, c := range cols {
		if c < 0 || c >= width {
			return common.NewExecError(common.SchemaMismatchError, "%s column %d out of range [0, %d)", what, c, width)
		}
	}
	return nil
}

func keyTypes(types []common.Type, proj []int) []common.Type {
	out := make([]common.Type, len(proj))
	for i, c := range proj {
		out[i] = types[c]
	}
	return out
}

// NewJoinHashInfo validates a join plan node and derives its per-input policies.
func NewJoinHashInfo(node *planner.HashJoinNode, cfg config.Config) (*HashInfo, error) {
	probeTypes, buildTypes := node.Left.OutputSchema(), node.Right.OutputSchema()
	if len(node.LeftKeys) == 0 || len(node.LeftKeys) != len(node.RightKeys) {
		return nil, common.NewExecError(common.SchemaMismatchError,
			"join needs matching non-empty key lists, got %d probe and %d build keys", len(node.LeftKeys), len(node.RightKeys))
	}
	if err := checkColumns("probe key", node.LeftKeys, len(probeTypes)); err != nil {
		return nil, err
	}
	if err := checkColumns("build key", node.RightKeys, len(buildTypes)); err != nil {
		return nil, err
	}
	kt := keyTypes(probeTypes, node.LeftKeys)
	for i, t := range keyTypes(buildTypes, node.RightKeys) {
		if t != kt[i] {
			return nil, common.NewExecError(common.SchemaMismatchError,
				"key %d is %s on the probe side and %s on the build side", i, kt[i], t)
		}
	}
	if node.OutputProjection != nil {
		if err := checkColumns("output", node.OutputProjection, len(node.JoinedSchema())); err != nil {
			return nil, err
		}
	}
	trim, err := trimFlags(kt, node.TrimKeys)
	if err != nil {
		return nil, err
	}

	kind := node.Kind
	regular := !kind.SetOpDistinct()
	probeOuter, buildOuter := kind.ReturnProbeOuter(), kind.ReturnBuildOuter()
	return &HashInfo{
		NumInputs:       2,
		InputDescs:      []*storage.RawTupleDesc{storage.NewRawTupleDesc(probeTypes), storage.NewRawTupleDesc(buildTypes)},
		KeyProj:         [][]int{node.LeftKeys, node.RightKeys},
		KeyDesc:         storage.NewRawTupleDesc(kt),
		Trim:            trim,
		FilterNull:      []bool{regular && !probeOuter, regular && !buildOuter},
		RemoveDuplicate: []bool{kind == planner.RightSemi || !regular, kind == planner.LeftSemi || !regular},
		UseJoinFilter:   []bool{cfg.EnableJoinFilter && !probeOuter, cfg.EnableJoinFilter && !buildOuter},
		Kind:            kind,
		RegularJoin:     regular,

		EnableSubPartStat:   cfg.EnableSubPartStat,
		ForcePartitionLevel: cfg.ForcePartitionLevel,
		MaxPartitionLevel:   cfg.MaxPartitionLevel,
	}, nil
}

// NewAggHashInfo validates an aggregation plan node.
func NewAggHashInfo(node *planner.AggregateNode, cfg config.Config) (*HashInfo, error) {
	input := node.Child.OutputSchema()
	if err := checkColumns("group-by", node.GroupByClause, len(input)); err != nil {
		return nil, err
	}
	for _, agg := range node.AggClauses {
		if agg.Column == planner.CountStar {
			if agg.Type != planner.AggCount {
				return nil, common.NewExecError(common.SchemaMismatchError, "%s(*) is not an aggregate", agg.Type)
			}
			continue
		}
		if err := checkColumns("aggregate", []int{agg.Column}, len(input)); err != nil {
			return nil, err
		}
		if agg.Type == planner.AggSum && input[agg.Column] != common.IntType {
			return nil, common.NewExecError(common.SchemaMismatchError, "cannot sum %s column %d", input[agg.Column], agg.Column)
		}
	}
	kt := keyTypes(input, node.GroupByClause)
	trim, err := trimFlags(kt, node.TrimKeys)
	if err != nil {
		return nil, err
	}
	return &HashInfo{
		NumInputs:       1,
		InputDescs:      []*storage.RawTupleDesc{storage.NewRawTupleDesc(input)},
		KeyProj:         [][]int{node.GroupByClause},
		KeyDesc:         storage.NewRawTupleDesc(kt),
		Trim:            trim,
		FilterNull:      []bool{false},
		RemoveDuplicate: []bool{false},
		UseJoinFilter:   []bool{false},
		Aggs:            node.AggClauses,
		PartialDesc:     storage.NewRawTupleDesc(node.OutputSchema()),

		EnableSubPartStat:   cfg.EnableSubPartStat,
		ForcePartitionLevel: cfg.ForcePartitionLevel,
		MaxPartitionLevel:   cfg.MaxPartitionLevel,
	}, nil
}

// partialKeyProj is the key projection of partial aggregate rows.
func (h *HashInfo) partialKeyProj() []int {
	proj := make([]int, h.KeyDesc.NumColumns())
	for i := range proj {
		proj[i] = i
	}
	return proj
}

// rowDesc returns the layout of the rows of input that reach the given level. Aggregation partitions below the
// root hold partial aggregates instead of raw rows.
func (h *HashInfo) rowDesc(input, level int) *storage.RawTupleDesc {
	if h.IsAggregation() && level > 0 {
		return h.PartialDesc
	}
	return h.InputDescs[input]
}

// rowKeyProj is the key projection matching rowDesc.
func (h *HashInfo) rowKeyProj(input, level int) []int {
	if h.IsAggregation() && level > 0 {
		return h.partialKeyProj()
	}
	return h.KeyProj[input]
}

// tableShape is what a hash table needs to know about the rows it stores.
type tableShape struct {
	inputDesc  *storage.RawTupleDesc
	keyProj    []int
	codec      *keyCodec
	filterNull bool
	removeDup  bool

	// join: the columns not rebuilt from the key node are stored per row in data nodes
	payloadProj []int
	payloadDesc *storage.RawTupleDesc

	// aggregation: key nodes hold a partial row, keys followed by accumulators
	aggs        []aggComputer
	partialDesc *storage.RawTupleDesc
}

func (s *tableShape) isAgg() bool {
	return s.partialDesc != nil
}

func (s *tableShape) String() string {
	if s.isAgg() {
		return fmt.Sprintf("agg keys%v of %s into %s", s.keyProj, s.inputDesc, s.partialDesc)
	}
	return fmt.Sprintf("join keys%v payload%v of %s", s.keyProj, s.payloadProj, s.inputDesc)
}

func (h *HashInfo) newCodec() *keyCodec {
	return newKeyCodec(h.KeyDesc, h.Trim)
}

// joinShape is the shape of a join hash table over input.
func (h *HashInfo) joinShape(input int, codec *keyCodec) *tableShape {
	desc := h.InputDescs[input]
	// rows of one key may differ in the trailing blanks of trimmed columns, so those stay in the payload too
	fromKey := make([]bool, desc.NumColumns())
	for i, c := range h.KeyProj[input] {
		if !h.Trim[i] {
			fromKey[c] = true
		}
	}
	var payload []int
	for c := range fromKey {
		if !fromKey[c] {
			payload = append(payload, c)
		}
	}
	return &tableShape{
		inputDesc:   desc,
		keyProj:     h.KeyProj[input],
		codec:       codec,
		filterNull:  h.FilterNull[input],
		removeDup:   h.RemoveDuplicate[input],
		payloadProj: payload,
		payloadDesc: desc.Project(payload),
	}
}

// aggShape is the shape of an aggregation hash table at the given level: raw rows at the root, partial rows
// below it.
func (h *HashInfo) aggShape(level int, codec *keyCodec) *tableShape {
	input := h.InputDescs[aggInput].GetFieldTypes()
	computers := fullComputers(h.Aggs, input)
	if level > 0 {
		computers = partialComputers(h.Aggs, input, h.KeyDesc.NumColumns())
	}
	return &tableShape{
		inputDesc:   h.rowDesc(aggInput, level),
		keyProj:     h.rowKeyProj(aggInput, level),
		codec:       codec,
		aggs:        computers,
		partialDesc: h.PartialDesc,
	}
}

// tableShape returns the shape of the table that builds over the build input at level.
func (h *HashInfo) tableShape(level int, codec *keyCodec) *tableShape {
	if h.IsAggregation() {
		return h.aggShape(level, codec)
	}
	return h.joinShape(h.BuildInput(), codec)
}
