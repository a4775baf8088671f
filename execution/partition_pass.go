package execution

import (
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/storage"
)

type passResult int

const (
	// passUnderflow means a live input has to deliver more rows before the pass can go on.
	passUnderflow passResult = iota
	// passEndOfData means every row of the node went to a child partition.
	passEndOfData
)

// partitionPass spreads the rows of one plan node over numChildren child partitions per input: first the rows
// resident in the node's hash table, then the unread rest of the build input (starting with the row that did not
// fit), then, for a join, the whole probe input. A pass over live inputs may be suspended by underflow and
// resumed.
type partitionPass struct {
	s     *streamBase
	id    planID
	node  *planNode
	level int

	// packers[input] packs rows read from the node's partitions; memoryPacker packs rows drained from the table.
	packers      []*keyPacker
	memoryPacker *keyPacker

	partitions []*Partition
	writers    []*PartitionWriter
	// filters[w] summarizes the rows written by writer w, for the other input. Nil when unused.
	filters []*JoinFilter
	// stats[w] counts the rows of writer w per next-level sub-partition. Nil when disabled.
	stats [][]int64

	memoryDone bool
	input      int
}

func newPartitionPass(s *streamBase) (*partitionPass, error) {
	info := s.info
	node := s.tree.node(s.cur)
	level := node.level
	if info.MaxPartitionLevel > 0 && level+1 > info.MaxPartitionLevel {
		return nil, common.NewExecError(common.PartitionDepthExceededError,
			"partitioning below level %d exceeds max_partition_level %d; the input probably holds one key with more "+
				"rows than fit in %s", level, info.MaxPartitionLevel, humanize.IBytes(uint64(s.pool.Capacity()*common.PageSize)))
	}
	node.mapSubPartitions()

	p := &partitionPass{
		s:          s,
		id:         s.cur,
		node:       node,
		level:      level,
		packers:    make([]*keyPacker, info.NumInputs),
		partitions: make([]*Partition, info.NumInputs*numChildren),
		writers:    make([]*PartitionWriter, info.NumInputs*numChildren),
		filters:    make([]*JoinFilter, info.NumInputs*numChildren),
		input:      info.BuildInput(),
	}
	for input := range p.packers {
		p.packers[input] = newKeyPacker(s.codec, info.rowKeyProj(input, level))
	}
	p.memoryPacker = p.packers[info.BuildInput()]
	if info.IsAggregation() {
		p.memoryPacker = newKeyPacker(s.codec, info.partialKeyProj())
	}
	if info.EnableSubPartStat {
		p.stats = make([][]int64, len(p.writers))
		for w := range p.stats {
			p.stats[w] = make([]int64, numSubPartitions)
		}
	}

	for w := range p.writers {
		input := w / numChildren
		part := newSpillPartition(input)
		pw := newPartitionWriter(s.seg, part, info.rowDesc(input, level+1))
		if info.IsAggregation() {
			// rows of this level are folded with this level's computers into the children's partial rows
			if err := pw.withAggTable(s.pool, level, info.aggShape(level, s.codec), s.pool.Capacity()/numChildren); err != nil {
				p.abandon()
				return nil, err
			}
		} else if other := 1 - input; info.UseJoinFilter[other] {
			p.filters[w] = NewJoinFilter()
		}
		p.partitions[w] = part
		p.writers[w] = pw
	}
	s.metrics.PartitionPasses.Inc()
	s.logger.Debug("partitioning",
		zap.String("operator", s.operator),
		zap.Int("node", int(p.id)),
		zap.Int("level", level),
		zap.Int64("tableKeys", s.table.NumKeys()),
		zap.Int64("tableRows", s.table.NumRows()),
		zap.Bool("balanced", node.subPartToChild != nil))
	return p, nil
}

// route writes one row of input to its child partition. fromTable marks rows drained from the hash table, which
// are already aggregated.
func (p *partitionPass) route(input int, t storage.Tuple, packer *keyPacker, fromTable bool) error {
	info := p.s.info
	key := packer.pack(t)
	if info.FilterNull[input] && packer.hasNull(key) {
		return nil
	}
	hash := packer.hash(key, partitionSeed(p.level+1))
	child := p.node.childIndex(hash)
	w := writerIndex(input, child)

	if !info.IsAggregation() {
		build := info.BuildInput()
		if input == build && p.node.joinFilter != nil && info.UseJoinFilter[build] {
			// the parent summarized this node's probe rows with this node's own partition hash
			if !p.node.joinFilter.MayContain(packer.hash(key, partitionSeed(p.level))) {
				p.node.filteredRows[input]++
				return nil
			}
		}
		if f := p.filters[writerIndex(build, child)]; input == probeInput && f != nil && !f.MayContain(hash) {
			p.node.filteredRows[input]++
			return nil
		}
	}

	var err error
	if info.IsAggregation() && !fromTable {
		err = p.writers[w].AggAndMarshalTuple(t, hash)
	} else {
		err = p.writers[w].MarshalTuple(t, hash)
	}
	if err != nil {
		return err
	}
	if p.stats != nil && input == info.BuildInput() {
		p.stats[w][packer.hash(key, partitionSeed(p.level+2))%numSubPartitions]++
	}
	if f := p.filters[w]; f != nil {
		f.Add(hash)
	}
	return nil
}

// drainTable moves the resident rows of the hash table to the children and releases the table, so that the
// writers of an aggregation can take their private tables.
func (p *partitionPass) drainTable() error {
	s := p.s
	r := s.tableReader
	r.BindAll()
	for {
		t, ok := r.Next()
		if !ok {
			break
		}
		if err := p.route(s.info.BuildInput(), t, p.memoryPacker, true); err != nil {
			return err
		}
	}
	s.table.ReleaseResources()
	for _, pw := range p.writers {
		if err := pw.AllocateResources(); err != nil {
			return err
		}
	}
	return nil
}

// run continues the pass until it is suspended by underflow or all rows are written.
func (p *partitionPass) run() (passResult, error) {
	s := p.s
	if !p.memoryDone {
		if err := p.drainTable(); err != nil {
			return 0, err
		}
		p.memoryDone = true
	}
	for {
		rd := s.readers[p.input]
		if rd == nil {
			rd = OpenPartitionReader(s.tree.Partition(p.id, p.input))
			s.readers[p.input] = rd
		}
		if rd.IsTupleConsumptionPending() {
			if err := p.route(p.input, rd.UnmarshalTuple(), p.packers[p.input], false); err != nil {
				return 0, err
			}
			rd.ConsumeTuple()
			continue
		}
		if rd.State() == BufferEOS {
			rd.Close()
			if p.input == probeInput {
				return passEndOfData, p.finish()
			}
			p.input = probeInput
			continue
		}
		ok, err := rd.DemandData()
		if err != nil {
			return 0, err
		}
		if !ok {
			return passUnderflow, nil
		}
	}
}

// finish seals the child partitions.
func (p *partitionPass) finish() error {
	var rows int64
	var pages int
	for _, pw := range p.writers {
		if err := pw.Close(); err != nil {
			return err
		}
		rows += pw.part.NumTuples()
		pages += pw.part.NumPages()
	}
	var filtered int64
	for _, n := range p.node.filteredRows {
		filtered += n
	}
	s := p.s
	s.metrics.SpilledRows.Add(float64(rows))
	s.metrics.SpilledPages.Add(float64(pages))
	s.metrics.FilteredRows.Add(float64(filtered))
	s.logger.Info("spilled partitions",
		zap.String("operator", s.operator),
		zap.Int("node", int(p.id)),
		zap.Int("level", p.level),
		zap.Int64("rows", rows),
		zap.String("size", humanize.IBytes(uint64(pages*common.PageSize))),
		zap.Int64("filteredRows", filtered))
	return nil
}

// probeFilters returns the filters handed down to the children, or nil.
func (p *partitionPass) probeFilters() []*JoinFilter {
	for w := 0; w < numChildren; w++ {
		if p.filters[writerIndex(probeInput, w)] != nil {
			return p.filters
		}
	}
	return nil
}

// abandon drops every child partition written so far.
func (p *partitionPass) abandon() {
	for _, pw := range p.writers {
		if pw != nil {
			pw.Abandon()
		}
	}
}
