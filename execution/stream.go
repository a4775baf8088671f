package execution

import (
	"context"
	"math"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/config"
	"mit.edu/dsg/hashexec/storage"
)

// StreamOption customizes a HashJoinStream or HashAggStream.
type StreamOption func(*streamBase)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) StreamOption {
	return func(s *streamBase) {
		s.logger = common.LoggerOrNop(l)
	}
}

// WithMetrics sets the metrics the stream updates. The default is a private unregistered set.
func WithMetrics(m *Metrics) StreamOption {
	return func(s *streamBase) {
		s.metrics = m
	}
}

// streamBase is the machinery shared by the join and aggregation drivers: resources, the spill segment, the
// plan tree, the hash table of the current plan node and the readers of its partitions.
type streamBase struct {
	operator     string
	info         *HashInfo
	cfg          config.Config
	logger       *zap.Logger
	metrics      *Metrics
	request      ResourceRequest
	rootEstimate int64
	ioReserve    int
	allocPages   int

	ctx         context.Context
	dsm         *storage.DiskDBFileManager
	bp          *storage.BufferPool
	seg         *storage.TempSegment
	pool        *storage.BlockPool
	codec       *keyCodec
	tree        *PlanTree
	cur         planID
	table       *HashTable
	tableReader *HashTableReader
	readers     []*PartitionReader
	pass        *partitionPass

	out        OutputBuffer
	outDesc    *storage.RawTupleDesc
	outBuf     []byte
	pendingOut storage.Tuple
	produced   int
	eosMarked  bool
	opened     bool
}

func (s *streamBase) applyOptions(operator string, opts []StreamOption) {
	s.operator = operator
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.metrics == nil {
		s.metrics = NewMetrics(nil, operator)
	}
}

// ResourceRequirements returns the minimum and optimal page budgets.
func (s *streamBase) ResourceRequirements() ResourceRequest {
	return s.request
}

// SetResourceAllocation fixes the page budget: ioReserve pages of buffer pool for spill I/O, the rest as hash
// table blocks. It fails with ResourceAllocationError below the minimum.
func (s *streamBase) SetResourceAllocation(pages int) error {
	if pages < s.request.Min {
		return common.NewExecError(common.ResourceAllocationError,
			"%s needs at least %d pages, got %d", s.operator, s.request.Min, pages)
	}
	s.allocPages = pages
	return nil
}

func (s *streamBase) cachePages() int {
	return s.allocPages - s.ioReserve
}

func (s *streamBase) openBase(ctx context.Context, live []InputBuffer, out OutputBuffer, outTypes []common.Type) error {
	if s.allocPages == 0 {
		if err := s.SetResourceAllocation(pagesFor(s.request, s.cfg.CachePages)); err != nil {
			return err
		}
	}
	for i, b := range live {
		if !b.Desc().Equals(s.info.InputDescs[i]) {
			return common.NewExecError(common.SchemaMismatchError,
				"input %d delivers %s, expected %s", i, b.Desc(), s.info.InputDescs[i])
		}
	}

	s.ctx = ctx
	s.dsm = storage.NewDiskStorageManager(s.cfg.TempDir, s.logger)
	s.bp = storage.NewBufferPool(s.ioReserve, s.dsm)
	seg, err := storage.NewTempSegment(s.bp)
	if err != nil {
		return err
	}
	s.seg = seg
	s.pool = storage.NewBlockPool(s.cachePages(), common.PageSize)
	s.codec = s.info.newCodec()

	root := make([]*Partition, len(live))
	for i, b := range live {
		root[i] = newLivePartition(i, b)
	}
	s.tree = NewPlanTree(root)
	s.table = NewHashTable(s.pool)
	s.readers = make([]*PartitionReader, s.info.NumInputs)

	s.out = out
	s.outDesc = storage.NewRawTupleDesc(outTypes)
	s.outBuf = make([]byte, s.outDesc.BytesPerTuple())
	s.produced = 0
	s.eosMarked = false
	s.opened = true

	s.logger.Debug("opening",
		zap.String("operator", s.operator),
		zap.Int("pages", s.allocPages),
		zap.String("tableMemory", humanize.IBytes(uint64(s.cachePages()*common.PageSize))),
		zap.Int("ioReserve", s.ioReserve))
	return s.enterNode(s.tree.Root())
}

// enterNode makes id the current plan node: a fresh table sized for its build partition and a reader over it.
func (s *streamBase) enterNode(id planID) error {
	s.cur = id
	level := s.tree.Level(id)
	build := s.info.BuildInput()

	s.table.ReleaseResources()
	if err := s.table.Init(level, s.info.tableShape(level, s.codec), s.pool.Capacity()); err != nil {
		return err
	}
	ndv := s.rootEstimate
	if level > 0 {
		ndv = s.tree.Partition(id, build).DistinctKeys()
	}
	slots := math.MaxInt32
	if ndv > 0 {
		slots = SlotsNeeded(ndv)
	}
	if !s.table.AllocateResources(slots) {
		return common.NewExecError(common.ResourceAllocationError,
			"%s cannot allocate a hash table of %d blocks", s.operator, minTableBlocks)
	}
	s.tableReader = s.table.NewReader()
	for i := range s.readers {
		s.readers[i] = nil
	}
	s.readers[build] = OpenPartitionReader(s.tree.Partition(id, build))
	return nil
}

// planEvent tells whether the current node builds or partitions right away.
func (s *streamBase) planEvent() event {
	if s.tree.Level(s.cur) < s.info.ForcePartitionLevel {
		return evPlanForced
	}
	return evPlanReady
}

func (s *streamBase) checkAbort() error {
	if err := s.ctx.Err(); err != nil {
		return common.NewExecError(common.AbortedError, "%s aborted: %v", s.operator, err)
	}
	return nil
}

func (s *streamBase) startPartition() error {
	p, err := newPartitionPass(s)
	if err != nil {
		return err
	}
	s.pass = p
	return nil
}

// runPartition continues the current pass. It returns true on underflow.
func (s *streamBase) runPartition() (bool, error) {
	res, err := s.pass.run()
	if err != nil {
		return false, err
	}
	return res == passUnderflow, nil
}

// createChildPlan attaches the children written by the finished pass and enters the first one.
func (s *streamBase) createChildPlan() error {
	p := s.pass
	s.pass = nil
	ids := s.tree.createChildren(s.cur, p.partitions, p.stats, p.probeFilters(), s.info.BuildInput())
	s.tree.Release(s.cur)
	if err := s.checkAbort(); err != nil {
		return err
	}
	return s.enterNode(ids[0])
}

func (s *streamBase) closeReaders() {
	for i, r := range s.readers {
		if r != nil {
			r.Close()
			s.readers[i] = nil
		}
	}
}

// nextPlan releases the current leaf and enters the next one. It returns false after the last leaf.
func (s *streamBase) nextPlan() (bool, error) {
	s.closeReaders()
	s.tree.Release(s.cur)
	if err := s.checkAbort(); err != nil {
		return false, err
	}
	next := s.tree.NextLeaf(s.cur)
	if next == noPlan {
		s.table.ReleaseResources()
		return false, nil
	}
	return true, s.enterNode(next)
}

// produce hands the pending output row to the consumer.
func (s *streamBase) produce() bool {
	if !s.out.Produce(s.pendingOut) {
		return false
	}
	s.produced++
	s.metrics.RowsProduced.Inc()
	return true
}

func (s *streamBase) markEOS() {
	if !s.eosMarked {
		s.eosMarked = true
		s.out.MarkEOS()
	}
}

// closeBase releases everything the stream holds. It is idempotent.
func (s *streamBase) closeBase() error {
	if !s.opened {
		return nil
	}
	s.opened = false
	if s.pass != nil {
		s.pass.abandon()
		s.pass = nil
	}
	s.closeReaders()
	s.table.ReleaseResources()
	s.tree.ReleaseAll()

	s.metrics.MaxLevel.Set(float64(s.tree.MaxLevel()))
	s.metrics.PeakTableBlocks.Set(float64(s.pool.Peak()))
	s.logger.Debug("closing",
		zap.String("operator", s.operator),
		zap.Int("planNodes", s.tree.NumNodes()),
		zap.Int("maxLevel", s.tree.MaxLevel()),
		zap.Int("peakBlocks", s.pool.Peak()),
		zap.Stringer("plan", s.tree))
	return s.seg.Close()
}

// fail releases everything after a fatal error inside Execute.
func (s *streamBase) fail(err error) error {
	if cerr := s.closeBase(); cerr != nil {
		s.logger.Warn("cleanup after failure", zap.String("operator", s.operator), zap.Error(cerr))
	}
	return err
}
