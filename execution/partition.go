package execution

import (
	"encoding/binary"
	"fmt"

	hll "github.com/axiomhq/hyperloglog"
	"github.com/cockroachdb/errors"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/storage"
)

// Partition is the set of rows of one input that one plan node works on. The root partitions are the live
// inputs of the operator; every other partition is a run in the spill segment, written once by a
// PartitionWriter and read once by a PartitionReader.
type Partition struct {
	InputIndex int

	live InputBuffer
	run  *storage.SegmentRun

	numTuples int64
	// sketch estimates the number of distinct keys of the rows written, to size the hash table of the node that
	// reads the partition.
	sketch *hll.Sketch
}

func newLivePartition(input int, buf InputBuffer) *Partition {
	return &Partition{InputIndex: input, live: buf}
}

func newSpillPartition(input int) *Partition {
	return &Partition{InputIndex: input, sketch: hll.New()}
}

// IsLive reports whether the partition reads straight from the operator's input.
func (p *Partition) IsLive() bool {
	return p.live != nil
}

// NumTuples returns the number of rows in a spilled partition.
func (p *Partition) NumTuples() int64 {
	return p.numTuples
}

// NumPages returns the number of spill pages holding the partition.
func (p *Partition) NumPages() int {
	if p.run == nil {
		return 0
	}
	return p.run.NumPages()
}

// DistinctKeys returns the estimated number of distinct keys, or 0 if unknown.
func (p *Partition) DistinctKeys() int64 {
	if p.sketch == nil {
		return 0
	}
	return int64(p.sketch.Estimate())
}

// release frees the spill pages of the partition.
func (p *Partition) release() {
	if p.run != nil {
		p.run.Free()
	}
}

func (p *Partition) String() string {
	if p.IsLive() {
		return fmt.Sprintf("input%d(live)", p.InputIndex)
	}
	return fmt.Sprintf("input%d(%d rows, %d pages, ~%d keys)", p.InputIndex, p.numTuples, p.NumPages(), p.DistinctKeys())
}

// PartitionReader reads a partition front to back with the peek-then-consume protocol of InputBuffer: a tuple
// stays pending until ConsumeTuple, however many times it is looked at.
type PartitionReader struct {
	part    *Partition
	rd      *storage.SegmentReader
	pending bool
	eos     bool
	closed  bool
}

// OpenPartitionReader starts reading p.
func OpenPartitionReader(p *Partition) *PartitionReader {
	r := &PartitionReader{part: p}
	switch {
	case p.IsLive():
	case p.run == nil:
		r.eos = true
	default:
		r.rd = p.run.Open()
	}
	return r
}

// Partition returns the partition being read.
func (r *PartitionReader) Partition() *Partition {
	return r.part
}

func (r *PartitionReader) State() BufferState {
	if r.part.IsLive() {
		return r.part.live.State()
	}
	switch {
	case r.pending:
		return BufferReady
	case r.eos:
		return BufferEOS
	}
	return BufferUnderflow
}

// DemandData makes the next tuple pending if there is none. It returns false when a live input has nothing to
// offer right now; a spilled partition never underflows.
func (r *PartitionReader) DemandData() (bool, error) {
	common.Assert(!r.closed, "reading a closed partition")
	if r.part.IsLive() {
		if r.part.live.State() != BufferUnderflow {
			return true, nil
		}
		ok := r.part.live.RequestData()
		if err := r.part.live.Error(); err != nil {
			return false, errors.Wrapf(err, "reading input %d", r.part.InputIndex)
		}
		return ok, nil
	}
	if r.pending || r.eos {
		return true, nil
	}
	ok, err := r.rd.Next()
	if err != nil {
		return false, err
	}
	r.pending = ok
	r.eos = !ok
	return true, nil
}

func (r *PartitionReader) IsTupleConsumptionPending() bool {
	return r.State() == BufferReady
}

// UnmarshalTuple returns the pending tuple. It is valid until ConsumeTuple.
func (r *PartitionReader) UnmarshalTuple() storage.Tuple {
	if r.part.IsLive() {
		return r.part.live.Tuple()
	}
	common.Assert(r.pending, "no pending tuple")
	return r.rd.Current()
}

func (r *PartitionReader) ConsumeTuple() {
	if r.part.IsLive() {
		r.part.live.Consume()
		return
	}
	common.Assert(r.pending, "no pending tuple")
	r.pending = false
}

// Close ends the read and frees the spill pages of the partition, which is never read again.
func (r *PartitionReader) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.part.release()
}

// PartitionWriter writes the rows of one child partition to the spill segment. An aggregation writer folds rows
// into a private hash table first, so that each group reaches disk as one partial row per flush.
type PartitionWriter struct {
	part *Partition
	w    *storage.SegmentWriter

	table      *HashTable
	tableSlots int
	reader     *HashTableReader

	hashBuf [8]byte
	closed  bool
}

func newPartitionWriter(seg *storage.TempSegment, part *Partition, desc *storage.RawTupleDesc) *PartitionWriter {
	return &PartitionWriter{
		part: part,
		w:    seg.NewWriter(desc),
	}
}

// withAggTable gives the writer a private aggregation table. Its blocks are only taken by AllocateResources, once
// the parent's table has been released.
func (pw *PartitionWriter) withAggTable(pool *storage.BlockPool, level int, shape *tableShape, quota int) error {
	pw.table = NewHashTable(pool)
	if err := pw.table.Init(level, shape, quota); err != nil {
		return err
	}
	// a quarter of the quota for slots, as for any table
	pw.tableSlots = max(1, quota/4) * (pool.BlockSize() / slotEntrySize)
	return nil
}

// AllocateResources takes the blocks of the private aggregation table, if any.
func (pw *PartitionWriter) AllocateResources() error {
	if pw.table == nil {
		return nil
	}
	if !pw.table.AllocateResources(pw.tableSlots) {
		return common.NewExecError(common.ResourceAllocationError,
			"partition writer for input %d cannot get its table blocks", pw.part.InputIndex)
	}
	pw.reader = pw.table.NewReader()
	return nil
}

func (pw *PartitionWriter) observe(hash uint64) {
	binary.LittleEndian.PutUint64(pw.hashBuf[:], hash)
	pw.part.sketch.Insert(pw.hashBuf[:])
}

// MarshalTuple appends t. hash is the key hash used for the distinct-key estimate.
func (pw *PartitionWriter) MarshalTuple(t storage.Tuple, hash uint64) error {
	common.Assert(!pw.closed, "writing to a closed partition")
	pw.observe(hash)
	return pw.w.Append(t)
}

// AggAndMarshalTuple folds t into the private table. When the table is full its groups are flushed to disk and t
// is retried once against the empty table.
func (pw *PartitionWriter) AggAndMarshalTuple(t storage.Tuple, hash uint64) error {
	common.Assert(pw.table != nil && pw.reader != nil, "aggregating without a private table")
	pw.observe(hash)
	if pw.table.AddTuple(t) {
		return nil
	}
	if err := pw.flush(); err != nil {
		return err
	}
	if !pw.table.AddTuple(t) {
		return common.NewExecError(common.TupleTooWideError,
			"a single group does not fit into an empty partition table (%s)", pw.table)
	}
	return nil
}

func (pw *PartitionWriter) writeGroups() error {
	pw.reader.BindAll()
	for {
		t, ok := pw.reader.Next()
		if !ok {
			return nil
		}
		if err := pw.w.Append(t); err != nil {
			return err
		}
	}
}

// flush writes every group of the private table and empties it.
func (pw *PartitionWriter) flush() error {
	if err := pw.writeGroups(); err != nil {
		return err
	}
	slots := pw.table.NumSlots()
	pw.table.ReleaseResources()
	if !pw.table.AllocateResources(slots) {
		return common.NewExecError(common.ResourceAllocationError, "partition table lost its blocks while flushing")
	}
	return nil
}

// Close flushes the private table and seals the run into the partition.
func (pw *PartitionWriter) Close() error {
	if pw.closed {
		return nil
	}
	if pw.table != nil && pw.reader != nil {
		if err := pw.writeGroups(); err != nil {
			return err
		}
		pw.table.ReleaseResources()
	}
	pw.closed = true
	pw.part.run = pw.w.Close()
	pw.part.numTuples = pw.part.run.NumTuples()
	return nil
}

// Abandon drops everything written so far.
func (pw *PartitionWriter) Abandon() {
	if pw.table != nil {
		pw.table.ReleaseResources()
	}
	if !pw.closed {
		pw.closed = true
		pw.w.Abandon()
	}
	pw.part.release()
}

// NumTuples returns the rows written to disk so far.
func (pw *PartitionWriter) NumTuples() int64 {
	return pw.w.NumTuples()
}
