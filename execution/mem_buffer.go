package execution

import (
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/storage"
)

// MemInputBuffer is an InputBuffer over rows held in memory. Rows are released to the reader in chunks: each
// RequestData makes the next chunk visible, and the buffer reports BufferUnderflow between chunks. With stall set,
// every other RequestData returns false without progress, simulating a producer that is not ready yet.
type MemInputBuffer struct {
	desc      *storage.RawTupleDesc
	rows      []storage.Tuple
	chunkSize int
	stall     bool
	stalled   bool

	requested bool
	visible   int // rows [0, visible) have been released to the reader
	pos       int
}

// NewMemInputBuffer serializes rows into a buffer laid out by types. A chunkSize <= 0 releases everything on the
// first RequestData.
func NewMemInputBuffer(types []common.Type, rows [][]common.Value, chunkSize int) *MemInputBuffer {
	desc := storage.NewRawTupleDesc(types)
	b := &MemInputBuffer{
		desc:      desc,
		rows:      make([]storage.Tuple, len(rows)),
		chunkSize: chunkSize,
	}
	if b.chunkSize <= 0 {
		b.chunkSize = max(len(rows), 1)
	}
	for i, r := range rows {
		t := storage.FromValues(r...)
		b.rows[i] = t.DeepCopy(desc)
	}
	return b
}

// WithStall makes every other RequestData fail, so that the engine sees underflow even with rows remaining.
func (b *MemInputBuffer) WithStall() *MemInputBuffer {
	b.stall = true
	return b
}

// Reset rewinds the buffer so that the same rows can be read again.
func (b *MemInputBuffer) Reset() {
	b.requested = false
	b.visible = 0
	b.pos = 0
	b.stalled = false
}

func (b *MemInputBuffer) Desc() *storage.RawTupleDesc {
	return b.desc
}

func (b *MemInputBuffer) State() BufferState {
	if b.pos < b.visible {
		return BufferReady
	}
	if b.requested && b.visible == len(b.rows) {
		return BufferEOS
	}
	return BufferUnderflow
}

func (b *MemInputBuffer) Tuple() storage.Tuple {
	common.Assert(b.pos < b.visible, "no tuple available")
	return b.rows[b.pos]
}

func (b *MemInputBuffer) Consume() {
	common.Assert(b.pos < b.visible, "consuming past the visible rows")
	b.pos++
}

func (b *MemInputBuffer) RequestData() bool {
	if b.pos < b.visible {
		return true
	}
	if b.stall {
		b.stalled = !b.stalled
		if b.stalled {
			return false
		}
	}
	b.requested = true
	b.visible = min(b.visible+b.chunkSize, len(b.rows))
	return true
}

func (b *MemInputBuffer) Error() error {
	return nil
}

// MemOutputBuffer collects produced rows in memory. With a positive capacity it refuses rows once that many are
// held, until Drain empties it.
type MemOutputBuffer struct {
	desc     *storage.RawTupleDesc
	capacity int
	rows     []storage.Tuple
	eos      bool
}

// NewMemOutputBuffer creates an output buffer for rows of the given types. capacity <= 0 means unbounded.
func NewMemOutputBuffer(types []common.Type, capacity int) *MemOutputBuffer {
	return &MemOutputBuffer{
		desc:     storage.NewRawTupleDesc(types),
		capacity: capacity,
	}
}

func (b *MemOutputBuffer) Produce(t storage.Tuple) bool {
	common.Assert(!b.eos, "producing after EOS")
	if b.capacity > 0 && len(b.rows) >= b.capacity {
		return false
	}
	b.rows = append(b.rows, t.DeepCopy(b.desc))
	return true
}

func (b *MemOutputBuffer) MarkEOS() {
	b.eos = true
}

// EOS reports whether MarkEOS was called.
func (b *MemOutputBuffer) EOS() bool {
	return b.eos
}

// Len returns the number of rows held.
func (b *MemOutputBuffer) Len() int {
	return len(b.rows)
}

// Drain returns the rows held and empties the buffer.
func (b *MemOutputBuffer) Drain() []storage.Tuple {
	rows := b.rows
	b.rows = nil
	return rows
}
