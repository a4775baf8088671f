package storage

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"
	"mit.edu/dsg/hashexec/common"
)

// Every run page starts with a small header followed by fixed-width tuples; a tuple never straddles two pages.
//
//	[0:4) bytes used on the page, header included
//	[4:8) number of tuples on the page
const runPageHeaderSize = 8

// TuplesPerRunPage returns how many tuples of the given layout fit on one run page.
func TuplesPerRunPage(desc *RawTupleDesc) int {
	return (common.PageSize - runPageHeaderSize) / desc.BytesPerTuple()
}

// SegmentRun is a sequence of tuples written once into pages of a TempSegment. It is read back sequentially,
// at most once, and its pages are returned to the segment by Free.
type SegmentRun struct {
	seg       *TempSegment
	desc      *RawTupleDesc
	pages     []int32
	numTuples int64
	freed     bool
}

// Desc returns the layout of the tuples in the run.
func (r *SegmentRun) Desc() *RawTupleDesc {
	return r.desc
}

// NumTuples returns the number of tuples in the run.
func (r *SegmentRun) NumTuples() int64 {
	return r.numTuples
}

// NumPages returns the number of pages holding the run.
func (r *SegmentRun) NumPages() int {
	return len(r.pages)
}

// Free hands the pages of the run back to its segment. It is idempotent.
func (r *SegmentRun) Free() {
	if r.freed {
		return
	}
	r.freed = true
	r.seg.freePages(r.pages)
	r.pages = nil
}

// SegmentWriter appends tuples to a new run. It keeps the page it is filling pinned in the buffer pool, so every
// open writer holds one frame.
type SegmentWriter struct {
	run     *SegmentRun
	frame   *PageFrame
	count   int
	perPage int
	closed  bool
}

// NewWriter starts a new run of tuples laid out by desc.
func (s *TempSegment) NewWriter(desc *RawTupleDesc) *SegmentWriter {
	perPage := TuplesPerRunPage(desc)
	common.Assert(perPage > 0, "tuple of %d bytes does not fit on a run page", desc.BytesPerTuple())
	return &SegmentWriter{
		run:     &SegmentRun{seg: s, desc: desc},
		perPage: perPage,
	}
}

// NumTuples returns the number of tuples appended so far.
func (w *SegmentWriter) NumTuples() int64 {
	return w.run.numTuples
}

func (w *SegmentWriter) sealPage() {
	if w.frame == nil {
		return
	}
	w.frame.PageLatch.Lock()
	binary.LittleEndian.PutUint32(w.frame.Bytes[0:], uint32(runPageHeaderSize+w.count*w.run.desc.BytesPerTuple()))
	binary.LittleEndian.PutUint32(w.frame.Bytes[4:], uint32(w.count))
	w.frame.PageLatch.Unlock()
	w.run.seg.bp.UnpinPage(w.frame, true)
	w.frame = nil
}

func (w *SegmentWriter) nextPage() error {
	w.sealPage()
	seg := w.run.seg
	pageNum, err := seg.allocPage()
	if err != nil {
		return err
	}
	frame, err := seg.bp.NewPage(common.PageID{Oid: seg.oid, PageNum: pageNum})
	if err != nil {
		seg.freePages([]int32{pageNum})
		return errors.Wrapf(err, "pinning page for run in segment %d", seg.oid)
	}
	w.run.pages = append(w.run.pages, pageNum)
	w.frame = frame
	w.count = 0
	return nil
}

// Append serializes t at the end of the run.
func (w *SegmentWriter) Append(t Tuple) error {
	common.Assert(!w.closed, "appending to a closed run writer")
	if w.frame == nil || w.count == w.perPage {
		if err := w.nextPage(); err != nil {
			return err
		}
	}
	size := w.run.desc.BytesPerTuple()
	off := runPageHeaderSize + w.count*size
	w.frame.PageLatch.Lock()
	t.WriteToBuffer(w.frame.Bytes[off:off+size], w.run.desc)
	w.frame.PageLatch.Unlock()
	w.count++
	w.run.numTuples++
	return nil
}

// Close seals the last page and returns the finished run.
func (w *SegmentWriter) Close() *SegmentRun {
	if !w.closed {
		w.sealPage()
		w.closed = true
	}
	return w.run
}

// Abandon closes the writer and frees everything it wrote.
func (w *SegmentWriter) Abandon() {
	w.Close().Free()
}

// SegmentReader iterates a run once, front to back. It copies one page at a time out of the buffer pool and
// drops the cached page right away, since run pages are never read twice. Tuples returned by Current point into
// the reader's page copy and stay valid until Next moves to another page.
type SegmentReader struct {
	run     *SegmentRun
	page    []byte
	pageIdx int
	count   int
	slot    int
	current Tuple
}

// Open returns a reader positioned before the first tuple of the run.
func (r *SegmentRun) Open() *SegmentReader {
	common.Assert(!r.freed, "opening a freed run")
	return &SegmentReader{
		run:     r,
		page:    make([]byte, common.PageSize),
		pageIdx: -1,
	}
}

func (rd *SegmentReader) loadPage(idx int) error {
	seg := rd.run.seg
	pid := common.PageID{Oid: seg.oid, PageNum: rd.run.pages[idx]}
	frame, err := seg.bp.GetPage(pid)
	if err != nil {
		return errors.Wrapf(err, "reading run page %s", pid.String())
	}
	frame.PageLatch.RLock()
	copy(rd.page, frame.Bytes[:])
	frame.PageLatch.RUnlock()
	seg.bp.UnpinPage(frame, false)
	seg.bp.DiscardPage(pid)

	used := int(binary.LittleEndian.Uint32(rd.page[0:]))
	rd.count = int(binary.LittleEndian.Uint32(rd.page[4:]))
	if used != runPageHeaderSize+rd.count*rd.run.desc.BytesPerTuple() || used > common.PageSize {
		return errors.AssertionFailedf("corrupt run page %s: %d bytes used for %d tuples", pid.String(), used, rd.count)
	}
	rd.pageIdx = idx
	rd.slot = 0
	return nil
}

// Next advances to the next tuple. It returns false at the end of the run.
func (rd *SegmentReader) Next() (bool, error) {
	for rd.pageIdx < 0 || rd.slot >= rd.count {
		if rd.pageIdx+1 >= len(rd.run.pages) {
			rd.current = Tuple{}
			return false, nil
		}
		if err := rd.loadPage(rd.pageIdx + 1); err != nil {
			return false, err
		}
	}
	size := rd.run.desc.BytesPerTuple()
	off := runPageHeaderSize + rd.slot*size
	rd.current = FromRawTuple(rd.page[off:off+size], rd.run.desc)
	rd.slot++
	return true, nil
}

// Current returns the tuple most recently read by Next.
func (rd *SegmentReader) Current() Tuple {
	return rd.current
}
