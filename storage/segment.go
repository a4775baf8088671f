package storage

import (
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/btree"
	"mit.edu/dsg/hashexec/common"
)

// Pages are added to a segment file this many at a time.
const segmentExtentPages = 8

// Temp object ids are process-unique so that several segments can share one spill directory.
var nextTempObjectID atomic.Uint32

// TempSegment is a page-granular scratch area backed by one spill file. Runs of tuples are written into pages
// allocated from the segment and their pages are handed back when the run is consumed; freed pages are reused
// lowest-first so the file stays compact. All page I/O goes through the shared BufferPool.
type TempSegment struct {
	oid        common.ObjectID
	bp         *BufferPool
	file       DBFile
	free       *btree.BTreeG[int32]
	numPages   int
	pagesInUse int
	closed     bool
}

// NewTempSegment creates an empty segment with a fresh spill file.
func NewTempSegment(bp *BufferPool) (*TempSegment, error) {
	oid := common.ObjectID(nextTempObjectID.Add(1))
	file, err := bp.StorageManager().GetDBFile(oid)
	if err != nil {
		return nil, errors.Wrap(err, "creating temp segment")
	}
	return &TempSegment{
		oid:  oid,
		bp:   bp,
		file: file,
		free: btree.NewBTreeGOptions(func(a, b int32) bool { return a < b }, btree.Options{NoLocks: true}),
	}, nil
}

// ObjectID returns the id of the spill file backing the segment.
func (s *TempSegment) ObjectID() common.ObjectID {
	return s.oid
}

// BufferPool returns the pool all page I/O of the segment goes through.
func (s *TempSegment) BufferPool() *BufferPool {
	return s.bp
}

// NumPages returns the size of the segment file in pages.
func (s *TempSegment) NumPages() int {
	return s.numPages
}

// PagesInUse returns the number of pages currently owned by runs.
func (s *TempSegment) PagesInUse() int {
	return s.pagesInUse
}

func (s *TempSegment) allocPage() (int32, error) {
	common.Assert(!s.closed, "allocating from a closed segment")
	if pageNum, ok := s.free.PopMin(); ok {
		s.pagesInUse++
		return pageNum, nil
	}
	start, err := s.file.AllocatePage(segmentExtentPages)
	if err != nil {
		return 0, err
	}
	s.numPages += segmentExtentPages
	for i := start + 1; i < start+segmentExtentPages; i++ {
		s.free.Set(int32(i))
	}
	s.pagesInUse++
	return int32(start), nil
}

func (s *TempSegment) freePages(pages []int32) {
	if s.closed {
		return
	}
	for _, pageNum := range pages {
		s.bp.DiscardPage(common.PageID{Oid: s.oid, PageNum: pageNum})
		_, replaced := s.free.Set(pageNum)
		common.Assert(!replaced, "page %d freed twice", pageNum)
		s.pagesInUse--
	}
}

// Close drops every cached page of the segment and deletes its spill file. Runs of a closed segment must not be
// read again. Close is idempotent.
func (s *TempSegment) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.bp.DiscardFile(s.oid)
	s.free.Clear()
	s.pagesInUse = 0
	return s.bp.StorageManager().DeleteDBFile(s.oid)
}
