package storage

import (
	"runtime"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v3"
	"mit.edu/dsg/hashexec/common"
)

// Number of second-chance passes after which the ref bit is ignored.
const maxScanSize = 64

// Amount of entries we loop through before yielding to avoid busy loop
const strideSize = 64

// BufferPool caches spill pages between the DBFileManager and memory. It has a fixed number of frames, which is
// the I/O reserve negotiated by the engine: open partition writers keep their current page pinned, readers pin a
// page only while copying it out. Dirty pages are written back when evicted.
//
// All methods are thread-safe. Frames carry their own latch and metadata mutex; the page table is a concurrent map.
type BufferPool struct {
	storageManager DBFileManager
	frames         []PageFrame
	clockHand      uint64
	pageTable      *xsync.MapOf[common.PageID, *PageFrame]

	pagesRead    atomic.Int64
	pagesWritten atomic.Int64
}

// BufferPoolStats counts the physical page I/O performed by a BufferPool.
type BufferPoolStats struct {
	PagesRead    int64
	PagesWritten int64
}

// NewBufferPool creates a new BufferPool with a fixed capacity defined by numPages. It requires a
// storageManager to handle the underlying disk I/O operations.
func NewBufferPool(numPages int, storageManager DBFileManager) *BufferPool {
	common.Assert(numPages > 0, "buffer pool needs at least one frame")
	return &BufferPool{
		storageManager: storageManager,
		frames:         make([]PageFrame, numPages),
		clockHand:      0,
		pageTable:      xsync.NewMapOf[common.PageID, *PageFrame](),
	}
}

// StorageManager returns the underlying disk manager.
func (bp *BufferPool) StorageManager() DBFileManager {
	return bp.storageManager
}

// NumFrames returns the capacity of the pool in pages.
func (bp *BufferPool) NumFrames() int {
	return len(bp.frames)
}

// Stats returns the number of pages read from and written to disk so far.
func (bp *BufferPool) Stats() BufferPoolStats {
	return BufferPoolStats{
		PagesRead:    bp.pagesRead.Load(),
		PagesWritten: bp.pagesWritten.Load(),
	}
}

func tryTouchPage(frame *PageFrame, pageID common.PageID) bool {
	frame.Lock()
	defer frame.Unlock()
	// Another thread may have evicted the page after we grabbed this frame but before we locked it.
	if frame.pageID != pageID {
		return false
	}
	frame.pinCount++
	frame.refBit = true
	return true
}

// findVictim runs the clock until it finds an unpinned frame, which is returned LOCKED. If a full sweep of the
// clock sees nothing but pinned frames, the pool is exhausted and BufferPoolFullError is returned.
func (bp *BufferPool) findVictim() (*PageFrame, error) {
	numFrames := uint64(len(bp.frames))
	numIters := 0
	consecutivePinned := uint64(0)
	for {
		for i := uint64(0); i < strideSize; i++ {
			idx := atomic.AddUint64(&bp.clockHand, 1) % numFrames

			frame := &bp.frames[idx]
			if !frame.TryLock() {
				continue
			}

			if frame.pinCount > 0 {
				frame.Unlock()
				consecutivePinned++
				if consecutivePinned >= numFrames {
					return nil, common.NewExecError(common.BufferPoolFullError,
						"all %d spill buffer frames are pinned", numFrames)
				}
				continue
			}
			consecutivePinned = 0

			// Stop respecting the ref bit if we have scanned for a while and couldn't find a victim
			if numIters >= maxScanSize || !frame.refBit {
				return frame, nil
			}

			// Second chance: clear refBit, unlock, and move on
			frame.refBit = false
			frame.Unlock()
			numIters++
		}
		runtime.Gosched()
	}
}

func (bp *BufferPool) evict(victim *PageFrame) error {
	// victim should be passed in LOCKED
	if victim.pageID.IsNil() || !victim.dirty {
		return nil
	}
	// Flush the page while holding the latch so others cannot concurrently load it
	file, err := bp.storageManager.GetDBFile(victim.pageID.Oid)
	if err != nil {
		return err
	}
	if err = file.WritePage(int(victim.pageID.PageNum), victim.Bytes[:]); err != nil {
		return err
	}
	bp.pagesWritten.Add(1)
	victim.dirty = false
	return nil
}

// installPage maps pageID to a victim frame and pins it. When load is true the frame is filled from disk,
// otherwise it is zeroed and marked dirty (a brand-new page whose on-disk contents are irrelevant).
func (bp *BufferPool) installPage(pageID common.PageID, load bool) (*PageFrame, error) {
	for {
		if frame, ok := bp.pageTable.Load(pageID); ok {
			if tryTouchPage(frame, pageID) {
				if !load {
					frame.Lock()
					clear(frame.Bytes[:])
					frame.dirty = true
					frame.Unlock()
				}
				return frame, nil
			}
			continue
		}

		file, err := bp.storageManager.GetDBFile(pageID.Oid)
		if err != nil {
			return nil, err
		}

		victimFrame, err := bp.findVictim()
		if err != nil {
			return nil, err
		}

		// Only the thread that installs its victim as the official frame for pageID loads the page.
		actualFrame, loaded := bp.pageTable.LoadOrStore(pageID, victimFrame)
		if loaded {
			victimFrame.Unlock()
			if tryTouchPage(actualFrame, pageID) {
				return actualFrame, nil
			}
			continue
		}

		if err = bp.evict(victimFrame); err != nil {
			victimFrame.Unlock()
			bp.pageTable.Delete(pageID)
			return nil, err
		}

		// Evict AFTER flushing so we don't read the page from disk while flushing it
		if !victimFrame.pageID.IsNil() {
			bp.pageTable.Delete(victimFrame.pageID)
		}

		if load {
			if err = file.ReadPage(int(pageID.PageNum), victimFrame.Bytes[:]); err != nil {
				victimFrame.pageID = common.PageID{}
				victimFrame.Unlock()
				bp.pageTable.Delete(pageID)
				return nil, err
			}
			bp.pagesRead.Add(1)
		} else {
			clear(victimFrame.Bytes[:])
		}

		victimFrame.pageID = pageID
		victimFrame.pinCount = 1
		// Do not initially set the ref bit -- only on second access do we consider it a true hot page
		victimFrame.refBit = false
		victimFrame.dirty = !load
		victimFrame.Unlock()
		return victimFrame, nil
	}
}

// GetPage retrieves a page from the buffer pool, ensuring it is pinned (i.e. prevented from eviction until
// unpinned) and ready for use. If the page is not present, a victim frame is evicted (written back if dirty) and
// the page is read from disk.
func (bp *BufferPool) GetPage(pageID common.PageID) (*PageFrame, error) {
	return bp.installPage(pageID, true)
}

// NewPage pins a zeroed frame for a page that was just allocated in its file, skipping the disk read. The frame
// starts dirty so its contents reach disk on eviction or flush.
func (bp *BufferPool) NewPage(pageID common.PageID) (*PageFrame, error) {
	return bp.installPage(pageID, false)
}

// UnpinPage indicates that the caller is done using a page. It unpins the page, making the page potentially evictable
// if no other thread is accessing it. If the setDirty flag is true, the page is marked as modified, ensuring
// it will be written back to disk before eviction.
func (bp *BufferPool) UnpinPage(frame *PageFrame, setDirty bool) {
	frame.Lock()
	defer frame.Unlock()

	common.Assert(frame.pinCount > 0, "attempting to unpin a page that is not pinned")
	frame.pinCount--
	if setDirty {
		frame.dirty = true
	}
}

// DiscardPage drops a cached page without writing it back. The page must not be pinned. It is used when the
// contents of a spill page are dead (its run was consumed).
func (bp *BufferPool) DiscardPage(pageID common.PageID) {
	frame, ok := bp.pageTable.Load(pageID)
	if !ok {
		return
	}
	frame.Lock()
	defer frame.Unlock()
	if frame.pageID != pageID {
		return
	}
	common.Assert(frame.pinCount == 0, "discarding pinned page %s", pageID.String())
	bp.pageTable.Delete(pageID)
	frame.pageID = common.PageID{}
	frame.dirty = false
	frame.refBit = false
}

// DiscardFile drops every cached page of the given object without writing anything back.
func (bp *BufferPool) DiscardFile(oid common.ObjectID) {
	var pages []common.PageID
	bp.pageTable.Range(func(key common.PageID, _ *PageFrame) bool {
		if key.Oid == oid {
			pages = append(pages, key)
		}
		return true
	})
	for _, pid := range pages {
		bp.DiscardPage(pid)
	}
}

// FlushAllPages writes every dirty page to disk, regardless of pins.
func (bp *BufferPool) FlushAllPages() error {
	for i := 0; i < len(bp.frames); i++ {
		frame := &bp.frames[i]
		frame.Lock()

		if frame.pageID.IsNil() || !frame.dirty {
			frame.Unlock()
			continue
		}

		// Flush under Read latch and pin to avoid concurrent modification or eviction
		frame.pinCount++
		pageID := frame.pageID
		frame.PageLatch.RLock()
		frame.Unlock()

		err := bp.flushFrame(frame, pageID)

		frame.Lock()
		common.Assert(frame.pageID == pageID, "pageID should not change during flush")
		frame.pinCount--
		if err == nil {
			frame.dirty = false
		}
		frame.PageLatch.RUnlock()
		frame.Unlock()
		if err != nil {
			return err
		}
	}
	return nil
}

func (bp *BufferPool) flushFrame(frame *PageFrame, pageID common.PageID) error {
	file, err := bp.storageManager.GetDBFile(pageID.Oid)
	if err != nil {
		return err
	}
	if err = file.WritePage(int(pageID.PageNum), frame.Bytes[:]); err != nil {
		return err
	}
	bp.pagesWritten.Add(1)
	return nil
}
