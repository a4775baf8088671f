package storage

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/puzpuzpuz/xsync/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"mit.edu/dsg/hashexec/common"
)

// Wrappers around normal DBFile for testing purposes
type StatsDBFile struct {
	DBFile
	ReadCnt, WriteCnt atomic.Int64
}

func (f *StatsDBFile) ReadPage(pageNum int, frame []byte) error {
	f.ReadCnt.Add(1)
	return f.DBFile.ReadPage(pageNum, frame)
}

func (f *StatsDBFile) WritePage(pageNum int, frame []byte) error {
	f.WriteCnt.Add(1)
	return f.DBFile.WritePage(pageNum, frame)
}

type StatsDBFileManager struct {
	Inner DBFileManager
	Files *xsync.MapOf[common.ObjectID, *StatsDBFile]
}

func (m *StatsDBFileManager) GetDBFile(oid common.ObjectID) (DBFile, error) {
	if f, ok := m.Files.Load(oid); ok {
		return f, nil
	}
	realFile, err := m.Inner.GetDBFile(oid)
	if err != nil {
		return nil, err
	}
	statsFile := &StatsDBFile{DBFile: realFile}
	actual, _ := m.Files.LoadOrStore(oid, statsFile)
	return actual, nil
}

func (m *StatsDBFileManager) DeleteDBFile(oid common.ObjectID) error {
	m.Files.Delete(oid)
	return m.Inner.DeleteDBFile(oid)
}

func setupBufferPool(t *testing.T, numPages int) (*BufferPool, *StatsDBFileManager, string) {
	rootPath := t.TempDir()
	statsSm := &StatsDBFileManager{
		Inner: NewDiskStorageManager(rootPath, nil),
		Files: xsync.NewMapOf[common.ObjectID, *StatsDBFile](),
	}
	return NewBufferPool(numPages, statsSm), statsSm, rootPath
}

func createDummyFile(t *testing.T, bp *BufferPool, oid common.ObjectID, numPages int) *StatsDBFile {
	file, err := bp.StorageManager().GetDBFile(oid)
	require.NoError(t, err)

	_, err = file.AllocatePage(numPages)
	require.NoError(t, err)

	for i := 0; i < numPages; i++ {
		data := make([]byte, common.PageSize)
		copy(data, fmt.Sprintf("Page-%d", i))
		require.NoError(t, file.WritePage(i, data))
	}

	stats := file.(*StatsDBFile)
	stats.WriteCnt.Store(0)
	stats.ReadCnt.Store(0)
	return stats
}

// TestBufferPool_SimpleReadWrite checks that pages are read on first access, cached afterwards, and that only
// dirty pages are written back on eviction.
func TestBufferPool_SimpleReadWrite(t *testing.T) {
	bp, _, _ := setupBufferPool(t, 1)
	oid := common.ObjectID(1)
	stats := createDummyFile(t, bp, oid, 2)

	pid0 := common.PageID{Oid: oid, PageNum: 0}
	f1, err := bp.GetPage(pid0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.ReadCnt.Load(), "First access should read from disk")
	assert.True(t, bytes.HasPrefix(f1.Bytes[:], []byte("Page-0")))
	f2, err := bp.GetPage(pid0)
	require.NoError(t, err)
	assert.Same(t, f1, f2, "Second access should return the same frame")
	assert.Equal(t, int64(1), stats.ReadCnt.Load(), "Second access should be cached")
	bp.UnpinPage(f1, false)
	bp.UnpinPage(f2, false)

	pid1 := common.PageID{Oid: oid, PageNum: 1}
	f3, err := bp.GetPage(pid1)
	require.NoError(t, err)
	assert.Same(t, f2, f3, "Frames should be reused")
	assert.Equal(t, int64(0), stats.WriteCnt.Load(), "clean page should not be written to disk")
	assert.True(t, bytes.HasPrefix(f3.Bytes[:], []byte("Page-1")))

	copy(f3.Bytes[:], "DirtyData")
	bp.UnpinPage(f3, true)

	f4, err := bp.GetPage(pid0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.WriteCnt.Load(), "dirty pages should be written to disk")
	bp.UnpinPage(f4, false)

	f5, err := bp.GetPage(pid1)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(f5.Bytes[:], []byte("DirtyData")))
	bp.UnpinPage(f5, false)

	assert.Equal(t, BufferPoolStats{PagesRead: 4, PagesWritten: 1}, bp.Stats())
}

func TestBufferPool_FlushAll(t *testing.T) {
	bp, _, rootPath := setupBufferPool(t, 5)
	oid := common.ObjectID(50)
	stats := createDummyFile(t, bp, oid, 5)

	for i := 0; i < 3; i++ {
		f, err := bp.GetPage(common.PageID{Oid: oid, PageNum: int32(i)})
		require.NoError(t, err)
		copy(f.Bytes[:], fmt.Sprintf("FlushTest-%d", i))
		bp.UnpinPage(f, true)
	}

	pinned, err := bp.GetPage(common.PageID{Oid: oid, PageNum: 2})
	require.NoError(t, err)

	require.NoError(t, bp.FlushAllPages())
	assert.Equal(t, int64(3), stats.WriteCnt.Load(), "All dirty pages regardless of pin should be written to disk")

	fileBytes, err := os.ReadFile(filepath.Join(rootPath, fmt.Sprintf("spill_%d.dat", oid)))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		start := i * common.PageSize
		assert.True(t, bytes.HasPrefix(fileBytes[start:], []byte(fmt.Sprintf("FlushTest-%d", i))), "Page %d not flushed", i)
	}
	bp.UnpinPage(pinned, false)

	require.NoError(t, bp.FlushAllPages())
	assert.Equal(t, int64(3), stats.WriteCnt.Load(), "clean pages are not flushed twice")
}

func TestBufferPool_NewPageSkipsRead(t *testing.T) {
	bp, _, _ := setupBufferPool(t, 1)
	oid := common.ObjectID(3)
	stats := createDummyFile(t, bp, oid, 3)

	f, err := bp.NewPage(common.PageID{Oid: oid, PageNum: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.ReadCnt.Load(), "a new page is not read from disk")
	assert.Equal(t, make([]byte, common.PageSize), f.Bytes[:], "a new page starts zeroed")
	copy(f.Bytes[:], "fresh")
	bp.UnpinPage(f, false)

	// Evicting it must write it back since it was born dirty.
	other, err := bp.GetPage(common.PageID{Oid: oid, PageNum: 0})
	require.NoError(t, err)
	bp.UnpinPage(other, false)
	buf := make([]byte, common.PageSize)
	require.NoError(t, stats.DBFile.ReadPage(1, buf))
	assert.True(t, bytes.HasPrefix(buf, []byte("fresh")))
}

func TestBufferPool_DiscardSkipsWriteBack(t *testing.T) {
	bp, _, _ := setupBufferPool(t, 4)
	oid := common.ObjectID(4)
	stats := createDummyFile(t, bp, oid, 3)

	for i := int32(0); i < 3; i++ {
		f, err := bp.GetPage(common.PageID{Oid: oid, PageNum: i})
		require.NoError(t, err)
		copy(f.Bytes[:], "garbage")
		bp.UnpinPage(f, true)
	}
	bp.DiscardPage(common.PageID{Oid: oid, PageNum: 0})
	bp.DiscardFile(oid)
	require.NoError(t, bp.FlushAllPages())
	assert.Equal(t, int64(0), stats.WriteCnt.Load(), "discarded pages are dropped, not flushed")

	pinned, err := bp.GetPage(common.PageID{Oid: oid, PageNum: 1})
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(pinned.Bytes[:], []byte("Page-1")), "discarded contents never reached disk")
	assert.Panics(t, func() { bp.DiscardPage(common.PageID{Oid: oid, PageNum: 1}) }, "pinned pages cannot be discarded")
	bp.UnpinPage(pinned, false)
}

func TestBufferPool_FullPoolReturnsError(t *testing.T) {
	bp, _, _ := setupBufferPool(t, 2)
	oid := common.ObjectID(5)
	createDummyFile(t, bp, oid, 3)

	f0, err := bp.GetPage(common.PageID{Oid: oid, PageNum: 0})
	require.NoError(t, err)
	f1, err := bp.GetPage(common.PageID{Oid: oid, PageNum: 1})
	require.NoError(t, err)

	_, err = bp.GetPage(common.PageID{Oid: oid, PageNum: 2})
	require.Error(t, err)
	assert.True(t, common.IsErrorCode(err, common.BufferPoolFullError))

	bp.UnpinPage(f0, false)
	f2, err := bp.GetPage(common.PageID{Oid: oid, PageNum: 2})
	require.NoError(t, err)
	bp.UnpinPage(f1, false)
	bp.UnpinPage(f2, false)
}

// TestBufferPool_Concurrent_EvictionStorm has a few goroutines pin random pages of a working set larger than
// the pool, write a signature while pinned, and check it before unpinning. A frame evicted while pinned would
// show up as a signature mismatch.
func TestBufferPool_Concurrent_EvictionStorm(t *testing.T) {
	numPages := 24
	poolSize := 16
	bp, _, _ := setupBufferPool(t, poolSize)
	oid := common.ObjectID(100)
	createDummyFile(t, bp, oid, numPages)

	var wg sync.WaitGroup
	numThreads := 4
	opsPerThread := 5000
	for i := 0; i < numThreads; i++ {
		wg.Add(1)
		go func(tid int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(int64(tid)))
			for j := 0; j < opsPerThread; j++ {
				pid := common.PageID{Oid: oid, PageNum: int32(r.Intn(numPages))}
				f, err := bp.GetPage(pid)
				if !assert.NoError(t, err) {
					return
				}
				f.PageLatch.Lock()
				signature := []byte(fmt.Sprintf("T%d-%d", tid, j))
				copy(f.Bytes[:], signature)
				assert.True(t, bytes.HasPrefix(f.Bytes[:], signature), "Signature mismatch")
				f.PageLatch.Unlock()
				bp.UnpinPage(f, true)
			}
		}(i)
	}
	wg.Wait()
}
