package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
	"mit.edu/dsg/hashexec/common"
)

// DiskDBFile implements the DBFile interface using a standard OS file.
type DiskDBFile struct {
	file *os.File
	// numPages is a cached value of the file size (in pages) to avoid stat() syscalls on every read.
	// It is updated atomically after physical allocation.
	numPages atomic.Int32
	// allocMu serializes file expansion operations (Truncate).
	allocMu sync.Mutex
}

// NewDiskDBFile creates a new DiskDBFile wrapper around an already open OS file.
// It initializes the page count based on the current file size.
func NewDiskDBFile(file *os.File) (*DiskDBFile, error) {
	stat, err := file.Stat()
	if err != nil {
		return nil, errors.Wrapf(err, "stat %s", file.Name())
	}

	dbFile := &DiskDBFile{
		file: file,
	}
	// The file size is always a multiple of PageSize.
	dbFile.numPages.Store(int32(stat.Size() / int64(common.PageSize)))
	return dbFile, nil
}

// AllocatePage grows the underlying file by `numPages` pages.
func (f *DiskDBFile) AllocatePage(numPages int) (int, error) {
	common.Assert(numPages > 0, "cannot allocate negative number of pages")
	f.allocMu.Lock()
	defer f.allocMu.Unlock()

	currentPages := f.numPages.Load()
	newTotalPages := currentPages + int32(numPages)

	// Reads from the new area return zeros; the OS backs it lazily.
	if err := f.file.Truncate(int64(newTotalPages) * int64(common.PageSize)); err != nil {
		return 0, errors.Wrapf(err, "failed to allocate %d pages in %s", numPages, f.file.Name())
	}
	f.numPages.Store(newTotalPages)
	return int(currentPages), nil
}

// ReadPage reads the content of the page identified by `pageNum` into `frame`. Returns error if the page does not exist.
func (f *DiskDBFile) ReadPage(pageNum int, frame []byte) error {
	common.Assert(len(frame) == common.PageSize, "buffer size must match PageSize")
	if n := f.numPages.Load(); int32(pageNum) >= n {
		return errors.Newf("read out of bounds: page %d does not exist (file has %d pages)", pageNum, n)
	}
	if _, err := f.file.ReadAt(frame, int64(pageNum)*int64(common.PageSize)); err != nil {
		return errors.Wrapf(err, "reading page %d of %s", pageNum, f.file.Name())
	}
	return nil
}

// WritePage writes the content of `frame` to the page identified by `pageNum`. Returns error if the page does not exist
func (f *DiskDBFile) WritePage(pageNum int, frame []byte) error {
	common.Assert(len(frame) == common.PageSize, "buffer size must match PageSize")
	if int32(pageNum) >= f.numPages.Load() {
		return errors.Newf("write out of bounds: page %d does not exist", pageNum)
	}
	if _, err := f.file.WriteAt(frame, int64(pageNum)*int64(common.PageSize)); err != nil {
		return errors.Wrapf(err, "writing page %d of %s", pageNum, f.file.Name())
	}
	return nil
}

// Close closes the underlying OS file.
func (f *DiskDBFile) Close() error {
	return f.file.Close()
}

// NumPages returns the number of pages currently in the file.
func (f *DiskDBFile) NumPages() (int, error) {
	return int(f.numPages.Load()), nil
}

// DiskDBFileManager manages a collection of DiskDBFiles rooted at a specific directory. Every file it creates is
// a temp spill file named spill_<oid>.dat.
type DiskDBFileManager struct {
	rootPath  string
	fileCache *xsync.MapOf[common.ObjectID, DBFile]
	logger    *zap.Logger
}

// NewDiskStorageManager initializes a manager rooted at `rootPath`. A nil logger disables logging.
func NewDiskStorageManager(rootPath string, logger *zap.Logger) *DiskDBFileManager {
	return &DiskDBFileManager{
		rootPath:  rootPath,
		fileCache: xsync.NewMapOf[common.ObjectID, DBFile](),
		logger:    common.LoggerOrNop(logger),
	}
}

// RootPath returns the directory holding the spill files.
func (dsm *DiskDBFileManager) RootPath() string {
	return dsm.rootPath
}

func (dsm *DiskDBFileManager) path(oid common.ObjectID) string {
	return filepath.Join(dsm.rootPath, fmt.Sprintf("spill_%d.dat", oid))
}

// GetDBFile retrieves or creates a DBFile for the given ObjectID.
//
// It maintains a cache of open files to ensure only one instance of DiskDBFile
// exists per physical file.
func (dsm *DiskDBFileManager) GetDBFile(oid common.ObjectID) (DBFile, error) {
	if file, ok := dsm.fileCache.Load(oid); ok {
		return file, nil
	}

	f, err := os.OpenFile(dsm.path(oid), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrapf(err, "opening spill file for object %d", oid)
	}
	newDBFile, err := NewDiskDBFile(f)
	if err != nil {
		_ = f.Close()
		return nil, err
	}

	actualFile, loaded := dsm.fileCache.LoadOrStore(oid, newDBFile)
	if loaded {
		// We lost the race. Another thread opened the file and inserted it first.
		_ = newDBFile.Close()
		return actualFile, nil
	}
	dsm.logger.Debug("opened spill file", zap.Uint32("oid", uint32(oid)), zap.String("path", f.Name()))
	return newDBFile, nil
}

// DeleteDBFile permanently deletes the file backing the given ObjectID.
//
// Warning: The caller must ensure that no other threads are currently using/getting the file.
func (dsm *DiskDBFileManager) DeleteDBFile(oid common.ObjectID) error {
	file, loaded := dsm.fileCache.LoadAndDelete(oid)
	if loaded {
		if err := file.Close(); err != nil {
			// Continue anyway so the file is still removed.
			dsm.logger.Warn("failed to close spill file before deletion",
				zap.Uint32("oid", uint32(oid)), zap.Error(err))
		}
	}
	if err := os.Remove(dsm.path(oid)); err != nil && !os.IsNotExist(err) {
		return errors.Wrapf(err, "removing spill file for object %d", oid)
	}
	return nil
}
