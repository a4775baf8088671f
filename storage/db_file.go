package storage

import (
	"mit.edu/dsg/hashexec/common"
)

// DBFile is a page-addressed spill file. Spilled data never outlives the operator that wrote it, so the
// interface has no notion of durability: pages are written back only when the buffer pool evicts them, and the
// whole file is deleted when its segment closes.
//
// ReadPage and WritePage may run concurrently on different pages.
type DBFile interface {
	// AllocatePage grows the file by numPages zeroed pages and returns the number of the first one.
	AllocatePage(numPages int) (int, error)
	// ReadPage fills frame, which is exactly one page long, from page pageNum.
	ReadPage(pageNum int, frame []byte) error
	// WritePage stores frame at page pageNum, which must already exist.
	WritePage(pageNum int, frame []byte) error
	Close() error
	NumPages() (int, error)
}

// DBFileManager opens spill files by ObjectID.
type DBFileManager interface {
	// GetDBFile returns the open file of oid, creating it on first use.
	GetDBFile(oid common.ObjectID) (DBFile, error)
	// DeleteDBFile closes and removes the file of oid. Nothing may still read or write it.
	DeleteDBFile(oid common.ObjectID) error
}
