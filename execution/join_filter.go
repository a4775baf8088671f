package execution

import (
	"mit.edu/dsg/hashexec/storage"
)

const joinFilterBits = 4096

// JoinFilter is a fixed-size one-hash Bloom filter over partition hashes. A clear bit proves that no row of the
// summarized side hashes there, so a row of the other side with that hash cannot match and need not be spilled.
type JoinFilter struct {
	bits storage.Bitmap
}

// NewJoinFilter returns an empty filter.
func NewJoinFilter() *JoinFilter {
	return &JoinFilter{bits: storage.NewBitmap(joinFilterBits)}
}

// Add records a row whose partition hash is hash.
func (f *JoinFilter) Add(hash uint64) {
	f.bits.SetBit(int(hash%joinFilterBits), true)
}

// MayContain reports whether a row with this partition hash may have been added. False is exact.
func (f *JoinFilter) MayContain(hash uint64) bool {
	return f.bits.LoadBit(int(hash % joinFilterBits))
}

// Fill returns the fraction of bits set.
func (f *JoinFilter) Fill() float64 {
	return float64(f.bits.Count()) / joinFilterBits
}
