package storage

import (
	"math/bits"
	"unsafe"

	"mit.edu/dsg/hashexec/common"
)

// Bitmap provides a convenient interface for manipulating bits in a byte slice.
// It does not own the underlying bytes; instead, it provides a structured view over
// an existing buffer (e.g., a spill page), unless it was created by NewBitmap.
type Bitmap struct {
	words   []uint64
	numBits int
}

// AsBitmap creates a Bitmap view over the provided byte slice.
//
// Constraints:
// 1. data must be aligned to 8 bytes to allow safe casting to uint64.
// 2. data must be large enough to contain numBits (rounded up to the nearest 8-byte word).
func AsBitmap(data []byte, numBits int) Bitmap {
	common.Assert(common.AlignedTo8(len(data)), "Bitmap bytes length must be aligned to 8")

	numWords := (numBits + 63) / 64
	common.Assert(len(data) >= numWords*8, "bitmap buffer too small")

	ptr := unsafe.Pointer(&data[0])
	// Slice reference cast to uint64
	words := unsafe.Slice((*uint64)(ptr), numWords)

	return Bitmap{
		words:   words,
		numBits: numBits,
	}
}

// NewBitmap allocates a zeroed Bitmap of numBits bits.
func NewBitmap(numBits int) Bitmap {
	common.Assert(numBits > 0, "bitmap must hold at least one bit")
	return Bitmap{
		words:   make([]uint64, (numBits+63)/64),
		numBits: numBits,
	}
}

// Len returns the number of bits in the bitmap.
func (b *Bitmap) Len() int {
	return b.numBits
}

// SetBit sets the bit at index i to the given value.
// Returns the previous value of the bit.
func (b *Bitmap) SetBit(i int, on bool) (originalValue bool) {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	mask := uint64(1) << uint(i%64)

	ptr := &b.words[i/64]
	originalValue = (*ptr & mask) != 0
	if on {
		*ptr |= mask
	} else {
		*ptr &^= mask
	}
	return originalValue
}

// LoadBit returns the value of the bit at index i.
func (b *Bitmap) LoadBit(i int) bool {
	common.Assert(i >= 0 && i < b.numBits, "indexing out of bounds")
	return (b.words[i/64] & (1 << uint(i%64))) != 0
}

// ClearAll resets every bit to 0.
func (b *Bitmap) ClearAll() {
	clear(b.words)
}

// Count returns the number of bits set to 1.
func (b *Bitmap) Count() int {
	n := 0
	for _, w := range b.words {
		n += bits.OnesCount64(w)
	}
	return n
}
