package storage

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verifyBitmap(t *testing.T, bm Bitmap, shadow []bool) {
	for i := 0; i < len(shadow); i++ {
		assert.Equal(t, shadow[i], bm.LoadBit(i), "Mismatch at bit %d", i)
	}
}

// Helper to verify memory guard pages (canaries)
func checkCanaries(t *testing.T, rawMemory []byte, canarySize int, canaryPattern byte) {
	for i := 0; i < canarySize; i++ {
		assert.Equal(t, canaryPattern, rawMemory[i], "Memory corruption in PRE-canary at byte %d", i)
	}
	endStart := len(rawMemory) - canarySize
	for i := endStart; i < len(rawMemory); i++ {
		assert.Equal(t, canaryPattern, rawMemory[i], "Memory corruption in POST-canary at byte %d", i)
	}
}

// runRandomizedTest toggles random bits of a Bitmap view placed between two canary regions and checks every
// bit, plus Count, against a []bool shadow.
func runRandomizedTest(t *testing.T, numBits int, seed int64) {
	r := rand.New(rand.NewSource(seed))

	canarySize := 8
	canaryPattern := byte(0xAA)
	payloadSize := (numBits + 63) / 64 * 8
	rawMemory := make([]byte, payloadSize+2*canarySize)
	for i := range rawMemory {
		rawMemory[i] = canaryPattern
	}
	payload := rawMemory[canarySize : canarySize+payloadSize]
	for i := range payload {
		payload[i] = 0
	}

	bm := AsBitmap(payload, numBits)
	shadow := make([]bool, numBits)

	for op := 0; op < 20000; op++ {
		idx := r.Intn(numBits)
		switch r.Intn(3) {
		case 0, 1:
			val := r.Intn(2) == 0
			prev := bm.SetBit(idx, val)
			assert.Equal(t, shadow[idx], prev, "SetBit returned wrong previous value at %d", idx)
			shadow[idx] = val
		case 2:
			assert.Equal(t, shadow[idx], bm.LoadBit(idx), "LoadBit mismatch at %d", idx)
		}
	}

	verifyBitmap(t, bm, shadow)
	expected := 0
	for _, b := range shadow {
		if b {
			expected++
		}
	}
	assert.Equal(t, expected, bm.Count())
	checkCanaries(t, rawMemory, canarySize, canaryPattern)
}

func TestBitmapSimpleSetLoad(t *testing.T) {
	bm := NewBitmap(130)
	require.Equal(t, 130, bm.Len())

	assert.False(t, bm.SetBit(0, true))
	assert.False(t, bm.SetBit(64, true))
	assert.False(t, bm.SetBit(129, true))
	assert.True(t, bm.SetBit(129, true), "second set reports the previous value")

	assert.True(t, bm.LoadBit(0))
	assert.True(t, bm.LoadBit(64))
	assert.True(t, bm.LoadBit(129))
	assert.False(t, bm.LoadBit(1))
	assert.False(t, bm.LoadBit(63))
	assert.Equal(t, 3, bm.Count())

	assert.True(t, bm.SetBit(64, false))
	assert.False(t, bm.LoadBit(64))
	assert.Equal(t, 2, bm.Count())

	bm.ClearAll()
	assert.Equal(t, 0, bm.Count())
	assert.False(t, bm.LoadBit(0))
}

func TestBitmapOutOfBounds(t *testing.T) {
	bm := NewBitmap(10)
	assert.Panics(t, func() { bm.LoadBit(10) })
	assert.Panics(t, func() { bm.SetBit(-1, true) })
}

func TestBitmapRandomizedSmall(t *testing.T) {
	runRandomizedTest(t, 100, 1)
}

func TestBitmapRandomizedLarge(t *testing.T) {
	runRandomizedTest(t, 4096, 2)
}
