package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockPoolQuota(t *testing.T) {
	p := NewBlockPool(3, 64)
	assert.Equal(t, 64, p.BlockSize())

	var blocks [][]byte
	for i := 0; i < 3; i++ {
		b, ok := p.Allocate()
		require.True(t, ok)
		require.Len(t, b, 64)
		blocks = append(blocks, b)
	}
	_, ok := p.Allocate()
	assert.False(t, ok, "allocation beyond capacity must fail")
	assert.Equal(t, 3, p.InUse())
	assert.Equal(t, 0, p.Available())

	blocks[0][5] = 0xEE
	p.Release(blocks[0])
	assert.Equal(t, 1, p.Available())

	b, ok := p.Allocate()
	require.True(t, ok)
	assert.Equal(t, make([]byte, 64), b, "recycled blocks come back zeroed")
	assert.Equal(t, 3, p.Peak())
}

func TestBlockPoolSetCapacity(t *testing.T) {
	p := NewBlockPool(2, 8)
	a, _ := p.Allocate()
	b, _ := p.Allocate()

	p.SetCapacity(1)
	assert.Equal(t, 0, p.Available(), "outstanding blocks are not reclaimed")
	p.Release(a)
	_, ok := p.Allocate()
	assert.False(t, ok)
	p.Release(b)
	_, ok = p.Allocate()
	assert.True(t, ok)

	assert.Panics(t, func() { p.Release(make([]byte, 16)) })
}
