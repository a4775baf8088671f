package storage

import (
	"sync"

	"mit.edu/dsg/hashexec/common"
)

// BlockPool hands out fixed-size memory blocks to hash tables, up to a fixed number of outstanding blocks. It is
// the in-memory half of the engine's page budget: once Capacity blocks are in use, Allocate fails, which the hash
// table reports as overflow. Released blocks are kept on a free list and handed out again zeroed.
type BlockPool struct {
	mu        sync.Mutex
	blockSize int
	capacity  int
	inUse     int
	peak      int
	free      [][]byte
}

// NewBlockPool creates a pool of at most capacity blocks of blockSize bytes each.
func NewBlockPool(capacity, blockSize int) *BlockPool {
	common.Assert(blockSize > 0 && common.AlignedTo8(blockSize), "block size must be a positive multiple of 8")
	common.Assert(capacity >= 0, "negative block pool capacity")
	return &BlockPool{
		blockSize: blockSize,
		capacity:  capacity,
	}
}

// BlockSize returns the size of every block in bytes.
func (p *BlockPool) BlockSize() int {
	return p.blockSize
}

// Capacity returns the maximum number of outstanding blocks.
func (p *BlockPool) Capacity() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.capacity
}

// SetCapacity changes the maximum number of outstanding blocks. Blocks already handed out are not reclaimed.
func (p *BlockPool) SetCapacity(capacity int) {
	common.Assert(capacity >= 0, "negative block pool capacity")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.capacity = capacity
	if excess := len(p.free) - capacity; excess > 0 {
		p.free = p.free[:len(p.free)-excess]
	}
}

// InUse returns the number of blocks currently handed out.
func (p *BlockPool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// Available returns how many more blocks Allocate can hand out.
func (p *BlockPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return max(p.capacity-p.inUse, 0)
}

// Peak returns the high-water mark of InUse since the pool was created.
func (p *BlockPool) Peak() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.peak
}

// Allocate returns a zeroed block, or false when the pool is at capacity.
func (p *BlockPool) Allocate() ([]byte, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse >= p.capacity {
		return nil, false
	}
	p.inUse++
	p.peak = max(p.peak, p.inUse)
	if n := len(p.free); n > 0 {
		block := p.free[n-1]
		p.free = p.free[:n-1]
		clear(block)
		return block, true
	}
	return make([]byte, p.blockSize), true
}

// Release returns a block obtained from Allocate.
func (p *BlockPool) Release(block []byte) {
	common.Assert(len(block) == p.blockSize, "releasing a block of the wrong size")
	p.mu.Lock()
	defer p.mu.Unlock()
	common.Assert(p.inUse > 0, "releasing more blocks than allocated")
	p.inUse--
	if len(p.free) < p.capacity {
		p.free = append(p.free, block)
	}
}
