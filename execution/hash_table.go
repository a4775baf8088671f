package execution

import (
	"encoding/binary"
	"fmt"
	"math"

	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/storage"
)

// nodeRef is a handle to a node inside the blocks of a HashTable: (blockIndex+1)<<32 | offset. The zero value is
// the nil handle. Handles die with the table's blocks.
type nodeRef uint64

const nilRef nodeRef = 0

func makeRef(block, offset int) nodeRef {
	return nodeRef(uint64(block+1)<<32 | uint64(offset))
}

func (r nodeRef) isNil() bool {
	return r == nilRef
}

func (r nodeRef) block() int {
	return int(r>>32) - 1
}

func (r nodeRef) offset() int {
	return int(uint32(r))
}

// Layouts. All sizes are multiples of 8, so every node stays 8-byte aligned inside its block.
//
//	slot entry:     [head key node 8][next occupied slot + 1, 4]
//	join key node:  [next key 8][first data node 8][flags 8][packed key]
//	join data node: [next data node 8][non-key columns]
//	agg key node:   [next key 8][group keys][accumulators]
const (
	slotEntrySize     = 12
	joinKeyNodeHeader = 24
	dataNodeHeader    = 8
	aggKeyNodeHeader  = 8

	flagMatched uint64 = 1
)

// SlotsNeeded returns the slot count for an expected number of distinct keys.
func SlotsNeeded(distinctKeys int64) int {
	if distinctKeys <= 0 {
		return 1
	}
	slots := math.Ceil(1.2 * float64(distinctKeys))
	if slots > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(slots)
}

// HashTable is a chained hash table whose slot array and nodes live in fixed-size blocks obtained from a
// storage.BlockPool. Each table may hold at most quota blocks; failing to get a block while inserting is the
// overflow signal that makes the caller partition.
//
// A join table stores one key node per distinct key and one data node per row. An aggregation table stores one
// node per group, holding the group keys and the running accumulators.
type HashTable struct {
	shape  *tableShape
	level  int
	seed   uint64
	packer *keyPacker
	pool   *storage.BlockPool
	quota  int

	blocks        [][]byte
	slotsPerBlock int
	numSlots      int
	slotBlocks    int
	// firstOccupied starts the chain of non-empty slots, as slot+1 (0 ends the chain).
	firstOccupied uint32

	curBlock int
	used     int

	keyNodeSize  int
	dataNodeSize int

	numKeys int64
	numRows int64

	allocated bool
	rowBuf    []byte
}

// NewHashTable returns an uninitialized table. Call Init and AllocateResources before use.
func NewHashTable(pool *storage.BlockPool) *HashTable {
	return &HashTable{pool: pool}
}

// Init fixes the shape of the rows the table will hold and its block quota. It fails with TupleTooWideError if
// a single new key cannot fit into one block, since overflow handling could never make room for it.
func (ht *HashTable) Init(level int, shape *tableShape, quota int) error {
	common.Assert(!ht.allocated, "re-initializing a table that still holds blocks")
	ht.shape = shape
	ht.level = level
	ht.seed = slotSeed(level)
	ht.packer = newKeyPacker(shape.codec, shape.keyProj)
	ht.quota = quota
	ht.slotsPerBlock = ht.pool.BlockSize() / slotEntrySize

	if shape.isAgg() {
		ht.keyNodeSize = aggKeyNodeHeader + shape.partialDesc.BytesPerTuple()
		ht.dataNodeSize = 0
	} else {
		ht.keyNodeSize = joinKeyNodeHeader + shape.codec.desc.BytesPerTuple()
		ht.dataNodeSize = dataNodeHeader + shape.payloadDesc.BytesPerTuple()
	}
	if need := ht.keyNodeSize + ht.dataNodeSize; need > ht.pool.BlockSize() {
		return common.NewExecError(common.TupleTooWideError,
			"a new key needs %d bytes but hash table blocks hold %d (%s)", need, ht.pool.BlockSize(), shape)
	}
	ht.rowBuf = make([]byte, shape.inputDesc.BytesPerTuple())
	return nil
}

// Level returns the recursion level the table was initialized for.
func (ht *HashTable) Level() int {
	return ht.level
}

// AllocateResources reserves the slot array and the first node block. The slot count is clipped so that the slot
// array takes at most a quarter of the quota (and always leaves room for one node block). It returns false if
// the pool cannot supply the minimum.
func (ht *HashTable) AllocateResources(numSlots int) bool {
	common.Assert(ht.shape != nil, "allocating an uninitialized table")
	common.Assert(!ht.allocated, "allocating a table twice")
	if ht.quota < 2 {
		return false
	}
	maxSlotBlocks := max(1, min(ht.quota/4, ht.quota-1))
	numSlots = max(1, min(numSlots, maxSlotBlocks*ht.slotsPerBlock))
	slotBlocks := common.CeilDiv(numSlots, ht.slotsPerBlock)

	for i := 0; i < slotBlocks+1; i++ {
		block, ok := ht.pool.Allocate()
		if !ok {
			ht.releaseBlocks()
			return false
		}
		ht.blocks = append(ht.blocks, block)
	}
	ht.numSlots = numSlots
	ht.slotBlocks = slotBlocks
	ht.curBlock = slotBlocks
	ht.used = 0
	ht.firstOccupied = 0
	ht.numKeys = 0
	ht.numRows = 0
	ht.allocated = true
	return true
}

func (ht *HashTable) releaseBlocks() {
	for _, b := range ht.blocks {
		ht.pool.Release(b)
	}
	ht.blocks = nil
}

// ReleaseResources returns every block to the pool. It is idempotent; all handles become invalid.
func (ht *HashTable) ReleaseResources() {
	ht.releaseBlocks()
	ht.allocated = false
	ht.numSlots = 0
	ht.firstOccupied = 0
	ht.numKeys = 0
	ht.numRows = 0
}

// NumKeys returns the number of distinct keys (groups) stored.
func (ht *HashTable) NumKeys() int64 {
	return ht.numKeys
}

// NumRows returns the number of rows stored (join) or folded in (aggregation).
func (ht *HashTable) NumRows() int64 {
	return ht.numRows
}

// NumBlocks returns the number of blocks held.
func (ht *HashTable) NumBlocks() int {
	return len(ht.blocks)
}

// NumSlots returns the size of the slot array.
func (ht *HashTable) NumSlots() int {
	return ht.numSlots
}

func (ht *HashTable) slotEntry(slot int) []byte {
	b := ht.blocks[slot/ht.slotsPerBlock]
	off := (slot % ht.slotsPerBlock) * slotEntrySize
	return b[off : off+slotEntrySize]
}

func (ht *HashTable) slotHead(slot int) nodeRef {
	return nodeRef(binary.LittleEndian.Uint64(ht.slotEntry(slot)))
}

func (ht *HashTable) setSlotHead(slot int, ref nodeRef) {
	e := ht.slotEntry(slot)
	if binary.LittleEndian.Uint64(e) == 0 {
		binary.LittleEndian.PutUint32(e[8:], ht.firstOccupied)
		ht.firstOccupied = uint32(slot + 1)
	}
	binary.LittleEndian.PutUint64(e, uint64(ref))
}

func (ht *HashTable) nextOccupied(slot int) uint32 {
	return binary.LittleEndian.Uint32(ht.slotEntry(slot)[8:])
}

func (ht *HashTable) node(ref nodeRef, size int) []byte {
	common.Assert(!ref.isNil(), "dereferencing a nil node")
	b := ht.blocks[ref.block()]
	off := ref.offset()
	common.Assert(off+size <= len(b), "node handle %#x points outside its block", uint64(ref))
	return b[off : off+size]
}

func getRef(b []byte) nodeRef {
	return nodeRef(binary.LittleEndian.Uint64(b))
}

func putRef(b []byte, ref nodeRef) {
	binary.LittleEndian.PutUint64(b, uint64(ref))
}

// alloc carves size bytes out of the current node block, taking a new block when it is full. It returns false
// when the quota or the pool is exhausted; nothing is modified in that case.
func (ht *HashTable) alloc(size int) (nodeRef, bool) {
	if ht.used+size > ht.pool.BlockSize() {
		if len(ht.blocks) >= ht.quota {
			return nilRef, false
		}
		block, ok := ht.pool.Allocate()
		if !ok {
			return nilRef, false
		}
		ht.blocks = append(ht.blocks, block)
		ht.curBlock = len(ht.blocks) - 1
		ht.used = 0
	}
	ref := makeRef(ht.curBlock, ht.used)
	ht.used += size
	return ref, true
}

// keyOf returns the packed key stored in a key node.
func (ht *HashTable) keyOf(keyNode []byte) storage.RawTuple {
	keySize := ht.shape.codec.desc.BytesPerTuple()
	if ht.shape.isAgg() {
		// group keys lead the partial row
		return storage.RawTuple(keyNode[aggKeyNodeHeader : aggKeyNodeHeader+keySize])
	}
	return storage.RawTuple(keyNode[joinKeyNodeHeader : joinKeyNodeHeader+keySize])
}

func (ht *HashTable) findInSlot(slot int, key storage.RawTuple) nodeRef {
	for ref := ht.slotHead(slot); !ref.isNil(); {
		n := ht.node(ref, ht.keyNodeSize)
		if ht.shape.codec.equal(ht.keyOf(n), key) {
			return ref
		}
		ref = getRef(n)
	}
	return nilRef
}

func (ht *HashTable) slotOf(key storage.RawTuple) int {
	return int(ht.shape.codec.hash(key, ht.seed) % uint64(ht.numSlots))
}

// AddTuple inserts a row laid out as the table's input. It returns false, leaving the table untouched, when a
// new block is needed but cannot be obtained. Rows dropped by the NULL or duplicate policy count as inserted.
func (ht *HashTable) AddTuple(t storage.Tuple) bool {
	common.Assert(ht.allocated, "inserting into a table without resources")
	key := ht.packer.pack(t)
	if ht.shape.filterNull && ht.packer.hasNull(key) {
		return true
	}
	slot := ht.slotOf(key)
	ref := ht.findInSlot(slot, key)
	if ht.shape.isAgg() {
		return ht.addAgg(slot, ref, key, &t)
	}
	return ht.addJoin(slot, ref, key, &t)
}

func (ht *HashTable) writePayload(data []byte, t *storage.Tuple) {
	t.ProjectToBuffer(data[dataNodeHeader:], ht.shape.payloadDesc, ht.shape.payloadProj)
}

func (ht *HashTable) addJoin(slot int, keyRef nodeRef, key storage.RawTuple, t *storage.Tuple) bool {
	if !keyRef.isNil() {
		if ht.shape.removeDup {
			return true
		}
		dataRef, ok := ht.alloc(ht.dataNodeSize)
		if !ok {
			return false
		}
		kn := ht.node(keyRef, ht.keyNodeSize)
		data := ht.node(dataRef, ht.dataNodeSize)
		putRef(data, getRef(kn[8:]))
		ht.writePayload(data, t)
		putRef(kn[8:], dataRef)
		ht.numRows++
		return true
	}

	// The key node and its first data node are carved out together so that a new key is either fully inserted
	// or not at all.
	keyRef, ok := ht.alloc(ht.keyNodeSize + ht.dataNodeSize)
	if !ok {
		return false
	}
	dataRef := makeRef(keyRef.block(), keyRef.offset()+ht.keyNodeSize)
	kn := ht.node(keyRef, ht.keyNodeSize)
	putRef(kn, ht.slotHead(slot))
	putRef(kn[8:], dataRef)
	binary.LittleEndian.PutUint64(kn[16:], 0)
	copy(kn[joinKeyNodeHeader:], key)

	data := ht.node(dataRef, ht.dataNodeSize)
	putRef(data, nilRef)
	ht.writePayload(data, t)

	ht.setSlotHead(slot, keyRef)
	ht.numKeys++
	ht.numRows++
	return true
}

func (ht *HashTable) addAgg(slot int, ref nodeRef, key storage.RawTuple, t *storage.Tuple) bool {
	desc := ht.shape.partialDesc
	numKeys := ht.shape.codec.desc.NumColumns()
	var partial storage.RawTuple
	if ref.isNil() {
		var ok bool
		ref, ok = ht.alloc(ht.keyNodeSize)
		if !ok {
			return false
		}
		n := ht.node(ref, ht.keyNodeSize)
		putRef(n, ht.slotHead(slot))
		partial = storage.RawTuple(n[aggKeyNodeHeader:])
		copy(partial, key)
		for i, c := range ht.shape.aggs {
			desc.SetValue(partial, numKeys+i, c.initial())
		}
		ht.setSlotHead(slot, ref)
		ht.numKeys++
	} else {
		partial = storage.RawTuple(ht.node(ref, ht.keyNodeSize)[aggKeyNodeHeader:])
	}

	for i, c := range ht.shape.aggs {
		acc := desc.GetValue(partial, numKeys+i)
		if updated, changed := c.update(acc, t); changed {
			desc.SetValue(partial, numKeys+i, updated)
		}
	}
	ht.numRows++
	return true
}

// FindKey looks up the key of a row of another input, packed by packer. A found key is marked matched. With
// removeDuplicate set, a key that was already matched is reported as absent, so each build key matches once.
func (ht *HashTable) FindKey(packer *keyPacker, t storage.Tuple, removeDuplicate bool) nodeRef {
	common.Assert(!ht.shape.isAgg(), "probing an aggregation table")
	if ht.numKeys == 0 {
		return nilRef
	}
	key := packer.pack(t)
	ref := ht.findInSlot(ht.slotOf(key), key)
	if ref.isNil() {
		return nilRef
	}
	kn := ht.node(ref, ht.keyNodeSize)
	flags := binary.LittleEndian.Uint64(kn[16:])
	if removeDuplicate && flags&flagMatched != 0 {
		return nilRef
	}
	binary.LittleEndian.PutUint64(kn[16:], flags|flagMatched)
	return ref
}

func (ht *HashTable) isMatched(keyRef nodeRef) bool {
	kn := ht.node(keyRef, ht.keyNodeSize)
	return binary.LittleEndian.Uint64(kn[16:])&flagMatched != 0
}

func (ht *HashTable) String() string {
	longest, occupied := 0, 0
	for s := ht.firstOccupied; s != 0; s = ht.nextOccupied(int(s - 1)) {
		occupied++
		n := 0
		for ref := ht.slotHead(int(s - 1)); !ref.isNil(); ref = getRef(ht.node(ref, ht.keyNodeSize)) {
			n++
		}
		longest = max(longest, n)
	}
	return fmt.Sprintf("HashTable(level=%d, slots=%d/%d occupied, longest chain=%d, keys=%d, rows=%d, blocks=%d/%d)",
		ht.level, occupied, ht.numSlots, longest, ht.numKeys, ht.numRows, len(ht.blocks), ht.quota)
}
