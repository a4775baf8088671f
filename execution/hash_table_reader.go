package execution

import (
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/storage"
)

type readerMode int

const (
	readNone readerMode = iota
	// readKey enumerates the rows of one key.
	readKey
	// readAll enumerates every row (join) or group (aggregation).
	readAll
	// readUnmatched enumerates the rows of keys that FindKey never matched.
	readUnmatched
)

// HashTableReader enumerates the contents of a HashTable. Join rows come back in the layout of the table's input
// (key and payload columns put back in place); aggregation groups come back as partial rows, group keys followed
// by accumulators. A returned tuple is valid until the next call to Next.
type HashTableReader struct {
	ht   *HashTable
	mode readerMode

	slot    uint32 // current slot + 1 during full scans
	keyRef  nodeRef
	dataRef nodeRef

	// colFromKey[c] is the position of input column c in the packed key, or -1. A column found in the payload
	// (colInPayload[c] >= 0) is read from there.
	colFromKey    []int
	colInPayload  []int
	reconstructed storage.RawTuple
}

// NewReader returns a reader over ht. It stays usable across Bind calls but not across ReleaseResources.
func (ht *HashTable) NewReader() *HashTableReader {
	r := &HashTableReader{ht: ht}
	if ht.shape.isAgg() {
		return r
	}
	width := ht.shape.inputDesc.NumColumns()
	r.colFromKey = make([]int, width)
	r.colInPayload = make([]int, width)
	for c := range r.colFromKey {
		r.colFromKey[c] = -1
		r.colInPayload[c] = -1
	}
	for i := len(ht.shape.keyProj) - 1; i >= 0; i-- {
		r.colFromKey[ht.shape.keyProj[i]] = i
	}
	for i, c := range ht.shape.payloadProj {
		r.colInPayload[c] = i
	}
	r.reconstructed = make([]byte, ht.shape.inputDesc.BytesPerTuple())
	return r
}

// BindKey positions the reader on the rows of a key returned by FindKey.
func (r *HashTableReader) BindKey(ref nodeRef) {
	common.Assert(!ref.isNil(), "binding a nil key")
	r.mode = readKey
	r.keyRef = ref
	r.dataRef = getRef(r.ht.node(ref, r.ht.keyNodeSize)[8:])
}

// BindAll positions the reader before the first row of a full scan.
func (r *HashTableReader) BindAll() {
	r.mode = readAll
	r.slot = r.ht.firstOccupied
	r.keyRef = nilRef
	r.dataRef = nilRef
	if r.slot != 0 {
		r.keyRef = r.ht.slotHead(int(r.slot - 1))
	}
	r.bindData()
}

// BindUnmatched positions the reader before the first row of a scan over unmatched keys.
func (r *HashTableReader) BindUnmatched() {
	common.Assert(!r.ht.shape.isAgg(), "aggregation groups have no match flag")
	r.BindAll()
	r.mode = readUnmatched
}

func (r *HashTableReader) bindData() {
	if r.keyRef.isNil() || r.ht.shape.isAgg() {
		r.dataRef = nilRef
		return
	}
	r.dataRef = getRef(r.ht.node(r.keyRef, r.ht.keyNodeSize)[8:])
}

// advanceKey moves a scan to the next key node, following the slot chain and then the occupied-slot chain.
func (r *HashTableReader) advanceKey() {
	if !r.keyRef.isNil() {
		r.keyRef = getRef(r.ht.node(r.keyRef, r.ht.keyNodeSize))
	}
	for r.keyRef.isNil() && r.slot != 0 {
		r.slot = r.ht.nextOccupied(int(r.slot - 1))
		if r.slot != 0 {
			r.keyRef = r.ht.slotHead(int(r.slot - 1))
		}
	}
	r.bindData()
}

// Next returns the next row, or false when the bound enumeration is exhausted.
func (r *HashTableReader) Next() (storage.Tuple, bool) {
	ht := r.ht
	switch r.mode {
	case readNone:
		return storage.Tuple{}, false
	case readKey:
		if r.dataRef.isNil() {
			r.mode = readNone
			return storage.Tuple{}, false
		}
		return r.emitData(), true
	}

	if ht.shape.isAgg() {
		if r.keyRef.isNil() {
			r.mode = readNone
			return storage.Tuple{}, false
		}
		n := ht.node(r.keyRef, ht.keyNodeSize)
		r.advanceKey()
		return storage.FromRawTuple(storage.RawTuple(n[aggKeyNodeHeader:]), ht.shape.partialDesc), true
	}

	for {
		if r.keyRef.isNil() {
			r.mode = readNone
			return storage.Tuple{}, false
		}
		if r.dataRef.isNil() || r.mode == readUnmatched && ht.isMatched(r.keyRef) {
			r.advanceKey()
			continue
		}
		return r.emitData(), true
	}
}

// emitData reconstructs the row of the current data node and steps to the next one.
func (r *HashTableReader) emitData() storage.Tuple {
	ht := r.ht
	shape := ht.shape
	key := ht.keyOf(ht.node(r.keyRef, ht.keyNodeSize))
	data := ht.node(r.dataRef, ht.dataNodeSize)
	payload := storage.RawTuple(data[dataNodeHeader:])
	r.dataRef = getRef(data)

	out := shape.inputDesc
	keyDesc := shape.codec.desc
	for c := 0; c < out.NumColumns(); c++ {
		var src []byte
		if p := r.colInPayload[c]; p >= 0 {
			src = shape.payloadDesc.FieldBytes(payload, p)
		} else {
			src = keyDesc.FieldBytes(key, r.colFromKey[c])
		}
		copy(out.FieldBytes(r.reconstructed, c), src)
	}
	return storage.FromRawTuple(r.reconstructed, out)
}
