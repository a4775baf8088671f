package execution

import (
	"bytes"
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"mit.edu/dsg/hashexec/common"
	"mit.edu/dsg/hashexec/storage"
)

// Every recursion level hashes keys twice with independent seeds: once to pick the slot of its own hash table
// and once (as the partition hash of the next level) to pick the child a spilled row goes to. Rows that collided
// in a parent's table are therefore spread again by their children.
func slotSeed(level int) uint64 {
	return uint64(2 * level)
}

func partitionSeed(level int) uint64 {
	return uint64(2*level + 1)
}

// keyCodec hashes and compares packed keys. A packed key is the key columns of a row serialized back to back
// with the usual fixed-width layout. String columns flagged in trim ignore trailing blanks both when hashing and
// when comparing; the stored bytes are never modified.
type keyCodec struct {
	desc   *storage.RawTupleDesc
	trim   []bool
	digest *xxhash.Digest
	lenBuf [4]byte
}

func newKeyCodec(desc *storage.RawTupleDesc, trim []bool) *keyCodec {
	common.Assert(len(trim) == desc.NumColumns(), "trim flags do not match key width")
	return &keyCodec{
		desc:   desc,
		trim:   trim,
		digest: xxhash.NewWithSeed(0),
	}
}

func (c *keyCodec) hasNull(key storage.RawTuple) bool {
	for i := 0; i < c.desc.NumColumns(); i++ {
		if c.desc.GetValue(key, i).IsNull() {
			return true
		}
	}
	return false
}

// stringBytes returns the significant bytes of a non-NULL fixed-width string field.
func (c *keyCodec) stringBytes(field []byte, trim bool) []byte {
	n := bytes.IndexByte(field, 0)
	if n < 0 {
		n = len(field)
	}
	field = field[:n]
	if trim {
		field = bytes.TrimRight(field, " ")
	}
	return field
}

func (c *keyCodec) hash(key storage.RawTuple, seed uint64) uint64 {
	d := c.digest
	d.ResetWithSeed(seed)
	for i := 0; i < c.desc.NumColumns(); i++ {
		field := c.desc.FieldBytes(key, i)
		if c.desc.GetFieldType(i) != common.StringType {
			_, _ = d.Write(field)
			continue
		}
		if field[0] == 0xFF {
			_, _ = d.Write(field[:1])
			continue
		}
		s := c.stringBytes(field, c.trim[i])
		binary.LittleEndian.PutUint32(c.lenBuf[:], uint32(len(s)))
		_, _ = d.Write(c.lenBuf[:])
		_, _ = d.Write(s)
	}
	return d.Sum64()
}

// equal compares two packed keys column by column. NULL equals NULL here; callers that want SQL semantics drop
// NULL keys before they get this far.
func (c *keyCodec) equal(a, b storage.RawTuple) bool {
	if bytes.Equal(a, b) {
		return true
	}
	for i := 0; i < c.desc.NumColumns(); i++ {
		fa, fb := c.desc.FieldBytes(a, i), c.desc.FieldBytes(b, i)
		if bytes.Equal(fa, fb) {
			continue
		}
		if c.desc.GetFieldType(i) != common.StringType || !c.trim[i] {
			return false
		}
		if fa[0] == 0xFF || fb[0] == 0xFF {
			return false
		}
		if !bytes.Equal(c.stringBytes(fa, true), c.stringBytes(fb, true)) {
			return false
		}
	}
	return true
}

// keyPacker extracts the key of a row of one input into a scratch buffer.
type keyPacker struct {
	*keyCodec
	proj []int
	buf  []byte
}

func newKeyPacker(codec *keyCodec, proj []int) *keyPacker {
	common.Assert(len(proj) == codec.desc.NumColumns(), "key projection does not match key width")
	return &keyPacker{
		keyCodec: codec,
		proj:     proj,
		buf:      make([]byte, codec.desc.BytesPerTuple()),
	}
}

// pack returns the packed key of t. The result is overwritten by the next call.
func (p *keyPacker) pack(t storage.Tuple) storage.RawTuple {
	key := t.ProjectToBuffer(p.buf, p.desc, p.proj)
	return key.Raw()
}
