package storage

import (
	"fmt"

	"mit.edu/dsg/hashexec/common"
)

// RawTuple represents the "Physical View" of a row.
// It is simply a compact slice of bytes laid out exactly as it is stored in a hash table node or on a spill page.
// It does not know what data it contains. You need a RawTupleDesc to read it.
type RawTuple []byte

// RawTupleDesc describes the physical binary layout of a RawTuple. It is the tuple accessor shared by the live
// input buffers, the hash table nodes and the spill pages, so a tuple marshalled by one of them is readable by
// the others bit for bit.
type RawTupleDesc struct {
	fields      []common.Type
	offsets     []int // Cache of column_id => physical offset of first byte in RawTuple
	bytesPerRow int
}

func (desc *RawTupleDesc) String() string {
	return fmt.Sprintf("%v", desc.fields)
}

// NumColumns returns the number of fields in the physical schema.
func (desc *RawTupleDesc) NumColumns() int {
	return len(desc.fields)
}

// BytesPerTuple returns the fixed size in bytes required to store this tuple.
func (desc *RawTupleDesc) BytesPerTuple() int {
	return desc.bytesPerRow
}

// GetFieldType returns the type of the field at index i.
func (desc *RawTupleDesc) GetFieldType(i int) common.Type {
	return desc.fields[i]
}

func (desc *RawTupleDesc) GetFieldTypes() []common.Type {
	return desc.fields
}

// GetFieldOffset returns the byte offset where field i begins.
func (desc *RawTupleDesc) GetFieldOffset(i int) int {
	return desc.offsets[i]
}

// Equals reports whether two descriptors describe the same column types.
func (desc *RawTupleDesc) Equals(other *RawTupleDesc) bool {
	if len(desc.fields) != len(other.fields) {
		return false
	}
	for i := range desc.fields {
		if desc.fields[i] != other.fields[i] {
			return false
		}
	}
	return true
}

// Project returns the descriptor of the columns listed in proj, in that order.
func (desc *RawTupleDesc) Project(proj []int) *RawTupleDesc {
	types := make([]common.Type, len(proj))
	for i, col := range proj {
		types[i] = desc.fields[col]
	}
	return NewRawTupleDesc(types)
}

// GetValue deserializes the value at index i from the given physical byte slice.
func (desc *RawTupleDesc) GetValue(t RawTuple, i int) common.Value {
	return common.AsValue(desc.fields[i], t[desc.offsets[i]:])
}

// SetValue serializes the value val into the correct position in the physical byte slice t.
func (desc *RawTupleDesc) SetValue(t RawTuple, i int, val common.Value) {
	common.Assert(val.Type() == desc.fields[i], "type mismatch")
	val.WriteTo(t[desc.offsets[i]:])
}

// FieldBytes returns the raw bytes of field i.
func (desc *RawTupleDesc) FieldBytes(t RawTuple, i int) []byte {
	off := desc.offsets[i]
	return t[off : off+desc.fields[i].Size()]
}

// NewRawTupleDesc creates a descriptor for the given list of field types.
// It calculates offsets and total size; every supported type is a multiple of 8 bytes wide, so tuples stay
// 8-byte aligned.
func NewRawTupleDesc(fields []common.Type) *RawTupleDesc {
	size := 0
	offsetOfField := make([]int, len(fields))
	for i := 0; i < len(fields); i++ {
		offsetOfField[i] = size
		switch fields[i] {
		case common.IntType:
			size += common.IntSize
		case common.StringType:
			size += common.StringLength
		default:
			common.Assert(false, "unknown field type")
		}
	}
	common.Assert(common.AlignedTo8(size), "tuple size should always be aligned to 8 bytes")
	common.Assert(size <= common.PageSize-32, "tuple size should never exceed page size")
	return &RawTupleDesc{fields, offsetOfField, size}
}

// Tuple represents the "Logical View" of a row.
//
// A Tuple is either backed by a RawTuple (zero-copy view over a buffer owned by someone else: an input chunk, a
// hash table node or a spill page) or purely virtual (a list of Go values), or a mix of both when Extend is used.
// Values are deserialized lazily through GetValue.
type Tuple struct {
	// rawTuple holds the "Physical View" (raw bytes) if this tuple is backed by a buffer.
	rawTuple RawTuple
	// rawDesc describes the binary schema of rawTuple. It is required to interpret the bytes.
	rawDesc *RawTupleDesc

	// extraValues holds "Virtual Columns" that are not stored physically.
	extraValues []common.Value
}

// FromRawTuple creates a Tuple backed by physically stored bytes (Zero-Copy).
func FromRawTuple(rawTuple RawTuple, desc *RawTupleDesc) Tuple {
	return Tuple{rawTuple: rawTuple, rawDesc: desc}
}

// FromValues creates a purely virtual Tuple from a list of Go values.
func FromValues(values ...common.Value) Tuple {
	return Tuple{
		extraValues: values,
	}
}

// NullTuple creates a virtual tuple of NULLs with the given column types. It is used to null-extend the missing
// side of an outer join row.
func NullTuple(types []common.Type) Tuple {
	values := make([]common.Value, len(types))
	for i, t := range types {
		values[i] = common.NewNullValue(t)
	}
	return FromValues(values...)
}

// Extend returns a NEW Tuple consisting of the current tuple's fields
// followed by the provided newValues.
func (t Tuple) Extend(newValues []common.Value) Tuple {
	result := t
	result.extraValues = append(append([]common.Value(nil), t.extraValues...), newValues...)
	return result
}

// IsNil checks if the tuple is uninitialized.
func (t Tuple) IsNil() bool {
	return t.rawDesc == nil && t.extraValues == nil
}

// Raw returns the physical bytes of a tuple that is entirely backed by a RawTuple, or nil otherwise.
func (t Tuple) Raw() RawTuple {
	if t.extraValues != nil {
		return nil
	}
	return t.rawTuple
}

// WriteToBuffer serializes the entire Tuple (Physical + Virtual fields) into a single byte buffer and returns a
// tuple backed by that buffer.
func (t Tuple) WriteToBuffer(buf []byte, desc *RawTupleDesc) Tuple {
	common.Assert(len(buf) >= desc.BytesPerTuple(), "buffer too small")
	common.Assert(t.NumColumns() == desc.NumColumns(), "tuple descriptor mismatch")

	numPhysicalColumns := 0
	if t.rawDesc != nil {
		numPhysicalColumns = t.rawDesc.NumColumns()
		// Fast-path: direct memcpy
		copy(buf, t.rawTuple[:t.rawDesc.BytesPerTuple()])
	}

	for i := numPhysicalColumns; i < desc.NumColumns(); i++ {
		desc.SetValue(buf, i, t.extraValues[i-numPhysicalColumns])
	}
	return FromRawTuple(buf[:desc.BytesPerTuple()], desc)
}

// ProjectToBuffer serializes the columns of t listed in proj, in that order, into buf laid out by desc.
func (t Tuple) ProjectToBuffer(buf []byte, desc *RawTupleDesc, proj []int) Tuple {
	common.Assert(len(buf) >= desc.BytesPerTuple(), "buffer too small")
	common.Assert(len(proj) == desc.NumColumns(), "projection does not match descriptor")
	if t.extraValues == nil && t.rawDesc != nil {
		for i, col := range proj {
			copy(desc.FieldBytes(buf, i), t.rawDesc.FieldBytes(t.rawTuple, col))
		}
	} else {
		for i, col := range proj {
			desc.SetValue(buf, i, t.GetValue(col))
		}
	}
	return FromRawTuple(buf[:desc.BytesPerTuple()], desc)
}

// MergeTuples serializes two tuples (left and right) directly into a single output buffer.
// It assumes the 'desc' describes the combined schema (Left fields followed by Right fields).
func MergeTuples(buf []byte, desc *RawTupleDesc, left Tuple, right Tuple) Tuple {
	common.Assert(len(buf) >= desc.BytesPerTuple(), "buffer too small")
	common.Assert(left.NumColumns()+right.NumColumns() == desc.NumColumns(), "tuple descriptor mismatch")

	if left.extraValues == nil && right.extraValues == nil && left.rawDesc != nil && right.rawDesc != nil {
		// Fast path -- simply stitch the two tuples together.
		n := copy(buf, left.rawTuple[:left.rawDesc.BytesPerTuple()])
		copy(buf[n:], right.rawTuple[:right.rawDesc.BytesPerTuple()])
	} else {
		leftNumCols := left.NumColumns()
		rightNumCols := right.NumColumns()
		for i := 0; i < leftNumCols; i++ {
			desc.SetValue(buf, i, left.GetValue(i))
		}
		for i := 0; i < rightNumCols; i++ {
			desc.SetValue(buf, leftNumCols+i, right.GetValue(i))
		}
	}
	return FromRawTuple(buf[:desc.BytesPerTuple()], desc)
}

// NumColumns returns the total number of fields (Physical + Virtual) in the tuple.
func (t Tuple) NumColumns() int {
	if t.rawDesc == nil {
		return len(t.extraValues)
	}
	return len(t.extraValues) + t.rawDesc.NumColumns()
}

// GetValue retrieves the value at index i.
func (t Tuple) GetValue(i int) common.Value {
	physCols := 0
	if t.rawDesc != nil {
		physCols = t.rawDesc.NumColumns()
	}
	if i < physCols {
		return t.rawDesc.GetValue(t.rawTuple, i)
	}
	return t.extraValues[i-physCols]
}

// Values returns safe copies of all values of the tuple.
func (t Tuple) Values() []common.Value {
	values := make([]common.Value, t.NumColumns())
	for i := range values {
		values[i] = t.GetValue(i).Copy()
	}
	return values
}

// DeepCopy creates a fully independent, physically materialized copy of the Tuple.
//
// Note that this would allocate new memory. It is used when the original buffer might be reused, but should not
// be blindly called for performance reasons.
func (t Tuple) DeepCopy(desc *RawTupleDesc) Tuple {
	common.Assert(t.NumColumns() == desc.NumColumns(), "tuple descriptor mismatch")
	dest := make([]byte, desc.BytesPerTuple())
	t.WriteToBuffer(dest, desc)
	return FromRawTuple(dest, desc)
}

func (t Tuple) String() string {
	s := "("
	for i := 0; i < t.NumColumns(); i++ {
		if i > 0 {
			s += ", "
		}
		s += t.GetValue(i).String()
	}
	return s + ")"
}
