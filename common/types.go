package common

import (
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unsafe"
)

const (
	PageSize     int = 4096
	IntSize      int = 8
	StringLength int = 32
)

// Column encodings. Every value has a fixed width so rows are plain byte arrays:
//
//	int:    8 bytes little endian, math.MinInt64 is NULL
//	string: StringLength bytes, zero padded, a leading 0xFF is NULL
const (
	nullInt          int64 = math.MinInt64
	nullStringMarker byte  = 0xFF
)

type Type int8

const (
	IntType Type = iota + 1
	StringType
)

// Size returns the encoded width of the type in bytes.
func (t Type) Size() int {
	switch t {
	case IntType:
		return IntSize
	case StringType:
		return StringLength
	}
	panic(fmt.Sprintf("no width for type %d", int8(t)))
}

func (t Type) String() string {
	switch t {
	case IntType:
		return "int"
	case StringType:
		return "string"
	}
	return "unknown"
}

// ObjectID identifies a file managed by a DBFileManager. The hash engine allocates one per temporary spill
// segment.
type ObjectID uint32

// PageID names a page of a spill file.
type PageID struct {
	Oid     ObjectID
	PageNum int32
}

func (p PageID) String() string {
	return fmt.Sprintf("Page(%d, %d)", p.Oid, p.PageNum)
}

// IsNil reports whether the PageID names no page. ObjectID 0 is never allocated.
func (p PageID) IsNil() bool {
	return p.Oid == 0
}

// Value is one decoded column value.
//
// A string decoded by AsValue borrows the bytes it was decoded from; Copy detaches it.
type Value struct {
	t        Type
	null     bool
	borrowed bool
	i        int64
	s        string
}

// AsValue decodes a value of type t from the front of src without copying string bytes.
func AsValue(t Type, src []byte) Value {
	switch t {
	case IntType:
		i := int64(binary.LittleEndian.Uint64(src))
		if i == nullInt {
			return Value{t: t, null: true}
		}
		return Value{t: t, i: i}
	case StringType:
		if src[0] == nullStringMarker {
			return Value{t: t, null: true}
		}
		Assert(len(src) >= StringLength, "string field of %d bytes", len(src))
		n := StringLength
		for i, b := range src[:StringLength] {
			if b == 0 {
				n = i
				break
			}
		}
		if n == 0 {
			return Value{t: t}
		}
		return Value{t: t, borrowed: true, s: unsafe.String(&src[0], n)}
	}
	panic(fmt.Sprintf("decoding type %d", int8(t)))
}

// Copy returns a value that no longer refers to the buffer it was decoded from.
func (v Value) Copy() Value {
	if v.borrowed {
		v.s = strings.Clone(v.s)
		v.borrowed = false
	}
	return v
}

func NewIntValue(v int64) Value {
	return Value{t: IntType, i: v}
}

// NewStringValue panics if v is longer than StringLength bytes.
func NewStringValue(v string) Value {
	Assert(len(v) <= StringLength, "string %q longer than %d bytes", v, StringLength)
	return Value{t: StringType, s: v}
}

func NewNullInt() Value {
	return Value{t: IntType, null: true}
}

func NewNullString() Value {
	return Value{t: StringType, null: true}
}

// NewNullValue returns the NULL of type t.
func NewNullValue(t Type) Value {
	Assert(t == IntType || t == StringType, "NULL of type %d", int8(t))
	return Value{t: t, null: true}
}

func (v Value) Type() Type {
	return v.t
}

func (v Value) IsNull() bool {
	return v.null
}

// IntValue returns the integer of a non-NULL int value.
func (v Value) IntValue() int64 {
	Assert(v.t == IntType && !v.null, "IntValue of %s", v.describe())
	return v.i
}

// StringValue returns the string of a non-NULL string value.
func (v Value) StringValue() string {
	Assert(v.t == StringType && !v.null, "StringValue of %s", v.describe())
	return v.s
}

func (v Value) describe() string {
	if v.null {
		return "NULL " + v.t.String()
	}
	return v.t.String()
}

// WriteTo encodes v into the front of dst.
func (v Value) WriteTo(dst []byte) {
	Assert(len(dst) >= v.t.Size(), "buffer of %d bytes for a %s", len(dst), v.t)
	switch v.t {
	case IntType:
		i := v.i
		if v.null {
			i = nullInt
		}
		binary.LittleEndian.PutUint64(dst, uint64(i))
	case StringType:
		field := dst[:StringLength]
		clear(field)
		if v.null {
			field[0] = nullStringMarker
			return
		}
		copy(field, v.s)
	}
}

// Compare orders two values of the same type, NULL first. It returns -1, 0 or 1.
func (v Value) Compare(other Value) int {
	Assert(v.t == other.t, "comparing %s with %s", v.t, other.t)
	switch {
	case v.null || other.null:
		if v.null == other.null {
			return 0
		}
		if v.null {
			return -1
		}
		return 1
	case v.t == IntType:
		return cmpOrdered(v.i, other.i)
	default:
		return strings.Compare(v.s, other.s)
	}
}

func cmpOrdered(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// String renders the value for display. NULL renders as "NULL".
func (v Value) String() string {
	switch {
	case v.null:
		return "NULL"
	case v.t == IntType:
		return strconv.FormatInt(v.i, 10)
	case v.t == StringType:
		return v.s
	}
	return "<nil>"
}

// ParseValue parses the textual form of a value of type t. The literal "NULL" (any case) parses to NULL.
func ParseValue(t Type, s string) (Value, error) {
	if strings.EqualFold(s, "NULL") {
		return NewNullValue(t), nil
	}
	switch t {
	case IntType:
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return Value{}, err
		}
		if i == nullInt {
			return Value{}, fmt.Errorf("%d is reserved for NULL", i)
		}
		return NewIntValue(i), nil
	case StringType:
		if len(s) > StringLength {
			return Value{}, fmt.Errorf("string %q longer than %d bytes", s, StringLength)
		}
		return NewStringValue(s), nil
	}
	return Value{}, fmt.Errorf("cannot parse value of type %s", t)
}

// TrimTrailingBlanks strips trailing spaces, the padding that is insignificant when comparing varchar keys.
func TrimTrailingBlanks(s string) string {
	return strings.TrimRight(s, " ")
}
