package common

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueRoundTrip(t *testing.T) {
	buf := make([]byte, StringLength)
	for _, v := range []Value{
		NewIntValue(0), NewIntValue(-42), NewIntValue(1 << 40), NewNullInt(),
		NewStringValue(""), NewStringValue("hello"), NewStringValue("padded   "), NewNullString(),
	} {
		v.WriteTo(buf)
		got := AsValue(v.Type(), buf).Copy()
		assert.Equal(t, v, got)
		assert.Equal(t, v.IsNull(), got.IsNull(), "%s", v)
		assert.Equal(t, 0, v.Compare(got), "%s", v)
		assert.Equal(t, v.String(), got.String())
	}
}

func TestValueCompareOrdersNullFirst(t *testing.T) {
	assert.Equal(t, -1, NewNullInt().Compare(NewIntValue(-100)))
	assert.Equal(t, 1, NewIntValue(-100).Compare(NewNullInt()))
	assert.Equal(t, 0, NewNullString().Compare(NewNullString()))
	assert.Equal(t, -1, NewStringValue("a").Compare(NewStringValue("a ")))
	assert.Panics(t, func() { NewIntValue(1).Compare(NewStringValue("1")) })
}

func TestValueCopyDetachesFromBuffer(t *testing.T) {
	buf := make([]byte, StringLength)
	NewStringValue("before").WriteTo(buf)
	borrowed := AsValue(StringType, buf)
	owned := borrowed.Copy()
	NewStringValue("after!").WriteTo(buf)
	assert.Equal(t, "after!", borrowed.StringValue())
	assert.Equal(t, "before", owned.StringValue())
	assert.Panics(t, func() { NewStringValue(string(make([]byte, StringLength+1))) })
}

func TestParseValue(t *testing.T) {
	v, err := ParseValue(IntType, " 17 ")
	require.NoError(t, err)
	assert.Equal(t, int64(17), v.IntValue())

	v, err = ParseValue(StringType, "null")
	require.NoError(t, err)
	assert.True(t, v.IsNull())

	v, err = ParseValue(StringType, " keep blanks ")
	require.NoError(t, err)
	assert.Equal(t, " keep blanks ", v.StringValue())

	_, err = ParseValue(IntType, "x")
	assert.Error(t, err)
	_, err = ParseValue(IntType, "-9223372036854775808")
	assert.Error(t, err, "the NULL sentinel is not a value")
	_, err = ParseValue(StringType, "0123456789012345678901234567890123")
	assert.Error(t, err)
}

func TestTrimTrailingBlanks(t *testing.T) {
	assert.Equal(t, "  a", TrimTrailingBlanks("  a  "))
	assert.Equal(t, "", TrimTrailingBlanks("   "))
	assert.Equal(t, "a\t", TrimTrailingBlanks("a\t"))
}
