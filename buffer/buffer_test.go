package buffer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendReadPrimitivesRoundTrip(t *testing.T) {
	b := New()
	Append(b, int8(-12))
	Append(b, uint8(200))
	Append(b, int16(-3000))
	Append(b, uint16(60000))
	Append(b, int32(-70000))
	Append(b, uint32(4000000000))
	Append(b, int64(-1234567890123))
	Append(b, uint64(18446744073709551615))
	Append(b, float32(3.5))
	Append(b, float64(-2.25))
	Append(b, true)
	Append(b, false)

	require.Equal(t, b.Size(), 1+1+2+2+4+4+8+8+4+8+1+1)

	v1, err := Read[int8](b)
	require.NoError(t, err)
	require.Equal(t, int8(-12), v1)

	v2, err := Read[uint8](b)
	require.NoError(t, err)
	require.Equal(t, uint8(200), v2)

	v3, err := Read[int16](b)
	require.NoError(t, err)
	require.Equal(t, int16(-3000), v3)

	v4, err := Read[uint16](b)
	require.NoError(t, err)
	require.Equal(t, uint16(60000), v4)

	v5, err := Read[int32](b)
	require.NoError(t, err)
	require.Equal(t, int32(-70000), v5)

	v6, err := Read[uint32](b)
	require.NoError(t, err)
	require.Equal(t, uint32(4000000000), v6)

	v7, err := Read[int64](b)
	require.NoError(t, err)
	require.Equal(t, int64(-1234567890123), v7)

	v8, err := Read[uint64](b)
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), v8)

	v9, err := Read[float32](b)
	require.NoError(t, err)
	require.Equal(t, float32(3.5), v9)

	v10, err := Read[float64](b)
	require.NoError(t, err)
	require.Equal(t, float64(-2.25), v10)

	v11, err := Read[bool](b)
	require.NoError(t, err)
	require.True(t, v11)

	v12, err := Read[bool](b)
	require.NoError(t, err)
	require.False(t, v12)

	require.Equal(t, b.Size(), b.Position())
}

func TestAppendReadBytesAndString(t *testing.T) {
	b := New()
	b.AppendBytes([]byte("hello"))
	b.AppendString("world")

	got, err := b.ReadBytes()
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	s, err := b.ReadString()
	require.NoError(t, err)
	require.Equal(t, "world", s)
}

func TestAppendFormatTruncates(t *testing.T) {
	b := New()
	b.AppendFormat("[%04d] %s", 7, "line")
	s, err := b.ReadString()
	require.NoError(t, err)
	require.Equal(t, "[0007] line", s)

	b2 := New()
	long := make([]byte, formatScratchSize*2)
	for i := range long {
		long[i] = 'x'
	}
	b2.AppendFormat("%s", string(long))
	s2, err := b2.ReadString()
	require.NoError(t, err)
	require.Len(t, s2, formatScratchSize-1)
}

func TestAppendBuffer(t *testing.T) {
	inner := New()
	Append(inner, int32(42))
	inner.SetPosition(4) // cursor state must not leak into the outer append

	outer := New()
	outer.AppendBuffer(inner)

	nested, err := outer.ReadBuffer()
	require.NoError(t, err)
	v, err := Read[int32](nested)
	require.NoError(t, err)
	require.Equal(t, int32(42), v)
}

func TestAppendSliceRoundTrip(t *testing.T) {
	b := New()
	in := []int32{1, 2, 3, 4, 5}
	AppendSlice(b, in)
	out, err := ReadSlice[int32](b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestAppendMapRoundTrip(t *testing.T) {
	b := New()
	in := map[string]int32{"a": 1, "b": 2, "c": 3}
	AppendMap(b, in)
	out, err := ReadMap[string, int32](b)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestSizeAfterChainedAppends(t *testing.T) {
	b := New()
	Append(b, int32(1))
	b.AppendBytes([]byte("ab"))
	Append(b, uint8(9))
	require.Equal(t, 4+(4+2)+1, b.Size())
}

func TestClearResetsState(t *testing.T) {
	b := New()
	Append(b, int32(1))
	_, _ = Read[int32](b)
	b.Clear()
	require.True(t, b.IsEmpty())
	require.Equal(t, 0, b.Size())
	require.Equal(t, 0, b.Position())
}

func TestReadPastEndFailsCleanly(t *testing.T) {
	b := New()
	_, err := Read[int32](b)
	require.ErrorIs(t, err, ErrShortBuffer)
}

func TestDumpFormatsRows(t *testing.T) {
	b := New()
	for i := 0; i < 20; i++ {
		Append(b, uint8(i))
	}
	dump := b.Dump()
	require.Contains(t, dump, "Size: 20 bytes")
	// 20 bytes -> ceil(20/16) = 2 data rows.
	require.Equal(t, 2, countHexRows(dump))
}

func countHexRows(dump string) int {
	n := 0
	for _, line := range splitLines(dump) {
		if len(line) > 8 && line[8:10] == "  " {
			n++
		}
	}
	return n
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i, c := range s {
		if c == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	return lines
}
