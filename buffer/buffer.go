// Package buffer implements ByteBuffer, the self-framing binary codec used
// as the wire format for every other LightIPC component. Every append grows
// the underlying byte sequence; every read consumes from a monotonically
// advancing cursor and never rewinds it implicitly.
//
// The codec commits to little-endian on the wire (spec's recommended
// alternative to raw host-endian byte images), so two peers on different
// architectures still interoperate as long as both run this implementation.
package buffer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrShortBuffer is returned by any read that would advance the cursor
// past the end of the buffer.
var ErrShortBuffer = errors.New("buffer: read past end of buffer")

// ErrInvalidPosition is returned by SetPosition for an out-of-range offset.
var ErrInvalidPosition = errors.New("buffer: position out of range")

// formatScratchSize bounds AppendFormat's rendered string, mirroring the
// original implementation's fixed-size printf scratch buffer.
const formatScratchSize = 4096

// ByteBuffer is an ordered byte sequence plus a non-negative read cursor.
type ByteBuffer struct {
	data []byte
	pos  int
}

// New returns an empty ByteBuffer. reserve, if given, pre-sizes the backing
// array (a capacity hint only — it never bounds how far the buffer grows).
func New(reserve ...int) *ByteBuffer {
	n := 2048
	if len(reserve) > 0 && reserve[0] > 0 {
		n = reserve[0]
	}
	return &ByteBuffer{data: make([]byte, 0, n)}
}

// FromBytes seeds a buffer from existing bytes, copying them so later
// appends never alias the caller's slice.
func FromBytes(data []byte) *ByteBuffer {
	b := &ByteBuffer{data: make([]byte, len(data))}
	copy(b.data, data)
	return b
}

// FromString seeds a buffer from a string's bytes.
func FromString(s string) *ByteBuffer {
	return FromBytes([]byte(s))
}

// IsEmpty reports whether the buffer holds zero bytes.
func (b *ByteBuffer) IsEmpty() bool {
	return len(b.data) == 0
}

// Size returns the number of bytes currently held.
func (b *ByteBuffer) Size() int {
	return len(b.data)
}

// Clear resets the buffer to empty and rewinds the cursor to zero.
func (b *ByteBuffer) Clear() {
	b.data = b.data[:0]
	b.pos = 0
}

// Data returns the buffer's bytes-as-opaque-string form. The caller must
// not mutate the returned slice; it aliases the buffer's storage.
func (b *ByteBuffer) Data() []byte {
	return b.data
}

// Position returns the number of bytes already consumed by reads.
func (b *ByteBuffer) Position() int {
	return b.pos
}

// SetPosition rewinds or advances the read cursor to an arbitrary offset.
func (b *ByteBuffer) SetPosition(pos int) error {
	if pos < 0 || pos > len(b.data) {
		return ErrInvalidPosition
	}
	b.pos = pos
	return nil
}

// remaining returns the unread tail of the buffer.
func (b *ByteBuffer) remaining() []byte {
	return b.data[b.pos:]
}

// appendCount writes n as a truncated, signed 32-bit length prefix — the
// spec's size_t narrowing rule shared by every variable-length shape.
func (b *ByteBuffer) appendCount(n int) {
	b.data = binary.LittleEndian.AppendUint32(b.data, uint32(int32(n)))
}

// readCount reads a signed 32-bit length prefix written by appendCount.
func (b *ByteBuffer) readCount() (int, error) {
	if len(b.remaining()) < 4 {
		return 0, ErrShortBuffer
	}
	v := int32(binary.LittleEndian.Uint32(b.remaining()))
	b.pos += 4
	return int(v), nil
}

// AppendSize appends a size_t-typed count, narrowed to int32 before
// encoding as the spec requires (both peers must run compatible bitness
// for values that do not fit in 32 bits).
func (b *ByteBuffer) AppendSize(n int) *ByteBuffer {
	b.appendCount(n)
	return b
}

// ReadSize is the inverse of AppendSize.
func (b *ByteBuffer) ReadSize() (int, error) {
	return b.readCount()
}

// AppendBytes appends a length-prefixed, counted byte string.
func (b *ByteBuffer) AppendBytes(p []byte) *ByteBuffer {
	b.appendCount(len(p))
	b.data = append(b.data, p...)
	return b
}

// ReadBytes reads a counted byte string written by AppendBytes.
func (b *ByteBuffer) ReadBytes() ([]byte, error) {
	n, err := b.readCount()
	if err != nil {
		return nil, err
	}
	if n < 0 || len(b.remaining()) < n {
		return nil, ErrShortBuffer
	}
	out := make([]byte, n)
	copy(out, b.data[b.pos:b.pos+n])
	b.pos += n
	return out, nil
}

// AppendString appends a string the same way a null-terminated character
// array is appended in the original: length computed up front, then the
// bytes, with no embedded terminator on the wire.
func (b *ByteBuffer) AppendString(s string) *ByteBuffer {
	return b.AppendBytes([]byte(s))
}

// ReadString is the inverse of AppendString.
func (b *ByteBuffer) ReadString() (string, error) {
	p, err := b.ReadBytes()
	if err != nil {
		return "", err
	}
	return string(p), nil
}

// AppendFormat renders format/args with fmt.Sprintf into a fixed-size
// scratch (truncated silently past formatScratchSize bytes, matching the
// original's printf-into-scratch-buffer behavior) and appends the result
// as a counted string.
func (b *ByteBuffer) AppendFormat(format string, args ...any) *ByteBuffer {
	s := fmt.Sprintf(format, args...)
	if len(s) > formatScratchSize-1 {
		s = s[:formatScratchSize-1]
	}
	return b.AppendString(s)
}

// AppendBuffer appends another buffer's bytes as a counted byte string.
// The nested buffer's own read cursor is ignored, per spec.
func (b *ByteBuffer) AppendBuffer(other *ByteBuffer) *ByteBuffer {
	return b.AppendBytes(other.data)
}

// ReadBuffer reads a nested buffer written by AppendBuffer.
func (b *ByteBuffer) ReadBuffer() (*ByteBuffer, error) {
	p, err := b.ReadBytes()
	if err != nil {
		return nil, err
	}
	return FromBytes(p), nil
}

// Primitive is the set of fixed-width scalar types ByteBuffer can append
// and read directly as raw wire bytes.
type Primitive interface {
	int8 | uint8 | int16 | uint16 | int32 | uint32 | int64 | uint64 |
		int | uint | float32 | float64 | bool
}

// Append writes v's little-endian byte image (or, for bool, a single
// 0/1 byte) and returns b for chaining. Free function: Go methods cannot
// carry their own type parameters, so every generic operation in this
// package is a function taking *ByteBuffer rather than a method on it.
func Append[T Primitive](b *ByteBuffer, v T) *ByteBuffer {
	b.data = writePrimitive(b.data, v)
	return b
}

// Read consumes one T's worth of bytes written by Append.
func Read[T Primitive](b *ByteBuffer) (T, error) {
	v, n, err := readPrimitive[T](b.remaining())
	if err != nil {
		return v, err
	}
	b.pos += n
	return v, nil
}

// AppendSlice writes the element count (int32) followed by each element,
// mirroring a homogeneous std::vector<T> in the original.
func AppendSlice[T Primitive](b *ByteBuffer, s []T) *ByteBuffer {
	b.appendCount(len(s))
	for _, v := range s {
		Append(b, v)
	}
	return b
}

// ReadSlice is the inverse of AppendSlice.
func ReadSlice[T Primitive](b *ByteBuffer) ([]T, error) {
	n, err := b.readCount()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrShortBuffer
	}
	out := make([]T, 0, n)
	for i := 0; i < n; i++ {
		v, err := Read[T](b)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// AppendMap writes the entry count (int32) followed by key, value for
// each entry in Go's (unspecified) map iteration order, mirroring a
// homogeneous std::map<K,V> in the original.
func AppendMap[K comparable, V Primitive](b *ByteBuffer, m map[K]V) *ByteBuffer {
	b.appendCount(len(m))
	for k, v := range m {
		appendMapKey(b, k)
		Append(b, v)
	}
	return b
}

// appendMapKey appends a map key of any integer or string type; any other
// key type (float, bool, ...) panics.
// Kept separate from AppendMap's value encoding because map keys are
// frequently strings, which are not part of the Primitive constraint.
func appendMapKey[K comparable](b *ByteBuffer, k K) {
	switch v := any(k).(type) {
	case string:
		b.AppendString(v)
	case int8:
		Append(b, v)
	case uint8:
		Append(b, v)
	case int16:
		Append(b, v)
	case uint16:
		Append(b, v)
	case int32:
		Append(b, v)
	case uint32:
		Append(b, v)
	case int64:
		Append(b, v)
	case uint64:
		Append(b, v)
	case int:
		Append(b, v)
	case uint:
		Append(b, v)
	default:
		panic(fmt.Sprintf("buffer: unsupported map key type %T", k))
	}
}

// readMapKey is the inverse of appendMapKey.
func readMapKey[K comparable](b *ByteBuffer) (K, error) {
	var zero K
	switch any(zero).(type) {
	case string:
		s, err := b.ReadString()
		return any(s).(K), err
	case int8:
		v, err := Read[int8](b)
		return any(v).(K), err
	case uint8:
		v, err := Read[uint8](b)
		return any(v).(K), err
	case int16:
		v, err := Read[int16](b)
		return any(v).(K), err
	case uint16:
		v, err := Read[uint16](b)
		return any(v).(K), err
	case int32:
		v, err := Read[int32](b)
		return any(v).(K), err
	case uint32:
		v, err := Read[uint32](b)
		return any(v).(K), err
	case int64:
		v, err := Read[int64](b)
		return any(v).(K), err
	case uint64:
		v, err := Read[uint64](b)
		return any(v).(K), err
	case int:
		v, err := Read[int](b)
		return any(v).(K), err
	case uint:
		v, err := Read[uint](b)
		return any(v).(K), err
	default:
		return zero, fmt.Errorf("buffer: unsupported map key type %T", zero)
	}
}

// ReadMap is the inverse of AppendMap.
func ReadMap[K comparable, V Primitive](b *ByteBuffer) (map[K]V, error) {
	n, err := b.readCount()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, ErrShortBuffer
	}
	out := make(map[K]V, n)
	for i := 0; i < n; i++ {
		k, err := readMapKey[K](b)
		if err != nil {
			return nil, err
		}
		v, err := Read[V](b)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// writePrimitive appends v's little-endian byte image to data.
func writePrimitive[T Primitive](data []byte, v T) []byte {
	switch x := any(v).(type) {
	case bool:
		if x {
			return append(data, 1)
		}
		return append(data, 0)
	case int8:
		return append(data, byte(x))
	case uint8:
		return append(data, x)
	case int16:
		return binary.LittleEndian.AppendUint16(data, uint16(x))
	case uint16:
		return binary.LittleEndian.AppendUint16(data, x)
	case int32:
		return binary.LittleEndian.AppendUint32(data, uint32(x))
	case uint32:
		return binary.LittleEndian.AppendUint32(data, x)
	case int64:
		return binary.LittleEndian.AppendUint64(data, uint64(x))
	case uint64:
		return binary.LittleEndian.AppendUint64(data, x)
	case int:
		return binary.LittleEndian.AppendUint64(data, uint64(x))
	case uint:
		return binary.LittleEndian.AppendUint64(data, uint64(x))
	case float32:
		return binary.LittleEndian.AppendUint32(data, math.Float32bits(x))
	case float64:
		return binary.LittleEndian.AppendUint64(data, math.Float64bits(x))
	default:
		panic(fmt.Sprintf("buffer: unsupported primitive type %T", v))
	}
}

// readPrimitive reads a T's worth of little-endian bytes from the front of
// data, returning the value and the number of bytes consumed.
func readPrimitive[T Primitive](data []byte) (T, int, error) {
	var zero T
	switch any(zero).(type) {
	case bool:
		if len(data) < 1 {
			return zero, 0, ErrShortBuffer
		}
		return any(data[0] != 0).(T), 1, nil
	case int8:
		if len(data) < 1 {
			return zero, 0, ErrShortBuffer
		}
		return any(int8(data[0])).(T), 1, nil
	case uint8:
		if len(data) < 1 {
			return zero, 0, ErrShortBuffer
		}
		return any(data[0]).(T), 1, nil
	case int16:
		if len(data) < 2 {
			return zero, 0, ErrShortBuffer
		}
		return any(int16(binary.LittleEndian.Uint16(data))).(T), 2, nil
	case uint16:
		if len(data) < 2 {
			return zero, 0, ErrShortBuffer
		}
		return any(binary.LittleEndian.Uint16(data)).(T), 2, nil
	case int32:
		if len(data) < 4 {
			return zero, 0, ErrShortBuffer
		}
		return any(int32(binary.LittleEndian.Uint32(data))).(T), 4, nil
	case uint32:
		if len(data) < 4 {
			return zero, 0, ErrShortBuffer
		}
		return any(binary.LittleEndian.Uint32(data)).(T), 4, nil
	case int64:
		if len(data) < 8 {
			return zero, 0, ErrShortBuffer
		}
		return any(int64(binary.LittleEndian.Uint64(data))).(T), 8, nil
	case uint64:
		if len(data) < 8 {
			return zero, 0, ErrShortBuffer
		}
		return any(binary.LittleEndian.Uint64(data)).(T), 8, nil
	case int:
		if len(data) < 8 {
			return zero, 0, ErrShortBuffer
		}
		return any(int(int64(binary.LittleEndian.Uint64(data)))).(T), 8, nil
	case uint:
		if len(data) < 8 {
			return zero, 0, ErrShortBuffer
		}
		return any(uint(binary.LittleEndian.Uint64(data))).(T), 8, nil
	case float32:
		if len(data) < 4 {
			return zero, 0, ErrShortBuffer
		}
		return any(math.Float32frombits(binary.LittleEndian.Uint32(data))).(T), 4, nil
	case float64:
		if len(data) < 8 {
			return zero, 0, ErrShortBuffer
		}
		return any(math.Float64frombits(binary.LittleEndian.Uint64(data))).(T), 8, nil
	default:
		return zero, 0, fmt.Errorf("buffer: unsupported primitive type %T", zero)
	}
}

// Dump renders a hex+ASCII dump: a size header followed by 16-bytes-per-row
// groups with per-row offsets, the shorter last row padded with spaces.
func (b *ByteBuffer) Dump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Size: %d bytes\n", len(b.data))
	for off := 0; off < len(b.data); off += 16 {
		end := off + 16
		if end > len(b.data) {
			end = len(b.data)
		}
		row := b.data[off:end]
		fmt.Fprintf(&sb, "%08x  ", off)
		for i := 0; i < 16; i++ {
			if i < len(row) {
				fmt.Fprintf(&sb, "%02x ", row[i])
			} else {
				sb.WriteString("   ")
			}
		}
		sb.WriteString(" ")
		for _, c := range row {
			if c >= 0x20 && c < 0x7f {
				sb.WriteByte(c)
			} else {
				sb.WriteByte('.')
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// Print writes Dump's output to stdout.
func (b *ByteBuffer) Print() {
	fmt.Print(b.Dump())
}
