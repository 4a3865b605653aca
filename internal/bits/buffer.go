// Package bits provides the immutable bit-string value the engine operates on.
//
// A Buffer is an ordered sequence of '0'/'1' characters. Every operation
// returns a new Buffer; nothing in this package mutates a Buffer in place.
package bits

import (
	"fmt"
	"strings"
)

// Buffer is an immutable bit-string. The zero value is the empty buffer.
type Buffer string

// Empty is the zero-length buffer.
const Empty Buffer = ""

// Parse validates s and returns it as a Buffer.
// Whitespace and underscores are ignored so long inputs can be grouped.
func Parse(s string) (Buffer, error) {
	var sb strings.Builder
	sb.Grow(len(s))
	for i, r := range s {
		switch r {
		case '0', '1':
			sb.WriteRune(r)
		case ' ', '\t', '\n', '\r', '_':
		default:
			return Empty, fmt.Errorf("invalid bit character %q at offset %d", r, i)
		}
	}
	return Buffer(sb.String()), nil
}

// MustParse is like Parse but panics on error.
// Use only in tests or for literals known to be valid.
func MustParse(s string) Buffer {
	b, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return b
}

// FromBytes expands data into bits, most significant bit first.
func FromBytes(data []byte) Buffer {
	out := make([]byte, 0, len(data)*8)
	for _, b := range data {
		for i := 7; i >= 0; i-- {
			if b&(1<<uint(i)) != 0 {
				out = append(out, '1')
			} else {
				out = append(out, '0')
			}
		}
	}
	return Buffer(out)
}

// Bytes packs the buffer MSB first. A trailing partial byte is zero padded
// on the right.
func (b Buffer) Bytes() []byte {
	out := make([]byte, (len(b)+7)/8)
	for i := 0; i < len(b); i++ {
		if b[i] == '1' {
			out[i/8] |= 1 << uint(7-i%8)
		}
	}
	return out
}

// Len returns the number of bits.
func (b Buffer) Len() int {
	return len(b)
}

// At reports whether bit i is set. Panics when i is out of range.
func (b Buffer) At(i int) bool {
	return b[i] == '1'
}

// Slice returns bits [start, end). Bounds are clamped to the buffer.
func (b Buffer) Slice(start, end int) Buffer {
	if start < 0 {
		start = 0
	}
	if end > len(b) {
		end = len(b)
	}
	if start >= end {
		return Empty
	}
	return b[start:end]
}

// String returns the textual form.
func (b Buffer) String() string {
	return string(b)
}

// Ones counts set bits.
func (b Buffer) Ones() int {
	return strings.Count(string(b), "1")
}

// Valid reports whether every character is '0' or '1'.
func (b Buffer) Valid() bool {
	for i := 0; i < len(b); i++ {
		if b[i] != '0' && b[i] != '1' {
			return false
		}
	}
	return true
}

// Preview returns at most n leading bits followed by an ellipsis when the
// buffer is longer. Used for log lines.
func (b Buffer) Preview(n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
