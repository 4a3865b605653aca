package bits

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Buffer
		wantErr bool
	}{
		{"plain", "1010", "1010", false},
		{"grouped", "1010_0101", "10100101", false},
		{"whitespace", " 10\n01 ", "1001", false},
		{"empty", "", Empty, false},
		{"invalid", "10a1", Empty, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromBytesRoundTrip(t *testing.T) {
	b := FromBytes([]byte{0xA5, 0x01})
	assert.Equal(t, Buffer("1010010100000001"), b)
	assert.Equal(t, []byte{0xA5, 0x01}, b.Bytes())
}

func TestBytes_PartialBytePadsRight(t *testing.T) {
	assert.Equal(t, []byte{0xE0}, MustParse("111").Bytes())
	assert.Empty(t, Empty.Bytes())
}

func TestSlice_Clamps(t *testing.T) {
	b := MustParse("110011")
	assert.Equal(t, Buffer("0011"), b.Slice(2, 100))
	assert.Equal(t, Buffer("11"), b.Slice(-3, 2))
	assert.Equal(t, Empty, b.Slice(4, 2))
}

func TestOnesAndPreview(t *testing.T) {
	b := MustParse("1101")
	assert.Equal(t, 3, b.Ones())
	assert.Equal(t, "11...", b.Preview(2))
	assert.Equal(t, "1101", b.Preview(10))
}

func TestRange(t *testing.T) {
	assert.True(t, Range{0, 4}.Valid(4))
	assert.False(t, Range{2, 2}.Valid(4))
	assert.False(t, Range{0, 5}.Valid(4))
	assert.True(t, Range{0, 4}.Overlaps(Range{3, 6}))
	assert.False(t, Range{0, 4}.Overlaps(Range{4, 6}))
	assert.True(t, Disjoint([]Range{{0, 4}, {4, 8}, {8, 9}}))
	assert.False(t, Disjoint([]Range{{0, 4}, {8, 9}, {3, 5}}))
}

func TestMismatches(t *testing.T) {
	assert.Equal(t, []int{1, 3}, Mismatches("1010", "1111", 4))
	assert.Equal(t, []int{4, 5}, Mismatches("1010", "101011", 6))
	assert.Equal(t, []int{}, Mismatches("10", "10", 2))
}

func TestChangedRanges(t *testing.T) {
	assert.Equal(t, []Range{{1, 2}, {3, 5}}, ChangedRanges("10100", "11111"))
	assert.Equal(t, []Range{{4, 6}}, ChangedRanges("1010", "101011"))
	assert.Equal(t, []Range{}, ChangedRanges("1010", "1010"))
}

func TestWithin(t *testing.T) {
	assert.True(t, Within("0000", "0110", Range{1, 3}))
	assert.False(t, Within("0000", "0111", Range{1, 3}))
	assert.False(t, Within("0000", "00000", Range{0, 5}))
}

func TestReadWriteFile(t *testing.T) {
	dir := t.TempDir()

	txt := filepath.Join(dir, "input.bits")
	require.NoError(t, WriteFile(txt, "101"))
	got, err := ReadFile(txt)
	require.NoError(t, err)
	assert.Equal(t, Buffer("101"), got)

	bin := filepath.Join(dir, "input.bin")
	require.NoError(t, WriteFile(bin, "10100101"))
	got, err = ReadFile(bin)
	require.NoError(t, err)
	assert.Equal(t, Buffer("10100101"), got)
}
