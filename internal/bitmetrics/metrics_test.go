package bitmetrics

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/bitstrat/internal/bits"
)

func TestStandard_Compute(t *testing.T) {
	m := Standard{}.Compute(bits.MustParse("11100100"))

	assert.Equal(t, 8.0, m[Length])
	assert.Equal(t, 4.0, m[Ones])
	assert.Equal(t, 4.0, m[Zeros])
	assert.Equal(t, 0.5, m[OnesRatio])
	assert.InDelta(t, 1.0, m[Entropy], 1e-9)
	assert.Equal(t, 3.0, m[Transitions])
	assert.Equal(t, 4.0, m[Runs])
	assert.Equal(t, 3.0, m[LongestRunOnes])
	assert.Equal(t, 2.0, m[LongestRunZeros])
	assert.Equal(t, 0.0, m[ByteEntropy])
}

func TestStandard_Empty(t *testing.T) {
	m := Standard{}.Compute(bits.Empty)

	assert.Equal(t, 0.0, m[Length])
	assert.Equal(t, 0.0, m[Entropy])
	assert.Equal(t, 0.0, m[Runs])
	assert.Len(t, m, 10)
}

func TestStandard_Uniform(t *testing.T) {
	m := Standard{}.Compute(bits.MustParse("1111"))

	assert.Equal(t, 1.0, m[OnesRatio])
	assert.Equal(t, 0.0, m[Entropy])
	assert.Equal(t, 1.0, m[Runs])
	assert.Equal(t, 4.0, m[LongestRunOnes])
	assert.Equal(t, 0.0, m[LongestRunZeros])
}

func TestStandard_ByteEntropy(t *testing.T) {
	// Two distinct bytes, equally frequent.
	m := Standard{}.Compute(bits.FromBytes([]byte{0x00, 0xFF}))
	assert.InDelta(t, 1.0, m[ByteEntropy], 1e-9)
}

func TestStandard_Pure(t *testing.T) {
	b := bits.MustParse("1001101")
	assert.Equal(t, Standard{}.Compute(b), Standard{}.Compute(b))
}

func TestDelta(t *testing.T) {
	d := Delta(map[string]float64{"a": 1, "b": 2}, map[string]float64{"a": 3, "c": 1})
	assert.Equal(t, map[string]float64{"a": 2}, d)
}
