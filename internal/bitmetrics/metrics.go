// Package bitmetrics computes numeric descriptors of a bit-string.
package bitmetrics

import (
	"math"

	"github.com/roach88/bitstrat/internal/bits"
)

// Metric names produced by Standard.
const (
	Length          = "length"
	Ones            = "ones"
	Zeros           = "zeros"
	OnesRatio       = "ones_ratio"
	Entropy         = "entropy"
	Transitions     = "transitions"
	Runs            = "runs"
	LongestRunOnes  = "longest_run_ones"
	LongestRunZeros = "longest_run_zeros"
	ByteEntropy     = "byte_entropy"
)

// Calculator maps a bit-string to named metrics. Implementations must be
// pure functions of the bits.
type Calculator interface {
	Compute(b bits.Buffer) map[string]float64
}

// Standard is the built-in Calculator.
type Standard struct{}

// Compute implements Calculator.
func (Standard) Compute(b bits.Buffer) map[string]float64 {
	n := b.Len()
	ones := b.Ones()
	m := map[string]float64{
		Length:          float64(n),
		Ones:            float64(ones),
		Zeros:           float64(n - ones),
		OnesRatio:       0,
		Entropy:         0,
		Transitions:     0,
		Runs:            0,
		LongestRunOnes:  0,
		LongestRunZeros: 0,
		ByteEntropy:     byteEntropy(b),
	}
	if n == 0 {
		return m
	}

	p := float64(ones) / float64(n)
	m[OnesRatio] = p
	m[Entropy] = binaryEntropy(p)

	runs, transitions := 1, 0
	run, longest1, longest0 := 1, 0, 0
	track := func(c byte, length int) {
		if c == '1' && length > longest1 {
			longest1 = length
		}
		if c == '0' && length > longest0 {
			longest0 = length
		}
	}
	for i := 1; i < n; i++ {
		if b[i] != b[i-1] {
			transitions++
			runs++
			track(b[i-1], run)
			run = 1
		} else {
			run++
		}
	}
	track(b[n-1], run)

	m[Transitions] = float64(transitions)
	m[Runs] = float64(runs)
	m[LongestRunOnes] = float64(longest1)
	m[LongestRunZeros] = float64(longest0)
	return m
}

// binaryEntropy is the Shannon entropy in bits of a Bernoulli(p) source.
func binaryEntropy(p float64) float64 {
	if p <= 0 || p >= 1 {
		return 0
	}
	return -(p*math.Log2(p) + (1-p)*math.Log2(1-p))
}

// byteEntropy is the Shannon entropy over whole bytes, in bits per byte.
// A trailing partial byte is ignored.
func byteEntropy(b bits.Buffer) float64 {
	whole := b.Len() / 8
	if whole == 0 {
		return 0
	}
	data := b.Slice(0, whole*8).Bytes()
	var counts [256]int
	for _, c := range data {
		counts[c]++
	}
	var h float64
	total := float64(len(data))
	for _, c := range counts {
		if c == 0 {
			continue
		}
		p := float64(c) / total
		h -= p * math.Log2(p)
	}
	return h
}

// Delta returns after-before for every metric present in both maps.
func Delta(before, after map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(after))
	for k, a := range after {
		if bv, ok := before[k]; ok {
			out[k] = a - bv
		}
	}
	return out
}
