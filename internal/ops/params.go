package ops

import (
	"fmt"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

func requiredInt(p ir.Object, key string) (int, error) {
	if _, ok := p[key]; !ok {
		return 0, fmt.Errorf("missing required param %q", key)
	}
	return intParam(p, key, 0)
}

func intParam(p ir.Object, key string, def int) (int, error) {
	v, ok := p[key]
	if !ok {
		return def, nil
	}
	n, ok := v.(ir.Int)
	if !ok {
		return 0, fmt.Errorf("param %q must be an integer, got %T", key, v)
	}
	return int(n), nil
}

func bitsParam(p ir.Object, key string, required bool) (bits.Buffer, error) {
	v, ok := p[key]
	if !ok {
		if required {
			return bits.Empty, fmt.Errorf("missing required param %q", key)
		}
		return bits.Empty, nil
	}
	s, ok := v.(ir.String)
	if !ok {
		return bits.Empty, fmt.Errorf("param %q must be a bit string, got %T", key, v)
	}
	b, err := bits.Parse(string(s))
	if err != nil {
		return bits.Empty, fmt.Errorf("param %q: %w", key, err)
	}
	return b, nil
}

// rangeParam reads optional start/end, defaulting to the whole buffer.
func rangeParam(p ir.Object, n int) (bits.Range, error) {
	start, err := intParam(p, "start", 0)
	if err != nil {
		return bits.Range{}, err
	}
	end, err := intParam(p, "end", n)
	if err != nil {
		return bits.Range{}, err
	}
	if start < 0 || start > end || end > n {
		return bits.Range{}, fmt.Errorf("range [%d,%d) out of bounds for length %d", start, end, n)
	}
	return bits.Range{Start: start, End: end}, nil
}

// fillParam reads "value" as a single bit, accepting 0/1 or "0"/"1".
func fillParam(p ir.Object) (byte, error) {
	v, ok := p["value"]
	if !ok {
		return '0', nil
	}
	switch val := v.(type) {
	case ir.Int:
		if val == 0 || val == 1 {
			return byte('0' + val), nil
		}
	case ir.String:
		if val == "0" || val == "1" {
			return val[0], nil
		}
	case ir.Bool:
		if val {
			return '1', nil
		}
		return '0', nil
	}
	return 0, fmt.Errorf("param \"value\" must be 0 or 1, got %v", v)
}
