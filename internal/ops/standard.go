package ops

import (
	"fmt"
	"math"
	"strings"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
)

// Standard returns a library holding the built-in operations with their
// default costs.
func Standard() *Library {
	l := NewLibrary()
	for _, def := range standardDefinitions() {
		if err := l.Register(def); err != nil {
			panic(err)
		}
	}
	return l
}

func standardDefinitions() []Definition {
	return []Definition{
		{Name: "NOT", Category: CategoryBitwise, Cost: 1, Description: "invert every bit", Params: rangeParams(), Apply: applyNot},
		{Name: "AND", Category: CategoryBitwise, Cost: 2, Description: "AND with a repeating mask", Params: maskParams(), Apply: maskOp(func(a, m byte) byte { return a & m })},
		{Name: "OR", Category: CategoryBitwise, Cost: 2, Description: "OR with a repeating mask", Params: maskParams(), Apply: maskOp(func(a, m byte) byte { return a | m })},
		{Name: "XOR", Category: CategoryBitwise, Cost: 2, Description: "XOR with a repeating mask", Params: maskParams(), Apply: maskOp(func(a, m byte) byte { return a ^ m })},
		{Name: "NAND", Category: CategoryBitwise, Cost: 2, Description: "NAND with a repeating mask", Params: maskParams(), Apply: maskOp(func(a, m byte) byte { return 1 ^ (a & m) })},
		{Name: "NOR", Category: CategoryBitwise, Cost: 2, Description: "NOR with a repeating mask", Params: maskParams(), Apply: maskOp(func(a, m byte) byte { return 1 ^ (a | m) })},
		{Name: "XNOR", Category: CategoryBitwise, Cost: 2, Description: "XNOR with a repeating mask", Params: maskParams(), Apply: maskOp(func(a, m byte) byte { return 1 ^ (a ^ m) })},

		{Name: "SHIFT_LEFT", Category: CategoryShift, Cost: 1, Description: "shift left, zero fill", Params: shiftParams(), Apply: shiftOp(false, false)},
		{Name: "SHIFT_RIGHT", Category: CategoryShift, Cost: 1, Description: "shift right, zero fill", Params: shiftParams(), Apply: shiftOp(true, false)},
		{Name: "ROTATE_LEFT", Category: CategoryShift, Cost: 1, Description: "rotate left", Params: shiftParams(), Apply: shiftOp(false, true)},
		{Name: "ROTATE_RIGHT", Category: CategoryShift, Cost: 1, Description: "rotate right", Params: shiftParams(), Apply: shiftOp(true, true)},
		{Name: "REVERSE", Category: CategoryShift, Cost: 1, Description: "reverse bit order", Params: rangeParams(), Apply: applyReverse},

		{Name: "SET", Category: CategoryBit, Cost: 0.5, Description: "set one bit", Params: []string{"position"}, Apply: bitOp(func(byte) byte { return '1' })},
		{Name: "CLEAR", Category: CategoryBit, Cost: 0.5, Description: "clear one bit", Params: []string{"position"}, Apply: bitOp(func(byte) byte { return '0' })},
		{Name: "FLIP", Category: CategoryBit, Cost: 0.5, Description: "invert one bit", Params: []string{"position"}, Apply: bitOp(func(c byte) byte { return '0' + ('1' - c) })},

		{Name: "INSERT", Category: CategoryLength, Cost: 3, Description: "insert bits at a position", Params: []string{"position", "bits"}, Apply: applyInsert},
		{Name: "DELETE", Category: CategoryLength, Cost: 3, Description: "delete a range", Params: []string{"start", "end"}, Apply: applyDelete},
		{Name: "TRUNCATE", Category: CategoryLength, Cost: 2, Description: "keep the first length bits", Params: []string{"length"}, Apply: applyTruncate},
		{Name: "PAD", Category: CategoryLength, Cost: 2, Description: "pad to length", Params: []string{"length", "value", "side"}, Apply: applyPad, Length: padLength},
		{Name: "EXTEND", Category: CategoryLength, Cost: 2, Description: "append count copies of value", Params: []string{"count", "value"}, Apply: applyExtend, Length: extendLength},
		{Name: "APPEND", Category: CategoryLength, Cost: 2, Description: "append bits", Params: []string{"bits"}, Apply: applyAppend},
	}
}

func rangeParams() []string { return []string{"start", "end"} }
func maskParams() []string  { return []string{"mask", "start", "end"} }
func shiftParams() []string { return []string{"amount", "start", "end"} }

// splice replaces [r.Start, r.End) of b with seg.
func splice(b bits.Buffer, r bits.Range, seg []byte) bits.Buffer {
	var sb strings.Builder
	sb.Grow(len(b) - r.Len() + len(seg))
	sb.WriteString(string(b[:r.Start]))
	sb.Write(seg)
	sb.WriteString(string(b[r.End:]))
	return bits.Buffer(sb.String())
}

func applyNot(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	r, err := rangeParam(p, b.Len())
	if err != nil {
		return bits.Empty, err
	}
	seg := []byte(b[r.Start:r.End])
	for i := range seg {
		seg[i] = '0' + ('1' - seg[i])
	}
	return splice(b, r, seg), nil
}

func maskOp(fn func(a, m byte) byte) ApplyFunc {
	return func(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
		mask, err := bitsParam(p, "mask", true)
		if err != nil {
			return bits.Empty, err
		}
		if mask.Len() == 0 {
			return bits.Empty, fmt.Errorf("mask must not be empty")
		}
		r, err := rangeParam(p, b.Len())
		if err != nil {
			return bits.Empty, err
		}
		seg := []byte(b[r.Start:r.End])
		for i := range seg {
			seg[i] = '0' + fn(seg[i]-'0', mask[i%mask.Len()]-'0')
		}
		return splice(b, r, seg), nil
	}
}

func shiftOp(right, rotate bool) ApplyFunc {
	return func(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
		amount, err := intParam(p, "amount", 1)
		if err != nil {
			return bits.Empty, err
		}
		if amount < 0 {
			return bits.Empty, fmt.Errorf("amount must be non-negative, got %d", amount)
		}
		r, err := rangeParam(p, b.Len())
		if err != nil {
			return bits.Empty, err
		}
		n := r.Len()
		if n == 0 {
			return b, nil
		}
		src := b[r.Start:r.End]
		seg := make([]byte, n)
		for i := 0; i < n; i++ {
			var from int
			if right {
				from = i - amount
			} else {
				from = i + amount
			}
			switch {
			case rotate:
				from = ((from % n) + n) % n
				seg[i] = src[from]
			case from < 0 || from >= n:
				seg[i] = '0'
			default:
				seg[i] = src[from]
			}
		}
		return splice(b, r, seg), nil
	}
}

func applyReverse(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	r, err := rangeParam(p, b.Len())
	if err != nil {
		return bits.Empty, err
	}
	seg := []byte(b[r.Start:r.End])
	for i, j := 0, len(seg)-1; i < j; i, j = i+1, j-1 {
		seg[i], seg[j] = seg[j], seg[i]
	}
	return splice(b, r, seg), nil
}

func bitOp(fn func(byte) byte) ApplyFunc {
	return func(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
		pos, err := requiredInt(p, "position")
		if err != nil {
			return bits.Empty, err
		}
		if pos < 0 || pos >= b.Len() {
			return bits.Empty, fmt.Errorf("position %d out of range [0,%d)", pos, b.Len())
		}
		return splice(b, bits.Range{Start: pos, End: pos + 1}, []byte{fn(b[pos])}), nil
	}
}

func applyInsert(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	pos, err := requiredInt(p, "position")
	if err != nil {
		return bits.Empty, err
	}
	if pos < 0 || pos > b.Len() {
		return bits.Empty, fmt.Errorf("position %d out of range [0,%d]", pos, b.Len())
	}
	ins, err := bitsParam(p, "bits", true)
	if err != nil {
		return bits.Empty, err
	}
	return splice(b, bits.Range{Start: pos, End: pos}, []byte(ins)), nil
}

func applyDelete(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	start, err := requiredInt(p, "start")
	if err != nil {
		return bits.Empty, err
	}
	end, err := requiredInt(p, "end")
	if err != nil {
		return bits.Empty, err
	}
	if start < 0 || start > end || end > b.Len() {
		return bits.Empty, fmt.Errorf("range [%d,%d) out of bounds for length %d", start, end, b.Len())
	}
	return splice(b, bits.Range{Start: start, End: end}, nil), nil
}

func applyTruncate(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	n, err := requiredInt(p, "length")
	if err != nil {
		return bits.Empty, err
	}
	if n < 0 || n > b.Len() {
		return bits.Empty, fmt.Errorf("length %d out of range [0,%d]", n, b.Len())
	}
	return b[:n], nil
}

func padLength(n int, p ir.Object) (int, error) {
	length, err := requiredInt(p, "length")
	if err != nil {
		return 0, err
	}
	if length < n {
		return 0, fmt.Errorf("length %d is shorter than buffer (%d)", length, n)
	}
	return length, nil
}

func applyPad(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	n, err := requiredInt(p, "length")
	if err != nil {
		return bits.Empty, err
	}
	if n < b.Len() {
		return bits.Empty, fmt.Errorf("length %d is shorter than buffer (%d)", n, b.Len())
	}
	v, err := fillParam(p)
	if err != nil {
		return bits.Empty, err
	}
	fill := strings.Repeat(string(v), n-b.Len())
	side, _ := p.String("side")
	switch strings.ToLower(side) {
	case "", "right":
		return b + bits.Buffer(fill), nil
	case "left":
		return bits.Buffer(fill) + b, nil
	default:
		return bits.Empty, fmt.Errorf("side must be left or right, got %q", side)
	}
}

// extendLength saturates at math.MaxInt instead of overflowing.
func extendLength(n int, p ir.Object) (int, error) {
	count, err := requiredInt(p, "count")
	if err != nil {
		return 0, err
	}
	if count < 0 {
		return 0, fmt.Errorf("count must be non-negative, got %d", count)
	}
	if count > math.MaxInt-n {
		return math.MaxInt, nil
	}
	return n + count, nil
}

func applyExtend(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	n, err := requiredInt(p, "count")
	if err != nil {
		return bits.Empty, err
	}
	if n < 0 {
		return bits.Empty, fmt.Errorf("count must be non-negative, got %d", n)
	}
	v, err := fillParam(p)
	if err != nil {
		return bits.Empty, err
	}
	return b + bits.Buffer(strings.Repeat(string(v), n)), nil
}

func applyAppend(b bits.Buffer, p ir.Object) (bits.Buffer, error) {
	extra, err := bitsParam(p, "bits", true)
	if err != nil {
		return bits.Empty, err
	}
	return b + extra, nil
}
