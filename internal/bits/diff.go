package bits

// Range is a half-open bit interval [Start, End).
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Valid reports whether the range is well formed for a buffer of length n.
func (r Range) Valid(n int) bool {
	return r.Start >= 0 && r.Start < r.End && r.End <= n
}

// Len returns the number of bits covered.
func (r Range) Len() int {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// Contains reports whether position i lies inside the range.
func (r Range) Contains(i int) bool {
	return i >= r.Start && i < r.End
}

// Overlaps reports whether two ranges share at least one position.
func (r Range) Overlaps(o Range) bool {
	return r.Start < o.End && o.Start < r.End
}

// Disjoint reports whether no two ranges in rs overlap.
func Disjoint(rs []Range) bool {
	for i := range rs {
		for j := i + 1; j < len(rs); j++ {
			if rs[i].Overlaps(rs[j]) {
				return false
			}
		}
	}
	return true
}

// Mismatches returns positions in [0, limit) where a and b differ.
// Positions past the end of either buffer count as mismatches.
func Mismatches(a, b Buffer, limit int) []int {
	out := []int{}
	for i := 0; i < limit; i++ {
		var ca, cb byte
		if i < len(a) {
			ca = a[i]
		}
		if i < len(b) {
			cb = b[i]
		}
		if ca != cb {
			out = append(out, i)
		}
	}
	return out
}

// ChangedRanges returns maximal runs of positions where before and after
// differ. When lengths differ, the tail beyond the shorter buffer is one
// final range.
func ChangedRanges(before, after Buffer) []Range {
	out := []Range{}
	n := len(before)
	if len(after) > n {
		n = len(after)
	}
	start := -1
	for i := 0; i < n; i++ {
		differ := i >= len(before) || i >= len(after) || before[i] != after[i]
		switch {
		case differ && start < 0:
			start = i
		case !differ && start >= 0:
			out = append(out, Range{Start: start, End: i})
			start = -1
		}
	}
	if start >= 0 {
		out = append(out, Range{Start: start, End: n})
	}
	return out
}

// Within reports whether every changed position between before and after
// lies in r. Buffers of different length never satisfy Within.
func Within(before, after Buffer, r Range) bool {
	if len(before) != len(after) {
		return false
	}
	for _, c := range ChangedRanges(before, after) {
		if c.Start < r.Start || c.End > r.End {
			return false
		}
	}
	return true
}
