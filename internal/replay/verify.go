package replay

import (
	"fmt"

	"github.com/roach88/bitstrat/internal/bits"
	"github.com/roach88/bitstrat/internal/ir"
	"github.com/roach88/bitstrat/internal/ops"
)

// MaxMismatchPositions caps the positions listed in a report. The match
// percentage always counts every mismatch.
const MaxMismatchPositions = 1000

// Verify checks that res can be reconstructed in the given mode. An
// empty mode means strict. The router is only used in strict mode.
func Verify(res *ir.ExecutionResult, mode ir.VerifyMode, router ops.Router) ir.VerificationReport {
	if mode == "" {
		mode = ir.VerifyStrict
	}

	var (
		actual bits.Buffer
		report = ir.VerificationReport{Mode: mode, MismatchPositions: []int{}}
	)
	switch mode {
	case ir.VerifyStrict:
		var err error
		actual, err = reexecute(res, router)
		if err != nil {
			report.Error = err.Error()
		}
	case ir.VerifyFast:
		actual, report.ChainBreaks = followChain(res)
	default:
		report.Error = fmt.Sprintf("unknown verify mode %q", mode)
		return report
	}

	report.ExpectedHash = ir.BitsHash(string(res.FinalBits))
	report.ActualHash = ir.BitsHash(string(actual))
	report.LengthChanged = actual.Len() != res.FinalBits.Len()

	pct, mismatches := Compare(res.FinalBits, actual, lengthChanging(res, router))
	report.MatchPercentage = pct
	if len(mismatches) > MaxMismatchPositions {
		mismatches = mismatches[:MaxMismatchPositions]
	}
	report.MismatchPositions = mismatches

	report.Verified = report.Error == "" &&
		len(report.ChainBreaks) == 0 &&
		report.ExpectedHash == report.ActualHash
	return report
}

// Compare returns the match percentage between expected and actual and
// the mismatching positions. When expectLengthChange is true and the
// lengths differ, only the overlapping prefix is compared.
func Compare(expected, actual bits.Buffer, expectLengthChange bool) (float64, []int) {
	maxLen, minLen := expected.Len(), actual.Len()
	if minLen > maxLen {
		maxLen, minLen = minLen, maxLen
	}
	if maxLen == 0 {
		return 100, []int{}
	}

	limit := maxLen
	if expectLengthChange && minLen != maxLen {
		limit = minLen
	}
	mismatches := bits.Mismatches(expected, actual, limit)

	pct := float64(maxLen-len(mismatches)) / float64(maxLen) * 100
	if pct < 0 {
		pct = 0
	}
	return pct, mismatches
}

// reexecute folds the committed steps over the initial bits. On the first
// operation failure it returns the bits reached so far and an error.
func reexecute(res *ir.ExecutionResult, router ops.Router) (bits.Buffer, error) {
	current := res.InitialBits
	if router == nil {
		return current, fmt.Errorf("strict verification needs an operation router")
	}
	for _, s := range res.Steps {
		if !s.Committed() {
			continue
		}
		out := router.Apply(s.Operation, current, s.Params)
		if !out.Success {
			return current, fmt.Errorf("step %d: re-executing %s: %s", s.Index, s.Operation, out.Error)
		}
		current = out.Bits
	}
	return current, nil
}

// followChain walks the stored bits and returns the last AfterBits and
// the indices of steps that break continuity.
func followChain(res *ir.ExecutionResult) (bits.Buffer, []int) {
	current := res.InitialBits
	breaks := []int{}
	for i, s := range res.Steps {
		if s.BeforeBits != current || (!s.Committed() && s.AfterBits != s.BeforeBits) {
			breaks = append(breaks, i)
		}
		current = s.AfterBits
	}
	return current, breaks
}

func lengthChanging(res *ir.ExecutionResult, router ops.Router) bool {
	for _, s := range res.Steps {
		if !s.Committed() {
			continue
		}
		if router != nil && ops.IsLengthChanging(router, s.Operation) {
			return true
		}
		if router == nil && s.BeforeBits.Len() != s.AfterBits.Len() {
			return true
		}
	}
	return false
}
