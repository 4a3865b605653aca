// Package replay records transformation steps and verifies that a
// recorded result can be reconstructed from its initial bits.
//
// # Recording
//
// A Recorder is append-only. Every step must continue the chain: its
// BeforeBits equal the previous step's AfterBits (or the initial bits for
// the first step). Rejected and failed steps leave the bits unchanged, so
// the chain holds over every recorded step, not only committed ones.
//
// # Verification
//
// Two modes are offered:
//
//	strict: fold the committed steps' (operation, params) over InitialBits
//	        through the operation router and compare with FinalBits.
//	fast:   trust the stored AfterBits and check chain continuity only.
//
// Strict re-execution is the correctness audit. Fast is O(steps) string
// comparisons and suits large histories.
//
// Content hashes are ir.BitsHash (blake3, domain separated). A result is
// verified when the reconstructed hash equals the hash of FinalBits.
//
// # Mismatch reporting
//
// When the reconstructed and final buffers differ in length and some
// recorded operation is length-changing, the length difference is expected
// and mismatches are only collected over the overlapping prefix.
// Otherwise every position up to the longer length is compared and bits
// past the end of the shorter buffer count as mismatches.
//
//	match% = (maxLen - mismatches) / maxLen * 100, floored at 0
//
// Two empty buffers match at 100%.
package replay
