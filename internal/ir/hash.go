package ir

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// Domain prefixes for content hashes. The version suffix allows the hash
// algorithm to migrate without collisions.
const (
	DomainBits   = "bitstrat/bits/v1"
	DomainScript = "bitstrat/script/v1"
	DomainStep   = "bitstrat/step/v1"
)

// hashWithDomain computes BLAKE3(domain || 0x00 || data) as hex.
// The null separator removes domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := blake3.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// BitsHash identifies a bit-string by content.
func BitsHash(b string) string {
	return hashWithDomain(DomainBits, []byte(b))
}

// ScriptDigest identifies a script version by its source text.
func ScriptDigest(source string) string {
	return hashWithDomain(DomainScript, []byte(source))
}

// StepHash identifies a recorded step by what it did: the operation,
// its parameters and the bit states on either side.
func StepHash(operation string, params Object, before, after string) (string, error) {
	if params == nil {
		params = Object{}
	}
	canonical, err := MarshalCanonical(Object{
		"operation": String(operation),
		"params":    params,
		"before":    String(BitsHash(before)),
		"after":     String(BitsHash(after)),
	})
	if err != nil {
		return "", fmt.Errorf("StepHash: %w", err)
	}
	return hashWithDomain(DomainStep, canonical), nil
}
