// Package textutil turns note markdown into the plain text that gets embedded,
// and fingerprints that text so unchanged notes can skip re-embedding.
package textutil

import (
	"fmt"
	"unicode/utf16"
)

const (
	fnvOffset32 uint32 = 0x811c9dc5
	fnvPrime32  uint32 = 0x01000193
)

// HashText returns a 32-bit FNV-1a fingerprint of s as 8 lower-case hex digits.
// The hash runs over UTF-16 code units so that fingerprints stay identical to
// those written by earlier versions of the index.
func HashText(s string) string {
	h := fnvOffset32
	for _, u := range utf16.Encode([]rune(s)) {
		h ^= uint32(u)
		h *= fnvPrime32
	}
	return fmt.Sprintf("%08x", h)
}
