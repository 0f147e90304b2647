package extract

import (
	"regexp"

	"github.com/mr-tron/base58"
)

// ---------------------------------------------------------------------------
// Address Extractor — base58 candidate mining from post text
// ---------------------------------------------------------------------------

// addressPattern matches the base58 shape of a Solana address: 32-44 chars
// from the base58 alphabet (no 0, O, I, l).
var addressPattern = regexp.MustCompile(`[1-9A-HJ-NP-Za-km-z]{32,44}`)

// Addresses returns every base58-shaped substring in text, in order of
// appearance. Duplicates are preserved; deduplication against storage is the
// caller's concern. Pure function, no I/O.
func Addresses(text string) []string {
	return addressPattern.FindAllString(text, -1)
}

// DecodesToPubkey reports whether s base58-decodes to exactly 32 bytes,
// the width of a Solana public key. Stricter than the shape check above;
// used for config validation, never for filtering extraction output.
func DecodesToPubkey(s string) bool {
	raw, err := base58.Decode(s)
	return err == nil && len(raw) == 32
}
