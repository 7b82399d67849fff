package oauth

import "crypto/subtle"

// secretsEqual compares a supplied credential against the configured secret
// in constant time. An empty provided or expected value is rejected
// immediately; that path carries no timing signal because no secret exists
// to probe.
//
// When lengths differ the comparison still runs over a buffer normalized to
// the expected length (pad or truncate), so response timing reveals neither
// the secret's length nor any matching prefix.
func secretsEqual(provided, expected string) bool {
	if provided == "" || expected == "" {
		return false
	}
	normalized := make([]byte, len(expected))
	copy(normalized, provided)
	contentMatch := subtle.ConstantTimeCompare(normalized, []byte(expected))
	lengthMatch := subtle.ConstantTimeEq(int32(len(provided)), int32(len(expected)))
	return contentMatch&lengthMatch == 1
}
