package inventory

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Fingerprint identifies a payload's content independent of listing.
// Surrounding whitespace is ignored so a re-pasted secret still collides.
func Fingerprint(payload string) string {
	sum := blake2b.Sum256([]byte(strings.TrimSpace(payload)))
	return hex.EncodeToString(sum[:])
}
