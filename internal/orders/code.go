package orders

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

const codePrefix = "KM-"

// newCode returns a short human-facing order reference such as KM-1A2B3C4D.
func newCode() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate order code: %w", err)
	}
	return codePrefix + strings.ToUpper(hex.EncodeToString(buf)), nil
}
