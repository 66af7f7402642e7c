package tuning

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// Key returns the deterministic cache key for a device URL and unit id.
// URLs differing only in case or surrounding whitespace map to the same key.
func Key(device string, unitID int) string {
	normalized := strings.ToLower(strings.TrimSpace(device)) + "|" + strconv.Itoa(unitID)
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
