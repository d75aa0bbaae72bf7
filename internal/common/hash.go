package common

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Sha256Hex returns the lowercase hex SHA-256 digest of parts joined by NUL,
// so ("ab", "c") and ("a", "bc") hash differently. Cache keys use it to keep
// raw tracking numbers out of Redis.
func Sha256Hex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "\x00")))
	return hex.EncodeToString(sum[:])
}
