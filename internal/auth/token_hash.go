package auth

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashSessionToken digests a raw bearer token so stores never hold the
// secret itself.
func hashSessionToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
