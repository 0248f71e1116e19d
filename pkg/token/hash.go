package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
)

// FingerprintLength is the number of hex characters Fingerprint returns.
const FingerprintLength = 12

// Fingerprint returns a short digest of a credential suitable for logs.
// The empty credential has the empty fingerprint.
func Fingerprint(credential string) string {
	if credential == "" {
		return ""
	}
	h := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(h[:])[:FingerprintLength]
}

// Equal reports whether two credentials are identical in constant time.
func Equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
