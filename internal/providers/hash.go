package providers

import (
	"crypto/sha256"
	"encoding/hex"
)

// hashPrefixLen is the number of hex characters retained from the SHA-256
// digest of a credential. 16 hex chars (64 bits) is enough to group usages
// per key for audit while being useless for brute-force recovery.
const hashPrefixLen = 16

// HashCredential returns a truncated one-way hash of the client credential.
// The plaintext key is never persisted; this prefix is the only retained form.
func HashCredential(credential string) string {
	if credential == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(credential))
	return hex.EncodeToString(sum[:])[:hashPrefixLen]
}
