package resettoken

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// TTL is how long a reset token stays redeemable after issuance.
const TTL = 10 * time.Minute

const tokenBytes = 32

// Generate produces a one-time reset secret and its stored verifier.
// The plaintext leaves the service exactly once, inside the reset URL;
// only the digest is persisted.
func Generate() (plain, digest string, err error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("generate reset token: %w", err)
	}
	plain = hex.EncodeToString(buf)
	return plain, HashToken(plain), nil
}

// HashToken digests an incoming plaintext token the same way Generate
// does, so the store can be queried by digest. Unsalted on purpose: the
// digest must be reproducible from the plaintext alone, and the input
// already carries 256 bits of entropy.
func HashToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
