package oauth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gobeaver/ingest/krypto"
)

// PKCEMethodS256 is the only challenge method the SDK mints. Plain is
// deliberately unsupported: every provider in scope accepts S256.
const PKCEMethodS256 = "S256"

// GeneratePKCEChallenge mints a fresh verifier/challenge pair. The
// verifier is 32 random bytes encoded with unpadded base64url, yielding
// the 43 character minimum RFC 7636 requires.
func GeneratePKCEChallenge() (*PKCEChallenge, error) {
	verifier, err := krypto.GenerateURLSafeToken(32)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code verifier: %w", err)
	}

	return &PKCEChallenge{
		CodeVerifier:  verifier,
		CodeChallenge: S256Challenge(verifier),
		Method:        PKCEMethodS256,
		CreatedAt:     time.Now(),
	}, nil
}

// S256Challenge derives the code challenge for a verifier.
func S256Challenge(verifier string) string {
	h := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(h[:])
}

// ValidatePKCEChallenge reports whether a verifier matches a challenge in
// constant time.
func ValidatePKCEChallenge(verifier, challenge string) bool {
	expected := S256Challenge(verifier)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(challenge)) == 1
}

// GenerateState mints the opaque state parameter: 32 random bytes, hex
// encoded.
func GenerateState() (string, error) {
	return krypto.GenerateSecureToken(32)
}

// GenerateNonce mints an OIDC nonce: 16 random bytes, hex encoded.
func GenerateNonce() (string, error) {
	return krypto.GenerateSecureToken(16)
}
