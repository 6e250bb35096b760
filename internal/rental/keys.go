package rental

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// sessionKeyBytes is the entropy of a session key. 128 bits makes the
// probability of collision or a successful guess negligible over the
// lifetime of the system; the key is the only defence against session
// hijacking, so nothing weaker is acceptable.
const sessionKeyBytes = 16

// NewSessionKey generates a session key from a cryptographically secure
// random source. The textual form is standard base64, 24 characters.
func NewSessionKey() (string, error) {
	b := make([]byte, sessionKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}
