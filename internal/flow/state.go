package flow

import (
	"crypto/rand"
	"encoding/base64"
)

// stateEntropy is the number of random bytes in a generated state token.
const stateEntropy = 32

// StateSupplier returns the anti-forgery state token of a new authorization attempt.
// Every call must return a value that cannot be predicted from previous ones.
type StateSupplier func() string

// RandomState is the default StateSupplier: 256 bits from the system CSPRNG, base64url encoded.
func RandomState() string {
	b := make([]byte, stateEntropy)
	// crypto/rand.Read never returns an error on supported platforms.
	_, _ = rand.Read(b)
	return base64.RawURLEncoding.EncodeToString(b)
}
