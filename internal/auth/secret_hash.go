package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var errSecretRequired = errors.New("service secret required")

// HashSecret derives a bcrypt hash suitable for storage in the credential
// store. Used by provisioning tooling, never on the request path.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errSecretRequired
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(digest), nil
}

// verifySecret compares a candidate secret against the stored bcrypt hash.
// bcrypt's comparison runs in time independent of how many leading characters
// of the candidate match.
func verifySecret(secretHash, candidate string) bool {
	return bcrypt.CompareHashAndPassword([]byte(secretHash), []byte(candidate)) == nil
}
