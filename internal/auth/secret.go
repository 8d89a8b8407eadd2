package auth

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// Secret verifies a presented credential without exposing the stored form.
type Secret interface {
	Verify(candidate string) bool
}

type plainSecret []byte

func (p plainSecret) Verify(candidate string) bool {
	return len(p) > 0 && subtle.ConstantTimeCompare(p, []byte(candidate)) == 1
}

type hashedSecret []byte

func (h hashedSecret) Verify(candidate string) bool {
	return bcrypt.CompareHashAndPassword(h, []byte(candidate)) == nil
}

// NewSecret prefers the bcrypt hash when set. It returns nil when neither is
// configured, which rejects every credential.
func NewSecret(plain, hash string) Secret {
	if h := strings.TrimSpace(hash); h != "" {
		return hashedSecret(h)
	}
	if plain != "" {
		return plainSecret(plain)
	}
	return nil
}

// HashSecret returns the bcrypt hash stored in API_KEY_HASH.
func HashSecret(plain string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
