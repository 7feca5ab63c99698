package devauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// sessionClaims is the JWT payload of a dev session token.
type sessionClaims struct {
	PhoneNumber string `json:"phone_number"`
	jwt.RegisteredClaims
}

// tokenSigner mints HS256 session tokens for verified identities.
type tokenSigner struct {
	secret []byte
	ttl    time.Duration
}

func newTokenSigner(secret []byte, ttl time.Duration) *tokenSigner {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &tokenSigner{secret: secret, ttl: ttl}
}

// sign issues a token for the identity id.
func (t *tokenSigner) sign(id, phoneNumber string) (string, error) {
	now := time.Now()
	claims := &sessionClaims{
		PhoneNumber: phoneNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(t.secret)
}
