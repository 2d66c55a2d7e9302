package auth

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// stateIssuer mints the CSRF state parameter for one authorization attempt.
// The value is an HS256 JWT signed with a key generated per attempt, whose
// ID claim is a random nonce. Only the token carrying that exact nonce verifies.
type stateIssuer struct {
	key   []byte
	nonce string
	ttl   time.Duration
	now   func() time.Time
}

func newStateIssuer(ttl time.Duration, now func() time.Time) (*stateIssuer, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate state key: %w", err)
	}
	return &stateIssuer{
		key:   key,
		nonce: uuid.NewString(),
		ttl:   ttl,
		now:   now,
	}, nil
}

func (i *stateIssuer) Issue() (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		ID:        i.nonce,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return signed, nil
}

// Verify returns ErrStateMismatch unless value was issued by this issuer and
// has not expired.
func (i *stateIssuer) Verify(value string) error {
	if value == "" {
		return fmt.Errorf("%w: state parameter missing", ErrStateMismatch)
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(value, &claims, func(t *jwt.Token) (any, error) {
		return i.key, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStateMismatch, err)
	}
	if claims.ID != i.nonce {
		return fmt.Errorf("%w: unexpected nonce", ErrStateMismatch)
	}
	return nil
}
