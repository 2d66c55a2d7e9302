package crypto

import (
	"context"
	"errors"
	"strings"
)

// Passthrough stores secrets as plaintext. It is the default when no key is configured.
type Passthrough struct{}

func NewPassthrough() *Passthrough {
	return &Passthrough{}
}

func (Passthrough) Encrypt(_ context.Context, plaintext string) (string, error) {
	return plaintext, nil
}

// Decrypt refuses KMS-wrapped values so a misconfigured run fails loudly
// instead of presenting ciphertext as a refresh token.
func (Passthrough) Decrypt(_ context.Context, ciphertext string) (string, error) {
	if strings.HasPrefix(ciphertext, kmsPrefix) {
		return "", errors.New("value is KMS-encrypted but token encryption is disabled")
	}
	return ciphertext, nil
}
