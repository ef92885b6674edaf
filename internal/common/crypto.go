package common

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

var ErrInvalidSecretLength = errors.New("secret length must be positive")

// GenerateSecret returns n url-safe random characters, suitable as an HMAC signing key.
func GenerateSecret(n int) (string, error) {
	if n <= 0 {
		return "", ErrInvalidSecretLength
	}
	raw := make([]byte, (n*3+3)/4)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw)[:n], nil
}
