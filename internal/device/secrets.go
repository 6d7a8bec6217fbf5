package device

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	dErrors "crono/pkg/domain-errors"
)

// GenerateKey creates a cryptographically secure random collector key.
// The plaintext is handed to the collector exactly once at provisioning;
// only its hash is stored.
func GenerateKey() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("could not generate key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey creates a bcrypt hash of the provided key.
func HashKey(key string) (string, error) {
	if key == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "key cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "key is too long")
		}
		return "", fmt.Errorf("could not hash key: %w", err)
	}
	return string(hashed), nil
}

// VerifyKey checks a plaintext key against a stored bcrypt hash.
func VerifyKey(key, hash string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return dErrors.New(dErrors.CodeUnauthorized, "invalid key")
		}
		return fmt.Errorf("could not verify key: %w", err)
	}
	return nil
}
