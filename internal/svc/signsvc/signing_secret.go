package signsvc

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
)

// GenerateSecret creates a random secret of MinSecretLength bytes.
func GenerateSecret() ([]byte, error) {
	secret := make([]byte, MinSecretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("read random: %w", err)
	}

	return secret, nil
}

// GetSecret loads a base64url encoded secret from path, or generates and
// stores a new one if the file does not exist.
func GetSecret(path string) ([]byte, error) {
	encoded, err := os.ReadFile(path)
	if err == nil {
		secret, err := base64.RawURLEncoding.DecodeString(string(bytes.TrimSpace(encoded)))
		if err != nil {
			return nil, fmt.Errorf("decode secret: %w", err)
		}

		if len(secret) < MinSecretLength {
			return nil, fmt.Errorf("%w: secret file holds %d bytes", ErrInvalidSignConfig, len(secret))
		}

		return secret, nil
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read secret file: %w", err)
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, fmt.Errorf("generate secret: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("mkdir all: %w", err)
	}

	if err := os.WriteFile(path, []byte(base64.RawURLEncoding.EncodeToString(secret)), 0o600); err != nil {
		return nil, fmt.Errorf("write secret file: %w", err)
	}

	return secret, nil
}
