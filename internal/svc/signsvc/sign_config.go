package signsvc

import (
	"errors"
	"fmt"
	"time"
)

// MinSecretLength is the minimum accepted length of a signing secret in bytes.
const MinSecretLength = 32

// ErrInvalidSignConfig is returned by SignConfig.Validate.
var ErrInvalidSignConfig = errors.New("invalid sign config")

// SignConfig contains configuration parameters for signed media URLs.
type SignConfig struct {
	// TTLSeconds is the validity of an issued URL
	TTLSeconds int64 `env:"SIGNED_URL_TTL" default:"3600"` // 1h

	// Secret is the HMAC key; signing is disabled when neither Secret nor SecretFile is set
	Secret string `env:"SIGNED_URL_SECRET" default:""`

	// SecretFile is loaded, or created with a random secret, when Secret is empty
	SecretFile string `env:"SIGNED_URL_SECRET_FILE" default:""`
}

// Validate implements config.Validator.
func (cfg SignConfig) Validate() error {
	if cfg.TTLSeconds <= 0 {
		return fmt.Errorf("%w: ttl must be positive", ErrInvalidSignConfig)
	}

	if cfg.Secret != "" && len(cfg.Secret) < MinSecretLength {
		return fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidSignConfig, MinSecretLength)
	}

	return nil
}

// TTL returns TTLSeconds as a duration.
func (cfg SignConfig) TTL() time.Duration {
	return time.Duration(cfg.TTLSeconds) * time.Second
}
