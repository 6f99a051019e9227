package verifysvc

import (
	"errors"
	"fmt"
)

// ErrInvalidVerifyConfig is returned by VerifyConfig.Validate.
var ErrInvalidVerifyConfig = errors.New("invalid verify config")

// VerifyConfig holds configuration parameters for integrity verification.
type VerifyConfig struct {
	// MaxHashBytes is the largest object whose hash is recomputed; larger objects are size-checked only.
	// Default is 64MB.
	MaxHashBytes int64 `env:"MAX_HASH_BYTES" default:"67108864"`

	// Concurrency bounds the number of objects checked in parallel
	Concurrency int `env:"CONCURRENCY" default:"4"`

	// DefaultLimit is the number of records checked when no limit is given
	DefaultLimit int `env:"DEFAULT_LIMIT" default:"1000"`
}

// Validate implements config.Validator.
func (cfg VerifyConfig) Validate() error {
	if cfg.Concurrency <= 0 || cfg.DefaultLimit <= 0 || cfg.MaxHashBytes < 0 {
		return fmt.Errorf("%w: concurrency and default limit must be positive", ErrInvalidVerifyConfig)
	}

	return nil
}
