package mediasvc

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

// ErrInvalidMediaConfig is returned by MediaConfig.Validate.
var ErrInvalidMediaConfig = errors.New("invalid media config")

// Claim stores for upload dedupe.
const (
	ClaimStoreRecords = "records"
	ClaimStoreMemory  = "memory"
)

// Public access modes for stored media.
const (
	PublicModePrivate = "private"
	PublicModeAll     = "all"
	PublicModeSigned  = "signed"
)

// MediaConfig holds configuration parameters for the media service.
type MediaConfig struct {
	// MaxBytes is the size limit for uploads whose type has no specific limit.
	// Default is 20MB.
	MaxBytes int64 `env:"MAX_BYTES" default:"20971520"`

	// AllowedMIME lists sniffed content types accepted for upload.
	// Entries may use a wildcard subtype ("image/*").
	AllowedMIME []string `env:"ALLOWED_MIME" default:"image/jpeg,image/png,image/gif,image/webp,image/tiff,image/bmp,application/pdf,video/mp4"` //nolint:lll

	// MaxBytesByMIME overrides MaxBytes per content type ("video/mp4=104857600").
	MaxBytesByMIME map[string]int64 `env:"MAX_BYTES_BY_MIME" default:""`

	// DedupeWait* bound how long an upload waits for a concurrent identical upload.
	DedupeWaitMaxMs            int `env:"DEDUPE_WAIT_MAX_MS" default:"5000"`
	DedupeWaitInitialBackoffMs int `env:"DEDUPE_WAIT_INITIAL_BACKOFF_MS" default:"50"`
	DedupeWaitMaxBackoffMs     int `env:"DEDUPE_WAIT_MAX_BACKOFF_MS" default:"500"`
	DedupeWaitJitterMs         int `env:"DEDUPE_WAIT_JITTER_MS" default:"25"`

	// DedupeClaimTTLMs is the lifetime of an upload claim on a content hash.
	DedupeClaimTTLMs int `env:"DEDUPE_CLAIM_TTL_MS" default:"30000"`

	// ClaimStore selects where upload claims live: "records" (or empty) shares them
	// with every process on the record database, "memory" keeps them in this process.
	ClaimStore string `env:"CLAIM_STORE" default:"records"`

	// PublicMode controls anonymous reads: "private", "all" or "signed".
	PublicMode string `env:"PUBLIC_MODE" default:"private"`

	// TempDir is where uploads are spooled; empty uses the OS default.
	TempDir string `env:"TEMP_DIR" default:""`
}

// Validate implements config.Validator.
//
//nolint:cyclop
func (cfg MediaConfig) Validate() error {
	switch {
	case cfg.MaxBytes <= 0:
		return fmt.Errorf("%w: max bytes must be positive", ErrInvalidMediaConfig)
	case len(cfg.AllowedMIME) == 0:
		return fmt.Errorf("%w: no allowed mime types", ErrInvalidMediaConfig)
	case cfg.DedupeWaitMaxMs < 0 || cfg.DedupeWaitJitterMs < 0:
		return fmt.Errorf("%w: negative dedupe wait", ErrInvalidMediaConfig)
	case cfg.DedupeWaitInitialBackoffMs <= 0 || cfg.DedupeWaitMaxBackoffMs < cfg.DedupeWaitInitialBackoffMs:
		return fmt.Errorf("%w: dedupe backoff must satisfy 0 < initial <= max", ErrInvalidMediaConfig)
	case cfg.DedupeClaimTTLMs <= 0:
		return fmt.Errorf("%w: claim ttl must be positive", ErrInvalidMediaConfig)
	}

	if !slices.Contains([]string{PublicModePrivate, PublicModeAll, PublicModeSigned}, cfg.PublicMode) {
		return fmt.Errorf("%w: unknown public mode %q", ErrInvalidMediaConfig, cfg.PublicMode)
	}

	if !slices.Contains([]string{"", ClaimStoreRecords, ClaimStoreMemory}, cfg.ClaimStore) {
		return fmt.Errorf("%w: unknown claim store %q", ErrInvalidMediaConfig, cfg.ClaimStore)
	}

	for mimeType, limit := range cfg.MaxBytesByMIME {
		if limit <= 0 {
			return fmt.Errorf("%w: limit for %s must be positive", ErrInvalidMediaConfig, mimeType)
		}
	}

	return nil
}

// Allowed reports whether mimeType matches an entry of AllowedMIME.
func (cfg MediaConfig) Allowed(mimeType string) bool {
	for _, allowed := range cfg.AllowedMIME {
		allowed = strings.ToLower(strings.TrimSpace(allowed))

		if allowed == mimeType {
			return true
		}

		if prefix, ok := strings.CutSuffix(allowed, "/*"); ok && strings.HasPrefix(mimeType, prefix+"/") {
			return true
		}
	}

	return false
}

// LimitFor returns the size limit applying to mimeType.
func (cfg MediaConfig) LimitFor(mimeType string) int64 {
	if limit, ok := cfg.MaxBytesByMIME[mimeType]; ok {
		return limit
	}

	return cfg.MaxBytes
}

// SpoolLimit is the largest upload any content type may reach.
func (cfg MediaConfig) SpoolLimit() int64 {
	limit := cfg.MaxBytes
	for _, perType := range cfg.MaxBytesByMIME {
		limit = max(limit, perType)
	}

	return limit
}

// ClaimTTL returns DedupeClaimTTLMs as a duration.
func (cfg MediaConfig) ClaimTTL() time.Duration {
	return time.Duration(cfg.DedupeClaimTTLMs) * time.Millisecond
}
