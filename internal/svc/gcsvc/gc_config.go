package gcsvc

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidGCConfig is returned by GCConfig.Validate.
var ErrInvalidGCConfig = errors.New("invalid gc config")

// GCConfig holds configuration parameters for garbage collection.
type GCConfig struct {
	// Enabled allows live (deleting) runs; dry runs are always allowed
	Enabled bool `env:"ENABLED" default:"false"`

	// RetentionDays is the age after which records are retention candidates. Zero disables retention mode.
	RetentionDays int `env:"RETENTION_DAYS" default:"0"`

	// DryRunDefault is used when a run does not say whether it is a dry run
	DryRunDefault bool `env:"DRY_RUN_DEFAULT" default:"true"`

	// MaxDeletePerRun bounds the deletions of a single run, and is the default limit.
	MaxDeletePerRun int `env:"MAX_DELETE_PER_RUN" default:"100"`

	// ExemptPrefixes lists path prefixes that are never deleted.
	ExemptPrefixes []string `env:"EXEMPT_PREFIXES" default:""`

	// AllowDeletePublic lets retention delete public media.
	AllowDeletePublic bool `env:"ALLOW_DELETE_PUBLIC" default:"false"`

	// OrphanMinAgeSeconds skips unreferenced objects younger than this, so
	// uploads between object write and record insert are not collected.
	OrphanMinAgeSeconds int `env:"ORPHAN_MIN_AGE_SECONDS" default:"3600"`

	// IntervalMinutes schedules background runs of every enabled mode. Zero disables scheduling.
	IntervalMinutes int `env:"INTERVAL_MINUTES" default:"0"`

	// ThumbAlgoVersion is the current thumbnail algorithm; thumbs of older versions are orphans.
	ThumbAlgoVersion int
}

// Validate implements config.Validator.
func (cfg GCConfig) Validate() error {
	switch {
	case cfg.MaxDeletePerRun <= 0:
		return fmt.Errorf("%w: max delete per run must be positive", ErrInvalidGCConfig)
	case cfg.RetentionDays < 0 || cfg.OrphanMinAgeSeconds < 0 || cfg.IntervalMinutes < 0:
		return fmt.Errorf("%w: negative retention, orphan age or interval", ErrInvalidGCConfig)
	}

	for _, prefix := range cfg.ExemptPrefixes {
		if strings.HasPrefix(prefix, "/") {
			return fmt.Errorf("%w: exempt prefix %q must be relative", ErrInvalidGCConfig, prefix)
		}
	}

	return nil
}

// Retention returns the retention window.
func (cfg GCConfig) Retention() time.Duration {
	return time.Duration(cfg.RetentionDays) * 24 * time.Hour
}

// OrphanMinAge returns the grace period of unreferenced objects.
func (cfg GCConfig) OrphanMinAge() time.Duration {
	return time.Duration(cfg.OrphanMinAgeSeconds) * time.Second
}

// Exempt reports whether path is under an exempt prefix.
func (cfg GCConfig) Exempt(path string) bool {
	for _, prefix := range cfg.ExemptPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// Interval returns the background run interval.
func (cfg GCConfig) Interval() time.Duration {
	return time.Duration(cfg.IntervalMinutes) * time.Minute
}
