package imagesvc

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidImageConfig is returned by ImageConfig.Validate.
var ErrInvalidImageConfig = errors.New("invalid image config")

// ImageConfig holds configuration parameters for the thumbnail service.
type ImageConfig struct {
	// Interpolator specifies the image scaling algorithm to use.
	// Valid values are: "nearestneighbor", "catmullrom", "bilinear", "approxbilinear", "lanczos"
	Interpolator string `env:"INTERPOLATOR" default:"catmullrom"`

	// MaxPixels is the largest source image (width * height) thumbnails are generated from.
	MaxPixels int64 `env:"MAX_PIXELS" default:"40000000"`

	// ThumbVariants maps variant names to target widths ("small=160,medium=640").
	ThumbVariants map[string]int `env:"THUMB_VARIANTS" default:"small=160,medium=640,large=1280"`

	// ThumbFormat is the encoding of generated thumbnails: "jpeg" or "png".
	ThumbFormat string `env:"THUMB_FORMAT" default:"jpeg"`

	// ThumbQuality is the JPEG quality (1-100).
	ThumbQuality int `env:"THUMB_QUALITY" default:"82"`

	// ThumbAlgoVersion is part of every thumbnail path; bump it to regenerate all variants.
	ThumbAlgoVersion int `env:"THUMB_ALGO_VERSION" default:"1"`

	// CacheSize is the number of thumbnails kept in memory.
	CacheSize int `env:"CACHE_SIZE" default:"256"`
}

// Validate implements config.Validator.
//
//nolint:cyclop
func (cfg ImageConfig) Validate() error {
	if _, err := getResizerByName(cfg.Interpolator); err != nil {
		return fmt.Errorf("%w: %w: %q", ErrInvalidImageConfig, err, cfg.Interpolator)
	}

	if _, err := getThumbEncoder(cfg.ThumbFormat, cfg.ThumbQuality); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidImageConfig, err)
	}

	switch {
	case cfg.MaxPixels <= 0:
		return fmt.Errorf("%w: max pixels must be positive", ErrInvalidImageConfig)
	case cfg.ThumbQuality < 1 || cfg.ThumbQuality > 100:
		return fmt.Errorf("%w: thumb quality must be within 1-100", ErrInvalidImageConfig)
	case cfg.ThumbAlgoVersion < 1:
		return fmt.Errorf("%w: thumb algo version must be positive", ErrInvalidImageConfig)
	case cfg.CacheSize <= 0:
		return fmt.Errorf("%w: cache size must be positive", ErrInvalidImageConfig)
	}

	for name, width := range cfg.ThumbVariants {
		if width <= 0 || name == "" || strings.ContainsAny(name, "/.") {
			return fmt.Errorf("%w: variant %q=%d", ErrInvalidImageConfig, name, width)
		}
	}

	return nil
}
