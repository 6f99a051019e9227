package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
)

// StorageConfig selects and configures the storage disks.
//
//nolint:revive
type StorageConfig struct {
	// Default names the disk new uploads are written to ("local" or "s3")
	Default string `env:"DEFAULT" default:"local"`

	Local LocalDriverConfig `envPrefix:"LOCAL_"`
	S3    S3DriverConfig    `envPrefix:"S3_"`
}

// Validate implements config.Validator.
func (cfg StorageConfig) Validate() error {
	switch cfg.Default {
	case localDriverName:
		return nil
	case s3DriverName:
		if cfg.S3.Bucket == "" {
			return fmt.Errorf("%w: s3 disk requires a bucket", domain.ErrUnknownDisk)
		}

		return nil
	default:
		return fmt.Errorf("%w: %q", domain.ErrUnknownDisk, cfg.Default)
	}
}

// Disks is the registry of configured drivers, addressed by name.
type Disks struct {
	drivers     map[string]Driver
	defaultName string
}

// NewDisks registers drivers under their Name. defaultName must be one of them.
func NewDisks(defaultName string, drivers ...Driver) (*Disks, error) {
	disks := &Disks{drivers: make(map[string]Driver, len(drivers)), defaultName: defaultName}

	for _, driver := range drivers {
		disks.drivers[driver.Name()] = driver
	}

	if _, ok := disks.drivers[defaultName]; !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDisk, defaultName)
	}

	return disks, nil
}

// OpenDisks constructs the local disk, and the S3 disk when a bucket is configured.
// Every driver is instrumented with m.
func OpenDisks(ctx context.Context, cfg StorageConfig, resolver Resolver, m *metrics.Metrics) (*Disks, error) {
	local, err := NewLocalDriver(ctx, cfg.Local)
	if err != nil {
		return nil, fmt.Errorf("local disk: %w", err)
	}

	drivers := []Driver{Instrument(local, m)}

	if cfg.S3.Bucket != "" {
		remote, err := NewS3Driver(ctx, cfg.S3, resolver)
		if err != nil {
			return nil, fmt.Errorf("s3 disk: %w", err)
		}

		drivers = append(drivers, Instrument(remote, m))
	}

	return NewDisks(cfg.Default, drivers...)
}

// Get returns the driver registered as name; an empty name selects the default.
func (d *Disks) Get(name string) (Driver, error) {
	if name == "" {
		name = d.defaultName
	}

	driver, ok := d.drivers[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownDisk, name)
	}

	return driver, nil
}

// Default returns the default driver.
func (d *Disks) Default() Driver {
	return d.drivers[d.defaultName]
}

// Names lists the registered disk names in sorted order.
func (d *Disks) Names() []string {
	names := make([]string, 0, len(d.drivers))
	for name := range d.drivers {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}
