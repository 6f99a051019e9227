package storage

import (
	"context"
	"io"
	"iter"
	"time"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
)

// InstrumentedDriver records operation latency of the wrapped driver.
type InstrumentedDriver struct {
	Driver

	metrics *metrics.Metrics
}

var _ Driver = (*InstrumentedDriver)(nil)

// Instrument wraps driver. With nil metrics the driver is returned unchanged.
func Instrument(driver Driver, m *metrics.Metrics) Driver {
	if m == nil {
		return driver
	}

	return &InstrumentedDriver{Driver: driver, metrics: m}
}

func (d *InstrumentedDriver) observe(op string, start time.Time, err error) {
	d.metrics.StorageOp(d.Name(), op, err, time.Since(start))
}

// AbsolutePath forwards to the wrapped driver if it is local.
func (d *InstrumentedDriver) AbsolutePath(path string) (string, error) {
	return AbsolutePath(d.Driver, path)
}

func (d *InstrumentedDriver) Put(ctx context.Context, path string, body io.Reader, size int64) (err error) {
	start := time.Now()
	defer func() { d.observe("put", start, err) }()

	return d.Driver.Put(ctx, path, body, size) //nolint:wrapcheck
}

func (d *InstrumentedDriver) Get(ctx context.Context, path string) (_ io.ReadCloser, err error) {
	start := time.Now()
	defer func() { d.observe("get", start, err) }()

	return d.Driver.Get(ctx, path) //nolint:wrapcheck
}

func (d *InstrumentedDriver) Delete(ctx context.Context, path string) (err error) {
	start := time.Now()
	defer func() { d.observe("delete", start, err) }()

	return d.Driver.Delete(ctx, path) //nolint:wrapcheck
}

func (d *InstrumentedDriver) Exists(ctx context.Context, path string) (_ bool, err error) {
	start := time.Now()
	defer func() { d.observe("exists", start, err) }()

	return d.Driver.Exists(ctx, path) //nolint:wrapcheck
}

func (d *InstrumentedDriver) Stat(ctx context.Context, path string) (_ domain.ObjectInfo, err error) {
	start := time.Now()
	defer func() { d.observe("stat", start, err) }()

	return d.Driver.Stat(ctx, path) //nolint:wrapcheck
}

// List times the whole enumeration, ending when the caller stops or the backend fails.
func (d *InstrumentedDriver) List(ctx context.Context, prefix string) iter.Seq2[domain.ObjectInfo, error] {
	return func(yield func(domain.ObjectInfo, error) bool) {
		var listErr error

		start := time.Now()
		defer func() { d.observe("list", start, listErr) }()

		for info, err := range d.Driver.List(ctx, prefix) {
			if err != nil {
				listErr = err
			}

			if !yield(info, err) {
				return
			}
		}
	}
}
