// Package metrics exports engine counters to Prometheus.
// Every method is safe on a nil *Metrics, so services can run without a registry.
package metrics

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "mediavault"

// Metrics holds the collectors of the media engine.
type Metrics struct {
	uploads        *prometheus.CounterVec
	uploadBytes    prometheus.Counter
	dedupeWait     prometheus.Histogram
	thumbs         *prometheus.CounterVec
	gcRuns         *prometheus.CounterVec
	gcDeleted      *prometheus.CounterVec
	gcFreedBytes   *prometheus.CounterVec
	verifyObjects  *prometheus.CounterVec
	storageLatency *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
// Collectors that are already registered (e.g. by a previous New on the same
// registry) are reused.
func New(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	var (
		m   Metrics
		err error
	)

	if m.uploads, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "uploads_total",
		Help:      "Uploads by result (stored, deduplicated, rejected, failed).",
	}, []string{"result"})); err != nil {
		return nil, err
	}

	if m.uploadBytes, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "upload_bytes_total",
		Help:      "Bytes written to storage by uploads.",
	})); err != nil {
		return nil, err
	}

	if m.dedupeWait, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "dedupe_wait_seconds",
		Help:      "Time spent waiting for a concurrent upload of the same content.",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
	})); err != nil {
		return nil, err
	}

	if m.thumbs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "thumbs_total",
		Help:      "Thumbnail resolutions by result (hit, generated, unsupported_mime, too_large, failed).",
	}, []string{"result"})); err != nil {
		return nil, err
	}

	if m.gcRuns, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gc_runs_total",
		Help:      "Garbage collection runs.",
	}, []string{"mode", "dry_run", "ok"})); err != nil {
		return nil, err
	}

	if m.gcDeleted, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gc_deleted_total",
		Help:      "Objects deleted by garbage collection.",
	}, []string{"mode"})); err != nil {
		return nil, err
	}

	if m.gcFreedBytes, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "gc_freed_bytes_total",
		Help:      "Bytes freed by garbage collection.",
	}, []string{"mode"})); err != nil {
		return nil, err
	}

	if m.verifyObjects, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verify_objects_total",
		Help:      "Objects checked by integrity verification, by outcome.",
	}, []string{"outcome"})); err != nil {
		return nil, err
	}

	if m.storageLatency, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "storage_op_duration_seconds",
		Help:      "Latency of storage driver operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"driver", "op", "ok"})); err != nil {
		return nil, err
	}

	return &m, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) (T, error) {
	if err := reg.Register(collector); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}

		return collector, fmt.Errorf("register metric: %w", err)
	}

	return collector, nil
}

// Upload counts an upload outcome and the bytes it wrote.
func (m *Metrics) Upload(result string, bytesWritten int64) {
	if m == nil {
		return
	}

	m.uploads.WithLabelValues(result).Inc()

	if bytesWritten > 0 {
		m.uploadBytes.Add(float64(bytesWritten))
	}
}

// DedupeWait observes how long an upload waited on a concurrent claim.
func (m *Metrics) DedupeWait(d time.Duration) {
	if m == nil {
		return
	}

	m.dedupeWait.Observe(d.Seconds())
}

// Thumb counts a thumbnail resolution outcome.
func (m *Metrics) Thumb(result string) {
	if m == nil {
		return
	}

	m.thumbs.WithLabelValues(result).Inc()
}

// GCRun records a finished garbage collection run.
func (m *Metrics) GCRun(mode string, dryRun, ok bool, deleted int, freedBytes int64) {
	if m == nil {
		return
	}

	m.gcRuns.WithLabelValues(mode, strconv.FormatBool(dryRun), strconv.FormatBool(ok)).Inc()

	if !dryRun {
		m.gcDeleted.WithLabelValues(mode).Add(float64(deleted))
		m.gcFreedBytes.WithLabelValues(mode).Add(float64(freedBytes))
	}
}

// Verify counts verified objects by outcome (ok, missing, mismatch, error).
func (m *Metrics) Verify(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}

	m.verifyObjects.WithLabelValues(outcome).Add(float64(n))
}

// StorageOp observes the latency of a storage driver call.
func (m *Metrics) StorageOp(driver, op string, err error, d time.Duration) {
	if m == nil {
		return
	}

	m.storageLatency.WithLabelValues(driver, op, strconv.FormatBool(err == nil)).Observe(d.Seconds())
}
