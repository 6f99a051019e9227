package gcsvc

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
	"github.com/mkrupp/mediavault/internal/repo/media"
	"github.com/mkrupp/mediavault/internal/repo/storage"
)

const pageSize = 500

// RunOptions controls a garbage collection run.
type RunOptions struct {
	Mode domain.GCMode

	// DryRun overrides the configured default when set
	DryRun *bool

	// Limit bounds deletions; zero or anything above the configured maximum uses the maximum
	Limit int

	// ScanPrefix restricts the orphan scan to a part of the storage namespace
	ScanPrefix string

	// Disk names the storage driver; empty selects the default disk.
	// Retention runs are limited to the default disk, which holds every upload.
	Disk string
}

type candidate struct {
	path     string
	size     int64
	recordID int64
}

// GCService reclaims storage by deleting unreferenced objects (orphan mode)
// and expired media (retention mode). At most one run is active per service.
type GCService struct {
	disks   *storage.Disks
	repo    media.Repository
	cfg     GCConfig
	metrics *metrics.Metrics
	log     logging.Logger
	now     func() time.Time
	running sync.Mutex
}

// Option customizes a GCService.
type Option func(*GCService)

// WithMetrics records run outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *GCService) { svc.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(svc *GCService) { svc.now = now }
}

// NewGCService creates a GCService over the given disks and records.
func NewGCService(disks *storage.Disks, repo media.Repository, cfg GCConfig, opts ...Option) *GCService {
	svc := &GCService{
		disks: disks,
		repo:  repo,
		cfg:   cfg,
		log:   logging.GetLogger("svc.gcsvc.gc_service"),
		now:   time.Now,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// Run performs one garbage collection pass. Aborted runs are reported in the
// result with OK unset and Error holding the reason code; nothing is deleted
// before the scan has completed without error.
//
//nolint:cyclop,funlen
func (svc *GCService) Run(ctx context.Context, opts RunOptions) (result domain.GCResult) {
	result = domain.GCResult{
		Mode:   opts.Mode,
		DryRun: svc.cfg.DryRunDefault,
		State:  domain.GCStateScanning,
	}

	if opts.DryRun != nil {
		result.DryRun = *opts.DryRun
	}

	log := svc.log.With(logging.Group("gc",
		"mode", opts.Mode,
		"dryRun", result.DryRun,
		"disk", opts.Disk,
		"prefix", opts.ScanPrefix,
	))

	defer func() {
		svc.metrics.GCRun(string(opts.Mode), result.DryRun, result.OK, result.DeletedCount, result.BytesFreedEstimate)

		if result.OK {
			log.InfoContext(ctx, "gc run done", "summary", Summary(result))
		} else {
			log.WarnContext(ctx, "gc run failed", "error", result.Error, "summary", Summary(result))
		}
	}()

	if opts.Mode != domain.GCModeOrphan && opts.Mode != domain.GCModeRetention {
		return abort(result, domain.GCErrInvalidMode)
	}

	driver, err := svc.disks.Get(opts.Disk)
	if err != nil {
		return abort(result, domain.GCErrUnknownDisk)
	}

	// records only describe objects on the upload disk
	if opts.Mode == domain.GCModeRetention && driver.Name() != svc.disks.Default().Name() {
		return abort(result, domain.GCErrNotUploadDisk)
	}

	if !result.DryRun && !svc.cfg.Enabled {
		return abort(result, domain.GCErrDisabled)
	}

	if opts.Mode == domain.GCModeRetention && svc.cfg.RetentionDays == 0 {
		return abort(result, domain.GCErrRetentionDisabled)
	}

	if !svc.running.TryLock() {
		return abort(result, domain.GCErrAlreadyRunning)
	}
	defer svc.running.Unlock()

	var (
		candidates []candidate
		reason     string
	)

	if opts.Mode == domain.GCModeOrphan {
		candidates, reason = svc.scanOrphans(ctx, driver, opts.ScanPrefix, &result)
	} else {
		candidates, reason = svc.scanRetention(ctx, &result)
	}

	if reason != "" {
		return abort(result, reason)
	}

	result.State = domain.GCStateEvaluating
	result.Candidates = len(candidates)
	selected := candidates[:min(len(candidates), svc.limit(opts.Limit))]

	for _, c := range selected {
		result.Paths = append(result.Paths, c.path)
	}

	if result.DryRun {
		result.State = domain.GCStateReporting

		for _, c := range selected {
			result.BytesFreedEstimate += c.size
		}

		result.State = domain.GCStateDone
		result.OK = true

		return result
	}

	result.State = domain.GCStateDeleting

	for _, c := range selected {
		if err := driver.Delete(ctx, c.path); err != nil {
			log.WarnContext(ctx, "delete object failed", "path", c.path, "error", err)

			result.FailedCount++

			continue
		}

		if c.recordID != 0 {
			if err := svc.repo.Delete(ctx, c.recordID); err != nil {
				log.WarnContext(ctx, "delete record failed", "path", c.path, "id", c.recordID, "error", err)

				result.FailedCount++

				continue
			}
		}

		log.DebugContext(ctx, "deleted", "path", c.path, "size", c.size)

		result.DeletedCount++
		result.BytesFreedEstimate += c.size
	}

	result.State = domain.GCStateDone
	result.OK = result.FailedCount == 0

	if !result.OK {
		result.Error = domain.GCErrDeleteFailed
	}

	return result
}

func (svc *GCService) limit(requested int) int {
	if requested <= 0 || requested > svc.cfg.MaxDeletePerRun {
		return svc.cfg.MaxDeletePerRun
	}

	return requested
}

// scanOrphans lists the whole prefix before looking at records, so a failed
// listing is never mistaken for an empty one.
func (svc *GCService) scanOrphans(
	ctx context.Context,
	driver storage.Driver,
	prefix string,
	result *domain.GCResult,
) ([]candidate, string) {
	objects, err := storage.Collect(ctx, driver, prefix)
	if err != nil {
		svc.log.ErrorContext(ctx, "list storage failed", "prefix", prefix, "error", err)

		return nil, domain.GCErrStorageListFailed
	}

	result.ScannedStorage = len(objects)

	paths := make(map[string]struct{})
	uuids := make(map[string]struct{})

	for afterID := int64(0); ; {
		page, err := svc.repo.List(ctx, afterID, pageSize)
		if err != nil {
			svc.log.ErrorContext(ctx, "list records failed", "error", err)

			return nil, domain.GCErrRecordLookupFailed
		}

		for _, file := range page {
			paths[file.DiskPath] = struct{}{}
			uuids[file.UUID] = struct{}{}

			if file.QuarantinePath != nil {
				paths[*file.QuarantinePath] = struct{}{}
			}
		}

		result.ScannedDB += len(page)

		if len(page) < pageSize {
			break
		}

		afterID = page[len(page)-1].ID
	}

	minAge := svc.cfg.OrphanMinAge()
	now := svc.now()

	var candidates []candidate

	for _, object := range objects {
		if _, ok := paths[object.Path]; ok {
			continue
		}

		if version, mediaUUID, ok := domain.ParseThumbPath(object.Path); ok && version == svc.cfg.ThumbAlgoVersion {
			if _, ok := uuids[mediaUUID]; ok {
				continue
			}
		}

		if svc.cfg.Exempt(object.Path) || now.Sub(object.ModTime) < minAge {
			continue
		}

		candidates = append(candidates, candidate{path: object.Path, size: object.Size})
	}

	slices.SortFunc(candidates, func(a, b candidate) int { return strings.Compare(a.path, b.path) })

	return candidates, ""
}

func (svc *GCService) scanRetention(ctx context.Context, result *domain.GCResult) ([]candidate, string) {
	cutoff := svc.now().Add(-svc.cfg.Retention())

	var candidates []candidate

	for afterID := int64(0); ; {
		page, err := svc.repo.ListCreatedBefore(ctx, cutoff, afterID, pageSize)
		if err != nil {
			svc.log.ErrorContext(ctx, "list expired records failed", "cutoff", cutoff, "error", err)

			return nil, domain.GCErrRecordListFailed
		}

		for _, file := range page {
			path := file.StoragePath()

			if (file.IsPublic && !svc.cfg.AllowDeletePublic) || svc.cfg.Exempt(path) {
				continue
			}

			candidates = append(candidates, candidate{path: path, size: file.SizeBytes, recordID: file.ID})
		}

		result.ScannedDB += len(page)

		if len(page) < pageSize {
			break
		}

		afterID = page[len(page)-1].ID
	}

	return candidates, ""
}

func abort(result domain.GCResult, reason string) domain.GCResult {
	result.OK = false
	result.Error = reason
	result.State = domain.GCStateDone

	return result
}
