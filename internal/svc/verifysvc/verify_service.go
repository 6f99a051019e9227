package verifysvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
	"github.com/mkrupp/mediavault/internal/repo/media"
	"github.com/mkrupp/mediavault/internal/repo/storage"
)

// Outcomes of checking one record.
const (
	OutcomeOK       = "ok"
	OutcomeMissing  = "missing"
	OutcomeMismatch = "mismatch"
	OutcomeError    = "error"
)

const pageSize = 500

// VerifyOptions controls a verification run.
type VerifyOptions struct {
	// Limit is the number of records to check; zero uses the configured default
	Limit int
}

// VerifyService audits stored objects against their records. It never mutates
// storage or records.
type VerifyService struct {
	driver  storage.Driver
	repo    media.Repository
	cfg     VerifyConfig
	metrics *metrics.Metrics
	log     logging.Logger
}

// NewVerifyService creates a VerifyService reading from driver and repo.
func NewVerifyService(
	driver storage.Driver,
	repo media.Repository,
	cfg VerifyConfig,
	m *metrics.Metrics,
) *VerifyService {
	return &VerifyService{
		driver:  driver,
		repo:    repo,
		cfg:     cfg,
		metrics: m,
		log:     logging.GetLogger("svc.verifysvc.verify_service"),
	}
}

// Verify checks up to opts.Limit records in ID order. Missing and mismatched
// objects are reported in the result; only a failed record listing or a
// cancelled context is returned as an error.
func (svc *VerifyService) Verify(ctx context.Context, opts VerifyOptions) (result domain.VerifyResult, err error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = svc.cfg.DefaultLimit
	}

	log := svc.log.With(logging.Group("verify", "limit", limit))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "verify failed", "error", err)
		} else {
			log.InfoContext(ctx, "verify done",
				"checked", result.Checked,
				"ok", result.OKCount,
				"missing", result.MissingCount,
				"mismatch", result.MismatchCount,
				"errors", result.ErrorCount,
			)
		}
	}()

	var (
		mu       sync.Mutex
		outcomes = map[string][]string{}
		afterID  int64
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(max(svc.cfg.Concurrency, 1))

	for remaining := limit; remaining > 0; {
		files, err := svc.repo.List(ctx, afterID, min(remaining, pageSize))
		if err != nil {
			_ = group.Wait()

			return domain.VerifyResult{}, fmt.Errorf("list records: %w", err)
		}

		if len(files) == 0 {
			break
		}

		for _, file := range files {
			group.Go(func() error {
				outcome := svc.check(groupCtx, file)

				mu.Lock()
				defer mu.Unlock()

				outcomes[outcome] = append(outcomes[outcome], file.UUID)

				return groupCtx.Err()
			})
		}

		remaining -= len(files)
		afterID = files[len(files)-1].ID
	}

	if err := group.Wait(); err != nil {
		return domain.VerifyResult{}, fmt.Errorf("check objects: %w", err)
	}

	for outcome, uuids := range outcomes {
		svc.metrics.Verify(outcome, len(uuids))
		slices.Sort(uuids)
	}

	result = domain.VerifyResult{
		OKCount:       len(outcomes[OutcomeOK]),
		MissingCount:  len(outcomes[OutcomeMissing]),
		MismatchCount: len(outcomes[OutcomeMismatch]),
		ErrorCount:    len(outcomes[OutcomeError]),
		Missing:       outcomes[OutcomeMissing],
		Mismatched:    outcomes[OutcomeMismatch],
	}
	result.Checked = result.OKCount + result.MissingCount + result.MismatchCount + result.ErrorCount
	result.OK = result.Checked == result.OKCount

	return result, nil
}

// check compares one record with its object: existence, then size, then hash
// when the object is small enough.
func (svc *VerifyService) check(ctx context.Context, file domain.MediaFile) string {
	objectPath := file.StoragePath()
	log := svc.log.With(logging.Group("media", "uuid", file.UUID, "path", objectPath))

	info, err := svc.driver.Stat(ctx, objectPath)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			log.WarnContext(ctx, "object missing")

			return OutcomeMissing
		}

		log.ErrorContext(ctx, "object stat failed", "error", err)

		return OutcomeError
	}

	if info.Size != file.SizeBytes {
		log.WarnContext(ctx, "object size mismatch", "want", file.SizeBytes, "got", info.Size)

		return OutcomeMismatch
	}

	if info.Size > svc.cfg.MaxHashBytes {
		return OutcomeOK
	}

	sum, err := svc.hash(ctx, objectPath)
	if err != nil {
		if errors.Is(err, domain.ErrObjectNotFound) {
			return OutcomeMissing // deleted between stat and read
		}

		log.ErrorContext(ctx, "object hash failed", "error", err)

		return OutcomeError
	}

	if sum != file.SHA256 {
		log.WarnContext(ctx, "object hash mismatch", "want", file.SHA256, "got", sum)

		return OutcomeMismatch
	}

	return OutcomeOK
}

func (svc *VerifyService) hash(ctx context.Context, objectPath string) (string, error) {
	reader, err := svc.driver.Get(ctx, objectPath)
	if err != nil {
		return "", fmt.Errorf("get object: %w", err)
	}
	defer reader.Close()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, reader); err != nil {
		return "", fmt.Errorf("read object: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}
