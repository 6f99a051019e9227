package mediasvc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
	"github.com/mkrupp/mediavault/internal/repo/media"
	"github.com/mkrupp/mediavault/internal/repo/storage"
)

// Upload outcomes reported to metrics.
const (
	resultStored       = "stored"
	resultDeduplicated = "deduplicated"
	resultInvalidMIME  = "invalid_mime"
	resultOversize     = "oversize"
	resultQuarantined  = "quarantined"
	resultError        = "error"
)

// UploadService implements MediaService on a storage driver and a record repository.
// Content is addressed by its SHA-256; the repository's unique hash constraint
// decides concurrent uploads of identical content, claims only shorten the race.
type UploadService struct {
	driver  storage.Driver
	repo    media.Repository
	claims  media.ClaimStore
	sniffer MimeSniffer
	cfg     MediaConfig
	metrics *metrics.Metrics
	log     logging.Logger
	now     func() time.Time
}

var _ MediaService = (*UploadService)(nil)

// Option customizes an UploadService.
type Option func(*UploadService)

// WithMetrics records upload outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(svc *UploadService) { svc.metrics = m }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(svc *UploadService) { svc.now = now }
}

// NewUploadService creates an UploadService writing to driver.
func NewUploadService(
	driver storage.Driver,
	repo media.Repository,
	claims media.ClaimStore,
	cfg MediaConfig,
	opts ...Option,
) *UploadService {
	svc := &UploadService{
		driver: driver,
		repo:   repo,
		claims: claims,
		cfg:    cfg,
		log:    logging.GetLogger("svc.mediasvc.upload_service"),
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(svc)
	}

	return svc
}

// PublicMode implements MediaService.PublicMode.
func (svc *UploadService) PublicMode() string {
	return svc.cfg.PublicMode
}

// UploadLimit implements MediaService.UploadLimit.
func (svc *UploadService) UploadLimit() int64 {
	return svc.cfg.SpoolLimit()
}

// spooledUpload is an upload body buffered to a temp file.
type spooledUpload struct {
	file   *os.File
	size   int64
	sha256 string
	header []byte
}

func (s *spooledUpload) Close() {
	_ = s.file.Close()
	_ = os.Remove(s.file.Name())
}

// headerWriter keeps the first limit bytes written to it.
type headerWriter struct {
	buf   []byte
	limit int
}

func (w *headerWriter) Write(p []byte) (int, error) {
	if room := w.limit - len(w.buf); room > 0 {
		w.buf = append(w.buf, p[:min(room, len(p))]...)
	}

	return len(p), nil
}

// spool copies body once to a temp file, hashing it on the way. At most
// SpoolLimit()+1 bytes are read, enough to detect an oversize body.
func (svc *UploadService) spool(ctx context.Context, body io.Reader) (_ *spooledUpload, err error) {
	file, err := os.CreateTemp(svc.cfg.TempDir, "mediavault-upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}

	upload := &spooledUpload{file: file}

	defer func() {
		if err != nil {
			upload.Close()
		}
	}()

	hasher := sha256.New()
	header := &headerWriter{limit: SniffLen}

	if upload.size, err = io.Copy(
		io.MultiWriter(file, hasher, header),
		io.LimitReader(contextReader{ctx: ctx, r: body}, svc.cfg.SpoolLimit()+1),
	); err != nil {
		return nil, fmt.Errorf("copy body: %w", err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek: %w", err)
	}

	upload.sha256 = hex.EncodeToString(hasher.Sum(nil))
	upload.header = header.buf

	return upload, nil
}

// Upload implements MediaService.Upload.
//
//nolint:cyclop,funlen
func (svc *UploadService) Upload(ctx context.Context, req UploadRequest) (result UploadResult, err error) {
	log := svc.log.With(logging.Group("upload",
		"filename", req.Filename,
		"declaredType", req.DeclaredMIME,
	))

	defer func() {
		outcome := uploadOutcome(result, err)
		written := int64(0)

		if outcome == resultStored {
			written = result.File.SizeBytes
		}

		svc.metrics.Upload(outcome, written)

		switch {
		case outcome == resultError:
			log.ErrorContext(ctx, "media upload failed", "error", err)
		case err != nil:
			log.InfoContext(ctx, "media upload rejected", "reason", outcome, "error", err)
		default:
			log.DebugContext(ctx, "media uploaded",
				"uuid", result.File.UUID,
				"sha256", result.File.SHA256,
				"deduplicated", result.WasDeduplicated,
			)
		}
	}()

	upload, err := svc.spool(ctx, req.Body)
	if err != nil {
		return UploadResult{}, fmt.Errorf("spool: %w", err)
	}
	defer upload.Close()

	mimeType, err := svc.sniffer.Sniff(upload.header)
	if err != nil {
		return UploadResult{}, err
	}

	if !svc.cfg.Allowed(mimeType) {
		return UploadResult{}, fmt.Errorf("%w: %s", domain.ErrInvalidMIME, mimeType)
	}

	if limit := svc.cfg.LimitFor(mimeType); upload.size > limit {
		return UploadResult{}, fmt.Errorf("%w: %s exceeds %d bytes", domain.ErrOversize, mimeType, limit)
	}

	log = log.With(logging.Group("upload", "sha256", upload.sha256, "size", upload.size, "type", mimeType))

	if existing, found, err := svc.repo.FindBySHA256(ctx, upload.sha256); err != nil {
		return UploadResult{}, fmt.Errorf("find by hash: %w", err)
	} else if found {
		return deduplicated(existing)
	}

	owner := uuid.NewString()
	claimed := svc.tryClaim(ctx, upload.sha256, owner)

	if !claimed {
		winner, found, err := svc.waitForWinner(ctx, upload.sha256)
		if err != nil {
			return UploadResult{}, fmt.Errorf("wait for concurrent upload: %w", err)
		}

		if found {
			return deduplicated(winner)
		}

		claimed = svc.tryClaim(ctx, upload.sha256, owner)
	}

	if claimed {
		defer func() {
			if err := svc.claims.Release(context.WithoutCancel(ctx), upload.sha256, owner); err != nil {
				log.WarnContext(ctx, "claim release failed", "error", err)
			}
		}()
	}

	return svc.store(ctx, upload, mimeType, req)
}

// tryClaim never fails the upload; without a claim the insert constraint still decides.
func (svc *UploadService) tryClaim(ctx context.Context, sha256, owner string) bool {
	claimed, err := svc.claims.TryClaim(ctx, sha256, owner, svc.cfg.ClaimTTL())
	if err != nil {
		svc.log.WarnContext(ctx, "claim failed, proceeding unclaimed", "sha256", sha256, "error", err)

		return true
	}

	return claimed
}

// store writes the object, then inserts the record.
func (svc *UploadService) store(
	ctx context.Context,
	upload *spooledUpload,
	mimeType string,
	req UploadRequest,
) (UploadResult, error) {
	now := svc.now().UTC()

	diskPath, err := UploadPath(now, upload.sha256, svc.sniffer.Extension(mimeType))
	if err != nil {
		return UploadResult{}, err
	}

	if err := svc.driver.Put(ctx, diskPath, upload.file, upload.size); err != nil {
		return UploadResult{}, fmt.Errorf("put object: %w", err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return UploadResult{}, fmt.Errorf("new uuid: %w", err)
	}

	file := domain.MediaFile{
		UUID:         id.String(),
		DiskPath:     diskPath,
		OriginalName: SanitizeName(req.Filename),
		MIMEType:     mimeType,
		SizeBytes:    upload.size,
		SHA256:       upload.sha256,
		UploadedBy:   req.Actor,
		CreatedAt:    now,
		Status:       domain.MediaStatusReady,
	}

	if err := svc.repo.Create(ctx, &file); err != nil {
		if errors.Is(err, domain.ErrDuplicateHash) {
			return svc.recoverDuplicate(ctx, diskPath, upload.sha256, err)
		}

		svc.discardUnreferenced(ctx, diskPath, upload.sha256)

		return UploadResult{}, fmt.Errorf("create record: %w", err)
	}

	return UploadResult{File: file}, nil
}

// recoverDuplicate handles losing the insert race: the winner's record is returned.
// Our object is removed only if it is not the winner's path.
func (svc *UploadService) recoverDuplicate(
	ctx context.Context,
	diskPath, sha256 string,
	insertErr error,
) (UploadResult, error) {
	winner, found, err := svc.repo.FindBySHA256(ctx, sha256)
	if err != nil {
		return UploadResult{}, fmt.Errorf("read winner: %w", errors.Join(insertErr, err))
	}

	if !found {
		return UploadResult{}, fmt.Errorf("read winner: %w", insertErr)
	}

	if winner.DiskPath != diskPath {
		if err := svc.driver.Delete(ctx, diskPath); err != nil {
			svc.log.WarnContext(ctx, "loser object delete failed", "path", diskPath, "error", err)
		}
	}

	return deduplicated(winner)
}

// discardUnreferenced removes an object written for a failed insert, unless a
// record for the same content now exists and may share the path.
func (svc *UploadService) discardUnreferenced(ctx context.Context, diskPath, sha256 string) {
	if _, found, err := svc.repo.FindBySHA256(ctx, sha256); err != nil || found {
		return
	}

	if err := svc.driver.Delete(context.WithoutCancel(ctx), diskPath); err != nil {
		svc.log.WarnContext(ctx, "orphan object delete failed", "path", diskPath, "error", err)
	}
}

func deduplicated(file *domain.MediaFile) (UploadResult, error) {
	if file.Status == domain.MediaStatusQuarantine {
		return UploadResult{}, fmt.Errorf("%w: %s", domain.ErrQuarantined, file.UUID)
	}

	return UploadResult{File: *file, WasDeduplicated: true}, nil
}

func uploadOutcome(result UploadResult, err error) string {
	switch {
	case err == nil && result.WasDeduplicated:
		return resultDeduplicated
	case err == nil:
		return resultStored
	case errors.Is(err, domain.ErrInvalidMIME):
		return resultInvalidMIME
	case errors.Is(err, domain.ErrOversize):
		return resultOversize
	case errors.Is(err, domain.ErrQuarantined):
		return resultQuarantined
	default:
		return resultError
	}
}

// contextReader aborts a copy once the context is cancelled.
type contextReader struct {
	ctx context.Context //nolint:containedctx
	r   io.Reader
}

func (cr contextReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}

	return cr.r.Read(p) //nolint:wrapcheck
}
