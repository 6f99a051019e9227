package imagesvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
	"github.com/mkrupp/mediavault/internal/repo/storage"
	"github.com/mkrupp/mediavault/internal/svc/mediasvc"
)

// Thumbnail outcomes reported to metrics.
const (
	resultHit       = "hit"
	resultGenerated = "generated"
	resultFailed    = "failed"
)

// ThumbService implements ImageService. Variants are written through the same
// driver as the originals and kept in a bounded in-memory cache. Concurrent
// requests for the same variant share one generation.
type ThumbService struct {
	driver   storage.Driver
	mediaSvc mediasvc.MediaService
	cache    *lru.Cache[string, []byte]
	group    singleflight.Group
	resize   resizer
	encoder  thumbEncoder
	cfg      ImageConfig
	metrics  *metrics.Metrics
	log      logging.Logger
}

var _ ImageService = (*ThumbService)(nil)

// NewThumbService creates a ThumbService reading originals through mediaSvc and
// storing variants on driver.
// Returns an error if the configuration names an unknown interpolator or format.
func NewThumbService(
	driver storage.Driver,
	mediaSvc mediasvc.MediaService,
	cfg ImageConfig,
	m *metrics.Metrics,
) (*ThumbService, error) {
	resize, err := getResizerByName(cfg.Interpolator)
	if err != nil {
		return nil, fmt.Errorf("get resizer: %w", err)
	}

	encoder, err := getThumbEncoder(cfg.ThumbFormat, cfg.ThumbQuality)
	if err != nil {
		return nil, fmt.Errorf("get encoder: %w", err)
	}

	cache, err := lru.New[string, []byte](max(cfg.CacheSize, 1))
	if err != nil {
		return nil, fmt.Errorf("new cache: %w", err)
	}

	return &ThumbService{
		driver:   driver,
		mediaSvc: mediaSvc,
		cache:    cache,
		resize:   resize,
		encoder:  encoder,
		cfg:      cfg,
		metrics:  m,
		log:      logging.GetLogger("svc.imagesvc.thumb_service"),
	}, nil
}

// Variants implements ImageService.Variants.
func (svc *ThumbService) Variants() []string {
	names := make([]string, 0, len(svc.cfg.ThumbVariants))
	for name := range svc.cfg.ThumbVariants {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// ResolveThumb implements ImageService.ResolveThumb.
func (svc *ThumbService) ResolveThumb(ctx context.Context, mediaUUID, variant string) (thumb domain.Thumb, err error) {
	log := svc.log.With(logging.Group("thumb", "media", mediaUUID, "variant", variant))

	defer func() {
		switch {
		case err != nil:
			svc.metrics.Thumb(resultFailed)
			log.ErrorContext(ctx, "thumb resolve failed", "error", err)
		case !thumb.Generatable():
			svc.metrics.Thumb(string(thumb.Reason))
			log.DebugContext(ctx, "thumb not generatable", "reason", thumb.Reason)
		case thumb.CacheHit:
			svc.metrics.Thumb(resultHit)
			log.DebugContext(ctx, "thumb served", "path", thumb.Path)
		default:
			svc.metrics.Thumb(resultGenerated)
			log.DebugContext(ctx, "thumb generated", "path", thumb.Path, "size", len(thumb.Body))
		}
	}()

	width, ok := svc.cfg.ThumbVariants[variant]
	if !ok {
		return domain.Thumb{}, fmt.Errorf("%w: %q", domain.ErrUnknownVariant, variant)
	}

	file, err := svc.mediaSvc.Get(ctx, mediaUUID)
	if err != nil {
		return domain.Thumb{}, fmt.Errorf("get media: %w", err)
	}

	if file.Status == domain.MediaStatusQuarantine {
		return domain.Thumb{}, domain.ErrQuarantined
	}

	if _, ok := getDecoderByType(file.MIMEType); !ok {
		return domain.Thumb{Reason: domain.ThumbReasonUnsupportedMIME}, nil
	}

	path := domain.ThumbPath(svc.cfg.ThumbAlgoVersion, file.UUID, variant, svc.encoder.ext)

	if body, ok := svc.cache.Get(path); ok {
		return svc.thumb(path, body, true), nil
	}

	// the shared load outlives any single caller
	shared := context.WithoutCancel(ctx)

	results := svc.group.DoChan(path, func() (any, error) {
		return svc.load(shared, file, path, width)
	})

	select {
	case <-ctx.Done():
		return domain.Thumb{}, fmt.Errorf("wait for thumb: %w", ctx.Err())
	case res := <-results:
		if res.Err != nil {
			return domain.Thumb{}, res.Err //nolint:wrapcheck
		}

		//nolint:forcetypeassert
		return res.Val.(domain.Thumb), nil
	}
}

// load reads a stored variant, generating it when it does not exist yet.
func (svc *ThumbService) load(ctx context.Context, file domain.MediaFile, path string, width int) (domain.Thumb, error) {
	body, err := svc.readStored(ctx, path)
	if err == nil {
		svc.cache.Add(path, body)

		return svc.thumb(path, body, true), nil
	} else if !errors.Is(err, domain.ErrObjectNotFound) {
		return domain.Thumb{}, fmt.Errorf("read thumb: %w", err)
	}

	svc.cache.Remove(path)

	thumb, err := svc.generate(ctx, file, path, width)
	if err != nil {
		return domain.Thumb{}, err
	}

	if thumb.Generatable() {
		svc.cache.Add(path, thumb.Body)
	}

	return thumb, nil
}

func (svc *ThumbService) readStored(ctx context.Context, path string) ([]byte, error) {
	reader, err := svc.driver.Get(ctx, path)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}
	defer reader.Close()

	return io.ReadAll(reader) //nolint:wrapcheck
}

func (svc *ThumbService) generate(
	ctx context.Context,
	file domain.MediaFile,
	path string,
	width int,
) (thumb domain.Thumb, err error) {
	log := svc.log.With(logging.Group("image",
		"type", file.MIMEType,
		logging.Group("target", "width", width, "path", path),
	))

	defer func() {
		if err != nil {
			log.ErrorContext(ctx, "image resize failed", "error", err)
		} else {
			log.DebugContext(ctx, "image resized", "reason", thumb.Reason)
		}
	}()

	codec, _ := getDecoderByType(file.MIMEType)

	reader, err := svc.mediaSvc.Open(ctx, file)
	if err != nil {
		return domain.Thumb{}, fmt.Errorf("open original: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return domain.Thumb{}, fmt.Errorf("read original: %w", err)
	}

	config, err := codec.decodeConfig(bytes.NewReader(data))
	if err != nil {
		return domain.Thumb{}, fmt.Errorf("decode config: %w", err)
	}

	if int64(config.Width)*int64(config.Height) > svc.cfg.MaxPixels {
		return domain.Thumb{Reason: domain.ThumbReasonTooLarge}, nil
	}

	original, err := codec.decode(bytes.NewReader(data))
	if err != nil {
		return domain.Thumb{}, fmt.Errorf("decode image: %w", err)
	}

	var buffer bytes.Buffer
	if err := svc.encoder.encode(&buffer, resizeImage(original, width, svc.resize)); err != nil {
		return domain.Thumb{}, fmt.Errorf("encode image: %w", err)
	}

	body := buffer.Bytes()

	if err := svc.driver.Put(ctx, path, bytes.NewReader(body), int64(len(body))); err != nil {
		return domain.Thumb{}, fmt.Errorf("store thumb: %w", err)
	}

	return svc.thumb(path, body, false), nil
}

func (svc *ThumbService) thumb(path string, body []byte, cacheHit bool) domain.Thumb {
	return domain.Thumb{
		Path:     path,
		MIMEType: svc.encoder.mimeType,
		Body:     body,
		CacheHit: cacheHit,
	}
}
