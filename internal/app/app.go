// Package app wires the media engine from a parsed configuration.
package app

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mkrupp/mediavault/internal/infra/authclient"
	"github.com/mkrupp/mediavault/internal/infra/config"
	"github.com/mkrupp/mediavault/internal/infra/logging"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
	"github.com/mkrupp/mediavault/internal/repo/media"
	"github.com/mkrupp/mediavault/internal/repo/storage"
	"github.com/mkrupp/mediavault/internal/svc/gcsvc"
	"github.com/mkrupp/mediavault/internal/svc/imagesvc"
	"github.com/mkrupp/mediavault/internal/svc/mediasvc"
	"github.com/mkrupp/mediavault/internal/svc/signsvc"
	"github.com/mkrupp/mediavault/internal/svc/verifysvc"
)

const AppName = "mediavault"

// Config is the complete configuration of the engine. Every section is read
// from MEDIAVAULT_<SVC>_<PREFIX><NAME>, falling back to shorter namespaces.
type Config struct {
	config.EnvConfig

	Log        logging.LoggerConfig         `envPrefix:"LOG_"`
	Media      mediasvc.MediaConfig         `envPrefix:"MEDIA_"`
	Image      imagesvc.ImageConfig         `envPrefix:"IMAGE_"`
	HTTP       imagesvc.HTTPTransportConfig `envPrefix:"HTTP_"`
	Sign       signsvc.SignConfig           `envPrefix:"SIGN_"`
	GC         gcsvc.GCConfig               `envPrefix:"GC_"`
	Verify     verifysvc.VerifyConfig       `envPrefix:"VERIFY_"`
	Storage    storage.StorageConfig        `envPrefix:"STORAGE_"`
	Records    media.SQLiteRepositoryConfig `envPrefix:"RECORDS_"`
	AuthClient authclient.HTTPClientConfig  `envPrefix:"AUTH_CLIENT_"`
}

// Services holds the constructed engine components.
type Services struct {
	Metrics *metrics.Metrics
	Disks   *storage.Disks
	Records media.Repository
	Media   *mediasvc.UploadService
	Thumbs  *imagesvc.ThumbService
	Signer  *signsvc.SignedURLService
	GC      *gcsvc.GCService
	Verify  *verifysvc.VerifyService
}

// Open constructs all services. Metrics are registered on reg; a nil reg
// disables metrics.
func Open(ctx context.Context, cfg Config, reg prometheus.Registerer) (_ *Services, err error) {
	var svc Services

	if reg != nil {
		if svc.Metrics, err = metrics.New(reg); err != nil {
			return nil, fmt.Errorf("new metrics: %w", err)
		}
	}

	if svc.Disks, err = storage.OpenDisks(ctx, cfg.Storage, nil, svc.Metrics); err != nil {
		return nil, fmt.Errorf("open disks: %w", err)
	}

	records, err := media.NewSQLiteRepository(cfg.Records)
	if err != nil {
		return nil, fmt.Errorf("new media repository: %w", err)
	}

	svc.Records = records

	defer func() {
		if err != nil {
			_ = records.Close()
		}
	}()

	driver := svc.Disks.Default()

	var claims media.ClaimStore = records
	if cfg.Media.ClaimStore == mediasvc.ClaimStoreMemory {
		claims = mediasvc.NewMemoryClaimStore()
	}

	svc.Media = mediasvc.NewUploadService(driver, records, claims, cfg.Media, mediasvc.WithMetrics(svc.Metrics))

	if svc.Thumbs, err = imagesvc.NewThumbService(driver, svc.Media, cfg.Image, svc.Metrics); err != nil {
		return nil, fmt.Errorf("new thumb service: %w", err)
	}

	if svc.Signer, err = signsvc.NewSignedURLService(cfg.Sign, nil); err != nil {
		return nil, fmt.Errorf("new signed url service: %w", err)
	}

	if cfg.Media.PublicMode == mediasvc.PublicModeSigned && !svc.Signer.Enabled() {
		return nil, fmt.Errorf("%w: public mode %q needs a signing secret",
			mediasvc.ErrInvalidMediaConfig, mediasvc.PublicModeSigned)
	}

	gcCfg := cfg.GC
	gcCfg.ThumbAlgoVersion = cfg.Image.ThumbAlgoVersion
	svc.GC = gcsvc.NewGCService(svc.Disks, records, gcCfg, gcsvc.WithMetrics(svc.Metrics))

	svc.Verify = verifysvc.NewVerifyService(driver, records, cfg.Verify, svc.Metrics)

	return &svc, nil
}

// Close releases the record store.
func (svc *Services) Close() error {
	if err := svc.Records.Close(); err != nil {
		return fmt.Errorf("close records: %w", err)
	}

	return nil
}
