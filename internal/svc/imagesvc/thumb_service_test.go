package imagesvc_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"path/filepath"
	"sync"
	"testing"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/repo/media"
	"github.com/mkrupp/mediavault/internal/repo/storage"
	"github.com/mkrupp/mediavault/internal/svc/mediasvc"

	. "github.com/mkrupp/mediavault/internal/svc/imagesvc"
)

type fixture struct {
	driver   *storage.LocalDriver
	mediaSvc *mediasvc.UploadService
}

func testImageConfig() ImageConfig {
	return ImageConfig{
		Interpolator:     "catmullrom",
		MaxPixels:        1 << 20,
		ThumbVariants:    map[string]int{"small": 40, "large": 400},
		ThumbFormat:      "jpeg",
		ThumbQuality:     80,
		ThumbAlgoVersion: 1,
		CacheSize:        16,
	}
}

func setupFixture(t *testing.T, publicMode string) *fixture {
	t.Helper()

	dir := t.TempDir()

	driver, err := storage.NewLocalDriver(context.TODO(), storage.LocalDriverConfig{Root: filepath.Join(dir, "storage")})
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}

	repo, err := media.NewSQLiteRepository(media.SQLiteRepositoryConfig{DatabasePath: filepath.Join(dir, "media.db")})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	t.Cleanup(func() { _ = repo.Close() })

	mediaSvc := mediasvc.NewUploadService(driver, repo, mediasvc.NewMemoryClaimStore(), mediasvc.MediaConfig{
		MaxBytes:                   1 << 20,
		AllowedMIME:                []string{"image/*", "application/pdf"},
		DedupeWaitMaxMs:            100,
		DedupeWaitInitialBackoffMs: 5,
		DedupeWaitMaxBackoffMs:     20,
		DedupeClaimTTLMs:           1000,
		PublicMode:                 publicMode,
		TempDir:                    dir,
	})

	return &fixture{driver: driver, mediaSvc: mediaSvc}
}

func (f *fixture) thumbService(t *testing.T, cfg ImageConfig) *ThumbService {
	t.Helper()

	svc, err := NewThumbService(f.driver, f.mediaSvc, cfg, nil)
	if err != nil {
		t.Fatalf("failed to create thumb service: %v", err)
	}

	return svc
}

func (f *fixture) upload(t *testing.T, body []byte) domain.MediaFile {
	t.Helper()

	result, err := f.mediaSvc.Upload(context.TODO(), mediasvc.UploadRequest{Body: bytes.NewReader(body), Filename: "upload"})
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	return result.File
}

func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := range width {
		for y := range height {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}

	return buf.Bytes()
}

func thumbBounds(t *testing.T, thumb domain.Thumb) image.Rectangle {
	t.Helper()

	img, err := jpeg.Decode(bytes.NewReader(thumb.Body))
	if err != nil {
		t.Fatalf("failed to decode thumb: %v", err)
	}

	return img.Bounds()
}

func TestThumbService_ResolveThumb(t *testing.T) {
	t.Parallel()

	f := setupFixture(t, mediasvc.PublicModePrivate)
	file := f.upload(t, pngBytes(t, 200, 100))
	svc := f.thumbService(t, testImageConfig())

	thumb, err := svc.ResolveThumb(context.TODO(), file.UUID, "small")
	if err != nil {
		t.Fatalf("resolve thumb: %v", err)
	}

	if thumb.CacheHit || thumb.MIMEType != "image/jpeg" || thumb.Path != domain.ThumbPath(1, file.UUID, "small", "jpg") {
		t.Errorf("unexpected thumb %+v", thumb)
	}

	if bounds := thumbBounds(t, thumb); bounds.Dx() != 40 || bounds.Dy() != 20 {
		t.Errorf("expected 40x20 thumb, got %v", bounds)
	}

	if exists, _ := f.driver.Exists(context.TODO(), thumb.Path); !exists {
		t.Error("expected thumb to be stored")
	}

	again, err := svc.ResolveThumb(context.TODO(), file.UUID, "small")
	if err != nil || !again.CacheHit || !bytes.Equal(again.Body, thumb.Body) {
		t.Errorf("expected cached thumb, got %+v, %v", again.CacheHit, err)
	}

	// a fresh service finds the stored variant
	stored, err := f.thumbService(t, testImageConfig()).ResolveThumb(context.TODO(), file.UUID, "small")
	if err != nil || !stored.CacheHit {
		t.Errorf("expected stored thumb to be served, got %+v, %v", stored.CacheHit, err)
	}
}

func TestThumbService_NeverUpscales(t *testing.T) {
	t.Parallel()

	f := setupFixture(t, mediasvc.PublicModePrivate)
	file := f.upload(t, pngBytes(t, 60, 30))

	cfg := testImageConfig()
	cfg.Interpolator = "lanczos"
	cfg.ThumbFormat = "png"

	thumb, err := f.thumbService(t, cfg).ResolveThumb(context.TODO(), file.UUID, "large")
	if err != nil {
		t.Fatalf("resolve thumb: %v", err)
	}

	img, err := png.Decode(bytes.NewReader(thumb.Body))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	if img.Bounds().Dx() != 60 || img.Bounds().Dy() != 30 || thumb.MIMEType != "image/png" {
		t.Errorf("expected the original 60x30 png, got %v %s", img.Bounds(), thumb.MIMEType)
	}

	small, err := f.thumbService(t, cfg).ResolveThumb(context.TODO(), file.UUID, "small")
	if err != nil {
		t.Fatalf("resolve thumb: %v", err)
	}

	if img, err = png.Decode(bytes.NewReader(small.Body)); err != nil || img.Bounds().Dx() != 40 || img.Bounds().Dy() != 20 {
		t.Errorf("expected a 40x20 lanczos thumb, got %v, %v", img, err)
	}
}

func TestThumbService_Regenerates(t *testing.T) {
	t.Parallel()

	f := setupFixture(t, mediasvc.PublicModePrivate)
	file := f.upload(t, pngBytes(t, 100, 100))

	thumb, err := f.thumbService(t, testImageConfig()).ResolveThumb(context.TODO(), file.UUID, "small")
	if err != nil {
		t.Fatalf("resolve thumb: %v", err)
	}

	if err := f.driver.Delete(context.TODO(), thumb.Path); err != nil {
		t.Fatalf("delete: %v", err)
	}

	regenerated, err := f.thumbService(t, testImageConfig()).ResolveThumb(context.TODO(), file.UUID, "small")
	if err != nil || regenerated.CacheHit {
		t.Errorf("expected regenerated thumb, got %+v, %v", regenerated.CacheHit, err)
	}

	cfg := testImageConfig()
	cfg.ThumbAlgoVersion = 2

	bumped, err := f.thumbService(t, cfg).ResolveThumb(context.TODO(), file.UUID, "small")
	if err != nil || bumped.CacheHit || bumped.Path != domain.ThumbPath(2, file.UUID, "small", "jpg") {
		t.Errorf("expected new algo version to generate a new path, got %+v, %v", bumped.Path, err)
	}
}

func TestThumbService_NotGeneratable(t *testing.T) {
	t.Parallel()

	f := setupFixture(t, mediasvc.PublicModePrivate)
	pdf := f.upload(t, []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n"))
	big := f.upload(t, pngBytes(t, 120, 100))

	cfg := testImageConfig()
	cfg.MaxPixels = 10000

	svc := f.thumbService(t, cfg)

	tests := []struct {
		name     string
		uuid     string
		expected domain.ThumbReason
	}{
		{"unsupported mime", pdf.UUID, domain.ThumbReasonUnsupportedMIME},
		{"too many pixels", big.UUID, domain.ThumbReasonTooLarge},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			thumb, err := svc.ResolveThumb(context.TODO(), test.uuid, "small")
			if err != nil {
				t.Fatalf("resolve thumb: %v", err)
			}

			if thumb.Generatable() || thumb.Reason != test.expected || thumb.Body != nil {
				t.Errorf("expected reason %s, got %+v", test.expected, thumb)
			}
		})
	}
}

func TestThumbService_Errors(t *testing.T) {
	t.Parallel()

	f := setupFixture(t, mediasvc.PublicModePrivate)
	file := f.upload(t, pngBytes(t, 50, 50))
	held := f.upload(t, pngBytes(t, 51, 50))

	if _, err := f.mediaSvc.Quarantine(context.TODO(), held.UUID); err != nil {
		t.Fatalf("quarantine: %v", err)
	}

	svc := f.thumbService(t, testImageConfig())

	tests := []struct {
		name     string
		uuid     string
		variant  string
		expected error
	}{
		{"unknown variant", file.UUID, "huge", domain.ErrUnknownVariant},
		{"unknown media", "missing", "small", domain.ErrMediaNotFound},
		{"quarantined media", held.UUID, "small", domain.ErrQuarantined},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			if _, err := svc.ResolveThumb(context.TODO(), test.uuid, test.variant); !errors.Is(err, test.expected) {
				t.Errorf("expected %v, got %v", test.expected, err)
			}
		})
	}
}

func TestThumbService_ConcurrentFirstReads(t *testing.T) {
	t.Parallel()

	f := setupFixture(t, mediasvc.PublicModePrivate)
	file := f.upload(t, pngBytes(t, 300, 200))
	svc := f.thumbService(t, testImageConfig())

	var (
		wg     sync.WaitGroup
		bodies = make([][]byte, 8)
		errs   = make([]error, 8)
	)

	for i := range 8 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			thumb, err := svc.ResolveThumb(context.TODO(), file.UUID, "large")
			bodies[i], errs[i] = thumb.Body, err
		}()
	}

	wg.Wait()

	for i := range 8 {
		if errs[i] != nil {
			t.Fatalf("resolve %d: %v", i, errs[i])
		}

		if !bytes.Equal(bodies[i], bodies[0]) {
			t.Errorf("expected identical thumbs, %d differs", i)
		}
	}
}

func TestImageConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*ImageConfig)
		valid  bool
	}{
		{"defaults", func(*ImageConfig) {}, true},
		{"lanczos", func(cfg *ImageConfig) { cfg.Interpolator = "Lanczos" }, true},
		{"png", func(cfg *ImageConfig) { cfg.ThumbFormat = "png" }, true},
		{"unknown interpolator", func(cfg *ImageConfig) { cfg.Interpolator = "bicubic" }, false},
		{"unknown format", func(cfg *ImageConfig) { cfg.ThumbFormat = "gif" }, false},
		{"quality out of range", func(cfg *ImageConfig) { cfg.ThumbQuality = 101 }, false},
		{"variant with slash", func(cfg *ImageConfig) { cfg.ThumbVariants = map[string]int{"a/b": 10} }, false},
		{"zero width variant", func(cfg *ImageConfig) { cfg.ThumbVariants = map[string]int{"a": 0} }, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			t.Parallel()

			cfg := testImageConfig()
			test.modify(&cfg)

			err := cfg.Validate()
			if test.valid && err != nil {
				t.Errorf("expected valid config, got %v", err)
			} else if !test.valid && !errors.Is(err, ErrInvalidImageConfig) {
				t.Errorf("expected ErrInvalidImageConfig, got %v", err)
			}
		})
	}
}
