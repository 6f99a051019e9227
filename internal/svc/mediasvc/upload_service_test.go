package mediasvc_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/repo/media"
	"github.com/mkrupp/mediavault/internal/repo/storage"
	"github.com/mkrupp/mediavault/internal/svc/mediasvc"
)

var errInjected = errors.New("injected failure")

// claimed reports whether another owner currently holds the claim on sha.
func claimed(t *testing.T, store media.ClaimStore, sha string) bool {
	t.Helper()

	ok, err := store.TryClaim(context.TODO(), sha, "observer", time.Minute)
	if err != nil {
		t.Fatalf("try claim: %v", err)
	}

	if ok {
		_ = store.Release(context.TODO(), sha, "observer")
	}

	return !ok
}

// faultyDriver wraps a driver and fails Put when putErr is set.
type faultyDriver struct {
	storage.Driver

	putErr error
}

func (d *faultyDriver) Put(ctx context.Context, path string, body io.Reader, size int64) error {
	if d.putErr != nil {
		return d.putErr
	}

	return d.Driver.Put(ctx, path, body, size)
}

// faultyRepository wraps a repository and intercepts Create.
type faultyRepository struct {
	media.Repository

	createErr    error
	beforeCreate func(file *domain.MediaFile)
}

func (r *faultyRepository) Create(ctx context.Context, file *domain.MediaFile) error {
	if r.beforeCreate != nil {
		r.beforeCreate(file)
	}

	if r.createErr != nil {
		return r.createErr
	}

	return r.Repository.Create(ctx, file)
}

type fixture struct {
	svc    *mediasvc.UploadService
	driver *faultyDriver
	repo   *faultyRepository
	claims *mediasvc.MemoryClaimStore
	sqlite *media.SQLiteRepository
}

func testConfig() mediasvc.MediaConfig {
	return mediasvc.MediaConfig{
		MaxBytes:                   1 << 20,
		AllowedMIME:                []string{"image/png", "image/jpeg"},
		DedupeWaitMaxMs:            2000,
		DedupeWaitInitialBackoffMs: 5,
		DedupeWaitMaxBackoffMs:     20,
		DedupeWaitJitterMs:         5,
		DedupeClaimTTLMs:           30000,
		PublicMode:                 mediasvc.PublicModePrivate,
	}
}

func setupUploadService(t *testing.T, cfg mediasvc.MediaConfig) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg.TempDir = dir

	local, err := storage.NewLocalDriver(context.TODO(), storage.LocalDriverConfig{Root: filepath.Join(dir, "storage")})
	if err != nil {
		t.Fatalf("failed to create driver: %v", err)
	}

	sqlite, err := media.NewSQLiteRepository(media.SQLiteRepositoryConfig{DatabasePath: filepath.Join(dir, "media.db")})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}

	t.Cleanup(func() { _ = sqlite.Close() })

	f := &fixture{
		driver: &faultyDriver{Driver: local},
		repo:   &faultyRepository{Repository: sqlite},
		claims: mediasvc.NewMemoryClaimStore(),
		sqlite: sqlite,
	}

	f.svc = mediasvc.NewUploadService(f.driver, f.repo, f.claims, cfg,
		mediasvc.WithClock(func() time.Time { return time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC) }),
	)

	return f
}

func pngBytes(t *testing.T, width int, shade uint8) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, width, width))
	for x := range width {
		for y := range width {
			img.Set(x, y, color.RGBA{R: shade, G: uint8(x), B: uint8(y), A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}

	return buf.Bytes()
}

func upload(f *fixture, body []byte, name string) (mediasvc.UploadResult, error) {
	return f.svc.Upload(context.TODO(), mediasvc.UploadRequest{
		Body:         bytes.NewReader(body),
		Filename:     name,
		DeclaredMIME: "application/octet-stream",
	})
}

func storedPaths(t *testing.T, driver storage.Driver) []string {
	t.Helper()

	objects, err := storage.Collect(context.TODO(), driver, "")
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	paths := make([]string, 0, len(objects))
	for _, object := range objects {
		paths = append(paths, object.Path)
	}

	return paths
}

func TestUploadService_StoresContentAddressed(t *testing.T) {
	t.Parallel()

	f := setupUploadService(t, testConfig())
	body := pngBytes(t, 8, 1)

	result, err := upload(f, body, "../../etc/My Photo.png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	file := result.File
	if result.WasDeduplicated {
		t.Error("expected first upload to be stored")
	}

	if file.MIMEType != "image/png" || file.SizeBytes != int64(len(body)) || len(file.SHA256) != 64 {
		t.Errorf("unexpected record %+v", file)
	}

	if file.OriginalName != "My Photo.png" {
		t.Errorf("expected sanitized name, got %q", file.OriginalName)
	}

	if !strings.HasPrefix(file.DiskPath, "uploads/2026/10/") || !strings.HasSuffix(file.DiskPath, ".png") {
		t.Errorf("unexpected disk path %q", file.DiskPath)
	}

	reader, err := f.svc.Open(context.TODO(), file)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer reader.Close()

	if stored, _ := io.ReadAll(reader); !bytes.Equal(stored, body) {
		t.Error("stored content differs from upload")
	}
}

func TestUploadService_SequentialDedupe(t *testing.T) {
	t.Parallel()

	f := setupUploadService(t, testConfig())
	body := pngBytes(t, 8, 2)

	first, err := upload(f, body, "a.png")
	if err != nil {
		t.Fatalf("first upload: %v", err)
	}

	second, err := upload(f, body, "b.png")
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}

	if !second.WasDeduplicated || second.File.UUID != first.File.UUID {
		t.Errorf("expected dedupe to first record, got %+v", second)
	}

	if paths := storedPaths(t, f.driver); len(paths) != 1 {
		t.Errorf("expected one stored object, got %v", paths)
	}
}

func TestUploadService_ConcurrentDedupe(t *testing.T) {
	t.Parallel()

	f := setupUploadService(t, testConfig())
	body := pngBytes(t, 16, 3)

	const uploads = 8

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		uuids   = map[string]int{}
		created int
	)

	for range uploads {
		wg.Add(1)

		go func() {
			defer wg.Done()

			result, err := upload(f, body, "same.png")
			if err != nil {
				t.Errorf("upload: %v", err)

				return
			}

			mu.Lock()
			defer mu.Unlock()

			uuids[result.File.UUID]++

			if !result.WasDeduplicated {
				created++
			}
		}()
	}

	wg.Wait()

	if len(uuids) != 1 || created != 1 {
		t.Errorf("expected a single record created once, got uuids=%v created=%d", uuids, created)
	}

	if paths := storedPaths(t, f.driver); len(paths) != 1 {
		t.Errorf("expected one stored object, got %v", paths)
	}
}

func TestUploadService_RejectsContent(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.MaxBytes = 64
	cfg.MaxBytesByMIME = map[string]int64{"image/jpeg": 1 << 20}

	f := setupUploadService(t, cfg)

	tests := []struct {
		name    string
		body    []byte
		wantErr error
	}{
		{name: "rejects text", body: []byte("just some text pretending to be a png"), wantErr: domain.ErrInvalidMIME},
		{name: "rejects empty body", body: nil, wantErr: domain.ErrInvalidMIME},
		{name: "rejects oversize png", body: pngBytes(t, 32, 4), wantErr: domain.ErrOversize},
		{name: "rejects html despite png name", body: []byte("<html><body>x</body></html>"), wantErr: domain.ErrInvalidMIME},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if _, err := upload(f, tt.body, "image.png"); !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}

	t.Cleanup(func() {
		if paths := storedPaths(t, f.driver); len(paths) != 0 {
			t.Errorf("expected nothing stored, got %v", paths)
		}
	})
}

func TestUploadService_ClaimWaitTimesOut(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.DedupeWaitMaxMs = 60

	f := setupUploadService(t, cfg)
	body := pngBytes(t, 8, 5)
	sha := sha256Hex(body)

	// a stalled concurrent upload holds the claim and never inserts
	if ok, _ := f.claims.TryClaim(context.TODO(), sha, "stalled", time.Minute); !ok {
		t.Fatal("failed to pre-claim")
	}

	start := time.Now()

	result, err := upload(f, body, "late.png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if result.WasDeduplicated {
		t.Error("expected upload to proceed after the wait budget")
	}

	if elapsed := time.Since(start); elapsed < 30*time.Millisecond || elapsed > 5*time.Second {
		t.Errorf("expected a bounded wait below the budget, took %v", elapsed)
	}

	if !claimed(t, f.claims, sha) {
		t.Error("expected the foreign claim to be left alone")
	}
}

func TestUploadService_WriteFailureReleasesClaim(t *testing.T) {
	t.Parallel()

	f := setupUploadService(t, testConfig())
	f.driver.putErr = errInjected

	body := pngBytes(t, 8, 6)

	if _, err := upload(f, body, "x.png"); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	if claimed(t, f.claims, sha256Hex(body)) {
		t.Error("expected claim to be released after write failure")
	}

	if _, found, _ := f.sqlite.FindBySHA256(context.TODO(), sha256Hex(body)); found {
		t.Error("expected no record after write failure")
	}
}

func TestUploadService_InsertRaceReturnsWinner(t *testing.T) {
	t.Parallel()

	f := setupUploadService(t, testConfig())
	body := pngBytes(t, 8, 7)

	var winner domain.MediaFile

	// another process inserts the same content first, under last month's path
	f.repo.beforeCreate = func(file *domain.MediaFile) {
		winner = *file
		winner.UUID = "winner-uuid"
		winner.DiskPath = "uploads/2026/09/winner.png"

		if err := f.driver.Driver.Put(context.TODO(), winner.DiskPath, bytes.NewReader(body), int64(len(body))); err != nil {
			t.Errorf("put winner: %v", err)
		}

		if err := f.sqlite.Create(context.TODO(), &winner); err != nil {
			t.Errorf("create winner: %v", err)
		}
	}

	result, err := upload(f, body, "loser.png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if !result.WasDeduplicated || result.File.UUID != "winner-uuid" {
		t.Errorf("expected winner record, got %+v", result)
	}

	if paths := storedPaths(t, f.driver); len(paths) != 1 || paths[0] != winner.DiskPath {
		t.Errorf("expected only the winner's object, got %v", paths)
	}
}

func TestUploadService_InsertFailureRemovesObject(t *testing.T) {
	t.Parallel()

	f := setupUploadService(t, testConfig())
	f.repo.createErr = errInjected

	if _, err := upload(f, pngBytes(t, 8, 8), "x.png"); !errors.Is(err, errInjected) {
		t.Fatalf("expected injected error, got %v", err)
	}

	if paths := storedPaths(t, f.driver); len(paths) != 0 {
		t.Errorf("expected written object to be removed, got %v", paths)
	}
}

func TestUploadService_QuarantinedContentRejected(t *testing.T) {
	t.Parallel()

	f := setupUploadService(t, testConfig())
	body := pngBytes(t, 8, 9)

	first, err := upload(f, body, "x.png")
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	if _, err := f.svc.Quarantine(context.TODO(), first.File.UUID); err != nil {
		t.Fatalf("quarantine: %v", err)
	}

	if _, err := upload(f, body, "again.png"); !errors.Is(err, domain.ErrQuarantined) {
		t.Errorf("expected ErrQuarantined, got %v", err)
	}
}
