package storage_test

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/metrics"
	"github.com/prometheus/client_golang/prometheus"

	. "github.com/mkrupp/mediavault/internal/repo/storage"
)

func TestStorageConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     StorageConfig
		wantErr bool
	}{
		{name: "accepts local", cfg: StorageConfig{Default: "local"}},
		{name: "accepts s3 with bucket", cfg: StorageConfig{Default: "s3", S3: S3DriverConfig{Bucket: "media"}}},
		{name: "rejects s3 without bucket", cfg: StorageConfig{Default: "s3"}, wantErr: true},
		{name: "rejects unknown disk", cfg: StorageConfig{Default: "ftp"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}

			if err != nil && !errors.Is(err, domain.ErrUnknownDisk) {
				t.Errorf("expected ErrUnknownDisk, got %v", err)
			}
		})
	}
}

func TestOpenDisks(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()

	m, err := metrics.New(reg)
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}

	disks, err := OpenDisks(context.TODO(), StorageConfig{
		Default: "local",
		Local:   LocalDriverConfig{Root: t.TempDir()},
	}, nil, m)
	if err != nil {
		t.Fatalf("open disks: %v", err)
	}

	if names := disks.Names(); !slices.Equal(names, []string{"local"}) {
		t.Errorf("expected only local disk, got %v", names)
	}

	driver, err := disks.Get("")
	if err != nil || driver != disks.Default() {
		t.Fatalf("expected default driver, got %v, %v", driver, err)
	}

	if _, err := disks.Get("s3"); !errors.Is(err, domain.ErrUnknownDisk) {
		t.Errorf("expected ErrUnknownDisk for unconfigured s3, got %v", err)
	}

	putString(t, driver, "a/b", "instrumented")

	if _, err := AbsolutePath(driver, "a/b"); err != nil {
		t.Errorf("expected instrumented local driver to expose paths, got %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false

	for _, family := range families {
		if family.GetName() == "mediavault_storage_op_duration_seconds" {
			found = len(family.GetMetric()) > 0
		}
	}

	if !found {
		t.Error("expected storage operations to be observed")
	}
}

func TestNewDisks_UnknownDefault(t *testing.T) {
	t.Parallel()

	driver, _ := setupLocalDriver(t)

	if _, err := NewDisks("s3", driver); !errors.Is(err, domain.ErrUnknownDisk) {
		t.Errorf("expected ErrUnknownDisk, got %v", err)
	}
}
