package mediasvc_test

import (
	"errors"
	"testing"
	"time"

	"github.com/mkrupp/mediavault/internal/svc/mediasvc"
)

func TestMediaConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*mediasvc.MediaConfig)
		wantErr bool
	}{
		{name: "accepts defaults", mutate: func(*mediasvc.MediaConfig) {}},
		{name: "rejects zero max bytes", mutate: func(c *mediasvc.MediaConfig) { c.MaxBytes = 0 }, wantErr: true},
		{name: "rejects empty allow list", mutate: func(c *mediasvc.MediaConfig) { c.AllowedMIME = nil }, wantErr: true},
		{name: "rejects unknown public mode", mutate: func(c *mediasvc.MediaConfig) { c.PublicMode = "open" }, wantErr: true},
		{
			name:    "rejects inverted backoff",
			mutate:  func(c *mediasvc.MediaConfig) { c.DedupeWaitMaxBackoffMs = 1 },
			wantErr: true,
		},
		{
			name:    "rejects non-positive per type limit",
			mutate:  func(c *mediasvc.MediaConfig) { c.MaxBytesByMIME = map[string]int64{"image/png": 0} },
			wantErr: true,
		},
		{name: "rejects unknown claim store", mutate: func(c *mediasvc.MediaConfig) { c.ClaimStore = "redis" }, wantErr: true},
		{name: "accepts memory claims", mutate: func(c *mediasvc.MediaConfig) { c.ClaimStore = mediasvc.ClaimStoreMemory }},
		{name: "accepts no waiting", mutate: func(c *mediasvc.MediaConfig) { c.DedupeWaitMaxMs = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := testConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("expected error=%v, got %v", tt.wantErr, err)
			}

			if err != nil && !errors.Is(err, mediasvc.ErrInvalidMediaConfig) {
				t.Errorf("expected ErrInvalidMediaConfig, got %v", err)
			}
		})
	}
}

func TestMediaConfig_Limits(t *testing.T) {
	t.Parallel()

	cfg := mediasvc.MediaConfig{
		MaxBytes:       100,
		AllowedMIME:    []string{"image/*", "application/pdf"},
		MaxBytesByMIME: map[string]int64{"video/mp4": 1000, "image/gif": 50},
	}

	if cfg.LimitFor("video/mp4") != 1000 || cfg.LimitFor("image/png") != 100 || cfg.LimitFor("image/gif") != 50 {
		t.Error("unexpected per type limits")
	}

	if cfg.SpoolLimit() != 1000 {
		t.Errorf("expected spool limit 1000, got %d", cfg.SpoolLimit())
	}

	for mimeType, want := range map[string]bool{
		"image/webp":      true,
		"application/pdf": true,
		"imagex/png":      false,
		"video/mp4":       false,
	} {
		if got := cfg.Allowed(mimeType); got != want {
			t.Errorf("Allowed(%q) = %v, want %v", mimeType, got, want)
		}
	}

	if (mediasvc.MediaConfig{DedupeClaimTTLMs: 1500}).ClaimTTL() != 1500*time.Millisecond {
		t.Error("unexpected claim ttl")
	}
}
