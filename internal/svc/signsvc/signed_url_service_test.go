package signsvc_test

import (
	"context"
	"encoding/base64"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/svc/signsvc"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func setupSignedURLService(t *testing.T) (*signsvc.SignedURLService, *clock) {
	t.Helper()

	c := &clock{now: time.Unix(1760000000, 0)}

	svc, err := signsvc.NewSignedURLService(signsvc.SignConfig{TTLSeconds: 60, Secret: testSecret}, c.Now)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	return svc, c
}

func TestSignedURLService_IssueVerify(t *testing.T) {
	t.Parallel()

	svc, c := setupSignedURLService(t)

	signed, err := svc.Issue(context.TODO(), "media-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	if !signed.ExpiresAt.Equal(c.now.Add(time.Minute)) {
		t.Errorf("expected expiry in 60s, got %v", signed.ExpiresAt)
	}

	tampered := []byte(signed.Token)
	tampered[20] ^= 1

	forged := make([]byte, 40)
	copy(forged, []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff})

	tests := []struct {
		name      string
		mediaUUID string
		token     string
		advance   time.Duration
		wantErr   error
	}{
		{name: "accepts valid token", mediaUUID: "media-1", token: signed.Token},
		{name: "accepts until just before expiry", mediaUUID: "media-1", token: signed.Token, advance: 59 * time.Second},
		{name: "rejects at expiry", mediaUUID: "media-1", token: signed.Token, advance: time.Minute, wantErr: domain.ErrSignatureExpired},
		{name: "rejects other media", mediaUUID: "media-2", token: signed.Token, wantErr: domain.ErrSignatureInvalid},
		{name: "rejects tampered token", mediaUUID: "media-1", token: string(tampered), wantErr: domain.ErrSignatureInvalid},
		{
			name:      "rejects forged expiry",
			mediaUUID: "media-1",
			token:     base64.RawURLEncoding.EncodeToString(forged),
			wantErr:   domain.ErrSignatureInvalid,
		},
		{name: "rejects garbage", mediaUUID: "media-1", token: "%%%", wantErr: domain.ErrSignatureInvalid},
		{name: "rejects truncated token", mediaUUID: "media-1", token: signed.Token[:20], wantErr: domain.ErrSignatureInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			verifier, err := signsvc.NewSignedURLService(signsvc.SignConfig{TTLSeconds: 60, Secret: testSecret},
				func() time.Time { return c.now.Add(tt.advance) })
			if err != nil {
				t.Fatalf("failed to create verifier: %v", err)
			}

			err = verifier.Verify(context.TODO(), tt.mediaUUID, tt.token)
			if tt.wantErr == nil && err != nil {
				t.Fatalf("expected valid token, got %v", err)
			}

			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSignedURLService_Disabled(t *testing.T) {
	t.Parallel()

	svc, err := signsvc.NewSignedURLService(signsvc.SignConfig{TTLSeconds: 60}, nil)
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	if svc.Enabled() {
		t.Error("expected service without secret to be disabled")
	}

	if _, err := svc.Issue(context.TODO(), "media-1"); !errors.Is(err, domain.ErrSigningDisabled) {
		t.Errorf("expected ErrSigningDisabled, got %v", err)
	}

	if err := svc.Verify(context.TODO(), "media-1", "x"); !errors.Is(err, domain.ErrSigningDisabled) {
		t.Errorf("expected ErrSigningDisabled, got %v", err)
	}
}

func TestSignConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		cfg     signsvc.SignConfig
		wantErr bool
	}{
		{name: "accepts no secret", cfg: signsvc.SignConfig{TTLSeconds: 1}},
		{name: "accepts long secret", cfg: signsvc.SignConfig{TTLSeconds: 1, Secret: testSecret}},
		{name: "rejects short secret", cfg: signsvc.SignConfig{TTLSeconds: 1, Secret: "short"}, wantErr: true},
		{name: "rejects zero ttl", cfg: signsvc.SignConfig{Secret: testSecret}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestGetSecret(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "keys", "sign.key")

	created, err := signsvc.GetSecret(path)
	if err != nil {
		t.Fatalf("create secret: %v", err)
	}

	loaded, err := signsvc.GetSecret(path)
	if err != nil {
		t.Fatalf("load secret: %v", err)
	}

	if string(created) != string(loaded) || len(loaded) != signsvc.MinSecretLength {
		t.Error("expected the stored secret to be reloaded")
	}

	short := filepath.Join(t.TempDir(), "short.key")
	if err := os.WriteFile(short, []byte(base64.RawURLEncoding.EncodeToString([]byte("tiny"))), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := signsvc.GetSecret(short); !errors.Is(err, signsvc.ErrInvalidSignConfig) {
		t.Errorf("expected ErrInvalidSignConfig, got %v", err)
	}

	svc, err := signsvc.NewSignedURLService(signsvc.SignConfig{TTLSeconds: 60, SecretFile: path}, nil)
	if err != nil || !svc.Enabled() {
		t.Fatalf("expected enabled service from secret file, got %v", err)
	}

	signed, _ := svc.Issue(context.TODO(), "m")
	if strings.ContainsAny(signed.Token, "+/=") {
		t.Errorf("expected url-safe token, got %q", signed.Token)
	}
}
