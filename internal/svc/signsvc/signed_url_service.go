package signsvc

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/mkrupp/mediavault/internal/domain"
	"github.com/mkrupp/mediavault/internal/infra/logging"
)

const (
	expiryLen = 8
	tokenLen  = expiryLen + sha256.Size
)

// SignedURLService issues and verifies time-limited media access tokens.
//
// A token is base64url(expiry || HMAC-SHA256(secret, uuid "|" expiry)) with the
// expiry as big-endian unix seconds, so it is bound to one media object.
type SignedURLService struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	log    logging.Logger
}

// NewSignedURLService resolves the secret from cfg. Without a secret the service
// is created disabled and Issue returns domain.ErrSigningDisabled.
func NewSignedURLService(cfg SignConfig, now func() time.Time) (*SignedURLService, error) {
	if now == nil {
		now = time.Now
	}

	svc := &SignedURLService{
		ttl: cfg.TTL(),
		now: now,
		log: logging.GetLogger("svc.signsvc.signed_url_service"),
	}

	switch {
	case cfg.Secret != "":
		svc.secret = []byte(cfg.Secret)
	case cfg.SecretFile != "":
		secret, err := GetSecret(cfg.SecretFile)
		if err != nil {
			return nil, fmt.Errorf("get secret: %w", err)
		}

		svc.secret = secret
	}

	return svc, nil
}

// Enabled reports whether a secret is configured.
func (svc *SignedURLService) Enabled() bool {
	return len(svc.secret) > 0
}

// Issue creates a token for mediaUUID valid for the configured TTL.
func (svc *SignedURLService) Issue(ctx context.Context, mediaUUID string) (signed domain.SignedURL, err error) {
	defer func() {
		if err != nil {
			svc.log.ErrorContext(ctx, "sign url failed", "uuid", mediaUUID, "error", err)
		} else {
			svc.log.DebugContext(ctx, "url signed", "uuid", mediaUUID, "exp", signed.ExpiresAt.Format(time.RFC3339))
		}
	}()

	if !svc.Enabled() {
		return domain.SignedURL{}, domain.ErrSigningDisabled
	}

	expiresAt := svc.now().Add(svc.ttl).Truncate(time.Second)

	token := make([]byte, expiryLen, tokenLen)
	binary.BigEndian.PutUint64(token, uint64(expiresAt.Unix())) //nolint:gosec
	token = append(token, svc.mac(mediaUUID, expiresAt.Unix())...)

	return domain.SignedURL{
		MediaUUID: mediaUUID,
		Token:     base64.RawURLEncoding.EncodeToString(token),
		ExpiresAt: expiresAt,
	}, nil
}

// Verify checks token for mediaUUID. The MAC is checked before the expiry,
// so a forged token never reports domain.ErrSignatureExpired.
func (svc *SignedURLService) Verify(_ context.Context, mediaUUID, token string) error {
	if !svc.Enabled() {
		return domain.ErrSigningDisabled
	}

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil || len(raw) != tokenLen {
		return domain.ErrSignatureInvalid
	}

	expiry := int64(binary.BigEndian.Uint64(raw[:expiryLen])) //nolint:gosec

	if !hmac.Equal(raw[expiryLen:], svc.mac(mediaUUID, expiry)) {
		return domain.ErrSignatureInvalid
	}

	if svc.now().Unix() >= expiry {
		return fmt.Errorf("%w: at %s", domain.ErrSignatureExpired, time.Unix(expiry, 0).UTC().Format(time.RFC3339))
	}

	return nil
}

func (svc *SignedURLService) mac(mediaUUID string, expiry int64) []byte {
	mac := hmac.New(sha256.New, svc.secret)
	mac.Write([]byte(mediaUUID + "|" + strconv.FormatInt(expiry, 10)))

	return mac.Sum(nil)
}
