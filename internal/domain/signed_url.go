package domain

import (
	"errors"
	"time"
)

var (
	// ErrSignatureInvalid is returned when a token is malformed or its MAC does not match.
	ErrSignatureInvalid = errors.New("signature invalid")
	// ErrSignatureExpired is returned when a token's MAC is valid but its expiry has passed.
	ErrSignatureExpired = errors.New("signature expired")
	// ErrSigningDisabled is returned when no signing secret is configured.
	ErrSigningDisabled = errors.New("signing disabled")
)

// SignedURL is an issued access token for one media object.
type SignedURL struct {
	MediaUUID string
	Token     string
	ExpiresAt time.Time
}
