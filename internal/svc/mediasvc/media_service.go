package mediasvc

import (
	"context"
	"io"

	"github.com/mkrupp/mediavault/internal/domain"
)

// UploadRequest carries one upload through the pipeline.
type UploadRequest struct {
	Body         io.Reader
	Filename     string
	DeclaredMIME string // client supplied, logged only
	Actor        *string
}

// UploadResult is the stored record and whether an existing one was reused.
type UploadResult struct {
	File            domain.MediaFile
	WasDeduplicated bool
}

// MediaService defines the interface for managing stored media.
type MediaService interface {
	// Upload stores the request body, deduplicating by content hash.
	// Returns domain.ErrInvalidMIME or domain.ErrOversize for rejected content
	// and domain.ErrQuarantined if identical content is quarantined.
	Upload(ctx context.Context, req UploadRequest) (UploadResult, error)

	// Get retrieves the record with the given UUID.
	// Returns domain.ErrMediaNotFound if it does not exist.
	Get(ctx context.Context, mediaUUID string) (domain.MediaFile, error)

	// GetByPublicToken retrieves a public record by its share token.
	GetByPublicToken(ctx context.Context, token string) (domain.MediaFile, error)

	// Open returns the stored content of file. The caller must close it.
	// Returns domain.ErrQuarantined for quarantined media.
	Open(ctx context.Context, file domain.MediaFile) (io.ReadCloser, error)

	// Quarantine moves the object out of the serving namespace.
	Quarantine(ctx context.Context, mediaUUID string) (domain.MediaFile, error)

	// Release restores a quarantined object.
	Release(ctx context.Context, mediaUUID string) (domain.MediaFile, error)

	// SetPublic toggles anonymous access and issues or clears the share token.
	SetPublic(ctx context.Context, mediaUUID string, public bool) (domain.MediaFile, error)

	// PublicMode returns the configured anonymous access mode.
	PublicMode() string

	// UploadLimit is the largest upload body any content type may reach.
	UploadLimit() int64
}
