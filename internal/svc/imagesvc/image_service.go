package imagesvc

import (
	"context"

	"github.com/mkrupp/mediavault/internal/domain"
)

// ImageService defines the interface for derived image variants.
type ImageService interface {
	// ResolveThumb returns the named variant of a stored image, generating and
	// storing it on first use.
	// Returns domain.ErrUnknownVariant for unconfigured variants, domain.ErrMediaNotFound
	// for unknown media and domain.ErrQuarantined for quarantined media.
	// Media that cannot be thumbnailed yields a Thumb with a Reason instead of an error.
	ResolveThumb(ctx context.Context, mediaUUID, variant string) (domain.Thumb, error)

	// Variants lists the configured variant names.
	Variants() []string
}
