package media

import (
	"context"
	"time"

	"github.com/mkrupp/mediavault/internal/domain"
)

// Repository defines the interface for media record persistence.
type Repository interface {
	// Create inserts file and assigns its ID.
	// Returns domain.ErrDuplicateHash if a record with the same SHA-256 exists.
	Create(ctx context.Context, file *domain.MediaFile) error

	// FindBySHA256 retrieves a record by content hash.
	// Returns the record and true if found, or nil and false if not found.
	FindBySHA256(ctx context.Context, sha256 string) (*domain.MediaFile, bool, error)

	// FindByUUID retrieves a record by its public identifier.
	FindByUUID(ctx context.Context, uuid string) (*domain.MediaFile, bool, error)

	// FindByPublicToken retrieves a public record by its share token.
	FindByPublicToken(ctx context.Context, token string) (*domain.MediaFile, bool, error)

	// List pages through all records in ID order, starting after afterID.
	List(ctx context.Context, afterID int64, limit int) ([]domain.MediaFile, error)

	// ListCreatedBefore pages through records created before cutoff in ID order.
	ListCreatedBefore(ctx context.Context, cutoff time.Time, afterID int64, limit int) ([]domain.MediaFile, error)

	// UpdateStatus sets status and quarantine path of the record.
	// Returns domain.ErrMediaNotFound if no record matches.
	UpdateStatus(ctx context.Context, uuid string, status domain.MediaStatus, quarantinePath *string) error

	// SetPublic toggles public visibility and stores the share token.
	// Returns domain.ErrMediaNotFound if no record matches.
	SetPublic(ctx context.Context, uuid string, public bool, token *string) error

	// Delete removes the record. Deleting a missing record is not an error.
	Delete(ctx context.Context, id int64) error

	// Close releases any resources held by the repository.
	Close() error
}

// ClaimStore holds short-lived upload claims on content hashes. A claim is a
// latency hint for concurrent identical uploads, not a lock.
type ClaimStore interface {
	// TryClaim acquires the claim on sha256 for owner. It succeeds if the hash is
	// unclaimed, the previous claim expired, or owner already holds it.
	TryClaim(ctx context.Context, sha256, owner string, ttl time.Duration) (bool, error)

	// Release drops the claim if owner still holds it.
	Release(ctx context.Context, sha256, owner string) error
}
