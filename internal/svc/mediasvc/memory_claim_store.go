package mediasvc

import (
	"context"
	"sync"
	"time"

	"github.com/mkrupp/mediavault/internal/repo/media"
)

type memoryClaim struct {
	owner     string
	expiresAt time.Time
}

// MemoryClaimStore is a process-local ClaimStore for single-instance deployments and tests.
type MemoryClaimStore struct {
	mu     sync.Mutex
	claims map[string]memoryClaim
	now    func() time.Time
}

var _ media.ClaimStore = (*MemoryClaimStore)(nil)

// NewMemoryClaimStore returns an empty claim store.
func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{claims: make(map[string]memoryClaim), now: time.Now}
}

// TryClaim implements media.ClaimStore.
func (s *MemoryClaimStore) TryClaim(_ context.Context, sha256, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	if claim, ok := s.claims[sha256]; ok && claim.owner != owner && now.Before(claim.expiresAt) {
		return false, nil
	}

	s.claims[sha256] = memoryClaim{owner: owner, expiresAt: now.Add(ttl)}

	return true, nil
}

// Release implements media.ClaimStore.
func (s *MemoryClaimStore) Release(_ context.Context, sha256, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if claim, ok := s.claims[sha256]; ok && claim.owner == owner {
		delete(s.claims, sha256)
	}

	return nil
}
