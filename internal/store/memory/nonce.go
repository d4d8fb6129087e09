package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// NonceStore is the single-process replay guard used when Redis is not
// configured. Expired keys are swept on each claim.
type NonceStore struct {
	mu   sync.Mutex
	seen map[string]time.Time
	now  func() time.Time
}

func NewNonceStore() *NonceStore {
	return &NonceStore{seen: make(map[string]time.Time), now: time.Now}
}

func (s *NonceStore) Claim(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for k, exp := range s.seen {
		if !now.Before(exp) {
			delete(s.seen, k)
		}
	}
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)
	return true, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
