package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// NonceStore implements domain.NonceStore with SET NX so every replica
// sharing Redis rejects the same repeat.
type NonceStore struct {
	c *Client
}

// NewNonceStore creates a NonceStore backed by c.
func NewNonceStore(c *Client) *NonceStore {
	return &NonceStore{c: c}
}

// Claim sets key with ttl unless it already exists.
func (s *NonceStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := s.c.rdb.SetNX(ctx, s.c.key("seen", key), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis: claim %s: %w", key, err)
	}
	return ok, nil
}

var _ domain.NonceStore = (*NonceStore)(nil)
