package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// RegistryConfig holds what every pool created by a PoolRegistry shares.
type RegistryConfig struct {
	// Address seeds the pool addresses; pool n lives at the CREATE address
	// of (Address, n).
	Address common.Address
	Owner   common.Address
	Payout  domain.Payout
	Events  domain.EventSink
	Clock   domain.Clock
	Params  Params
	Logger  *slog.Logger
}

// PoolRegistry creates and indexes one pool per collection.
type PoolRegistry struct {
	mu     sync.RWMutex
	cfg    RegistryConfig
	owner  common.Address
	nonce  uint64
	pools  map[common.Address]*Pool
	order  []common.Address
	logger *slog.Logger
}

// NewRegistry returns an empty registry owned by cfg.Owner.
func NewRegistry(cfg RegistryConfig) (*PoolRegistry, error) {
	if cfg.Address == (common.Address{}) || cfg.Owner == (common.Address{}) {
		return nil, fmt.Errorf("pool registry: %w", domain.ErrInvalidAddress)
	}
	if cfg.Payout == nil {
		return nil, fmt.Errorf("pool registry: missing payout: %w", domain.ErrInvalidArgument)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PoolRegistry{
		cfg:    cfg,
		owner:  cfg.Owner,
		pools:  make(map[common.Address]*Pool),
		logger: cfg.Logger.With(slog.String("component", "pool_registry")),
	}, nil
}

// Address is the registry's own address.
func (r *PoolRegistry) Address() common.Address { return r.cfg.Address }

// Owner is the protocol administrator.
func (r *PoolRegistry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// TransferOwnership hands administration to next.
func (r *PoolRegistry) TransferOwnership(caller, next common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if caller != r.owner {
		return fmt.Errorf("pool registry: caller is not the owner: %w", domain.ErrUnauthorized)
	}
	if next == (common.Address{}) {
		return fmt.Errorf("pool registry: new owner: %w", domain.ErrInvalidAddress)
	}
	r.owner = next
	return nil
}

// CreatePool opens the pool for collection. Only the owner may create pools
// and each collection gets at most one.
func (r *PoolRegistry) CreatePool(
	ctx context.Context,
	caller, collection common.Address,
	nft domain.NFTCollection,
	oracle domain.PriceSource,
	premium domain.PremiumSource,
) (*Pool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return nil, fmt.Errorf("pool registry: caller is not the owner: %w", domain.ErrUnauthorized)
	}
	if collection == (common.Address{}) || nft == nil || oracle == nil || premium == nil {
		return nil, fmt.Errorf("pool registry: create pool: %w", domain.ErrInvalidAddress)
	}
	if _, ok := r.pools[collection]; ok {
		return nil, fmt.Errorf("pool registry: %s: %w", collection.Hex(), domain.ErrPoolExists)
	}

	addr := crypto.CreateAddress(r.cfg.Address, r.nonce)
	p, err := New(Config{
		Address:    addr,
		Factory:    r,
		Collection: collection,
		NFT:        nft,
		Oracle:     oracle,
		Premium:    premium,
		Payout:     r.cfg.Payout,
		Events:     r.cfg.Events,
		Clock:      r.cfg.Clock,
		Params:     r.cfg.Params,
		Logger:     r.cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	r.nonce++
	r.pools[collection] = p
	r.order = append(r.order, collection)

	r.logger.InfoContext(ctx, "pool created",
		slog.String("collection", collection.Hex()),
		slog.String("pool", addr.Hex()),
	)
	return p, nil
}

// GetPool returns the pool for collection.
func (r *PoolRegistry) GetPool(collection common.Address) (*Pool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.pools[collection]
	return p, ok
}

// Pools lists pools in creation order.
func (r *PoolRegistry) Pools() []*Pool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Pool, len(r.order))
	for i, c := range r.order {
		out[i] = r.pools[c]
	}
	return out
}
