package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/pool"
	"github.com/NFTCall-xyz/nftcall-core/internal/token"
)

const (
	lockTTL       = 10 * time.Second
	lockWait      = 2 * time.Second
	reconcilePage = 500
)

// lockWaiter is a LockManager that can block until a held lock frees up.
type lockWaiter interface {
	AcquireWait(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// PoolService owns the pool registry and the simulated NFT collections the
// pools trade on.
type PoolService struct {
	mu          sync.RWMutex
	registry    *pool.PoolRegistry
	oracle      domain.PriceSource
	premium     domain.PremiumSource
	collections map[common.Address]*token.Registry
	events      domain.EventStore
	locks       domain.LockManager
	logger      *slog.Logger
}

// NewPoolService builds a service over registry. Every pool it creates
// prices against oracle and premium. events backs Reconcile; locks, when
// set, serialises mutations of a pool across processes.
func NewPoolService(
	registry *pool.PoolRegistry,
	oracle domain.PriceSource,
	premium domain.PremiumSource,
	events domain.EventStore,
	locks domain.LockManager,
	logger *slog.Logger,
) *PoolService {
	return &PoolService{
		registry:    registry,
		oracle:      oracle,
		premium:     premium,
		collections: make(map[common.Address]*token.Registry),
		events:      events,
		locks:       locks,
		logger:      logger.With(slog.String("component", "pool_service")),
	}
}

// lock takes the pool lock, waiting up to lockWait when the manager
// supports it.
func (s *PoolService) lock(ctx context.Context, key string) (func(), error) {
	w, ok := s.locks.(lockWaiter)
	if !ok {
		return s.locks.Acquire(ctx, key, lockTTL)
	}
	waitCtx, cancel := context.WithTimeout(ctx, lockWait)
	defer cancel()
	unlock, err := w.AcquireWait(waitCtx, key, lockTTL)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %w", domain.ErrLockHeld, err)
	}
	return unlock, err
}

// Registry exposes the underlying pool registry.
func (s *PoolService) Registry() *pool.PoolRegistry { return s.registry }

// AddCollection registers a collection and opens its pool. Only the
// registry owner may add collections.
func (s *PoolService) AddCollection(ctx context.Context, caller, collection common.Address, name string) (*pool.Pool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.collections[collection]; ok {
		return nil, fmt.Errorf("pool service: %s: %w", collection.Hex(), domain.ErrPoolExists)
	}
	nft := token.NewRegistry(name)
	p, err := s.registry.CreatePool(ctx, caller, collection, nft, s.oracle, s.premium)
	if err != nil {
		return nil, err
	}
	s.collections[collection] = nft
	return p, nil
}

// Pool returns the pool trading collection.
func (s *PoolService) Pool(collection common.Address) (*pool.Pool, error) {
	p, ok := s.registry.GetPool(collection)
	if !ok {
		return nil, fmt.Errorf("pool service: no pool for %s: %w", collection.Hex(), domain.ErrNotFound)
	}
	return p, nil
}

// Collection returns the NFT registry of collection.
func (s *PoolService) Collection(collection common.Address) (*token.Registry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nft, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("pool service: unknown collection %s: %w", collection.Hex(), domain.ErrNotFound)
	}
	return nft, nil
}

// Mint creates NFT id of collection for to. Only the registry owner mints.
func (s *PoolService) Mint(ctx context.Context, caller, collection, to common.Address, id uint64) error {
	if caller != s.registry.Owner() {
		return fmt.Errorf("pool service: mint: %w", domain.ErrUnauthorized)
	}
	nft, err := s.Collection(collection)
	if err != nil {
		return err
	}
	return nft.Mint(ctx, to, id)
}

// Mutate runs fn against the pool of collection while holding the pool's
// distributed lock, when one is configured.
func (s *PoolService) Mutate(ctx context.Context, collection common.Address, op string, fn func(ctx context.Context, p *pool.Pool) error) error {
	p, err := s.Pool(collection)
	if err != nil {
		return err
	}
	if s.locks != nil {
		unlock, err := s.lock(ctx, "pool:"+strings.ToLower(collection.Hex()))
		if err != nil {
			return fmt.Errorf("pool service: %s: %w", op, err)
		}
		defer unlock()
	}
	if err := fn(ctx, p); err != nil {
		s.logger.DebugContext(ctx, "pool call rejected",
			slog.String("op", op),
			slog.String("collection", collection.Hex()),
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}

// Reconciliation compares a pool's live ledger against its stored event log.
type Reconciliation struct {
	Collection common.Address
	Events     int
	Balanced   bool
	// Mismatched lists accounts whose replayed balance differs, with the
	// live and replayed values.
	Mismatched map[common.Address][2]*uint256.Int
	Accounting pool.Accounting
}

// Reconcile replays the stored events of collection and checks the result
// against the pool's ledger and its value totals.
func (s *PoolService) Reconcile(ctx context.Context, collection common.Address) (Reconciliation, error) {
	p, err := s.Pool(collection)
	if err != nil {
		return Reconciliation{}, err
	}
	var events []domain.PoolEvent
	for offset := 0; ; offset += reconcilePage {
		page, err := s.events.List(ctx, &collection, domain.ListOpts{Limit: reconcilePage, Offset: offset})
		if err != nil {
			return Reconciliation{}, fmt.Errorf("pool service: load events: %w", err)
		}
		events = append(events, page...)
		if len(page) < reconcilePage {
			break
		}
	}
	// List is newest first.
	slices.Reverse(events)

	replayed, err := pool.ReplayLedger(events)
	if err != nil {
		return Reconciliation{}, err
	}
	acct, err := p.Accounting()
	if err != nil {
		return Reconciliation{}, err
	}
	out := Reconciliation{
		Collection: collection,
		Events:     len(events),
		Mismatched: make(map[common.Address][2]*uint256.Int),
		Accounting: acct,
	}
	live := p.Balances()
	for a, b := range live {
		r, ok := replayed[a]
		if !ok {
			r = domain.Zero()
		}
		if !b.Eq(r) {
			out.Mismatched[a] = [2]*uint256.Int{b, r}
		}
	}
	for a, r := range replayed {
		if _, ok := live[a]; !ok {
			out.Mismatched[a] = [2]*uint256.Int{domain.Zero(), r}
		}
	}
	expected, err := domain.Sub(acct.Received, acct.PaidOut)
	out.Balanced = err == nil && expected.Eq(acct.LedgerTotal) && len(out.Mismatched) == 0
	if !out.Balanced {
		s.logger.WarnContext(ctx, "pool ledger out of balance",
			slog.String("collection", collection.Hex()),
			slog.Int("events", len(events)),
			slog.Int("mismatched", len(out.Mismatched)),
		)
	}
	return out, nil
}
