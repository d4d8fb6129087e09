// Package pool implements the per-collection covered-call pool: NFT custody,
// deposit receipts, option sales and exercise, and the ETH ledger that
// settles them. PoolRegistry creates one pool per collection.
package pool

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/token"
)

const bps = 10_000

// Params are the protocol constants of a pool.
type Params struct {
	// StrikeGaps are strike premiums over spot, in basis points, ascending.
	StrikeGaps []uint64
	// Durations are option lifetimes, ascending.
	Durations             []time.Duration
	MinimumPremiumToOwner *uint256.Int
	MinimumStrikePrice    *uint256.Int
	// ReserveBps is the protocol share of each premium.
	ReserveBps uint64
	// VolMultiplier converts oracle vol into the curve's basis points.
	VolMultiplier       uint64
	DefaultStrikeGapIdx uint8
	DefaultDurationIdx  uint8
}

// DefaultParams returns the reference configuration.
func DefaultParams() Params {
	day := 24 * time.Hour
	return Params{
		StrikeGaps:            []uint64{0, 1000, 2000, 3000, 5000, 10000},
		Durations:             []time.Duration{3 * day, 7 * day, 14 * day, 28 * day},
		MinimumPremiumToOwner: uint256.NewInt(100_000_000_000_000),
		MinimumStrikePrice:    uint256.NewInt(100_000_000_000_000_000),
		ReserveBps:            1000,
		VolMultiplier:         10,
		DefaultStrikeGapIdx:   1,
		DefaultDurationIdx:    3,
	}
}

// DurationSeconds returns the durations in whole seconds.
func (p Params) DurationSeconds() []uint64 {
	out := make([]uint64, len(p.Durations))
	for i, d := range p.Durations {
		out[i] = uint64(d / time.Second)
	}
	return out
}

// Validate checks table shapes and ranges.
func (p Params) Validate() error {
	if len(p.StrikeGaps) == 0 || len(p.StrikeGaps) > 255 {
		return fmt.Errorf("pool: strike gap table size %d: %w", len(p.StrikeGaps), domain.ErrInvalidArgument)
	}
	if len(p.Durations) == 0 || len(p.Durations) > 255 {
		return fmt.Errorf("pool: duration table size %d: %w", len(p.Durations), domain.ErrInvalidArgument)
	}
	for i := 1; i < len(p.StrikeGaps); i++ {
		if p.StrikeGaps[i] <= p.StrikeGaps[i-1] {
			return fmt.Errorf("pool: strike gaps must increase: %w", domain.ErrInvalidArgument)
		}
	}
	for i, d := range p.Durations {
		if d < 2*time.Second || (i > 0 && d <= p.Durations[i-1]) {
			return fmt.Errorf("pool: durations must be positive and increase: %w", domain.ErrInvalidArgument)
		}
	}
	if p.ReserveBps > bps {
		return fmt.Errorf("pool: reserve share %d bps: %w", p.ReserveBps, domain.ErrInvalidArgument)
	}
	if p.VolMultiplier == 0 {
		return fmt.Errorf("pool: vol multiplier is zero: %w", domain.ErrInvalidArgument)
	}
	if int(p.DefaultStrikeGapIdx) >= len(p.StrikeGaps) || int(p.DefaultDurationIdx) >= len(p.Durations) {
		return fmt.Errorf("pool: default preference: %w", domain.ErrInvalidIndex)
	}
	if p.MinimumPremiumToOwner == nil || p.MinimumStrikePrice == nil {
		return fmt.Errorf("pool: minimums not set: %w", domain.ErrInvalidArgument)
	}
	return nil
}

// Owned is anything with an administrator, such as the pool registry.
type Owned interface {
	Owner() common.Address
}

// Config wires a pool to its collaborators.
type Config struct {
	Address    common.Address
	Factory    Owned
	Collection common.Address
	NFT        domain.NFTCollection
	Oracle     domain.PriceSource
	Premium    domain.PremiumSource
	Payout     domain.Payout
	Events     domain.EventSink
	Clock      domain.Clock
	Params     Params
	Logger     *slog.Logger
}

type record struct {
	onMarket          bool
	lowerStrikeGapIdx uint8
	upperDurationIdx  uint8
	minimumPremium    *uint256.Int
	endTime           uint64
	exerciseTime      uint64
	strikePrice       *uint256.Int
}

func (r *record) clone() *record {
	c := *r
	return &c
}

// live reports whether an unexpired option is open on the record.
func (r *record) live(now uint64) bool {
	return r.endTime != 0 && now <= r.endTime
}

// Pool is a single collection's call pool. Every mutating call is
// serialised; reads see only committed state.
type Pool struct {
	mu sync.RWMutex
	// pubMu serializes event delivery; see run.
	pubMu sync.Mutex

	addr       common.Address
	factory    Owned
	collection common.Address
	nft        domain.NFTCollection
	oracle     domain.PriceSource
	premium    domain.PremiumSource
	payout     domain.Payout
	events     domain.EventSink
	clock      *monotonicClock
	params     Params
	logger     *slog.Logger

	receipts *token.Registry
	options  *token.Registry

	records  map[uint64]*record
	balances map[common.Address]*uint256.Int
	paused   bool

	received *uint256.Int
	paidOut  *uint256.Int
}

// New builds a pool from cfg.
func New(cfg Config) (*Pool, error) {
	if cfg.Address == (common.Address{}) || cfg.Collection == (common.Address{}) {
		return nil, fmt.Errorf("pool: %w", domain.ErrInvalidAddress)
	}
	if cfg.Factory == nil || cfg.NFT == nil || cfg.Oracle == nil || cfg.Premium == nil || cfg.Payout == nil {
		return nil, fmt.Errorf("pool: missing collaborator: %w", domain.ErrInvalidAddress)
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = domain.SystemClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	clock := &monotonicClock{src: cfg.Clock}
	p := &Pool{
		addr:       cfg.Address,
		factory:    cfg.Factory,
		collection: cfg.Collection,
		nft:        cfg.NFT,
		oracle:     cfg.Oracle,
		premium:    cfg.Premium,
		payout:     cfg.Payout,
		events:     cfg.Events,
		clock:      clock,
		params:     cfg.Params,
		logger: cfg.Logger.With(
			slog.String("component", "pool"),
			slog.String("pool", cfg.Address.Hex()),
		),
		receipts: token.NewRegistry("receipt"),
		options:  token.NewRegistry("call", token.WithExpiry(clock)),
		records:  make(map[uint64]*record),
		balances: make(map[common.Address]*uint256.Int),
		received: domain.Zero(),
		paidOut:  domain.Zero(),
	}
	return p, nil
}

// Address is the pool's own ledger account; it holds the protocol reserve.
func (p *Pool) Address() common.Address { return p.addr }

// Factory returns the pool's administrator source.
func (p *Pool) Factory() Owned { return p.factory }

// Collection returns the underlying collection address.
func (p *Pool) Collection() common.Address { return p.collection }

// NFT returns the underlying collection.
func (p *Pool) NFT() domain.NFTCollection { return p.nft }

// Oracle returns the price source.
func (p *Pool) Oracle() domain.PriceSource { return p.oracle }

// Premium returns the premium curve.
func (p *Pool) Premium() domain.PremiumSource { return p.premium }

// Receipts is the deposit receipt registry.
func (p *Pool) Receipts() *token.Registry { return p.receipts }

// Options is the option-right registry. Expired options are invisible.
func (p *Pool) Options() *token.Registry { return p.options }

// Params returns the protocol constants.
func (p *Pool) Params() Params { return p.params }

// Paused reports whether mutating calls are blocked.
func (p *Pool) Paused() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.paused
}

// GetNFTStatus returns the deposit record of id; the zero status when the
// id is not deposited.
func (p *Pool) GetNFTStatus(id uint64) domain.NFTStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.records[id]
	if !ok {
		return domain.NFTStatus{MinimumPremium: domain.Zero(), StrikePrice: domain.Zero()}
	}
	return domain.NFTStatus{
		OnMarket:          r.onMarket,
		LowerStrikeGapIdx: r.lowerStrikeGapIdx,
		UpperDurationIdx:  r.upperDurationIdx,
		MinimumPremium:    new(uint256.Int).Set(r.minimumPremium),
		EndTime:           r.endTime,
		ExerciseTime:      r.exerciseTime,
		StrikePrice:       new(uint256.Int).Set(r.strikePrice),
	}
}

// CheckAvailable reports whether id is on market with no live option.
func (p *Pool) CheckAvailable(id uint64) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	r, ok := p.records[id]
	return ok && r.onMarket && !r.live(p.now())
}

// Deposited lists the deposited token ids in ascending order.
func (p *Pool) Deposited() []uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ids := make([]uint64, 0, len(p.records))
	for id := range p.records {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// BalanceOf returns acct's ledger balance.
func (p *Pool) BalanceOf(acct common.Address) *uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if b, ok := p.balances[acct]; ok {
		return new(uint256.Int).Set(b)
	}
	return domain.Zero()
}

// Balances returns a copy of every non-zero ledger balance.
func (p *Pool) Balances() map[common.Address]*uint256.Int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[common.Address]*uint256.Int, len(p.balances))
	for a, b := range p.balances {
		out[a] = new(uint256.Int).Set(b)
	}
	return out
}

// Accounting summarises the value that entered and left the pool.
type Accounting struct {
	Received      *uint256.Int
	PaidOut       *uint256.Int
	LedgerTotal   *uint256.Int
	ReserveAmount *uint256.Int
}

// Accounting returns the pool's value totals. LedgerTotal always equals
// Received minus PaidOut.
func (p *Pool) Accounting() (Accounting, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	total := domain.Zero()
	for _, b := range p.balances {
		var err error
		if total, err = domain.Add(total, b); err != nil {
			return Accounting{}, err
		}
	}
	reserve := domain.Zero()
	if b, ok := p.balances[p.addr]; ok {
		reserve.Set(b)
	}
	return Accounting{
		Received:      new(uint256.Int).Set(p.received),
		PaidOut:       new(uint256.Int).Set(p.paidOut),
		LedgerTotal:   total,
		ReserveAmount: reserve,
	}, nil
}

func (p *Pool) now() uint64 {
	return uint64(p.clock.Now().Unix())
}

func (p *Pool) checkIndexes(gapIdx, durIdx uint8) error {
	if int(gapIdx) >= len(p.params.StrikeGaps) {
		return fmt.Errorf("strike gap index %d: %w", gapIdx, domain.ErrInvalidIndex)
	}
	if int(durIdx) >= len(p.params.Durations) {
		return fmt.Errorf("duration index %d: %w", durIdx, domain.ErrInvalidIndex)
	}
	return nil
}
