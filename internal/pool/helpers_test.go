package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/token"
)

var (
	deployer   = common.HexToAddress("0x00000000000000000000000000000000000000d1")
	user       = common.HexToAddress("0x00000000000000000000000000000000000000d2")
	buyer      = common.HexToAddress("0x00000000000000000000000000000000000000d3")
	other      = common.HexToAddress("0x00000000000000000000000000000000000000d4")
	factory    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	collection = common.HexToAddress("0x00000000000000000000000000000000000000c0")
	zeroAddr   common.Address
)

const day = 24 * time.Hour

// testRate is the flat premium rate, in basis points, of fakePremium.
const testRate = 500

func eth(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), domain.Ether)
}

func wei(n uint64) *uint256.Int { return uint256.NewInt(n) }

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *manualClock) unix() uint64 {
	return uint64(c.Now().Unix())
}

type fakeOracle struct {
	mu    sync.Mutex
	price *uint256.Int
	vol   uint64
}

func (o *fakeOracle) GetAsset(context.Context, common.Address) (*uint256.Int, uint64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return new(uint256.Int).Set(o.price), o.vol, nil
}

func (o *fakeOracle) set(price *uint256.Int) {
	o.mu.Lock()
	o.price = price
	o.mu.Unlock()
}

type fakePremium struct{}

func (fakePremium) GetPremium(row int, vol uint64) (uint64, error) {
	if row < 0 || row >= 24 {
		return 0, domain.ErrInvalidIndex
	}
	if vol >= 99000 {
		return 0, domain.ErrVolatilityOutOfRange
	}
	return testRate, nil
}

type payment struct {
	from, to common.Address
	amount   *uint256.Int
}

type recordingPayout struct {
	mu       sync.Mutex
	payments []payment
	fail     error
	hook     func(ctx context.Context)
}

func (p *recordingPayout) Pay(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if p.hook != nil {
		p.hook(ctx)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail != nil {
		return p.fail
	}
	p.payments = append(p.payments, payment{from: from, to: to, amount: new(uint256.Int).Set(amount)})
	return nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.PoolEvent
}

func (s *recordingSink) Publish(_ context.Context, ev domain.PoolEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
}

func (s *recordingSink) all() []domain.PoolEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.PoolEvent(nil), s.events...)
}

type fixture struct {
	ctx      context.Context
	registry *PoolRegistry
	pool     *Pool
	nft      *token.Registry
	oracle   *fakeOracle
	clock    *manualClock
	payout   *recordingPayout
	sink     *recordingSink
}

func testParams() Params {
	p := DefaultParams()
	p.MinimumPremiumToOwner = wei(100_000_000_000_000)
	p.MinimumStrikePrice = wei(100_000_000_000_000_000)
	return p
}

// newFixture builds a pool over a 10 ETH collection; user owns tokens 1..5
// and has approved the pool.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ctx:    context.Background(),
		nft:    token.NewRegistry("azuki"),
		oracle: &fakeOracle{price: eth(10), vol: 100},
		clock:  &manualClock{now: time.Unix(1_700_000_000, 0)},
		payout: &recordingPayout{},
		sink:   &recordingSink{},
	}
	var err error
	f.registry, err = NewRegistry(RegistryConfig{
		Address: factory,
		Owner:   deployer,
		Payout:  f.payout,
		Events:  f.sink,
		Clock:   f.clock,
		Params:  testParams(),
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	f.pool, err = f.registry.CreatePool(f.ctx, deployer, collection, f.nft, f.oracle, fakePremium{})
	if err != nil {
		t.Fatalf("create pool: %v", err)
	}
	for id := uint64(1); id <= 5; id++ {
		if err := f.nft.Mint(f.ctx, user, id); err != nil {
			t.Fatalf("mint nft %d: %v", id, err)
		}
	}
	if err := f.nft.SetApprovalForAll(user, f.pool.Address(), true); err != nil {
		t.Fatalf("approve pool: %v", err)
	}
	return f
}

func (f *fixture) deposit(t *testing.T, id uint64) {
	t.Helper()
	if err := f.pool.Deposit(f.ctx, user, user, id); err != nil {
		t.Fatalf("deposit %d: %v", id, err)
	}
}

// open buys a 30%-gap, 7-day call on id for who, paying the exact premium.
func (f *fixture) open(t *testing.T, who common.Address, id uint64) domain.Quote {
	t.Helper()
	q, err := f.pool.PreviewOpenCall(f.ctx, who, id, 3, 1)
	if err != nil {
		t.Fatalf("preview %d: %v", id, err)
	}
	if q.ErrorCode != domain.QuoteOK {
		t.Fatalf("preview %d: error code %d", id, q.ErrorCode)
	}
	total, _ := q.Total()
	if _, err := f.pool.OpenCall(f.ctx, who, id, 3, 1, total); err != nil {
		t.Fatalf("open %d: %v", id, err)
	}
	return q
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func expectAmount(t *testing.T, what string, got, want *uint256.Int) {
	t.Helper()
	if !got.Eq(want) {
		t.Fatalf("%s: expected %s, got %s", what, want.Dec(), got.Dec())
	}
}
