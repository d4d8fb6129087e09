package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
	"github.com/NFTCall-xyz/nftcall-core/internal/pool"
	"github.com/NFTCall-xyz/nftcall-core/internal/store/memory"
)

var (
	admin      = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	operator   = common.HexToAddress("0x00000000000000000000000000000000000000a2")
	user       = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	buyer      = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	factory    = common.HexToAddress("0x00000000000000000000000000000000000000f0")
	collection = common.HexToAddress("0x00000000000000000000000000000000000000c0")
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type broadcast struct {
	channel string
	payload []byte
}

type recordingHub struct {
	mu   sync.Mutex
	sent []broadcast
}

func (h *recordingHub) Broadcast(channel string, payload []byte) {
	h.mu.Lock()
	h.sent = append(h.sent, broadcast{channel, append([]byte(nil), payload...)})
	h.mu.Unlock()
}

func (h *recordingHub) all() []broadcast {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]broadcast(nil), h.sent...)
}

type fakeBus struct {
	mu        sync.Mutex
	published []broadcast
	streamed  []broadcast
}

func (b *fakeBus) Publish(_ context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	b.published = append(b.published, broadcast{channel, payload})
	b.mu.Unlock()
	return nil
}

func (b *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}

func (b *fakeBus) StreamAppend(_ context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	b.streamed = append(b.streamed, broadcast{stream, payload})
	b.mu.Unlock()
	return nil
}

// StreamRead uses 1-based positions as entry ids.
func (b *fakeBus) StreamRead(_ context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	after, err := strconv.Atoi(lastID)
	if err != nil {
		return nil, err
	}
	var out []domain.StreamMessage
	for i, m := range b.streamed {
		if i+1 <= after || m.channel != stream || len(out) == count {
			continue
		}
		out = append(out, domain.StreamMessage{ID: strconv.Itoa(i + 1), Payload: m.payload})
	}
	return out, nil
}

type flatPremium struct{}

func (flatPremium) GetPremium(row int, vol uint64) (uint64, error) {
	if vol >= 99000 {
		return 0, domain.ErrVolatilityOutOfRange
	}
	return 500, nil
}

type fakeLocks struct {
	mu   sync.Mutex
	keys []string
	held int
	fail error
}

func (l *fakeLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	if l.fail != nil {
		return nil, l.fail
	}
	l.mu.Lock()
	l.keys = append(l.keys, key)
	l.held++
	l.mu.Unlock()
	return func() {
		l.mu.Lock()
		l.held--
		l.mu.Unlock()
	}, nil
}

// waitingLocks never frees its lock; AcquireWait blocks until ctx ends.
type waitingLocks struct{ fakeLocks }

func (l *waitingLocks) AcquireWait(ctx context.Context, _ string, _ time.Duration) (func(), error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type env struct {
	ctx     context.Context
	oracle  *OracleService
	pools   *PoolService
	events  *EventService
	store   *memory.EventStore
	payouts *PayoutQueue
	hub     *recordingHub
}

// newEnv wires an oracle quoting collection at 10 ETH and a pool service
// with the collection registered.
func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()
	e := &env{ctx: ctx, store: memory.NewEventStore(), hub: &recordingHub{}}

	o, err := oracle.New(ctx, oracle.NewMemoryBackend())
	if err != nil {
		t.Fatalf("new oracle: %v", err)
	}
	if err := o.Initialize(ctx, admin, operator, []common.Address{collection}); err != nil {
		t.Fatalf("initialize oracle: %v", err)
	}
	e.oracle = NewOracleService(o, nil, e.hub, quietLogger())
	if err := e.oracle.SetPrices(ctx, operator, map[common.Address]oracle.Slot{
		collection: {Price: 1000, Vol: 50},
	}); err != nil {
		t.Fatalf("set prices: %v", err)
	}

	e.events = NewEventService(e.store, nil, e.hub, nil, quietLogger())
	e.payouts = NewPayoutQueue(memory.NewPayoutStore(), memory.NewAuditStore(), quietLogger())
	reg, err := pool.NewRegistry(pool.RegistryConfig{
		Address: factory,
		Owner:   admin,
		Payout:  e.payouts,
		Events:  e.events,
		Params:  pool.DefaultParams(),
		Logger:  quietLogger(),
	})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	e.pools = NewPoolService(reg, o, flatPremium{}, e.store, nil, quietLogger())
	if _, err := e.pools.AddCollection(ctx, admin, collection, "azuki"); err != nil {
		t.Fatalf("add collection: %v", err)
	}
	return e
}

// sell deposits id for user and sells a call on it to buyer.
func (e *env) sell(t *testing.T, id uint64) {
	t.Helper()
	if err := e.pools.Mint(e.ctx, admin, collection, user, id); err != nil {
		t.Fatalf("mint: %v", err)
	}
	nft, err := e.pools.Collection(collection)
	if err != nil {
		t.Fatalf("collection: %v", err)
	}
	p, err := e.pools.Pool(collection)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	if err := nft.SetApprovalForAll(user, p.Address(), true); err != nil {
		t.Fatalf("approve: %v", err)
	}
	err = e.pools.Mutate(e.ctx, collection, "deposit", func(ctx context.Context, p *pool.Pool) error {
		return p.Deposit(ctx, user, user, id)
	})
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	err = e.pools.Mutate(e.ctx, collection, "open", func(ctx context.Context, p *pool.Pool) error {
		q, err := p.PreviewOpenCall(ctx, buyer, id, 3, 1)
		if err != nil {
			return err
		}
		if q.ErrorCode != domain.QuoteOK {
			t.Fatalf("quote error code %d", q.ErrorCode)
		}
		total, err := q.Total()
		if err != nil {
			return err
		}
		_, err = p.OpenCall(ctx, buyer, id, 3, 1, total)
		return err
	})
	if err != nil {
		t.Fatalf("open call: %v", err)
	}
}

func expectErr(t *testing.T, err, want error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}
