package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/notify"
	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
	"github.com/NFTCall-xyz/nftcall-core/internal/pool"
	"github.com/NFTCall-xyz/nftcall-core/internal/store/memory"
)

func TestPoolFlowPersistsAndBroadcasts(t *testing.T) {
	e := newEnv(t)
	e.sell(t, 7)

	stored, err := e.store.List(e.ctx, &collection, domain.ListOpts{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected 2 stored events, got %d", len(stored))
	}
	if stored[0].Kind != domain.EventOpenCall || stored[1].Kind != domain.EventDeposit {
		t.Fatalf("unexpected kinds %s, %s", stored[0].Kind, stored[1].Kind)
	}

	var poolMsgs int
	for _, b := range e.hub.all() {
		if b.channel != domain.PoolChannel(collection) {
			continue
		}
		poolMsgs++
		var msg struct {
			Type    string           `json:"type"`
			Payload domain.PoolEvent `json:"payload"`
		}
		if err := json.Unmarshal(b.payload, &msg); err != nil {
			t.Fatalf("decode broadcast: %v", err)
		}
		if msg.Type != "pool_event" || msg.Payload.Collection != collection {
			t.Fatalf("unexpected broadcast %+v", msg)
		}
	}
	if poolMsgs != 2 {
		t.Fatalf("expected 2 pool broadcasts, got %d", poolMsgs)
	}
}

func TestEventServicePrefersBus(t *testing.T) {
	bus := &fakeBus{}
	hub := &recordingHub{}
	svc := NewEventService(memory.NewEventStore(), bus, hub, nil, quietLogger())

	svc.Publish(context.Background(), domain.PoolEvent{ID: "e1", Collection: collection, Kind: domain.EventDeposit})

	if len(hub.all()) != 0 {
		t.Fatal("hub should be fed through the bus")
	}
	if len(bus.published) != 1 || bus.published[0].channel != domain.PoolChannel(collection) {
		t.Fatalf("unexpected publishes %+v", bus.published)
	}
	if len(bus.streamed) != 1 || bus.streamed[0].channel != domain.EventStream {
		t.Fatalf("unexpected stream appends %+v", bus.streamed)
	}
}

func TestEventReplay(t *testing.T) {
	ctx := context.Background()
	bus := &fakeBus{}
	svc := NewEventService(memory.NewEventStore(), bus, nil, nil, quietLogger())
	for _, id := range []string{"e1", "e2", "e3"} {
		svc.Publish(ctx, domain.PoolEvent{ID: id, Collection: collection, Kind: domain.EventDeposit})
	}

	all, err := svc.Replay(ctx, "", 0)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 stream entries, got %d", len(all))
	}
	tail, err := svc.Replay(ctx, all[0].ID, 1)
	if err != nil {
		t.Fatalf("replay tail: %v", err)
	}
	var msg struct {
		Payload domain.PoolEvent `json:"payload"`
	}
	if len(tail) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(tail))
	}
	if err := json.Unmarshal(tail[0].Payload, &msg); err != nil || msg.Payload.ID != "e2" {
		t.Fatalf("unexpected entry %s (%v)", tail[0].Payload, err)
	}

	noBus := NewEventService(memory.NewEventStore(), nil, nil, nil, quietLogger())
	if _, err := noBus.Replay(ctx, "", 10); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound without a bus, got %v", err)
	}
}

type chanSender struct{ got chan string }

func (s chanSender) Send(_ context.Context, title, _ string) error {
	s.got <- title
	return nil
}

func (chanSender) Name() string { return "chan" }

func TestEventServiceNotifies(t *testing.T) {
	sender := chanSender{got: make(chan string, 1)}
	n := notify.NewNotifier([]notify.Sender{sender}, []string{"withdraw_eth"}, quietLogger())
	svc := NewEventService(memory.NewEventStore(), nil, nil, n, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	svc.Publish(ctx, domain.PoolEvent{ID: "e1", Collection: collection, Kind: domain.EventDeposit})
	svc.Publish(ctx, domain.PoolEvent{
		ID:         "e2",
		Collection: collection,
		Kind:       domain.EventWithdrawETH,
		ValueOut:   uint256.NewInt(1),
	})

	select {
	case title := <-sender.got:
		if !strings.HasPrefix(title, "withdraw eth") {
			t.Fatalf("unexpected title %q", title)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notification not delivered")
	}
	select {
	case title := <-sender.got:
		t.Fatalf("filtered event notified: %q", title)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPayoutQueue(t *testing.T) {
	ctx := context.Background()
	audit := memory.NewAuditStore()
	q := NewPayoutQueue(memory.NewPayoutStore(), audit, quietLogger())

	if err := q.Pay(ctx, factory, user, uint256.NewInt(42)); err != nil {
		t.Fatalf("pay: %v", err)
	}
	pending, err := q.Pending(ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending payout, got %d", len(pending))
	}
	rec := pending[0]
	if rec.To != user || rec.Pool != factory || rec.Amount.Uint64() != 42 || rec.Status != domain.PayoutPending {
		t.Fatalf("unexpected record %+v", rec)
	}

	expectErr(t, q.MarkSent(ctx, admin, rec.ID, ""), domain.ErrInvalidArgument)
	if err := q.MarkSent(ctx, admin, rec.ID, "0xabc"); err != nil {
		t.Fatalf("mark sent: %v", err)
	}
	if pending, _ = q.Pending(ctx, 10); len(pending) != 0 {
		t.Fatalf("expected no pending payouts, got %d", len(pending))
	}
	entries, err := audit.List(ctx, domain.ListOpts{})
	if err != nil {
		t.Fatalf("audit list: %v", err)
	}
	if len(entries) != 1 || entries[0].Event != "payout.sent" {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}

func TestCreditLedger(t *testing.T) {
	ctx := context.Background()
	audit := memory.NewAuditStore()
	l := NewCreditLedger(memory.NewCreditStore(), audit, quietLogger())

	expectErr(t, l.Confirm(ctx, admin, user, uint256.NewInt(10), ""), domain.ErrInvalidArgument)
	expectErr(t, l.Confirm(ctx, admin, user, domain.Zero(), "0x01"), domain.ErrInvalidArgument)
	expectErr(t, l.Confirm(ctx, admin, common.Address{}, uint256.NewInt(10), "0x01"), domain.ErrInvalidAddress)

	if err := l.Confirm(ctx, admin, user, uint256.NewInt(10), "0xAB"); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	expectErr(t, l.Confirm(ctx, admin, user, uint256.NewInt(10), "0xab"), domain.ErrCreditExists)

	_, err := l.Draw(ctx, user, uint256.NewInt(11))
	expectErr(t, err, domain.ErrInsufficientCredit)
	_, err = l.Draw(ctx, buyer, uint256.NewInt(1))
	expectErr(t, err, domain.ErrInsufficientCredit)

	refund, err := l.Draw(ctx, user, uint256.NewInt(4))
	if err != nil {
		t.Fatalf("draw: %v", err)
	}
	if bal, _ := l.Balance(ctx, user); bal.Uint64() != 6 {
		t.Fatalf("expected 6 left, got %s", bal)
	}
	refund(ctx)
	if bal, _ := l.Balance(ctx, user); bal.Uint64() != 10 {
		t.Fatalf("expected refund back to 10, got %s", bal)
	}
	if _, err := l.Draw(ctx, buyer, domain.Zero()); err != nil {
		t.Fatalf("zero draw: %v", err)
	}

	entries, _ := audit.List(ctx, domain.ListOpts{})
	if len(entries) != 1 || entries[0].Event != "credit.confirmed" {
		t.Fatalf("unexpected audit entries %+v", entries)
	}
}

func TestWithdrawQueuesPayout(t *testing.T) {
	e := newEnv(t)
	e.sell(t, 1)

	p, _ := e.pools.Pool(collection)
	bal := p.BalanceOf(user)
	if bal.IsZero() {
		t.Fatal("seller should hold the premium")
	}
	err := e.pools.Mutate(e.ctx, collection, "withdraw eth", func(ctx context.Context, p *pool.Pool) error {
		return p.WithdrawETH(ctx, user, user, bal)
	})
	if err != nil {
		t.Fatalf("withdraw eth: %v", err)
	}
	pending, err := e.payouts.Pending(e.ctx, 10)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || !pending[0].Amount.Eq(bal) || pending[0].Pool != p.Address() {
		t.Fatalf("unexpected payouts %+v", pending)
	}
}

func TestAddCollection(t *testing.T) {
	e := newEnv(t)

	_, err := e.pools.AddCollection(e.ctx, admin, collection, "again")
	expectErr(t, err, domain.ErrPoolExists)

	other := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	_, err = e.pools.AddCollection(e.ctx, user, other, "nope")
	expectErr(t, err, domain.ErrUnauthorized)
	if _, err := e.pools.Collection(other); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("rejected collection must not be registered, got %v", err)
	}
	_, err = e.pools.Pool(other)
	expectErr(t, err, domain.ErrNotFound)

	expectErr(t, e.pools.Mint(e.ctx, user, collection, user, 1), domain.ErrUnauthorized)
	expectErr(t, e.pools.Mint(e.ctx, admin, other, user, 1), domain.ErrNotFound)
	if len(e.pools.Registry().Pools()) != 1 {
		t.Fatal("expected exactly one pool")
	}
}

func TestMutateLocksPerPool(t *testing.T) {
	e := newEnv(t)
	locks := &fakeLocks{}
	e.pools.locks = locks

	err := e.pools.Mutate(e.ctx, collection, "noop", func(context.Context, *pool.Pool) error {
		if locks.held != 1 {
			t.Fatal("lock should be held during the call")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if locks.held != 0 {
		t.Fatal("lock should be released")
	}
	if len(locks.keys) != 1 || locks.keys[0] != "pool:"+strings.ToLower(collection.Hex()) {
		t.Fatalf("unexpected lock keys %v", locks.keys)
	}

	locks.fail = domain.ErrLockHeld
	called := false
	err = e.pools.Mutate(e.ctx, collection, "noop", func(context.Context, *pool.Pool) error {
		called = true
		return nil
	})
	expectErr(t, err, domain.ErrLockHeld)
	if called {
		t.Fatal("call must not run without the lock")
	}

	e.pools.locks = &waitingLocks{}
	start := time.Now()
	err = e.pools.Mutate(e.ctx, collection, "noop", func(context.Context, *pool.Pool) error {
		called = true
		return nil
	})
	expectErr(t, err, domain.ErrLockHeld)
	if called || time.Since(start) < lockWait {
		t.Fatalf("expected to wait %s for the lock, called=%v", lockWait, called)
	}
}

func TestReconcile(t *testing.T) {
	e := newEnv(t)
	e.sell(t, 3)

	rec, err := e.pools.Reconcile(e.ctx, collection)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rec.Balanced || rec.Events != 2 || len(rec.Mismatched) != 0 {
		t.Fatalf("expected balanced ledger, got %+v", rec)
	}

	// A log missing the sale no longer explains the balances.
	e.pools.events = memory.NewEventStore()
	rec, err = e.pools.Reconcile(e.ctx, collection)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rec.Balanced || len(rec.Mismatched) == 0 {
		t.Fatalf("expected mismatch, got %+v", rec)
	}
}

func TestOracleServiceBroadcastsUpdates(t *testing.T) {
	e := newEnv(t)

	err := e.oracle.SetPrices(e.ctx, user, map[common.Address]oracle.Slot{collection: {Price: 1, Vol: 1}})
	expectErr(t, err, domain.ErrUnauthorized)

	var updates []OracleUpdate
	for _, b := range e.hub.all() {
		if b.channel != domain.OracleChannel {
			continue
		}
		var msg struct {
			Type    string       `json:"type"`
			Payload OracleUpdate `json:"payload"`
		}
		if err := json.Unmarshal(b.payload, &msg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		updates = append(updates, msg.Payload)
	}
	if len(updates) != 1 {
		t.Fatalf("expected only the setup update, got %d", len(updates))
	}
	u := updates[0]
	if u.Action != "prices" || len(u.Assets) != 1 || u.Assets[0].Asset != collection {
		t.Fatalf("unexpected update %+v", u)
	}
	if u.Assets[0].Price != "10000000000000000000" {
		t.Fatalf("expected 10 ETH in wei, got %s", u.Assets[0].Price)
	}

	expectErr(t, e.oracle.SetPause(e.ctx, user, true), domain.ErrUnauthorized)

	extra := common.HexToAddress("0x00000000000000000000000000000000000000c9")
	if err := e.oracle.AddAssets(e.ctx, admin, []common.Address{extra}); err != nil {
		t.Fatalf("add assets: %v", err)
	}
	if err := e.oracle.BatchSet(e.ctx, operator, []uint64{0}, [][]oracle.PriceInput{{{Inner: 2, Price: 250, Vol: 80}}}); err != nil {
		t.Fatalf("batch set: %v", err)
	}
	price, vol, err := e.oracle.Oracle().GetAsset(e.ctx, extra)
	if err != nil {
		t.Fatalf("get asset: %v", err)
	}
	if price.Dec() != "2500000000000000000" || vol != 800 {
		t.Fatalf("unexpected price %s vol %d", price.Dec(), vol)
	}
	last := e.hub.all()
	var tail struct {
		Payload OracleUpdate `json:"payload"`
	}
	if err := json.Unmarshal(last[len(last)-1].payload, &tail); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(tail.Payload.Assets) != 1 || tail.Payload.Assets[0].Asset != extra {
		t.Fatalf("batch update should name the written asset, got %+v", tail.Payload)
	}
}
