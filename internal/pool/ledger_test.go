package pool

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// sold leaves user with 0.45 ETH of premium and the reserve with 0.05 ETH.
func sold(t *testing.T) *fixture {
	t.Helper()
	f := newFixture(t)
	f.deposit(t, 1)
	f.open(t, buyer, 1)
	return f
}

func TestWithdrawETH(t *testing.T) {
	f := sold(t)

	expectErr(t, f.pool.WithdrawETH(f.ctx, user, user, domain.Zero()), domain.ErrInvalidArgument)
	expectErr(t, f.pool.WithdrawETH(f.ctx, user, user, nil), domain.ErrInvalidArgument)
	expectErr(t, f.pool.WithdrawETH(f.ctx, user, zeroAddr, wei(1)), domain.ErrInvalidAddress)
	expectErr(t, f.pool.WithdrawETH(f.ctx, user, user, eth(1)), domain.ErrInsufficientBalance)
	expectErr(t, f.pool.WithdrawETH(f.ctx, other, other, wei(1)), domain.ErrInsufficientBalance)

	amount := wei(200_000_000_000_000_000)
	if err := f.pool.WithdrawETH(f.ctx, user, other, amount); err != nil {
		t.Fatalf("withdraw eth: %v", err)
	}
	expectAmount(t, "user balance", f.pool.BalanceOf(user), wei(250_000_000_000_000_000))
	if len(f.payout.payments) != 1 {
		t.Fatalf("expected one payment, got %d", len(f.payout.payments))
	}
	pay := f.payout.payments[0]
	if pay.from != f.pool.Address() || pay.to != other {
		t.Fatalf("unexpected payment %+v", pay)
	}
	expectAmount(t, "payment", pay.amount, amount)

	events := f.sink.all()
	last := events[len(events)-1]
	if last.Kind != domain.EventWithdrawETH || last.Actor != user || last.Counterparty != other {
		t.Fatalf("unexpected event %+v", last)
	}
	if len(last.Debits) != 1 || last.Debits[0].Account != user {
		t.Fatalf("withdraw event should carry the debit, got %+v", last.Debits)
	}

	// Draining the balance removes the account.
	if err := f.pool.WithdrawETH(f.ctx, user, user, wei(250_000_000_000_000_000)); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if _, ok := f.pool.Balances()[user]; ok {
		t.Fatal("drained account should not be listed")
	}
}

func TestWithdrawETHPayoutFailureRollsBack(t *testing.T) {
	f := sold(t)
	before := len(f.sink.all())
	acct, _ := f.pool.Accounting()

	boom := errors.New("transfer failed")
	f.payout.fail = boom
	err := f.pool.WithdrawETH(f.ctx, user, user, wei(1))
	expectErr(t, err, boom)

	expectAmount(t, "user balance", f.pool.BalanceOf(user), wei(450_000_000_000_000_000))
	after, _ := f.pool.Accounting()
	expectAmount(t, "paid out", after.PaidOut, acct.PaidOut)
	if len(f.sink.all()) != before {
		t.Fatal("reverted withdrawal must not publish")
	}
}

func TestWithdrawETHPaused(t *testing.T) {
	f := sold(t)
	if err := f.pool.Pause(f.ctx, deployer); err != nil {
		t.Fatalf("pause: %v", err)
	}
	expectErr(t, f.pool.WithdrawETH(f.ctx, user, user, wei(1)), domain.ErrPaused)
	expectErr(t, f.pool.CollectProtocol(f.ctx, deployer, deployer, wei(1)), domain.ErrPaused)
}

func TestCollectProtocol(t *testing.T) {
	f := sold(t)

	expectErr(t, f.pool.CollectProtocol(f.ctx, user, user, wei(1)), domain.ErrUnauthorized)
	expectErr(t, f.pool.CollectProtocol(f.ctx, deployer, deployer, eth(1)), domain.ErrInsufficientBalance)

	reserve := wei(50_000_000_000_000_000)
	acct, err := f.pool.Accounting()
	if err != nil {
		t.Fatalf("accounting: %v", err)
	}
	expectAmount(t, "reserve", acct.ReserveAmount, reserve)

	if err := f.pool.CollectProtocol(f.ctx, deployer, other, reserve); err != nil {
		t.Fatalf("collect: %v", err)
	}
	acct, _ = f.pool.Accounting()
	if !acct.ReserveAmount.IsZero() {
		t.Fatalf("reserve should be empty, got %s", acct.ReserveAmount.Dec())
	}
	expectAmount(t, "paid out", acct.PaidOut, reserve)

	// A new registry owner takes over collection rights.
	if err := f.registry.TransferOwnership(deployer, other); err != nil {
		t.Fatalf("transfer ownership: %v", err)
	}
	f.deposit(t, 2)
	f.open(t, buyer, 2)
	expectErr(t, f.pool.CollectProtocol(f.ctx, deployer, deployer, wei(1)), domain.ErrUnauthorized)
	if err := f.pool.CollectProtocol(f.ctx, other, other, wei(1)); err != nil {
		t.Fatalf("collect as new owner: %v", err)
	}
}

func TestReplayLedger(t *testing.T) {
	f := sold(t)
	if err := f.pool.WithdrawETH(f.ctx, user, user, wei(1)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	got, err := ReplayLedger(f.sink.all())
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	want := f.pool.Balances()
	if len(got) != len(want) {
		t.Fatalf("replayed %d accounts, pool has %d", len(got), len(want))
	}
	for acct, amt := range want {
		expectAmount(t, acct.Hex(), got[acct], amt)
	}

	// A debit with no matching credit is a corrupt log.
	bad := []domain.PoolEvent{{ID: "x", Debits: []domain.LedgerEntry{{Account: user, Amount: wei(1)}}}}
	if _, err := ReplayLedger(bad); err == nil {
		t.Fatal("expected replay of an overdrawn log to fail")
	}
}

// gatedSink holds the first open_call delivery until release is closed.
type gatedSink struct {
	recordingSink
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *gatedSink) Publish(ctx context.Context, ev domain.PoolEvent) {
	if ev.Kind == domain.EventOpenCall {
		s.once.Do(func() {
			close(s.entered)
			<-s.release
		})
	}
	s.recordingSink.Publish(ctx, ev)
}

func TestEventsDeliveredInCommitOrder(t *testing.T) {
	f := newFixture(t)
	sink := &gatedSink{entered: make(chan struct{}), release: make(chan struct{})}
	f.pool.events = sink
	f.deposit(t, 1)

	q, err := f.pool.PreviewOpenCall(f.ctx, buyer, 1, 3, 1)
	if err != nil || q.ErrorCode != domain.QuoteOK {
		t.Fatalf("preview: %v code %d", err, q.ErrorCode)
	}
	total, _ := q.Total()
	opened := make(chan error, 1)
	go func() {
		_, err := f.pool.OpenCall(f.ctx, buyer, 1, 3, 1, total)
		opened <- err
	}()
	<-sink.entered

	// The open has committed; its premium is already withdrawable.
	premium := f.pool.BalanceOf(user)
	if premium.IsZero() {
		t.Fatal("expected the owner to hold the premium")
	}
	withdrawn := make(chan error, 1)
	go func() {
		withdrawn <- f.pool.WithdrawETH(f.ctx, user, user, premium)
	}()
	select {
	case err := <-withdrawn:
		t.Fatalf("withdraw finished while an earlier event was undelivered: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	close(sink.release)
	if err := <-opened; err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := <-withdrawn; err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	events := sink.all()
	var kinds []domain.EventKind
	for _, ev := range events {
		kinds = append(kinds, ev.Kind)
	}
	if len(kinds) != 3 || kinds[1] != domain.EventOpenCall || kinds[2] != domain.EventWithdrawETH {
		t.Fatalf("unexpected delivery order %v", kinds)
	}
	if _, err := ReplayLedger(events); err != nil {
		t.Fatalf("replay: %v", err)
	}
}
