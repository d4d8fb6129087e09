package pool

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// monotonicClock never reports a time earlier than one it already returned.
type monotonicClock struct {
	src  domain.Clock
	mu   sync.Mutex
	last time.Time
}

func (c *monotonicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.src.Now()
	if now.Before(c.last) {
		return c.last
	}
	c.last = now
	return now
}

type frameKey struct{}

// inFrame reports whether ctx was derived from a call already executing on p.
func inFrame(ctx context.Context, p *Pool) bool {
	f, _ := ctx.Value(frameKey{}).(*Pool)
	return f == p
}

// tx is the journal of one mutating call. Every state change registers an
// undo step; events are buffered until commit.
type tx struct {
	p       *Pool
	now     uint64
	undo    []func()
	events  []domain.PoolEvent
	credits []domain.LedgerEntry
	debits  []domain.LedgerEntry
}

// run executes fn as one atomic call. On error every journaled change is
// undone in reverse order and no event is delivered.
func (p *Pool) run(ctx context.Context, op string, fn func(ctx context.Context, t *tx) error) error {
	if inFrame(ctx, p) {
		return fmt.Errorf("pool: %s: %w", op, domain.ErrReentrant)
	}
	p.mu.Lock()
	t := &tx{p: p, now: p.now()}
	err := fn(context.WithValue(ctx, frameKey{}, p), t)
	if err != nil {
		t.rollback()
		p.mu.Unlock()
		p.logger.DebugContext(ctx, "pool call reverted",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("pool: %s: %w", op, err)
	}
	events := t.flush()
	// pubMu is taken before mu is released so events reach the sink in
	// commit order.
	p.pubMu.Lock()
	defer p.pubMu.Unlock()
	p.mu.Unlock()

	for _, ev := range events {
		p.logger.InfoContext(ctx, "pool event",
			slog.String("kind", string(ev.Kind)),
			slog.Uint64("token_id", ev.TokenID),
			slog.String("actor", ev.Actor.Hex()),
		)
		if p.events != nil {
			p.events.Publish(ctx, ev)
		}
	}
	return nil
}

func (t *tx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
	t.events = nil
}

// flush attaches any ledger movement not yet claimed by an event to the last
// event and returns the buffered events.
func (t *tx) flush() []domain.PoolEvent {
	if len(t.credits) > 0 || len(t.debits) > 0 {
		if len(t.events) == 0 {
			t.emit(domain.PoolEvent{Kind: domain.EventCredit})
		} else {
			last := &t.events[len(t.events)-1]
			last.Credits = append(last.Credits, t.credits...)
			last.Debits = append(last.Debits, t.debits...)
			t.credits, t.debits = nil, nil
		}
	}
	return t.events
}

// emit buffers ev with the ledger movements recorded since the last emit.
func (t *tx) emit(ev domain.PoolEvent) {
	ev.ID = uuid.NewString()
	ev.Pool = t.p.addr
	ev.Collection = t.p.collection
	ev.Timestamp = time.Unix(int64(t.now), 0).UTC()
	ev.Credits = t.credits
	ev.Debits = t.debits
	t.credits, t.debits = nil, nil
	t.events = append(t.events, ev)
}

// checkpoint marks a point the journal can be rewound to.
type checkpoint struct {
	undo, events, credits, debits int
}

func (t *tx) mark() checkpoint {
	return checkpoint{len(t.undo), len(t.events), len(t.credits), len(t.debits)}
}

// rewind undoes every change made after cp.
func (t *tx) rewind(cp checkpoint) {
	for i := len(t.undo) - 1; i >= cp.undo; i-- {
		t.undo[i]()
	}
	t.undo = t.undo[:cp.undo]
	t.events = t.events[:cp.events]
	t.credits = t.credits[:cp.credits]
	t.debits = t.debits[:cp.debits]
}

func (t *tx) credit(acct common.Address, amt *uint256.Int) error {
	if amt.IsZero() {
		return nil
	}
	p := t.p
	prev, had := p.balances[acct]
	base := domain.Zero()
	if had {
		base = prev
	}
	next, err := domain.Add(base, amt)
	if err != nil {
		return err
	}
	p.balances[acct] = next
	t.undo = append(t.undo, func() {
		if had {
			p.balances[acct] = prev
		} else {
			delete(p.balances, acct)
		}
	})
	t.credits = append(t.credits, domain.LedgerEntry{Account: acct, Amount: new(uint256.Int).Set(amt)})
	return nil
}

func (t *tx) debit(acct common.Address, amt *uint256.Int) error {
	if amt.IsZero() {
		return nil
	}
	p := t.p
	prev, had := p.balances[acct]
	if !had || prev.Lt(amt) {
		return domain.ErrInsufficientBalance
	}
	next, err := domain.Sub(prev, amt)
	if err != nil {
		return err
	}
	if next.IsZero() {
		delete(p.balances, acct)
	} else {
		p.balances[acct] = next
	}
	t.undo = append(t.undo, func() { p.balances[acct] = prev })
	t.debits = append(t.debits, domain.LedgerEntry{Account: acct, Amount: new(uint256.Int).Set(amt)})
	return nil
}

// receive books value attached to the call.
func (t *tx) receive(amt *uint256.Int) error {
	if amt == nil || amt.IsZero() {
		return nil
	}
	p := t.p
	prev := p.received
	next, err := domain.Add(prev, amt)
	if err != nil {
		return err
	}
	p.received = next
	t.undo = append(t.undo, func() { p.received = prev })
	return nil
}

func (t *tx) pay(amt *uint256.Int) error {
	p := t.p
	prev := p.paidOut
	next, err := domain.Add(prev, amt)
	if err != nil {
		return err
	}
	p.paidOut = next
	t.undo = append(t.undo, func() { p.paidOut = prev })
	return nil
}

func (t *tx) putRecord(id uint64, r *record) {
	p := t.p
	prev, had := p.records[id]
	p.records[id] = r
	t.undo = append(t.undo, func() {
		if had {
			p.records[id] = prev
		} else {
			delete(p.records, id)
		}
	})
}

func (t *tx) deleteRecord(id uint64) {
	p := t.p
	prev, had := p.records[id]
	if !had {
		return
	}
	delete(p.records, id)
	t.undo = append(t.undo, func() { p.records[id] = prev })
}

func (t *tx) setPaused(v bool) {
	p := t.p
	prev := p.paused
	p.paused = v
	t.undo = append(t.undo, func() { p.paused = prev })
}

// onUndo registers a compensating action for a collaborator side effect.
func (t *tx) onUndo(fn func()) {
	t.undo = append(t.undo, fn)
}
