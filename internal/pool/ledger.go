package pool

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// WithdrawETH pays amount from caller's balance to to.
func (p *Pool) WithdrawETH(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	return p.run(ctx, "withdraw eth", func(ctx context.Context, t *tx) error {
		if p.paused {
			return domain.ErrPaused
		}
		return p.payOut(ctx, t, domain.EventWithdrawETH, caller, caller, to, amount)
	})
}

// CollectProtocol pays amount of the protocol reserve to to. Only the
// factory owner may collect.
func (p *Pool) CollectProtocol(ctx context.Context, caller, to common.Address, amount *uint256.Int) error {
	return p.run(ctx, "collect protocol", func(ctx context.Context, t *tx) error {
		if caller != p.factory.Owner() {
			return domain.ErrUnauthorized
		}
		if p.paused {
			return domain.ErrPaused
		}
		return p.payOut(ctx, t, domain.EventCollectProtocol, caller, p.addr, to, amount)
	})
}

// payOut debits account and hands amount to the payout collaborator. The
// ledger is already debited when Pay runs; a failed payment reverts it.
func (p *Pool) payOut(ctx context.Context, t *tx, kind domain.EventKind, caller, account, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return domain.ErrInvalidAddress
	}
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("zero amount: %w", domain.ErrInvalidArgument)
	}
	if err := t.debit(account, amount); err != nil {
		return err
	}
	if err := t.pay(amount); err != nil {
		return err
	}
	t.emit(domain.PoolEvent{
		Kind:         kind,
		Actor:        caller,
		Counterparty: to,
		ValueOut:     new(uint256.Int).Set(amount),
	})
	if err := p.payout.Pay(ctx, p.addr, to, amount); err != nil {
		return fmt.Errorf("payout: %w", err)
	}
	return nil
}

// Pause blocks every mutating call except Unpause. Factory owner only.
func (p *Pool) Pause(ctx context.Context, caller common.Address) error {
	return p.run(ctx, "pause", func(_ context.Context, t *tx) error {
		if caller != p.factory.Owner() {
			return domain.ErrUnauthorized
		}
		if p.paused {
			return domain.ErrPaused
		}
		t.setPaused(true)
		t.emit(domain.PoolEvent{Kind: domain.EventPaused, Actor: caller})
		return nil
	})
}

// Unpause lifts Pause. Factory owner only.
func (p *Pool) Unpause(ctx context.Context, caller common.Address) error {
	return p.run(ctx, "unpause", func(_ context.Context, t *tx) error {
		if caller != p.factory.Owner() {
			return domain.ErrUnauthorized
		}
		if !p.paused {
			return fmt.Errorf("not paused: %w", domain.ErrInvalidArgument)
		}
		t.setPaused(false)
		t.emit(domain.PoolEvent{Kind: domain.EventUnpaused, Actor: caller})
		return nil
	})
}

// ReplayLedger rebuilds ledger balances from an event log. Applied to every
// event a pool emitted, it reproduces the pool's balances exactly.
func ReplayLedger(events []domain.PoolEvent) (map[common.Address]*uint256.Int, error) {
	balances := make(map[common.Address]*uint256.Int)
	for _, ev := range events {
		for _, c := range ev.Credits {
			cur, ok := balances[c.Account]
			if !ok {
				cur = domain.Zero()
			}
			next, err := domain.Add(cur, c.Amount)
			if err != nil {
				return nil, fmt.Errorf("pool: replay %s: %w", ev.ID, err)
			}
			balances[c.Account] = next
		}
		for _, d := range ev.Debits {
			cur, ok := balances[d.Account]
			if !ok {
				cur = domain.Zero()
			}
			next, err := domain.Sub(cur, d.Amount)
			if err != nil {
				return nil, fmt.Errorf("pool: replay %s: debit exceeds balance: %w", ev.ID, err)
			}
			if next.IsZero() {
				delete(balances, d.Account)
			} else {
				balances[d.Account] = next
			}
		}
	}
	return balances, nil
}
