package pool

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Deposit takes custody of id from caller and mints the deposit receipt to
// onBehalfOf, with the default tier preference.
func (p *Pool) Deposit(ctx context.Context, caller, onBehalfOf common.Address, id uint64) error {
	return p.DepositWithPreference(ctx, caller, onBehalfOf, id,
		p.params.DefaultStrikeGapIdx, p.params.DefaultDurationIdx, domain.Zero())
}

// DepositWithPreference is Deposit with the lowest strike gap, the longest
// duration and the minimum owner premium the depositor accepts.
func (p *Pool) DepositWithPreference(
	ctx context.Context,
	caller, onBehalfOf common.Address,
	id uint64,
	lowerStrikeGapIdx, upperDurationIdx uint8,
	minimumPremium *uint256.Int,
) error {
	return p.run(ctx, "deposit", func(ctx context.Context, t *tx) error {
		if p.paused {
			return domain.ErrPaused
		}
		if onBehalfOf == (common.Address{}) {
			return domain.ErrInvalidAddress
		}
		if err := p.checkIndexes(lowerStrikeGapIdx, upperDurationIdx); err != nil {
			return err
		}
		if _, ok := p.records[id]; ok {
			return fmt.Errorf("token %d already deposited: %w", id, domain.ErrPositionNotAvailable)
		}
		owner, err := p.nft.OwnerOf(id)
		if err != nil {
			return err
		}
		if owner != caller {
			return fmt.Errorf("caller does not own token %d: %w", id, domain.ErrUnauthorized)
		}
		if minimumPremium == nil {
			minimumPremium = domain.Zero()
		}

		t.putRecord(id, &record{
			onMarket:          true,
			lowerStrikeGapIdx: lowerStrikeGapIdx,
			upperDurationIdx:  upperDurationIdx,
			minimumPremium:    new(uint256.Int).Set(minimumPremium),
			strikePrice:       domain.Zero(),
		})
		t.emit(domain.PoolEvent{
			Kind:         domain.EventDeposit,
			TokenID:      id,
			Actor:        caller,
			Counterparty: onBehalfOf,
		})

		if err := p.receipts.Mint(ctx, onBehalfOf, id); err != nil {
			return err
		}
		t.onUndo(func() { _ = p.receipts.Burn(id) })

		if err := p.nft.TransferFrom(ctx, p.addr, caller, p.addr, id); err != nil {
			return err
		}
		t.onUndo(func() { _ = p.nft.TransferFrom(ctx, p.addr, p.addr, caller, id) })
		return nil
	})
}

// Withdraw returns id to to and burns the receipt. Only the receipt holder
// may withdraw, and only while no option is live.
func (p *Pool) Withdraw(ctx context.Context, caller, to common.Address, id uint64) error {
	return p.run(ctx, "withdraw", func(ctx context.Context, t *tx) error {
		if p.paused {
			return domain.ErrPaused
		}
		if to == (common.Address{}) {
			return domain.ErrInvalidAddress
		}
		r, err := p.holderRecord(caller, id)
		if err != nil {
			return err
		}
		if r.live(t.now) {
			return domain.ErrOptionStillLive
		}

		t.deleteRecord(id)
		t.emit(domain.PoolEvent{
			Kind:         domain.EventWithdraw,
			TokenID:      id,
			Actor:        caller,
			Counterparty: to,
		})

		if err := p.receipts.Burn(id); err != nil {
			return err
		}
		t.onUndo(func() { _ = p.receipts.Mint(ctx, caller, id) })

		if err := p.nft.TransferFrom(ctx, p.addr, p.addr, to, id); err != nil {
			return err
		}
		t.onUndo(func() { _ = p.nft.TransferFrom(ctx, p.addr, to, p.addr, id) })
		return nil
	})
}

// TakeNFTOffMarket stops new options being sold on id. A live option is
// unaffected.
func (p *Pool) TakeNFTOffMarket(ctx context.Context, caller common.Address, id uint64) error {
	return p.setMarket(ctx, "take off market", caller, id, false, domain.EventOffMarket)
}

// RelistNFT puts id back on the market.
func (p *Pool) RelistNFT(ctx context.Context, caller common.Address, id uint64) error {
	return p.setMarket(ctx, "relist", caller, id, true, domain.EventRelist)
}

func (p *Pool) setMarket(ctx context.Context, op string, caller common.Address, id uint64, on bool, kind domain.EventKind) error {
	return p.run(ctx, op, func(_ context.Context, t *tx) error {
		if p.paused {
			return domain.ErrPaused
		}
		r, err := p.holderRecord(caller, id)
		if err != nil {
			return err
		}
		next := r.clone()
		next.onMarket = on
		t.putRecord(id, next)
		t.emit(domain.PoolEvent{Kind: kind, TokenID: id, Actor: caller})
		return nil
	})
}

// holderRecord returns id's record after checking caller holds its receipt.
func (p *Pool) holderRecord(caller common.Address, id uint64) (*record, error) {
	r, ok := p.records[id]
	if !ok {
		return nil, fmt.Errorf("token %d not deposited: %w", id, domain.ErrNotFound)
	}
	holder, err := p.receipts.OwnerOf(id)
	if err != nil {
		return nil, err
	}
	if holder != caller {
		return nil, domain.ErrNotReceiptHolder
	}
	return r, nil
}

// receiptHolder returns the current receipt holder of a deposited id.
func (p *Pool) receiptHolder(id uint64) (common.Address, error) {
	holder, err := p.receipts.OwnerOf(id)
	if errors.Is(err, domain.ErrNotFound) {
		return common.Address{}, fmt.Errorf("token %d not deposited: %w", id, domain.ErrNotFound)
	}
	return holder, err
}
