package pool

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// BatchResult is the outcome of one OpenCallBatch entry.
type BatchResult struct {
	TokenID uint64
	Quote   domain.Quote
	// Err is set when the entry was skipped.
	Err error
}

// PreviewOpenCall quotes a call on id for caller without changing state. A
// non-zero ErrorCode explains why the call cannot be opened; an error is
// returned only for bad indexes or arithmetic overflow.
func (p *Pool) PreviewOpenCall(ctx context.Context, caller common.Address, id uint64, strikeGapIdx, durationIdx uint8) (domain.Quote, error) {
	if !inFrame(ctx, p) {
		p.mu.RLock()
		defer p.mu.RUnlock()
	}
	q, err := p.preview(ctx, caller, id, strikeGapIdx, durationIdx, p.now())
	if err != nil {
		return q, fmt.Errorf("pool: preview: %w", err)
	}
	return q, nil
}

// preview must run with p.mu held.
func (p *Pool) preview(ctx context.Context, caller common.Address, id uint64, gapIdx, durIdx uint8, now uint64) (domain.Quote, error) {
	q := domain.Quote{
		StrikePrice:      domain.Zero(),
		PremiumToOwner:   domain.Zero(),
		PremiumToReserve: domain.Zero(),
	}
	if err := p.checkIndexes(gapIdx, durIdx); err != nil {
		return q, err
	}

	r, ok := p.records[id]
	if !ok || !r.onMarket || r.live(now) {
		q.ErrorCode = domain.QuoteNotOnMarket
		return q, nil
	}
	if gapIdx < r.lowerStrikeGapIdx {
		q.ErrorCode = domain.QuoteStrikeGapTooLow
		return q, nil
	}
	if durIdx > r.upperDurationIdx {
		q.ErrorCode = domain.QuoteDurationTooLong
		return q, nil
	}

	price, vol, err := p.oracle.GetAsset(ctx, p.collection)
	if err != nil {
		return q, err
	}
	if q.StrikePrice, err = domain.MulDiv(price, uint256.NewInt(bps+p.params.StrikeGaps[gapIdx]), uint256.NewInt(bps)); err != nil {
		return q, err
	}
	row := int(gapIdx)*len(p.params.Durations) + int(durIdx)
	rate, err := p.premium.GetPremium(row, vol*p.params.VolMultiplier)
	if err != nil {
		return q, err
	}
	total, err := domain.MulDiv(price, uint256.NewInt(rate), uint256.NewInt(bps))
	if err != nil {
		return q, err
	}
	if q.PremiumToReserve, err = domain.MulDiv(total, uint256.NewInt(p.params.ReserveBps), uint256.NewInt(bps)); err != nil {
		return q, err
	}
	if q.PremiumToOwner, err = domain.Sub(total, q.PremiumToReserve); err != nil {
		return q, err
	}

	floor := p.params.MinimumPremiumToOwner
	if r.minimumPremium.Gt(floor) {
		floor = r.minimumPremium
	}
	holder, err := p.receiptHolder(id)
	if err != nil {
		return q, err
	}
	switch {
	case q.PremiumToOwner.Lt(floor):
		q.ErrorCode = domain.QuotePremiumBelowMinimum
	case holder == caller:
		q.ErrorCode = domain.QuoteSelfOwned
	case q.StrikePrice.Lt(p.params.MinimumStrikePrice):
		q.ErrorCode = domain.QuoteStrikeBelowMinimum
	}
	return q, nil
}

// OpenCall sells caller a call on id. value is the payment attached to the
// call: any excess over the premium is credited to caller's balance, and a
// shortfall is drawn from that balance.
func (p *Pool) OpenCall(ctx context.Context, caller common.Address, id uint64, strikeGapIdx, durationIdx uint8, value *uint256.Int) (domain.Quote, error) {
	var quote domain.Quote
	err := p.run(ctx, "open call", func(ctx context.Context, t *tx) error {
		if p.paused {
			return domain.ErrPaused
		}
		if value == nil {
			value = domain.Zero()
		}
		if err := t.receive(value); err != nil {
			return err
		}
		q, left, err := p.openOne(ctx, t, caller, id, strikeGapIdx, durationIdx, value)
		if err != nil {
			return err
		}
		quote = q
		return t.credit(caller, left)
	})
	return quote, err
}

// OpenCallBatch opens several calls with one payment. Entries that cannot be
// opened are skipped and reported in the result; attached value is spent
// first, then caller's balance, and what remains is credited to caller.
func (p *Pool) OpenCallBatch(
	ctx context.Context,
	caller common.Address,
	ids []uint64,
	strikeGapIdxs, durationIdxs []uint8,
	value *uint256.Int,
) ([]BatchResult, error) {
	if len(ids) != len(strikeGapIdxs) || len(ids) != len(durationIdxs) {
		return nil, fmt.Errorf("pool: open call batch: %d ids, %d gaps, %d durations: %w",
			len(ids), len(strikeGapIdxs), len(durationIdxs), domain.ErrInvalidArgument)
	}
	var results []BatchResult
	err := p.run(ctx, "open call batch", func(ctx context.Context, t *tx) error {
		if p.paused {
			return domain.ErrPaused
		}
		if value == nil {
			value = domain.Zero()
		}
		if err := t.receive(value); err != nil {
			return err
		}

		results = make([]BatchResult, len(ids))
		remaining := value
		opened := 0
		for i, id := range ids {
			results[i].TokenID = id
			cp := t.mark()
			q, left, err := p.openOne(ctx, t, caller, id, strikeGapIdxs[i], durationIdxs[i], remaining)
			results[i].Quote = q
			if err != nil {
				if !skippable(err) {
					return fmt.Errorf("entry %d: %w", i, err)
				}
				t.rewind(cp)
				results[i].Err = err
				continue
			}
			remaining = left
			opened++
		}

		if err := t.credit(caller, remaining); err != nil {
			return err
		}
		if opened == 0 && !remaining.IsZero() {
			t.emit(domain.PoolEvent{Kind: domain.EventCredit, Actor: caller, ValueIn: remaining})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// skippable reports whether a batch entry failure leaves the rest of the
// batch valid.
func skippable(err error) bool {
	return errors.Is(err, domain.ErrQuoteRejected) ||
		errors.Is(err, domain.ErrOptionStillLive) ||
		errors.Is(err, domain.ErrInsufficientPayment)
}

// openOne opens a call paid from value, then from caller's balance. It
// returns the unspent part of value.
func (p *Pool) openOne(ctx context.Context, t *tx, caller common.Address, id uint64, gapIdx, durIdx uint8, value *uint256.Int) (domain.Quote, *uint256.Int, error) {
	if r, ok := p.records[id]; ok && r.live(t.now) {
		return domain.Quote{}, nil, domain.ErrOptionStillLive
	}
	q, err := p.preview(ctx, caller, id, gapIdx, durIdx, t.now)
	if err != nil {
		return q, nil, err
	}
	if q.ErrorCode != domain.QuoteOK {
		return q, nil, &domain.QuoteError{Code: q.ErrorCode}
	}
	total, err := q.Total()
	if err != nil {
		return q, nil, err
	}

	left := domain.Zero()
	spent := total
	if value.Lt(total) {
		shortfall, _ := domain.Sub(total, value)
		if err := t.debit(caller, shortfall); err != nil {
			if errors.Is(err, domain.ErrInsufficientBalance) {
				return q, nil, domain.ErrInsufficientPayment
			}
			return q, nil, err
		}
		spent = value
	} else {
		left, _ = domain.Sub(value, total)
	}

	holder, err := p.receiptHolder(id)
	if err != nil {
		return q, nil, err
	}
	if err := t.credit(holder, q.PremiumToOwner); err != nil {
		return q, nil, err
	}
	if err := t.credit(p.addr, q.PremiumToReserve); err != nil {
		return q, nil, err
	}

	d := uint64(p.params.Durations[durIdx] / time.Second)
	next := p.records[id].clone()
	next.strikePrice = q.StrikePrice
	next.endTime = t.now + d
	next.exerciseTime = t.now + d/2
	t.putRecord(id, next)
	t.emit(domain.PoolEvent{
		Kind:             domain.EventOpenCall,
		TokenID:          id,
		Actor:            caller,
		Counterparty:     holder,
		ValueIn:          new(uint256.Int).Set(spent),
		StrikePrice:      q.StrikePrice,
		PremiumToOwner:   q.PremiumToOwner,
		PremiumToReserve: q.PremiumToReserve,
		EndTime:          next.endTime,
		ExerciseTime:     next.exerciseTime,
	})

	if err := p.options.MintExpiring(ctx, caller, id, next.endTime); err != nil {
		return q, nil, err
	}
	t.onUndo(func() { _ = p.options.Burn(id) })
	return q, left, nil
}

// ExerciseCall buys id at the strike price. Only the holder of the live
// option may exercise, between the exercise time and the end time. The
// strike goes to the receipt holder's balance and excess value to caller's.
func (p *Pool) ExerciseCall(ctx context.Context, caller common.Address, id uint64, value *uint256.Int) error {
	return p.run(ctx, "exercise call", func(ctx context.Context, t *tx) error {
		if p.paused {
			return domain.ErrPaused
		}
		if value == nil {
			value = domain.Zero()
		}
		r, ok := p.records[id]
		if !ok {
			return fmt.Errorf("token %d not deposited: %w", id, domain.ErrNotFound)
		}
		if r.endTime == 0 || t.now < r.exerciseTime || t.now > r.endTime {
			return domain.ErrExerciseWindow
		}
		optionHolder, err := p.options.OwnerAt(id, t.now)
		if err != nil || optionHolder != caller {
			return fmt.Errorf("caller does not hold the call: %w", domain.ErrUnauthorized)
		}
		if value.Lt(r.strikePrice) {
			return domain.ErrInsufficientPayment
		}
		if err := t.receive(value); err != nil {
			return err
		}
		excess, _ := domain.Sub(value, r.strikePrice)
		if err := t.credit(caller, excess); err != nil {
			return err
		}
		holder, err := p.receiptHolder(id)
		if err != nil {
			return err
		}
		if err := t.credit(holder, r.strikePrice); err != nil {
			return err
		}

		t.deleteRecord(id)
		t.emit(domain.PoolEvent{
			Kind:         domain.EventExerciseCall,
			TokenID:      id,
			Actor:        caller,
			Counterparty: holder,
			ValueIn:      new(uint256.Int).Set(value),
			StrikePrice:  r.strikePrice,
			EndTime:      r.endTime,
			ExerciseTime: r.exerciseTime,
		})

		if err := p.receipts.Burn(id); err != nil {
			return err
		}
		t.onUndo(func() { _ = p.receipts.Mint(ctx, holder, id) })
		if err := p.options.Burn(id); err != nil {
			return err
		}
		t.onUndo(func() { _ = p.options.MintExpiring(ctx, caller, id, r.endTime) })

		if err := p.nft.TransferFrom(ctx, p.addr, p.addr, caller, id); err != nil {
			return err
		}
		t.onUndo(func() { _ = p.nft.TransferFrom(ctx, p.addr, caller, p.addr, id) })
		return nil
	})
}
