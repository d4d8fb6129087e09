package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Clock supplies the current time, the equivalent of a block timestamp.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// PriceSource is the oracle read surface a pool prices options from. Price
// is in wei; vol carries one implied decimal (100 == 10.0).
type PriceSource interface {
	GetAsset(ctx context.Context, asset common.Address) (price *uint256.Int, vol uint64, err error)
}

// PremiumSource maps a tier row and a volatility to a premium rate in basis
// points of the asset price.
type PremiumSource interface {
	GetPremium(row int, vol uint64) (uint64, error)
}

// NFTCollection is the underlying collection a pool takes custody from.
type NFTCollection interface {
	OwnerOf(id uint64) (common.Address, error)
	TransferFrom(ctx context.Context, operator, from, to common.Address, id uint64) error
}

// Payout moves value out of a pool to an external account.
type Payout interface {
	Pay(ctx context.Context, from, to common.Address, amount *uint256.Int) error
}

// EventSink receives committed pool events.
type EventSink interface {
	Publish(ctx context.Context, ev PoolEvent)
}

// NFTStatus is the public view of a deposit record.
type NFTStatus struct {
	OnMarket          bool
	LowerStrikeGapIdx uint8
	UpperDurationIdx  uint8
	MinimumPremium    *uint256.Int
	EndTime           uint64
	ExerciseTime      uint64
	StrikePrice       *uint256.Int
}

// Quote is the result of a call preview.
type Quote struct {
	ErrorCode        QuoteCode
	StrikePrice      *uint256.Int
	PremiumToOwner   *uint256.Int
	PremiumToReserve *uint256.Int
}

// Total returns the full premium due for the quote.
func (q Quote) Total() (*uint256.Int, error) {
	return Add(q.PremiumToOwner, q.PremiumToReserve)
}
