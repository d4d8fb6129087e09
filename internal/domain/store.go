package domain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EventStore persists the pool event log.
type EventStore interface {
	Append(ctx context.Context, ev PoolEvent) error
	List(ctx context.Context, collection *common.Address, opts ListOpts) ([]PoolEvent, error)
	ListBefore(ctx context.Context, before time.Time) ([]PoolEvent, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// PayoutStatus tracks settlement of a queued payout.
type PayoutStatus string

const (
	PayoutPending PayoutStatus = "pending"
	PayoutSent    PayoutStatus = "sent"
)

// PayoutRecord is a value transfer owed to an external account.
type PayoutRecord struct {
	ID        string
	Pool      common.Address
	To        common.Address
	Amount    *uint256.Int
	Status    PayoutStatus
	TxHash    string
	CreatedAt time.Time
}

// PayoutStore persists the payout queue.
type PayoutStore interface {
	Create(ctx context.Context, rec PayoutRecord) error
	ListPending(ctx context.Context, limit int) ([]PayoutRecord, error)
	MarkSent(ctx context.Context, id string, txHash string) error
}

// CreditRecord is inbound ETH the treasury has seen settle on chain for
// Account. TxHash identifies the transfer and is credited at most once.
type CreditRecord struct {
	TxHash    string
	Account   common.Address
	Amount    *uint256.Int
	CreatedAt time.Time
}

// CreditStore tracks confirmed, unspent payment credit per account. Value
// attached to a pool call is drawn from here.
type CreditStore interface {
	// Credit adds rec.Amount to the account. A repeated TxHash fails with
	// ErrCreditExists.
	Credit(ctx context.Context, rec CreditRecord) error
	// Debit removes amount, failing with ErrInsufficientCredit when the
	// balance is short. It never goes negative.
	Debit(ctx context.Context, account common.Address, amount *uint256.Int) error
	// Refund returns a debit that was not consumed.
	Refund(ctx context.Context, account common.Address, amount *uint256.Int) error
	Balance(ctx context.Context, account common.Address) (*uint256.Int, error)
}
