package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// PayoutQueue implements domain.Payout by queueing each transfer for an
// external treasury to execute. A pool withdrawal only commits once the
// transfer is durably queued.
type PayoutQueue struct {
	store  domain.PayoutStore
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewPayoutQueue builds a queue over store; audit may be nil.
func NewPayoutQueue(store domain.PayoutStore, audit domain.AuditStore, logger *slog.Logger) *PayoutQueue {
	return &PayoutQueue{
		store:  store,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "payout_queue")),
	}
}

// Pay queues amount for to.
func (q *PayoutQueue) Pay(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	rec := domain.PayoutRecord{
		ID:        uuid.NewString(),
		Pool:      from,
		To:        to,
		Amount:    new(uint256.Int).Set(amount),
		Status:    domain.PayoutPending,
		CreatedAt: q.now(),
	}
	if err := q.store.Create(ctx, rec); err != nil {
		return fmt.Errorf("payout: queue %s to %s: %w", domain.FormatEther(amount), to.Hex(), err)
	}
	q.logger.InfoContext(ctx, "payout queued",
		slog.String("id", rec.ID),
		slog.String("pool", from.Hex()),
		slog.String("to", to.Hex()),
		slog.String("amount_eth", domain.FormatEther(amount)),
	)
	return nil
}

// Pending lists queued transfers, oldest first.
func (q *PayoutQueue) Pending(ctx context.Context, limit int) ([]domain.PayoutRecord, error) {
	return q.store.ListPending(ctx, limit)
}

// MarkSent records that the treasury executed payout id.
func (q *PayoutQueue) MarkSent(ctx context.Context, caller common.Address, id, txHash string) error {
	if txHash == "" {
		return fmt.Errorf("payout: empty tx hash: %w", domain.ErrInvalidArgument)
	}
	if err := q.store.MarkSent(ctx, id, txHash); err != nil {
		return err
	}
	if q.audit != nil {
		if err := q.audit.Log(ctx, "payout.sent", map[string]any{
			"id":      id,
			"tx_hash": txHash,
			"by":      caller.Hex(),
		}); err != nil {
			q.logger.WarnContext(ctx, "audit payout failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

var _ domain.Payout = (*PayoutQueue)(nil)
