package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// PayoutStore implements domain.PayoutStore.
type PayoutStore struct {
	pool *pgxpool.Pool
}

// NewPayoutStore creates a PayoutStore backed by pool.
func NewPayoutStore(pool *pgxpool.Pool) *PayoutStore {
	return &PayoutStore{pool: pool}
}

// Create queues rec.
func (s *PayoutStore) Create(ctx context.Context, rec domain.PayoutRecord) error {
	status := rec.Status
	if status == "" {
		status = domain.PayoutPending
	}
	const q = `
		INSERT INTO payouts (id, pool, recipient, amount, status, created_at)
		VALUES ($1, $2, $3, CAST($4::text AS NUMERIC), $5, $6)`
	_, err := s.pool.Exec(ctx, q,
		rec.ID, addrCol(rec.Pool), addrCol(rec.To), domain.AmountString(rec.Amount), string(status), rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create payout %s: %w", rec.ID, err)
	}
	return nil
}

// ListPending returns the oldest unsent payouts.
func (s *PayoutStore) ListPending(ctx context.Context, limit int) ([]domain.PayoutRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	const q = `
		SELECT id::text, pool, recipient, amount::text, status, tx_hash, created_at
		FROM payouts WHERE status = 'pending'
		ORDER BY created_at ASC LIMIT $1`
	rows, err := s.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list pending payouts: %w", err)
	}
	defer rows.Close()

	var out []domain.PayoutRecord
	for rows.Next() {
		var (
			rec           domain.PayoutRecord
			pool, to, amt string
			status        string
		)
		if err := rows.Scan(&rec.ID, &pool, &to, &amt, &status, &rec.TxHash, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan payout: %w", err)
		}
		if rec.Amount, err = domain.ParseAmount(amt); err != nil {
			return nil, fmt.Errorf("postgres: payout %s: %w", rec.ID, err)
		}
		rec.Pool = common.HexToAddress(pool)
		rec.To = common.HexToAddress(to)
		rec.Status = domain.PayoutStatus(status)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list pending payouts rows: %w", err)
	}
	return out, nil
}

// MarkSent records the settlement of a pending payout.
func (s *PayoutStore) MarkSent(ctx context.Context, id string, txHash string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE payouts SET status = 'sent', tx_hash = $2, sent_at = NOW() WHERE id = $1 AND status = 'pending'`,
		id, txHash)
	if err != nil {
		return fmt.Errorf("postgres: mark payout %s sent: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: payout %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

var _ domain.PayoutStore = (*PayoutStore)(nil)
