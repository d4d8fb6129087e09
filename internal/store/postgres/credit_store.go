package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// CreditStore implements domain.CreditStore. Each confirmed transfer is
// kept in credit_deposits; spendable balances live in credit_balances.
type CreditStore struct {
	pool *pgxpool.Pool
}

// NewCreditStore creates a CreditStore backed by pool.
func NewCreditStore(pool *pgxpool.Pool) *CreditStore {
	return &CreditStore{pool: pool}
}

const upsertCredit = `
	INSERT INTO credit_balances (account, balance, updated_at)
	VALUES ($1, CAST($2::text AS NUMERIC), NOW())
	ON CONFLICT (account) DO UPDATE
	SET balance = credit_balances.balance + EXCLUDED.balance, updated_at = NOW()`

// Credit records rec and raises the account balance in one transaction.
func (s *CreditStore) Credit(ctx context.Context, rec domain.CreditRecord) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO credit_deposits (tx_hash, account, amount, created_at)
			VALUES ($1, $2, CAST($3::text AS NUMERIC), $4)
			ON CONFLICT (tx_hash) DO NOTHING`,
			rec.TxHash, addrCol(rec.Account), domain.AmountString(rec.Amount), rec.CreatedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return domain.ErrCreditExists
		}
		_, err = tx.Exec(ctx, upsertCredit, addrCol(rec.Account), domain.AmountString(rec.Amount))
		return err
	})
	if err != nil {
		return fmt.Errorf("postgres: credit %s: %w", rec.TxHash, err)
	}
	return nil
}

// Debit lowers the balance only when it covers amount.
func (s *CreditStore) Debit(ctx context.Context, account common.Address, amount *uint256.Int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE credit_balances
		SET balance = balance - CAST($2::text AS NUMERIC), updated_at = NOW()
		WHERE account = $1 AND balance >= CAST($2::text AS NUMERIC)`,
		addrCol(account), domain.AmountString(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", account.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s from %s: %w", domain.FormatEther(amount), account.Hex(), domain.ErrInsufficientCredit)
	}
	return nil
}

// Refund adds amount back to the account balance.
func (s *CreditStore) Refund(ctx context.Context, account common.Address, amount *uint256.Int) error {
	if _, err := s.pool.Exec(ctx, upsertCredit, addrCol(account), domain.AmountString(amount)); err != nil {
		return fmt.Errorf("postgres: refund %s: %w", account.Hex(), err)
	}
	return nil
}

// Balance returns zero for an account never credited.
func (s *CreditStore) Balance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	var bal string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::text FROM credit_balances WHERE account = $1`, addrCol(account),
	).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Zero(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: credit balance %s: %w", account.Hex(), err)
	}
	return domain.ParseAmount(bal)
}

var _ domain.CreditStore = (*CreditStore)(nil)
