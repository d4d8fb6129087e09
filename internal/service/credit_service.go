package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// CreditLedger is the inbound side of settlement. The treasury confirms
// ETH it has received on chain, and pool calls that carry value draw it
// from the caller's confirmed credit.
type CreditLedger struct {
	store  domain.CreditStore
	audit  domain.AuditStore
	now    func() time.Time
	logger *slog.Logger
}

// NewCreditLedger builds a ledger over store; audit may be nil.
func NewCreditLedger(store domain.CreditStore, audit domain.AuditStore, logger *slog.Logger) *CreditLedger {
	return &CreditLedger{
		store:  store,
		audit:  audit,
		now:    func() time.Time { return time.Now().UTC() },
		logger: logger.With(slog.String("component", "credit_ledger")),
	}
}

// Confirm credits account with amount received in txHash. Each transfer
// counts once.
func (l *CreditLedger) Confirm(ctx context.Context, caller, account common.Address, amount *uint256.Int, txHash string) error {
	txHash = strings.ToLower(strings.TrimSpace(txHash))
	switch {
	case txHash == "":
		return fmt.Errorf("credit: empty tx hash: %w", domain.ErrInvalidArgument)
	case account == (common.Address{}):
		return fmt.Errorf("credit: zero account: %w", domain.ErrInvalidAddress)
	case amount == nil || amount.IsZero():
		return fmt.Errorf("credit: zero amount: %w", domain.ErrInvalidArgument)
	}
	rec := domain.CreditRecord{
		TxHash:    txHash,
		Account:   account,
		Amount:    new(uint256.Int).Set(amount),
		CreatedAt: l.now(),
	}
	if err := l.store.Credit(ctx, rec); err != nil {
		return err
	}
	l.logger.InfoContext(ctx, "credit confirmed",
		slog.String("account", account.Hex()),
		slog.String("amount_eth", domain.FormatEther(amount)),
		slog.String("tx_hash", txHash),
	)
	if l.audit != nil {
		if err := l.audit.Log(ctx, "credit.confirmed", map[string]any{
			"account": account.Hex(),
			"amount":  domain.AmountString(amount),
			"tx_hash": txHash,
			"by":      caller.Hex(),
		}); err != nil {
			l.logger.WarnContext(ctx, "audit credit failed", slog.String("error", err.Error()))
		}
	}
	return nil
}

// Balance returns the unspent credit of account.
func (l *CreditLedger) Balance(ctx context.Context, account common.Address) (*uint256.Int, error) {
	return l.store.Balance(ctx, account)
}

// Draw debits amount from account and returns a func that puts it back,
// for when the call it paid for is refused. A zero amount draws nothing.
func (l *CreditLedger) Draw(ctx context.Context, account common.Address, amount *uint256.Int) (refund func(context.Context), err error) {
	if amount == nil || amount.IsZero() {
		return func(context.Context) {}, nil
	}
	if err := l.store.Debit(ctx, account, amount); err != nil {
		return nil, err
	}
	return func(ctx context.Context) {
		if err := l.store.Refund(ctx, account, amount); err != nil {
			l.logger.ErrorContext(ctx, "credit refund failed",
				slog.String("account", account.Hex()),
				slog.String("amount_eth", domain.FormatEther(amount)),
				slog.String("error", err.Error()),
			)
		}
	}, nil
}
