package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// CreditService confirms inbound ETH and reports what is left to spend.
type CreditService interface {
	Confirm(ctx context.Context, caller, account common.Address, amount *uint256.Int, txHash string) error
	Balance(ctx context.Context, account common.Address) (*uint256.Int, error)
}

// CreditHandler serves the credit endpoints. Only the treasury may
// confirm a transfer.
type CreditHandler struct {
	credits  CreditService
	treasury common.Address
	logger   *slog.Logger
}

// NewCreditHandler creates a CreditHandler for treasury.
func NewCreditHandler(credits CreditService, treasury common.Address, logger *slog.Logger) *CreditHandler {
	return &CreditHandler{credits: credits, treasury: treasury, logger: logger}
}

type confirmCreditRequest struct {
	Account common.Address `json:"account"`
	Amount  string         `json:"amount"`
	TxHash  string         `json:"tx_hash"`
}

// Confirm credits an account with ETH the treasury received.
// POST /api/credits
func (h *CreditHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	if caller != h.treasury {
		writeDomainError(w, r, h.logger, "confirm credit", domain.ErrUnauthorized)
		return
	}
	var req confirmCreditRequest
	if !decodeBody(w, r, &req) {
		return
	}
	amount, err := parseWei(req.Amount)
	if err != nil {
		writeDomainError(w, r, h.logger, "confirm credit", err)
		return
	}
	if err := h.credits.Confirm(r.Context(), caller, req.Account, amount, req.TxHash); err != nil {
		writeDomainError(w, r, h.logger, "confirm credit", err)
		return
	}
	h.writeBalance(w, r, req.Account, http.StatusCreated)
}

// Balance reports an account's unspent credit.
// GET /api/credits/{account}
func (h *CreditHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := addressParam(r, "account")
	if err != nil {
		writeDomainError(w, r, h.logger, "credit balance", err)
		return
	}
	h.writeBalance(w, r, account, http.StatusOK)
}

func (h *CreditHandler) writeBalance(w http.ResponseWriter, r *http.Request, account common.Address, status int) {
	bal, err := h.credits.Balance(r.Context(), account)
	if err != nil {
		writeDomainError(w, r, h.logger, "credit balance", err)
		return
	}
	m := map[string]any{"account": account.Hex()}
	amountFields(m, "credit", bal)
	writeJSON(w, status, m)
}
