package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// PayoutService is the settlement side of the payout queue.
type PayoutService interface {
	Pending(ctx context.Context, limit int) ([]domain.PayoutRecord, error)
	MarkSent(ctx context.Context, caller common.Address, id, txHash string) error
}

// PayoutHandler lets the treasury drain the payout queue. Both endpoints
// are restricted to the treasury account.
type PayoutHandler struct {
	payouts  PayoutService
	treasury common.Address
	logger   *slog.Logger
}

// NewPayoutHandler creates a PayoutHandler for treasury.
func NewPayoutHandler(payouts PayoutService, treasury common.Address, logger *slog.Logger) *PayoutHandler {
	return &PayoutHandler{payouts: payouts, treasury: treasury, logger: logger}
}

func (h *PayoutHandler) authorize(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return caller, false
	}
	if caller != h.treasury {
		writeDomainError(w, r, h.logger, "payouts", domain.ErrUnauthorized)
		return caller, false
	}
	return caller, true
}

// ListPending returns queued payouts, oldest first.
// GET /api/payouts?limit=50
func (h *PayoutHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	recs, err := h.payouts.Pending(r.Context(), parseListOpts(r).Limit)
	if err != nil {
		writeDomainError(w, r, h.logger, "list payouts", err)
		return
	}
	out := make([]map[string]any, len(recs))
	for i, rec := range recs {
		m := map[string]any{
			"id":         rec.ID,
			"pool":       rec.Pool.Hex(),
			"to":         rec.To.Hex(),
			"status":     rec.Status,
			"created_at": rec.CreatedAt,
		}
		amountFields(m, "amount", rec.Amount)
		out[i] = m
	}
	writeJSON(w, http.StatusOK, map[string]any{"payouts": out})
}

type markSentRequest struct {
	TxHash string `json:"tx_hash"`
}

// MarkSent records the transaction that settled a payout.
// POST /api/payouts/{id}/sent
func (h *PayoutHandler) MarkSent(w http.ResponseWriter, r *http.Request) {
	caller, ok := h.authorize(w, r)
	if !ok {
		return
	}
	var req markSentRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id := pathParam(r, "id")
	if err := h.payouts.MarkSent(r.Context(), caller, id, req.TxHash); err != nil {
		writeDomainError(w, r, h.logger, "mark payout sent", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "status": domain.PayoutSent})
}
