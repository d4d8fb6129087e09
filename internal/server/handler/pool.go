package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/pool"
	"github.com/NFTCall-xyz/nftcall-core/internal/service"
	"github.com/NFTCall-xyz/nftcall-core/internal/token"
)

// PoolService defines what the pool handlers need from the service layer.
type PoolService interface {
	Registry() *pool.PoolRegistry
	Pool(collection common.Address) (*pool.Pool, error)
	Collection(collection common.Address) (*token.Registry, error)
	AddCollection(ctx context.Context, caller, collection common.Address, name string) (*pool.Pool, error)
	Mint(ctx context.Context, caller, collection, to common.Address, id uint64) error
	Mutate(ctx context.Context, collection common.Address, op string, fn func(ctx context.Context, p *pool.Pool) error) error
	Reconcile(ctx context.Context, collection common.Address) (service.Reconciliation, error)
}

// CreditDrawer pays attached value out of confirmed treasury credit.
type CreditDrawer interface {
	Draw(ctx context.Context, account common.Address, amount *uint256.Int) (refund func(context.Context), err error)
}

// PoolHandler serves the collateral pool endpoints.
type PoolHandler struct {
	pools   PoolService
	credits CreditDrawer
	logger  *slog.Logger
}

// NewPoolHandler creates a PoolHandler. Until WithCredits is called every
// request carrying a non-zero value is refused.
func NewPoolHandler(pools PoolService, logger *slog.Logger) *PoolHandler {
	return &PoolHandler{pools: pools, logger: logger}
}

// WithCredits lets value-bearing calls draw on confirmed credit.
func (h *PoolHandler) WithCredits(c CreditDrawer) *PoolHandler {
	h.credits = c
	return h
}

// paid parses raw as the attached value, draws it from the caller's
// credit and runs fn with it. The draw is refunded when fn fails.
func (h *PoolHandler) paid(ctx context.Context, caller common.Address, raw string, fn func(value *uint256.Int) error) error {
	value, err := parseWei(raw)
	if err != nil {
		return err
	}
	if value.IsZero() {
		return fn(value)
	}
	if h.credits == nil {
		return fmt.Errorf("no credit ledger: %w", domain.ErrInsufficientCredit)
	}
	refund, err := h.credits.Draw(ctx, caller, value)
	if err != nil {
		return err
	}
	if err := fn(value); err != nil {
		refund(ctx)
		return err
	}
	return nil
}

func poolSummary(p *pool.Pool) (map[string]any, error) {
	acct, err := p.Accounting()
	if err != nil {
		return nil, err
	}
	m := map[string]any{
		"address":    p.Address().Hex(),
		"collection": p.Collection().Hex(),
		"paused":     p.Paused(),
		"deposited":  len(p.Deposited()),
		"open_calls": p.Options().TotalSupply(),
	}
	amountFields(m, "received", acct.Received)
	amountFields(m, "paid_out", acct.PaidOut)
	amountFields(m, "ledger_total", acct.LedgerTotal)
	amountFields(m, "reserve", acct.ReserveAmount)
	return m, nil
}

func paramsJSON(p pool.Params) map[string]any {
	m := map[string]any{
		"strike_gaps_bps":        p.StrikeGaps,
		"durations_seconds":      p.DurationSeconds(),
		"reserve_bps":            p.ReserveBps,
		"default_strike_gap_idx": p.DefaultStrikeGapIdx,
		"default_duration_idx":   p.DefaultDurationIdx,
	}
	amountFields(m, "minimum_strike_price", p.MinimumStrikePrice)
	amountFields(m, "minimum_premium_to_owner", p.MinimumPremiumToOwner)
	return m
}

func statusJSON(id uint64, st domain.NFTStatus, available bool) map[string]any {
	m := map[string]any{
		"token_id":             id,
		"on_market":            st.OnMarket,
		"available":            available,
		"lower_strike_gap_idx": st.LowerStrikeGapIdx,
		"upper_duration_idx":   st.UpperDurationIdx,
		"end_time":             st.EndTime,
		"exercise_time":        st.ExerciseTime,
	}
	amountFields(m, "strike_price", st.StrikePrice)
	amountFields(m, "minimum_premium", st.MinimumPremium)
	return m
}

func quoteJSON(q domain.Quote) map[string]any {
	m := map[string]any{"error_code": uint8(q.ErrorCode)}
	amountFields(m, "strike_price", q.StrikePrice)
	amountFields(m, "premium_to_owner", q.PremiumToOwner)
	amountFields(m, "premium_to_reserve", q.PremiumToReserve)
	if total, err := q.Total(); err == nil {
		amountFields(m, "premium_total", total)
	}
	return m
}

// ListPools returns every pool in creation order.
// GET /api/pools
func (h *PoolHandler) ListPools(w http.ResponseWriter, r *http.Request) {
	reg := h.pools.Registry()
	pools := reg.Pools()
	out := make([]map[string]any, 0, len(pools))
	for _, p := range pools {
		m, err := poolSummary(p)
		if err != nil {
			writeDomainError(w, r, h.logger, "list pools", err)
			return
		}
		out = append(out, m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"registry": reg.Address().Hex(),
		"owner":    reg.Owner().Hex(),
		"pools":    out,
	})
}

type createPoolRequest struct {
	Collection common.Address `json:"collection"`
	Name       string         `json:"name"`
}

// CreatePool registers a collection and opens its pool. Owner only.
// POST /api/pools
func (h *PoolHandler) CreatePool(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req createPoolRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.pools.AddCollection(r.Context(), caller, req.Collection, req.Name)
	if err != nil {
		writeDomainError(w, r, h.logger, "create pool", err)
		return
	}
	m, err := poolSummary(p)
	if err != nil {
		writeDomainError(w, r, h.logger, "create pool", err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *PoolHandler) pool(w http.ResponseWriter, r *http.Request, op string) (*pool.Pool, bool) {
	collection, err := addressParam(r, "collection")
	if err == nil {
		var p *pool.Pool
		if p, err = h.pools.Pool(collection); err == nil {
			return p, true
		}
	}
	writeDomainError(w, r, h.logger, op, err)
	return nil, false
}

// GetPool returns one pool with its parameters.
// GET /api/pools/{collection}
func (h *PoolHandler) GetPool(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pool(w, r, "get pool")
	if !ok {
		return
	}
	m, err := poolSummary(p)
	if err != nil {
		writeDomainError(w, r, h.logger, "get pool", err)
		return
	}
	m["params"] = paramsJSON(p.Params())
	writeJSON(w, http.StatusOK, m)
}

// ListNFTs returns the status of every deposited token.
// GET /api/pools/{collection}/nfts
func (h *PoolHandler) ListNFTs(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pool(w, r, "list nfts")
	if !ok {
		return
	}
	ids := p.Deposited()
	out := make([]map[string]any, len(ids))
	for i, id := range ids {
		out[i] = statusJSON(id, p.GetNFTStatus(id), p.CheckAvailable(id))
	}
	writeJSON(w, http.StatusOK, map[string]any{"nfts": out})
}

// GetNFT returns one token's deposit status.
// GET /api/pools/{collection}/nfts/{id}
func (h *PoolHandler) GetNFT(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pool(w, r, "get nft")
	if !ok {
		return
	}
	id, err := tokenIDParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "get nft", err)
		return
	}
	writeJSON(w, http.StatusOK, statusJSON(id, p.GetNFTStatus(id), p.CheckAvailable(id)))
}

// Quote previews a call. The buyer is the signed caller, or the "caller"
// query parameter for anonymous previews.
// GET /api/pools/{collection}/nfts/{id}/quote?gap=&duration=&caller=
func (h *PoolHandler) Quote(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pool(w, r, "quote")
	if !ok {
		return
	}
	id, err := tokenIDParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	q := r.URL.Query()
	gap, err1 := strconv.ParseUint(q.Get("gap"), 10, 8)
	dur, err2 := strconv.ParseUint(q.Get("duration"), 10, 8)
	if err1 != nil || err2 != nil {
		writeError(w, http.StatusBadRequest, "gap and duration query parameters are required")
		return
	}
	buyer, signed := callerOf(r)
	if !signed && q.Get("caller") != "" {
		if buyer, err = parseAddress(q.Get("caller")); err != nil {
			writeDomainError(w, r, h.logger, "quote", err)
			return
		}
	}
	quote, err := p.PreviewOpenCall(r.Context(), buyer, id, uint8(gap), uint8(dur))
	if err != nil {
		writeDomainError(w, r, h.logger, "quote", err)
		return
	}
	writeJSON(w, http.StatusOK, quoteJSON(quote))
}

// Balance returns an account's ledger balance and the pool tokens it holds.
// GET /api/pools/{collection}/balances/{address}
func (h *PoolHandler) Balance(w http.ResponseWriter, r *http.Request) {
	p, ok := h.pool(w, r, "balance")
	if !ok {
		return
	}
	acct, err := addressParam(r, "address")
	if err != nil {
		writeDomainError(w, r, h.logger, "balance", err)
		return
	}
	m := map[string]any{
		"account":  acct.Hex(),
		"receipts": nonNil(p.Receipts().TokensOf(acct)),
		"calls":    nonNil(p.Options().TokensOf(acct)),
	}
	amountFields(m, "balance", p.BalanceOf(acct))
	writeJSON(w, http.StatusOK, m)
}

// Reconcile replays the stored event log against the live ledger.
// GET /api/pools/{collection}/reconcile
func (h *PoolHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeDomainError(w, r, h.logger, "reconcile", err)
		return
	}
	rec, err := h.pools.Reconcile(r.Context(), collection)
	if err != nil {
		writeDomainError(w, r, h.logger, "reconcile", err)
		return
	}
	mismatched := make(map[string]map[string]string, len(rec.Mismatched))
	for a, v := range rec.Mismatched {
		mismatched[a.Hex()] = map[string]string{"live": v[0].Dec(), "replayed": v[1].Dec()}
	}
	m := map[string]any{
		"collection": rec.Collection.Hex(),
		"events":     rec.Events,
		"balanced":   rec.Balanced,
		"mismatched": mismatched,
	}
	amountFields(m, "received", rec.Accounting.Received)
	amountFields(m, "paid_out", rec.Accounting.PaidOut)
	amountFields(m, "ledger_total", rec.Accounting.LedgerTotal)
	writeJSON(w, http.StatusOK, m)
}

func nonNil(ids []uint64) []uint64 {
	if ids == nil {
		return []uint64{}
	}
	return ids
}

// mutate runs one signed pool call and answers with result on success.
func (h *PoolHandler) mutate(w http.ResponseWriter, r *http.Request, op string, body any,
	fn func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error),
) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	if body != nil && !decodeBody(w, r, body) {
		return
	}
	var result any
	err = h.pools.Mutate(r.Context(), collection, op, func(ctx context.Context, p *pool.Pool) error {
		var err error
		result, err = fn(ctx, caller, p)
		return err
	})
	if err != nil {
		writeDomainError(w, r, h.logger, op, err)
		return
	}
	if result == nil {
		result = map[string]any{"status": "ok"}
	}
	writeJSON(w, http.StatusOK, result)
}

type depositRequest struct {
	TokenID           uint64          `json:"token_id"`
	OnBehalfOf        *common.Address `json:"on_behalf_of,omitempty"`
	LowerStrikeGapIdx *uint8          `json:"lower_strike_gap_idx,omitempty"`
	UpperDurationIdx  *uint8          `json:"upper_duration_idx,omitempty"`
	MinimumPremium    string          `json:"minimum_premium,omitempty"`
}

// Deposit moves an NFT into the pool and mints the receipt.
// POST /api/pools/{collection}/deposit
func (h *PoolHandler) Deposit(w http.ResponseWriter, r *http.Request) {
	var req depositRequest
	h.mutate(w, r, "deposit", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		beneficiary := caller
		if req.OnBehalfOf != nil {
			beneficiary = *req.OnBehalfOf
		}
		if req.LowerStrikeGapIdx == nil && req.UpperDurationIdx == nil && req.MinimumPremium == "" {
			return nil, p.Deposit(ctx, caller, beneficiary, req.TokenID)
		}
		params := p.Params()
		gap, dur := params.DefaultStrikeGapIdx, params.DefaultDurationIdx
		if req.LowerStrikeGapIdx != nil {
			gap = *req.LowerStrikeGapIdx
		}
		if req.UpperDurationIdx != nil {
			dur = *req.UpperDurationIdx
		}
		minPremium, err := parseWei(req.MinimumPremium)
		if err != nil {
			return nil, err
		}
		return nil, p.DepositWithPreference(ctx, caller, beneficiary, req.TokenID, gap, dur, minPremium)
	})
}

type tokenRequest struct {
	TokenID uint64          `json:"token_id"`
	To      *common.Address `json:"to,omitempty"`
}

// Withdraw returns a deposited NFT to the receipt holder or to "to".
// POST /api/pools/{collection}/withdraw
func (h *PoolHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	h.mutate(w, r, "withdraw", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		to := caller
		if req.To != nil {
			to = *req.To
		}
		return nil, p.Withdraw(ctx, caller, to, req.TokenID)
	})
}

// Relist puts a position back on the market.
// POST /api/pools/{collection}/list
func (h *PoolHandler) Relist(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	h.mutate(w, r, "relist", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		return nil, p.RelistNFT(ctx, caller, req.TokenID)
	})
}

// Delist takes a position off the market.
// POST /api/pools/{collection}/delist
func (h *PoolHandler) Delist(w http.ResponseWriter, r *http.Request) {
	var req tokenRequest
	h.mutate(w, r, "delist", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		return nil, p.TakeNFTOffMarket(ctx, caller, req.TokenID)
	})
}

type openRequest struct {
	TokenID      uint64 `json:"token_id"`
	StrikeGapIdx uint8  `json:"strike_gap_idx"`
	DurationIdx  uint8  `json:"duration_idx"`
	Value        string `json:"value"`
}

// Open buys a call. "value" is the payment in wei, drawn from the caller's
// confirmed credit.
// POST /api/pools/{collection}/open
func (h *PoolHandler) Open(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	h.mutate(w, r, "open call", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		var q domain.Quote
		err := h.paid(ctx, caller, req.Value, func(value *uint256.Int) error {
			var err error
			q, err = p.OpenCall(ctx, caller, req.TokenID, req.StrikeGapIdx, req.DurationIdx, value)
			return err
		})
		if err != nil {
			return nil, err
		}
		m := quoteJSON(q)
		m["token_id"] = req.TokenID
		return m, nil
	})
}

type openBatchRequest struct {
	TokenIDs      []uint64 `json:"token_ids"`
	StrikeGapIdxs []uint8  `json:"strike_gap_idxs"`
	DurationIdxs  []uint8  `json:"duration_idxs"`
	Value         string   `json:"value"`
}

// OpenBatch buys several calls with one payment; refused entries are
// reported, not fatal.
// POST /api/pools/{collection}/open-batch
func (h *PoolHandler) OpenBatch(w http.ResponseWriter, r *http.Request) {
	var req openBatchRequest
	h.mutate(w, r, "open call batch", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		var results []pool.BatchResult
		err := h.paid(ctx, caller, req.Value, func(value *uint256.Int) error {
			var err error
			results, err = p.OpenCallBatch(ctx, caller, req.TokenIDs, req.StrikeGapIdxs, req.DurationIdxs, value)
			return err
		})
		if err != nil {
			return nil, err
		}
		out := make([]map[string]any, len(results))
		for i, res := range results {
			m := quoteJSON(res.Quote)
			m["token_id"] = res.TokenID
			m["opened"] = res.Err == nil
			if res.Err != nil {
				m["error"] = res.Err.Error()
				m["code"] = domain.ErrorCode(res.Err)
			}
			out[i] = m
		}
		return map[string]any{"results": out}, nil
	})
}

type exerciseRequest struct {
	TokenID uint64 `json:"token_id"`
	Value   string `json:"value"`
}

// Exercise buys the NFT at the strike price.
// POST /api/pools/{collection}/exercise
func (h *PoolHandler) Exercise(w http.ResponseWriter, r *http.Request) {
	var req exerciseRequest
	h.mutate(w, r, "exercise call", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		return nil, h.paid(ctx, caller, req.Value, func(value *uint256.Int) error {
			return p.ExerciseCall(ctx, caller, req.TokenID, value)
		})
	})
}

type withdrawETHRequest struct {
	To     *common.Address `json:"to,omitempty"`
	Amount string          `json:"amount"`
}

func (req withdrawETHRequest) target(caller common.Address) (common.Address, *uint256.Int, error) {
	to := caller
	if req.To != nil {
		to = *req.To
	}
	amount, err := parseWei(req.Amount)
	return to, amount, err
}

// WithdrawETH pays out of the caller's ledger balance.
// POST /api/pools/{collection}/withdraw-eth
func (h *PoolHandler) WithdrawETH(w http.ResponseWriter, r *http.Request) {
	var req withdrawETHRequest
	h.mutate(w, r, "withdraw eth", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		to, amount, err := req.target(caller)
		if err != nil {
			return nil, err
		}
		return nil, p.WithdrawETH(ctx, caller, to, amount)
	})
}

// Collect pays out of the protocol reserve. Registry owner only.
// POST /api/pools/{collection}/collect
func (h *PoolHandler) Collect(w http.ResponseWriter, r *http.Request) {
	var req withdrawETHRequest
	h.mutate(w, r, "collect protocol", &req, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		to, amount, err := req.target(caller)
		if err != nil {
			return nil, err
		}
		return nil, p.CollectProtocol(ctx, caller, to, amount)
	})
}

// Pause stops the pool. Registry owner only.
// POST /api/pools/{collection}/pause
func (h *PoolHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "pause", nil, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		return nil, p.Pause(ctx, caller)
	})
}

// Unpause resumes the pool. Registry owner only.
// POST /api/pools/{collection}/unpause
func (h *PoolHandler) Unpause(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, r, "unpause", nil, func(ctx context.Context, caller common.Address, p *pool.Pool) (any, error) {
		return nil, p.Unpause(ctx, caller)
	})
}
