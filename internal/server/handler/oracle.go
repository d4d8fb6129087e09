package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/oracle"
)

// OracleService defines what the oracle handler needs from the service
// layer.
type OracleService interface {
	Oracle() *oracle.Oracle
	SetPrices(ctx context.Context, caller common.Address, prices map[common.Address]oracle.Slot) error
	BatchSet(ctx context.Context, caller common.Address, outer []uint64, entries [][]oracle.PriceInput) error
	AddAssets(ctx context.Context, caller common.Address, assets []common.Address) error
	ReplaceAsset(ctx context.Context, caller, old, replacement common.Address) error
	SetPause(ctx context.Context, caller common.Address, paused bool) error
}

// OracleHandler serves the price oracle endpoints.
type OracleHandler struct {
	oracle OracleService
	logger *slog.Logger
}

// NewOracleHandler creates an OracleHandler.
func NewOracleHandler(svc OracleService, logger *slog.Logger) *OracleHandler {
	return &OracleHandler{oracle: svc, logger: logger}
}

func assetJSON(p oracle.AssetPrice, idx oracle.Index) map[string]any {
	m := map[string]any{
		"asset": p.Asset.Hex(),
		"vol":   p.Vol,
		"outer": idx.Outer,
		"inner": idx.Inner,
	}
	amountFields(m, "price", p.Price)
	return m
}

// ListAssets returns every registered asset with its price.
// GET /api/oracle/assets
func (h *OracleHandler) ListAssets(w http.ResponseWriter, r *http.Request) {
	o := h.oracle.Oracle()
	assets := o.GetAddressList()
	prices, err := o.GetAssets(r.Context(), assets)
	if err != nil {
		writeDomainError(w, r, h.logger, "list assets", err)
		return
	}
	out := make([]map[string]any, len(prices))
	for i, p := range prices {
		out[i] = assetJSON(p, o.GetIndexes(p.Asset))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"assets":   out,
		"paused":   o.Paused(),
		"revision": o.Revision(),
		"owner":    o.Owner().Hex(),
		"operator": o.Operator().Hex(),
	})
}

// GetAsset returns one asset's price and volatility. Unregistered assets
// read as zero.
// GET /api/oracle/assets/{address}
func (h *OracleHandler) GetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := addressParam(r, "address")
	if err != nil {
		writeDomainError(w, r, h.logger, "get asset", err)
		return
	}
	o := h.oracle.Oracle()
	prices, err := o.GetAssets(r.Context(), []common.Address{asset})
	if err != nil {
		writeDomainError(w, r, h.logger, "get asset", err)
		return
	}
	writeJSON(w, http.StatusOK, assetJSON(prices[0], o.GetIndexes(asset)))
}

type addAssetsRequest struct {
	Assets []common.Address `json:"assets"`
}

// AddAssets registers assets. Owner only.
// POST /api/oracle/assets
func (h *OracleHandler) AddAssets(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req addAssetsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.oracle.AddAssets(r.Context(), caller, req.Assets); err != nil {
		writeDomainError(w, r, h.logger, "add assets", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"added": len(req.Assets)})
}

type replaceAssetRequest struct {
	Old common.Address `json:"old"`
	New common.Address `json:"new"`
}

// ReplaceAsset moves a slot to a new asset. Owner only.
// POST /api/oracle/assets/replace
func (h *OracleHandler) ReplaceAsset(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req replaceAssetRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.oracle.ReplaceAsset(r.Context(), caller, req.Old, req.New); err != nil {
		writeDomainError(w, r, h.logger, "replace asset", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replaced": req.Old.Hex(), "by": req.New.Hex()})
}

type priceEntry struct {
	Asset common.Address `json:"asset"`
	Price uint16         `json:"price"`
	Vol   uint16         `json:"vol"`
}

type bucketEntry struct {
	Outer   uint64 `json:"outer"`
	Entries []struct {
		Inner uint8  `json:"inner"`
		Price uint16 `json:"price"`
		Vol   uint16 `json:"vol"`
	} `json:"entries"`
}

type setPricesRequest struct {
	Prices  []priceEntry  `json:"prices,omitempty"`
	Buckets []bucketEntry `json:"buckets,omitempty"`
}

// SetPrices writes raw prices, either per asset or per bucket. Operator
// only.
// POST /api/oracle/prices
func (h *OracleHandler) SetPrices(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req setPricesRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if (len(req.Prices) == 0) == (len(req.Buckets) == 0) {
		writeError(w, http.StatusBadRequest, "exactly one of prices or buckets is required")
		return
	}

	var err error
	if len(req.Prices) > 0 {
		prices := make(map[common.Address]oracle.Slot, len(req.Prices))
		for _, p := range req.Prices {
			prices[p.Asset] = oracle.Slot{Price: p.Price, Vol: p.Vol}
		}
		err = h.oracle.SetPrices(r.Context(), caller, prices)
	} else {
		outer := make([]uint64, len(req.Buckets))
		entries := make([][]oracle.PriceInput, len(req.Buckets))
		for i, b := range req.Buckets {
			outer[i] = b.Outer
			for _, e := range b.Entries {
				entries[i] = append(entries[i], oracle.PriceInput{Inner: e.Inner, Price: e.Price, Vol: e.Vol})
			}
		}
		err = h.oracle.BatchSet(r.Context(), caller, outer, entries)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "set prices", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

type pauseRequest struct {
	Paused bool `json:"paused"`
}

// SetPause toggles the oracle pause. Emergency admins only.
// POST /api/oracle/pause
func (h *OracleHandler) SetPause(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	var req pauseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.oracle.SetPause(r.Context(), caller, req.Paused); err != nil {
		writeDomainError(w, r, h.logger, "set pause", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"paused": req.Paused})
}
