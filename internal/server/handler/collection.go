package handler

import (
	"log/slog"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
)

// CollectionHandler serves the NFT collections the pools trade on.
type CollectionHandler struct {
	pools  PoolService
	logger *slog.Logger
}

// NewCollectionHandler creates a CollectionHandler.
func NewCollectionHandler(pools PoolService, logger *slog.Logger) *CollectionHandler {
	return &CollectionHandler{pools: pools, logger: logger}
}

type mintRequest struct {
	To      common.Address `json:"to"`
	TokenID uint64         `json:"token_id"`
}

// Mint creates a token. Registry owner only.
// POST /api/collections/{collection}/mint
func (h *CollectionHandler) Mint(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeDomainError(w, r, h.logger, "mint", err)
		return
	}
	var req mintRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.pools.Mint(r.Context(), caller, collection, req.To, req.TokenID); err != nil {
		writeDomainError(w, r, h.logger, "mint", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token_id": req.TokenID, "owner": req.To.Hex()})
}

type approveRequest struct {
	Operator common.Address `json:"operator"`
	Approved bool           `json:"approved"`
}

// Approve sets the caller's operator approval, typically for a pool.
// POST /api/collections/{collection}/approve
func (h *CollectionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	nft, err := h.pools.Collection(collection)
	if err == nil {
		err = nft.SetApprovalForAll(caller, req.Operator, req.Approved)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "approve", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"operator": req.Operator.Hex(), "approved": req.Approved})
}

type transferRequest struct {
	From    *common.Address `json:"from,omitempty"`
	To      common.Address  `json:"to"`
	TokenID uint64          `json:"token_id"`
}

// Transfer moves a token as its owner or an approved operator.
// POST /api/collections/{collection}/transfer
func (h *CollectionHandler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireCaller(w, r)
	if !ok {
		return
	}
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer", err)
		return
	}
	var req transferRequest
	if !decodeBody(w, r, &req) {
		return
	}
	from := caller
	if req.From != nil {
		from = *req.From
	}
	nft, err := h.pools.Collection(collection)
	if err == nil {
		err = nft.SafeTransferFrom(r.Context(), caller, from, req.To, req.TokenID)
	}
	if err != nil {
		writeDomainError(w, r, h.logger, "transfer", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token_id": req.TokenID, "owner": req.To.Hex()})
}

// Owner returns the owner of a token.
// GET /api/collections/{collection}/tokens/{id}
func (h *CollectionHandler) Owner(w http.ResponseWriter, r *http.Request) {
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeDomainError(w, r, h.logger, "owner of", err)
		return
	}
	id, err := tokenIDParam(r, "id")
	if err != nil {
		writeDomainError(w, r, h.logger, "owner of", err)
		return
	}
	nft, err := h.pools.Collection(collection)
	if err != nil {
		writeDomainError(w, r, h.logger, "owner of", err)
		return
	}
	owner, err := nft.OwnerOf(id)
	if err != nil {
		writeDomainError(w, r, h.logger, "owner of", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id": id,
		"owner":    owner.Hex(),
		"approved": nft.GetApproved(id).Hex(),
	})
}

// Holdings lists the tokens an account owns.
// GET /api/collections/{collection}/owners/{address}
func (h *CollectionHandler) Holdings(w http.ResponseWriter, r *http.Request) {
	collection, err := addressParam(r, "collection")
	if err != nil {
		writeDomainError(w, r, h.logger, "holdings", err)
		return
	}
	owner, err := addressParam(r, "address")
	if err != nil {
		writeDomainError(w, r, h.logger, "holdings", err)
		return
	}
	nft, err := h.pools.Collection(collection)
	if err != nil {
		writeDomainError(w, r, h.logger, "holdings", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"owner":  owner.Hex(),
		"tokens": nonNil(nft.TokensOf(owner)),
	})
}
