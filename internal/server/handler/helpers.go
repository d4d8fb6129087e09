// Package handler implements the HTTP endpoints of the pool API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/server/middleware"
)

const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it to the response with the given
// HTTP status code. If marshaling fails, it falls back to a plain-text 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeDomainError maps a service error onto an HTTP status and a body
// carrying the stable error code. Unknown errors are logged and hidden.
func writeDomainError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed", slog.String("error", msg))
		msg = op + " failed"
	}
	body := map[string]any{"error": msg, "code": domain.ErrorCode(err)}
	var qe *domain.QuoteError
	if errors.As(err, &qe) {
		body["quote_error_code"] = uint8(qe.Code)
	}
	writeJSON(w, status, body)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrNotReceiptHolder):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidAddress), errors.Is(err, domain.ErrInvalidIndex),
		errors.Is(err, domain.ErrInvalidArgument), errors.Is(err, domain.ErrVolatilityOutOfRange),
		errors.Is(err, domain.ErrOverflow):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQuoteRejected), errors.Is(err, domain.ErrInsufficientPayment),
		errors.Is(err, domain.ErrInsufficientBalance), errors.Is(err, domain.ErrInsufficientCredit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrPaused), errors.Is(err, domain.ErrPositionNotAvailable),
		errors.Is(err, domain.ErrOptionStillLive), errors.Is(err, domain.ErrExerciseWindow),
		errors.Is(err, domain.ErrPoolExists), errors.Is(err, domain.ErrAssetExists),
		errors.Is(err, domain.ErrTokenExists), errors.Is(err, domain.ErrAlreadyInitialized),
		errors.Is(err, domain.ErrReentrant), errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrCreditExists):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// parseListOpts extracts standard pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	limit = min(limit, 500)

	offset := 0
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}

	return domain.ListOpts{
		Limit:  limit,
		Offset: offset,
	}
}

// pathParam extracts a named path parameter from the request using Go 1.22+
// built-in routing (http.Request.PathValue).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}

// parseAddress reads a hex address; the zero address is rejected.
func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q: %w", s, domain.ErrInvalidAddress)
	}
	a := common.HexToAddress(s)
	if a == (common.Address{}) {
		return a, fmt.Errorf("zero address: %w", domain.ErrInvalidAddress)
	}
	return a, nil
}

func addressParam(r *http.Request, name string) (common.Address, error) {
	return parseAddress(pathParam(r, name))
}

func tokenIDParam(r *http.Request, name string) (uint64, error) {
	id, err := strconv.ParseUint(pathParam(r, name), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid token id %q: %w", pathParam(r, name), domain.ErrInvalidArgument)
	}
	return id, nil
}

// decodeBody reads a JSON request body into v, rejecting unknown fields.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return false
	}
	return true
}

// requireCaller returns the signed caller or answers 401.
func requireCaller(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	caller, ok := middleware.CallerFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "signed request required")
		return common.Address{}, false
	}
	return caller, true
}

// parseWei parses an optional wei amount from a request body.
func parseWei(s string) (*uint256.Int, error) {
	return domain.ParseAmount(s)
}

// amountFields adds name and name_eth for x to m.
func amountFields(m map[string]any, name string, x *uint256.Int) {
	m[name] = domain.AmountString(x)
	m[name+"_eth"] = domain.FormatEther(x)
}

// callerOf returns the signed caller, or the zero address.
func callerOf(r *http.Request) (common.Address, bool) {
	return middleware.CallerFrom(r.Context())
}
