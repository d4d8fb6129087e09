package middleware

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/crypto"
	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Signed request headers.
const (
	HeaderCaller    = "X-Caller"
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"
	// HeaderNonce is optional; it lets a caller sign two otherwise
	// identical requests within the same second.
	HeaderNonce = "X-Nonce"
)

const maxSignedBody = 1 << 20

type callerKey struct{}

// CallerFrom returns the verified caller of the request, if any.
func CallerFrom(ctx context.Context) (common.Address, bool) {
	addr, ok := ctx.Value(callerKey{}).(common.Address)
	return addr, ok
}

// WithCaller attaches a verified caller to ctx.
func WithCaller(ctx context.Context, addr common.Address) context.Context {
	return context.WithValue(ctx, callerKey{}, addr)
}

// Caller returns middleware that authenticates callers by their EIP-712
// request signature. Requests without a signature pass through anonymous;
// requests with a bad one are rejected. When nonces is non-nil a verified
// digest is accepted once per replay window.
func Caller(verifier *crypto.Verifier, nonces domain.NonceStore, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sig := r.Header.Get(HeaderSignature)
			if sig == "" {
				next.ServeHTTP(w, r)
				return
			}
			if !common.IsHexAddress(r.Header.Get(HeaderCaller)) {
				writeUnauthorized(w, "invalid "+HeaderCaller+" header")
				return
			}
			ts, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(HeaderTimestamp)), 10, 64)
			if err != nil {
				writeUnauthorized(w, "invalid "+HeaderTimestamp+" header")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeUnauthorized(w, "unreadable body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "INVALID_ARGUMENT", "request body too large")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			req := crypto.Request{
				Caller:    common.HexToAddress(r.Header.Get(HeaderCaller)),
				Method:    r.Method,
				Path:      r.URL.Path,
				Body:      body,
				Timestamp: ts,
				Nonce:     r.Header.Get(HeaderNonce),
			}
			if err := verifier.Verify(req, sig); err != nil {
				logger.WarnContext(r.Context(), "signature rejected",
					slog.String("caller", req.Caller.Hex()),
					slog.String("path", req.Path),
					slog.String("error", err.Error()),
				)
				msg := "invalid signature"
				if errors.Is(err, crypto.ErrStale) {
					msg = "stale request timestamp"
				}
				writeUnauthorized(w, msg)
				return
			}
			if nonces != nil {
				fresh, err := nonces.Claim(r.Context(), "sig:"+hex.EncodeToString(verifier.Digest(req)), verifier.ReplayWindow())
				if err != nil {
					logger.ErrorContext(r.Context(), "replay check failed",
						slog.String("caller", req.Caller.Hex()),
						slog.String("error", err.Error()),
					)
					writeError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "replay check unavailable")
					return
				}
				if !fresh {
					logger.WarnContext(r.Context(), "replayed request",
						slog.String("caller", req.Caller.Hex()),
						slog.String("path", req.Path),
					)
					writeUnauthorized(w, "replayed request")
					return
				}
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), req.Caller)))
		})
	}
}
