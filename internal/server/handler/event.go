package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// EventReader is the read side of the pool event log.
type EventReader interface {
	List(ctx context.Context, collection *common.Address, opts domain.ListOpts) ([]domain.PoolEvent, error)
}

// EventReplayer reads the durable event stream.
type EventReplayer interface {
	Replay(ctx context.Context, after string, count int) ([]domain.StreamMessage, error)
}

// EventHandler serves the pool event log.
type EventHandler struct {
	events EventReader
	replay EventReplayer
	logger *slog.Logger
}

// NewEventHandler creates an EventHandler.
func NewEventHandler(events EventReader, logger *slog.Logger) *EventHandler {
	return &EventHandler{events: events, logger: logger}
}

// WithReplay enables the stream replay route.
func (h *EventHandler) WithReplay(r EventReplayer) *EventHandler {
	h.replay = r
	return h
}

// ListEvents returns pool events, newest first.
// GET /api/events?collection=0x...&limit=50&offset=0
func (h *EventHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)
	var collection *common.Address
	if v := r.URL.Query().Get("collection"); v != "" {
		addr, err := parseAddress(v)
		if err != nil {
			writeDomainError(w, r, h.logger, "list events", err)
			return
		}
		collection = &addr
	}
	events, err := h.events.List(r.Context(), collection, opts)
	if err != nil {
		writeDomainError(w, r, h.logger, "list events", err)
		return
	}
	if events == nil {
		events = []domain.PoolEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"limit":  opts.Limit,
		"offset": opts.Offset,
	})
}

type streamEntry struct {
	ID      string          `json:"id"`
	Message json.RawMessage `json:"message"`
}

// ReplayEvents returns raw stream entries after a stream id so clients can
// catch up on what they missed while disconnected.
// GET /api/events/stream?after=1700000000000-0&count=100
func (h *EventHandler) ReplayEvents(w http.ResponseWriter, r *http.Request) {
	if h.replay == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream is not configured")
		return
	}
	q := r.URL.Query()
	count, _ := strconv.Atoi(q.Get("count"))
	msgs, err := h.replay.Replay(r.Context(), q.Get("after"), count)
	if err != nil {
		writeDomainError(w, r, h.logger, "replay events", err)
		return
	}
	entries := make([]streamEntry, 0, len(msgs))
	next := q.Get("after")
	for _, m := range msgs {
		entries = append(entries, streamEntry{ID: m.ID, Message: m.Payload})
		next = m.ID
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"next":    next,
	})
}
