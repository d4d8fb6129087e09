// Package ws streams pool and oracle activity to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// relayed are the bus channels forwarded to clients; it also serves as the
// default subscription of a new client.
var relayed = []string{domain.PoolChannelPattern, domain.OracleChannel}

type outbound struct {
	channel string
	data    []byte
}

// Hub tracks connected clients and delivers each message to the clients
// subscribed to its channel. Run owns the client set; other goroutines talk
// to it through channels.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mode     string
	started  time.Time

	out  chan outbound
	join chan *client
	part chan *client
	done chan struct{}
}

// Config carries the hub's status metadata and the origins allowed to
// connect. An empty origin list allows all.
type Config struct {
	Mode           string
	StartedAt      time.Time
	AllowedOrigins []string
}

// NewHub creates a hub. With a nil bus only messages handed to Broadcast are
// delivered.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	h := &Hub{
		bus:     bus,
		logger:  logger.With(slog.String("component", "ws_hub")),
		mode:    orDefault(strings.ToLower(strings.TrimSpace(cfg.Mode)), "unknown"),
		started: cfg.StartedAt,
		out:     make(chan outbound, sendBufferSize),
		join:    make(chan *client),
		part:    make(chan *client),
		done:    make(chan struct{}),
	}
	if h.started.IsZero() {
		h.started = time.Now().UTC()
	}
	origins := cfg.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || len(origins) == 0 || slices.ContainsFunc(origins, func(o string) bool {
				return o == "*" || strings.EqualFold(o, origin)
			})
		},
	}
	return h
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// Broadcast queues payload for the subscribers of channel. A full queue
// drops the message rather than block the caller.
func (h *Hub) Broadcast(channel string, payload []byte) {
	select {
	case h.out <- outbound{channel: channel, data: payload}:
	default:
		h.logger.Warn("ws: outbound queue full, message dropped", slog.String("channel", channel))
	}
}

// Run serves the hub until ctx is cancelled, relaying bus traffic when a bus
// is configured.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		for _, ch := range relayed {
			go h.relay(ctx, ch)
		}
	}

	clients := make(map[*client]struct{})
	drop := func(c *client) {
		if _, ok := clients[c]; ok {
			delete(clients, c)
			c.close()
		}
	}
	for {
		select {
		case <-ctx.Done():
			for c := range clients {
				drop(c)
			}
			return ctx.Err()
		case c := <-h.join:
			clients[c] = struct{}{}
			h.logger.Info("ws: client joined", slog.Int("clients", len(clients)))
		case c := <-h.part:
			drop(c)
			h.logger.Info("ws: client left", slog.Int("clients", len(clients)))
		case msg := <-h.out:
			for c := range clients {
				if c.wants(msg.channel) && !c.enqueue(msg.data) {
					h.logger.Warn("ws: client too slow, message dropped", slog.String("channel", msg.channel))
				}
			}
		}
	}
}

// leave unregisters c unless the hub has already stopped.
func (h *Hub) leave(c *client) {
	select {
	case h.part <- c:
	case <-h.done:
	}
}

// relay forwards one bus subscription to Broadcast. Pattern subscriptions
// take the concrete channel from the message envelope.
func (h *Hub) relay(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: bus subscribe failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: relaying bus channel", slog.String("channel", channel))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription ended", slog.String("channel", channel))
				return
			}
			var env struct {
				Channel string `json:"channel"`
			}
			target := channel
			if json.Unmarshal(data, &env) == nil && env.Channel != "" {
				target = env.Channel
			}
			h.Broadcast(target, data)
		}
	}
}

// HandleWS upgrades the request and joins the client to the hub. The
// optional channels query (comma separated) replaces the default
// subscriptions.
// GET /ws?channels=pool:0xabc...,oracle
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	channels := newChannelSet(relayed...)
	if q := r.URL.Query().Get("channels"); q != "" {
		channels = newChannelSet(strings.Split(q, ",")...)
	}
	c := &client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		channels: channels,
	}

	// Queued before joining so it is the first frame the client sees.
	c.reply("hub_status", map[string]any{
		"mode":           h.mode,
		"uptime_seconds": max(int64(time.Since(h.started).Seconds()), 0),
		"channels":       c.subscriptions(),
	})
	select {
	case h.join <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writeLoop()
	go c.readLoop()
}
