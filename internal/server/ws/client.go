package ws

import (
	"encoding/json"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// channelSet holds lower-cased channel names. An entry ending in "*" matches
// every channel with that prefix.
type channelSet map[string]struct{}

func normalizeChannel(ch string) string {
	return strings.ToLower(strings.TrimSpace(ch))
}

func newChannelSet(channels ...string) channelSet {
	s := make(channelSet, len(channels))
	for _, ch := range channels {
		if ch = normalizeChannel(ch); ch != "" {
			s[ch] = struct{}{}
		}
	}
	return s
}

func (s channelSet) matches(channel string) bool {
	if _, ok := s[channel]; ok {
		return true
	}
	for entry := range s {
		if prefix, wild := strings.CutSuffix(entry, "*"); wild && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

func (s channelSet) sorted() []string {
	out := make([]string, 0, len(s))
	for ch := range s {
		out = append(out, ch)
	}
	slices.Sort(out)
	return out
}

// command is what clients send to change their channels:
// {"action":"subscribe","channels":["pool:0xabc..."]}.
type command struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels channelSet
	closed   bool
}

// apply runs a subscription command. Unknown actions are rejected.
func (c *client) apply(cmd command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch cmd.Action {
	case "subscribe":
		for ch := range newChannelSet(cmd.Channels...) {
			c.channels[ch] = struct{}{}
		}
	case "unsubscribe":
		for ch := range newChannelSet(cmd.Channels...) {
			delete(c.channels, ch)
		}
	default:
		return false
	}
	return true
}

func (c *client) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels.matches(channel)
}

func (c *client) subscriptions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channels.sorted()
}

// enqueue hands msg to the writer without blocking and reports whether it
// was accepted.
func (c *client) enqueue(msg []byte) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// close ends the writer; later enqueues are refused.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// reply sends a hub-originated message to this client only.
func (c *client) reply(typ string, payload any) {
	msg, err := json.Marshal(map[string]any{"type": typ, "payload": payload})
	if err != nil {
		return
	}
	c.enqueue(msg)
}

// readLoop applies subscription commands until the connection drops, then
// unregisters the client.
func (c *client) readLoop() {
	defer func() {
		c.hub.leave(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: connection closed unexpectedly", slog.String("error", err.Error()))
			}
			return
		}
		var cmd command
		if err := json.Unmarshal(raw, &cmd); err != nil {
			c.reply("error", map[string]string{"error": "malformed command"})
			continue
		}
		if !c.apply(cmd) {
			c.reply("error", map[string]string{"error": "unknown action " + cmd.Action})
			continue
		}
		c.reply("subscriptions", map[string]any{"channels": c.subscriptions()})
	}
}

// writeLoop drains send into text frames and pings on an interval. A closed
// send channel ends the connection with a close frame.
func (c *client) writeLoop() {
	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	defer c.conn.Close()

	write := func(kind int, data []byte) error {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		return c.conn.WriteMessage(kind, data)
	}
	for {
		select {
		case msg, open := <-c.send:
			if !open {
				write(websocket.CloseMessage, nil)
				return
			}
			if err := write(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ping.C:
			if err := write(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
