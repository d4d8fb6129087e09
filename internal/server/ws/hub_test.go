package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestChannelSubscriptions(t *testing.T) {
	c := &client{channels: newChannelSet("pool:*", "oracle")}
	tests := []struct {
		channel string
		want    bool
	}{
		{"pool:0xabc", true},
		{"oracle", true},
		{"oracles", false},
		{"other", false},
	}
	for _, tt := range tests {
		if got := c.wants(tt.channel); got != tt.want {
			t.Fatalf("%q: expected %v, got %v", tt.channel, tt.want, got)
		}
	}

	c.apply(command{Action: "unsubscribe", Channels: []string{"pool:*"}})
	c.apply(command{Action: "subscribe", Channels: []string{" POOL:0xABC "}})
	if !c.wants("pool:0xabc") || c.wants("pool:0xdef") {
		t.Fatalf("unexpected subscriptions %v", c.subscriptions())
	}
	if c.apply(command{Action: "replace", Channels: []string{"oracle"}}) {
		t.Fatal("unknown action should be rejected")
	}
}

func TestClosedClientRefusesMessages(t *testing.T) {
	c := &client{send: make(chan []byte, 1), channels: newChannelSet()}
	c.close()
	c.close()
	if c.enqueue([]byte("late")) {
		t.Fatal("closed client accepted a message")
	}
}

func TestHubRoutesByChannel(t *testing.T) {
	hub := NewHub(nil, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{Mode: "server"})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	srv := httptest.NewServer(httpHandler(hub))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?channels=pool:0xabc"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var status struct {
		Type    string `json:"type"`
		Payload struct {
			Mode     string   `json:"mode"`
			Channels []string `json:"channels"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&status); err != nil {
		t.Fatalf("read status: %v", err)
	}
	if status.Type != "hub_status" || status.Payload.Mode != "server" ||
		len(status.Payload.Channels) != 1 || status.Payload.Channels[0] != "pool:0xabc" {
		t.Fatalf("unexpected status %+v", status)
	}

	hub.Broadcast("oracle", []byte(`{"type":"oracle_update"}`))
	hub.Broadcast("pool:0xdef", []byte(`{"type":"other_pool"}`))
	hub.Broadcast("pool:0xabc", []byte(`{"type":"pool_event"}`))

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Type != "pool_event" {
		t.Fatalf("expected only the subscribed channel, got %s", got.Type)
	}

	if err := conn.WriteJSON(command{Action: "subscribe", Channels: []string{"oracle"}}); err != nil {
		t.Fatalf("write command: %v", err)
	}
	var ack struct {
		Type    string `json:"type"`
		Payload struct {
			Channels []string `json:"channels"`
		} `json:"payload"`
	}
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("read ack: %v", err)
	}
	if ack.Type != "subscriptions" || strings.Join(ack.Payload.Channels, ",") != "oracle,pool:0xabc" {
		t.Fatalf("unexpected ack %+v", ack)
	}
}

func httpHandler(h *Hub) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", h.HandleWS)
	return mux
}
