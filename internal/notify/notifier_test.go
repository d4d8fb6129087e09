package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

type stubSender struct {
	name   string
	err    error
	titles []string
}

func (s *stubSender) Send(_ context.Context, title, _ string) error {
	s.titles = append(s.titles, title)
	return s.err
}

func (s *stubSender) Name() string { return s.name }

func TestNotifierFilterAndFanOut(t *testing.T) {
	ok := &stubSender{name: "ok"}
	bad := &stubSender{name: "bad", err: errors.New("down")}
	n := NewNotifier([]Sender{bad, ok}, []string{"open_call", " exercise_call"}, nil)

	if err := n.Notify(context.Background(), "deposit", "t", "m"); err != nil {
		t.Fatalf("filtered event should not fail: %v", err)
	}
	if len(ok.titles) != 0 {
		t.Fatal("filtered event should not be sent")
	}

	err := n.Notify(context.Background(), "exercise_call", "t", "m")
	if err == nil || !strings.Contains(err.Error(), "bad") {
		t.Fatalf("expected failing sender in error, got %v", err)
	}
	if len(ok.titles) != 1 {
		t.Fatal("a failing sender must not block the others")
	}
}

func TestDescribeOpenCall(t *testing.T) {
	ev := domain.PoolEvent{
		Kind:             domain.EventOpenCall,
		Collection:       common.HexToAddress("0x00000000000000000000000000000000000000c0"),
		TokenID:          7,
		StrikePrice:      new(uint256.Int).Mul(uint256.NewInt(13), domain.Ether),
		PremiumToOwner:   uint256.NewInt(450_000_000_000_000_000),
		PremiumToReserve: uint256.NewInt(50_000_000_000_000_000),
		EndTime:          1_700_000_000,
	}
	title, msg := Describe(ev)
	if !strings.Contains(title, "#7") {
		t.Fatalf("unexpected title %q", title)
	}
	for _, want := range []string{"strike 13 ETH", "0.45 ETH (owner)", "0.05 ETH (reserve)", "2023-11-14T22:13:20Z"} {
		if !strings.Contains(msg, want) {
			t.Fatalf("message %q missing %q", msg, want)
		}
	}
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/botTOKEN/sendMessage" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	s := NewTelegramSender("TOKEN", "42")
	s.apiBase = srv.URL
	if err := s.Send(context.Background(), "Title", "body"); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got["chat_id"] != "42" || got["text"] != "*Title*\nbody" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestDiscordSenderStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad webhook"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	if err == nil || !strings.Contains(err.Error(), "400") {
		t.Fatalf("expected status error, got %v", err)
	}
}
