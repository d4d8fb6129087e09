// Package service glues the pool, oracle and payout core to persistence,
// live fan-out and notifications.
package service

import (
	"context"
	"log/slog"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Broadcaster delivers a payload to live subscribers of channel.
type Broadcaster interface {
	Broadcast(channel string, payload []byte)
}

// fanout sends live updates over the signal bus when one is configured;
// the websocket hub then receives them through its bus subscription.
// Without a bus, updates go straight to the hub.
type fanout struct {
	bus    domain.SignalBus
	hub    Broadcaster
	logger *slog.Logger
}

func (f fanout) send(ctx context.Context, channel string, payload []byte) {
	switch {
	case f.bus != nil:
		if err := f.bus.Publish(ctx, channel, payload); err != nil {
			f.logger.WarnContext(ctx, "publish failed",
				slog.String("channel", channel),
				slog.String("error", err.Error()),
			)
		}
	case f.hub != nil:
		f.hub.Broadcast(channel, payload)
	}
}
