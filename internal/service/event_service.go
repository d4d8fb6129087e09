package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
	"github.com/NFTCall-xyz/nftcall-core/internal/notify"
)

const notifyQueueSize = 256

// EventService is the pool event sink. Every committed event is persisted,
// appended to the replay stream, fanned out live and queued for
// notification.
type EventService struct {
	store    domain.EventStore
	bus      domain.SignalBus
	out      fanout
	notifier *notify.Notifier
	queue    chan domain.PoolEvent
	logger   *slog.Logger
}

// NewEventService builds the sink. bus, hub and notifier may be nil.
func NewEventService(
	store domain.EventStore,
	bus domain.SignalBus,
	hub Broadcaster,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *EventService {
	logger = logger.With(slog.String("component", "event_service"))
	return &EventService{
		store:    store,
		bus:      bus,
		out:      fanout{bus: bus, hub: hub, logger: logger},
		notifier: notifier,
		queue:    make(chan domain.PoolEvent, notifyQueueSize),
		logger:   logger,
	}
}

// Publish implements domain.EventSink. The pool has already committed, so
// failures here are logged rather than returned.
func (s *EventService) Publish(ctx context.Context, ev domain.PoolEvent) {
	ctx = context.WithoutCancel(ctx)

	if err := s.store.Append(ctx, ev); err != nil {
		s.logger.ErrorContext(ctx, "persist event failed",
			slog.String("event_id", ev.ID),
			slog.String("kind", string(ev.Kind)),
			slog.String("error", err.Error()),
		)
	}

	channel := domain.PoolChannel(ev.Collection)
	payload, err := json.Marshal(map[string]any{"type": "pool_event", "channel": channel, "payload": ev})
	if err != nil {
		s.logger.ErrorContext(ctx, "encode event failed", slog.String("error", err.Error()))
		return
	}
	if s.bus != nil {
		if err := s.bus.StreamAppend(ctx, domain.EventStream, payload); err != nil {
			s.logger.WarnContext(ctx, "stream append failed", slog.String("error", err.Error()))
		}
	}
	s.out.send(ctx, channel, payload)

	if s.notifier == nil || !s.notifier.Enabled() {
		return
	}
	select {
	case s.queue <- ev:
	default:
		s.logger.WarnContext(ctx, "notification queue full, dropping event",
			slog.String("event_id", ev.ID),
		)
	}
}

const (
	defaultReplayCount = 100
	maxReplayCount     = 1000
)

// Replay reads the event stream after the given entry id ("0" or empty for
// the start). Without a bus there is no stream to read.
func (s *EventService) Replay(ctx context.Context, after string, count int) ([]domain.StreamMessage, error) {
	if s.bus == nil {
		return nil, fmt.Errorf("event replay: no stream configured: %w", domain.ErrNotFound)
	}
	if after == "" {
		after = "0"
	}
	switch {
	case count <= 0:
		count = defaultReplayCount
	case count > maxReplayCount:
		count = maxReplayCount
	}
	msgs, err := s.bus.StreamRead(ctx, domain.EventStream, after, count)
	if err != nil {
		return nil, fmt.Errorf("event replay: %w", err)
	}
	return msgs, nil
}

// Run delivers queued notifications until ctx ends.
func (s *EventService) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.queue:
			if s.notifier == nil {
				continue
			}
			if err := s.notifier.PoolEvent(ctx, ev); err != nil {
				s.logger.WarnContext(ctx, "notify failed",
					slog.String("event_id", ev.ID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

var _ domain.EventSink = (*EventService)(nil)
