// Package memory holds in-process stores used when no database is
// configured and in tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// EventStore keeps pool events in commit order.
type EventStore struct {
	mu     sync.RWMutex
	events []domain.PoolEvent
	seen   map[string]bool
}

func NewEventStore() *EventStore {
	return &EventStore{seen: make(map[string]bool)}
}

func (s *EventStore) Append(_ context.Context, ev domain.PoolEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.seen[ev.ID] {
		return nil
	}
	s.seen[ev.ID] = true
	s.events = append(s.events, ev)
	return nil
}

// List returns events newest first.
func (s *EventStore) List(_ context.Context, collection *common.Address, opts domain.ListOpts) ([]domain.PoolEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PoolEvent
	for i := len(s.events) - 1; i >= 0; i-- {
		ev := s.events[i]
		if collection != nil && ev.Collection != *collection {
			continue
		}
		if opts.Since != nil && ev.Timestamp.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && ev.Timestamp.After(*opts.Until) {
			continue
		}
		out = append(out, ev)
	}
	return page(out, opts), nil
}

func (s *EventStore) ListBefore(_ context.Context, before time.Time) ([]domain.PoolEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PoolEvent
	for _, ev := range s.events {
		if ev.Timestamp.Before(before) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *EventStore) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.events)
	s.events = slices.DeleteFunc(s.events, func(ev domain.PoolEvent) bool {
		return ev.Timestamp.Before(before)
	})
	return int64(n - len(s.events)), nil
}

// AuditStore keeps audit entries in memory.
type AuditStore struct {
	mu      sync.RWMutex
	entries []domain.AuditEntry
}

func NewAuditStore() *AuditStore { return &AuditStore{} }

func (s *AuditStore) Log(_ context.Context, event string, detail map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, domain.AuditEntry{
		ID:        int64(len(s.entries) + 1),
		Event:     event,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	})
	return nil
}

// List returns entries newest first.
func (s *AuditStore) List(_ context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := slices.Clone(s.entries)
	slices.Reverse(out)
	return page(out, opts), nil
}

// PayoutStore keeps the payout queue in memory.
type PayoutStore struct {
	mu      sync.Mutex
	records []domain.PayoutRecord
}

func NewPayoutStore() *PayoutStore { return &PayoutStore{} }

func (s *PayoutStore) Create(_ context.Context, rec domain.PayoutRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec.Status == "" {
		rec.Status = domain.PayoutPending
	}
	s.records = append(s.records, rec)
	return nil
}

func (s *PayoutStore) ListPending(_ context.Context, limit int) ([]domain.PayoutRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.PayoutRecord
	for _, r := range s.records {
		if r.Status == domain.PayoutPending {
			out = append(out, r)
			if limit > 0 && len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (s *PayoutStore) MarkSent(_ context.Context, id string, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.records {
		if s.records[i].ID == id && s.records[i].Status == domain.PayoutPending {
			s.records[i].Status = domain.PayoutSent
			s.records[i].TxHash = txHash
			return nil
		}
	}
	return fmt.Errorf("memory: payout %s: %w", id, domain.ErrNotFound)
}

func page[T any](in []T, opts domain.ListOpts) []T {
	if opts.Offset >= len(in) {
		return nil
	}
	in = in[opts.Offset:]
	if opts.Limit > 0 && opts.Limit < len(in) {
		in = in[:opts.Limit]
	}
	return in
}

var (
	_ domain.EventStore  = (*EventStore)(nil)
	_ domain.AuditStore  = (*AuditStore)(nil)
	_ domain.PayoutStore = (*PayoutStore)(nil)
)
