package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// EventStore implements domain.EventStore. The full event is kept as JSONB;
// the indexed columns exist for filtering and reporting.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

func addrCol(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// Append inserts ev. Re-appending the same event id is a no-op.
func (s *EventStore) Append(ctx context.Context, ev domain.PoolEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %s: %w", ev.ID, err)
	}
	const q = `
		INSERT INTO pool_events (
			id, pool, collection, kind, token_id, actor,
			value_in, value_out, payload, occurred_at
		) VALUES (
			$1, $2, $3, $4, CAST($5::text AS NUMERIC), $6,
			CAST($7::text AS NUMERIC), CAST($8::text AS NUMERIC), $9, $10
		) ON CONFLICT (id) DO NOTHING`
	_, err = s.pool.Exec(ctx, q,
		ev.ID, addrCol(ev.Pool), addrCol(ev.Collection), string(ev.Kind),
		strconv.FormatUint(ev.TokenID, 10), addrCol(ev.Actor),
		domain.AmountString(ev.ValueIn), domain.AmountString(ev.ValueOut),
		payload, ev.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
	}
	return nil
}

// List returns events newest first, optionally for one collection.
func (s *EventStore) List(ctx context.Context, collection *common.Address, opts domain.ListOpts) ([]domain.PoolEvent, error) {
	var qb query
	if collection != nil {
		qb.where("collection = $%d", addrCol(*collection))
	}
	qb.timeRange("occurred_at", opts)
	sql, args := qb.build("SELECT payload FROM pool_events", "seq DESC", opts)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	return scanEvents(rows)
}

// ListBefore returns every event older than before in commit order.
func (s *EventStore) ListBefore(ctx context.Context, before time.Time) ([]domain.PoolEvent, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT payload FROM pool_events WHERE occurred_at < $1 ORDER BY seq ASC", before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events before %s: %w", before.Format(time.RFC3339), err)
	}
	return scanEvents(rows)
}

// DeleteBefore removes events older than before and returns how many.
func (s *EventStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM pool_events WHERE occurred_at < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete events before %s: %w", before.Format(time.RFC3339), err)
	}
	return tag.RowsAffected(), nil
}

func scanEvents(rows pgx.Rows) ([]domain.PoolEvent, error) {
	defer rows.Close()
	var events []domain.PoolEvent
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		var ev domain.PoolEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			return nil, fmt.Errorf("postgres: decode event: %w", err)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list events rows: %w", err)
	}
	return events, nil
}

var _ domain.EventStore = (*EventStore)(nil)
