package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// EventKind names a pool state transition.
type EventKind string

const (
	EventDeposit         EventKind = "deposit"
	EventWithdraw        EventKind = "withdraw"
	EventOffMarket       EventKind = "off_market"
	EventRelist          EventKind = "relist"
	EventOpenCall        EventKind = "open_call"
	EventExerciseCall    EventKind = "exercise_call"
	EventWithdrawETH     EventKind = "withdraw_eth"
	EventCollectProtocol EventKind = "collect_protocol"
	EventPaused          EventKind = "paused"
	EventUnpaused        EventKind = "unpaused"
	// EventCredit moves attached value into a ledger with no other effect.
	EventCredit EventKind = "credit"
)

// Live event channels. Pool events go to PoolChannel(collection); oracle
// updates go to OracleChannel. PoolChannelPattern matches every pool
// channel. EventStream is the replayable stream of all pool events.
const (
	OracleChannel      = "oracle"
	PoolChannelPattern = "pool:*"
	EventStream        = "pool_events"
)

// PoolChannel names the live channel of one collection's pool events.
func PoolChannel(collection common.Address) string {
	return "pool:" + strings.ToLower(collection.Hex())
}

// LedgerEntry is a single credit or debit applied to a ledger account.
type LedgerEntry struct {
	Account common.Address
	Amount  *uint256.Int
}

// PoolEvent records one committed pool operation. Credits and Debits list
// every ledger movement, so replaying the event log reproduces all balances.
type PoolEvent struct {
	ID           string
	Pool         common.Address
	Collection   common.Address
	Kind         EventKind
	TokenID      uint64
	Actor        common.Address
	Counterparty common.Address

	// ValueIn is the payment attached to the call; ValueOut is what left the
	// pool through a payout.
	ValueIn  *uint256.Int
	ValueOut *uint256.Int

	StrikePrice      *uint256.Int
	PremiumToOwner   *uint256.Int
	PremiumToReserve *uint256.Int
	EndTime          uint64
	ExerciseTime     uint64

	Credits []LedgerEntry
	Debits  []LedgerEntry

	Timestamp time.Time
}

type ledgerEntryJSON struct {
	Account common.Address `json:"account"`
	Amount  string         `json:"amount"`
}

type poolEventJSON struct {
	ID               string            `json:"id"`
	Pool             common.Address    `json:"pool"`
	Collection       common.Address    `json:"collection"`
	Kind             EventKind         `json:"kind"`
	TokenID          uint64            `json:"token_id"`
	Actor            common.Address    `json:"actor"`
	Counterparty     common.Address    `json:"counterparty"`
	ValueIn          string            `json:"value_in"`
	ValueOut         string            `json:"value_out"`
	StrikePrice      string            `json:"strike_price"`
	PremiumToOwner   string            `json:"premium_to_owner"`
	PremiumToReserve string            `json:"premium_to_reserve"`
	EndTime          uint64            `json:"end_time,omitempty"`
	ExerciseTime     uint64            `json:"exercise_time,omitempty"`
	Credits          []ledgerEntryJSON `json:"credits,omitempty"`
	Debits           []ledgerEntryJSON `json:"debits,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}

// MarshalJSON encodes amounts as base-10 strings.
func (e PoolEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(poolEventJSON{
		ID:               e.ID,
		Pool:             e.Pool,
		Collection:       e.Collection,
		Kind:             e.Kind,
		TokenID:          e.TokenID,
		Actor:            e.Actor,
		Counterparty:     e.Counterparty,
		ValueIn:          AmountString(e.ValueIn),
		ValueOut:         AmountString(e.ValueOut),
		StrikePrice:      AmountString(e.StrikePrice),
		PremiumToOwner:   AmountString(e.PremiumToOwner),
		PremiumToReserve: AmountString(e.PremiumToReserve),
		EndTime:          e.EndTime,
		ExerciseTime:     e.ExerciseTime,
		Credits:          entriesToJSON(e.Credits),
		Debits:           entriesToJSON(e.Debits),
		Timestamp:        e.Timestamp,
	})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (e *PoolEvent) UnmarshalJSON(data []byte) error {
	var raw poolEventJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var err error
	if e.ValueIn, err = ParseAmount(raw.ValueIn); err != nil {
		return err
	}
	if e.ValueOut, err = ParseAmount(raw.ValueOut); err != nil {
		return err
	}
	if e.StrikePrice, err = ParseAmount(raw.StrikePrice); err != nil {
		return err
	}
	if e.PremiumToOwner, err = ParseAmount(raw.PremiumToOwner); err != nil {
		return err
	}
	if e.PremiumToReserve, err = ParseAmount(raw.PremiumToReserve); err != nil {
		return err
	}
	if e.Credits, err = entriesFromJSON(raw.Credits); err != nil {
		return err
	}
	if e.Debits, err = entriesFromJSON(raw.Debits); err != nil {
		return err
	}
	e.ID = raw.ID
	e.Pool = raw.Pool
	e.Collection = raw.Collection
	e.Kind = raw.Kind
	e.TokenID = raw.TokenID
	e.Actor = raw.Actor
	e.Counterparty = raw.Counterparty
	e.EndTime = raw.EndTime
	e.ExerciseTime = raw.ExerciseTime
	e.Timestamp = raw.Timestamp
	return nil
}

func entriesToJSON(in []LedgerEntry) []ledgerEntryJSON {
	if len(in) == 0 {
		return nil
	}
	out := make([]ledgerEntryJSON, len(in))
	for i, le := range in {
		out[i] = ledgerEntryJSON{Account: le.Account, Amount: AmountString(le.Amount)}
	}
	return out
}

func entriesFromJSON(in []ledgerEntryJSON) ([]LedgerEntry, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]LedgerEntry, len(in))
	for i, le := range in {
		amt, err := ParseAmount(le.Amount)
		if err != nil {
			return nil, fmt.Errorf("ledger entry %d: %w", i, err)
		}
		out[i] = LedgerEntry{Account: le.Account, Amount: amt}
	}
	return out, nil
}
