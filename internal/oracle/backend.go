package oracle

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SlotsPerBucket is the number of assets sharing one price bucket.
const SlotsPerBucket = 8

// Slot is the raw price entry of one asset. Price is in hundredths of an
// ether, Vol is a percentage.
type Slot struct {
	Price uint16 `json:"p"`
	Vol   uint16 `json:"v"`
}

// Bucket holds the slots of one outer index; slot i belongs to inner index
// i+1.
type Bucket [SlotsPerBucket]Slot

// State is the administrative and registration state of an oracle.
type State struct {
	Owner               common.Address          `json:"owner"`
	Operator            common.Address          `json:"operator"`
	EmergencyAdmins     map[common.Address]bool `json:"emergency_admins"`
	Paused              bool                    `json:"paused"`
	InitializedRevision uint64                  `json:"initialized_revision"`
	// Assets lists registered assets in slot order: position p maps to
	// outer p/8, inner p%8+1.
	Assets []common.Address `json:"assets"`
}

func (s State) clone() State {
	out := s
	out.EmergencyAdmins = maps.Clone(s.EmergencyAdmins)
	if out.EmergencyAdmins == nil {
		out.EmergencyAdmins = make(map[common.Address]bool)
	}
	out.Assets = slices.Clone(s.Assets)
	return out
}

// Backend is the storage capability an oracle runs on. Implementations must
// persist each bucket as a unit so that one write updates all of its slots.
type Backend interface {
	LoadState(ctx context.Context) (State, error)
	SaveState(ctx context.Context, st State) error
	LoadBuckets(ctx context.Context, outer []uint64) (map[uint64]Bucket, error)
	SaveBuckets(ctx context.Context, buckets map[uint64]Bucket) error
}

// MemoryBackend keeps oracle state in process memory.
type MemoryBackend struct {
	mu      sync.RWMutex
	state   State
	buckets map[uint64]Bucket
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{buckets: make(map[uint64]Bucket)}
}

func (m *MemoryBackend) LoadState(_ context.Context) (State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state.clone(), nil
}

func (m *MemoryBackend) SaveState(_ context.Context, st State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = st.clone()
	return nil
}

// LoadBuckets returns the requested buckets; missing buckets are zero.
func (m *MemoryBackend) LoadBuckets(_ context.Context, outer []uint64) (map[uint64]Bucket, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[uint64]Bucket, len(outer))
	for _, o := range outer {
		out[o] = m.buckets[o]
	}
	return out, nil
}

func (m *MemoryBackend) SaveBuckets(_ context.Context, buckets map[uint64]Bucket) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for o, b := range buckets {
		m.buckets[o] = b
	}
	return nil
}

var _ Backend = (*MemoryBackend)(nil)
