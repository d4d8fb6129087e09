// Package oracle implements the NFT price and volatility oracle. Assets are
// registered into a two-level index (outer bucket, inner slot 1..8) and the
// operator updates prices a bucket at a time.
package oracle

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Revision is the behaviour revision of this implementation. Callers compare
// it to detect upgrades.
const Revision uint64 = 0x1

const (
	// priceScale turns a raw price (hundredths of an ether) into wei.
	priceScale = 10_000_000_000_000_000
	// volScale gives the stored vol one implied decimal.
	volScale = 10
)

// Index locates an asset's slot. Inner is 1..8; 0 means unregistered.
type Index struct {
	Outer uint64
	Inner uint8
}

// PriceInput is one slot update inside a bucket.
type PriceInput struct {
	Inner uint8
	Price uint16
	Vol   uint16
}

// AssetPrice is a scaled read of one asset.
type AssetPrice struct {
	Asset common.Address
	Price *uint256.Int
	Vol   uint64
}

// Option configures an Oracle.
type Option func(*Oracle)

// WithRevision overrides the implementation revision, used when a newer
// implementation takes over an existing backend.
func WithRevision(rev uint64) Option {
	return func(o *Oracle) { o.revision = rev }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Oracle) { o.logger = l }
}

// WithAudit records administrative actions in an audit log.
func WithAudit(a domain.AuditStore) Option {
	return func(o *Oracle) { o.audit = a }
}

// Oracle is the price oracle. It is safe for concurrent use.
type Oracle struct {
	mu       sync.RWMutex
	backend  Backend
	revision uint64
	state    State
	index    map[common.Address]Index
	logger   *slog.Logger
	audit    domain.AuditStore
}

// New loads an oracle over backend. A fresh backend yields an uninitialised
// oracle that only accepts Initialize.
func New(ctx context.Context, backend Backend, opts ...Option) (*Oracle, error) {
	o := &Oracle{
		backend:  backend,
		revision: Revision,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(slog.String("component", "oracle"))

	st, err := backend.LoadState(ctx)
	if err != nil {
		return nil, fmt.Errorf("oracle: load state: %w", err)
	}
	o.setState(st.clone())
	return o, nil
}

// Initialize sets owner, operator and an initial asset list. It runs once
// per revision.
func (o *Oracle) Initialize(ctx context.Context, owner, operator common.Address, assets []common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.InitializedRevision >= o.revision {
		return fmt.Errorf("oracle: initialize revision %d: %w", o.revision, domain.ErrAlreadyInitialized)
	}
	if owner == (common.Address{}) || operator == (common.Address{}) {
		return fmt.Errorf("oracle: initialize: %w", domain.ErrInvalidAddress)
	}

	next := o.state.clone()
	next.Owner = owner
	next.Operator = operator
	next.InitializedRevision = o.revision
	if err := registerAssets(&next, assets); err != nil {
		return fmt.Errorf("oracle: initialize: %w", err)
	}
	if err := o.commit(ctx, next); err != nil {
		return err
	}
	o.logger.InfoContext(ctx, "oracle initialized",
		slog.Uint64("revision", o.revision),
		slog.String("owner", owner.Hex()),
		slog.String("operator", operator.Hex()),
		slog.Int("assets", len(next.Assets)),
	)
	o.record(ctx, "oracle.initialize", map[string]any{
		"revision": o.revision,
		"owner":    owner.Hex(),
		"operator": operator.Hex(),
	})
	return nil
}

// Revision returns the implementation revision.
func (o *Oracle) Revision() uint64 { return o.revision }

// Owner returns the administrator.
func (o *Oracle) Owner() common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Owner
}

// Operator returns the account allowed to push prices.
func (o *Oracle) Operator() common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Operator
}

// IsEmergencyAdmin reports whether addr may pause the oracle.
func (o *Oracle) IsEmergencyAdmin(addr common.Address) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.EmergencyAdmins[addr]
}

// Paused reports the emergency pause flag.
func (o *Oracle) Paused() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state.Paused
}

// AddAssets registers assets into the next free slots, in order.
func (o *Oracle) AddAssets(ctx context.Context, caller common.Address, assets []common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return fmt.Errorf("oracle: add assets: %w", err)
	}
	next := o.state.clone()
	if err := registerAssets(&next, assets); err != nil {
		return fmt.Errorf("oracle: add assets: %w", err)
	}
	if err := o.commit(ctx, next); err != nil {
		return err
	}
	o.record(ctx, "oracle.add_assets", map[string]any{"assets": hexList(assets)})
	return nil
}

// ReplaceAsset gives old's slot to replacement. The slot keeps its price
// until the operator next writes it.
func (o *Oracle) ReplaceAsset(ctx context.Context, caller common.Address, old, replacement common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return fmt.Errorf("oracle: replace asset: %w", err)
	}
	idx, ok := o.index[old]
	if !ok {
		return fmt.Errorf("oracle: replace asset %s: %w", old.Hex(), domain.ErrInvalidIndex)
	}
	if replacement == (common.Address{}) {
		return fmt.Errorf("oracle: replace asset: %w", domain.ErrInvalidAddress)
	}
	if _, exists := o.index[replacement]; exists {
		return fmt.Errorf("oracle: replace asset %s: %w", replacement.Hex(), domain.ErrAssetExists)
	}

	next := o.state.clone()
	next.Assets[position(idx)] = replacement
	if err := o.commit(ctx, next); err != nil {
		return err
	}
	o.record(ctx, "oracle.replace_asset", map[string]any{
		"old": old.Hex(),
		"new": replacement.Hex(),
	})
	return nil
}

// BatchSetAssetPrice writes prices for the listed inner slots of each outer
// bucket. entries[i] belongs to outer[i]; every touched bucket is stored in
// a single backend write.
func (o *Oracle) BatchSetAssetPrice(ctx context.Context, caller common.Address, outer []uint64, entries [][]PriceInput) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if caller != o.state.Operator || caller == (common.Address{}) {
		return fmt.Errorf("oracle: batch set price: caller is not the operator: %w", domain.ErrUnauthorized)
	}
	if o.state.Paused {
		return fmt.Errorf("oracle: batch set price: %w", domain.ErrPaused)
	}
	if len(outer) != len(entries) {
		return fmt.Errorf("oracle: batch set price: %d buckets, %d entry lists: %w",
			len(outer), len(entries), domain.ErrInvalidArgument)
	}
	if len(outer) == 0 {
		return nil
	}

	buckets := uint64(len(o.state.Assets)+SlotsPerBucket-1) / SlotsPerBucket
	for i, ob := range outer {
		if ob >= buckets {
			return fmt.Errorf("oracle: batch set price: outer index %d: %w", ob, domain.ErrInvalidIndex)
		}
		for _, in := range entries[i] {
			if in.Inner == 0 || in.Inner > SlotsPerBucket {
				return fmt.Errorf("oracle: batch set price: inner index %d: %w", in.Inner, domain.ErrInvalidIndex)
			}
		}
	}

	current, err := o.backend.LoadBuckets(ctx, outer)
	if err != nil {
		return fmt.Errorf("oracle: load buckets: %w", err)
	}
	for i, ob := range outer {
		b := current[ob]
		for _, in := range entries[i] {
			b[in.Inner-1] = Slot{Price: in.Price, Vol: in.Vol}
		}
		current[ob] = b
	}
	if err := o.backend.SaveBuckets(ctx, current); err != nil {
		return fmt.Errorf("oracle: save buckets: %w", err)
	}

	o.logger.DebugContext(ctx, "prices updated", slog.Int("buckets", len(outer)))
	return nil
}

// GetAssetPrice returns the asset price in wei; zero when unregistered.
func (o *Oracle) GetAssetPrice(ctx context.Context, asset common.Address) (*uint256.Int, error) {
	p, _, err := o.GetAsset(ctx, asset)
	return p, err
}

// GetAssetVol returns the asset volatility with one implied decimal.
func (o *Oracle) GetAssetVol(ctx context.Context, asset common.Address) (uint64, error) {
	_, v, err := o.GetAsset(ctx, asset)
	return v, err
}

// GetAsset returns both price and volatility.
func (o *Oracle) GetAsset(ctx context.Context, asset common.Address) (*uint256.Int, uint64, error) {
	res, err := o.GetAssets(ctx, []common.Address{asset})
	if err != nil {
		return nil, 0, err
	}
	return res[0].Price, res[0].Vol, nil
}

// GetAssets is the batch form of GetAsset, preserving input order.
func (o *Oracle) GetAssets(ctx context.Context, assets []common.Address) ([]AssetPrice, error) {
	o.mu.RLock()
	idx := make([]Index, len(assets))
	seen := make(map[uint64]struct{})
	var outer []uint64
	for i, a := range assets {
		idx[i] = o.index[a]
		if idx[i].Inner == 0 {
			continue
		}
		if _, ok := seen[idx[i].Outer]; !ok {
			seen[idx[i].Outer] = struct{}{}
			outer = append(outer, idx[i].Outer)
		}
	}
	o.mu.RUnlock()

	buckets := map[uint64]Bucket{}
	if len(outer) > 0 {
		var err error
		if buckets, err = o.backend.LoadBuckets(ctx, outer); err != nil {
			return nil, fmt.Errorf("oracle: load buckets: %w", err)
		}
	}

	out := make([]AssetPrice, len(assets))
	for i, a := range assets {
		out[i] = AssetPrice{Asset: a, Price: new(uint256.Int)}
		if idx[i].Inner == 0 {
			continue
		}
		slot := buckets[idx[i].Outer][idx[i].Inner-1]
		out[i].Price = new(uint256.Int).Mul(uint256.NewInt(uint64(slot.Price)), uint256.NewInt(priceScale))
		out[i].Vol = uint64(slot.Vol) * volScale
	}
	return out, nil
}

// GetIndexes returns the asset's slot; the zero Index when unregistered.
func (o *Oracle) GetIndexes(asset common.Address) Index {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.index[asset]
}

// GetAddressList returns registered assets in slot order.
func (o *Oracle) GetAddressList() []common.Address {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]common.Address, len(o.state.Assets))
	copy(out, o.state.Assets)
	return out
}

// SetOperator replaces the price operator.
func (o *Oracle) SetOperator(ctx context.Context, caller, operator common.Address) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return fmt.Errorf("oracle: set operator: %w", err)
	}
	if operator == (common.Address{}) {
		return fmt.Errorf("oracle: invalid operator: %w", domain.ErrInvalidAddress)
	}
	next := o.state.clone()
	next.Operator = operator
	if err := o.commit(ctx, next); err != nil {
		return err
	}
	o.record(ctx, "oracle.set_operator", map[string]any{"operator": operator.Hex()})
	return nil
}

// SetEmergencyAdmin grants or revokes the right to pause.
func (o *Oracle) SetEmergencyAdmin(ctx context.Context, caller, admin common.Address, enabled bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if err := o.onlyOwner(caller); err != nil {
		return fmt.Errorf("oracle: set emergency admin: %w", err)
	}
	if admin == (common.Address{}) {
		return fmt.Errorf("oracle: invalid admin: %w", domain.ErrInvalidAddress)
	}
	next := o.state.clone()
	if enabled {
		next.EmergencyAdmins[admin] = true
	} else {
		delete(next.EmergencyAdmins, admin)
	}
	if err := o.commit(ctx, next); err != nil {
		return err
	}
	o.record(ctx, "oracle.set_emergency_admin", map[string]any{
		"admin":   admin.Hex(),
		"enabled": enabled,
	})
	return nil
}

// SetPause toggles the emergency pause. Only emergency admins may call it.
func (o *Oracle) SetPause(ctx context.Context, caller common.Address, paused bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.state.EmergencyAdmins[caller] {
		return fmt.Errorf("oracle: caller is not the emergencyAdmin: %w", domain.ErrUnauthorized)
	}
	next := o.state.clone()
	next.Paused = paused
	if err := o.commit(ctx, next); err != nil {
		return err
	}
	o.logger.WarnContext(ctx, "oracle pause changed",
		slog.Bool("paused", paused),
		slog.String("by", caller.Hex()),
	)
	o.record(ctx, "oracle.set_pause", map[string]any{"paused": paused, "by": caller.Hex()})
	return nil
}

func (o *Oracle) onlyOwner(caller common.Address) error {
	if o.state.InitializedRevision == 0 || caller != o.state.Owner {
		return fmt.Errorf("caller is not the owner: %w", domain.ErrUnauthorized)
	}
	return nil
}

// commit persists next and swaps it in. Must hold o.mu.
func (o *Oracle) commit(ctx context.Context, next State) error {
	if err := o.backend.SaveState(ctx, next); err != nil {
		return fmt.Errorf("oracle: save state: %w", err)
	}
	o.setState(next)
	return nil
}

func (o *Oracle) setState(st State) {
	if st.EmergencyAdmins == nil {
		st.EmergencyAdmins = make(map[common.Address]bool)
	}
	o.state = st
	o.index = make(map[common.Address]Index, len(st.Assets))
	for p, a := range st.Assets {
		o.index[a] = indexOf(p)
	}
}

func (o *Oracle) record(ctx context.Context, event string, detail map[string]any) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Log(ctx, event, detail); err != nil {
		o.logger.ErrorContext(ctx, "audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

func registerAssets(st *State, assets []common.Address) error {
	seen := make(map[common.Address]struct{}, len(st.Assets)+len(assets))
	for _, a := range st.Assets {
		seen[a] = struct{}{}
	}
	for _, a := range assets {
		if a == (common.Address{}) {
			return domain.ErrInvalidAddress
		}
		if _, dup := seen[a]; dup {
			return fmt.Errorf("%s: %w", a.Hex(), domain.ErrAssetExists)
		}
		seen[a] = struct{}{}
		st.Assets = append(st.Assets, a)
	}
	return nil
}

func indexOf(pos int) Index {
	return Index{Outer: uint64(pos / SlotsPerBucket), Inner: uint8(pos%SlotsPerBucket) + 1}
}

func position(idx Index) int {
	return int(idx.Outer)*SlotsPerBucket + int(idx.Inner) - 1
}

// GroupByBucket arranges per-asset prices into the outer/entries shape of
// BatchSetAssetPrice, with outer indexes ascending. Unregistered assets are
// reported with ErrInvalidIndex.
func (o *Oracle) GroupByBucket(prices map[common.Address]Slot) ([]uint64, [][]PriceInput, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	grouped := make(map[uint64][]PriceInput)
	for a, s := range prices {
		idx, ok := o.index[a]
		if !ok {
			return nil, nil, fmt.Errorf("oracle: %s: %w", a.Hex(), domain.ErrInvalidIndex)
		}
		grouped[idx.Outer] = append(grouped[idx.Outer], PriceInput{Inner: idx.Inner, Price: s.Price, Vol: s.Vol})
	}
	outer := make([]uint64, 0, len(grouped))
	for ob := range grouped {
		outer = append(outer, ob)
	}
	sort.Slice(outer, func(i, j int) bool { return outer[i] < outer[j] })
	entries := make([][]PriceInput, len(outer))
	for i, ob := range outer {
		in := grouped[ob]
		sort.Slice(in, func(a, b int) bool { return in[a].Inner < in[b].Inner })
		entries[i] = in
	}
	return outer, entries, nil
}

func hexList(addrs []common.Address) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = a.Hex()
	}
	return out
}

var _ domain.PriceSource = (*Oracle)(nil)
