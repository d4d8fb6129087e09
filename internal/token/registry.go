// Package token is an enumerable non-fungible ownership registry. The pool
// uses it for deposit receipts and option rights; the daemon also uses it to
// mirror the underlying NFT collections it takes custody of.
package token

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// Receiver is notified when a token arrives through SafeTransferFrom. A
// non-nil error aborts the transfer.
type Receiver interface {
	OnTokenReceived(ctx context.Context, operator, from common.Address, id uint64) error
}

// Option configures a Registry.
type Option func(*Registry)

// WithExpiry makes tokens minted through MintExpiring disappear once the
// clock passes their expiry.
func WithExpiry(clock domain.Clock) Option {
	return func(r *Registry) { r.clock = clock }
}

// Registry tracks token ownership. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	name      string
	clock     domain.Clock
	owners    map[uint64]common.Address
	expiry    map[uint64]uint64
	approvals map[uint64]common.Address
	operators map[common.Address]map[common.Address]bool
	receivers map[common.Address]Receiver
	all       []uint64
	owned     map[common.Address][]uint64
}

// NewRegistry returns an empty registry.
func NewRegistry(name string, opts ...Option) *Registry {
	r := &Registry{
		name:      name,
		owners:    make(map[uint64]common.Address),
		expiry:    make(map[uint64]uint64),
		approvals: make(map[uint64]common.Address),
		operators: make(map[common.Address]map[common.Address]bool),
		receivers: make(map[common.Address]Receiver),
		owned:     make(map[common.Address][]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// RegisterReceiver installs the hook SafeTransferFrom calls for addr.
func (r *Registry) RegisterReceiver(addr common.Address, recv Receiver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receivers[addr] = recv
}

// Mint creates token id for to. A token that exists but has expired is
// replaced.
func (r *Registry) Mint(ctx context.Context, to common.Address, id uint64) error {
	return r.MintExpiring(ctx, to, id, 0)
}

// MintExpiring mints a token that stops existing after expiresAt (unix
// seconds). Zero never expires.
func (r *Registry) MintExpiring(_ context.Context, to common.Address, id uint64, expiresAt uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if to == (common.Address{}) {
		return fmt.Errorf("%s: mint to zero address: %w", r.name, domain.ErrInvalidAddress)
	}
	if _, ok := r.owners[id]; ok {
		if r.live(id) {
			return fmt.Errorf("%s: token %d: %w", r.name, id, domain.ErrTokenExists)
		}
		r.remove(id)
	}
	r.owners[id] = to
	if expiresAt != 0 {
		r.expiry[id] = expiresAt
	}
	r.all = append(r.all, id)
	r.owned[to] = append(r.owned[to], id)
	return nil
}

// Burn destroys token id, expired or not.
func (r *Registry) Burn(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.owners[id]; !ok {
		return fmt.Errorf("%s: burn token %d: %w", r.name, id, domain.ErrNotFound)
	}
	r.remove(id)
	return nil
}

// Exists reports whether a live token id exists.
func (r *Registry) Exists(id uint64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.owners[id]
	return ok && r.live(id)
}

// OwnerOf returns the owner of a live token.
func (r *Registry) OwnerOf(id uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[id]
	if !ok || !r.live(id) {
		return common.Address{}, fmt.Errorf("%s: token %d: %w", r.name, id, domain.ErrNotFound)
	}
	return owner, nil
}

// OwnerAt is OwnerOf evaluated at the unix time now instead of the
// registry clock, so a caller holding a timestamp sees a consistent view.
func (r *Registry) OwnerAt(id, now uint64) (common.Address, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[id]
	if !ok || !r.liveAt(id, now) {
		return common.Address{}, fmt.Errorf("%s: token %d: %w", r.name, id, domain.ErrNotFound)
	}
	return owner, nil
}

// BalanceOf counts the live tokens held by owner.
func (r *Registry) BalanceOf(owner common.Address) uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	for _, id := range r.owned[owner] {
		if r.live(id) {
			n++
		}
	}
	return n
}

// TotalSupply counts live tokens.
func (r *Registry) TotalSupply() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n uint64
	for _, id := range r.all {
		if r.live(id) {
			n++
		}
	}
	return n
}

// TokenByIndex returns the i-th live token in mint order.
func (r *Registry) TokenByIndex(i uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nth(r.all, i)
}

// TokenOfOwnerByIndex returns the i-th live token held by owner.
func (r *Registry) TokenOfOwnerByIndex(owner common.Address, i uint64) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nth(r.owned[owner], i)
}

// TokensOf lists the live tokens held by owner.
func (r *Registry) TokensOf(owner common.Address) []uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []uint64
	for _, id := range r.owned[owner] {
		if r.live(id) {
			out = append(out, id)
		}
	}
	return out
}

// Approve lets spender move token id. Only the owner or an approved-for-all
// operator may approve.
func (r *Registry) Approve(caller, spender common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	if !ok || !r.live(id) {
		return fmt.Errorf("%s: approve token %d: %w", r.name, id, domain.ErrNotFound)
	}
	if caller != owner && !r.operators[owner][caller] {
		return fmt.Errorf("%s: approve token %d: %w", r.name, id, domain.ErrUnauthorized)
	}
	r.approvals[id] = spender
	return nil
}

// GetApproved returns the approved spender of token id.
func (r *Registry) GetApproved(id uint64) common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.approvals[id]
}

// SetApprovalForAll lets operator move every token of owner.
func (r *Registry) SetApprovalForAll(owner, operator common.Address, approved bool) error {
	if owner == operator {
		return fmt.Errorf("%s: approve to caller: %w", r.name, domain.ErrInvalidArgument)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if approved {
		if r.operators[owner] == nil {
			r.operators[owner] = make(map[common.Address]bool)
		}
		r.operators[owner][operator] = true
	} else {
		delete(r.operators[owner], operator)
	}
	return nil
}

// IsApprovedForAll reports whether operator manages all of owner's tokens.
func (r *Registry) IsApprovedForAll(owner, operator common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.operators[owner][operator]
}

// TransferFrom moves token id from from to to on behalf of operator.
func (r *Registry) TransferFrom(_ context.Context, operator, from, to common.Address, id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transfer(operator, from, to, id)
}

// SafeTransferFrom transfers and then calls the receiver hook registered for
// to. The transfer is undone if the hook fails.
func (r *Registry) SafeTransferFrom(ctx context.Context, operator, from, to common.Address, id uint64) error {
	r.mu.Lock()
	approved := r.approvals[id]
	if err := r.transfer(operator, from, to, id); err != nil {
		r.mu.Unlock()
		return err
	}
	recv := r.receivers[to]
	r.mu.Unlock()

	if recv == nil {
		return nil
	}
	if err := recv.OnTokenReceived(ctx, operator, from, id); err != nil {
		r.mu.Lock()
		if r.owners[id] == to {
			r.move(to, from, id)
			if approved != (common.Address{}) {
				r.approvals[id] = approved
			}
		}
		r.mu.Unlock()
		return fmt.Errorf("%s: receiver rejected token %d: %w", r.name, id, err)
	}
	return nil
}

func (r *Registry) transfer(operator, from, to common.Address, id uint64) error {
	owner, ok := r.owners[id]
	if !ok || !r.live(id) {
		return fmt.Errorf("%s: transfer token %d: %w", r.name, id, domain.ErrNotFound)
	}
	if owner != from {
		return fmt.Errorf("%s: transfer token %d from non-owner: %w", r.name, id, domain.ErrUnauthorized)
	}
	if to == (common.Address{}) {
		return fmt.Errorf("%s: transfer to zero address: %w", r.name, domain.ErrInvalidAddress)
	}
	if operator != owner && r.approvals[id] != operator && !r.operators[owner][operator] {
		return fmt.Errorf("%s: caller is not token owner or approved: %w", r.name, domain.ErrUnauthorized)
	}
	r.move(from, to, id)
	return nil
}

func (r *Registry) move(from, to common.Address, id uint64) {
	delete(r.approvals, id)
	r.owned[from] = dropID(r.owned[from], id)
	if len(r.owned[from]) == 0 {
		delete(r.owned, from)
	}
	r.owned[to] = append(r.owned[to], id)
	r.owners[id] = to
}

func (r *Registry) remove(id uint64) {
	owner := r.owners[id]
	delete(r.owners, id)
	delete(r.expiry, id)
	delete(r.approvals, id)
	r.all = dropID(r.all, id)
	r.owned[owner] = dropID(r.owned[owner], id)
	if len(r.owned[owner]) == 0 {
		delete(r.owned, owner)
	}
}

func (r *Registry) live(id uint64) bool {
	if r.clock == nil {
		return true
	}
	return r.liveAt(id, uint64(r.clock.Now().Unix()))
}

func (r *Registry) liveAt(id, now uint64) bool {
	exp, ok := r.expiry[id]
	return !ok || now <= exp
}

func (r *Registry) nth(ids []uint64, i uint64) (uint64, error) {
	var n uint64
	for _, id := range ids {
		if !r.live(id) {
			continue
		}
		if n == i {
			return id, nil
		}
		n++
	}
	return 0, fmt.Errorf("%s: index %d out of bounds: %w", r.name, i, domain.ErrInvalidIndex)
}

func dropID(ids []uint64, id uint64) []uint64 {
	if i := slices.Index(ids, id); i >= 0 {
		return slices.Delete(ids, i, i+1)
	}
	return ids
}

var _ domain.NFTCollection = (*Registry)(nil)
