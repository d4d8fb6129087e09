package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/NFTCall-xyz/nftcall-core/internal/domain"
)

// CreditStore keeps confirmed payment credit in memory.
type CreditStore struct {
	mu       sync.Mutex
	balances map[common.Address]*uint256.Int
	credited map[string]bool
}

func NewCreditStore() *CreditStore {
	return &CreditStore{
		balances: make(map[common.Address]*uint256.Int),
		credited: make(map[string]bool),
	}
}

func (s *CreditStore) Credit(_ context.Context, rec domain.CreditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.credited[rec.TxHash] {
		return fmt.Errorf("memory: credit %s: %w", rec.TxHash, domain.ErrCreditExists)
	}
	if err := s.add(rec.Account, rec.Amount); err != nil {
		return err
	}
	s.credited[rec.TxHash] = true
	return nil
}

func (s *CreditStore) Debit(_ context.Context, account common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balanceLocked(account)
	if bal.Lt(amount) {
		return fmt.Errorf("memory: debit %s from %s: %w", domain.FormatEther(amount), account.Hex(), domain.ErrInsufficientCredit)
	}
	s.balances[account] = new(uint256.Int).Sub(bal, amount)
	return nil
}

func (s *CreditStore) Refund(_ context.Context, account common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(account, amount)
}

func (s *CreditStore) Balance(_ context.Context, account common.Address) (*uint256.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(uint256.Int).Set(s.balanceLocked(account)), nil
}

func (s *CreditStore) add(account common.Address, amount *uint256.Int) error {
	sum, err := domain.Add(s.balanceLocked(account), amount)
	if err != nil {
		return fmt.Errorf("memory: credit %s: %w", account.Hex(), err)
	}
	s.balances[account] = sum
	return nil
}

func (s *CreditStore) balanceLocked(account common.Address) *uint256.Int {
	if bal, ok := s.balances[account]; ok {
		return bal
	}
	return domain.Zero()
}

var _ domain.CreditStore = (*CreditStore)(nil)
