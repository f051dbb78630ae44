package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

// MemoryStore keeps transactions in process memory. Records are cloned on the
// way in and out so callers never alias stored state.
type MemoryStore struct {
	mu  sync.RWMutex
	txs map[string]*domain.Transaction
	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		txs: make(map[string]*domain.Transaction),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Insert(_ context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if err := validateNew(tx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.txs[tx.ID]; exists {
		return nil, fmt.Errorf("insert transaction %s: %w", tx.ID, domain.ErrDuplicateID)
	}
	stored := tx.Clone()
	s.txs[tx.ID] = stored
	return stored.Clone(), nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.txs[id].Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, upd domain.TransactionUpdate) (*domain.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.txs[id]
	if !ok {
		return nil, false, nil
	}
	applied := upd.Apply(stored, s.now())
	return stored.Clone(), applied, nil
}

func (s *MemoryStore) MarkDelivered(_ context.Context, id string, at time.Time) (*domain.Transaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.txs[id]
	if !ok {
		return nil, false, nil
	}
	if stored.Status != domain.StatusConfirmed || stored.DeliveredAt != nil {
		return stored.Clone(), false, nil
	}
	at = at.UTC()
	stored.DeliveredAt = &at
	return stored.Clone(), true, nil
}

func (s *MemoryStore) ListByUser(_ context.Context, userID string) ([]*domain.Transaction, error) {
	return s.filter(func(tx *domain.Transaction) bool { return tx.UserID == userID }), nil
}

func (s *MemoryStore) ListAll(context.Context) ([]*domain.Transaction, error) {
	return s.filter(func(*domain.Transaction) bool { return true }), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status domain.Status) ([]*domain.Transaction, error) {
	return s.filter(func(tx *domain.Transaction) bool { return tx.Status == status }), nil
}

func (s *MemoryStore) Ping(context.Context) error  { return nil }
func (s *MemoryStore) Close(context.Context) error { return nil }

func (s *MemoryStore) filter(keep func(*domain.Transaction) bool) []*domain.Transaction {
	s.mu.RLock()
	out := make([]*domain.Transaction, 0, len(s.txs))
	for _, tx := range s.txs {
		if keep(tx) {
			out = append(out, tx.Clone())
		}
	}
	s.mu.RUnlock()

	domain.SortNewestFirst(out)
	return out
}
