package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

// Store persists ledger transactions. It is the source of truth; every
// status transition goes through Update so the pending check and the write
// happen atomically per record.
type Store interface {
	// Insert adds a new record, failing with domain.ErrDuplicateID when the id exists.
	Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error)
	// Get returns nil, nil when the id is unknown.
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	// Update applies a status transition only while the stored record is pending.
	// The bool reports whether it applied; a terminal record is returned unchanged.
	Update(ctx context.Context, id string, upd domain.TransactionUpdate) (*domain.Transaction, bool, error)
	// MarkDelivered claims delivery for a confirmed record that has not been delivered yet.
	MarkDelivered(ctx context.Context, id string, at time.Time) (*domain.Transaction, bool, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error)
	ListAll(ctx context.Context) ([]*domain.Transaction, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Transaction, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

func validateNew(tx *domain.Transaction) error {
	if tx == nil || tx.ID == "" {
		return errors.New("transaction id is required")
	}
	if !tx.Status.Valid() {
		return fmt.Errorf("transaction %s: invalid status %q", tx.ID, tx.Status)
	}
	return nil
}
