package domain

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a ledger transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further status transition is permitted.
func (s Status) Terminal() bool {
	return s == StatusConfirmed || s == StatusFailed
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusFailed:
		return true
	}
	return false
}

// Transaction records a payment between two ledger parties and tracks its
// confirmation on the external ledger network.
type Transaction struct {
	ID          string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	ProductID   *int64
	OrderID     *int64
	UserID      string
	NetworkID   string
	Status      Status
	TxHash      *string
	BlockNumber *int64
	DeliveredAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Clone returns a deep copy so callers never share pointer fields with a store or cache.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	c := *t
	c.ProductID = cloneInt64(t.ProductID)
	c.OrderID = cloneInt64(t.OrderID)
	c.BlockNumber = cloneInt64(t.BlockNumber)
	if t.TxHash != nil {
		h := *t.TxHash
		c.TxHash = &h
	}
	if t.DeliveredAt != nil {
		d := *t.DeliveredAt
		c.DeliveredAt = &d
	}
	return &c
}

// Delivered reports whether delivery side effects have been claimed for the transaction.
func (t *Transaction) Delivered() bool {
	return t != nil && t.DeliveredAt != nil
}

// Receipt is the confirmation metadata produced by a real or simulated ledger.
type Receipt struct {
	TxHash      string
	BlockNumber int64
}

// TransactionUpdate lists the mutable fields of a transaction. A status
// change is only applied while the stored record is still pending.
type TransactionUpdate struct {
	Status  Status
	Receipt *Receipt
}

// Apply merges the update into tx when the transition is permitted and reports whether it changed.
func (u TransactionUpdate) Apply(tx *Transaction, now time.Time) bool {
	if tx.Status.Terminal() || !u.Status.Terminal() {
		return false
	}
	tx.Status = u.Status
	if u.Status == StatusConfirmed && u.Receipt != nil {
		hash := u.Receipt.TxHash
		block := u.Receipt.BlockNumber
		tx.TxHash = &hash
		tx.BlockNumber = &block
	}
	if u.Status == StatusFailed {
		tx.TxHash = nil
		tx.BlockNumber = nil
	}
	tx.UpdatedAt = now
	return true
}

// SortNewestFirst orders records by creation time descending, breaking ties on id.
func SortNewestFirst(txs []*Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		if txs[i].CreatedAt.Equal(txs[j].CreatedAt) {
			return txs[i].ID > txs[j].ID
		}
		return txs[i].CreatedAt.After(txs[j].CreatedAt)
	})
}

func cloneInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
