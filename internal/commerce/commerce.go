package commerce

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	sq "github.com/Masterminds/squirrel"
)

// OrderStatusDelivered is written to an order once its payment delivery is confirmed.
const OrderStatusDelivered = "delivered"

// Updater applies the marketplace side effects of a confirmed delivery.
type Updater interface {
	SetProductVerified(ctx context.Context, productID int64) error
	SetOrderStatus(ctx context.Context, orderID int64, status string) error
}

// Recorder keeps side effects in memory. It backs the memory driver and lets
// tests count how often each effect was applied.
type Recorder struct {
	mu       sync.Mutex
	verified map[int64]int
	orders   map[int64][]string
	err      error
}

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		verified: make(map[int64]int),
		orders:   make(map[int64][]string),
	}
}

// FailWith makes subsequent updates return err without recording anything.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

func (r *Recorder) SetProductVerified(_ context.Context, productID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.verified[productID]++
	return nil
}

func (r *Recorder) SetOrderStatus(_ context.Context, orderID int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.orders[orderID] = append(r.orders[orderID], status)
	return nil
}

// VerifiedCount reports how many times productID was marked verified.
func (r *Recorder) VerifiedCount(productID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.verified[productID]
}

// OrderStatuses returns every status written to orderID, oldest first.
func (r *Recorder) OrderStatuses(orderID int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.orders[orderID]...)
}

// PostgresUpdater writes side effects to the marketplace products and orders tables.
type PostgresUpdater struct {
	db *sql.DB
	sb sq.StatementBuilderType
}

// NewPostgresUpdater wraps an open pool shared with the marketplace schema.
func NewPostgresUpdater(db *sql.DB) *PostgresUpdater {
	return &PostgresUpdater{
		db: db,
		sb: sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (u *PostgresUpdater) SetProductVerified(ctx context.Context, productID int64) error {
	query, args, err := u.sb.Update("products").
		Set("is_blockchain_verified", true).
		Where(sq.Eq{"id": productID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build product update: %w", err)
	}
	return u.exec(ctx, fmt.Sprintf("product %d", productID), query, args)
}

func (u *PostgresUpdater) SetOrderStatus(ctx context.Context, orderID int64, status string) error {
	query, args, err := u.sb.Update("orders").
		Set("status", status).
		Where(sq.Eq{"id": orderID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build order update: %w", err)
	}
	return u.exec(ctx, fmt.Sprintf("order %d", orderID), query, args)
}

func (u *PostgresUpdater) exec(ctx context.Context, target, query string, args []any) error {
	res, err := u.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", target, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update %s: %w", target, sql.ErrNoRows)
	}
	return nil
}
