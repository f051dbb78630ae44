package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	transactionsTable = "blockchain_transactions"
	pqUniqueViolation = "23505"
)

var transactionColumns = []string{
	"id",
	"from_address",
	"to_address",
	"amount",
	"product_id",
	"order_id",
	"user_id",
	"network_id",
	"status",
	"tx_hash",
	"block_number",
	"delivered_at",
	"created_at",
	"updated_at",
}

// PostgresStore persists transactions in the blockchain_transactions table.
// Status transitions are a single conditional UPDATE so concurrent writers
// serialize on the row.
type PostgresStore struct {
	db  *sql.DB
	sb  sq.StatementBuilderType
	now func() time.Time
}

// OpenPostgres opens and verifies a connection pool for the given URL.
func OpenPostgres(ctx context.Context, url string, maxConnections int) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database url is required")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if maxConnections > 0 {
		db.SetMaxOpenConns(maxConnections)
		db.SetMaxIdleConns(maxConnections)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("verify postgres connectivity: %w", err)
	}
	return db, nil
}

// MigratePostgres applies the embedded schema migrations.
func MigratePostgres(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	driver, err := migratepg.WithInstance(db, &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("init migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// NewPostgresStore wraps an open pool. The caller owns schema setup (see MigratePostgres).
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{
		db:  db,
		sb:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *PostgresStore) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if err := validateNew(tx); err != nil {
		return nil, err
	}

	query, args, err := s.sb.Insert(transactionsTable).
		Columns(transactionColumns...).
		Values(
			tx.ID,
			tx.FromAddress,
			tx.ToAddress,
			tx.Amount.String(),
			nullInt64(tx.ProductID),
			nullInt64(tx.OrderID),
			tx.UserID,
			tx.NetworkID,
			string(tx.Status),
			nullString(tx.TxHash),
			nullInt64(tx.BlockNumber),
			nullTime(tx.DeliveredAt),
			tx.CreatedAt.UTC(),
			tx.UpdatedAt.UTC(),
		).ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
			return nil, fmt.Errorf("insert transaction %s: %w", tx.ID, domain.ErrDuplicateID)
		}
		return nil, fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return tx.Clone(), nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	query, args, err := s.sb.Select(transactionColumns...).
		From(transactionsTable).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return tx, nil
}

func (s *PostgresStore) Update(ctx context.Context, id string, upd domain.TransactionUpdate) (*domain.Transaction, bool, error) {
	if !upd.Status.Terminal() {
		tx, err := s.Get(ctx, id)
		return tx, false, err
	}

	q := s.sb.Update(transactionsTable).
		Set("status", string(upd.Status)).
		Set("updated_at", s.now())
	switch {
	case upd.Status == domain.StatusConfirmed && upd.Receipt != nil:
		q = q.Set("tx_hash", upd.Receipt.TxHash).Set("block_number", upd.Receipt.BlockNumber)
	case upd.Status == domain.StatusFailed:
		q = q.Set("tx_hash", nil).Set("block_number", nil)
	}
	query, args, err := q.
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": string(domain.StatusPending)}).
		Suffix("RETURNING " + strings.Join(transactionColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build update: %w", err)
	}

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		// Absent or already terminal.
		current, getErr := s.Get(ctx, id)
		return current, false, getErr
	}
	if err != nil {
		return nil, false, fmt.Errorf("update transaction %s: %w", id, err)
	}
	return tx, true, nil
}

func (s *PostgresStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*domain.Transaction, bool, error) {
	query, args, err := s.sb.Update(transactionsTable).
		Set("delivered_at", at.UTC()).
		Where(sq.Eq{"id": id}).
		Where(sq.Eq{"status": string(domain.StatusConfirmed)}).
		Where(sq.Eq{"delivered_at": nil}).
		Suffix("RETURNING " + strings.Join(transactionColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build delivery update: %w", err)
	}

	tx, err := scanTransaction(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		current, getErr := s.Get(ctx, id)
		return current, false, getErr
	}
	if err != nil {
		return nil, false, fmt.Errorf("mark transaction %s delivered: %w", id, err)
	}
	return tx, true, nil
}

func (s *PostgresStore) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return s.list(ctx, sq.Eq{"user_id": userID})
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]*domain.Transaction, error) {
	return s.list(ctx, nil)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Transaction, error) {
	return s.list(ctx, sq.Eq{"status": string(status)})
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *PostgresStore) Close(context.Context) error {
	return s.db.Close()
}

func (s *PostgresStore) list(ctx context.Context, where sq.Sqlizer) ([]*domain.Transaction, error) {
	q := s.sb.Select(transactionColumns...).From(transactionsTable)
	if where != nil {
		q = q.Where(where)
	}
	query, args, err := q.OrderBy("created_at DESC", "id DESC").ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := []*domain.Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var (
		tx        domain.Transaction
		status    string
		productID sql.NullInt64
		orderID   sql.NullInt64
		txHash    sql.NullString
		block     sql.NullInt64
		delivered sql.NullTime
	)
	err := row.Scan(
		&tx.ID,
		&tx.FromAddress,
		&tx.ToAddress,
		&tx.Amount,
		&productID,
		&orderID,
		&tx.UserID,
		&tx.NetworkID,
		&status,
		&txHash,
		&block,
		&delivered,
		&tx.CreatedAt,
		&tx.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	tx.Status = domain.Status(status)
	tx.ProductID = int64Ptr(productID)
	tx.OrderID = int64Ptr(orderID)
	tx.BlockNumber = int64Ptr(block)
	if txHash.Valid {
		h := txHash.String
		tx.TxHash = &h
	}
	if delivered.Valid {
		d := delivered.Time.UTC()
		tx.DeliveredAt = &d
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	tx.UpdatedAt = tx.UpdatedAt.UTC()
	return &tx, nil
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullString(v *string) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func int64Ptr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}
