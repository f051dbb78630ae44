package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

var pgCreated = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func newMockPostgresStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewPostgresStore(db), mock
}

func pgRow(rows *sqlmock.Rows, id, status string, hash, block, delivered any) *sqlmock.Rows {
	return rows.AddRow(id, "0xbuyer", "0xseller", "25.50", int64(7), nil, "user-1", "simulation",
		status, hash, block, delivered, pgCreated, pgCreated)
}

func TestPostgresStoreInsert(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	tx := sampleTransaction("tx_1", pgCreated)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blockchain_transactions")).
		WithArgs("tx_1", "0xbuyer", "0xseller", "25.5", int64(7), nil, "user-1", "simulation",
			"pending", nil, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	got, err := store.Insert(context.Background(), tx)
	require.NoError(t, err)
	assert.Equal(t, "tx_1", got.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInsertDuplicate(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blockchain_transactions")).
		WillReturnError(&pq.Error{Code: pqUniqueViolation, Message: "duplicate key value violates unique constraint"})

	_, err := store.Insert(context.Background(), sampleTransaction("tx_1", pgCreated))
	assert.ErrorIs(t, err, domain.ErrDuplicateID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreInsertOtherError(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO blockchain_transactions")).
		WillReturnError(errors.New("connection reset"))

	_, err := store.Insert(context.Background(), sampleTransaction("tx_1", pgCreated))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrDuplicateID)
}

func TestPostgresStoreGet(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM blockchain_transactions WHERE id = $1")).
		WithArgs("tx_1").
		WillReturnRows(pgRow(sqlmock.NewRows(transactionColumns), "tx_1", "confirmed", "0xabc", int64(9), nil))

	tx, err := store.Get(context.Background(), "tx_1")
	require.NoError(t, err)
	require.NotNil(t, tx)
	assert.Equal(t, domain.StatusConfirmed, tx.Status)
	assert.Equal(t, "25.5", tx.Amount.String())
	require.NotNil(t, tx.TxHash)
	assert.Equal(t, "0xabc", *tx.TxHash)
	assert.EqualValues(t, 9, *tx.BlockNumber)
	assert.EqualValues(t, 7, *tx.ProductID)
	assert.Nil(t, tx.OrderID)
	assert.Nil(t, tx.DeliveredAt)
	assert.True(t, tx.CreatedAt.Equal(pgCreated))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetMissing(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM blockchain_transactions WHERE id = $1")).
		WithArgs("nope").
		WillReturnRows(sqlmock.NewRows(transactionColumns))

	tx, err := store.Get(context.Background(), "nope")
	assert.NoError(t, err)
	assert.Nil(t, tx)
}

func TestPostgresStoreUpdateAppliesFromPending(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE blockchain_transactions SET status = $1")).
		WithArgs("confirmed", sqlmock.AnyArg(), "0xabc", int64(4), "tx_1", "pending").
		WillReturnRows(pgRow(sqlmock.NewRows(transactionColumns), "tx_1", "confirmed", "0xabc", int64(4), nil))

	tx, applied, err := store.Update(context.Background(), "tx_1", domain.TransactionUpdate{
		Status:  domain.StatusConfirmed,
		Receipt: &domain.Receipt{TxHash: "0xabc", BlockNumber: 4},
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.Equal(t, domain.StatusConfirmed, tx.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreUpdateTerminalReturnsCurrent(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE blockchain_transactions SET status = $1")).
		WithArgs("failed", sqlmock.AnyArg(), nil, nil, "tx_1", "pending").
		WillReturnRows(sqlmock.NewRows(transactionColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM blockchain_transactions WHERE id = $1")).
		WithArgs("tx_1").
		WillReturnRows(pgRow(sqlmock.NewRows(transactionColumns), "tx_1", "confirmed", "0xabc", int64(4), nil))

	tx, applied, err := store.Update(context.Background(), "tx_1", domain.TransactionUpdate{Status: domain.StatusFailed})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.Equal(t, domain.StatusConfirmed, tx.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreMarkDelivered(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	at := pgCreated.Add(time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE blockchain_transactions SET delivered_at = $1")).
		WithArgs(at, "tx_1", "confirmed").
		WillReturnRows(pgRow(sqlmock.NewRows(transactionColumns), "tx_1", "confirmed", "0xabc", int64(4), at))

	tx, claimed, err := store.MarkDelivered(context.Background(), "tx_1", at)
	require.NoError(t, err)
	assert.True(t, claimed)
	require.NotNil(t, tx.DeliveredAt)
	assert.True(t, tx.DeliveredAt.Equal(at))

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE blockchain_transactions SET delivered_at = $1")).
		WillReturnRows(sqlmock.NewRows(transactionColumns))
	mock.ExpectQuery(regexp.QuoteMeta("FROM blockchain_transactions WHERE id = $1")).
		WithArgs("tx_1").
		WillReturnRows(pgRow(sqlmock.NewRows(transactionColumns), "tx_1", "confirmed", "0xabc", int64(4), at))

	_, claimed, err = store.MarkDelivered(context.Background(), "tx_1", at)
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListByUser(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	rows := sqlmock.NewRows(transactionColumns)
	pgRow(rows, "tx_2", "pending", nil, nil, nil)
	pgRow(rows, "tx_1", "failed", nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM blockchain_transactions WHERE user_id = $1 ORDER BY created_at DESC, id DESC")).
		WithArgs("user-1").
		WillReturnRows(rows)

	txs, err := store.ListByUser(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"tx_2", "tx_1"}, ids(txs))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreListAllEmpty(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM blockchain_transactions ORDER BY created_at DESC")).
		WillReturnRows(sqlmock.NewRows(transactionColumns))

	txs, err := store.ListAll(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, txs)
	assert.Empty(t, txs)
}

func TestPostgresStoreListQueryError(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM blockchain_transactions WHERE status = $1")).
		WithArgs("pending").
		WillReturnError(sql.ErrConnDone)

	_, err := store.ListByStatus(context.Background(), domain.StatusPending)
	assert.ErrorIs(t, err, sql.ErrConnDone)
}
