package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vanshika/agriledger/backend/internal/domain"
	"github.com/vanshika/agriledger/backend/internal/ledger"
	"github.com/vanshika/agriledger/backend/internal/logging"
)

func seedPending(t *testing.T, h *harness, id string, created time.Time) {
	t.Helper()
	_, err := h.store.Insert(context.Background(), &domain.Transaction{
		ID:          id,
		FromAddress: "0xa",
		ToAddress:   "0xb",
		Amount:      decimal.NewFromInt(10),
		UserID:      "user-1",
		Status:      domain.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	})
	require.NoError(t, err)
}

func TestReconcilerConnectedMode(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	client := newStubLedger()
	h := newHarness(t, client, WithClock(func() time.Time { return now }))

	seedPending(t, h, "tx_confirmed", now.Add(-time.Minute))
	seedPending(t, h, "tx_failed", now.Add(-time.Minute))
	seedPending(t, h, "tx_fresh", now.Add(-time.Minute))
	seedPending(t, h, "tx_stale", now.Add(-2*time.Hour))

	client.records["tx_confirmed"] = &ledger.Record{TxID: "tx_confirmed", Status: domain.StatusConfirmed, TxHash: "0xok", BlockNumber: int64p(12)}
	client.records["tx_failed"] = &ledger.Record{TxID: "tx_failed", Status: domain.StatusFailed}
	client.records["tx_fresh"] = &ledger.Record{TxID: "tx_fresh", Status: domain.StatusPending}

	report, err := NewReconciler(h.svc, 2, time.Hour).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{Scanned: 4, Confirmed: 1, Failed: 2, Unchanged: 1}, report)

	got, _ := h.store.Get(context.Background(), "tx_confirmed")
	assert.Equal(t, domain.StatusConfirmed, got.Status)
	assert.Equal(t, "0xok", *got.TxHash)

	got, _ = h.store.Get(context.Background(), "tx_stale")
	assert.Equal(t, domain.StatusFailed, got.Status)

	got, _ = h.store.Get(context.Background(), "tx_fresh")
	assert.Equal(t, domain.StatusPending, got.Status)

	assert.Zero(t, h.recorder.VerifiedCount(7), "reconciliation never applies delivery effects")
}

func TestReconcilerCollectsQueryErrors(t *testing.T) {
	client := newStubLedger()
	client.queryErr = errors.New("rpc down")
	h := newHarness(t, client)
	seedPending(t, h, "tx_1", time.Now().UTC())
	seedPending(t, h, "tx_2", time.Now().UTC())

	report, err := NewReconciler(h.svc, 1, 0).Run(context.Background())
	require.Error(t, err)

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Len(t, taskErr.Errors, 2)
	assert.Equal(t, 2, report.Unchanged)
}

func TestReconcilerInactiveLedger(t *testing.T) {
	client := newStubLedger()
	client.active = false
	h := newHarness(t, client)
	seedPending(t, h, "tx_1", time.Now().UTC())

	_, err := NewReconciler(h.svc, 1, 0).Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrLedgerUnavailable)
}

func TestReconcilerSimulatedModeResubmits(t *testing.T) {
	sim := ledger.NewSimulator(logging.Discard(), 5*time.Millisecond)
	h := newHarness(t, sim)
	seedPending(t, h, "tx_orphan", time.Now().UTC().Add(-time.Hour))

	report, err := NewReconciler(h.svc, 0, time.Minute).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Scanned)
	assert.Equal(t, 1, report.Resubmitted)

	require.Eventually(t, func() bool {
		got, _ := h.store.Get(context.Background(), "tx_orphan")
		return got != nil && got.Status == domain.StatusConfirmed
	}, 2*time.Second, 5*time.Millisecond)
}

func TestReconcilerNothingPending(t *testing.T) {
	h := newHarness(t, newStubLedger())
	report, err := NewReconciler(h.svc, 3, 0).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ReconcileReport{}, report)
}

func TestReconcilerCancelledContext(t *testing.T) {
	h := newHarness(t, newStubLedger())
	seedPending(t, h, "tx_1", time.Now().UTC())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewReconciler(h.svc, 1, 0).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTaskErrorMessages(t *testing.T) {
	var e TaskError
	assert.Equal(t, "no errors", e.Error())
	e.append(errors.New("one"))
	assert.Equal(t, "one", e.Error())
	e.append(errors.New("two"))
	assert.Equal(t, "multiple errors: one; two;", e.Error())
}
