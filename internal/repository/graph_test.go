package repository

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/agriledger/backend/internal/domain"
	"github.com/vanshika/agriledger/backend/internal/graph"
)

func sampleTransaction(id string, created time.Time) *domain.Transaction {
	product := int64(7)
	return &domain.Transaction{
		ID:          id,
		FromAddress: "0xbuyer",
		ToAddress:   "0xseller",
		Amount:      decimal.RequireFromString("25.50"),
		ProductID:   &product,
		UserID:      "user-1",
		NetworkID:   "simulation",
		Status:      domain.StatusPending,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

func nodeProps(id, status string, created time.Time) map[string]any {
	ts := created.UTC().Format(time.RFC3339Nano)
	return map[string]any{
		"id":             id,
		"fromAddress":    "0xbuyer",
		"toAddress":      "0xseller",
		"amount":         "25.5",
		"productId":      int64(7),
		"userId":         "user-1",
		"networkId":      "simulation",
		"status":         status,
		"createdAt":      ts,
		"createdAtNanos": created.UnixNano(),
		"updatedAt":      ts,
	}
}

func TestGraphStore_Insert(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)
	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"created": true}}})

	now := time.Now().UTC()
	tx := sampleTransaction("tx_1", now)
	got, err := store.Insert(context.Background(), tx)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if got.ID != tx.ID {
		t.Errorf("expected id %s, got %s", tx.ID, got.ID)
	}

	calls := mem.WriteCalls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 write query, got %d", len(calls))
	}
	call := calls[0]
	if call.Query != insertTransactionCypher {
		t.Fatalf("unexpected query\nexpected:\n%s\ngot:\n%s", insertTransactionCypher, call.Query)
	}
	props, ok := call.Params["props"].(map[string]any)
	if !ok {
		t.Fatalf("expected props map, got %T", call.Params["props"])
	}
	if props["amount"] != "25.5" {
		t.Errorf("amount mismatch: want 25.5 got %v", props["amount"])
	}
	if props["productId"] != int64(7) {
		t.Errorf("productId mismatch: want 7 got %v", props["productId"])
	}
	if _, present := props["orderId"]; present {
		t.Errorf("orderId should be omitted when unset")
	}
	if props["createdAtNanos"] != now.UnixNano() {
		t.Errorf("createdAtNanos mismatch: want %d got %v", now.UnixNano(), props["createdAtNanos"])
	}
}

func TestGraphStore_InsertDuplicate(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)
	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"created": false}}})

	_, err := store.Insert(context.Background(), sampleTransaction("tx_1", time.Now()))
	if !errors.Is(err, domain.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
}

func TestGraphStore_GetDecodesNode(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)

	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	props := nodeProps("tx_1", "confirmed", created)
	props["txHash"] = "0xabc"
	props["blockNumber"] = int64(12)
	mem.PushReadResult(graph.Result{Records: []graph.Record{{"tx": props}}})

	tx, err := store.Get(context.Background(), "tx_1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tx == nil {
		t.Fatalf("expected transaction, got nil")
	}
	if !tx.Amount.Equal(decimal.RequireFromString("25.50")) {
		t.Errorf("amount mismatch: got %s", tx.Amount)
	}
	if tx.Status != domain.StatusConfirmed {
		t.Errorf("status mismatch: got %s", tx.Status)
	}
	if tx.TxHash == nil || *tx.TxHash != "0xabc" {
		t.Errorf("txHash mismatch: got %v", tx.TxHash)
	}
	if tx.BlockNumber == nil || *tx.BlockNumber != 12 {
		t.Errorf("blockNumber mismatch: got %v", tx.BlockNumber)
	}
	if tx.OrderID != nil {
		t.Errorf("expected nil order id, got %v", *tx.OrderID)
	}
	if !tx.CreatedAt.Equal(created) {
		t.Errorf("createdAt mismatch: got %s", tx.CreatedAt)
	}
}

func TestGraphStore_GetMissing(t *testing.T) {
	store := NewGraphStore(graph.NewMemoryClient())

	tx, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if tx != nil {
		t.Fatalf("expected nil transaction, got %+v", tx)
	}
}

func TestGraphStore_UpdateConfirmed(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)

	props := nodeProps("tx_1", "confirmed", time.Now())
	props["txHash"] = "0xabc"
	props["blockNumber"] = int64(5)
	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"applied": true, "tx": props}}})

	tx, applied, err := store.Update(context.Background(), "tx_1", domain.TransactionUpdate{
		Status:  domain.StatusConfirmed,
		Receipt: &domain.Receipt{TxHash: "0xabc", BlockNumber: 5},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !applied {
		t.Fatalf("expected update to apply")
	}
	if tx.Status != domain.StatusConfirmed {
		t.Errorf("status mismatch: got %s", tx.Status)
	}

	call := mem.WriteCalls()[0]
	if call.Query != updateTransactionCypher {
		t.Fatalf("unexpected query: %s", call.Query)
	}
	if call.Params["txHash"] != "0xabc" || call.Params["blockNumber"] != int64(5) {
		t.Errorf("receipt params mismatch: %v", call.Params)
	}
	if call.Params["clearReceipt"] != false {
		t.Errorf("confirmed update must not clear the receipt")
	}
}

func TestGraphStore_UpdateFailedClearsReceipt(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)
	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"applied": false, "tx": nodeProps("tx_1", "confirmed", time.Now())}}})

	tx, applied, err := store.Update(context.Background(), "tx_1", domain.TransactionUpdate{Status: domain.StatusFailed})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if applied {
		t.Fatalf("expected terminal record to be left unchanged")
	}
	if tx.Status != domain.StatusConfirmed {
		t.Errorf("expected stored status confirmed, got %s", tx.Status)
	}
	if mem.WriteCalls()[0].Params["clearReceipt"] != true {
		t.Errorf("failed update must clear the receipt")
	}
}

func TestGraphStore_UpdateMissing(t *testing.T) {
	store := NewGraphStore(graph.NewMemoryClient())

	tx, applied, err := store.Update(context.Background(), "missing", domain.TransactionUpdate{Status: domain.StatusFailed})
	if err != nil || applied || tx != nil {
		t.Fatalf("expected nil,false,nil got %v,%v,%v", tx, applied, err)
	}
}

func TestGraphStore_MarkDelivered(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)

	at := time.Date(2024, 5, 2, 8, 0, 0, 0, time.UTC)
	props := nodeProps("tx_1", "confirmed", time.Now())
	props["deliveredAt"] = at.Format(time.RFC3339Nano)
	mem.PushWriteResult(graph.Result{Records: []graph.Record{{"applied": true, "tx": props}}})

	tx, claimed, err := store.MarkDelivered(context.Background(), "tx_1", at)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !claimed {
		t.Fatalf("expected delivery to be claimed")
	}
	if tx.DeliveredAt == nil || !tx.DeliveredAt.Equal(at) {
		t.Errorf("deliveredAt mismatch: got %v", tx.DeliveredAt)
	}
	if mem.WriteCalls()[0].Query != markDeliveredCypher {
		t.Errorf("unexpected query: %s", mem.WriteCalls()[0].Query)
	}
}

func TestGraphStore_ListByUser(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)

	newer := time.Now().UTC()
	older := newer.Add(-time.Minute)
	mem.PushReadResult(graph.Result{Records: []graph.Record{
		{"tx": nodeProps("tx_2", "pending", newer)},
		{"tx": nodeProps("tx_1", "confirmed", older)},
	}})

	txs, err := store.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(txs) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txs))
	}
	if txs[0].ID != "tx_2" {
		t.Errorf("expected newest first, got %s", txs[0].ID)
	}

	call := mem.ReadCalls()[0]
	if !strings.Contains(call.Query, "WHERE t.userId = $userId") {
		t.Errorf("unexpected filter in list query: %s", call.Query)
	}
	if !strings.Contains(call.Query, "ORDER BY t.createdAtNanos DESC") {
		t.Errorf("unexpected ordering in list query: %s", call.Query)
	}
	if call.Params["userId"] != "user-1" {
		t.Errorf("userId param mismatch: %v", call.Params["userId"])
	}
}

func TestGraphStore_ListByStatusPropagatesErrors(t *testing.T) {
	mem := graph.NewMemoryClient().WithError(errors.New("bolt down"))
	store := NewGraphStore(mem)

	if _, err := store.ListByStatus(context.Background(), domain.StatusPending); err == nil {
		t.Fatalf("expected error")
	}
}

func TestGraphStore_Ping(t *testing.T) {
	mem := graph.NewMemoryClient().WithConnectivityError(errors.New("unreachable"))
	store := NewGraphStore(mem)

	if err := store.Ping(context.Background()); err == nil {
		t.Fatalf("expected connectivity error")
	}
}

func TestGraphStore_EnsureSchema(t *testing.T) {
	mem := graph.NewMemoryClient()
	store := NewGraphStore(mem)

	if err := store.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if mem.WriteCalls()[0].Query != createConstraintCypher {
		t.Errorf("unexpected query: %s", mem.WriteCalls()[0].Query)
	}
}
