package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/agriledger/backend/internal/domain"
	"github.com/vanshika/agriledger/backend/internal/graph"
)

// GraphStore persists transactions as LedgerTransaction nodes linked to the
// initiating User. Amounts are stored as decimal strings to keep precision.
type GraphStore struct {
	client graph.Client
	now    func() time.Time
}

// NewGraphStore instantiates a GraphStore backed by the supplied graph client.
func NewGraphStore(client graph.Client) *GraphStore {
	return &GraphStore{
		client: client,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// EnsureSchema creates the id uniqueness constraint the insert relies on.
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.client.ExecuteWrite(ctx, createConstraintCypher, nil); err != nil {
		return fmt.Errorf("ensure ledger transaction constraint: %w", err)
	}
	return nil
}

func (s *GraphStore) Insert(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	if err := validateNew(tx); err != nil {
		return nil, err
	}

	res, err := s.client.ExecuteWrite(ctx, insertTransactionCypher, map[string]any{
		"id":     tx.ID,
		"userId": tx.UserID,
		"props":  transactionProperties(tx),
	})
	if err != nil {
		return nil, fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	if len(res.Records) == 0 {
		return nil, fmt.Errorf("insert transaction %s: empty result", tx.ID)
	}
	if created, _ := res.Records[0]["created"].(bool); !created {
		return nil, fmt.Errorf("insert transaction %s: %w", tx.ID, domain.ErrDuplicateID)
	}
	return tx.Clone(), nil
}

func (s *GraphStore) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	res, err := s.client.ExecuteRead(ctx, getTransactionCypher, map[string]any{"id": id})
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	if len(res.Records) == 0 {
		return nil, nil
	}
	return decodeTransaction(res.Records[0]["tx"])
}

func (s *GraphStore) Update(ctx context.Context, id string, upd domain.TransactionUpdate) (*domain.Transaction, bool, error) {
	if !upd.Status.Terminal() {
		tx, err := s.Get(ctx, id)
		return tx, false, err
	}

	params := map[string]any{
		"id":           id,
		"status":       string(upd.Status),
		"updatedAt":    formatTime(s.now()),
		"clearReceipt": upd.Status == domain.StatusFailed,
		"txHash":       nil,
		"blockNumber":  nil,
	}
	if upd.Status == domain.StatusConfirmed && upd.Receipt != nil {
		params["txHash"] = upd.Receipt.TxHash
		params["blockNumber"] = upd.Receipt.BlockNumber
	}

	res, err := s.client.ExecuteWrite(ctx, updateTransactionCypher, params)
	if err != nil {
		return nil, false, fmt.Errorf("update transaction %s: %w", id, err)
	}
	return decodeConditionalWrite(res)
}

func (s *GraphStore) MarkDelivered(ctx context.Context, id string, at time.Time) (*domain.Transaction, bool, error) {
	res, err := s.client.ExecuteWrite(ctx, markDeliveredCypher, map[string]any{
		"id":          id,
		"deliveredAt": formatTime(at),
	})
	if err != nil {
		return nil, false, fmt.Errorf("mark transaction %s delivered: %w", id, err)
	}
	return decodeConditionalWrite(res)
}

func (s *GraphStore) ListByUser(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	return s.list(ctx, fmt.Sprintf(listTransactionsCypherTemplate, "WHERE t.userId = $userId"), map[string]any{"userId": userID})
}

func (s *GraphStore) ListAll(ctx context.Context) ([]*domain.Transaction, error) {
	return s.list(ctx, fmt.Sprintf(listTransactionsCypherTemplate, ""), nil)
}

func (s *GraphStore) ListByStatus(ctx context.Context, status domain.Status) ([]*domain.Transaction, error) {
	return s.list(ctx, fmt.Sprintf(listTransactionsCypherTemplate, "WHERE t.status = $status"), map[string]any{"status": string(status)})
}

func (s *GraphStore) Ping(ctx context.Context) error {
	return s.client.VerifyConnectivity(ctx)
}

func (s *GraphStore) Close(ctx context.Context) error {
	return s.client.Close(ctx)
}

func (s *GraphStore) list(ctx context.Context, query string, params map[string]any) ([]*domain.Transaction, error) {
	res, err := s.client.ExecuteRead(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("list transactions query: %w", err)
	}

	txs := make([]*domain.Transaction, 0, len(res.Records))
	for _, record := range res.Records {
		tx, err := decodeTransaction(record["tx"])
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func decodeConditionalWrite(res graph.Result) (*domain.Transaction, bool, error) {
	if len(res.Records) == 0 {
		return nil, false, nil
	}
	record := res.Records[0]
	tx, err := decodeTransaction(record["tx"])
	if err != nil {
		return nil, false, err
	}
	applied, _ := record["applied"].(bool)
	return tx, applied, nil
}

func transactionProperties(tx *domain.Transaction) map[string]any {
	props := map[string]any{
		"id":             tx.ID,
		"fromAddress":    tx.FromAddress,
		"toAddress":      tx.ToAddress,
		"amount":         tx.Amount.String(),
		"userId":         tx.UserID,
		"networkId":      tx.NetworkID,
		"status":         string(tx.Status),
		"createdAt":      formatTime(tx.CreatedAt),
		"createdAtNanos": tx.CreatedAt.UnixNano(),
		"updatedAt":      formatTime(tx.UpdatedAt),
	}
	if tx.ProductID != nil {
		props["productId"] = *tx.ProductID
	}
	if tx.OrderID != nil {
		props["orderId"] = *tx.OrderID
	}
	if tx.TxHash != nil {
		props["txHash"] = *tx.TxHash
	}
	if tx.BlockNumber != nil {
		props["blockNumber"] = *tx.BlockNumber
	}
	if tx.DeliveredAt != nil {
		props["deliveredAt"] = formatTime(*tx.DeliveredAt)
	}
	return props
}

func decodeTransaction(val any) (*domain.Transaction, error) {
	props, ok := val.(map[string]any)
	if !ok {
		return nil, errors.New("decode transaction: unexpected node shape")
	}

	amount, err := decimal.NewFromString(toString(props["amount"]))
	if err != nil {
		return nil, fmt.Errorf("decode transaction %s amount: %w", toString(props["id"]), err)
	}

	tx := &domain.Transaction{
		ID:          toString(props["id"]),
		FromAddress: toString(props["fromAddress"]),
		ToAddress:   toString(props["toAddress"]),
		Amount:      amount,
		ProductID:   toInt64Ptr(props["productId"]),
		OrderID:     toInt64Ptr(props["orderId"]),
		UserID:      toString(props["userId"]),
		NetworkID:   toString(props["networkId"]),
		Status:      domain.Status(toString(props["status"])),
		BlockNumber: toInt64Ptr(props["blockNumber"]),
		DeliveredAt: toTimePtr(props["deliveredAt"]),
	}
	if hash := toString(props["txHash"]); hash != "" {
		tx.TxHash = &hash
	}
	if created := toTimePtr(props["createdAt"]); created != nil {
		tx.CreatedAt = *created
	}
	if updated := toTimePtr(props["updatedAt"]); updated != nil {
		tx.UpdatedAt = *updated
	}
	return tx, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func toString(val any) string {
	switch v := val.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func toInt64Ptr(val any) *int64 {
	var n int64
	switch v := val.(type) {
	case int64:
		n = v
	case int:
		n = int64(v)
	case float64:
		n = int64(v)
	default:
		return nil
	}
	return &n
}

func toTimePtr(val any) *time.Time {
	switch v := val.(type) {
	case time.Time:
		u := v.UTC()
		return &u
	case string:
		if v == "" {
			return nil
		}
		if parsed, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return &parsed
		}
		if parsed, err := time.Parse(time.RFC3339, v); err == nil {
			return &parsed
		}
	}
	return nil
}

const createConstraintCypher = `
CREATE CONSTRAINT ledger_tx_id IF NOT EXISTS
FOR (t:LedgerTransaction) REQUIRE t.id IS UNIQUE
`

const insertTransactionCypher = `
MERGE (t:LedgerTransaction {id: $id})
ON CREATE SET t += $props, t._created = true
WITH t, coalesce(t._created, false) AS created
REMOVE t._created
WITH t, created
FOREACH (_ IN CASE WHEN created AND $userId <> "" THEN [1] ELSE [] END |
	MERGE (u:User {userId: $userId})
	MERGE (u)-[:INITIATED]->(t)
)
RETURN created
`

const getTransactionCypher = `
MATCH (t:LedgerTransaction {id: $id})
RETURN t {.*} AS tx
`

// The leading SET takes the node write lock before the status is read.
const updateTransactionCypher = `
MATCH (t:LedgerTransaction {id: $id})
SET t._lock = true
WITH t, t.status = "pending" AS applied
FOREACH (_ IN CASE WHEN applied THEN [1] ELSE [] END |
	SET t.status = $status,
		t.updatedAt = $updatedAt,
		t.txHash = CASE WHEN $clearReceipt THEN null ELSE coalesce($txHash, t.txHash) END,
		t.blockNumber = CASE WHEN $clearReceipt THEN null ELSE coalesce($blockNumber, t.blockNumber) END
)
REMOVE t._lock
RETURN applied, t {.*} AS tx
`

const markDeliveredCypher = `
MATCH (t:LedgerTransaction {id: $id})
SET t._lock = true
WITH t, (t.status = "confirmed" AND t.deliveredAt IS NULL) AS applied
FOREACH (_ IN CASE WHEN applied THEN [1] ELSE [] END |
	SET t.deliveredAt = $deliveredAt
)
REMOVE t._lock
RETURN applied, t {.*} AS tx
`

const listTransactionsCypherTemplate = `
MATCH (t:LedgerTransaction)
%s
RETURN t {.*} AS tx
ORDER BY t.createdAtNanos DESC, t.id DESC
`
