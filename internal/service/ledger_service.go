package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aidarkhanov/nanoid"
	"github.com/shopspring/decimal"

	"github.com/vanshika/agriledger/backend/internal/cache"
	"github.com/vanshika/agriledger/backend/internal/commerce"
	"github.com/vanshika/agriledger/backend/internal/domain"
	"github.com/vanshika/agriledger/backend/internal/identity"
	"github.com/vanshika/agriledger/backend/internal/ledger"
	"github.com/vanshika/agriledger/backend/internal/metrics"
	"github.com/vanshika/agriledger/backend/internal/repository"
)

const (
	idAlphabet     = "0123456789abcdefghijklmnopqrstuvwxyz"
	idSuffixLength = 10
	maxIDAttempts  = 3
)

// Transition sources reported to metrics and logs.
const (
	sourceSubmit     = "submit"
	sourceSettlement = "settlement"
	sourceDelivery   = "delivery"
	sourceReconcile  = "reconcile"
	sourceTimeout    = "reconcile_timeout"
)

// Timeouts bound each call to the ledger network.
type Timeouts struct {
	Submit  time.Duration
	Confirm time.Duration
	Query   time.Duration
}

var defaultTimeouts = Timeouts{
	Submit:  30 * time.Second,
	Confirm: 30 * time.Second,
	Query:   10 * time.Second,
}

// CreateInput is the caller-supplied part of a new transaction.
type CreateInput struct {
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	ProductID   *int64
	OrderID     *int64
}

func (in CreateInput) validate() error {
	if strings.TrimSpace(in.FromAddress) == "" {
		return &domain.ValidationError{Field: "fromAddress", Err: domain.ErrMissingAddress}
	}
	if strings.TrimSpace(in.ToAddress) == "" {
		return &domain.ValidationError{Field: "toAddress", Err: domain.ErrMissingAddress}
	}
	if !in.Amount.IsPositive() {
		return &domain.ValidationError{Field: "amount", Err: domain.ErrInvalidAmount}
	}
	return nil
}

// StatusInfo describes the configured ledger connection.
type StatusInfo struct {
	Active    bool
	NetworkID string
	Mode      ledger.Mode
}

// LedgerService records marketplace payments, submits them to the ledger and
// applies delivery side effects. The store is authoritative; the cache mirrors it.
type LedgerService struct {
	store    repository.Store
	cache    *cache.Cache
	ledger   ledger.Client
	commerce commerce.Updater
	metrics  *metrics.Metrics
	logger   *slog.Logger
	timeouts Timeouts
	nowFn    func() time.Time
	newID    func(now time.Time) (string, error)
}

// Option customises a LedgerService.
type Option func(*LedgerService)

// WithTimeouts overrides the ledger call timeouts; zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(s *LedgerService) {
		if t.Submit > 0 {
			s.timeouts.Submit = t.Submit
		}
		if t.Confirm > 0 {
			s.timeouts.Confirm = t.Confirm
		}
		if t.Query > 0 {
			s.timeouts.Query = t.Query
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *LedgerService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.nowFn = now }
}

// WithIDGenerator replaces the transaction id generator.
func WithIDGenerator(fn func(now time.Time) (string, error)) Option {
	return func(s *LedgerService) { s.newID = fn }
}

// NewLedgerService wires the service and registers it for deferred ledger settlements.
func NewLedgerService(store repository.Store, c *cache.Cache, client ledger.Client, updater commerce.Updater, logger *slog.Logger, opts ...Option) *LedgerService {
	s := &LedgerService{
		store:    store,
		cache:    c,
		ledger:   client,
		commerce: updater,
		logger:   logger.With("component", "ledger_service"),
		timeouts: defaultTimeouts,
		nowFn:    func() time.Time { return time.Now().UTC() },
		newID:    generateID,
	}
	for _, opt := range opts {
		opt(s)
	}
	client.SetHandler(s)
	return s
}

// CreateTransaction records a pending transaction for the calling user and
// submits it to the ledger. The returned record is pending, confirmed or failed.
func (s *LedgerService) CreateTransaction(ctx context.Context, in CreateInput) (*domain.Transaction, error) {
	userID, ok := identity.UserID(ctx)
	if !ok {
		return nil, domain.ErrUnauthenticated
	}
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := s.nowFn()
	tx := &domain.Transaction{
		FromAddress: strings.TrimSpace(in.FromAddress),
		ToAddress:   strings.TrimSpace(in.ToAddress),
		Amount:      in.Amount,
		ProductID:   in.ProductID,
		OrderID:     in.OrderID,
		UserID:      userID,
		NetworkID:   s.ledger.NetworkID(),
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stored, err := s.insertWithFreshID(ctx, tx)
	if err != nil {
		return nil, err
	}
	s.cache.Put(stored)
	s.metrics.TransactionCreated(string(s.ledger.Mode()))
	s.logger.Info("transaction recorded",
		"txId", stored.ID,
		"userId", userID,
		"amount", stored.Amount.String(),
		"mode", s.ledger.Mode(),
	)

	// The submission outlives the request; a disconnecting caller must not fail the payment.
	return s.submit(context.WithoutCancel(ctx), stored, sourceSubmit)
}

func (s *LedgerService) insertWithFreshID(ctx context.Context, tx *domain.Transaction) (*domain.Transaction, error) {
	var lastErr error
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := s.newID(tx.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("generate transaction id: %w", err)
		}
		tx.ID = id
		stored, err := s.store.Insert(ctx, tx)
		if err == nil {
			return stored, nil
		}
		if !errors.Is(err, domain.ErrDuplicateID) {
			return nil, fmt.Errorf("record transaction: %w", err)
		}
		lastErr = err
	}
	return nil, fmt.Errorf("record transaction after %d attempts: %w", maxIDAttempts, lastErr)
}

// submit sends a pending record to the ledger and applies any immediate outcome.
func (s *LedgerService) submit(ctx context.Context, tx *domain.Transaction, source string) (*domain.Transaction, error) {
	submitCtx, cancel := context.WithTimeout(ctx, s.timeouts.Submit)
	started := time.Now()
	res := s.ledger.Submit(submitCtx, ledger.SubmitRequest{
		TxID:        tx.ID,
		FromAddress: tx.FromAddress,
		ToAddress:   tx.ToAddress,
		Amount:      tx.Amount,
		ProductID:   tx.ProductID,
		OrderID:     tx.OrderID,
	})
	cancel()
	s.metrics.ObserveLedgerCall("submit", string(res.Outcome), time.Since(started))

	switch res.Outcome {
	case ledger.OutcomeConfirmed:
		return s.transition(ctx, tx.ID, domain.TransactionUpdate{Status: domain.StatusConfirmed, Receipt: res.Receipt}, source)
	case ledger.OutcomeDeferred:
		return tx, nil
	default:
		s.logger.Warn("ledger submission failed", "txId", tx.ID, "error", res.Err)
		return s.transition(ctx, tx.ID, domain.TransactionUpdate{Status: domain.StatusFailed}, source)
	}
}

// transition applies a status change through the store and mirrors the result into the cache.
func (s *LedgerService) transition(ctx context.Context, id string, upd domain.TransactionUpdate, source string) (*domain.Transaction, error) {
	tx, applied, err := s.store.Update(ctx, id, upd)
	if err != nil {
		return nil, fmt.Errorf("transition transaction %s to %s: %w", id, upd.Status, err)
	}
	if tx == nil {
		return nil, fmt.Errorf("transition transaction %s: %w", id, domain.ErrNotFound)
	}
	s.cache.Put(tx)
	if applied {
		s.metrics.Transition(string(tx.Status), source)
		s.logger.Info("transaction status changed", "txId", id, "status", tx.Status, "source", source)
	} else {
		s.logger.Debug("transition skipped, transaction already settled", "txId", id, "status", tx.Status, "requested", upd.Status)
	}
	return tx, nil
}

// SubmissionSettled receives deferred ledger outcomes. It only moves the
// record out of pending; delivery side effects are never applied here.
func (s *LedgerService) SubmissionSettled(ctx context.Context, txID string, result ledger.SubmitResult) {
	var upd domain.TransactionUpdate
	switch result.Outcome {
	case ledger.OutcomeConfirmed:
		upd = domain.TransactionUpdate{Status: domain.StatusConfirmed, Receipt: result.Receipt}
	case ledger.OutcomeFailed:
		upd = domain.TransactionUpdate{Status: domain.StatusFailed}
	default:
		return
	}
	if _, err := s.transition(ctx, txID, upd, sourceSettlement); err != nil {
		s.logger.Error("apply ledger settlement", "txId", txID, "error", err)
	}
}

// VerifyTransaction resolves a transaction from the cache, then the store, then
// the ledger network. Records found only on the ledger are imported.
func (s *LedgerService) VerifyTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	if tx, ok := s.cache.Get(id); ok {
		return tx, nil
	}

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load transaction %s: %w", id, err)
	}
	if tx != nil {
		s.cache.Put(tx)
		return tx, nil
	}

	if !s.ledger.IsActive() {
		return nil, domain.ErrNotFound
	}
	rec, err := s.query(ctx, id)
	if err != nil {
		s.logger.Warn("ledger lookup failed", "txId", id, "error", err)
		return nil, domain.ErrNotFound
	}
	if rec == nil {
		return nil, domain.ErrNotFound
	}
	return s.importRecord(ctx, rec)
}

// GetTransaction follows the same lookup chain as VerifyTransaction.
func (s *LedgerService) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	return s.VerifyTransaction(ctx, id)
}

func (s *LedgerService) importRecord(ctx context.Context, rec *ledger.Record) (*domain.Transaction, error) {
	remote := CreateInput{FromAddress: rec.FromAddress, ToAddress: rec.ToAddress, Amount: rec.Amount}
	if err := remote.validate(); err != nil {
		s.logger.Warn("ignoring malformed ledger record", "txId", rec.TxID, "error", err)
		return nil, domain.ErrNotFound
	}

	now := s.nowFn()
	tx := &domain.Transaction{
		ID:          rec.TxID,
		FromAddress: strings.TrimSpace(rec.FromAddress),
		ToAddress:   strings.TrimSpace(rec.ToAddress),
		Amount:      rec.Amount,
		ProductID:   rec.ProductID,
		OrderID:     rec.OrderID,
		NetworkID:   s.ledger.NetworkID(),
		Status:      domain.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if userID, ok := identity.UserID(ctx); ok {
		tx.UserID = userID
	}
	if !rec.Timestamp.IsZero() {
		tx.CreatedAt = rec.Timestamp.UTC()
	}
	switch {
	case rec.Status == domain.StatusConfirmed && rec.TxHash != "":
		hash := rec.TxHash
		tx.Status = domain.StatusConfirmed
		tx.TxHash = &hash
		tx.BlockNumber = rec.BlockNumber
	case rec.Status == domain.StatusFailed:
		tx.Status = domain.StatusFailed
	}

	stored, err := s.store.Insert(ctx, tx)
	if errors.Is(err, domain.ErrDuplicateID) {
		existing, getErr := s.store.Get(ctx, tx.ID)
		if getErr != nil {
			return nil, fmt.Errorf("load transaction %s: %w", tx.ID, getErr)
		}
		if existing == nil {
			return nil, domain.ErrNotFound
		}
		s.cache.Put(existing)
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("import ledger transaction %s: %w", tx.ID, err)
	}
	s.cache.Put(stored)
	s.logger.Info("transaction imported from ledger", "txId", stored.ID, "status", stored.Status)
	return stored, nil
}

// ConfirmDelivery marks the transaction's goods as delivered. A pending
// payment is confirmed on the ledger first. Product and order updates are
// applied exactly once however often, or concurrently, this is called.
func (s *LedgerService) ConfirmDelivery(ctx context.Context, id string) error {
	if _, ok := identity.UserID(ctx); !ok {
		return domain.ErrUnauthenticated
	}

	tx, err := s.store.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("load transaction %s: %w", id, err)
	}
	if tx == nil {
		return domain.ErrNotFound
	}

	switch tx.Status {
	case domain.StatusFailed:
		s.metrics.DeliveryConfirmation("rejected")
		return fmt.Errorf("transaction %s failed on the ledger: %w", id, domain.ErrConfirmationFailed)
	case domain.StatusPending:
		tx, err = s.confirmPending(ctx, id)
		if err != nil {
			s.metrics.DeliveryConfirmation("failed")
			return err
		}
		if tx.Status != domain.StatusConfirmed {
			s.metrics.DeliveryConfirmation("rejected")
			return fmt.Errorf("transaction %s settled as %s: %w", id, tx.Status, domain.ErrConfirmationFailed)
		}
	}

	delivered, claimed, err := s.store.MarkDelivered(ctx, id, s.nowFn())
	if err != nil {
		return fmt.Errorf("mark transaction %s delivered: %w", id, err)
	}
	if delivered == nil {
		return domain.ErrNotFound
	}
	s.cache.Put(delivered)
	if !claimed {
		if delivered.Status != domain.StatusConfirmed {
			return fmt.Errorf("transaction %s is %s: %w", id, delivered.Status, domain.ErrConfirmationFailed)
		}
		s.metrics.DeliveryConfirmation("duplicate")
		s.logger.Debug("delivery already confirmed", "txId", id)
		return nil
	}

	s.applyDeliveryEffects(context.WithoutCancel(ctx), delivered)
	s.metrics.DeliveryConfirmation("claimed")
	s.logger.Info("delivery confirmed", "txId", id, "productId", delivered.ProductID, "orderId", delivered.OrderID)
	return nil
}

func (s *LedgerService) confirmPending(ctx context.Context, id string) (*domain.Transaction, error) {
	confirmCtx, cancel := context.WithTimeout(ctx, s.timeouts.Confirm)
	started := time.Now()
	receipt, err := s.ledger.ConfirmDelivery(confirmCtx, id)
	cancel()
	if err != nil {
		s.metrics.ObserveLedgerCall("confirm", "error", time.Since(started))
		s.logger.Warn("ledger delivery confirmation failed", "txId", id, "error", err)
		if errors.Is(err, domain.ErrConfirmationFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrConfirmationFailed, err)
	}
	s.metrics.ObserveLedgerCall("confirm", "ok", time.Since(started))

	if receipt == nil && s.ledger.IsActive() {
		if rec, qerr := s.query(ctx, id); qerr == nil && rec != nil && rec.TxHash != "" {
			receipt = &domain.Receipt{TxHash: rec.TxHash}
			if rec.BlockNumber != nil {
				receipt.BlockNumber = *rec.BlockNumber
			}
		}
	}
	// A confirmed record always carries its hash and block; without them the record stays pending.
	if receipt == nil {
		s.logger.Warn("ledger acknowledged delivery without a receipt", "txId", id)
		return nil, fmt.Errorf("transaction %s has no ledger receipt: %w", id, domain.ErrConfirmationFailed)
	}

	return s.transition(context.WithoutCancel(ctx), id, domain.TransactionUpdate{Status: domain.StatusConfirmed, Receipt: receipt}, sourceDelivery)
}

func (s *LedgerService) applyDeliveryEffects(ctx context.Context, tx *domain.Transaction) {
	if tx.ProductID != nil {
		if err := s.commerce.SetProductVerified(ctx, *tx.ProductID); err != nil {
			s.logger.Error("mark product verified", "txId", tx.ID, "productId", *tx.ProductID, "error", err)
		}
	}
	if tx.OrderID != nil {
		if err := s.commerce.SetOrderStatus(ctx, *tx.OrderID, commerce.OrderStatusDelivered); err != nil {
			s.logger.Error("mark order delivered", "txId", tx.ID, "orderId", *tx.OrderID, "error", err)
		}
	}
}

func (s *LedgerService) query(ctx context.Context, id string) (*ledger.Record, error) {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeouts.Query)
	defer cancel()
	started := time.Now()
	rec, err := s.ledger.QueryTransaction(queryCtx, id)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	s.metrics.ObserveLedgerCall("query", outcome, time.Since(started))
	return rec, err
}

// ListTransactions returns every transaction, newest first. When the store is
// unavailable the cached records are served instead.
func (s *LedgerService) ListTransactions(ctx context.Context) ([]*domain.Transaction, error) {
	txs, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.Warn("store unavailable, serving cached transactions", "error", err)
		return s.cache.Snapshot(), nil
	}
	s.cache.PutAll(txs)
	return txs, nil
}

// ListUserTransactions returns the transactions initiated by userID, newest first.
func (s *LedgerService) ListUserTransactions(ctx context.Context, userID string) ([]*domain.Transaction, error) {
	txs, err := s.store.ListByUser(ctx, userID)
	if err != nil {
		s.logger.Warn("store unavailable, serving cached transactions", "userId", userID, "error", err)
		return s.cache.SnapshotByUser(userID), nil
	}
	s.cache.PutAll(txs)
	return txs, nil
}

// Status reports the ledger connection the service is running against.
func (s *LedgerService) Status() StatusInfo {
	return StatusInfo{
		Active:    s.ledger.IsActive(),
		NetworkID: s.ledger.NetworkID(),
		Mode:      s.ledger.Mode(),
	}
}

func generateID(now time.Time) (string, error) {
	suffix, err := nanoid.Generate(idAlphabet, idSuffixLength)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("tx_%d_%s", now.UnixMilli(), suffix), nil
}
