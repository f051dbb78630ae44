package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/vanshika/agriledger/backend/internal/domain"
	"github.com/vanshika/agriledger/backend/internal/ledger"
)

// TaskError accumulates the per-record errors of a reconciliation pass.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

type reconcileOutcome int

const (
	outcomeUnchanged reconcileOutcome = iota
	outcomeConfirmed
	outcomeFailed
	outcomeResubmitted
)

// ReconcileReport summarises one pass over the pending transactions.
type ReconcileReport struct {
	Scanned     int
	Confirmed   int
	Failed      int
	Resubmitted int
	Unchanged   int
}

// Reconciler re-drives transactions left pending, for example by a restart
// that dropped in-flight simulated settlements.
type Reconciler struct {
	service        *LedgerService
	workers        int
	pendingTimeout time.Duration
}

// NewReconciler creates a Reconciler with the provided concurrency. Connected
// mode fails records still unsettled after pendingTimeout; zero disables that.
func NewReconciler(service *LedgerService, workers int, pendingTimeout time.Duration) *Reconciler {
	if workers <= 0 {
		workers = 4
	}
	return &Reconciler{
		service:        service,
		workers:        workers,
		pendingTimeout: pendingTimeout,
	}
}

// Run reconciles every pending transaction once.
func (r *Reconciler) Run(ctx context.Context) (ReconcileReport, error) {
	pending, err := r.service.store.ListByStatus(ctx, domain.StatusPending)
	if err != nil {
		return ReconcileReport{}, fmt.Errorf("list pending transactions: %w", err)
	}

	outcomes := make([]reconcileOutcome, len(pending))
	runErr := r.run(ctx, len(pending), func(idx int) error {
		outcome, err := r.reconcile(ctx, pending[idx])
		outcomes[idx] = outcome
		return err
	})

	report := ReconcileReport{Scanned: len(pending)}
	for _, o := range outcomes {
		switch o {
		case outcomeConfirmed:
			report.Confirmed++
		case outcomeFailed:
			report.Failed++
		case outcomeResubmitted:
			report.Resubmitted++
		default:
			report.Unchanged++
		}
	}
	r.service.logger.Info("reconciliation finished",
		"scanned", report.Scanned,
		"confirmed", report.Confirmed,
		"failed", report.Failed,
		"resubmitted", report.Resubmitted,
		"unchanged", report.Unchanged,
	)
	return report, runErr
}

func (r *Reconciler) reconcile(ctx context.Context, tx *domain.Transaction) (reconcileOutcome, error) {
	s := r.service
	if s.ledger.Mode() == ledger.ModeSimulated {
		updated, err := s.submit(ctx, tx, sourceReconcile)
		if err != nil {
			return outcomeUnchanged, fmt.Errorf("resubmit %s: %w", tx.ID, err)
		}
		return outcomeOf(updated, outcomeResubmitted), nil
	}

	if !s.ledger.IsActive() {
		return outcomeUnchanged, fmt.Errorf("reconcile %s: %w", tx.ID, domain.ErrLedgerUnavailable)
	}
	rec, err := s.query(ctx, tx.ID)
	if err != nil {
		return outcomeUnchanged, fmt.Errorf("query %s: %w", tx.ID, err)
	}

	var (
		upd    domain.TransactionUpdate
		source = sourceReconcile
	)
	switch {
	case rec != nil && rec.Status == domain.StatusConfirmed && rec.TxHash != "":
		receipt := &domain.Receipt{TxHash: rec.TxHash}
		if rec.BlockNumber != nil {
			receipt.BlockNumber = *rec.BlockNumber
		}
		upd = domain.TransactionUpdate{Status: domain.StatusConfirmed, Receipt: receipt}
	case rec != nil && rec.Status == domain.StatusFailed:
		upd = domain.TransactionUpdate{Status: domain.StatusFailed}
	case r.pendingTimeout > 0 && s.nowFn().Sub(tx.CreatedAt) > r.pendingTimeout:
		upd = domain.TransactionUpdate{Status: domain.StatusFailed}
		source = sourceTimeout
	default:
		return outcomeUnchanged, nil
	}

	updated, err := s.transition(ctx, tx.ID, upd, source)
	if err != nil {
		return outcomeUnchanged, err
	}
	return outcomeOf(updated, outcomeUnchanged), nil
}

func outcomeOf(tx *domain.Transaction, pending reconcileOutcome) reconcileOutcome {
	switch tx.Status {
	case domain.StatusConfirmed:
		return outcomeConfirmed
	case domain.StatusFailed:
		return outcomeFailed
	default:
		return pending
	}
}

func (r *Reconciler) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	if err := ctx.Err(); err != nil {
		return err
	}
	var taskErr TaskError
	for err := range errCh {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	return taskErr.asError()
}
