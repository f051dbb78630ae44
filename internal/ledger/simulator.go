package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	mrand "math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

// Simulator stands in for a ledger network. Submissions settle after a fixed
// delay on tracked background goroutines that Close cancels and waits for.
type Simulator struct {
	logger *slog.Logger
	delay  time.Duration

	mu      sync.Mutex
	handler Callbacks
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	blocks atomic.Int64
}

// NewSimulator creates a Simulator whose submissions settle after delay.
func NewSimulator(logger *slog.Logger, delay time.Duration) *Simulator {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Simulator{
		logger: logger,
		delay:  delay,
		ctx:    ctx,
		cancel: cancel,
	}
	s.blocks.Store(mrand.Int63n(1_000_000))
	return s
}

func (s *Simulator) Mode() Mode        { return ModeSimulated }
func (s *Simulator) IsActive() bool    { return false }
func (s *Simulator) NetworkID() string { return SimulationNetworkID }

func (s *Simulator) SetHandler(h Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

// Submit schedules the settlement and returns OutcomeDeferred immediately.
func (s *Simulator) Submit(_ context.Context, req SubmitRequest) SubmitResult {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return SubmitResult{Outcome: OutcomeFailed, Err: fmt.Errorf("simulator closed: %w", domain.ErrLedgerUnavailable)}
	}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.settle(req.TxID)

	s.logger.Debug("simulated transaction scheduled", "txId", req.TxID, "delay", s.delay.String())
	return SubmitResult{Outcome: OutcomeDeferred}
}

func (s *Simulator) settle(txID string) {
	defer s.wg.Done()

	timer := time.NewTimer(s.delay)
	defer timer.Stop()

	select {
	case <-s.ctx.Done():
		s.logger.Info("simulated settlement cancelled", "txId", txID)
		return
	case <-timer.C:
	}

	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	if h == nil {
		s.logger.Warn("simulated settlement dropped, no handler registered", "txId", txID)
		return
	}

	// Settlement writes must not be torn by a concurrent Close.
	h.SubmissionSettled(context.WithoutCancel(s.ctx), txID, SubmitResult{
		Outcome: OutcomeConfirmed,
		Receipt: s.receipt(),
	})
}

// ConfirmDelivery succeeds immediately with a synthesized receipt.
func (s *Simulator) ConfirmDelivery(_ context.Context, txID string) (*domain.Receipt, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("confirm %s: simulator closed: %w", txID, domain.ErrLedgerUnavailable)
	}
	return s.receipt(), nil
}

// QueryTransaction always reports absent; there is no remote network to ask.
func (s *Simulator) QueryTransaction(context.Context, string) (*Record, error) {
	return nil, nil
}

// Close cancels pending settlements and waits for running ones to finish.
func (s *Simulator) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Simulator) receipt() *domain.Receipt {
	return &domain.Receipt{
		TxHash:      randomHash(),
		BlockNumber: s.blocks.Add(1),
	}
}

func randomHash() string {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return fmt.Sprintf("0x%064x", time.Now().UnixNano())
	}
	return "0x" + hex.EncodeToString(b[:])
}
