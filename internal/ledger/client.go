package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

// Mode names the variant a Client was configured as.
type Mode string

const (
	ModeConnected Mode = "connected"
	ModeSimulated Mode = "simulation"
)

// SimulationNetworkID is reported as the network of every simulated transaction.
const SimulationNetworkID = "simulation"

// Outcome is the result class of a submission.
type Outcome string

const (
	// OutcomeConfirmed means the ledger returned a receipt synchronously.
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeDeferred means the settlement will be delivered later through Callbacks.
	OutcomeDeferred Outcome = "deferred"
	// OutcomeFailed means the submission was rejected or errored; it is never retried.
	OutcomeFailed Outcome = "failed"
)

// SubmitRequest carries the transaction intent sent to the ledger.
type SubmitRequest struct {
	TxID        string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	ProductID   *int64
	OrderID     *int64
}

// SubmitResult reports how a submission ended. Err is set only for OutcomeFailed.
type SubmitResult struct {
	Outcome Outcome
	Receipt *domain.Receipt
	Err     error
}

// Record is a transaction as the ledger network knows it.
type Record struct {
	TxID        string
	FromAddress string
	ToAddress   string
	Amount      decimal.Decimal
	Status      domain.Status
	TxHash      string
	BlockNumber *int64
	ProductID   *int64
	OrderID     *int64
	Timestamp   time.Time
}

// Callbacks receives settlements that complete after Submit has returned.
type Callbacks interface {
	SubmissionSettled(ctx context.Context, txID string, result SubmitResult)
}

// Client abstracts a real ledger network or a local simulator. Callers never
// branch on the variant; failures are reported as values or errors, never panics.
type Client interface {
	Mode() Mode
	IsActive() bool
	NetworkID() string
	SetHandler(h Callbacks)
	Submit(ctx context.Context, req SubmitRequest) SubmitResult
	ConfirmDelivery(ctx context.Context, txID string) (*domain.Receipt, error)
	QueryTransaction(ctx context.Context, txID string) (*Record, error)
	Close(ctx context.Context) error
}

// Options configures the ledger client selection.
type Options struct {
	Endpoint        string
	Network         string
	Username        string
	Password        string
	APIKey          string
	RetryCount      int
	SimulationDelay time.Duration
	ProbeTimeout    time.Duration
	// HTTPClient overrides the transport used by the gateway (tests, custom TLS).
	HTTPClient *http.Client
}

const defaultProbeTimeout = 5 * time.Second

// Configure selects the client variant once at startup. It never fails: an
// empty endpoint or an unreachable gateway yields an inactive simulator.
func Configure(ctx context.Context, logger *slog.Logger, opts Options) Client {
	logger = logger.With("component", "ledger")
	if opts.Endpoint == "" {
		logger.Info("no ledger endpoint configured, running in simulation mode", "delay", opts.SimulationDelay.String())
		return NewSimulator(logger, opts.SimulationDelay)
	}

	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	gw := NewGateway(logger, opts)
	if err := gw.Connect(probeCtx); err != nil {
		logger.Warn("ledger gateway unreachable, falling back to simulation mode", "endpoint", opts.Endpoint, "error", err)
		return NewSimulator(logger, opts.SimulationDelay)
	}
	logger.Info("ledger gateway connected", "endpoint", opts.Endpoint, "networkId", gw.NetworkID())
	return gw
}
