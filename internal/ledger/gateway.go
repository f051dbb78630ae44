package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"

	"github.com/vanshika/agriledger/backend/internal/domain"
)

// Ledger contract status codes returned by the gateway for a transaction lookup.
const (
	contractStatusFailed    = 0
	contractStatusPending   = 1
	contractStatusConfirmed = 2
)

// Gateway is the connected Client variant. It talks to a REST ledger gateway
// (ethconnect style) that signs and submits contract calls and replies with
// the mined receipt once the call returns.
type Gateway struct {
	logger *slog.Logger
	// submit and confirm are never retried, queries are.
	client      *resty.Client
	queryClient *resty.Client
	network     string

	mu        sync.RWMutex
	networkID string
	active    bool
}

type gatewayNetwork struct {
	Name    string `json:"name"`
	ChainID int64  `json:"chainId"`
}

type gatewaySubmission struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Amount    string `json:"amount"`
	ProductID int64  `json:"productId"`
	OrderID   int64  `json:"orderId"`
}

type gatewayReceipt struct {
	TxHash      string `json:"txHash"`
	BlockNumber *int64 `json:"blockNumber"`
}

type gatewayRecord struct {
	ID          string          `json:"id"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Amount      decimal.Decimal `json:"amount"`
	Status      int             `json:"status"`
	TxHash      string          `json:"txHash"`
	BlockNumber *int64          `json:"blockNumber"`
	ProductID   int64           `json:"productId"`
	OrderID     int64           `json:"orderId"`
	Timestamp   int64           `json:"timestamp"`
}

type gatewayError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (e *gatewayError) String() string {
	if e == nil {
		return ""
	}
	if e.Error != "" {
		return e.Error
	}
	return e.Message
}

// NewGateway builds the REST client pair for the configured endpoint. It does
// not contact the network; call Connect for that.
func NewGateway(logger *slog.Logger, opts Options) *Gateway {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	baseURL := strings.TrimSuffix(opts.Endpoint, "/")

	build := func() *resty.Client {
		c := resty.NewWithClient(httpClient).
			SetBaseURL(baseURL).
			SetHeader("Accept", "application/json")
		if opts.APIKey != "" {
			c.SetAuthToken(opts.APIKey)
		} else if opts.Username != "" && opts.Password != "" {
			c.SetBasicAuth(opts.Username, opts.Password)
		}
		c.OnAfterResponse(func(_ *resty.Client, r *resty.Response) error {
			logger.Debug("ledger gateway call",
				"method", r.Request.Method,
				"url", r.Request.URL,
				"status", r.StatusCode(),
				"duration_ms", r.Time().Milliseconds(),
			)
			return nil
		})
		return c
	}

	queryClient := build()
	if opts.RetryCount > 0 {
		queryClient.
			SetRetryCount(opts.RetryCount).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(2 * time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return r != nil && r.StatusCode() >= http.StatusInternalServerError
			})
	}

	return &Gateway{
		logger:      logger,
		client:      build(),
		queryClient: queryClient,
		network:     opts.Network,
	}
}

// Connect resolves the network identifier and marks the gateway active.
func (g *Gateway) Connect(ctx context.Context) error {
	var network gatewayNetwork
	var errBody gatewayError
	res, err := g.queryClient.R().
		SetContext(ctx).
		SetResult(&network).
		SetError(&errBody).
		Get("/network")
	if err != nil {
		return fmt.Errorf("probe ledger network: %w", err)
	}
	if !res.IsSuccess() {
		return fmt.Errorf("probe ledger network: status %d: %s", res.StatusCode(), errBody.String())
	}

	networkID := network.Name
	if networkID == "" || networkID == "unknown" {
		if network.ChainID != 0 {
			networkID = strconv.FormatInt(network.ChainID, 10)
		} else {
			networkID = g.network
		}
	}
	if networkID == "" {
		return errors.New("probe ledger network: gateway reported no network identifier")
	}

	g.mu.Lock()
	g.networkID = networkID
	g.active = true
	g.mu.Unlock()
	return nil
}

func (g *Gateway) Mode() Mode { return ModeConnected }

func (g *Gateway) IsActive() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.active
}

func (g *Gateway) NetworkID() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.networkID
}

// SetHandler is a no-op; the gateway settles synchronously and never invokes callbacks.
func (g *Gateway) SetHandler(Callbacks) {}

// Submit sends the createTransaction call and blocks until the gateway replies with the receipt.
func (g *Gateway) Submit(ctx context.Context, req SubmitRequest) SubmitResult {
	body := gatewaySubmission{
		ID:        req.TxID,
		From:      req.FromAddress,
		To:        req.ToAddress,
		Amount:    req.Amount.String(),
		ProductID: valueOrZero(req.ProductID),
		OrderID:   valueOrZero(req.OrderID),
	}

	var receipt gatewayReceipt
	var errBody gatewayError
	res, err := g.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&receipt).
		SetError(&errBody).
		Post("/transactions")
	if err != nil {
		return SubmitResult{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: %v", domain.ErrSubmissionFailed, err)}
	}
	if !res.IsSuccess() {
		return SubmitResult{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: status %d: %s", domain.ErrSubmissionFailed, res.StatusCode(), errBody.String())}
	}
	if receipt.TxHash == "" {
		return SubmitResult{Outcome: OutcomeFailed, Err: fmt.Errorf("%w: gateway returned no transaction hash", domain.ErrSubmissionFailed)}
	}

	return SubmitResult{
		Outcome: OutcomeConfirmed,
		Receipt: &domain.Receipt{TxHash: receipt.TxHash, BlockNumber: valueOrZero(receipt.BlockNumber)},
	}
}

// ConfirmDelivery invokes the confirmDelivery contract call and waits for acknowledgment.
// The returned receipt is nil when the gateway acknowledges without confirmation metadata.
func (g *Gateway) ConfirmDelivery(ctx context.Context, txID string) (*domain.Receipt, error) {
	var receipt gatewayReceipt
	var errBody gatewayError
	res, err := g.client.R().
		SetContext(ctx).
		SetPathParam("id", txID).
		SetResult(&receipt).
		SetError(&errBody).
		Post("/transactions/{id}/confirm")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrConfirmationFailed, err)
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("%w: status %d: %s", domain.ErrConfirmationFailed, res.StatusCode(), errBody.String())
	}
	if receipt.TxHash == "" {
		return nil, nil
	}
	return &domain.Receipt{TxHash: receipt.TxHash, BlockNumber: valueOrZero(receipt.BlockNumber)}, nil
}

// QueryTransaction reads the ledger's view of txID; a 404 yields (nil, nil).
func (g *Gateway) QueryTransaction(ctx context.Context, txID string) (*Record, error) {
	var rec gatewayRecord
	var errBody gatewayError
	res, err := g.queryClient.R().
		SetContext(ctx).
		SetPathParam("id", txID).
		SetResult(&rec).
		SetError(&errBody).
		Get("/transactions/{id}")
	if err != nil {
		return nil, fmt.Errorf("query ledger transaction %s: %w", txID, err)
	}
	if res.StatusCode() == http.StatusNotFound {
		return nil, nil
	}
	if !res.IsSuccess() {
		return nil, fmt.Errorf("query ledger transaction %s: status %d: %s", txID, res.StatusCode(), errBody.String())
	}
	if rec.ID == "" {
		rec.ID = txID
	}
	return rec.toRecord(), nil
}

// Close marks the gateway inactive; the underlying HTTP client has no resources to release.
func (g *Gateway) Close(context.Context) error {
	g.mu.Lock()
	g.active = false
	g.mu.Unlock()
	return nil
}

func (r gatewayRecord) toRecord() *Record {
	rec := &Record{
		TxID:        r.ID,
		FromAddress: r.From,
		ToAddress:   r.To,
		Amount:      r.Amount,
		Status:      contractStatus(r.Status),
		TxHash:      r.TxHash,
		BlockNumber: r.BlockNumber,
		ProductID:   positiveOrNil(r.ProductID),
		OrderID:     positiveOrNil(r.OrderID),
	}
	if r.Timestamp > 0 {
		rec.Timestamp = time.Unix(r.Timestamp, 0).UTC()
	}
	return rec
}

func contractStatus(code int) domain.Status {
	switch code {
	case contractStatusConfirmed:
		return domain.StatusConfirmed
	case contractStatusPending:
		return domain.StatusPending
	default:
		return domain.StatusFailed
	}
}

func valueOrZero(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

func positiveOrNil(v int64) *int64 {
	if v <= 0 {
		return nil
	}
	return &v
}
