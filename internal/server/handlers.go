package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/shopspring/decimal"

	"github.com/vanshika/agriledger/backend/internal/domain"
	"github.com/vanshika/agriledger/backend/internal/identity"
	"github.com/vanshika/agriledger/backend/internal/service"
)

// APIHandlers exposes the ledger service over HTTP.
type APIHandlers struct {
	logger  *slog.Logger
	service *service.LedgerService
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, svc *service.LedgerService) *APIHandlers {
	return &APIHandlers{
		logger:  logger,
		service: svc,
	}
}

func (h *APIHandlers) status(w http.ResponseWriter, r *http.Request) {
	info := h.service.Status()
	respondJSON(w, http.StatusOK, statusResponse{
		Active:    info.Active,
		NetworkID: info.NetworkID,
		Mode:      string(info.Mode),
	})
}

func (h *APIHandlers) createTransaction(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.UserID(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var payload createTransactionRequest
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if payload.Amount == nil {
		writeError(w, http.StatusBadRequest, "fromAddress, toAddress and amount are required")
		return
	}

	tx, err := h.service.CreateTransaction(r.Context(), service.CreateInput{
		FromAddress: payload.FromAddress,
		ToAddress:   payload.ToAddress,
		Amount:      *payload.Amount,
		ProductID:   payload.ProductID,
		OrderID:     payload.OrderID,
	})
	if err != nil {
		h.fail(w, err, "failed to create transaction")
		return
	}
	respondJSON(w, http.StatusCreated, toTransactionResponse(tx))
}

func (h *APIHandlers) listTransactions(w http.ResponseWriter, r *http.Request) {
	if _, ok := identity.UserID(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	txs, err := h.service.ListTransactions(r.Context())
	if err != nil {
		h.fail(w, err, "failed to list transactions")
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponses(txs))
}

func (h *APIHandlers) listUserTransactions(w http.ResponseWriter, r *http.Request) {
	userID, ok := identity.UserID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	txs, err := h.service.ListUserTransactions(r.Context(), userID)
	if err != nil {
		h.fail(w, err, "failed to list user transactions")
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponses(txs))
}

func (h *APIHandlers) getTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	tx, err := h.service.GetTransaction(r.Context(), txID)
	if err != nil {
		h.fail(w, err, "failed to fetch transaction")
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *APIHandlers) verifyTransaction(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	tx, err := h.service.VerifyTransaction(r.Context(), txID)
	if err != nil {
		h.fail(w, err, "failed to verify transaction")
		return
	}
	respondJSON(w, http.StatusOK, toTransactionResponse(tx))
}

func (h *APIHandlers) confirmDelivery(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	if err := h.service.ConfirmDelivery(r.Context(), txID); err != nil {
		h.fail(w, err, "failed to confirm delivery")
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"id":      txID,
		"message": "delivery confirmed",
	})
}

// fail maps service errors onto HTTP statuses. Unexpected errors are logged
// and reported with a generic message.
func (h *APIHandlers) fail(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "unauthorized")
	case domain.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "transaction not found")
	case errors.Is(err, domain.ErrConfirmationFailed):
		writeError(w, http.StatusNotFound, "transaction not found or confirmation failed")
	default:
		h.logger.Error(msg, "error", err)
		writeError(w, http.StatusInternalServerError, msg)
	}
}

type statusResponse struct {
	Active    bool   `json:"active"`
	NetworkID string `json:"networkId"`
	Mode      string `json:"mode"`
}

type createTransactionRequest struct {
	FromAddress string           `json:"fromAddress"`
	ToAddress   string           `json:"toAddress"`
	Amount      *decimal.Decimal `json:"amount"`
	ProductID   *int64           `json:"productId"`
	OrderID     *int64           `json:"orderId"`
}

type transactionResponse struct {
	ID          string  `json:"id"`
	FromAddress string  `json:"fromAddress"`
	ToAddress   string  `json:"toAddress"`
	Amount      string  `json:"amount"`
	ProductID   *int64  `json:"productId"`
	OrderID     *int64  `json:"orderId"`
	UserID      string  `json:"userId,omitempty"`
	NetworkID   string  `json:"networkId"`
	Status      string  `json:"status"`
	TxHash      *string `json:"txHash"`
	BlockNumber *int64  `json:"blockNumber"`
	DeliveredAt *string `json:"deliveredAt"`
	CreatedAt   string  `json:"createdAt"`
	UpdatedAt   string  `json:"updatedAt"`
}

func toTransactionResponse(tx *domain.Transaction) transactionResponse {
	resp := transactionResponse{
		ID:          tx.ID,
		FromAddress: tx.FromAddress,
		ToAddress:   tx.ToAddress,
		Amount:      tx.Amount.String(),
		ProductID:   tx.ProductID,
		OrderID:     tx.OrderID,
		UserID:      tx.UserID,
		NetworkID:   tx.NetworkID,
		Status:      string(tx.Status),
		TxHash:      tx.TxHash,
		BlockNumber: tx.BlockNumber,
		CreatedAt:   formatTime(tx.CreatedAt),
		UpdatedAt:   formatTime(tx.UpdatedAt),
	}
	if tx.DeliveredAt != nil {
		delivered := formatTime(*tx.DeliveredAt)
		resp.DeliveredAt = &delivered
	}
	return resp
}

func toTransactionResponses(txs []*domain.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txs))
	for _, tx := range txs {
		out = append(out, toTransactionResponse(tx))
	}
	return out
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{
		"error": msg,
	})
}
