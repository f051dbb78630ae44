package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi"
	"github.com/go-chi/cors"

	"github.com/vanshika/agriledger/backend/internal/identity"
	"github.com/vanshika/agriledger/backend/internal/metrics"
)

// RouterDependencies collects handler dependencies.
type RouterDependencies struct {
	Health           HealthService
	API              *APIHandlers
	Metrics          *metrics.Metrics
	AllowedOrigins   []string
	AllowCredentials bool
}

// NewRouter wires the HTTP routes exposed by the backend API.
func NewRouter(logger *slog.Logger, deps RouterDependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler { return loggingMiddleware(logger, next) })
	if origins := normalizeOrigins(deps.AllowedOrigins); len(origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   origins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", identity.HeaderUserID},
			AllowCredentials: deps.AllowCredentials,
			MaxAge:           300,
		}))
	}
	r.Use(identity.Middleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	instrument := deps.Metrics.InstrumentHandler

	r.Method(http.MethodGet, "/healthz", instrument("Health", healthHandler(logger, deps.Health)))
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	if api := deps.API; api != nil {
		r.Route("/api/blockchain", func(br chi.Router) {
			br.Method(http.MethodGet, "/status", instrument("LedgerStatus", http.HandlerFunc(api.status)))
			br.Method(http.MethodPost, "/transactions", instrument("CreateTransaction", http.HandlerFunc(api.createTransaction)))
			br.Method(http.MethodGet, "/transactions", instrument("ListTransactions", http.HandlerFunc(api.listTransactions)))
			br.Method(http.MethodGet, "/transactions/{id}", instrument("GetTransaction", http.HandlerFunc(api.getTransaction)))
			br.Method(http.MethodGet, "/transactions/{id}/verify", instrument("VerifyTransaction", http.HandlerFunc(api.verifyTransaction)))
			br.Method(http.MethodPost, "/transactions/{id}/confirm", instrument("ConfirmDelivery", http.HandlerFunc(api.confirmDelivery)))
			br.Method(http.MethodGet, "/user/transactions", instrument("ListUserTransactions", http.HandlerFunc(api.listUserTransactions)))
		})
	}

	return r
}

func healthHandler(logger *slog.Logger, health HealthService) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		payload := map[string]any{
			"status": "ok",
		}

		if health != nil {
			if err := health.Probe(ctx); err != nil {
				logger.Error("health probe failed", "error", err)
				status = http.StatusServiceUnavailable
				payload["status"] = "degraded"
				payload["error"] = err.Error()
			}
		}

		respondJSON(w, status, payload)
	})
}

func loggingMiddleware(logger *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(data)
}

type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func normalizeOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, origin := range origins {
		if origin = strings.TrimSpace(origin); origin != "" {
			out = append(out, origin)
		}
	}
	return out
}
