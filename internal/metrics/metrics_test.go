package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.TransactionCreated("simulation")
	m.Transition("confirmed", "settlement")
	m.ObserveLedgerCall("submit", "ok", time.Second)
	m.DeliveryConfirmation("claimed")

	h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })
	rec := httptest.NewRecorder()
	m.InstrumentHandler("x", h).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}

func TestCountersAndExposition(t *testing.T) {
	m := New()
	m.TransactionCreated("simulation")
	m.TransactionCreated("simulation")
	m.Transition("confirmed", "settlement")
	m.DeliveryConfirmation("claimed")

	assert.Equal(t, 2.0, testutil.ToFloat64(m.created.WithLabelValues("simulation")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("confirmed", "settlement")))

	h := m.InstrumentHandler("status", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/status", nil))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.httpRequests.WithLabelValues("status", "200", "get")))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ledger_transactions_created_total")
	assert.Contains(t, string(body), "ledger_delivery_confirmations_total")
}
