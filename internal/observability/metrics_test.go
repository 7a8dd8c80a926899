package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsManager_Disabled(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Enabled: false})

	assert.False(t, mm.IsEnabled())
	assert.NotPanics(t, func() {
		mm.RecordTransition("approve", "pending_subject", "pending_holder")
		mm.RecordTokenLogin(true)
		mm.RecordEventPublished("transaction.approved", errors.New("boom"))
	})

	var nilManager *MetricsManager
	assert.NotPanics(t, func() { nilManager.RecordProxyResponse("standby") })
}

func TestMetricsManager_Records(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Enabled: true})
	require.True(t, mm.IsEnabled())

	mm.RecordTransition("approve", "pending_subject", "pending_holder")
	mm.RecordTransition("approve", "pending_subject", "pending_holder")
	mm.RecordDeniedAction("approve", "completed")
	mm.RecordTokenLogin(false)
	mm.RecordProxyResponse("standby")

	assert.Equal(t, 2.0, testutil.ToFloat64(mm.transactionTransitions.WithLabelValues("approve", "pending_subject", "pending_holder")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.transactionDenied.WithLabelValues("approve", "completed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.tokenLogins.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(mm.proxyResponses.WithLabelValues("standby")))
}

func TestMetricsMiddleware_UsesRoutePattern(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Enabled: true})

	r := chi.NewRouter()
	r.Use(mm.MetricsMiddleware())
	r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	for _, id := range []string{"a", "b"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/transactions/"+id, nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(mm.httpRequestsTotal.WithLabelValues("GET", "/transactions/{id}", "204")))
}

func TestMetricsHandler(t *testing.T) {
	mm := NewMetricsManager(MetricsConfig{Enabled: true})
	mm.RecordUpstreamRequest("orion", http.MethodGet, http.StatusOK, 10*time.Millisecond)

	rec := httptest.NewRecorder()
	mm.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "procuredata_upstream_requests_total")
}
