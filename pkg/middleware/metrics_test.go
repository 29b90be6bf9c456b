package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *HTTPMetrics {
	t.Helper()
	return NewHTTPMetrics(prometheus.NewRegistry())
}

// serveWithChi wraps a handler in a chi router so RouteContext is available.
func serveWithChi(mw func(http.Handler) http.Handler, pattern string, handler http.HandlerFunc) *chi.Mux {
	r := chi.NewRouter()
	r.Use(mw)
	r.Get(pattern, handler)
	return r
}

func TestPrometheusMetrics_RequestCounting(t *testing.T) {
	m := newTestMetrics(t)
	router := serveWithChi(PrometheusMetrics(m, "users"), "/users/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	for _, id := range []string{"1", "2", "3"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/users/"+id, nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	// All three requests share the route pattern label.
	got := testutil.ToFloat64(m.requests.WithLabelValues("users", "GET", "/users/{id}", "200"))
	assert.Equal(t, float64(3), got)
}

func TestPrometheusMetrics_StatusCodeCapture(t *testing.T) {
	m := newTestMetrics(t)
	router := serveWithChi(PrometheusMetrics(m, "users"), "/missing", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/missing", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("users", "GET", "/missing", "404")))
}

func TestPrometheusMetrics_DefaultStatusCode(t *testing.T) {
	m := newTestMetrics(t)
	router := serveWithChi(PrometheusMetrics(m, "users"), "/ping", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("pong"))
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.requests.WithLabelValues("users", "GET", "/ping", "200")))
}

func TestPrometheusMetrics_DurationHistogram(t *testing.T) {
	m := newTestMetrics(t)
	router := serveWithChi(PrometheusMetrics(m, "users"), "/ping", func(w http.ResponseWriter, r *http.Request) {})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, 1, testutil.CollectAndCount(m.duration, "http_request_duration_seconds"))
}

func TestPrometheusMetrics_InFlightGauge(t *testing.T) {
	m := newTestMetrics(t)
	var during float64
	router := serveWithChi(PrometheusMetrics(m, "users"), "/ping", func(w http.ResponseWriter, r *http.Request) {
		during = testutil.ToFloat64(m.inFlight.WithLabelValues("users"))
	})

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ping", nil))

	assert.Equal(t, float64(1), during)
	assert.Equal(t, float64(0), testutil.ToFloat64(m.inFlight.WithLabelValues("users")))
}

func TestNewHTTPMetrics_DuplicateRegistrationPanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewHTTPMetrics(reg)
	assert.Panics(t, func() { NewHTTPMetrics(reg) })
}
