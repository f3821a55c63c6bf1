package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body, err := io.ReadAll(w.Body)
	require.NoError(t, err)
	return string(body)
}

func TestMetrics(t *testing.T) {
	t.Run("instrument counts by route", func(t *testing.T) {
		m := New()
		h := m.Instrument("DELETE /account/{id}", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))

		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/account/1", nil))
		h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodDelete, "/account/2", nil))

		body := scrape(t, m)
		assert.Contains(t, body, `identity_http_requests_total{method="DELETE",route="DELETE /account/{id}",status="404"} 2`)
		assert.Contains(t, body, "identity_http_in_flight_requests 0")
	})

	t.Run("listener results", func(t *testing.T) {
		m := New()

		m.ListenerDone("user-created", 1, nil)
		m.ListenerDone("user-created", 3, errors.New("boom"))

		body := scrape(t, m)
		assert.Contains(t, body, `identity_event_listener_calls_total{event="user-created",result="ok"} 1`)
		assert.Contains(t, body, `identity_event_listener_calls_total{event="user-created",result="failed"} 1`)
		assert.Contains(t, body, `identity_event_listener_attempts_count{event="user-created"} 2`)
	})

	t.Run("gauge func sampled on scrape", func(t *testing.T) {
		m := New()
		value := 1.0
		m.Gauge("revoked_tokens", "Revoked refresh tokens.", func() float64 { return value })

		assert.Contains(t, scrape(t, m), "identity_revoked_tokens 1")
		value = 5
		assert.Contains(t, scrape(t, m), "identity_revoked_tokens 5")
	})

	t.Run("instances are independent", func(t *testing.T) {
		a, b := New(), New()
		a.ListenerDone("e", 1, nil)

		assert.NotContains(t, scrape(t, b), `event="e"`)
	})
}
