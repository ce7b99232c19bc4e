package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestTransitionMovesGauge(t *testing.T) {
	m := New(nil)
	m.Transition("", "connecting")
	m.Transition("connecting", "connected")
	m.Transition("connected", "connected")

	if got := testutil.ToFloat64(m.Connections.WithLabelValues("connected")); got != 1 {
		t.Fatalf("connected gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.Connections.WithLabelValues("connecting")); got != 0 {
		t.Fatalf("connecting gauge = %v", got)
	}
}

func TestHandlerServesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.EventsApplied.WithLabelValues("message", "insert").Inc()

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `murmur_events_applied_total{entity="message",op="insert"} 1`) {
		t.Fatalf("metric missing from output:\n%s", body)
	}
}
