package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
)

// counterValue returns the value of the named counter whose labels include all of want.
func counterValue(t *testing.T, reg *prometheus.Registry, name string, want map[string]string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.GetMetric() {
			matched := 0
			for _, lp := range metric.GetLabel() {
				if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
					matched++
				}
			}
			if matched == len(want) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestRecordersUpdateCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	m.RecordGatewayCall("DoPTrans", "session", 0.4)
	m.RecordGatewayCall("DoPTrans", "session", 0.2)
	m.RecordDonation("completed")
	m.RecordFanoutAction("courier", "failed")
	m.RecordStaleExpired(3)

	if got := counterValue(t, reg, "gateway_calls_total", map[string]string{"action": "DoPTrans", "result": "session"}); got != 2 {
		t.Fatalf("expected 2 gateway calls, got %v", got)
	}
	if got := counterValue(t, reg, "donations_total", map[string]string{"outcome": "completed"}); got != 1 {
		t.Fatalf("expected 1 completed donation, got %v", got)
	}
	if got := counterValue(t, reg, "fanout_actions_total", map[string]string{"action": "courier", "result": "failed"}); got != 1 {
		t.Fatalf("expected 1 failed courier action, got %v", got)
	}
	if got := counterValue(t, reg, "stale_pending_expired_total", map[string]string{}); got != 3 {
		t.Fatalf("expected 3 expired, got %v", got)
	}
}

func TestHTTPMetricsMiddlewareUsesRoutePattern(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	r := chi.NewRouter()
	r.Use(HTTPMetricsMiddleware(m))
	r.Get("/donations/{sessionID}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, id := range []string{"AAAAAAAAAA01", "AAAAAAAAAA02"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/donations/"+id, nil))
	}

	got := counterValue(t, reg, "http_requests_total", map[string]string{
		"handler": "/donations/{sessionID}",
		"method":  http.MethodGet,
		"status":  "4xx",
	})
	if got != 2 {
		t.Fatalf("expected 2 requests under the route pattern, got %v", got)
	}
}

func TestStatusCodeToString(t *testing.T) {
	cases := map[int]string{200: "2xx", 302: "3xx", 429: "4xx", 503: "5xx", 0: "unknown"}
	for code, want := range cases {
		if got := statusCodeToString(code); got != want {
			t.Fatalf("code %d: expected %s, got %s", code, want, got)
		}
	}
}
