package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordSubmission(t *testing.T) {
	m := New()
	m.RecordSubmission("plagiarism_check", "paid")
	m.RecordSubmission("plagiarism_check", "paid")

	if got := testutil.ToFloat64(m.ordersSubmitted.WithLabelValues("plagiarism_check", "paid")); got != 2 {
		t.Errorf("submitted = %v, want 2", got)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RecordSubmission("ai_removal", "failed")
	m.RecordFulfillment("ok")
	m.RecordSwept(3)
	m.RecordLedgerOperation("debit", "ok")
	m.RecordNotificationFailure()
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("orderdesk", "GET", "/v1/orders", "200", 10*time.Millisecond)
	m.RecordSwept(2)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	for _, name := range []string{"orderdesk_http_requests_total", "orderdesk_orders_swept_total"} {
		if !strings.Contains(body, name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}
