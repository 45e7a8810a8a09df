package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/metrics"
)

func TestRateLimiter_BlocksAfterBurst(t *testing.T) {
	rl := NewRateLimiter(1, 2, logging.NewDiscard())
	handler := rl.Handler(okHandler())

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("GET", "/v1/orders", nil)
		req = req.WithContext(logging.WithUserID(req.Context(), "acct-1"))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Errorf("first two requests = %v, want 200", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("third request = %d, want %d", codes[2], http.StatusTooManyRequests)
	}
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(10, 10, logging.NewDiscard())
	now := time.Now()
	rl.now = func() time.Time { return now }
	rl.getLimiter("a")

	rl.now = func() time.Time { return now.Add(time.Hour) }
	rl.getLimiter("b")

	if removed := rl.Cleanup(time.Minute); removed != 1 {
		t.Errorf("Cleanup() removed = %d, want 1", removed)
	}
	if _, ok := rl.limiters["b"]; !ok {
		t.Error("recently used limiter should survive cleanup")
	}
}

func TestTracingMiddleware_TraceID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "uuid kept", header: "4f6c1a2e-9b7d-4c1e-8a55-0d2f3b6e7a10", keep: true},
		{name: "opaque token kept", header: "edge_7Hq2LmX9", keep: true},
		{name: "missing", header: ""},
		{name: "too short", header: "abc"},
		{name: "too long", header: strings.Repeat("a", 65)},
		{name: "log injection", header: "abcdefgh\nlevel=error"},
		{name: "spaces", header: "trace id with spaces"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTracingMiddleware(logging.NewDiscard())
			var traceID string
			handler := tm.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				traceID = logging.GetTraceID(r.Context())
			}))

			req := httptest.NewRequest("GET", "/health", nil)
			if tt.header != "" {
				req.Header.Set(TraceHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, traceID, rec.Header().Get(TraceHeader))
			if tt.keep {
				assert.Equal(t, tt.header, traceID)
				return
			}
			assert.NotEqual(t, tt.header, traceID)
			_, err := uuid.Parse(traceID)
			assert.NoError(t, err, "a fresh uuid replaces the rejected id")
		})
	}
}

func TestTracingMiddleware_LogsAuthenticatedUser(t *testing.T) {
	logger := logging.NewDiscard()
	logger.SetLevel(logrus.InfoLevel)
	hook := logtest.NewLocal(logger.Logger)

	auth := NewAuthMiddleware(testSecret, logger, nil)
	handler := NewTracingMiddleware(logger).Handler(auth.Handler(okHandler()))

	req := httptest.NewRequest("GET", "/v1/orders", nil)
	req.Header.Set("Authorization", "Bearer "+generateTestToken(t, testSecret, "acct-42", "", false))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "HTTP request", entry.Message)
	assert.Equal(t, "acct-42", entry.Data["user_id"])
	assert.Equal(t, rec.Header().Get(TraceHeader), entry.Data["trace_id"])
}

func preflight(origin string) *http.Request {
	req := httptest.NewRequest(http.MethodOptions, "/v1/orders", nil)
	req.Header.Set("Origin", origin)
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	return req
}

func TestCORSMiddleware_Preflight(t *testing.T) {
	handler := NewCORSMiddleware([]string{"https://app.example.com"}).Handler(okHandler())

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, preflight("https://app.example.com"))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://app.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Headers"), "Idempotency-Key")
}

func TestCORSMiddleware_RejectsLookalikeOrigins(t *testing.T) {
	handler := NewCORSMiddleware([]string{"example.com", "https://app.example.com"}).Handler(okHandler())

	for _, origin := range []string{
		"https://attacker-example.com",
		"https://evil.app.example.com",
		"https://app.example.com.evil.io",
		"http://app.example.com",
	} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, preflight(origin))
		assert.Equal(t, http.StatusForbidden, rec.Code, origin)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), origin)

		rec = httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/orders", nil)
		req.Header.Set("Origin", origin)
		handler.ServeHTTP(rec, req)
		assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"), origin)
	}
}

func TestOriginMatcher(t *testing.T) {
	m := NewOriginMatcher([]string{" https://App.Example.com/ "})
	assert.True(t, m.Allowed("https://app.example.com"))
	assert.True(t, m.Allowed("HTTPS://APP.EXAMPLE.COM"))
	assert.False(t, m.Allowed("https://attacker-app.example.com"))
	assert.False(t, m.Allowed(""))

	req := httptest.NewRequest("GET", "/v1/notifications/stream", nil)
	assert.True(t, m.CheckRequest(req), "non-browser clients send no origin")
	req.Header.Set("Origin", "https://other.example.com")
	assert.False(t, m.CheckRequest(req))

	assert.True(t, NewOriginMatcher([]string{"*"}).Allowed("https://anything.test"))
	assert.False(t, NewOriginMatcher(nil).Allowed("https://app.example.com"))
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	m := metrics.New()
	router := mux.NewRouter()
	router.Use(MetricsMiddleware("orderdesk", m))
	router.Handle("/v1/orders/{id}", okHandler())

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/v1/orders/abc", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("Status code = %d, want %d", rec.Code, http.StatusOK)
	}

	families, err := m.Registry.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	found := false
	for _, mf := range families {
		if mf.GetName() != "orderdesk_http_requests_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			for _, label := range metric.GetLabel() {
				if label.GetName() == "path" && label.GetValue() == "/v1/orders/{id}" {
					found = true
				}
			}
		}
	}
	if !found {
		t.Error("expected request recorded under route template /v1/orders/{id}")
	}
}
