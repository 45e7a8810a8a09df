package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/onlab/orderdesk/internal/logging"
)

// TraceHeader carries the request trace id in both directions.
const TraceHeader = "X-Trace-ID"

// traceIDPattern accepts uuids and similar opaque tokens from upstream proxies.
var traceIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_-]{7,63}$`)

type requestInfoKey struct{}

// requestInfo is filled by inner middleware and read when the request is logged.
type requestInfo struct {
	userID string
}

// noteUserID records the authenticated account for the request log.
func noteUserID(ctx context.Context, userID string) {
	if info, ok := ctx.Value(requestInfoKey{}).(*requestInfo); ok {
		info.userID = userID
	}
}

// TracingMiddleware assigns each request a trace id and logs it on completion.
type TracingMiddleware struct {
	logger *logging.Logger
}

// NewTracingMiddleware creates a tracing middleware.
func NewTracingMiddleware(logger *logging.Logger) *TracingMiddleware {
	return &TracingMiddleware{logger: logger}
}

// Handler returns the tracing middleware handler.
func (m *TracingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get(TraceHeader)
		if !traceIDPattern.MatchString(traceID) {
			traceID = logging.NewTraceID()
		}

		info := &requestInfo{}
		ctx := logging.WithTraceID(r.Context(), traceID)
		ctx = context.WithValue(ctx, requestInfoKey{}, info)
		w.Header().Set(TraceHeader, traceID)

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r.WithContext(ctx))

		if info.userID != "" {
			ctx = logging.WithUserID(ctx, info.userID)
		}
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rw.statusCode, time.Since(start))
	})
}
