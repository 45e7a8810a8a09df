package middleware

import (
	"net/http"
	"strings"
)

const (
	corsAllowMethods  = "GET, POST, PATCH, DELETE, OPTIONS"
	corsAllowHeaders  = "Content-Type, Authorization, X-Trace-ID, Idempotency-Key"
	corsExposeHeaders = "X-Trace-ID, Content-Disposition"
	corsMaxAge        = "3600"
)

// OriginMatcher decides which browser origins may call the API. Origins
// match exactly, ignoring case and a trailing slash. "*" allows any origin.
type OriginMatcher struct {
	allowAll bool
	origins  map[string]struct{}
}

// NewOriginMatcher builds a matcher from configured origins.
func NewOriginMatcher(allowed []string) *OriginMatcher {
	m := &OriginMatcher{origins: make(map[string]struct{}, len(allowed))}
	for _, origin := range allowed {
		origin = normalizeOrigin(origin)
		switch origin {
		case "":
		case "*":
			m.allowAll = true
		default:
			m.origins[origin] = struct{}{}
		}
	}
	return m
}

func normalizeOrigin(origin string) string {
	return strings.ToLower(strings.TrimSuffix(strings.TrimSpace(origin), "/"))
}

// Allowed reports whether origin is configured.
func (m *OriginMatcher) Allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if m.allowAll {
		return true
	}
	_, ok := m.origins[normalizeOrigin(origin)]
	return ok
}

// CheckRequest is a websocket origin check. Requests without an Origin
// header come from non-browser clients and are let through.
func (m *OriginMatcher) CheckRequest(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || m.Allowed(origin)
}

// CORSMiddleware answers preflights and sets CORS headers for allowed origins.
// It must wrap the router, since preflights match no route.
type CORSMiddleware struct {
	origins *OriginMatcher
}

// NewCORSMiddleware creates a CORS middleware.
func NewCORSMiddleware(allowedOrigins []string) *CORSMiddleware {
	return &CORSMiddleware{origins: NewOriginMatcher(allowedOrigins)}
}

// Handler returns the CORS middleware handler.
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := m.origins.Allowed(origin)
		if origin != "" {
			w.Header().Add("Vary", "Origin")
		}
		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Expose-Headers", corsExposeHeaders)
		}

		if r.Method != http.MethodOptions || r.Header.Get("Access-Control-Request-Method") == "" {
			next.ServeHTTP(w, r)
			return
		}

		if allowed {
			w.Header().Set("Access-Control-Allow-Methods", corsAllowMethods)
			w.Header().Set("Access-Control-Allow-Headers", corsAllowHeaders)
			w.Header().Set("Access-Control-Max-Age", corsMaxAge)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusForbidden)
	})
}
