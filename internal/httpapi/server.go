// Package httpapi exposes the orderdesk HTTP API.
package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/onlab/orderdesk/internal/accounts"
	"github.com/onlab/orderdesk/internal/httputil"
	"github.com/onlab/orderdesk/internal/ledger"
	"github.com/onlab/orderdesk/internal/logging"
	"github.com/onlab/orderdesk/internal/metrics"
	"github.com/onlab/orderdesk/internal/middleware"
	"github.com/onlab/orderdesk/internal/notify"
	"github.com/onlab/orderdesk/internal/objectstore"
	"github.com/onlab/orderdesk/internal/orders"
	"github.com/onlab/orderdesk/internal/workflow"
)

const serviceName = "orderdesk"

// Config wires the API to its services.
type Config struct {
	Engine        *workflow.Engine
	Accounts      *accounts.Service
	Ledger        ledger.Store
	Orders        orders.Repository
	Notifications *notify.Service
	Streamer      *notify.Streamer
	Reports       objectstore.Gateway

	Auth        *middleware.AuthMiddleware
	RateLimiter *middleware.RateLimiter
	CORS        *middleware.CORSMiddleware
	Logger      *logging.Logger
	Metrics     *metrics.Metrics

	MaxUploadBytes int64
	SignedURLTTL   time.Duration
}

// Server holds the API handlers.
type Server struct {
	engine        *workflow.Engine
	accounts      *accounts.Service
	ledger        ledger.Store
	orders        orders.Repository
	notifications *notify.Service
	streamer      *notify.Streamer
	reports       objectstore.Gateway

	auth        *middleware.AuthMiddleware
	rateLimiter *middleware.RateLimiter
	cors        *middleware.CORSMiddleware
	logger      *logging.Logger
	metrics     *metrics.Metrics

	maxUpload    int64
	signedURLTTL time.Duration
}

// New validates cfg and builds a server.
func New(cfg Config) (*Server, error) {
	switch {
	case cfg.Engine == nil:
		return nil, errors.New("httpapi: workflow engine is required")
	case cfg.Accounts == nil, cfg.Ledger == nil, cfg.Orders == nil:
		return nil, errors.New("httpapi: account, ledger and order stores are required")
	case cfg.Notifications == nil:
		return nil, errors.New("httpapi: notification service is required")
	case cfg.Reports == nil:
		return nil, errors.New("httpapi: report object store is required")
	case cfg.Auth == nil:
		return nil, errors.New("httpapi: auth middleware is required")
	}

	s := &Server{
		engine:        cfg.Engine,
		accounts:      cfg.Accounts,
		ledger:        cfg.Ledger,
		orders:        cfg.Orders,
		notifications: cfg.Notifications,
		streamer:      cfg.Streamer,
		reports:       cfg.Reports,
		auth:          cfg.Auth,
		rateLimiter:   cfg.RateLimiter,
		cors:          cfg.CORS,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		maxUpload:     cfg.MaxUploadBytes,
		signedURLTTL:  cfg.SignedURLTTL,
	}
	if s.logger == nil {
		s.logger = logging.NewDiscard()
	}
	if s.maxUpload <= 0 {
		s.maxUpload = 25 << 20
	}
	if s.signedURLTTL <= 0 {
		s.signedURLTTL = 15 * time.Minute
	}
	return s, nil
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(middleware.NewTracingMiddleware(s.logger).Handler)
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(serviceName, s.metrics))
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/v1").Subrouter()
	api.Use(s.auth.Handler, s.provision)
	if s.rateLimiter != nil {
		api.Use(s.rateLimiter.Handler)
	}

	api.HandleFunc("/me", s.handleGetMe).Methods(http.MethodGet)
	api.HandleFunc("/me", s.handleUpdateMe).Methods(http.MethodPatch)
	api.HandleFunc("/wallet", s.handleWallet).Methods(http.MethodGet)
	api.HandleFunc("/wallet/entries", s.handleWalletEntries).Methods(http.MethodGet)
	api.HandleFunc("/quotes", s.handleQuote).Methods(http.MethodPost)

	api.HandleFunc("/orders", s.handleSubmitOrder).Methods(http.MethodPost)
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/result", s.handleGetResult).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/result/bundle", s.handleResultBundle).Methods(http.MethodGet)

	api.HandleFunc("/notifications", s.handleListNotifications).Methods(http.MethodGet)
	api.HandleFunc("/notifications/unread", s.handleUnreadCount).Methods(http.MethodGet)
	api.HandleFunc("/notifications/read-all", s.handleMarkAllRead).Methods(http.MethodPost)
	api.HandleFunc("/notifications/{id}/read", s.handleMarkRead).Methods(http.MethodPost)
	if s.streamer != nil {
		api.HandleFunc("/notifications/stream", s.handleNotificationStream).Methods(http.MethodGet)
	}

	admin := api.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireAdmin)
	admin.HandleFunc("/orders", s.handleAdminListOrders).Methods(http.MethodGet)
	admin.HandleFunc("/orders/export.xlsx", s.handleAdminExport).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/fulfill", s.handleFulfillOrder).Methods(http.MethodPost)
	admin.HandleFunc("/accounts/{id}/credit", s.handleCreditAccount).Methods(http.MethodPost)
	admin.HandleFunc("/stats", s.handleAdminStats).Methods(http.MethodGet)

	// Preflights match no route, so CORS wraps the router instead of joining it.
	if s.cors != nil {
		return s.cors.Handler(r)
	}
	return r
}

// provision creates the caller's account and wallet on first sight.
func (s *Server) provision(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := middleware.ClaimsFromContext(r.Context())
		if claims == nil {
			httputil.Unauthorized(w, "")
			return
		}
		if _, err := s.accounts.EnsureAccount(r.Context(), claims.UserID(), claims.Email, claims.DisplayName()); err != nil {
			s.logger.WithContext(r.Context()).WithError(err).Error("Account provisioning failed")
			s.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
}

// writeError maps err and logs server-side failures.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if se := internalStatus(err); se >= http.StatusInternalServerError {
		s.logger.WithContext(r.Context()).WithError(err).WithField("path", r.URL.Path).Error("Request failed")
	}
	httputil.WriteServiceError(w, r, err)
}
