package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/errors"
	"github.com/onlab/orderdesk/internal/httputil"
	"github.com/onlab/orderdesk/internal/middleware"
	"github.com/onlab/orderdesk/internal/reports"
	"github.com/onlab/orderdesk/internal/workflow"
)

type updateMeRequest struct {
	DisplayName string `json:"display_name" validate:"required,max=120"`
}

type meResponse struct {
	*domain.Account
	Balance int64  `json:"balance"`
	Role    string `json:"role,omitempty"`
}

type walletResponse struct {
	AccountID string `json:"account_id"`
	Balance   int64  `json:"balance"`
}

type quoteRequest struct {
	Kind  string `json:"kind" validate:"required,oneof=plagiarism_check course_hero_unlock research_library_unlock ai_removal"`
	Pages int    `json:"pages" validate:"omitempty,min=1,max=2000"`
}

type quoteResponse struct {
	Kind  domain.ServiceKind `json:"kind"`
	Pages int                `json:"pages,omitempty"`
	Price int64              `json:"price"`
}

type submitForm struct {
	Kind           string `form:"kind" validate:"required,oneof=plagiarism_check course_hero_unlock research_library_unlock ai_removal"`
	Name           string `form:"name" validate:"max=200"`
	URL            string `form:"url" validate:"omitempty,url,max=2048"`
	IdempotencyKey string `form:"idempotency_key" validate:"max=128"`
}

type reportLink struct {
	Name string `json:"name"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

type resultResponse struct {
	*domain.Result
	Reports []reportLink `json:"reports"`
}

func (s *Server) handleGetMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	account, err := s.accounts.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, meResponse{
		Account: account,
		Balance: balance,
		Role:    middleware.GetUserRole(r.Context()),
	})
}

func (s *Server) handleUpdateMe(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	var req updateMeRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	account, err := s.accounts.UpdateDisplayName(r.Context(), userID, req.DisplayName)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, account)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	balance, err := s.ledger.GetBalance(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, walletResponse{AccountID: userID, Balance: balance})
}

func (s *Server) handleWalletEntries(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	entries, total, err := s.ledger.Entries(r.Context(), userID, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newPageResponse(entries, total, page))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	kind := domain.ServiceKind(req.Kind)
	price, err := s.engine.Quote(kind, req.Pages)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, quoteResponse{Kind: kind, Pages: req.Pages, Price: price})
}

// handleSubmitOrder accepts a multipart form with kind, name and either a
// file or a url. The Idempotency-Key header makes retries resume one order.
func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	form := submitForm{
		Kind:           r.FormValue("kind"),
		Name:           r.FormValue("name"),
		URL:            r.FormValue("url"),
		IdempotencyKey: r.Header.Get(IdempotencyKeyHeader),
	}
	if form.IdempotencyKey == "" {
		form.IdempotencyKey = r.FormValue("idempotency_key")
	}
	if err := validate.Struct(&form); err != nil {
		s.writeError(w, r, validationError(err))
		return
	}

	files, closeFiles, err := s.openFiles(r, "file")
	defer closeFiles()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(files) > 1 {
		s.writeError(w, r, errors.Validation("only one file may be submitted", nil))
		return
	}

	req := workflow.SubmitRequest{
		AccountID:      userID,
		Kind:           domain.ServiceKind(form.Kind),
		Name:           form.Name,
		URL:            form.URL,
		IdempotencyKey: form.IdempotencyKey,
	}
	if len(files) == 1 {
		req.File = &files[0]
	}

	order, err := s.engine.SubmitOrder(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, total, err := s.orders.ListByAccount(r.Context(), userID, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newPageResponse(items, total, page))
}

// ownOrder loads an order of the caller. Foreign orders are reported missing.
func (s *Server) ownOrder(w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return nil, false
	}
	order, err := s.orders.Get(r.Context(), mux.Vars(r)["id"])
	if err == nil && order.AccountID != userID {
		err = fmt.Errorf("order: %w", domain.ErrNotFound)
	}
	if err != nil {
		s.writeError(w, r, err)
		return nil, false
	}
	return order, true
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	order, ok := s.ownOrder(w, r)
	if !ok {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (s *Server) handleGetResult(w http.ResponseWriter, r *http.Request) {
	order, ok := s.ownOrder(w, r)
	if !ok {
		return
	}
	result, err := s.orders.GetResult(r.Context(), order.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	links := make([]reportLink, 0, len(result.ReportPaths))
	for _, p := range result.ReportPaths {
		url, err := s.reports.AddressFor(r.Context(), p, s.signedURLTTL)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		links = append(links, reportLink{Name: reports.EntryName(p), Path: p, URL: url})
	}
	httputil.WriteJSON(w, http.StatusOK, resultResponse{Result: result, Reports: links})
}

func (s *Server) handleResultBundle(w http.ResponseWriter, r *http.Request) {
	order, ok := s.ownOrder(w, r)
	if !ok {
		return
	}
	result, err := s.orders.GetResult(r.Context(), order.ID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if len(result.ReportPaths) == 0 {
		s.writeError(w, r, fmt.Errorf("reports: %w", domain.ErrNotFound))
		return
	}

	w.Header().Set("Content-Type", reports.ZipContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "order-"+order.ID+"-reports.zip"))
	w.WriteHeader(http.StatusOK)
	if err := reports.WriteBundle(r.Context(), w, s.reports, result); err != nil {
		// Headers are sent; the client sees a truncated archive.
		s.logger.WithContext(r.Context()).WithError(err).WithField("order_id", order.ID).Error("Report bundle failed")
	}
}

func (s *Server) handleListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, total, err := s.notifications.List(r.Context(), userID, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newPageResponse(items, total, page))
}

func (s *Server) handleUnreadCount(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	n, err := s.notifications.Unread(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"unread": n})
}

func (s *Server) handleMarkRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	if err := s.notifications.MarkRead(r.Context(), userID, mux.Vars(r)["id"]); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	n, err := s.notifications.MarkAllRead(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (s *Server) handleNotificationStream(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	s.streamer.Serve(w, r, userID)
}
