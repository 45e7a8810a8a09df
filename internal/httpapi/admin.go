package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/onlab/orderdesk/internal/domain"
	"github.com/onlab/orderdesk/internal/errors"
	"github.com/onlab/orderdesk/internal/httputil"
	"github.com/onlab/orderdesk/internal/orders"
	"github.com/onlab/orderdesk/internal/reports"
	"github.com/onlab/orderdesk/internal/workflow"
)

// exportLimit caps the rows of one spreadsheet export.
const exportLimit = 10000

type creditRequest struct {
	Amount    int64  `json:"amount" validate:"required,gt=0"`
	Reference string `json:"reference" validate:"required,max=128"`
}

type adminOrderQuery struct {
	State     string `form:"state" validate:"omitempty,oneof=created paid fulfilled failed"`
	AccountID string `form:"account_id" validate:"omitempty,max=64"`
}

func (s *Server) orderFilter(r *http.Request) (orders.Filter, error) {
	q := adminOrderQuery{
		State:     r.URL.Query().Get("state"),
		AccountID: r.URL.Query().Get("account_id"),
	}
	if err := validate.Struct(&q); err != nil {
		return orders.Filter{}, validationError(err)
	}
	return orders.Filter{AccountID: q.AccountID, State: domain.OrderState(q.State)}, nil
}

// handleAdminListOrders serves the fulfillment queue, filterable by state.
func (s *Server) handleAdminListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := s.orderFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	page, err := pageFromQuery(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	items, total, err := s.orders.List(r.Context(), filter, page)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, newPageResponse(items, total, page))
}

// handleFulfillOrder accepts ai_score, plag_score, report files under
// "reports" and previously stored report paths under "report_paths".
func (s *Server) handleFulfillOrder(w http.ResponseWriter, r *http.Request) {
	if !s.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	files, closeFiles, err := s.openFiles(r, "reports")
	defer closeFiles()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	req := workflow.FulfillRequest{
		AIScore:     r.FormValue("ai_score"),
		PlagScore:   r.FormValue("plag_score"),
		Reports:     files,
		ReportPaths: r.MultipartForm.Value["report_paths"],
	}
	orderID := mux.Vars(r)["id"]
	result, err := s.engine.FulfillOrder(r.Context(), orderID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.LogSecurityEvent(r.Context(), "order_fulfilled", map[string]interface{}{
		"order_id": orderID,
		"reports":  len(result.ReportPaths),
	})
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (s *Server) handleCreditAccount(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	accountID := mux.Vars(r)["id"]
	if _, err := s.accounts.Get(r.Context(), accountID); err != nil {
		s.writeError(w, r, err)
		return
	}

	entry, err := s.engine.CreditAccount(r.Context(), accountID, req.Amount, req.Reference)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.logger.LogSecurityEvent(r.Context(), "wallet_credited", map[string]interface{}{
		"account_id": accountID,
		"amount":     req.Amount,
		"reference":  req.Reference,
	})
	httputil.WriteJSON(w, http.StatusOK, entry)
}

func (s *Server) stats(r *http.Request) (*domain.Stats, error) {
	stats, err := s.orders.Stats(r.Context())
	if err != nil {
		return nil, err
	}
	if stats.Accounts, err = s.accounts.Count(r.Context()); err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.stats(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// handleAdminExport writes the filtered orders and a summary as xlsx.
func (s *Server) handleAdminExport(w http.ResponseWriter, r *http.Request) {
	filter, err := s.orderFilter(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	var all []domain.Order
	for number := 1; ; number++ {
		page := domain.NewPage(number, domain.MaxPageSize)
		items, total, err := s.orders.List(r.Context(), filter, page)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		all = append(all, items...)
		if len(items) < page.Size || len(all) >= total {
			break
		}
		if len(all) >= exportLimit {
			s.writeError(w, r, errors.Validation(fmt.Sprintf("export exceeds %d orders, narrow the filter", exportLimit), nil))
			return
		}
	}

	stats, err := s.stats(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	name := fmt.Sprintf("orders-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", reports.XLSXContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if err := reports.WriteOrders(w, all, stats); err != nil {
		s.logger.WithContext(r.Context()).WithError(err).Error("Order export failed")
	}
}
