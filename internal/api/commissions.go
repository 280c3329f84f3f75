package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/commission"
	"github.com/adamstosho/GroChain-sub000/internal/model"
)

// UpdateWithdrawalRequest is the admin body for PATCH /commissions/withdrawals/{id}.
type UpdateWithdrawalRequest struct {
	Status            string `json:"status" validate:"required,oneof=processing completed failed"`
	ProviderReference string `json:"providerReference"`
	Reason            string `json:"reason"`
}

// CommissionSummary handles GET /commissions/summary.
func (s *Server) CommissionSummary(w http.ResponseWriter, r *http.Request) {
	partnerID, err := partnerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.commissions.Summary(r.Context(), partnerID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "summary": sum})
}

// CommissionHistory handles GET /commissions/history?page&limit&type&status.
func (s *Server) CommissionHistory(w http.ResponseWriter, r *http.Request) {
	partnerID, err := partnerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := intParam(q.Get("page"), "page")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	limit, err := intParam(q.Get("limit"), "limit")
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	h, err := s.commissions.History(r.Context(), partnerID, commission.HistoryQuery{
		Page:   page,
		Limit:  limit,
		Type:   q.Get("type"),
		Status: q.Get("status"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "history": h})
}

// Withdraw handles POST /commissions/withdraw.
func (s *Server) Withdraw(w http.ResponseWriter, r *http.Request) {
	partnerID, err := partnerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req commission.WithdrawRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	wd, err := s.commissions.RequestWithdrawal(r.Context(), partnerID, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "withdrawal": wd})
}

// CancelWithdrawal handles POST /commissions/withdrawals/{withdrawalID}/cancel.
func (s *Server) CancelWithdrawal(w http.ResponseWriter, r *http.Request) {
	partnerID, err := partnerOf(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	wd, err := s.commissions.CancelWithdrawal(r.Context(), partnerID, chi.URLParam(r, "withdrawalID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "withdrawal": wd})
}

// UpdateWithdrawal handles PATCH /commissions/withdrawals/{withdrawalID}.
func (s *Server) UpdateWithdrawal(w http.ResponseWriter, r *http.Request) {
	var req UpdateWithdrawalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := apperr.Check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "withdrawalID")
	var (
		wd  *model.CommissionWithdrawal
		err error
	)
	switch model.WithdrawalStatus(req.Status) {
	case model.WithdrawalProcessing:
		wd, err = s.commissions.MarkProcessing(r.Context(), id, req.ProviderReference)
	case model.WithdrawalCompleted:
		wd, err = s.commissions.CompleteWithdrawal(r.Context(), id, req.ProviderReference)
	case model.WithdrawalFailed:
		wd, err = s.commissions.FailWithdrawal(r.Context(), id, req.Reason)
	}
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "withdrawal": wd})
}

// ExportLedger handles GET /commissions/export as text/csv.
func (s *Server) ExportLedger(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	eq := commission.ExportQuery{
		PartnerID: q.Get("partner_id"),
		UserID:    q.Get("user_id"),
		Type:      model.TransactionType(q.Get("type")),
		Status:    model.TransactionStatus(q.Get("status")),
	}
	var err error
	if eq.From, err = timeParam(q.Get("from"), "from"); err != nil {
		s.writeError(w, r, err)
		return
	}
	if eq.To, err = timeParam(q.Get("to"), "to"); err != nil {
		s.writeError(w, r, err)
		return
	}

	var buf bytes.Buffer
	n, err := s.commissions.Export(r.Context(), &buf, eq)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("ledger exported", "rows", n, "partner_id", eq.PartnerID)

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="ledger-%s.csv"`, time.Now().UTC().Format("20060102")))
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

func intParam(v, name string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, apperr.Validation(fmt.Sprintf("%s must be an integer", name))
	}
	return n, nil
}

// timeParam accepts RFC 3339 timestamps or plain dates.
func timeParam(v, name string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, v); err == nil {
		return t, nil
	}
	return time.Time{}, apperr.Validation(fmt.Sprintf("%s must be a date (YYYY-MM-DD) or RFC 3339 timestamp", name))
}
