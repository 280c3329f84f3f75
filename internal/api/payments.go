package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/auth"
	"github.com/adamstosho/GroChain-sub000/internal/settlement"
)

// VerifyRequest is the gateway callback body.
type VerifyRequest struct {
	Reference string `json:"reference" validate:"required"`
}

// InitializePayment handles POST /payments/initialize.
func (s *Server) InitializePayment(w http.ResponseWriter, r *http.Request) {
	var req settlement.InitiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if c := claimsOf(r); c.Role != auth.RoleAdmin {
		req.BuyerID = c.UserID
	}

	sess, err := s.engine.InitiatePayment(r.Context(), req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"payment": map[string]any{"data": sess},
	})
}

// VerifyPayment handles POST /payments/verify, the gateway callback. Once
// the body is well formed the answer is 200 whatever the settlement
// outcome, so the gateway does not keep retrying; the ledger is the record.
func (s *Server) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	if s.webhookSecret != "" && !validSignature(s.webhookSecret, body, r.Header.Get(SignatureHeader)) {
		s.logger.Warn("verify callback rejected: bad signature", "remote", r.RemoteAddr)
		writeJSON(w, http.StatusUnauthorized, errorBody{Status: "error", Code: "INVALID_SIGNATURE", Message: "invalid signature"})
		return
	}

	var req VerifyRequest
	if err := json.NewDecoder(bytes.NewReader(body)).Decode(&req); err != nil {
		s.writeError(w, r, apperr.Validation("invalid request body"))
		return
	}
	if err := apperr.Check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	res, err := s.engine.ConfirmPayment(r.Context(), req.Reference)
	if err != nil {
		s.logger.Warn("payment verification not settled",
			"reference", req.Reference,
			"code", apperr.CodeOf(err),
			"err", err,
		)
		writeJSON(w, http.StatusOK, map[string]any{
			"status":  "success",
			"message": "verification received",
			"data":    map[string]any{"reference": req.Reference, "code": apperr.CodeOf(err)},
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"message": "verification received",
		"data":    res,
	})
}

// ResettlePayment handles POST /admin/payments/{reference}/resettle.
func (s *Server) ResettlePayment(w http.ResponseWriter, r *http.Request) {
	res, err := s.engine.ResettleCommissions(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "data": res})
}

// ReconcilePayments handles POST /admin/payments/reconcile?older_than=15m.
func (s *Server) ReconcilePayments(w http.ResponseWriter, r *http.Request) {
	olderThan := 15 * time.Minute
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			s.writeError(w, r, apperr.Validation("older_than must be a duration such as 15m"))
			return
		}
		olderThan = d
	}
	report, err := s.engine.ReconcilePending(r.Context(), olderThan)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "report": report})
}
