// Package api is the HTTP surface of the settlement engine: payment
// initiation and the gateway callback, partner commission endpoints, order
// intake, the buyer credit signal and the live ledger feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/auth"
	"github.com/adamstosho/GroChain-sub000/internal/commission"
	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/settlement"
	"github.com/adamstosho/GroChain-sub000/internal/store"
)

const maxBodyBytes = 1 << 20

// CreditReader returns a buyer's credit signal. credit.Updater implements it.
type CreditReader interface {
	Get(ctx context.Context, userID string) (*model.CreditScore, error)
}

// Config wires the server's collaborators. Feed, Limiter and
// WebhookSecret are optional.
type Config struct {
	Engine        *settlement.Engine
	Commissions   *commission.Service
	Credit        CreditReader
	Store         store.Store
	Issuer        *auth.Issuer
	Feed          *LedgerFeed
	Limiter       *IPRateLimiter
	WebhookSecret string
	Logger        *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	engine        *settlement.Engine
	commissions   *commission.Service
	credit        CreditReader
	store         store.Store
	issuer        *auth.Issuer
	feed          *LedgerFeed
	limiter       *IPRateLimiter
	webhookSecret string
	logger        *slog.Logger
}

// NewServer creates the HTTP server handlers.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		engine:        cfg.Engine,
		commissions:   cfg.Commissions,
		credit:        cfg.Credit,
		store:         cfg.Store,
		issuer:        cfg.Issuer,
		feed:          cfg.Feed,
		limiter:       cfg.Limiter,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger,
	}
}

// Routes returns the API router, ready to be mounted.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	// Gateway callback: public, rate limited per IP.
	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.Middleware)
		}
		r.Post("/payments/verify", s.VerifyPayment)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.issuer.Middleware)

		if s.feed != nil {
			r.Get("/ws", s.feed.HandleWS)
		}
		r.With(auth.RequireRole(auth.RoleBuyer)).Post("/orders", s.CreateOrder)
		r.Get("/orders/{orderID}", s.GetOrder)
		r.With(auth.RequireRole(auth.RoleBuyer)).Post("/orders/{orderID}/cancel", s.CancelOrder)
		r.With(auth.RequireRole(auth.RoleAdmin)).Patch("/orders/{orderID}", s.UpdateOrder)
		r.With(auth.RequireRole(auth.RoleBuyer)).Post("/payments/initialize", s.InitializePayment)
		r.With(auth.RequireRole(auth.RoleBuyer)).Get("/credit-score", s.GetCreditScore)

		r.Route("/commissions", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RolePartner))
			r.Get("/summary", s.CommissionSummary)
			r.Get("/history", s.CommissionHistory)
			r.Post("/withdraw", s.Withdraw)
			r.Post("/withdrawals/{withdrawalID}/cancel", s.CancelWithdrawal)

			r.With(auth.RequireRole(auth.RoleAdmin)).Get("/export", s.ExportLedger)
			r.With(auth.RequireRole(auth.RoleAdmin)).Patch("/withdrawals/{withdrawalID}", s.UpdateWithdrawal)
		})

		r.Route("/admin/payments", func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RoleAdmin))
			r.Post("/reconcile", s.ReconcilePayments)
			r.Post("/{reference}/resettle", s.ResettlePayment)
		})
	})

	return r
}

// --- Response helpers ---

type errorBody struct {
	Status  string `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"err", err,
		)
	}
	writeJSON(w, status, errorBody{
		Status:  "error",
		Code:    apperr.CodeOf(err),
		Message: apperr.PublicMessage(err),
	})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("request body too large")
		}
		return apperr.Wrap(apperr.KindValidation, apperr.CodeValidation, err, "invalid request body")
	}
	return nil
}

func claimsOf(r *http.Request) *auth.Claims {
	c, _ := auth.FromContext(r.Context())
	if c == nil {
		return &auth.Claims{}
	}
	return c
}

// partnerOf resolves the partner a commission request acts for. Admins may
// act for any partner through ?partner_id=.
func partnerOf(r *http.Request) (string, error) {
	c := claimsOf(r)
	if c.Role == auth.RoleAdmin {
		if id := r.URL.Query().Get("partner_id"); id != "" {
			return id, nil
		}
	}
	if c.PartnerID == "" {
		return "", apperr.New(apperr.KindNotFound, apperr.CodePartnerNotFound, "no partner account linked to this user")
	}
	return c.PartnerID, nil
}
