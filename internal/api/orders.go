package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/auth"
	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/store"
)

// OrderItemRequest is one line of a new order.
type OrderItemRequest struct {
	ListingID string          `json:"listingId" validate:"required"`
	FarmerID  string          `json:"farmerId" validate:"required"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
}

// CreateOrderRequest is the JSON body for POST /orders.
type CreateOrderRequest struct {
	Items []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

// CreateOrder handles POST /orders.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := apperr.Check(req); err != nil {
		s.writeError(w, r, err)
		return
	}

	items := make([]model.OrderItem, len(req.Items))
	for i, it := range req.Items {
		items[i] = model.OrderItem{ListingID: it.ListingID, FarmerID: it.FarmerID, Quantity: it.Quantity, Price: it.Price}
	}
	c := claimsOf(r)
	order, err := model.NewOrder(c.UserID, c.Email, items, time.Now().UTC())
	if err != nil {
		s.writeError(w, r, apperr.Wrap(apperr.KindValidation, apperr.CodeValidation, err, err.Error()))
		return
	}
	if err := s.store.CreateOrder(r.Context(), order); err != nil {
		s.writeError(w, r, apperr.Internal(err, "create order"))
		return
	}

	s.logger.Info("order created", "order_id", order.ID, "buyer_id", order.BuyerID, "total", order.Total.String())
	writeJSON(w, http.StatusCreated, map[string]any{"status": "success", "order": order})
}

// GetOrder handles GET /orders/{orderID}. Buyers see only their own orders.
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.ownedOrder(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "order": order})
}

// UpdateOrderRequest is the admin body for PATCH /orders/{orderID}.
type UpdateOrderRequest struct {
	Status string `json:"status" validate:"required,oneof=delivered completed"`
}

// CancelOrder handles POST /orders/{orderID}/cancel. Only a pending order
// can be cancelled; a payment confirmed afterwards is flagged for refund.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
	order, err := s.ownedOrder(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.moveOrder(w, r, order, model.OrderCancelled)
}

// UpdateOrder handles PATCH /orders/{orderID} for fulfilment updates.
func (s *Server) UpdateOrder(w http.ResponseWriter, r *http.Request) {
	var req UpdateOrderRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := apperr.Check(req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.ownedOrder(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.moveOrder(w, r, order, model.OrderStatus(req.Status))
}

// ownedOrder loads the order in the URL. Buyers only see their own.
func (s *Server) ownedOrder(r *http.Request) (*model.Order, error) {
	order, err := s.store.GetOrder(r.Context(), chi.URLParam(r, "orderID"))
	c := claimsOf(r)
	if errors.Is(err, store.ErrNotFound) || (err == nil && c.Role != auth.RoleAdmin && order.BuyerID != c.UserID) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load order")
	}
	return order, nil
}

func (s *Server) moveOrder(w http.ResponseWriter, r *http.Request, order *model.Order, to model.OrderStatus) {
	err := s.store.UpdateOrderStatus(r.Context(), order.ID, order.Status, to)
	if errors.Is(err, store.ErrStateConflict) {
		s.writeError(w, r, apperr.Wrap(apperr.KindStateConflict, apperr.CodeInvalidTransition, err,
			fmt.Sprintf("order cannot move from %s to %s", order.Status, to)))
		return
	}
	if err != nil {
		s.writeError(w, r, apperr.Internal(err, "update order"))
		return
	}
	s.logger.Info("order status changed", "order_id", order.ID, "from", order.Status, "to", to)

	updated, err := s.store.GetOrder(r.Context(), order.ID)
	if err != nil {
		s.writeError(w, r, apperr.Internal(err, "load order"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "order": updated})
}

// GetCreditScore handles GET /credit-score for the calling buyer.
func (s *Server) GetCreditScore(w http.ResponseWriter, r *http.Request) {
	userID := claimsOf(r).UserID
	if id := r.URL.Query().Get("user_id"); id != "" && claimsOf(r).Role == auth.RoleAdmin {
		userID = id
	}
	cs, err := s.credit.Get(r.Context(), userID)
	if err != nil {
		s.writeError(w, r, apperr.Internal(err, "load credit score"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "success", "creditScore": cs})
}
