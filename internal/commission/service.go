// Package commission handles partner commission balances: withdrawal
// requests and their payout lifecycle, plus the read-only ledger views
// (summary, paginated history and audit export).
package commission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/fees"
	"github.com/adamstosho/GroChain-sub000/internal/metrics"
	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/store"
)

// EventWithdrawal is the ledger event type for withdrawal changes.
const EventWithdrawal = "withdrawal_updated"

// Publisher receives ledger events after they are committed.
type Publisher interface {
	Publish(event model.LedgerEvent)
}

// WithdrawRequest asks to cash out part of a partner's balance.
type WithdrawRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Method      string          `json:"method" validate:"required,oneof=bank_transfer mobile_money wallet"`
	Destination string          `json:"destination" validate:"required"`
}

// Service manages withdrawals and ledger reads for partners.
type Service struct {
	store     store.Store
	fees      *fees.Schedule
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService creates a commission service. publisher may be nil.
func NewService(st store.Store, schedule *fees.Schedule, publisher Publisher, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     st,
		fees:      schedule,
		publisher: publisher,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

var (
	errInsufficientBalance = apperr.New(apperr.KindStateConflict, apperr.CodeInsufficientBalance, "insufficient commission balance")
	errPartnerNotFound     = apperr.New(apperr.KindNotFound, apperr.CodePartnerNotFound, "partner not found")
)

// RequestWithdrawal reserves req.Amount from the partner's balance and
// records a pending withdrawal. The balance is untouched when it is short.
func (s *Service) RequestWithdrawal(ctx context.Context, partnerID string, req WithdrawRequest) (*model.CommissionWithdrawal, error) {
	if err := apperr.Check(req); err != nil {
		return nil, err
	}
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("amount must be greater than 0")
	}
	if !s.fees.SupportsMethod(req.Method) {
		return nil, apperr.Validation(fmt.Sprintf("unsupported withdrawal method %q", req.Method))
	}

	// Balance first, so a short balance reads as such whatever the fee. The
	// conditional reservation in CreateWithdrawal stays authoritative.
	partner, err := s.store.GetPartner(ctx, partnerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errPartnerNotFound
	}
	if err != nil {
		return nil, apperr.Internal(err, "load partner")
	}
	if req.Amount.GreaterThan(partner.CommissionBalance) {
		return nil, errInsufficientBalance
	}

	fee, err := s.fees.ProcessingFee(req.Method, req.Amount)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, apperr.CodeValidation, err, "invalid withdrawal method")
	}
	w, err := model.NewWithdrawal(partnerID, req.Amount, fee, req.Method, req.Destination, s.now())
	if errors.Is(err, model.ErrInvalidFee) {
		return nil, apperr.Validation(fmt.Sprintf("amount must exceed the processing fee of %s", fee))
	}
	if err != nil {
		return nil, apperr.Internal(err, "build withdrawal")
	}

	err = s.store.CreateWithdrawal(ctx, w)
	switch {
	case errors.Is(err, store.ErrInsufficientBalance):
		return nil, errInsufficientBalance
	case errors.Is(err, store.ErrNotFound):
		return nil, errPartnerNotFound
	case err != nil:
		return nil, apperr.Internal(err, "create withdrawal")
	}

	metrics.Withdrawals.WithLabelValues(string(w.Status)).Inc()
	s.logger.Info("withdrawal requested",
		"withdrawal_id", w.ID,
		"partner_id", partnerID,
		"amount", w.Amount.String(),
		"fee", w.ProcessingFee.String(),
		"method", w.Method,
	)
	s.publish(w)
	return w, nil
}

// MarkProcessing moves a pending withdrawal to processing.
func (s *Service) MarkProcessing(ctx context.Context, id, providerRef string) (*model.CommissionWithdrawal, error) {
	return s.transition(ctx, store.WithdrawalUpdate{
		ID:                id,
		From:              []model.WithdrawalStatus{model.WithdrawalPending},
		To:                model.WithdrawalProcessing,
		ProviderReference: providerRef,
	})
}

// CompleteWithdrawal moves a processing withdrawal to completed.
func (s *Service) CompleteWithdrawal(ctx context.Context, id, providerRef string) (*model.CommissionWithdrawal, error) {
	return s.transition(ctx, store.WithdrawalUpdate{
		ID:                id,
		From:              []model.WithdrawalStatus{model.WithdrawalProcessing},
		To:                model.WithdrawalCompleted,
		ProviderReference: providerRef,
	})
}

// FailWithdrawal marks a pending or processing withdrawal failed and hands
// the reserved amount back to the partner.
func (s *Service) FailWithdrawal(ctx context.Context, id, reason string) (*model.CommissionWithdrawal, error) {
	return s.transition(ctx, store.WithdrawalUpdate{
		ID:            id,
		From:          []model.WithdrawalStatus{model.WithdrawalPending, model.WithdrawalProcessing},
		To:            model.WithdrawalFailed,
		FailureReason: reason,
	})
}

// CancelWithdrawal lets the owning partner cancel a pending withdrawal.
func (s *Service) CancelWithdrawal(ctx context.Context, partnerID, id string) (*model.CommissionWithdrawal, error) {
	return s.transition(ctx, store.WithdrawalUpdate{
		ID:        id,
		PartnerID: partnerID,
		From:      []model.WithdrawalStatus{model.WithdrawalPending},
		To:        model.WithdrawalCancelled,
	})
}

func (s *Service) transition(ctx context.Context, u store.WithdrawalUpdate) (*model.CommissionWithdrawal, error) {
	if u.ID == "" {
		return nil, apperr.Validation("withdrawal id is required")
	}
	u.At = s.now()

	w, err := s.store.TransitionWithdrawal(ctx, u)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeWithdrawalNotFound, "withdrawal not found")
	case errors.Is(err, store.ErrStateConflict):
		return nil, apperr.New(apperr.KindStateConflict, apperr.CodeInvalidTransition,
			fmt.Sprintf("withdrawal cannot move to %s", u.To))
	case err != nil:
		return nil, apperr.Internal(err, "update withdrawal")
	}

	metrics.Withdrawals.WithLabelValues(string(w.Status)).Inc()
	attrs := []any{"withdrawal_id", w.ID, "partner_id", w.PartnerID, "status", w.Status}
	if u.RestoresBalance() {
		attrs = append(attrs, "restored", w.Amount.String())
	}
	if w.FailureReason != "" {
		attrs = append(attrs, "reason", w.FailureReason)
	}
	s.logger.Info("withdrawal updated", attrs...)
	s.publish(w)
	return w, nil
}

func (s *Service) publish(w *model.CommissionWithdrawal) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(model.LedgerEvent{
		Type:      EventWithdrawal,
		Reference: w.ID,
		PartnerID: w.PartnerID,
		Amount:    w.Amount,
		Status:    string(w.Status),
		At:        w.UpdatedAt,
	})
}
