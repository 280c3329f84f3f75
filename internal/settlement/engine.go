// Package settlement turns a verified gateway payment into ledger entries:
// the completed payment, one platform fee and one commission per referring
// partner. Every write is keyed by a reference derived from the payment
// reference, so confirmations can be replayed any number of times.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/fees"
	"github.com/adamstosho/GroChain-sub000/internal/gateway"
	"github.com/adamstosho/GroChain-sub000/internal/metrics"
	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/reference"
	"github.com/adamstosho/GroChain-sub000/internal/store"
	"github.com/adamstosho/GroChain-sub000/internal/tier"
)

// Outcome describes what a confirmation did.
type Outcome string

const (
	// OutcomeSettled: this call produced the fee and commissions.
	OutcomeSettled Outcome = "settled"
	// OutcomeAlreadySettled: an earlier call settled the payment.
	OutcomeAlreadySettled Outcome = "already_settled"
	// OutcomeAlreadyFailed: the payment is failed or cancelled; nothing to do.
	OutcomeAlreadyFailed Outcome = "already_failed"
	// OutcomeFailed: the gateway reported failure and the payment was marked failed.
	OutcomeFailed Outcome = "failed"
	// OutcomePending: the gateway has no final verdict yet.
	OutcomePending Outcome = "pending"
	// OutcomeMismatch: the gateway reported success for a different amount,
	// reference or order; the payment is left pending for reconciliation.
	OutcomeMismatch Outcome = "verification_mismatch"
	// OutcomeOrderConflict: the order was already paid under another reference.
	OutcomeOrderConflict Outcome = "order_conflict"
	// OutcomeResettled: an operator re-drive wrote missing commissions.
	OutcomeResettled Outcome = "resettled"
)

// Ledger event types.
const (
	EventPaymentConfirmed = "payment_confirmed"
	EventPaymentFailed    = "payment_failed"
	EventCommission       = "commission_earned"
)

// InitiateRequest opens a payment for an order.
type InitiateRequest struct {
	OrderID string `json:"orderId" validate:"required"`
	Email   string `json:"email" validate:"required,email"`

	// BuyerID, when set, must own the order.
	BuyerID string `json:"-"`
}

// CommissionResult is the per-partner outcome of a settlement.
type CommissionResult struct {
	PartnerID string          `json:"partner_id"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	Rate      decimal.Decimal `json:"rate"`
	Amount    decimal.Decimal `json:"amount"`
	Created   bool            `json:"created"`
	Error     string          `json:"error,omitempty"`
}

// ConfirmResult is returned by ConfirmPayment.
type ConfirmResult struct {
	Outcome     Outcome            `json:"outcome"`
	Reference   string             `json:"reference"`
	OrderID     string             `json:"order_id,omitempty"`
	PlatformFee decimal.Decimal    `json:"platform_fee"`
	Commissions []CommissionResult `json:"commissions,omitempty"`
}

// ReconcileReport summarises a ReconcilePending run.
type ReconcileReport struct {
	Checked  int             `json:"checked"`
	Outcomes map[Outcome]int `json:"outcomes"`
	Errors   int             `json:"errors"`
}

// Engine settles payments. It is safe for concurrent use.
type Engine struct {
	store     store.Store
	gateway   gateway.Adapter
	tiers     *tier.Resolver
	fees      *fees.Schedule
	credit    CreditRecorder
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time

	currency      string
	dueDays       int
	asyncCredit   bool
	creditTimeout time.Duration
	wg            sync.WaitGroup
}

// NewEngine creates a settlement engine. credit may be nil.
func NewEngine(st store.Store, gw gateway.Adapter, resolver *tier.Resolver, schedule *fees.Schedule, credit CreditRecorder, opts ...Option) *Engine {
	e := &Engine{
		store:         st,
		gateway:       gw,
		tiers:         resolver,
		fees:          schedule,
		credit:        credit,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
		currency:      "NGN",
		dueDays:       model.DefaultCommissionDueDays,
		creditTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Wait blocks until background credit updates finish.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// InitiatePayment opens a gateway checkout session for a pending order and
// records the pending payment under a fresh reference.
func (e *Engine) InitiatePayment(ctx context.Context, req InitiateRequest) (*gateway.Session, error) {
	if err := apperr.Check(req); err != nil {
		return nil, err
	}

	order, err := e.store.GetOrder(ctx, req.OrderID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && req.BuyerID != "" && order.BuyerID != req.BuyerID) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeOrderNotFound, "order not found")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load order")
	}
	if order.Status != model.OrderPending {
		return nil, apperr.New(apperr.KindStateConflict, apperr.CodeOrderNotPending,
			fmt.Sprintf("order is %s, not pending", order.Status))
	}

	now := e.now()
	ref := reference.New(now)
	meta := map[string]any{"orderId": order.ID, "buyerId": order.BuyerID}

	sess, err := e.gateway.Initialize(ctx, gateway.InitializeRequest{
		Email:     req.Email,
		Amount:    order.Total,
		Reference: ref,
		Metadata:  meta,
	})
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("initialize").Inc()
		e.logger.Error("gateway initialize failed", "order_id", order.ID, "reference", ref, "err", err)
		return nil, apperr.Wrap(apperr.KindGateway, apperr.CodeGatewayUnavailable, err, "payment gateway unavailable")
	}

	tx := &model.Transaction{
		ID:        uuid.New().String(),
		Type:      model.TxPayment,
		Status:    model.TxPending,
		Amount:    order.Total,
		Currency:  e.currency,
		Reference: ref,
		UserID:    order.BuyerID,
		OrderID:   order.ID,
		Provider:  e.gateway.Name(),
		Metadata:  meta,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := e.store.InsertTransaction(ctx, tx)
	if err != nil {
		return nil, apperr.Internal(err, "record payment")
	}
	if !created {
		return nil, apperr.Internal(fmt.Errorf("reference %s already recorded", ref), "record payment")
	}

	metrics.PaymentsInitiated.Inc()
	e.logger.Info("payment initiated",
		"reference", ref,
		"order_id", order.ID,
		"amount", order.Total.String(),
	)
	return sess, nil
}

// ConfirmPayment settles the payment identified by ref. It is idempotent:
// any number of calls, concurrent or not, produce one completed payment,
// one platform fee and one commission per partner.
func (e *Engine) ConfirmPayment(ctx context.Context, ref string) (res *ConfirmResult, err error) {
	start := time.Now()
	defer func() {
		outcome := "error"
		if res != nil {
			outcome = string(res.Outcome)
		}
		metrics.PaymentConfirmations.WithLabelValues(outcome).Inc()
		metrics.SettlementLatency.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	if ref == "" {
		return nil, apperr.Validation("reference is required")
	}
	pay, err := e.lookupPayment(ctx, ref)
	if err != nil {
		return nil, err
	}

	switch pay.Status {
	case model.TxFailed, model.TxCancelled:
		return &ConfirmResult{Outcome: OutcomeAlreadyFailed, Reference: ref, OrderID: pay.OrderID}, nil

	case model.TxCompleted:
		fee, err := e.store.GetTransactionByReference(ctx, reference.PlatformFee(ref))
		if err == nil {
			// Credit history is keyed by payment, so this only fills a gap
			// left by a crash after the fee was written.
			e.recordCredit(ctx, pay.UserID, pay)
			return &ConfirmResult{Outcome: OutcomeAlreadySettled, Reference: ref, OrderID: pay.OrderID, PlatformFee: fee.Amount}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, apperr.Internal(err, "load platform fee")
		}
		// Completed without a fee: re-drive settlement without asking the
		// gateway again.
		e.logger.Warn("re-driving incomplete settlement", "reference", ref)
		return e.settle(context.WithoutCancel(ctx), pay, "")
	}

	v, err := e.gateway.Verify(ctx, ref)
	if err != nil {
		metrics.GatewayErrors.WithLabelValues("verify").Inc()
		e.logger.Error("gateway verify failed", "reference", ref, "err", err)
		return nil, apperr.Wrap(apperr.KindGateway, apperr.CodeGatewayUnavailable, err, "payment gateway unavailable")
	}

	// The gateway has spoken; the outcome must be recorded even if the
	// caller goes away.
	ctx = context.WithoutCancel(ctx)

	switch v.Status {
	case gateway.StatusSuccess:
		if reason := mismatch(pay, v); reason != "" {
			metrics.VerificationMismatches.WithLabelValues(reason).Inc()
			e.logger.Error("gateway success does not match payment; left pending",
				"reference", ref,
				"reason", reason,
				"expected_amount", pay.Amount.String(),
				"verified_amount", v.Amount.String(),
				"verified_reference", v.Reference,
			)
			return &ConfirmResult{Outcome: OutcomeMismatch, Reference: ref, OrderID: pay.OrderID}, nil
		}
		return e.settle(ctx, pay, v.ProviderReference)
	case gateway.StatusFailed, gateway.StatusAbandoned:
		changed, err := e.store.FailTransaction(ctx, ref, e.now())
		if err != nil {
			return nil, apperr.Internal(err, "mark payment failed")
		}
		if changed {
			e.logger.Info("payment failed", "reference", ref, "order_id", pay.OrderID, "gateway_status", v.Status)
			e.publish(model.LedgerEvent{Type: EventPaymentFailed, Reference: ref, OrderID: pay.OrderID, Amount: pay.Amount, Status: string(model.TxFailed)})
		}
		return &ConfirmResult{Outcome: OutcomeFailed, Reference: ref, OrderID: pay.OrderID}, nil
	default:
		e.logger.Info("payment not final yet", "reference", ref, "gateway_status", v.Status)
		return &ConfirmResult{Outcome: OutcomePending, Reference: ref, OrderID: pay.OrderID}, nil
	}
}

// ResettleCommissions re-runs commission distribution for a completed
// payment. Partners already credited are skipped by their derived reference.
func (e *Engine) ResettleCommissions(ctx context.Context, ref string) (*ConfirmResult, error) {
	pay, err := e.lookupPayment(ctx, ref)
	if err != nil {
		return nil, err
	}
	if pay.Status != model.TxCompleted {
		return nil, apperr.New(apperr.KindStateConflict, apperr.CodeInvalidTransition,
			fmt.Sprintf("payment is %s, not completed", pay.Status))
	}

	fee, err := e.store.GetTransactionByReference(ctx, reference.PlatformFee(ref))
	if errors.Is(err, store.ErrNotFound) {
		return e.settle(ctx, pay, "")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load platform fee")
	}

	order, err := e.store.GetOrder(ctx, pay.OrderID)
	if err != nil {
		return nil, apperr.Internal(err, "load order")
	}
	commissions := e.distribute(ctx, pay, order)
	e.logger.Info("commissions resettled", "reference", ref, "partners", len(commissions))
	return &ConfirmResult{
		Outcome:     OutcomeResettled,
		Reference:   ref,
		OrderID:     order.ID,
		PlatformFee: fee.Amount,
		Commissions: commissions,
	}, nil
}

// ReconcilePending re-drives confirmation for payments left pending longer
// than olderThan, such as those whose callback never arrived.
func (e *Engine) ReconcilePending(ctx context.Context, olderThan time.Duration) (*ReconcileReport, error) {
	pending, _, err := e.store.ListTransactions(ctx, store.TransactionFilter{
		Type:          model.TxPayment,
		Status:        model.TxPending,
		CreatedBefore: e.now().Add(-olderThan),
	})
	if err != nil {
		return nil, apperr.Internal(err, "list pending payments")
	}

	report := &ReconcileReport{Outcomes: make(map[Outcome]int)}
	for _, tx := range pending {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++
		res, err := e.ConfirmPayment(ctx, tx.Reference)
		if err != nil {
			report.Errors++
			e.logger.Warn("reconcile failed", "reference", tx.Reference, "err", err)
			continue
		}
		report.Outcomes[res.Outcome]++
	}
	e.logger.Info("reconciliation finished", "checked", report.Checked, "errors", report.Errors)
	return report, nil
}

func (e *Engine) lookupPayment(ctx context.Context, ref string) (*model.Transaction, error) {
	pay, err := e.store.GetTransactionByReference(ctx, ref)
	if errors.Is(err, store.ErrNotFound) || (err == nil && pay.Type != model.TxPayment) {
		return nil, apperr.New(apperr.KindNotFound, apperr.CodeUnknownReference, "unknown payment reference")
	}
	if err != nil {
		return nil, apperr.Internal(err, "load payment")
	}
	return pay, nil
}

// mismatch returns why a successful verification cannot settle pay, or ""
// when it matches. An underpayment, a different reference or a different
// order all disqualify it.
func mismatch(pay *model.Transaction, v *gateway.Verification) string {
	if v.Reference != "" && v.Reference != pay.Reference {
		return "reference"
	}
	if v.Amount.LessThan(pay.Amount) {
		return "amount"
	}
	if id, ok := v.Metadata["orderId"].(string); ok && id != "" && id != pay.OrderID {
		return "order"
	}
	return ""
}

// settle finalizes a verified payment and, when this call created the
// platform fee, distributes commissions. The credit signal is updated on
// every path that sees the payment completed.
func (e *Engine) settle(ctx context.Context, pay *model.Transaction, providerRef string) (*ConfirmResult, error) {
	ref := pay.Reference
	order, err := e.store.GetOrder(ctx, pay.OrderID)
	if err != nil {
		return nil, apperr.Internal(err, "load order")
	}

	now := e.now()
	fee := e.fees.PlatformFee(order.Total)
	feeTx := &model.Transaction{
		ID:          uuid.New().String(),
		Type:        model.TxPlatformFee,
		Status:      model.TxCompleted,
		Amount:      fee,
		Currency:    e.currency,
		Reference:   reference.PlatformFee(ref),
		UserID:      order.BuyerID,
		OrderID:     order.ID,
		Metadata:    map[string]any{"paymentReference": ref, "rate": e.fees.PlatformFeeRate().String()},
		ProcessedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	fin, err := e.store.FinalizePayment(ctx, store.FinalizeParams{
		Reference:         ref,
		PlatformFee:       feeTx,
		At:                now,
		ProviderReference: providerRef,
	})
	if errors.Is(err, store.ErrStateConflict) {
		return &ConfirmResult{Outcome: OutcomeAlreadyFailed, Reference: ref, OrderID: pay.OrderID}, nil
	}
	if err != nil {
		return nil, apperr.Internal(err, "finalize payment")
	}

	if fin.OrderConflict {
		e.logger.Warn("order already paid under another reference; payment needs refund",
			"reference", ref,
			"order_id", order.ID,
			"paid_reference", fin.Order.PaymentReference,
		)
		return &ConfirmResult{Outcome: OutcomeOrderConflict, Reference: ref, OrderID: order.ID}, nil
	}
	if !fin.FeeCreated {
		existing, err := e.store.GetTransactionByReference(ctx, feeTx.Reference)
		if err != nil {
			return nil, apperr.Internal(err, "load platform fee")
		}
		// Appends nothing when the first settlement already recorded it.
		e.recordCredit(ctx, order.BuyerID, fin.Payment)
		return &ConfirmResult{Outcome: OutcomeAlreadySettled, Reference: ref, OrderID: order.ID, PlatformFee: existing.Amount}, nil
	}

	metrics.PlatformFees.Add(fee.InexactFloat64())
	e.logger.Info("payment settled",
		"reference", ref,
		"order_id", order.ID,
		"amount", fin.Payment.Amount.String(),
		"platform_fee", fee.String(),
	)
	e.publish(model.LedgerEvent{Type: EventPaymentConfirmed, Reference: ref, OrderID: order.ID, Amount: fin.Payment.Amount, Status: string(model.TxCompleted)})

	commissions := e.distribute(ctx, fin.Payment, fin.Order)
	e.recordCredit(ctx, order.BuyerID, fin.Payment)

	return &ConfirmResult{
		Outcome:     OutcomeSettled,
		Reference:   ref,
		OrderID:     order.ID,
		PlatformFee: fee,
		Commissions: commissions,
	}, nil
}

// partnerShare is one partner's slice of an order.
type partnerShare struct {
	partnerID  string
	referralID string
	subtotal   decimal.Decimal
}

// shares groups line items by the referring partner of each item's farmer.
// Items whose farmer has no partner earn no commission.
func (e *Engine) shares(ctx context.Context, order *model.Order) []*partnerShare {
	var out []*partnerShare
	byPartner := make(map[string]*partnerShare)
	for _, item := range order.Items {
		farmer, err := e.store.GetFarmer(ctx, item.FarmerID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			e.logger.Error("load farmer failed", "order_id", order.ID, "farmer_id", item.FarmerID, "err", err)
			continue
		}
		if farmer.PartnerID == "" {
			continue
		}
		sh, ok := byPartner[farmer.PartnerID]
		if !ok {
			sh = &partnerShare{partnerID: farmer.PartnerID, referralID: farmer.ReferralID}
			byPartner[farmer.PartnerID] = sh
			out = append(out, sh)
		}
		sh.subtotal = sh.subtotal.Add(item.Subtotal())
	}
	return out
}

// distribute writes one commission per partner. Partners are independent:
// a failure is logged and counted and the rest still settle.
func (e *Engine) distribute(ctx context.Context, pay *model.Transaction, order *model.Order) []CommissionResult {
	shares := e.shares(ctx, order)
	if len(shares) == 0 {
		return nil
	}

	tiers, err := e.store.ListCommissionTiers(ctx)
	if err != nil {
		e.logger.Error("load commission tiers failed; using fallback rates", "err", err)
		tiers = nil
	}

	results := make([]CommissionResult, 0, len(shares))
	for _, sh := range shares {
		res, err := e.commissionFor(ctx, pay, order, sh, tiers)
		if err != nil {
			metrics.CommissionWrites.WithLabelValues("failed").Inc()
			e.logger.Error("commission write failed",
				"reference", pay.Reference,
				"partner_id", sh.partnerID,
				"err", err,
			)
			res.Error = err.Error()
		}
		results = append(results, res)
	}
	return results
}

func (e *Engine) commissionFor(ctx context.Context, pay *model.Transaction, order *model.Order, sh *partnerShare, tiers []model.CommissionTier) (CommissionResult, error) {
	res := CommissionResult{PartnerID: sh.partnerID, Subtotal: sh.subtotal}

	partner, err := e.store.GetPartner(ctx, sh.partnerID)
	if err != nil {
		return res, fmt.Errorf("load partner: %w", err)
	}
	count, err := e.store.CountCompletedCommissions(ctx, sh.partnerID)
	if err != nil {
		return res, fmt.Errorf("count commissions: %w", err)
	}

	now := e.now()
	res.Rate = e.tiers.RateFor(partner, tiers, count, now)
	res.Amount = e.fees.Commission(sh.subtotal, res.Rate)

	c := model.NewCommission(sh.partnerID, sh.referralID, pay, sh.subtotal, res.Rate, e.dueDays, now)
	c.CommissionAmount = res.Amount
	tx := &model.Transaction{
		ID:          uuid.New().String(),
		Type:        model.TxCommission,
		Status:      model.TxCompleted,
		Amount:      res.Amount,
		Currency:    e.currency,
		Reference:   reference.Commission(pay.Reference, sh.partnerID),
		UserID:      sh.partnerID,
		PartnerID:   sh.partnerID,
		OrderID:     order.ID,
		ReferralID:  sh.referralID,
		Metadata:    map[string]any{"paymentReference": pay.Reference, "rate": res.Rate.String(), "subtotal": sh.subtotal.String()},
		ProcessedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	created, err := e.store.RecordCommission(ctx, tx, c)
	if err != nil {
		return res, err
	}
	res.Created = created
	if !created {
		metrics.CommissionWrites.WithLabelValues("duplicate").Inc()
		return res, nil
	}

	metrics.CommissionWrites.WithLabelValues("created").Inc()
	metrics.CommissionVolume.Add(res.Amount.InexactFloat64())
	e.logger.Info("commission credited",
		"reference", tx.Reference,
		"partner_id", sh.partnerID,
		"rate", res.Rate.String(),
		"amount", res.Amount.String(),
	)
	e.publish(model.LedgerEvent{Type: EventCommission, Reference: tx.Reference, OrderID: order.ID, PartnerID: sh.partnerID, Amount: res.Amount, Status: string(model.TxCompleted)})
	return res, nil
}

// recordCredit updates the buyer credit signal synchronously or in the
// background depending on configuration.
func (e *Engine) recordCredit(ctx context.Context, buyerID string, pay *model.Transaction) {
	if e.credit == nil {
		return
	}
	if !e.asyncCredit {
		e.safeRecord(ctx, buyerID, pay)
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.creditTimeout)
		defer cancel()
		e.safeRecord(bg, buyerID, pay)
	}()
}

// safeRecord never lets a credit failure reach the caller.
func (e *Engine) safeRecord(ctx context.Context, buyerID string, pay *model.Transaction) {
	defer func() {
		if r := recover(); r != nil {
			metrics.CreditSignalFailures.Inc()
			e.logger.Error("credit signal panicked", "reference", pay.Reference, "panic", r)
		}
	}()

	at := pay.UpdatedAt
	if pay.ProcessedAt != nil {
		at = *pay.ProcessedAt
	}
	if _, err := e.credit.RecordPayment(ctx, buyerID, pay.ID, pay.Amount, at); err != nil {
		metrics.CreditSignalFailures.Inc()
		e.logger.Error("credit signal update failed", "reference", pay.Reference, "user_id", buyerID, "err", err)
	}
}

func (e *Engine) publish(ev model.LedgerEvent) {
	if e.publisher == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.publisher.Publish(ev)
}
