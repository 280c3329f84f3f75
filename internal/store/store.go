// Package store defines the persistence interface for the settlement engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
//
// Every derived ledger reference is a unique key. Writes guarded by one are
// insert-or-ignore and report whether this call created the row, so callers
// can tell the first settlement apart from a replay without a separate
// existence check.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

var (
	// ErrNotFound is returned when the requested row does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrInsufficientBalance is returned when a reservation would drive a
	// partner's commission balance below zero.
	ErrInsufficientBalance = errors.New("store: insufficient commission balance")

	// ErrStateConflict is returned when a conditional state transition finds
	// the row in an unexpected state.
	ErrStateConflict = errors.New("store: state conflict")
)

// TransactionFilter selects ledger rows. Zero fields do not filter.
// Limit 0 returns every matching row.
type TransactionFilter struct {
	UserID        string
	PartnerID     string
	OrderID       string
	Type          model.TransactionType
	Status        model.TransactionStatus
	From          time.Time
	To            time.Time
	CreatedBefore time.Time
	Limit         int
	Offset        int
}

// FinalizeParams carries the writes of a verified payment.
type FinalizeParams struct {
	Reference   string
	PlatformFee *model.Transaction
	At          time.Time

	// ProviderReference is the gateway's own id for the payment. It is
	// recorded when the payment moves to completed.
	ProviderReference string
}

// FinalizeResult reports what FinalizePayment changed.
type FinalizeResult struct {
	Payment *model.Transaction
	Order   *model.Order

	// PaymentCompleted is true when this call moved the payment to completed.
	PaymentCompleted bool

	// OrderConflict is true when the order had already been paid under a
	// different reference. No fee is written in that case.
	OrderConflict bool

	// FeeCreated is true when this call inserted the platform-fee row.
	FeeCreated bool
}

// WithdrawalUpdate is a conditional withdrawal status transition.
type WithdrawalUpdate struct {
	ID string

	// PartnerID, when set, restricts the update to the owning partner.
	PartnerID string

	From              []model.WithdrawalStatus
	To                model.WithdrawalStatus
	ProviderReference string
	FailureReason     string
	At                time.Time
}

// RestoresBalance reports whether the target status hands the reserved
// amount back to the partner.
func (u WithdrawalUpdate) RestoresBalance() bool {
	return u.To == model.WithdrawalFailed || u.To == model.WithdrawalCancelled
}

func (u WithdrawalUpdate) allowed(from model.WithdrawalStatus) bool {
	for _, s := range u.From {
		if s == from {
			return true
		}
	}
	return false
}

// Scorer recomputes a credit score from a full history.
type Scorer func(history []model.CreditHistoryEntry) int

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Orders ---

	// CreateOrder persists a new order.
	CreateOrder(ctx context.Context, order *model.Order) error

	// GetOrder retrieves an order by ID.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// UpdateOrderStatus moves an order from one status to another.
	// Returns ErrStateConflict when the order is not in from or the move is
	// not allowed by model.OrderStatus.CanTransitionTo.
	UpdateOrderStatus(ctx context.Context, id string, from, to model.OrderStatus) error

	// --- Farmers and partners ---

	UpsertFarmer(ctx context.Context, farmer *model.Farmer) error
	GetFarmer(ctx context.Context, id string) (*model.Farmer, error)
	UpsertPartner(ctx context.Context, partner *model.Partner) error
	GetPartner(ctx context.Context, id string) (*model.Partner, error)

	// --- Immutable ledger ---

	// InsertTransaction inserts tx unless its reference already exists.
	// Reports whether the row was created.
	InsertTransaction(ctx context.Context, tx *model.Transaction) (bool, error)

	// GetTransactionByReference retrieves a ledger row by its unique reference.
	GetTransactionByReference(ctx context.Context, reference string) (*model.Transaction, error)

	// FailTransaction moves a pending row to failed. Reports whether this
	// call made the change; a row in any other state is left untouched.
	FailTransaction(ctx context.Context, reference string, at time.Time) (bool, error)

	// ListTransactions returns matching rows newest first and the total
	// count ignoring Limit and Offset.
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]model.Transaction, int, error)

	// CountCompletedCommissions counts a partner's completed commission rows.
	CountCompletedCommissions(ctx context.Context, partnerID string) (int, error)

	// --- Settlement ---

	// FinalizePayment atomically completes the payment, marks its order
	// paid and inserts the platform-fee row. Safe to repeat.
	FinalizePayment(ctx context.Context, params FinalizeParams) (*FinalizeResult, error)

	// RecordCommission atomically inserts the commission ledger row, the
	// commission record and credits the partner's balance. When the ledger
	// reference already exists nothing is written and false is returned.
	RecordCommission(ctx context.Context, tx *model.Transaction, commission *model.Commission) (bool, error)

	// ListCommissions returns a partner's commissions newest first.
	ListCommissions(ctx context.Context, partnerID string) ([]model.Commission, error)

	// --- Withdrawals ---

	// CreateWithdrawal reserves the amount from the partner's balance and
	// inserts the withdrawal. Returns ErrInsufficientBalance without
	// changing anything when the balance is short.
	CreateWithdrawal(ctx context.Context, w *model.CommissionWithdrawal) error

	GetWithdrawal(ctx context.Context, id string) (*model.CommissionWithdrawal, error)

	// TransitionWithdrawal applies a conditional status change, restoring
	// the reserved amount on failed or cancelled in the same unit.
	TransitionWithdrawal(ctx context.Context, update WithdrawalUpdate) (*model.CommissionWithdrawal, error)

	ListWithdrawals(ctx context.Context, partnerID string) ([]model.CommissionWithdrawal, error)

	// --- Tiers ---

	UpsertCommissionTier(ctx context.Context, t *model.CommissionTier) error
	ListCommissionTiers(ctx context.Context) ([]model.CommissionTier, error)

	// --- Credit signal ---

	// AppendCreditHistory adds entry to the user's history unless its
	// TransactionID is already present, then recomputes the score with
	// score. Reports whether the entry was appended.
	AppendCreditHistory(ctx context.Context, userID string, entry model.CreditHistoryEntry, score Scorer, now time.Time) (*model.CreditScore, bool, error)

	GetCreditScore(ctx context.Context, userID string) (*model.CreditScore, error)
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)
