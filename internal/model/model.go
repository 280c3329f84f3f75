// Package model defines the core domain types shared across the settlement engine.
// All monetary values use shopspring/decimal.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderStatus is the order state machine.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderPaid      OrderStatus = "paid"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
	OrderCompleted OrderStatus = "completed"
)

// orderRank orders the forward-only path. Cancelled is reachable from pending only.
var orderRank = map[OrderStatus]int{
	OrderPending:   0,
	OrderPaid:      1,
	OrderDelivered: 2,
	OrderCompleted: 3,
}

// CanTransitionTo reports whether s may move to next.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if next == OrderCancelled {
		return s == OrderPending
	}
	from, ok := orderRank[s]
	if !ok {
		return false
	}
	to, ok := orderRank[next]
	return ok && to > from
}

// OrderItem is one line of an order. Each item belongs to the farmer who
// listed it; the farmer's referring partner earns commission on it.
type OrderItem struct {
	ListingID string          `json:"listing_id"`
	FarmerID  string          `json:"farmer_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"` // unit price
}

// Subtotal is quantity × unit price.
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.Quantity.Mul(i.Price)
}

// Order is a buyer's marketplace order.
type Order struct {
	ID               string          `json:"id"`
	BuyerID          string          `json:"buyer_id"`
	BuyerEmail       string          `json:"buyer_email"`
	Items            []OrderItem     `json:"items"`
	Total            decimal.Decimal `json:"total"`
	Status           OrderStatus     `json:"status"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Farmer is a seller onboarded by a partner. PartnerID is empty for farmers
// who joined without a referral.
type Farmer struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PartnerID  string `json:"partner_id,omitempty"`
	ReferralID string `json:"referral_id,omitempty"`
}

// Partner is an agent or cooperative that refers farmers and earns commission.
type Partner struct {
	ID                string           `json:"id"`
	Name              string           `json:"name"`
	CommissionRate    *decimal.Decimal `json:"commission_rate,omitempty"` // override; nil = tier/default
	CommissionBalance decimal.Decimal  `json:"commission_balance"`
	TotalCommissions  decimal.Decimal  `json:"total_commissions"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// TransactionType classifies ledger rows.
type TransactionType string

const (
	TxPayment     TransactionType = "payment"
	TxCommission  TransactionType = "commission"
	TxRefund      TransactionType = "refund"
	TxWithdrawal  TransactionType = "withdrawal"
	TxPlatformFee TransactionType = "platform_fee"
)

// TransactionStatus is the ledger row state. Failed and cancelled are terminal.
type TransactionStatus string

const (
	TxPending   TransactionStatus = "pending"
	TxCompleted TransactionStatus = "completed"
	TxFailed    TransactionStatus = "failed"
	TxCancelled TransactionStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s TransactionStatus) Terminal() bool {
	return s == TxCompleted || s == TxFailed || s == TxCancelled
}

// Transaction is an immutable-once-settled ledger record. Reference is
// globally unique and doubles as the idempotency key.
type Transaction struct {
	ID                string            `json:"id"`
	Type              TransactionType   `json:"type"`
	Status            TransactionStatus `json:"status"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          string            `json:"currency"`
	Reference         string            `json:"reference"`
	UserID            string            `json:"user_id"`
	PartnerID         string            `json:"partner_id,omitempty"`
	OrderID           string            `json:"order_id,omitempty"`
	ReferralID        string            `json:"referral_id,omitempty"`
	Provider          string            `json:"provider,omitempty"`
	ProviderReference string            `json:"provider_reference,omitempty"`
	Metadata          map[string]any    `json:"metadata,omitempty"`
	ProcessedAt       *time.Time        `json:"processed_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// CommissionStatus is the commission payout state.
type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "pending"
	CommissionApproved  CommissionStatus = "approved"
	CommissionPaid      CommissionStatus = "paid"
	CommissionRejected  CommissionStatus = "rejected"
	CommissionCancelled CommissionStatus = "cancelled"
)

// Commission records a partner's share of one settled payment.
type Commission struct {
	ID                string           `json:"id"`
	PartnerID         string           `json:"partner_id"`
	ReferralID        string           `json:"referral_id,omitempty"`
	TransactionID     string           `json:"transaction_id"` // source payment
	TransactionType   TransactionType  `json:"transaction_type"`
	TransactionAmount decimal.Decimal  `json:"transaction_amount"`
	CommissionRate    decimal.Decimal  `json:"commission_rate"`
	CommissionAmount  decimal.Decimal  `json:"commission_amount"`
	Status            CommissionStatus `json:"status"`
	DueDate           time.Time        `json:"due_date"`
	CreatedAt         time.Time        `json:"created_at"`
}

// WithdrawalStatus is the payout lifecycle of a commission withdrawal.
type WithdrawalStatus string

const (
	WithdrawalPending    WithdrawalStatus = "pending"
	WithdrawalProcessing WithdrawalStatus = "processing"
	WithdrawalCompleted  WithdrawalStatus = "completed"
	WithdrawalFailed     WithdrawalStatus = "failed"
	WithdrawalCancelled  WithdrawalStatus = "cancelled"
)

// Withdrawal methods.
const (
	MethodBankTransfer = "bank_transfer"
	MethodMobileMoney  = "mobile_money"
	MethodWallet       = "wallet"
)

// CommissionWithdrawal is a partner's request to cash out commission balance.
// Amount is reserved from the balance when the request is created.
type CommissionWithdrawal struct {
	ID                string           `json:"id"`
	PartnerID         string           `json:"partner_id"`
	Amount            decimal.Decimal  `json:"amount"`
	ProcessingFee     decimal.Decimal  `json:"processing_fee"`
	NetAmount         decimal.Decimal  `json:"net_amount"`
	Method            string           `json:"method"`
	Destination       string           `json:"destination"`
	Status            WithdrawalStatus `json:"status"`
	ProviderReference string           `json:"provider_reference,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
	ProcessedAt       *time.Time       `json:"processed_at,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// CommissionTier is a transaction-volume bracket with its own rate.
type CommissionTier struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	MinTransactions int             `json:"min_transactions"`
	MaxTransactions *int            `json:"max_transactions,omitempty"` // exclusive; nil = unbounded
	CommissionRate  decimal.Decimal `json:"commission_rate"`
	Status          string          `json:"status"` // "active", "inactive"
	EffectiveDate   time.Time       `json:"effective_date"`
	ExpiryDate      *time.Time      `json:"expiry_date,omitempty"`
}

// CreditHistoryEntry is one completed payment counted toward a buyer's score.
type CreditHistoryEntry struct {
	TransactionID string          `json:"transaction_id"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
}

// CreditScore is a lightweight creditworthiness signal recomputed from history.
type CreditScore struct {
	UserID    string               `json:"user_id"`
	Score     int                  `json:"score"`
	History   []CreditHistoryEntry `json:"history"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// LedgerEvent is broadcast to live feed subscribers after a ledger change.
type LedgerEvent struct {
	Type      string          `json:"type"` // payment_confirmed, payment_failed, commission_earned, withdrawal_updated
	Reference string          `json:"reference,omitempty"`
	OrderID   string          `json:"order_id,omitempty"`
	PartnerID string          `json:"partner_id,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Status    string          `json:"status,omitempty"`
	At        time.Time       `json:"at"`
}
