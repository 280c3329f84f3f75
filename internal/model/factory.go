package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AmountScale is the number of decimal places kept on derived amounts
// (fees, commissions). Amounts are whole currency units.
var AmountScale int32 = 0

// DefaultCommissionDueDays is the payout delay applied to new commissions.
const DefaultCommissionDueDays = 30

var (
	ErrEmptyOrder      = errors.New("model: order must have at least one item")
	ErrInvalidQuantity = errors.New("model: item quantity must be positive")
	ErrInvalidPrice    = errors.New("model: item price must not be negative")
	ErrInvalidFee      = errors.New("model: processing fee must be below the withdrawal amount")
)

// RoundAmount rounds a derived money value to AmountScale, half away from zero.
func RoundAmount(v decimal.Decimal) decimal.Decimal {
	return v.Round(AmountScale)
}

// NewOrder builds a pending order whose total is the sum of its line subtotals.
func NewOrder(buyerID, buyerEmail string, items []OrderItem, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyOrder
	}
	total := decimal.Zero
	for _, it := range items {
		if !it.Quantity.IsPositive() {
			return nil, ErrInvalidQuantity
		}
		if it.Price.IsNegative() {
			return nil, ErrInvalidPrice
		}
		total = total.Add(it.Subtotal())
	}
	lines := make([]OrderItem, len(items))
	copy(lines, items)
	return &Order{
		ID:         uuid.New().String(),
		BuyerID:    buyerID,
		BuyerEmail: buyerEmail,
		Items:      lines,
		Total:      total,
		Status:     OrderPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// NewCommission derives a pending commission from a settled payment.
// CommissionAmount = round(transactionAmount × rate); due date defaults to
// DefaultCommissionDueDays after now when dueDays <= 0.
func NewCommission(partnerID, referralID string, source *Transaction, transactionAmount, rate decimal.Decimal, dueDays int, now time.Time) *Commission {
	if dueDays <= 0 {
		dueDays = DefaultCommissionDueDays
	}
	return &Commission{
		ID:                uuid.New().String(),
		PartnerID:         partnerID,
		ReferralID:        referralID,
		TransactionID:     source.ID,
		TransactionType:   source.Type,
		TransactionAmount: transactionAmount,
		CommissionRate:    rate,
		CommissionAmount:  RoundAmount(transactionAmount.Mul(rate)),
		Status:            CommissionPending,
		DueDate:           now.AddDate(0, 0, dueDays),
		CreatedAt:         now,
	}
}

// NewWithdrawal builds a pending withdrawal with NetAmount = amount − fee.
func NewWithdrawal(partnerID string, amount, fee decimal.Decimal, method, destination string, now time.Time) (*CommissionWithdrawal, error) {
	if fee.GreaterThanOrEqual(amount) {
		return nil, ErrInvalidFee
	}
	return &CommissionWithdrawal{
		ID:            uuid.New().String(),
		PartnerID:     partnerID,
		Amount:        amount,
		ProcessingFee: fee,
		NetAmount:     amount.Sub(fee),
		Method:        method,
		Destination:   destination,
		Status:        WithdrawalPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}
