package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestNewOrder_TotalIsSumOfSubtotals(t *testing.T) {
	items := []OrderItem{
		{ListingID: "l1", FarmerID: "f1", Quantity: d(2), Price: d(5000)},
		{ListingID: "l2", FarmerID: "f2", Quantity: d(1), Price: d(3000)},
		{ListingID: "l3", FarmerID: "f2", Quantity: d(0.5), Price: d(401)},
	}
	o, err := NewOrder("buyer1", "b@example.com", items, time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !o.Total.Equal(d(13200.5)) {
		t.Errorf("expected total 13200.5, got %s", o.Total)
	}
	if o.Status != OrderPending {
		t.Errorf("expected pending, got %s", o.Status)
	}
	if o.ID == "" {
		t.Error("expected id to be set")
	}
}

func TestNewOrder_Rejects(t *testing.T) {
	now := time.Now()
	if _, err := NewOrder("b", "", nil, now); err != ErrEmptyOrder {
		t.Errorf("expected ErrEmptyOrder, got %v", err)
	}
	if _, err := NewOrder("b", "", []OrderItem{{Quantity: d(0), Price: d(1)}}, now); err != ErrInvalidQuantity {
		t.Errorf("expected ErrInvalidQuantity, got %v", err)
	}
	if _, err := NewOrder("b", "", []OrderItem{{Quantity: d(1), Price: d(-1)}}, now); err != ErrInvalidPrice {
		t.Errorf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestOrderStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderPending, OrderPaid, true},
		{OrderPending, OrderCancelled, true},
		{OrderPaid, OrderDelivered, true},
		{OrderDelivered, OrderCompleted, true},
		{OrderPaid, OrderPending, false},
		{OrderPaid, OrderCancelled, false},
		{OrderCancelled, OrderPaid, false},
		{OrderCompleted, OrderDelivered, false},
		{OrderPaid, OrderPaid, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransitionTo(tt.to); got != tt.ok {
			t.Errorf("%s -> %s: expected %v, got %v", tt.from, tt.to, tt.ok, got)
		}
	}
}

func TestNewCommission_RoundsAmountAndSetsDueDate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := &Transaction{ID: "tx1", Type: TxPayment}
	c := NewCommission("p1", "r1", src, d(3333), d(0.05), 0, now)

	if !c.CommissionAmount.Equal(d(167)) { // 166.65 -> 167
		t.Errorf("expected 167, got %s", c.CommissionAmount)
	}
	if !c.DueDate.Equal(now.AddDate(0, 0, 30)) {
		t.Errorf("expected due date +30d, got %v", c.DueDate)
	}
	if c.Status != CommissionPending || c.TransactionID != "tx1" || c.TransactionType != TxPayment {
		t.Errorf("unexpected commission: %+v", c)
	}
}

func TestNewWithdrawal_NetAmount(t *testing.T) {
	w, err := NewWithdrawal("p1", d(1000), d(50), MethodBankTransfer, "0123456789", time.Now())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !w.NetAmount.Equal(d(950)) {
		t.Errorf("expected net 950, got %s", w.NetAmount)
	}
	if w.Status != WithdrawalPending {
		t.Errorf("expected pending, got %s", w.Status)
	}

	if _, err := NewWithdrawal("p1", d(50), d(50), MethodBankTransfer, "x", time.Now()); err != ErrInvalidFee {
		t.Errorf("expected ErrInvalidFee, got %v", err)
	}
}
