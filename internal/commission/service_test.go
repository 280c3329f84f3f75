package commission

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/apperr"
	"github.com/adamstosho/GroChain-sub000/internal/fees"
	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/store"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

var t0 = time.Date(2025, 8, 15, 10, 0, 0, 0, time.UTC)

func newService(t *testing.T, balance float64) (*Service, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	if err := st.UpsertPartner(context.Background(), &model.Partner{
		ID: "partner-a", Name: "Agro Partners", CommissionBalance: d(balance), TotalCommissions: d(balance),
		CreatedAt: t0, UpdatedAt: t0,
	}); err != nil {
		t.Fatalf("UpsertPartner: %v", err)
	}
	schedule, err := fees.NewSchedule(fees.DefaultPlatformFeeRate, fees.DefaultCommissionRate, nil)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	svc := NewService(st, schedule, nil, nil)
	svc.now = func() time.Time { return t0 }
	return svc, st
}

func balanceOf(t *testing.T, st store.Store) decimal.Decimal {
	t.Helper()
	p, err := st.GetPartner(context.Background(), "partner-a")
	if err != nil {
		t.Fatalf("GetPartner: %v", err)
	}
	return p.CommissionBalance
}

// seedCommissions writes n commission rows of amount each, one minute apart.
func seedCommissions(t *testing.T, st *store.MemoryStore, n int, amount float64) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < n; i++ {
		at := t0.Add(time.Duration(i) * time.Minute)
		ref := fmt.Sprintf("GRO_%013d_%08x", at.UnixMilli(), i)
		pay := &model.Transaction{ID: "pay-" + ref, Type: model.TxPayment, Reference: ref}
		c := model.NewCommission("partner-a", "", pay, d(amount*20), d(0.05), 30, at)
		tx := &model.Transaction{
			ID: "comm-" + ref, Type: model.TxCommission, Status: model.TxCompleted, Amount: c.CommissionAmount,
			Currency: "NGN", Reference: "COMMISSION_" + ref + "_partner-a", UserID: "partner-a", PartnerID: "partner-a",
			ProcessedAt: &at, CreatedAt: at, UpdatedAt: at,
		}
		if _, err := st.RecordCommission(ctx, tx, c); err != nil {
			t.Fatalf("RecordCommission: %v", err)
		}
	}
}

func TestRequestWithdrawal(t *testing.T) {
	tests := []struct {
		method  string
		amount  float64
		wantFee float64
	}{
		{model.MethodBankTransfer, 1000, 50},
		{model.MethodMobileMoney, 5000, 50},
		{model.MethodMobileMoney, 500, 10},
		{model.MethodWallet, 1000, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%v", tt.method, tt.amount), func(t *testing.T) {
			svc, st := newService(t, 10000)
			w, err := svc.RequestWithdrawal(context.Background(), "partner-a", WithdrawRequest{
				Amount: d(tt.amount), Method: tt.method, Destination: "0123456789",
			})
			if err != nil {
				t.Fatalf("RequestWithdrawal: %v", err)
			}
			if w.Status != model.WithdrawalPending {
				t.Errorf("expected pending, got %s", w.Status)
			}
			if !w.ProcessingFee.Equal(d(tt.wantFee)) {
				t.Errorf("expected fee %v, got %s", tt.wantFee, w.ProcessingFee)
			}
			if !w.NetAmount.Equal(d(tt.amount - tt.wantFee)) {
				t.Errorf("expected net %v, got %s", tt.amount-tt.wantFee, w.NetAmount)
			}
			if got := balanceOf(t, st); !got.Equal(d(10000 - tt.amount)) {
				t.Errorf("expected balance %v, got %s", 10000-tt.amount, got)
			}
		})
	}
}

func TestRequestWithdrawal_Rejected(t *testing.T) {
	tests := []struct {
		name string
		req  WithdrawRequest
		code string
	}{
		{"insufficient balance", WithdrawRequest{Amount: d(1500), Method: model.MethodWallet, Destination: "w-1"}, apperr.CodeInsufficientBalance},
		{"zero amount", WithdrawRequest{Amount: d(0), Method: model.MethodWallet, Destination: "w-1"}, apperr.CodeValidation},
		{"negative amount", WithdrawRequest{Amount: d(-5), Method: model.MethodWallet, Destination: "w-1"}, apperr.CodeValidation},
		{"unknown method", WithdrawRequest{Amount: d(100), Method: "cheque", Destination: "w-1"}, apperr.CodeValidation},
		{"missing destination", WithdrawRequest{Amount: d(100), Method: model.MethodWallet}, apperr.CodeValidation},
		{"fee exceeds amount", WithdrawRequest{Amount: d(40), Method: model.MethodBankTransfer, Destination: "0123"}, apperr.CodeValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := newService(t, 1000)
			_, err := svc.RequestWithdrawal(context.Background(), "partner-a", tt.req)
			if apperr.CodeOf(err) != tt.code {
				t.Fatalf("expected %s, got %v", tt.code, err)
			}
			if got := balanceOf(t, st); !got.Equal(d(1000)) {
				t.Errorf("balance changed to %s", got)
			}
		})
	}
}

func TestRequestWithdrawal_InsufficientIsConflict(t *testing.T) {
	svc, _ := newService(t, 100)
	_, err := svc.RequestWithdrawal(context.Background(), "partner-a", WithdrawRequest{
		Amount: d(101), Method: model.MethodWallet, Destination: "w-1",
	})
	if apperr.HTTPStatus(err) != 409 {
		t.Errorf("expected 409, got %d (%v)", apperr.HTTPStatus(err), err)
	}
}

func TestRequestWithdrawal_BalanceCheckedBeforeFee(t *testing.T) {
	svc, st := newService(t, 5)
	_, err := svc.RequestWithdrawal(context.Background(), "partner-a", WithdrawRequest{
		Amount: d(40), Method: model.MethodBankTransfer, Destination: "0123",
	})
	if apperr.CodeOf(err) != apperr.CodeInsufficientBalance {
		t.Fatalf("expected %s, got %v", apperr.CodeInsufficientBalance, err)
	}
	if got := balanceOf(t, st); !got.Equal(d(5)) {
		t.Errorf("balance changed to %s", got)
	}

	_, err = svc.RequestWithdrawal(context.Background(), "partner-z", WithdrawRequest{
		Amount: d(40), Method: model.MethodWallet, Destination: "w-1",
	})
	if apperr.CodeOf(err) != apperr.CodePartnerNotFound {
		t.Errorf("expected %s, got %v", apperr.CodePartnerNotFound, err)
	}
}

func TestWithdrawalLifecycle(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, 5000)

	w, err := svc.RequestWithdrawal(ctx, "partner-a", WithdrawRequest{Amount: d(2000), Method: model.MethodBankTransfer, Destination: "0123"})
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	if _, err := svc.CompleteWithdrawal(ctx, w.ID, "TRF_1"); apperr.CodeOf(err) != apperr.CodeInvalidTransition {
		t.Fatalf("expected pending->completed to be rejected, got %v", err)
	}

	w, err = svc.MarkProcessing(ctx, w.ID, "TRF_1")
	if err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if w.Status != model.WithdrawalProcessing || w.ProviderReference != "TRF_1" {
		t.Errorf("unexpected withdrawal %+v", w)
	}

	w, err = svc.CompleteWithdrawal(ctx, w.ID, "")
	if err != nil {
		t.Fatalf("CompleteWithdrawal: %v", err)
	}
	if w.Status != model.WithdrawalCompleted || w.ProcessedAt == nil || w.ProviderReference != "TRF_1" {
		t.Errorf("unexpected withdrawal %+v", w)
	}
	if got := balanceOf(t, st); !got.Equal(d(3000)) {
		t.Errorf("expected balance 3000, got %s", got)
	}

	if _, err := svc.FailWithdrawal(ctx, w.ID, "late failure"); apperr.CodeOf(err) != apperr.CodeInvalidTransition {
		t.Errorf("expected completed withdrawal to be final, got %v", err)
	}
}

func TestFailWithdrawal_RestoresBalance(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, 5000)

	w, err := svc.RequestWithdrawal(ctx, "partner-a", WithdrawRequest{Amount: d(2000), Method: model.MethodMobileMoney, Destination: "0803"})
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if _, err := svc.MarkProcessing(ctx, w.ID, ""); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	w, err = svc.FailWithdrawal(ctx, w.ID, "account closed")
	if err != nil {
		t.Fatalf("FailWithdrawal: %v", err)
	}
	if w.Status != model.WithdrawalFailed || w.FailureReason != "account closed" {
		t.Errorf("unexpected withdrawal %+v", w)
	}
	if got := balanceOf(t, st); !got.Equal(d(5000)) {
		t.Errorf("expected balance restored to 5000, got %s", got)
	}

	// A second failure must not restore twice.
	if _, err := svc.FailWithdrawal(ctx, w.ID, "again"); apperr.CodeOf(err) != apperr.CodeInvalidTransition {
		t.Errorf("expected INVALID_TRANSITION, got %v", err)
	}
	if got := balanceOf(t, st); !got.Equal(d(5000)) {
		t.Errorf("balance restored twice: %s", got)
	}
}

func TestCancelWithdrawal(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, 5000)

	w, err := svc.RequestWithdrawal(ctx, "partner-a", WithdrawRequest{Amount: d(1000), Method: model.MethodWallet, Destination: "w-1"})
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}

	if _, err := svc.CancelWithdrawal(ctx, "partner-b", w.ID); apperr.CodeOf(err) != apperr.CodeWithdrawalNotFound {
		t.Errorf("expected other partner to get WITHDRAWAL_NOT_FOUND, got %v", err)
	}
	w, err = svc.CancelWithdrawal(ctx, "partner-a", w.ID)
	if err != nil {
		t.Fatalf("CancelWithdrawal: %v", err)
	}
	if w.Status != model.WithdrawalCancelled {
		t.Errorf("expected cancelled, got %s", w.Status)
	}
	if got := balanceOf(t, st); !got.Equal(d(5000)) {
		t.Errorf("expected balance 5000, got %s", got)
	}
	if _, err := svc.CancelWithdrawal(ctx, "partner-a", "missing"); apperr.CodeOf(err) != apperr.CodeWithdrawalNotFound {
		t.Errorf("expected WITHDRAWAL_NOT_FOUND, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, 0)
	seedCommissions(t, st, 3, 500)

	if _, err := svc.RequestWithdrawal(ctx, "partner-a", WithdrawRequest{Amount: d(400), Method: model.MethodWallet, Destination: "w-1"}); err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	done, err := svc.RequestWithdrawal(ctx, "partner-a", WithdrawRequest{Amount: d(300), Method: model.MethodWallet, Destination: "w-1"})
	if err != nil {
		t.Fatalf("RequestWithdrawal: %v", err)
	}
	if _, err := svc.MarkProcessing(ctx, done.ID, ""); err != nil {
		t.Fatalf("MarkProcessing: %v", err)
	}
	if _, err := svc.CompleteWithdrawal(ctx, done.ID, ""); err != nil {
		t.Fatalf("CompleteWithdrawal: %v", err)
	}

	sum, err := svc.Summary(ctx, "partner-a")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.CommissionCount != 3 {
		t.Errorf("expected 3 commissions, got %d", sum.CommissionCount)
	}
	if !sum.TotalEarned.Equal(d(1500)) || !sum.Pending.Equal(d(1500)) {
		t.Errorf("unexpected totals: earned %s pending %s", sum.TotalEarned, sum.Pending)
	}
	if !sum.Balance.Equal(d(800)) {
		t.Errorf("expected balance 800, got %s", sum.Balance)
	}
	if !sum.PendingWithdrawals.Equal(d(400)) || !sum.CompletedWithdrawals.Equal(d(300)) {
		t.Errorf("unexpected withdrawals: pending %s completed %s", sum.PendingWithdrawals, sum.CompletedWithdrawals)
	}

	if _, err := svc.Summary(ctx, "ghost"); apperr.CodeOf(err) != apperr.CodePartnerNotFound {
		t.Errorf("expected PARTNER_NOT_FOUND, got %v", err)
	}
}

func TestHistory_Pagination(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, 0)
	seedCommissions(t, st, 25, 100)

	h, err := svc.History(ctx, "partner-a", HistoryQuery{Page: 2, Limit: 10})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	want := Pagination{Page: 2, Limit: 10, Total: 25, Pages: 3}
	if h.Pagination != want {
		t.Errorf("expected %+v, got %+v", want, h.Pagination)
	}
	if len(h.Transactions) != 10 {
		t.Fatalf("expected 10 rows, got %d", len(h.Transactions))
	}
	for i := 1; i < len(h.Transactions); i++ {
		if h.Transactions[i].CreatedAt.After(h.Transactions[i-1].CreatedAt) {
			t.Fatalf("rows not newest first at %d", i)
		}
	}

	h, err = svc.History(ctx, "partner-a", HistoryQuery{})
	if err != nil {
		t.Fatalf("History defaults: %v", err)
	}
	if h.Pagination.Page != 1 || h.Pagination.Limit != DefaultPageSize || len(h.Transactions) != DefaultPageSize {
		t.Errorf("unexpected default page %+v (%d rows)", h.Pagination, len(h.Transactions))
	}

	h, err = svc.History(ctx, "partner-a", HistoryQuery{Page: 9, Limit: 10})
	if err != nil {
		t.Fatalf("History past end: %v", err)
	}
	if h.Transactions == nil || len(h.Transactions) != 0 {
		t.Errorf("expected empty non-nil page, got %v", h.Transactions)
	}

	h, err = svc.History(ctx, "partner-a", HistoryQuery{Type: "payment"})
	if err != nil {
		t.Fatalf("History by type: %v", err)
	}
	if h.Pagination.Total != 0 {
		t.Errorf("expected no payment rows for partner, got %d", h.Pagination.Total)
	}

	for _, bad := range []HistoryQuery{{Limit: 500}, {Page: -1}, {Status: "weird"}} {
		if _, err := svc.History(ctx, "partner-a", bad); apperr.KindOf(err) != apperr.KindValidation {
			t.Errorf("%+v: expected validation error, got %v", bad, err)
		}
	}
}

func TestExport(t *testing.T) {
	ctx := context.Background()
	svc, st := newService(t, 0)
	seedCommissions(t, st, exportBatch+3, 10)

	var buf bytes.Buffer
	n, err := svc.Export(ctx, &buf, ExportQuery{PartnerID: "partner-a", Type: model.TxCommission})
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if n != exportBatch+3 {
		t.Errorf("expected %d rows, got %d", exportBatch+3, n)
	}

	records, err := csv.NewReader(&buf).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != n+1 {
		t.Fatalf("expected header plus %d rows, got %d", n, len(records))
	}
	if records[0][0] != "id" || records[0][len(records[0])-1] != "created_at" {
		t.Errorf("unexpected header %v", records[0])
	}
	row := records[1]
	if row[2] != "commission" || row[3] != "completed" || row[4] != "10" || row[7] != "partner-a" || row[9] == "" {
		t.Errorf("unexpected row %v", row)
	}

	buf.Reset()
	n, err = svc.Export(ctx, &buf, ExportQuery{PartnerID: "nobody"})
	if err != nil || n != 0 {
		t.Errorf("expected empty export, got %d %v", n, err)
	}
}
