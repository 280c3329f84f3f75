package api_test

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/api"
	"github.com/adamstosho/GroChain-sub000/internal/auth"
	"github.com/adamstosho/GroChain-sub000/internal/commission"
	"github.com/adamstosho/GroChain-sub000/internal/credit"
	"github.com/adamstosho/GroChain-sub000/internal/fees"
	"github.com/adamstosho/GroChain-sub000/internal/gateway"
	"github.com/adamstosho/GroChain-sub000/internal/model"
	"github.com/adamstosho/GroChain-sub000/internal/settlement"
	"github.com/adamstosho/GroChain-sub000/internal/store"
	"github.com/adamstosho/GroChain-sub000/internal/tier"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

const webhookSecret = "whsec_test"

type testEnv struct {
	store   *store.MemoryStore
	gw      *gateway.Stub
	handler http.Handler
	buyer   string
	partner string
	admin   string
}

// newTestEnv wires the full API over an in-memory store and a stub gateway.
func newTestEnv(t *testing.T, limiter *api.IPRateLimiter) *testEnv {
	t.Helper()
	ctx := context.Background()
	ms := store.NewMemoryStore()
	gw := gateway.NewStub()

	schedule, err := fees.NewSchedule(d(0.03), d(0.05), nil)
	if err != nil {
		t.Fatalf("NewSchedule: %v", err)
	}
	updater := credit.NewUpdater(ms, nil)
	engine := settlement.NewEngine(ms, gw, tier.NewResolver(d(0.05)), schedule, updater)
	issuer, err := auth.NewIssuer("jwt-test", "grochain", time.Hour)
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	srv := api.NewServer(api.Config{
		Engine:        engine,
		Commissions:   commission.NewService(ms, schedule, nil, nil),
		Credit:        updater,
		Store:         ms,
		Issuer:        issuer,
		Limiter:       limiter,
		WebhookSecret: webhookSecret,
	})

	if err := ms.UpsertPartner(ctx, &model.Partner{ID: "partner-a", Name: "Agro Partners"}); err != nil {
		t.Fatalf("UpsertPartner: %v", err)
	}
	if err := ms.UpsertFarmer(ctx, &model.Farmer{ID: "farmer-1", PartnerID: "partner-a"}); err != nil {
		t.Fatalf("UpsertFarmer: %v", err)
	}

	buyer, _ := issuer.Sign("buyer-1", "buyer@example.com", auth.RoleBuyer, "")
	partner, _ := issuer.Sign("user-p", "p@example.com", auth.RolePartner, "partner-a")
	admin, _ := issuer.Sign("admin-1", "admin@example.com", auth.RoleAdmin, "")
	return &testEnv{store: ms, gw: gw, handler: srv.Routes(), buyer: buyer, partner: partner, admin: admin}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			json.NewEncoder(&buf).Encode(body)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func (e *testEnv) verify(t *testing.T, body string, sign bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/payments/verify", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if sign {
		req.Header.Set(api.SignatureHeader, api.Sign(webhookSecret, []byte(body)))
	}
	req.RemoteAddr = "203.0.113.7:4000"
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

// createOrder posts a 10000 order for farmer-1 and returns its id.
func (e *testEnv) createOrder(t *testing.T) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/orders", e.buyer, map[string]any{
		"items": []map[string]any{{"listingId": "l1", "farmerId": "farmer-1", "quantity": 4, "price": "2500"}},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", w.Code, w.Body.String())
	}
	return decode(t, w)["order"].(map[string]any)["id"].(string)
}

func (e *testEnv) initialize(t *testing.T, orderID string) string {
	t.Helper()
	w := e.do(t, http.MethodPost, "/payments/initialize", e.buyer, map[string]string{"orderId": orderID, "email": "buyer@example.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("initialize: %d %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["payment"].(map[string]any)["data"].(map[string]any)
	if !strings.HasPrefix(data["authorization_url"].(string), "https://") {
		t.Errorf("unexpected authorization_url %v", data["authorization_url"])
	}
	return data["reference"].(string)
}

func TestPaymentFlow(t *testing.T) {
	env := newTestEnv(t, nil)
	orderID := env.createOrder(t)
	ref := env.initialize(t, orderID)

	body := `{"reference":"` + ref + `"}`
	w := env.verify(t, body, true)
	if w.Code != http.StatusOK {
		t.Fatalf("verify: %d %s", w.Code, w.Body.String())
	}
	data := decode(t, w)["data"].(map[string]any)
	if data["outcome"] != string(settlement.OutcomeSettled) {
		t.Errorf("expected settled, got %v", data["outcome"])
	}

	// Replays answer 200 and change nothing.
	for i := 0; i < 2; i++ {
		w = env.verify(t, body, true)
		if w.Code != http.StatusOK {
			t.Fatalf("replay: %d", w.Code)
		}
		if got := decode(t, w)["data"].(map[string]any)["outcome"]; got != string(settlement.OutcomeAlreadySettled) {
			t.Errorf("expected already_settled, got %v", got)
		}
	}

	w = env.do(t, http.MethodGet, "/commissions/summary", env.partner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("summary: %d %s", w.Code, w.Body.String())
	}
	sum := decode(t, w)["summary"].(map[string]any)
	if sum["commissionBalance"] != "500" || sum["commissionCount"] != float64(1) {
		t.Errorf("unexpected summary %v", sum)
	}

	w = env.do(t, http.MethodGet, "/orders/"+orderID, env.buyer, nil)
	if got := decode(t, w)["order"].(map[string]any)["status"]; got != string(model.OrderPaid) {
		t.Errorf("expected order paid, got %v", got)
	}

	w = env.do(t, http.MethodGet, "/credit-score", env.buyer, nil)
	if got := decode(t, w)["creditScore"].(map[string]any)["score"]; got != float64(320) {
		t.Errorf("expected credit score 320, got %v", got)
	}
}

func TestVerifyPayment_Callback(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name string
		body string
		sign bool
		want int
	}{
		{"malformed body", `{"reference":`, true, http.StatusBadRequest},
		{"missing reference", `{}`, true, http.StatusBadRequest},
		{"bad signature", `{"reference":"GRO_1723716000000_deadbeef"}`, false, http.StatusUnauthorized},
		{"unknown reference still 200", `{"reference":"GRO_1723716000000_deadbeef"}`, true, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.verify(t, tt.body, tt.sign)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want != http.StatusOK {
				if got := decode(t, w)["status"]; got != "error" {
					t.Errorf("expected error envelope, got %v", got)
				}
			}
		})
	}
}

func TestVerifyPayment_GatewayDownStill200(t *testing.T) {
	env := newTestEnv(t, nil)
	ref := env.initialize(t, env.createOrder(t))
	env.gw.FailVerify(gateway.ErrUnavailable)

	w := env.verify(t, `{"reference":"`+ref+`"}`, true)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if got := decode(t, w)["data"].(map[string]any)["code"]; got != "GATEWAY_UNAVAILABLE" {
		t.Errorf("expected GATEWAY_UNAVAILABLE, got %v", got)
	}
	tx, _ := env.store.GetTransactionByReference(context.Background(), ref)
	if tx.Status != model.TxPending {
		t.Errorf("expected payment to stay pending, got %s", tx.Status)
	}
}

func TestVerifyPayment_RateLimited(t *testing.T) {
	env := newTestEnv(t, api.NewIPRateLimiter(0.001, 2))
	body := `{"reference":"GRO_1723716000000_deadbeef"}`

	for i := 0; i < 2; i++ {
		if w := env.verify(t, body, true); w.Code != http.StatusOK {
			t.Fatalf("request %d: %d", i, w.Code)
		}
	}
	w := env.verify(t, body, true)
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", w.Code)
	}
	if got := decode(t, w)["code"]; got != "RATE_LIMITED" {
		t.Errorf("expected RATE_LIMITED, got %v", got)
	}
}

func TestInitializePayment_Errors(t *testing.T) {
	env := newTestEnv(t, nil)
	orderID := env.createOrder(t)

	tests := []struct {
		name  string
		token string
		body  any
		want  int
		code  string
	}{
		{"unauthenticated", "", map[string]string{"orderId": orderID, "email": "b@example.com"}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"partner role", env.partner, map[string]string{"orderId": orderID, "email": "b@example.com"}, http.StatusForbidden, "FORBIDDEN"},
		{"bad email", env.buyer, map[string]string{"orderId": orderID, "email": "nope"}, http.StatusBadRequest, "VALIDATION_FAILED"},
		{"unknown order", env.buyer, map[string]string{"orderId": "missing", "email": "b@example.com"}, http.StatusNotFound, "ORDER_NOT_FOUND"},
		{"malformed", env.buyer, `{"orderId":`, http.StatusBadRequest, "VALIDATION_FAILED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/payments/initialize", tt.token, tt.body)
			if w.Code != tt.want {
				t.Fatalf("expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			out := decode(t, w)
			if out["status"] != "error" || out["code"] != tt.code {
				t.Errorf("expected error %s, got %v", tt.code, out)
			}
		})
	}

	env.gw.FailInitialize(gateway.ErrUnavailable)
	w := env.do(t, http.MethodPost, "/payments/initialize", env.buyer, map[string]string{"orderId": orderID, "email": "b@example.com"})
	if w.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", w.Code)
	}
}

func TestWithdrawAndHistory(t *testing.T) {
	env := newTestEnv(t, nil)
	ref := env.initialize(t, env.createOrder(t))
	if w := env.verify(t, `{"reference":"`+ref+`"}`, true); w.Code != http.StatusOK {
		t.Fatalf("verify: %d", w.Code)
	}

	w := env.do(t, http.MethodPost, "/commissions/withdraw", env.partner, map[string]any{"amount": 1000, "method": "wallet", "destination": "w-1"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["code"]; got != "INSUFFICIENT_BALANCE" {
		t.Errorf("expected INSUFFICIENT_BALANCE, got %v", got)
	}

	w = env.do(t, http.MethodPost, "/commissions/withdraw", env.partner, map[string]any{"amount": 400, "method": "mobile_money", "destination": "0803"})
	if w.Code != http.StatusOK {
		t.Fatalf("withdraw: %d %s", w.Code, w.Body.String())
	}
	wd := decode(t, w)["withdrawal"].(map[string]any)
	if wd["processing_fee"] != "10" || wd["net_amount"] != "390" || wd["status"] != "pending" {
		t.Errorf("unexpected withdrawal %v", wd)
	}
	id := wd["id"].(string)

	w = env.do(t, http.MethodPatch, "/commissions/withdrawals/"+id, env.partner, map[string]string{"status": "failed"})
	if w.Code != http.StatusForbidden {
		t.Errorf("expected partner to be forbidden from admin update, got %d", w.Code)
	}
	w = env.do(t, http.MethodPatch, "/commissions/withdrawals/"+id, env.admin, map[string]string{"status": "failed", "reason": "bad account"})
	if w.Code != http.StatusOK {
		t.Fatalf("admin fail: %d %s", w.Code, w.Body.String())
	}
	w = env.do(t, http.MethodPost, "/commissions/withdrawals/"+id+"/cancel", env.partner, nil)
	if w.Code != http.StatusConflict {
		t.Errorf("expected cancel of failed withdrawal to conflict, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/commissions/history?page=1&limit=5", env.partner, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("history: %d %s", w.Code, w.Body.String())
	}
	h := decode(t, w)["history"].(map[string]any)
	pg := h["pagination"].(map[string]any)
	if pg["total"] != float64(1) || pg["pages"] != float64(1) || pg["limit"] != float64(5) {
		t.Errorf("unexpected pagination %v", pg)
	}
	if txs := h["transactions"].([]any); len(txs) != 1 {
		t.Errorf("expected 1 transaction, got %d", len(txs))
	}

	w = env.do(t, http.MethodGet, "/commissions/history?page=x", env.partner, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad page, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/commissions/summary", env.partner, nil)
	if got := decode(t, w)["summary"].(map[string]any)["commissionBalance"]; got != "500" {
		t.Errorf("expected balance restored to 500, got %v", got)
	}
}

func TestExportLedger(t *testing.T) {
	env := newTestEnv(t, nil)
	ref := env.initialize(t, env.createOrder(t))
	env.verify(t, `{"reference":"`+ref+`"}`, true)

	if w := env.do(t, http.MethodGet, "/commissions/export", env.partner, nil); w.Code != http.StatusForbidden {
		t.Errorf("expected partner forbidden, got %d", w.Code)
	}
	w := env.do(t, http.MethodGet, "/commissions/export?from=2000-01-01", env.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("export: %d %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/csv" {
		t.Errorf("expected text/csv, got %s", ct)
	}
	records, err := csv.NewReader(w.Body).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	// header + payment + platform fee + commission
	if len(records) != 4 {
		t.Errorf("expected 4 records, got %d", len(records))
	}

	if w := env.do(t, http.MethodGet, "/commissions/export?from=yesterday", env.admin, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad date, got %d", w.Code)
	}
}

func TestGetOrder_OwnerOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	orderID := env.createOrder(t)

	if w := env.do(t, http.MethodGet, "/orders/"+orderID, env.partner, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected non-owner 404, got %d", w.Code)
	}
	if w := env.do(t, http.MethodGet, "/orders/"+orderID, env.admin, nil); w.Code != http.StatusOK {
		t.Errorf("expected admin 200, got %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/orders", env.buyer, map[string]any{"items": []any{}})
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected empty order rejected, got %d", w.Code)
	}
}

func TestAdminResettleAndReconcile(t *testing.T) {
	env := newTestEnv(t, nil)
	ref := env.initialize(t, env.createOrder(t))

	w := env.do(t, http.MethodPost, "/admin/payments/reconcile?older_than=0s", env.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("reconcile: %d %s", w.Code, w.Body.String())
	}
	report := decode(t, w)["report"].(map[string]any)
	if report["checked"] != float64(1) {
		t.Errorf("unexpected report %v", report)
	}

	w = env.do(t, http.MethodPost, "/admin/payments/"+ref+"/resettle", env.admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("resettle: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["data"].(map[string]any)["outcome"]; got != string(settlement.OutcomeResettled) {
		t.Errorf("expected resettled, got %v", got)
	}
	if w := env.do(t, http.MethodPost, "/admin/payments/"+ref+"/resettle", env.buyer, nil); w.Code != http.StatusForbidden {
		t.Errorf("expected buyer forbidden, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/admin/payments/reconcile?older_than=soon", env.admin, nil); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestOrderLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	// Buyer cancels a pending order once.
	cancelled := env.createOrder(t)
	stranger := &model.Order{ID: "order-x", BuyerID: "buyer-2", Total: d(100), Status: model.OrderPending}
	if err := env.store.CreateOrder(context.Background(), stranger); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if w := env.do(t, http.MethodPost, "/orders/order-x/cancel", env.buyer, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 cancelling another buyer's order, got %d", w.Code)
	}
	w := env.do(t, http.MethodPost, "/orders/"+cancelled+"/cancel", env.buyer, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: %d %s", w.Code, w.Body.String())
	}
	if got := decode(t, w)["order"].(map[string]any)["status"]; got != string(model.OrderCancelled) {
		t.Errorf("expected cancelled, got %v", got)
	}
	w = env.do(t, http.MethodPost, "/orders/"+cancelled+"/cancel", env.buyer, nil)
	if w.Code != http.StatusConflict || decode(t, w)["code"] != "INVALID_TRANSITION" {
		t.Errorf("expected 409 INVALID_TRANSITION on second cancel, got %d %s", w.Code, w.Body.String())
	}

	// A paid order moves forward only.
	paid := env.createOrder(t)
	if w := env.do(t, http.MethodPatch, "/orders/"+paid, env.admin, map[string]string{"status": "delivered"}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 delivering an unpaid order, got %d", w.Code)
	}
	ref := env.initialize(t, paid)
	if w := env.verify(t, `{"reference":"`+ref+`"}`, true); w.Code != http.StatusOK {
		t.Fatalf("verify: %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/orders/"+paid+"/cancel", env.buyer, nil); w.Code != http.StatusConflict {
		t.Errorf("expected 409 cancelling a paid order, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPatch, "/orders/"+paid, env.buyer, map[string]string{"status": "delivered"}); w.Code != http.StatusForbidden {
		t.Errorf("expected buyer forbidden, got %d", w.Code)
	}
	for _, status := range []string{"delivered", "completed"} {
		w := env.do(t, http.MethodPatch, "/orders/"+paid, env.admin, map[string]string{"status": status})
		if w.Code != http.StatusOK {
			t.Fatalf("%s: %d %s", status, w.Code, w.Body.String())
		}
	}
	if w := env.do(t, http.MethodPatch, "/orders/"+paid, env.admin, map[string]string{"status": "delivered"}); w.Code != http.StatusConflict {
		t.Errorf("expected 409 moving completed back to delivered, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPatch, "/orders/"+paid, env.admin, map[string]string{"status": "pending"}); w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for a status outside the fulfilment set, got %d", w.Code)
	}
}
