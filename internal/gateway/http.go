package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
)

// minorUnits is the number of minor units per major currency unit.
var minorUnits = decimal.NewFromInt(100)

// HTTPClient talks to a hosted-checkout JSON API authenticated with a
// Bearer secret key. Amounts travel in minor units.
type HTTPClient struct {
	BaseURL     string
	SecretKey   string
	CallbackURL string
	client      *http.Client
}

// NewHTTPClient creates a gateway client. Every call is bounded by timeout.
func NewHTTPClient(baseURL, secretKey, callbackURL string, timeout time.Duration) *HTTPClient {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		BaseURL:     baseURL,
		SecretKey:   secretKey,
		CallbackURL: callbackURL,
		client:      &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Name() string { return "paystack" }

type initializeBody struct {
	Email       string         `json:"email"`
	Amount      int64          `json:"amount"`
	Reference   string         `json:"reference"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type envelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	ID        int64          `json:"id"`
	Status    string         `json:"status"`
	Reference string         `json:"reference"`
	Amount    int64          `json:"amount"`
	Metadata  map[string]any `json:"metadata"`
}

// Initialize opens a checkout session for req.
func (c *HTTPClient) Initialize(ctx context.Context, req InitializeRequest) (*Session, error) {
	body, err := json.Marshal(initializeBody{
		Email:       req.Email,
		Amount:      req.Amount.Mul(minorUnits).Round(0).IntPart(),
		Reference:   req.Reference,
		CallbackURL: c.CallbackURL,
		Metadata:    req.Metadata,
	})
	if err != nil {
		return nil, err
	}

	var out envelope[initializeData]
	if err := c.do(ctx, http.MethodPost, "/transaction/initialize", body, &out); err != nil {
		return nil, err
	}
	if !out.Status || out.Data.AuthorizationURL == "" {
		return nil, fmt.Errorf("initialize %s rejected: %s", req.Reference, out.Message)
	}
	return &Session{
		AuthorizationURL: out.Data.AuthorizationURL,
		Reference:        req.Reference,
		Amount:           req.Amount,
		Metadata:         req.Metadata,
	}, nil
}

// Verify fetches the authoritative status of reference.
func (c *HTTPClient) Verify(ctx context.Context, reference string) (*Verification, error) {
	var out envelope[verifyData]
	if err := c.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &out); err != nil {
		return nil, err
	}
	if !out.Status {
		return nil, fmt.Errorf("verify %s rejected: %s", reference, out.Message)
	}
	return &Verification{
		Status:            out.Data.Status,
		Reference:         out.Data.Reference,
		Amount:            decimal.NewFromInt(out.Data.Amount).Div(minorUnits),
		ProviderReference: fmt.Sprintf("%d", out.Data.ID),
		Metadata:          out.Data.Metadata,
	}, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, dst any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.SecretKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	slog.Debug("gateway response", "method", method, "path", path, "status", resp.StatusCode)

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("%w: %s %s: %d", ErrUnavailable, method, path, resp.StatusCode)
	}
	if err := json.Unmarshal(respBody, dst); err != nil {
		return fmt.Errorf("decode %s %s (%d): %w", method, path, resp.StatusCode, err)
	}
	return nil
}
