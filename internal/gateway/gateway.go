// Package gateway is the boundary to the external payment gateway. The
// engine opens checkout sessions through it and asks it for the
// authoritative outcome of a payment; caller-supplied status is never
// trusted.
package gateway

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when the gateway cannot be reached or answers
// with a server error.
var ErrUnavailable = errors.New("gateway: unavailable")

// Verification statuses reported by the gateway.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusAbandoned = "abandoned"
)

// InitializeRequest opens a checkout session.
type InitializeRequest struct {
	Email     string
	Amount    decimal.Decimal // major currency units
	Reference string
	Metadata  map[string]any
}

// Session is the checkout descriptor handed back to the client.
type Session struct {
	AuthorizationURL string          `json:"authorization_url"`
	Reference        string          `json:"reference"`
	Amount           decimal.Decimal `json:"amount"`
	Metadata         map[string]any  `json:"metadata"`
}

// Verification is the gateway's verdict on a reference.
type Verification struct {
	Status            string
	Reference         string
	Amount            decimal.Decimal
	ProviderReference string
	Metadata          map[string]any
}

// Succeeded reports whether the gateway settled the payment.
func (v *Verification) Succeeded() bool {
	return v != nil && v.Status == StatusSuccess
}

// Adapter is implemented by every gateway integration.
type Adapter interface {
	// Name identifies the provider on ledger rows.
	Name() string
	Initialize(ctx context.Context, req InitializeRequest) (*Session, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
}
