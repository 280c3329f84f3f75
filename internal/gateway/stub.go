package gateway

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
)

// Stub is an in-process gateway for development and tests. Every reference
// verifies as successful unless an outcome was set with SetOutcome.
type Stub struct {
	// CheckoutURL prefixes generated authorization URLs.
	CheckoutURL string

	mu          sync.Mutex
	sessions    map[string]InitializeRequest
	outcomes    map[string]string
	amounts     map[string]decimal.Decimal
	initErr     error
	verifyErr   error
	verifyCalls int
}

// NewStub creates a stub gateway.
func NewStub() *Stub {
	return &Stub{
		CheckoutURL: "https://checkout.stub.local/",
		sessions:    make(map[string]InitializeRequest),
		outcomes:    make(map[string]string),
		amounts:     make(map[string]decimal.Decimal),
	}
}

func (s *Stub) Name() string { return "stub" }

// SetOutcome fixes the status Verify reports for reference.
func (s *Stub) SetOutcome(reference, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes[reference] = status
}

// SetVerifiedAmount makes Verify report amount for reference instead of the
// amount the session was opened with.
func (s *Stub) SetVerifiedAmount(reference string, amount decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.amounts[reference] = amount
}

// FailInitialize makes Initialize return err. Nil clears it.
func (s *Stub) FailInitialize(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.initErr = err
}

// FailVerify makes Verify return err. Nil clears it.
func (s *Stub) FailVerify(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.verifyErr = err
}

// VerifyCalls returns how many times Verify was called.
func (s *Stub) VerifyCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.verifyCalls
}

func (s *Stub) Initialize(_ context.Context, req InitializeRequest) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initErr != nil {
		return nil, s.initErr
	}
	s.sessions[req.Reference] = req
	return &Session{
		AuthorizationURL: s.CheckoutURL + req.Reference,
		Reference:        req.Reference,
		Amount:           req.Amount,
		Metadata:         req.Metadata,
	}, nil
}

func (s *Stub) Verify(_ context.Context, reference string) (*Verification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.verifyCalls++
	if s.verifyErr != nil {
		return nil, s.verifyErr
	}
	status, ok := s.outcomes[reference]
	if !ok {
		status = StatusSuccess
	}
	v := &Verification{Status: status, Reference: reference, Amount: decimal.Zero}
	if sess, ok := s.sessions[reference]; ok {
		v.Amount = sess.Amount
		v.Metadata = sess.Metadata
		v.ProviderReference = "stub_" + reference
	}
	if amount, ok := s.amounts[reference]; ok {
		v.Amount = amount
	}
	return v, nil
}
