// Package fees computes the platform's share of a payment, partner
// commissions and withdrawal processing fees.
//
// All monetary values use shopspring/decimal, never float64.
// Derived amounts are rounded half away from zero to model.AmountScale.
package fees

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

var (
	// ErrInvalidRate is returned when a rate lies outside [0, 1].
	ErrInvalidRate = errors.New("fees: rate must be between 0 and 1")

	// ErrUnknownMethod is returned for a withdrawal method with no fee rule.
	ErrUnknownMethod = errors.New("fees: unsupported withdrawal method")

	// DefaultPlatformFeeRate is the operator's share of every settled payment.
	DefaultPlatformFeeRate = decimal.NewFromFloat(0.03)

	// DefaultCommissionRate applies when no tier or partner override matches.
	DefaultCommissionRate = decimal.NewFromFloat(0.05)
)

// MethodFee is the processing fee rule of one withdrawal method:
// fee = max(Flat + amount × Percent, Min).
type MethodFee struct {
	Flat    decimal.Decimal
	Percent decimal.Decimal
	Min     decimal.Decimal
}

// DefaultMethodFees are the processing fees per withdrawal method.
func DefaultMethodFees() map[string]MethodFee {
	return map[string]MethodFee{
		model.MethodBankTransfer: {Flat: decimal.NewFromInt(50)},
		model.MethodMobileMoney:  {Percent: decimal.NewFromFloat(0.01), Min: decimal.NewFromInt(10)},
		model.MethodWallet:       {},
	}
}

// Schedule holds the configured rates. It is immutable after construction.
type Schedule struct {
	platformFeeRate       decimal.Decimal
	defaultCommissionRate decimal.Decimal
	methods               map[string]MethodFee
}

// NewSchedule validates the rates and returns a Schedule. A nil methods map
// uses DefaultMethodFees.
func NewSchedule(platformFeeRate, defaultCommissionRate decimal.Decimal, methods map[string]MethodFee) (*Schedule, error) {
	if !validRate(platformFeeRate) {
		return nil, fmt.Errorf("%w: platform fee rate %s", ErrInvalidRate, platformFeeRate)
	}
	if !validRate(defaultCommissionRate) {
		return nil, fmt.Errorf("%w: commission rate %s", ErrInvalidRate, defaultCommissionRate)
	}
	if methods == nil {
		methods = DefaultMethodFees()
	}
	return &Schedule{
		platformFeeRate:       platformFeeRate,
		defaultCommissionRate: defaultCommissionRate,
		methods:               methods,
	}, nil
}

// PlatformFeeRate returns the configured platform fee rate.
func (s *Schedule) PlatformFeeRate() decimal.Decimal { return s.platformFeeRate }

// DefaultCommissionRate returns the fallback commission rate.
func (s *Schedule) DefaultCommissionRate() decimal.Decimal { return s.defaultCommissionRate }

// PlatformFee computes round(total × platformFeeRate).
func (s *Schedule) PlatformFee(total decimal.Decimal) decimal.Decimal {
	return model.RoundAmount(total.Mul(s.platformFeeRate))
}

// Commission computes round(subtotal × rate).
func (s *Schedule) Commission(subtotal, rate decimal.Decimal) decimal.Decimal {
	return model.RoundAmount(subtotal.Mul(rate))
}

// ProcessingFee computes the withdrawal fee for method. The fee never
// exceeds the amount itself.
func (s *Schedule) ProcessingFee(method string, amount decimal.Decimal) (decimal.Decimal, error) {
	rule, ok := s.methods[method]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}
	fee := rule.Flat.Add(amount.Mul(rule.Percent))
	if fee.LessThan(rule.Min) {
		fee = rule.Min
	}
	fee = model.RoundAmount(fee)
	if fee.GreaterThan(amount) {
		fee = amount
	}
	return fee, nil
}

// SupportsMethod reports whether method has a fee rule.
func (s *Schedule) SupportsMethod(method string) bool {
	_, ok := s.methods[method]
	return ok
}

func validRate(r decimal.Decimal) bool {
	return !r.IsNegative() && r.LessThanOrEqual(decimal.NewFromInt(1))
}
