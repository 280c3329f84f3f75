// Package tier resolves the commission rate that applies to a partner from
// the partner's settled commission volume.
//
// Tiers are brackets over the count of completed commission transactions:
//   - a tier matches when Status is active, MinTransactions <= count and
//     count < MaxTransactions (nil max is unbounded)
//   - the tier must be in effect: EffectiveDate <= now < ExpiryDate
//   - overlapping matches resolve to the highest MinTransactions
//
// When nothing matches, a partner's own override applies, then the default.
package tier

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/adamstosho/GroChain-sub000/internal/model"
)

// StatusActive marks a tier that participates in resolution.
const StatusActive = "active"

// ErrInvalidBracket is returned by Validate for an empty or inverted bracket.
var ErrInvalidBracket = errors.New("tier: max transactions must exceed min transactions")

// Resolver picks commission rates. It holds no state besides the default.
type Resolver struct {
	// DefaultRate applies when no tier matches and the partner has no override.
	DefaultRate decimal.Decimal
}

// NewResolver creates a resolver with the given fallback rate.
func NewResolver(defaultRate decimal.Decimal) *Resolver {
	return &Resolver{DefaultRate: defaultRate}
}

// Match returns the tier that applies to count at now, or nil.
func (r *Resolver) Match(tiers []model.CommissionTier, count int, now time.Time) *model.CommissionTier {
	var best *model.CommissionTier
	for i := range tiers {
		t := &tiers[i]
		if !applies(t, count, now) {
			continue
		}
		if best == nil || t.MinTransactions > best.MinTransactions {
			best = t
		}
	}
	return best
}

// Resolve returns the tier rate for count, or DefaultRate.
func (r *Resolver) Resolve(tiers []model.CommissionTier, count int, now time.Time) decimal.Decimal {
	if t := r.Match(tiers, count, now); t != nil {
		return t.CommissionRate
	}
	return r.DefaultRate
}

// RateFor resolves the rate for partner: a matching tier first, then the
// partner's override, then DefaultRate.
func (r *Resolver) RateFor(partner *model.Partner, tiers []model.CommissionTier, count int, now time.Time) decimal.Decimal {
	if t := r.Match(tiers, count, now); t != nil {
		return t.CommissionRate
	}
	if partner != nil && partner.CommissionRate != nil {
		return *partner.CommissionRate
	}
	return r.DefaultRate
}

// Validate checks a tier definition before it is stored.
func Validate(t model.CommissionTier) error {
	if t.MinTransactions < 0 {
		return ErrInvalidBracket
	}
	if t.MaxTransactions != nil && *t.MaxTransactions <= t.MinTransactions {
		return ErrInvalidBracket
	}
	return nil
}

func applies(t *model.CommissionTier, count int, now time.Time) bool {
	if t.Status != StatusActive {
		return false
	}
	if count < t.MinTransactions {
		return false
	}
	if t.MaxTransactions != nil && count >= *t.MaxTransactions {
		return false
	}
	if now.Before(t.EffectiveDate) {
		return false
	}
	if t.ExpiryDate != nil && !now.Before(*t.ExpiryDate) {
		return false
	}
	return true
}
