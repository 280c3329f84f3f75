// Package reference builds payment references and the derived references
// that guard one-time creation of fee and commission ledger rows.
//
// Payment:      GRO_{unixMillis}_{8 hex}
// Platform fee: PLATFORM_FEE_{payment}
// Commission:   COMMISSION_{payment}_{partnerID}
package reference

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	paymentPrefix     = "GRO_"
	platformFeePrefix = "PLATFORM_FEE_"
	commissionPrefix  = "COMMISSION_"
)

// Kinds of reference.
const (
	KindPayment     = "payment"
	KindPlatformFee = "platform_fee"
	KindCommission  = "commission"
)

var (
	paymentRegex    = regexp.MustCompile(`^GRO_(\d{13})_([0-9a-f]{8})$`)
	commissionRegex = regexp.MustCompile(`^COMMISSION_(GRO_\d{13}_[0-9a-f]{8})_([A-Za-z0-9-]+)$`)
)

var ErrInvalidReference = errors.New("reference: invalid format")

// Parsed is a decoded reference.
type Parsed struct {
	Kind      string    `json:"kind"`
	Payment   string    `json:"payment"`
	PartnerID string    `json:"partner_id,omitempty"`
	IssuedAt  time.Time `json:"issued_at"`
}

// New returns a fresh payment reference.
func New(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s%013d_%s", paymentPrefix, now.UnixMilli(), suffix)
}

// PlatformFee returns the derived reference of the fee row for payment ref.
func PlatformFee(ref string) string {
	return platformFeePrefix + ref
}

// Commission returns the derived reference of partnerID's commission row for payment ref.
func Commission(ref, partnerID string) string {
	return commissionPrefix + ref + "_" + partnerID
}

// Validate checks that ref is a payment reference issued by New.
func Validate(ref string) error {
	if !paymentRegex.MatchString(ref) {
		return fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return nil
}

// Parse decodes a payment, platform-fee or commission reference.
func Parse(ref string) (*Parsed, error) {
	switch {
	case strings.HasPrefix(ref, platformFeePrefix):
		p, err := parsePayment(strings.TrimPrefix(ref, platformFeePrefix))
		if err != nil {
			return nil, err
		}
		p.Kind = KindPlatformFee
		return p, nil

	case strings.HasPrefix(ref, commissionPrefix):
		m := commissionRegex.FindStringSubmatch(ref)
		if m == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
		}
		p, err := parsePayment(m[1])
		if err != nil {
			return nil, err
		}
		p.Kind = KindCommission
		p.PartnerID = m[2]
		return p, nil

	default:
		return parsePayment(ref)
	}
}

func parsePayment(ref string) (*Parsed, error) {
	m := paymentRegex.FindStringSubmatch(ref)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	var ms int64
	if _, err := fmt.Sscanf(m[1], "%d", &ms); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	return &Parsed{
		Kind:     KindPayment,
		Payment:  ref,
		IssuedAt: time.UnixMilli(ms).UTC(),
	}, nil
}
