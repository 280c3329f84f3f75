// Package apperr is the error taxonomy surfaced by the settlement and
// commission services. Each error carries a Kind that decides the HTTP
// status and a stable machine-readable Code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindStateConflict
	KindGateway
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindStateConflict:
		return "state_conflict"
	case KindGateway:
		return "gateway"
	default:
		return "internal"
	}
}

// Stable codes.
const (
	CodeValidation          = "VALIDATION_FAILED"
	CodeOrderNotFound       = "ORDER_NOT_FOUND"
	CodeUnknownReference    = "UNKNOWN_REFERENCE"
	CodePartnerNotFound     = "PARTNER_NOT_FOUND"
	CodeWithdrawalNotFound  = "WITHDRAWAL_NOT_FOUND"
	CodeOrderNotPending     = "ORDER_NOT_PENDING"
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeGatewayUnavailable  = "GATEWAY_UNAVAILABLE"
	CodeInternal            = "INTERNAL"
)

// Error is a classified service error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error without a cause.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap classifies err.
func Wrap(kind Kind, code string, err error, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

// Validation is shorthand for a VALIDATION_FAILED error.
func Validation(message string) *Error {
	return New(KindValidation, CodeValidation, message)
}

// Internal wraps an unexpected failure.
func Internal(err error, message string) *Error {
	return Wrap(KindInternal, CodeInternal, err, message)
}

// KindOf returns the Kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the Code of the first *Error in err's chain, or CodeInternal.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return CodeInternal
}

// HTTPStatus maps err to a response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindStateConflict:
		return http.StatusConflict
	case KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage hides internal causes from clients.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal error"
	}
	if e.Kind == KindInternal {
		return "internal error"
	}
	return e.Message
}
