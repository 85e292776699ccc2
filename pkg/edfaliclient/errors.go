package edfaliclient

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientFunds  = errors.New("edfali: insufficient balance")
	ErrAccountNotEligible = errors.New("edfali: phone not provisioned for the service")
	ErrInvalidCode        = errors.New("edfali: wrong or expired confirmation code")
)

// TransportError means no usable reply was obtained: the request timed out,
// the connection failed, or the gateway answered non-2xx without a SOAP fault.
// It is the only gateway error a caller may retry.
type TransportError struct {
	Action     string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("edfali %s: transport failure (status %d): %v", e.Action, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("edfali %s: transport failure: %v", e.Action, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError means the gateway answered but not in the expected shape.
// Raw holds the reply body for manual triage and must not reach donors.
type ProtocolError struct {
	Action string
	Reason string
	Raw    string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("edfali %s: protocol error: %s", e.Action, e.Reason)
}

// DeclinedError is a domain-level refusal carried in the result field.
type DeclinedError struct {
	Action string
	Code   DeclineCode
}

func (e *DeclinedError) Error() string {
	return fmt.Sprintf("edfali %s: declined with code %s", e.Action, e.Code)
}

func (e *DeclinedError) Is(target error) bool {
	switch target {
	case ErrInsufficientFunds:
		return e.Code == CodeInsufficientBalance
	case ErrAccountNotEligible:
		return e.Code == CodeAccountNotEligible
	case ErrInvalidCode:
		return e.Code == CodeInvalidOTP
	}
	return false
}

// IsRetriable reports whether err is a transport failure.
func IsRetriable(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}
