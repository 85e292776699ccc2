package app

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownSession     = errors.New("unknown session")
	ErrAlreadyFinalized   = errors.New("transaction already finalized")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrAccountNotEligible = errors.New("account not eligible for the service")
	ErrGatewayUnavailable = errors.New("payment provider temporarily unavailable")
	ErrGatewayProtocol    = errors.New("unexpected reply from payment provider")
	ErrStorage            = errors.New("storage failure")
	ErrTooManyAttempts    = errors.New("too many attempts")
)

// ValidationError reports malformed caller input with the specific rule that failed.
type ValidationError struct {
	Field string
	Rule  string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Rule)
}

// AttemptLimitError is returned when a caller exceeds an attempt budget.
type AttemptLimitError struct {
	Scope             string
	RetryAfterSeconds int
}

func (e *AttemptLimitError) Error() string {
	return fmt.Sprintf("%s: %s, retry after %ds", ErrTooManyAttempts, e.Scope, e.RetryAfterSeconds)
}

func (e *AttemptLimitError) Is(target error) bool {
	return target == ErrTooManyAttempts
}
