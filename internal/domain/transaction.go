/**
 * @description
 * This file defines the core domain models for the donation service: the durable
 * payment Transaction keyed by the gateway session id, and the DTOs exchanged with
 * the HTTP layer.
 *
 * @notes
 * - Amounts use shopspring/decimal so that quantity × unit price is exact and is
 *   always rendered with two decimals.
 * - A Transaction is created only after the gateway has issued a session id.
 */

package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionStatus is the lifecycle state of a donation payment.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Transaction is the durable record of one donation's payment lifecycle.
type Transaction struct {
	SessionID   string            `json:"session_id"`
	Phone       string            `json:"phone"`
	Amount      decimal.Decimal   `json:"amount"`
	Quantity    int               `json:"quantity"`
	Recipient   string            `json:"recipient"`
	Location    string            `json:"location,omitempty"`
	Status      TransactionStatus `json:"status"`
	BankMessage *string           `json:"bank_message,omitempty"`
	OTPVerified bool              `json:"otp_verified"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`

	// ConfirmStartedAt is stamped before each gateway confirm call so the
	// stale sweep cannot expire a session whose confirm is in flight.
	ConfirmStartedAt *time.Time `json:"confirm_started_at,omitempty"`
}

// StatusTransition carries the fields written when a pending transaction is finalized.
type StatusTransition struct {
	Status      TransactionStatus
	BankMessage string
	OTPVerified bool
}

// InitiateDonationRequest is the DTO for starting a donation. Amount is accepted
// for compatibility with older clients but never trusted.
type InitiateDonationRequest struct {
	Phone     string           `json:"phone"`
	Customer  string           `json:"customer,omitempty"`
	Quantity  int              `json:"quantity"`
	Recipient string           `json:"recipient"`
	Mosque    string           `json:"mosque,omitempty"`
	Location  string           `json:"location,omitempty"`
	Amount    *decimal.Decimal `json:"amount,omitempty"`
}

// InitiateDonationResult is returned once the gateway has opened a session.
type InitiateDonationResult struct {
	SessionID string          `json:"session_id"`
	Phone     string          `json:"phone"`
	Amount    decimal.Decimal `json:"amount"`
}

// ConfirmDonationRequest carries the OTP the donor received by SMS.
type ConfirmDonationRequest struct {
	SessionID string `json:"session_id"`
	OTP       string `json:"otp"`
}

// ConfirmOutcome is the terminal result of a confirm call.
type ConfirmOutcome struct {
	SessionID string            `json:"session_id"`
	Status    TransactionStatus `json:"status"`
	Message   string            `json:"message"`
}
