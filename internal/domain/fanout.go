package domain

import (
	"time"

	"github.com/google/uuid"
)

// DonationCompletedEvent is published once a payment reaches completed. It
// carries everything the fan-out needs so consumers never read the store.
type DonationCompletedEvent struct {
	EventID     string    `json:"event_id"`
	SessionID   string    `json:"session_id"`
	Phone       string    `json:"phone"`
	Recipient   string    `json:"recipient"`
	Location    string    `json:"location"`
	Quantity    int       `json:"quantity"`
	Amount      string    `json:"amount"`
	BankMessage string    `json:"bank_message"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// AdminNotification is an append-only audit entry for operators.
type AdminNotification struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// DeliveryRequest records the message pushed to the courier channel.
type DeliveryRequest struct {
	ID        uuid.UUID `json:"id"`
	SessionID string    `json:"session_id"`
	Recipient string    `json:"recipient"`
	Phone     string    `json:"phone"`
	Quantity  int       `json:"quantity"`
	Location  string    `json:"location,omitempty"`
	MapURL    string    `json:"map_url"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
