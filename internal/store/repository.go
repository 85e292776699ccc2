/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the donation service. Two implementations
 * exist: PostgreSQL (pgx) and MongoDB. Both make the status transition a single
 * conditional write so concurrent confirms for one session cannot both succeed.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"
	"time"

	"github.com/saniah/donation-service/internal/domain"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrTransactionExists   = errors.New("transaction already exists")
	ErrTransitionConflict  = errors.New("transaction status does not match expected status")
	ErrDuplicateEvent      = errors.New("event already recorded for session")
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Transaction methods
	CreateTransaction(ctx context.Context, tx *domain.Transaction) error
	FindTransactionBySessionID(ctx context.Context, sessionID string) (*domain.Transaction, error)
	// TransitionTransactionStatus applies t only if the stored status equals
	// expected, returning ErrTransitionConflict otherwise.
	TransitionTransactionStatus(ctx context.Context, sessionID string, expected domain.TransactionStatus, t domain.StatusTransition) (*domain.Transaction, error)
	// MarkConfirmStarted stamps a pending transaction before the gateway is
	// asked to confirm it. A finalized record yields ErrTransitionConflict.
	MarkConfirmStarted(ctx context.Context, sessionID string, at time.Time) error
	// FindStalePendingTransactions and ExpireStalePendingTransaction skip
	// records created or confirm-stamped at or after cutoff.
	FindStalePendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error)
	ExpireStalePendingTransaction(ctx context.Context, sessionID string, cutoff time.Time, bankMessage string) error

	// Fan-out audit methods; both are idempotent per session id.
	CreateAdminNotification(ctx context.Context, item domain.AdminNotification) error
	CreateDeliveryRequest(ctx context.Context, item domain.DeliveryRequest) error
	ListAdminNotifications(ctx context.Context, limit int) ([]domain.AdminNotification, error)
	ListDeliveryRequests(ctx context.Context, limit int) ([]domain.DeliveryRequest, error)
}

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

func normalizeListLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}
