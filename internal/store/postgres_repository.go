/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository` interface.
 * It contains the SQL for donation transactions and the append-only fan-out audit
 * tables.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - github.com/shopspring/decimal: Amounts travel as text and are parsed exactly.
 * - internal/domain: Contains the domain models used for data transfer.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/saniah/donation-service/internal/domain"
	"github.com/shopspring/decimal"
)

const pgUniqueViolation = "23505"

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS donation_transactions (
		session_id   TEXT PRIMARY KEY,
		phone        TEXT NOT NULL,
		amount       NUMERIC(12,2) NOT NULL,
		quantity     INTEGER NOT NULL CHECK (quantity > 0),
		recipient    TEXT NOT NULL,
		location     TEXT NOT NULL DEFAULT '',
		status       TEXT NOT NULL CHECK (status IN ('pending', 'completed', 'failed')),
		bank_message TEXT,
		otp_verified BOOLEAN NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		confirm_started_at TIMESTAMPTZ
	)`,
	`ALTER TABLE donation_transactions ADD COLUMN IF NOT EXISTS confirm_started_at TIMESTAMPTZ`,
	`CREATE INDEX IF NOT EXISTS donation_transactions_pending_idx
		ON donation_transactions (created_at) WHERE status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS admin_notifications (
		id         UUID PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES donation_transactions (session_id),
		title      TEXT NOT NULL,
		body       TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS delivery_requests (
		id         UUID PRIMARY KEY,
		session_id TEXT NOT NULL UNIQUE REFERENCES donation_transactions (session_id),
		recipient  TEXT NOT NULL,
		phone      TEXT NOT NULL,
		quantity   INTEGER NOT NULL,
		location   TEXT NOT NULL DEFAULT '',
		map_url    TEXT NOT NULL,
		message    TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

const transactionColumns = `session_id, phone, amount::text, quantity, recipient, location,
	status, bank_message, otp_verified, created_at, updated_at, confirm_started_at`

const (
	transitionStatusQuery = `
		UPDATE donation_transactions
		SET
			status = $3,
			bank_message = $4,
			otp_verified = $5,
			updated_at = NOW()
		WHERE session_id = $1
		  AND status = $2
		RETURNING ` + transactionColumns

	markConfirmStartedQuery = `
		UPDATE donation_transactions
		SET confirm_started_at = $2, updated_at = NOW()
		WHERE session_id = $1
		  AND status = 'pending'
	`

	// A pending row is stale only when both its creation and its latest
	// confirm attempt are older than the cutoff.
	stalePendingCondition = `status = 'pending'
		  AND created_at < $1
		  AND (confirm_started_at IS NULL OR confirm_started_at < $1)`

	findStalePendingQuery = `
		SELECT ` + transactionColumns + `
		FROM donation_transactions
		WHERE ` + stalePendingCondition + `
		ORDER BY created_at ASC
		LIMIT $2
	`

	expireStalePendingQuery = `
		UPDATE donation_transactions
		SET status = 'failed', bank_message = $3, otp_verified = FALSE, updated_at = NOW()
		WHERE session_id = $2
		  AND ` + stalePendingCondition

	insertAdminNotificationQuery = `
		INSERT INTO admin_notifications (id, session_id, title, body, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id) DO NOTHING
	`

	insertDeliveryRequestQuery = `
		INSERT INTO delivery_requests (id, session_id, recipient, phone, quantity, location, map_url, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (session_id) DO NOTHING
	`
)

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// EnsureSchema creates the tables used by the service if they are missing.
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// CreateTransaction inserts a new pending transaction. An existing session id
// yields ErrTransactionExists; the row is never overwritten.
func (r *PostgresRepository) CreateTransaction(ctx context.Context, tx *domain.Transaction) error {
	query := `
		INSERT INTO donation_transactions (
			session_id, phone, amount, quantity, recipient, location, status, bank_message, otp_verified
		)
		VALUES ($1, $2, $3::text::numeric(12,2), $4, $5, $6, $7, $8, $9)
		RETURNING created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query,
		tx.SessionID,
		tx.Phone,
		tx.Amount.StringFixed(2),
		tx.Quantity,
		tx.Recipient,
		tx.Location,
		string(tx.Status),
		tx.BankMessage,
		tx.OTPVerified,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrTransactionExists
		}
		return err
	}
	return nil
}

// FindTransactionBySessionID retrieves a transaction by its gateway session id.
func (r *PostgresRepository) FindTransactionBySessionID(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM donation_transactions WHERE session_id = $1`
	tx, err := scanTransaction(r.db.QueryRow(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return tx, nil
}

// TransitionTransactionStatus performs a single conditional UPDATE guarded by
// the expected status. When no row matches, a follow-up read only decides
// between not-found and conflict; it never writes.
func (r *PostgresRepository) TransitionTransactionStatus(ctx context.Context, sessionID string, expected domain.TransactionStatus, t domain.StatusTransition) (*domain.Transaction, error) {
	tx, err := scanTransaction(r.db.QueryRow(ctx, transitionStatusQuery, sessionID, string(expected), string(t.Status), t.BankMessage, t.OTPVerified))
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}

	return nil, r.conflictOrNotFound(ctx, sessionID, expected)
}

// MarkConfirmStarted stamps confirm_started_at on a pending row.
func (r *PostgresRepository) MarkConfirmStarted(ctx context.Context, sessionID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, markConfirmStartedQuery, sessionID, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.conflictOrNotFound(ctx, sessionID, domain.StatusPending)
	}
	return nil
}

// ExpireStalePendingTransaction fails a stale pending row in one conditional
// UPDATE, so a confirm stamped after the sweep read the row wins.
func (r *PostgresRepository) ExpireStalePendingTransaction(ctx context.Context, sessionID string, cutoff time.Time, bankMessage string) error {
	tag, err := r.db.Exec(ctx, expireStalePendingQuery, cutoff, sessionID, bankMessage)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s is no longer stale and pending", ErrTransitionConflict, sessionID)
	}
	return nil
}

// conflictOrNotFound only reads; it decides why a conditional write matched nothing.
func (r *PostgresRepository) conflictOrNotFound(ctx context.Context, sessionID string, expected domain.TransactionStatus) error {
	var current string
	err := r.db.QueryRow(ctx, `SELECT status FROM donation_transactions WHERE session_id = $1`, sessionID).Scan(&current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		return err
	}
	return fmt.Errorf("%w: current=%s expected=%s", ErrTransitionConflict, current, expected)
}

// FindStalePendingTransactions returns stale pending rows, oldest first.
func (r *PostgresRepository) FindStalePendingTransactions(ctx context.Context, cutoff time.Time, limit int) ([]domain.Transaction, error) {
	rows, err := r.db.Query(ctx, findStalePendingQuery, cutoff, normalizeListLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *tx)
	}
	return items, rows.Err()
}

// CreateAdminNotification writes an audit alert, deduplicated on session id.
func (r *PostgresRepository) CreateAdminNotification(ctx context.Context, item domain.AdminNotification) error {
	tag, err := r.db.Exec(ctx, insertAdminNotificationQuery, item.ID, item.SessionID, item.Title, item.Body, createdAtOrNow(item.CreatedAt))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// CreateDeliveryRequest writes the courier request, deduplicated on session id.
func (r *PostgresRepository) CreateDeliveryRequest(ctx context.Context, item domain.DeliveryRequest) error {
	tag, err := r.db.Exec(ctx, insertDeliveryRequestQuery,
		item.ID,
		item.SessionID,
		item.Recipient,
		item.Phone,
		item.Quantity,
		item.Location,
		item.MapURL,
		item.Message,
		createdAtOrNow(item.CreatedAt),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}
	return nil
}

// ListAdminNotifications returns the newest admin alerts first.
func (r *PostgresRepository) ListAdminNotifications(ctx context.Context, limit int) ([]domain.AdminNotification, error) {
	query := `
		SELECT id, session_id, title, body, created_at
		FROM admin_notifications
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, normalizeListLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.AdminNotification{}
	for rows.Next() {
		var item domain.AdminNotification
		if err := rows.Scan(&item.ID, &item.SessionID, &item.Title, &item.Body, &item.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListDeliveryRequests returns the newest courier requests first.
func (r *PostgresRepository) ListDeliveryRequests(ctx context.Context, limit int) ([]domain.DeliveryRequest, error) {
	query := `
		SELECT id, session_id, recipient, phone, quantity, location, map_url, message, created_at
		FROM delivery_requests
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, normalizeListLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []domain.DeliveryRequest{}
	for rows.Next() {
		var item domain.DeliveryRequest
		if err := rows.Scan(
			&item.ID,
			&item.SessionID,
			&item.Recipient,
			&item.Phone,
			&item.Quantity,
			&item.Location,
			&item.MapURL,
			&item.Message,
			&item.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func scanTransaction(row pgx.Row) (*domain.Transaction, error) {
	var (
		tx     domain.Transaction
		amount string
		status string
	)
	err := row.Scan(
		&tx.SessionID,
		&tx.Phone,
		&amount,
		&tx.Quantity,
		&tx.Recipient,
		&tx.Location,
		&status,
		&tx.BankMessage,
		&tx.OTPVerified,
		&tx.CreatedAt,
		&tx.UpdatedAt,
		&tx.ConfirmStartedAt,
	)
	if err != nil {
		return nil, err
	}
	parsed, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("parse stored amount %q: %w", amount, err)
	}
	tx.Amount = parsed
	tx.Status = domain.TransactionStatus(status)
	return &tx, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func createdAtOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
