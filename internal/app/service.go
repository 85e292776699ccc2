/**
 * @description
 * This file contains the payment orchestrator for the donation service. The `Service`
 * struct drives the two-phase gateway handshake (initiate, then confirm with the SMS
 * code), owns the pending → completed|failed state machine, and hands completed
 * donations to the notification fan-out through the message broker.
 *
 * Key features:
 * - Amounts are always computed server-side from quantity × unit price.
 * - A transaction record is created only once the gateway has issued a session id.
 * - Confirmation is guarded by a conditional status transition in the store, so a
 *   session is finalized at most once even under concurrent confirms.
 * - Gateway calls and the store write that follows them are detached from the caller's
 *   cancellation and bounded by their own timeout.
 *
 * @dependencies
 * - github.com/shopspring/decimal: Fixed-point amounts.
 * - github.com/google/uuid: Event identifiers.
 * - internal/domain, internal/store: Domain models and data access.
 * - pkg/edfaliclient, pkg/rabbitmq: Gateway taxonomy and event publishing.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saniah/donation-service/internal/domain"
	"github.com/saniah/donation-service/internal/store"
	"github.com/saniah/donation-service/pkg/edfaliclient"
	"github.com/saniah/donation-service/pkg/rabbitmq"
	"github.com/shopspring/decimal"
)

const (
	DonationCompletedRoutingKey = "donation.completed"

	defaultEventsExchange       = "saniah.events"
	defaultMaxQuantity          = 50
	defaultOperationTimeout     = 20 * time.Second
	defaultPublishTimeout       = 5 * time.Second
	defaultConfirmAttemptWindow = 15 * time.Minute
	defaultStalePendingAfter    = time.Hour
	staleSweepBatchSize         = 100

	expiredBankMessage = "EXPIRED"
)

var defaultUnitPrice = decimal.RequireFromString("6.00")

// Gateway is the subset of the Edfali client the orchestrator depends on.
type Gateway interface {
	Initiate(ctx context.Context, phone string, amount decimal.Decimal) (string, error)
	Confirm(ctx context.Context, phone, sessionID, otp string) (*edfaliclient.Outcome, error)
}

// RateLimiter counts attempts per scope and subject.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Recorder receives business-level observations.
type Recorder interface {
	RecordDonation(outcome string)
	RecordFanoutAction(action, result string)
}

// Options configures the orchestrator. Zero values fall back to defaults.
type Options struct {
	UnitPrice                 decimal.Decimal
	MaxQuantity               int
	OperationTimeout          time.Duration
	EventsExchange            string
	InitiateLimitPerMinute    int
	ConfirmAttemptsPerSession int
	ConfirmAttemptWindow      time.Duration
	StalePendingAfter         time.Duration
}

func (o Options) withDefaults() Options {
	if !o.UnitPrice.IsPositive() {
		o.UnitPrice = defaultUnitPrice
	}
	if o.MaxQuantity <= 0 {
		o.MaxQuantity = defaultMaxQuantity
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = defaultOperationTimeout
	}
	if strings.TrimSpace(o.EventsExchange) == "" {
		o.EventsExchange = defaultEventsExchange
	}
	if o.ConfirmAttemptWindow <= 0 {
		o.ConfirmAttemptWindow = defaultConfirmAttemptWindow
	}
	if o.StalePendingAfter <= 0 {
		o.StalePendingAfter = defaultStalePendingAfter
	}
	return o
}

// Service provides the core business logic for donations.
type Service struct {
	repo      store.Repository
	gateway   Gateway
	publisher rabbitmq.Publisher
	limiter   RateLimiter
	recorder  Recorder
	opts      Options
	now       func() time.Time
}

// NewService creates a new donation service instance.
func NewService(repo store.Repository, gateway Gateway, publisher rabbitmq.Publisher, opts Options) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		publisher: publisher,
		opts:      opts.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// SetRateLimiter enables attempt limiting. Without it no limits apply.
func (s *Service) SetRateLimiter(l RateLimiter) {
	s.limiter = l
}

// SetRecorder attaches a metrics recorder.
func (s *Service) SetRecorder(r Recorder) {
	s.recorder = r
}

// Options returns the effective options after defaults.
func (s *Service) Options() Options {
	return s.opts
}

// Initiate validates the donation, asks the gateway to open a payment session
// and records the pending transaction under the returned session id.
func (s *Service) Initiate(ctx context.Context, req domain.InitiateDonationRequest) (*domain.InitiateDonationResult, error) {
	phone, err := CanonicalizePhone(firstNonEmpty(req.Phone, req.Customer))
	if err != nil {
		return nil, err
	}
	recipient := strings.TrimSpace(firstNonEmpty(req.Recipient, req.Mosque))
	if recipient == "" {
		return nil, &ValidationError{Field: "recipient", Rule: "required"}
	}
	amount, err := ComputeAmount(req.Quantity, s.opts.UnitPrice, s.opts.MaxQuantity)
	if err != nil {
		return nil, err
	}
	if req.Amount != nil && !req.Amount.Equal(amount) {
		log.Printf("level=warn component=orchestrator msg=\"client amount ignored\" phone=%s client_amount=%s amount=%s", edfaliclient.MaskPhone(phone), req.Amount.String(), amount.StringFixed(2))
	}

	if err := s.consumeAttempt(ctx, "initiate", phone, s.opts.InitiateLimitPerMinute, time.Minute); err != nil {
		return nil, err
	}

	opCtx, cancel := s.detached(ctx)
	defer cancel()

	sessionID, err := s.gateway.Initiate(opCtx, phone, amount)
	if err != nil {
		mapped := s.mapGatewayError(edfaliclient.ActionInitiate, "", err)
		s.recordDonation(outcomeLabel(mapped))
		return nil, mapped
	}

	tx := &domain.Transaction{
		SessionID: sessionID,
		Phone:     phone,
		Amount:    amount,
		Quantity:  req.Quantity,
		Recipient: recipient,
		Location:  strings.TrimSpace(req.Location),
		Status:    domain.StatusPending,
	}
	if err := s.repo.CreateTransaction(opCtx, tx); err != nil {
		if errors.Is(err, store.ErrTransactionExists) {
			log.Printf("level=error component=orchestrator msg=\"gateway reused session id\" session_id=%s", sessionID)
			s.recordDonation("protocol_error")
			return nil, ErrGatewayProtocol
		}
		log.Printf("level=error component=orchestrator msg=\"create transaction failed\" session_id=%s err=%v", sessionID, err)
		s.recordDonation("storage_error")
		return nil, fmt.Errorf("%w: create transaction: %v", ErrStorage, err)
	}

	log.Printf("level=info component=orchestrator msg=\"donation initiated\" session_id=%s phone=%s quantity=%d amount=%s", sessionID, edfaliclient.MaskPhone(phone), tx.Quantity, amount.StringFixed(2))
	s.recordDonation("initiated")

	return &domain.InitiateDonationResult{
		SessionID: sessionID,
		Phone:     phone,
		Amount:    amount,
	}, nil
}

// Confirm submits the donor's one-time code for a pending session and
// finalizes the record. Declines are returned as a failed outcome, not as an
// error. Transport and protocol failures leave the record pending.
func (s *Service) Confirm(ctx context.Context, req domain.ConfirmDonationRequest) (*domain.ConfirmOutcome, error) {
	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		return nil, &ValidationError{Field: "session_id", Rule: "required"}
	}
	otp := strings.TrimSpace(req.OTP)
	if otp == "" {
		return nil, &ValidationError{Field: "otp", Rule: "required"}
	}

	tx, err := s.repo.FindTransactionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, ErrUnknownSession
		}
		log.Printf("level=error component=orchestrator msg=\"lookup transaction failed\" session_id=%s err=%v", sessionID, err)
		return nil, fmt.Errorf("%w: lookup transaction: %v", ErrStorage, err)
	}
	if tx.Status != domain.StatusPending {
		return nil, ErrAlreadyFinalized
	}

	if err := s.consumeAttempt(ctx, "confirm", sessionID, s.opts.ConfirmAttemptsPerSession, s.opts.ConfirmAttemptWindow); err != nil {
		return nil, err
	}

	opCtx, cancel := s.detached(ctx)
	defer cancel()

	// The stamp keeps the stale sweep off this record while the gateway call is in flight.
	if err := s.repo.MarkConfirmStarted(opCtx, sessionID, s.now()); err != nil {
		switch {
		case errors.Is(err, store.ErrTransitionConflict):
			return nil, ErrAlreadyFinalized
		case errors.Is(err, store.ErrTransactionNotFound):
			return nil, ErrUnknownSession
		default:
			log.Printf("level=error component=orchestrator msg=\"mark confirm started failed\" session_id=%s err=%v", sessionID, err)
			return nil, fmt.Errorf("%w: mark confirm started: %v", ErrStorage, err)
		}
	}

	outcome, err := s.gateway.Confirm(opCtx, tx.Phone, sessionID, otp)
	if err != nil {
		mapped := s.mapGatewayError(edfaliclient.ActionConfirm, sessionID, err)
		s.recordDonation(outcomeLabel(mapped))
		return nil, mapped
	}

	transition := domain.StatusTransition{
		Status:      domain.StatusFailed,
		BankMessage: outcome.Raw,
	}
	if outcome.Approved {
		transition.Status = domain.StatusCompleted
		transition.OTPVerified = true
	}

	updated, err := s.repo.TransitionTransactionStatus(opCtx, sessionID, domain.StatusPending, transition)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrTransitionConflict):
			if outcome.Approved {
				s.logLostApproval(opCtx, sessionID, outcome.Raw)
			} else {
				log.Printf("level=info component=orchestrator msg=\"concurrent confirm lost the transition\" session_id=%s", sessionID)
			}
			return nil, ErrAlreadyFinalized
		case errors.Is(err, store.ErrTransactionNotFound):
			return nil, ErrUnknownSession
		default:
			log.Printf("level=error component=orchestrator msg=\"record confirm outcome failed\" session_id=%s gateway_status=%s raw=%q err=%v", sessionID, transition.Status, outcome.Raw, err)
			s.recordDonation("storage_error")
			return nil, fmt.Errorf("%w: transition transaction: %v", ErrStorage, err)
		}
	}

	s.recordDonation(string(updated.Status))
	if updated.Status == domain.StatusCompleted {
		s.publishCompleted(ctx, updated)
	} else {
		log.Printf("level=info component=orchestrator msg=\"payment declined\" session_id=%s code=%s raw=%q", sessionID, outcome.Code, outcome.Raw)
	}

	return &domain.ConfirmOutcome{
		SessionID: sessionID,
		Status:    updated.Status,
		Message:   confirmMessage(*outcome),
	}, nil
}

// GetStatus returns the stored transaction for sessionID.
func (s *Service) GetStatus(ctx context.Context, sessionID string) (*domain.Transaction, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, &ValidationError{Field: "session_id", Rule: "required"}
	}
	tx, err := s.repo.FindTransactionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrTransactionNotFound) {
			return nil, ErrUnknownSession
		}
		return nil, fmt.Errorf("%w: lookup transaction: %v", ErrStorage, err)
	}
	return tx, nil
}

// ExpireStalePending fails pending transactions older than the configured
// age. Confirmation codes expire on the gateway side, so these sessions can
// never complete. The gateway is not contacted.
func (s *Service) ExpireStalePending(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.opts.StalePendingAfter)
	stale, err := s.repo.FindStalePendingTransactions(ctx, cutoff, staleSweepBatchSize)
	if err != nil {
		return 0, fmt.Errorf("%w: find stale pending: %v", ErrStorage, err)
	}

	expired := 0
	for _, tx := range stale {
		err := s.repo.ExpireStalePendingTransaction(ctx, tx.SessionID, cutoff, expiredBankMessage)
		if err != nil {
			if errors.Is(err, store.ErrTransitionConflict) {
				continue
			}
			return expired, fmt.Errorf("%w: expire %s: %v", ErrStorage, tx.SessionID, err)
		}
		expired++
		s.recordDonation("expired")
	}
	return expired, nil
}

// ListAdminNotifications returns the newest admin alerts.
func (s *Service) ListAdminNotifications(ctx context.Context, limit int) ([]domain.AdminNotification, error) {
	items, err := s.repo.ListAdminNotifications(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list admin notifications: %v", ErrStorage, err)
	}
	return items, nil
}

// ListDeliveryRequests returns the newest courier requests.
func (s *Service) ListDeliveryRequests(ctx context.Context, limit int) ([]domain.DeliveryRequest, error) {
	items, err := s.repo.ListDeliveryRequests(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list delivery requests: %v", ErrStorage, err)
	}
	return items, nil
}

// logLostApproval reports a gateway approval that could not be recorded because
// the record was already final. Such a payment needs manual reconciliation.
func (s *Service) logLostApproval(ctx context.Context, sessionID, raw string) {
	stored := "unknown"
	if current, err := s.repo.FindTransactionBySessionID(ctx, sessionID); err == nil {
		stored = string(current.Status)
		if current.BankMessage != nil {
			stored += "/" + *current.BankMessage
		}
	}
	log.Printf("level=error component=orchestrator msg=\"gateway approved a payment on a finalized record; reconcile manually\" session_id=%s stored=%s raw=%q", sessionID, stored, raw)
	s.recordDonation("approval_conflict")
}

func (s *Service) publishCompleted(ctx context.Context, tx *domain.Transaction) {
	if s.publisher == nil {
		log.Printf("level=warn component=orchestrator msg=\"no publisher configured; fan-out skipped\" session_id=%s", tx.SessionID)
		return
	}

	bankMessage := ""
	if tx.BankMessage != nil {
		bankMessage = *tx.BankMessage
	}
	event := domain.DonationCompletedEvent{
		EventID:     uuid.NewString(),
		SessionID:   tx.SessionID,
		Phone:       tx.Phone,
		Recipient:   tx.Recipient,
		Location:    tx.Location,
		Quantity:    tx.Quantity,
		Amount:      tx.Amount.StringFixed(2),
		BankMessage: bankMessage,
		OccurredAt:  s.now(),
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultPublishTimeout)
	defer cancel()
	if err := s.publisher.Publish(pubCtx, s.opts.EventsExchange, DonationCompletedRoutingKey, event); err != nil {
		log.Printf("level=error component=orchestrator msg=\"publish donation completed failed\" session_id=%s err=%v", tx.SessionID, err)
	}
}

// detached returns a context that survives caller cancellation so a gateway
// reply is always recorded once requested.
func (s *Service) detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.OperationTimeout)
}

func (s *Service) consumeAttempt(ctx context.Context, scope, subject string, limit int, window time.Duration) error {
	if s.limiter == nil || limit <= 0 {
		return nil
	}
	count, retryAfter, err := s.limiter.ConsumeRateLimit(ctx, scope, subject, limit, window)
	if err != nil {
		log.Printf("level=warn component=orchestrator msg=\"attempt limiter unavailable; allowing\" scope=%s err=%v", scope, err)
		return nil
	}
	if count > limit {
		return &AttemptLimitError{Scope: scope, RetryAfterSeconds: retryAfter}
	}
	return nil
}

func (s *Service) mapGatewayError(action, sessionID string, err error) error {
	var protocolErr *edfaliclient.ProtocolError
	switch {
	case errors.Is(err, edfaliclient.ErrInsufficientFunds):
		return ErrInsufficientFunds
	case errors.Is(err, edfaliclient.ErrAccountNotEligible):
		return ErrAccountNotEligible
	case edfaliclient.IsRetriable(err):
		log.Printf("level=warn component=orchestrator msg=\"gateway unreachable\" action=%s session_id=%s err=%v", action, sessionID, err)
		return fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	case errors.As(err, &protocolErr):
		log.Printf("level=error component=orchestrator msg=\"gateway protocol error\" action=%s session_id=%s reason=%q raw=%q", action, sessionID, protocolErr.Reason, protocolErr.Raw)
		return ErrGatewayProtocol
	default:
		log.Printf("level=error component=orchestrator msg=\"unexpected gateway error\" action=%s session_id=%s err=%v", action, sessionID, err)
		return ErrGatewayProtocol
	}
}

func (s *Service) recordDonation(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordDonation(outcome)
	}
}

func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, ErrAccountNotEligible):
		return "account_ineligible"
	case errors.Is(err, ErrGatewayUnavailable):
		return "transport_error"
	default:
		return "protocol_error"
	}
}

func confirmMessage(outcome edfaliclient.Outcome) string {
	if outcome.Approved {
		return "payment confirmed"
	}
	switch outcome.Code {
	case edfaliclient.CodeInvalidOTP:
		return "payment declined: wrong or expired confirmation code"
	case edfaliclient.CodeInsufficientBalance:
		return "payment declined: insufficient balance"
	case edfaliclient.CodeAccountNotEligible:
		return "payment declined: phone not eligible for this service"
	default:
		return "payment declined"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
