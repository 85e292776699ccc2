package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/saniah/donation-service/internal/domain"
	"github.com/saniah/donation-service/internal/store"
	"github.com/saniah/donation-service/pkg/edfaliclient"
)

const (
	defaultFanoutAttempts = 3
	defaultFanoutBackoff  = 500 * time.Millisecond
	fanoutHandlerTimeout  = 30 * time.Second

	mapSearchBaseURL = "https://www.google.com/maps/search/?api=1&query="
)

// CourierSender pushes a text message to the courier channel.
type CourierSender interface {
	Send(ctx context.Context, text string) error
}

// FanoutOptions tunes the retry policy of each fan-out action.
type FanoutOptions struct {
	MaxAttempts int
	Backoff     time.Duration
}

// FanoutConsumer handles donation.completed events. The admin alert and the
// courier push are bound to separate queues and never affect each other or
// the recorded payment.
type FanoutConsumer struct {
	repo     store.Repository
	courier  CourierSender
	recorder Recorder
	opts     FanoutOptions
}

func NewFanoutConsumer(repo store.Repository, courier CourierSender, opts FanoutOptions) *FanoutConsumer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultFanoutAttempts
	}
	if opts.Backoff <= 0 {
		opts.Backoff = defaultFanoutBackoff
	}
	return &FanoutConsumer{repo: repo, courier: courier, opts: opts}
}

// SetRecorder attaches a metrics recorder.
func (c *FanoutConsumer) SetRecorder(r Recorder) {
	c.recorder = r
}

// HandleAdminAlert records the admin-facing audit entry. It always acks:
// failures are logged and the payment is unaffected.
func (c *FanoutConsumer) HandleAdminAlert(body []byte) bool {
	event, ok := decodeCompletedEvent("admin-alert", body)
	if !ok {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), fanoutHandlerTimeout)
	defer cancel()

	item := domain.AdminNotification{
		ID:        uuid.New(),
		SessionID: event.SessionID,
		Title:     "Donation completed",
		Body:      adminAlertBody(event),
		CreatedAt: time.Now().UTC(),
	}
	err := c.retry(ctx, func(ctx context.Context) error {
		return c.repo.CreateAdminNotification(ctx, item)
	})
	c.finish("admin_alert", event.SessionID, err)
	return true
}

// HandleCourierRequest records the delivery request and pushes it to the
// courier. The record is written first so a redelivered event is not sent
// twice. A failed record write is logged and the push still goes out.
func (c *FanoutConsumer) HandleCourierRequest(body []byte) bool {
	event, ok := decodeCompletedEvent("courier", body)
	if !ok {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), fanoutHandlerTimeout)
	defer cancel()

	request := domain.DeliveryRequest{
		ID:        uuid.New(),
		SessionID: event.SessionID,
		Recipient: event.Recipient,
		Phone:     event.Phone,
		Quantity:  event.Quantity,
		Location:  event.Location,
		MapURL:    MapLink(event.Location, event.Recipient),
		CreatedAt: time.Now().UTC(),
	}
	request.Message = CourierMessage(request)

	err := c.retry(ctx, func(ctx context.Context) error {
		return c.repo.CreateDeliveryRequest(ctx, request)
	})
	switch {
	case errors.Is(err, store.ErrDuplicateEvent):
		c.finish("courier", event.SessionID, err)
		return true
	case err != nil:
		log.Printf("level=error component=fanout action=courier_record msg=\"delivery record failed; pushing to courier anyway\" session_id=%s err=%v", event.SessionID, err)
		c.record("courier_record", "failed")
	}

	if c.courier == nil {
		log.Printf("level=warn component=fanout action=courier msg=\"courier channel not configured; request recorded only\" session_id=%s", event.SessionID)
		c.record("courier", "skipped")
		return true
	}
	err = c.retry(ctx, func(ctx context.Context) error {
		return c.courier.Send(ctx, request.Message)
	})
	c.finish("courier", event.SessionID, err)
	return true
}

func (c *FanoutConsumer) retry(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	backoff := c.opts.Backoff
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil || errors.Is(lastErr, store.ErrDuplicateEvent) {
			return lastErr
		}
		if attempt == c.opts.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return fmt.Errorf("gave up after %d attempts: %w", c.opts.MaxAttempts, lastErr)
}

func (c *FanoutConsumer) finish(action, sessionID string, err error) {
	switch {
	case err == nil:
		log.Printf("level=info component=fanout action=%s msg=\"delivered\" session_id=%s", action, sessionID)
		c.record(action, "delivered")
	case errors.Is(err, store.ErrDuplicateEvent):
		log.Printf("level=info component=fanout action=%s msg=\"already recorded; skipping\" session_id=%s", action, sessionID)
		c.record(action, "duplicate")
	default:
		log.Printf("level=error component=fanout action=%s msg=\"failed\" session_id=%s err=%v", action, sessionID, err)
		c.record(action, "failed")
	}
}

func (c *FanoutConsumer) record(action, result string) {
	if c.recorder != nil {
		c.recorder.RecordFanoutAction(action, result)
	}
}

func decodeCompletedEvent(action string, body []byte) (domain.DonationCompletedEvent, bool) {
	var event domain.DonationCompletedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=fanout action=%s msg=\"failed to unmarshal payload\" err=%v", action, err)
		return event, false
	}
	if strings.TrimSpace(event.SessionID) == "" {
		log.Printf("level=error component=fanout action=%s msg=\"event missing session id\" event_id=%s", action, event.EventID)
		return event, false
	}
	return event, true
}

// MapLink builds a map search URL for the delivery location, falling back to
// the recipient name when no location was given.
func MapLink(location, recipient string) string {
	query := strings.TrimSpace(location)
	if query == "" {
		query = strings.TrimSpace(recipient)
	}
	return mapSearchBaseURL + url.QueryEscape(query)
}

// CourierMessage renders the text pushed to the courier.
func CourierMessage(r domain.DeliveryRequest) string {
	location := strings.TrimSpace(r.Location)
	if location == "" {
		location = "not provided"
	}
	var b strings.Builder
	b.WriteString("Water delivery request\n")
	fmt.Fprintf(&b, "Recipient: %s\n", r.Recipient)
	fmt.Fprintf(&b, "Donor: %s\n", r.Phone)
	fmt.Fprintf(&b, "Quantity: %d\n", r.Quantity)
	fmt.Fprintf(&b, "Location: %s\n", location)
	fmt.Fprintf(&b, "Map: %s", r.MapURL)
	return b.String()
}

func adminAlertBody(event domain.DonationCompletedEvent) string {
	return fmt.Sprintf("%d x water for %s paid by %s, amount %s, session %s",
		event.Quantity, event.Recipient, edfaliclient.MaskPhone(event.Phone), event.Amount, event.SessionID)
}
