/**
 * @description
 * This package provides a client for the bank's Edfali mobile-wallet gateway, a
 * legacy ASMX SOAP service. It builds the DoPTrans (initiate) and OnlineConfTrans
 * (confirm) envelopes, posts them with the action header, and classifies the
 * single result string the gateway returns for each call.
 *
 * @dependencies
 * - encoding/xml, net/http: envelope encoding and transport.
 * - github.com/shopspring/decimal: amounts are sent with exactly two decimals.
 */
package edfaliclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ActionInitiate = "DoPTrans"
	ActionConfirm  = "OnlineConfTrans"

	soapActionNamespace = "http://tempuri.org/"

	minTimeout     = 10 * time.Second
	maxTimeout     = 15 * time.Second
	defaultTimeout = 12 * time.Second

	maxReplyBytes = 1 << 20
)

// PhoneFormat is the shape in which the payer phone is sent to the gateway.
// Callers always hand the client the canonical "2189XXXXXXXX" form.
type PhoneFormat string

const (
	PhonePlus          PhoneFormat = "plus"
	PhoneInternational PhoneFormat = "international"
	PhoneLocal         PhoneFormat = "local"
)

// Config carries the merchant identity and gateway settings.
type Config struct {
	URL            string
	MerchantMobile string
	MerchantPIN    string
	Secret         string
	Timeout        time.Duration
	PhoneFormat    PhoneFormat
	Matcher        SuccessMatcher
}

// Recorder receives per-call gateway observations.
type Recorder interface {
	RecordGatewayCall(action, result string, seconds float64)
}

// Client is a client for the Edfali gateway.
type Client struct {
	cfg        Config
	HTTPClient *http.Client
	recorder   Recorder
}

// NewClient creates a gateway client. The timeout is clamped to 10–15s since
// the gateway has been observed to hang without ever answering.
func NewClient(cfg Config) *Client {
	cfg.Timeout = clampTimeout(cfg.Timeout)
	if len(cfg.Matcher.Tokens) == 0 {
		cfg.Matcher = DefaultSuccessMatcher()
	}
	if cfg.PhoneFormat == "" {
		cfg.PhoneFormat = PhonePlus
	}
	return &Client{
		cfg: cfg,
		HTTPClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
}

// SetRecorder attaches a metrics recorder.
func (c *Client) SetRecorder(r Recorder) {
	c.recorder = r
}

func clampTimeout(d time.Duration) time.Duration {
	switch {
	case d <= 0:
		return defaultTimeout
	case d < minTimeout:
		return minTimeout
	case d > maxTimeout:
		return maxTimeout
	default:
		return d
	}
}

// Initiate opens a payment session debiting phone for amount and returns the
// gateway-issued session id. BAL and ACC replies are returned as *DeclinedError
// (matching ErrInsufficientFunds / ErrAccountNotEligible); any other reply that
// is not a plausible session id is a *ProtocolError.
func (c *Client) Initiate(ctx context.Context, phone string, amount decimal.Decimal) (string, error) {
	payload := doPTransRequest{
		Mobile:  c.cfg.MerchantMobile,
		Pin:     c.cfg.MerchantPIN,
		Cmobile: FormatPhone(phone, c.cfg.PhoneFormat),
		Amount:  amount.StringFixed(2),
		PW:      c.cfg.Secret,
	}

	start := time.Now()
	raw, err := c.call(ctx, ActionInitiate, payload)
	if err != nil {
		return "", err
	}
	elapsed := time.Since(start).Seconds()

	switch result := ClassifyInitiateResult(raw).(type) {
	case Session:
		c.record(ActionInitiate, "session", elapsed)
		return result.ID, nil
	case Declined:
		c.record(ActionInitiate, "declined", elapsed)
		return "", &DeclinedError{Action: ActionInitiate, Code: result.Code}
	case Malformed:
		c.record(ActionInitiate, "protocol_error", elapsed)
		log.Printf("level=error component=edfali_client op=initiate msg=\"unrecognised result\" raw=%q", result.Raw)
		return "", &ProtocolError{Action: ActionInitiate, Reason: "result is neither a session id nor a known code", Raw: result.Raw}
	default:
		return "", &ProtocolError{Action: ActionInitiate, Reason: "unclassified result", Raw: raw}
	}
}

// Confirm submits the OTP for a session. Every parsed reply yields an Outcome;
// only transport and shape failures are returned as errors. phone is used for
// log correlation; the wire contract identifies the session by id alone.
func (c *Client) Confirm(ctx context.Context, phone, sessionID, otp string) (*Outcome, error) {
	payload := onlineConfTransRequest{
		Mobile:    c.cfg.MerchantMobile,
		Pin:       otp,
		SessionID: sessionID,
		PW:        c.cfg.Secret,
	}

	start := time.Now()
	raw, err := c.call(ctx, ActionConfirm, payload)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start).Seconds()

	outcome := classifyConfirmResult(raw, c.cfg.Matcher)
	if outcome.Approved {
		c.record(ActionConfirm, "approved", elapsed)
	} else {
		c.record(ActionConfirm, "declined", elapsed)
		log.Printf("level=info component=edfali_client op=confirm session_id=%s phone=%s msg=\"confirm declined\" result=%q", sessionID, MaskPhone(phone), raw)
	}
	return &outcome, nil
}

// call posts one envelope and returns the raw result string.
func (c *Client) call(ctx context.Context, action string, payload interface{}) (string, error) {
	start := time.Now()
	raw, err := c.roundTrip(ctx, action, payload)

	var transportErr *TransportError
	var protoErr *ProtocolError
	switch {
	case errors.As(err, &transportErr):
		c.record(action, "transport_error", time.Since(start).Seconds())
	case errors.As(err, &protoErr):
		c.record(action, "protocol_error", time.Since(start).Seconds())
	}
	return raw, err
}

func (c *Client) roundTrip(ctx context.Context, action string, payload interface{}) (string, error) {
	body, err := marshalEnvelope(payload)
	if err != nil {
		return "", &ProtocolError{Action: action, Reason: err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", &TransportError{Action: action, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set("SOAPAction", soapActionNamespace+action)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		log.Printf("level=warn component=edfali_client op=%s msg=\"request failed\" err=%v", action, err)
		return "", &TransportError{Action: action, Err: err}
	}
	defer resp.Body.Close()

	replyBytes, err := io.ReadAll(io.LimitReader(resp.Body, maxReplyBytes))
	if err != nil {
		return "", &TransportError{Action: action, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read reply: %w", err)}
	}

	env, parseErr := parseEnvelope(replyBytes)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if parseErr == nil && env.Body.Fault != nil {
			log.Printf("level=error component=edfali_client op=%s status=%d msg=\"soap fault\" faultcode=%q faultstring=%q", action, resp.StatusCode, env.Body.Fault.Code, env.Body.Fault.String)
			return "", &ProtocolError{Action: action, Reason: "soap fault: " + strings.TrimSpace(env.Body.Fault.String), Raw: string(replyBytes)}
		}
		log.Printf("level=warn component=edfali_client op=%s status=%d msg=\"non-2xx response (no soap fault)\"", action, resp.StatusCode)
		return "", &TransportError{Action: action, StatusCode: resp.StatusCode, Err: errors.New(http.StatusText(resp.StatusCode))}
	}

	if parseErr != nil {
		log.Printf("level=error component=edfali_client op=%s msg=\"malformed envelope\" err=%v raw=%q", action, parseErr, string(replyBytes))
		return "", &ProtocolError{Action: action, Reason: "malformed envelope: " + parseErr.Error(), Raw: string(replyBytes)}
	}
	if env.Body.Fault != nil {
		return "", &ProtocolError{Action: action, Reason: "soap fault: " + strings.TrimSpace(env.Body.Fault.String), Raw: string(replyBytes)}
	}

	result, ok := env.result(action)
	if !ok {
		log.Printf("level=error component=edfali_client op=%s msg=\"result field missing\" raw=%q", action, string(replyBytes))
		return "", &ProtocolError{Action: action, Reason: "result field missing", Raw: string(replyBytes)}
	}
	return result, nil
}

func (c *Client) record(action, result string, seconds float64) {
	if c.recorder != nil {
		c.recorder.RecordGatewayCall(action, result, seconds)
	}
}

// FormatPhone renders a canonical "2189XXXXXXXX" number in the given format.
func FormatPhone(canonical string, format PhoneFormat) string {
	digits := strings.TrimPrefix(strings.TrimSpace(canonical), "+")
	switch format {
	case PhoneInternational:
		return digits
	case PhoneLocal:
		return strings.TrimPrefix(digits, "218")
	default:
		return "+" + digits
	}
}

// MaskPhone keeps only the last four digits for logging.
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	return strings.Repeat("*", len(phone)-4) + phone[len(phone)-4:]
}
