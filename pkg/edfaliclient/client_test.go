package edfaliclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func soapReply(action, result string) string {
	return `<?xml version="1.0" encoding="utf-8"?>` +
		`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/" xmlns:xsi="http://www.w3.org/2001/XMLSchema-instance" xmlns:xsd="http://www.w3.org/2001/XMLSchema">` +
		`<soap:Body><` + action + `Response xmlns="http://tempuri.org/"><` + action + `Result>` + result + `</` + action + `Result></` + action + `Response></soap:Body></soap:Envelope>`
}

const soapFaultReply = `<?xml version="1.0" encoding="utf-8"?>` +
	`<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body>` +
	`<soap:Fault><faultcode>soap:Server</faultcode><faultstring>Server was unable to process request.</faultstring></soap:Fault>` +
	`</soap:Body></soap:Envelope>`

type capturedRequest struct {
	action      string
	contentType string
	body        string
}

func newTestClient(t *testing.T, status int, reply string) (*Client, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		captured.action = r.Header.Get("SOAPAction")
		captured.contentType = r.Header.Get("Content-Type")
		captured.body = string(body)
		w.Header().Set("Content-Type", "text/xml; charset=utf-8")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{
		URL:            server.URL,
		MerchantMobile: "926388438",
		MerchantPIN:    "4321",
		Secret:         "s3cret&<key>",
		PhoneFormat:    PhonePlus,
	})
	return client, captured
}

func TestInitiate_ReturnsSessionIDAndBuildsEnvelope(t *testing.T) {
	client, captured := newTestClient(t, http.StatusOK, soapReply(ActionInitiate, "A1B2C3D4E5F6G7"))

	sessionID, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(12))
	if err != nil {
		t.Fatalf("Initiate returned error: %v", err)
	}
	if sessionID != "A1B2C3D4E5F6G7" {
		t.Fatalf("expected session id from reply, got %q", sessionID)
	}
	if captured.action != "http://tempuri.org/DoPTrans" {
		t.Fatalf("unexpected SOAPAction header %q", captured.action)
	}
	if !strings.HasPrefix(captured.contentType, "text/xml") {
		t.Fatalf("unexpected content type %q", captured.contentType)
	}
	for _, want := range []string{
		`<DoPTrans xmlns="http://tempuri.org/">`,
		"<Mobile>926388438</Mobile>",
		"<Pin>4321</Pin>",
		"<Cmobile>+218912345678</Cmobile>",
		"<Amount>12.00</Amount>",
		"<PW>s3cret&amp;&lt;key&gt;</PW>",
	} {
		if !strings.Contains(captured.body, want) {
			t.Fatalf("expected request body to contain %q, got %s", want, captured.body)
		}
	}
}

func TestInitiate_ClassifiesDeclineCodes(t *testing.T) {
	tests := []struct {
		name   string
		result string
		want   error
	}{
		{name: "insufficient balance", result: "BAL", want: ErrInsufficientFunds},
		{name: "account not eligible", result: "ACC", want: ErrAccountNotEligible},
		{name: "lower case code with padding", result: " bal ", want: ErrInsufficientFunds},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.StatusOK, soapReply(ActionInitiate, tt.result))
			sessionID, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(6))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if sessionID != "" {
				t.Fatalf("expected no session id, got %q", sessionID)
			}
			if IsRetriable(err) {
				t.Fatal("decline must not be retriable")
			}
		})
	}
}

func TestInitiate_ShortUnknownResultIsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, soapReply(ActionInitiate, "ERR42"))

	_, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(6))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if protoErr.Raw != "ERR42" {
		t.Fatalf("expected raw result to be preserved, got %q", protoErr.Raw)
	}
}

func TestInitiate_MissingResultFieldIsProtocolError(t *testing.T) {
	reply := `<soap:Envelope xmlns:soap="http://schemas.xmlsoap.org/soap/envelope/"><soap:Body><DoPTransResponse xmlns="http://tempuri.org/"/></soap:Body></soap:Envelope>`
	client, _ := newTestClient(t, http.StatusOK, reply)

	_, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(6))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestInitiate_MalformedEnvelopeIsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, http.StatusOK, "<html>gateway maintenance")

	_, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(6))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if IsRetriable(err) {
		t.Fatal("protocol errors must not be retriable")
	}
}

func TestInitiate_NonSuccessStatusWithoutFaultIsTransportError(t *testing.T) {
	client, _ := newTestClient(t, http.StatusBadGateway, "bad gateway")

	_, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(6))
	var transportErr *TransportError
	if !errors.As(err, &transportErr) {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if transportErr.StatusCode != http.StatusBadGateway {
		t.Fatalf("expected status 502, got %d", transportErr.StatusCode)
	}
	if !IsRetriable(err) {
		t.Fatal("transport errors must be retriable")
	}
}

func TestInitiate_SoapFaultIsProtocolError(t *testing.T) {
	client, _ := newTestClient(t, http.StatusInternalServerError, soapFaultReply)

	_, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(6))
	var protoErr *ProtocolError
	if !errors.As(err, &protoErr) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
	if !strings.Contains(protoErr.Reason, "unable to process") {
		t.Fatalf("expected fault string in reason, got %q", protoErr.Reason)
	}
}

func TestInitiate_TimeoutIsTransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	t.Cleanup(server.Close)

	client := NewClient(Config{URL: server.URL})
	client.HTTPClient.Timeout = 50 * time.Millisecond

	_, err := client.Initiate(context.Background(), "218912345678", decimal.NewFromInt(6))
	if !IsRetriable(err) {
		t.Fatalf("expected retriable transport error, got %v", err)
	}
}

func TestConfirm_Outcomes(t *testing.T) {
	tests := []struct {
		name         string
		result       string
		wantApproved bool
		wantCode     DeclineCode
	}{
		{name: "plain OK", result: "OK", wantApproved: true},
		{name: "sentence is not an exact approval", result: "Transaction Success", wantApproved: false},
		{name: "negated ok", result: "NOT OK", wantApproved: false},
		{name: "wrong code", result: "PW", wantApproved: false, wantCode: CodeInvalidOTP},
		{name: "balance reused on confirm", result: "BAL", wantApproved: false, wantCode: CodeInsufficientBalance},
		{name: "free text decline", result: "rejected", wantApproved: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, captured := newTestClient(t, http.StatusOK, soapReply(ActionConfirm, tt.result))

			outcome, err := client.Confirm(context.Background(), "218912345678", "A1B2C3D4E5F6G7", "1234")
			if err != nil {
				t.Fatalf("Confirm returned error: %v", err)
			}
			if outcome.Approved != tt.wantApproved {
				t.Fatalf("expected approved=%t, got %t", tt.wantApproved, outcome.Approved)
			}
			if outcome.Code != tt.wantCode {
				t.Fatalf("expected code %q, got %q", tt.wantCode, outcome.Code)
			}
			if outcome.Raw != tt.result {
				t.Fatalf("expected raw %q, got %q", tt.result, outcome.Raw)
			}
			if captured.action != "http://tempuri.org/OnlineConfTrans" {
				t.Fatalf("unexpected SOAPAction header %q", captured.action)
			}
			if !strings.Contains(captured.body, "<sessionID>A1B2C3D4E5F6G7</sessionID>") {
				t.Fatalf("expected session id in request body, got %s", captured.body)
			}
		})
	}
}

func TestConfirm_EscapesUntrustedInput(t *testing.T) {
	client, captured := newTestClient(t, http.StatusOK, soapReply(ActionConfirm, "PW"))

	_, err := client.Confirm(context.Background(), "218912345678", `S</sessionID><PW>x`, `1"2'3<4>&`)
	if err != nil {
		t.Fatalf("Confirm returned error: %v", err)
	}
	if strings.Contains(captured.body, "</sessionID><PW>x") {
		t.Fatalf("session id was not escaped: %s", captured.body)
	}
	if !strings.Contains(captured.body, "<Pin>1&#34;2&#39;3&lt;4&gt;&amp;</Pin>") {
		t.Fatalf("otp was not escaped: %s", captured.body)
	}
}

func TestFormatPhone(t *testing.T) {
	tests := []struct {
		format PhoneFormat
		want   string
	}{
		{format: PhonePlus, want: "+218912345678"},
		{format: PhoneInternational, want: "218912345678"},
		{format: PhoneLocal, want: "912345678"},
	}
	for _, tt := range tests {
		t.Run(string(tt.format), func(t *testing.T) {
			if got := FormatPhone("218912345678", tt.format); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}
