/**
 * @description
 * This package provides a client for the courier's WhatsApp channel, reached
 * through a CallMeBot-style webhook (GET with phone, text and apikey parameters).
 */
package courierclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const DefaultWebhookURL = "https://api.callmebot.com/whatsapp.php"

// Client sends text messages to a single courier phone.
type Client struct {
	webhookURL string
	phone      string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a courier client. An empty webhookURL uses DefaultWebhookURL.
func NewClient(webhookURL, phone, apiKey string) *Client {
	webhookURL = strings.TrimSpace(webhookURL)
	if webhookURL == "" {
		webhookURL = DefaultWebhookURL
	}
	return &Client{
		webhookURL: webhookURL,
		phone:      strings.TrimPrefix(strings.TrimSpace(phone), "+"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Send pushes text to the courier. Any non-2xx reply is an error.
func (c *Client) Send(ctx context.Context, text string) error {
	if c.phone == "" || c.apiKey == "" {
		return fmt.Errorf("courier phone or api key is not configured")
	}

	endpoint, err := url.Parse(c.webhookURL)
	if err != nil {
		return fmt.Errorf("parse courier webhook url: %w", err)
	}
	query := endpoint.Query()
	query.Set("phone", c.phone)
	query.Set("text", text)
	query.Set("apikey", c.apiKey)
	endpoint.RawQuery = query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create courier request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call courier webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("courier webhook returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return nil
}
