// Package notify delivers attention notifications to a webhook endpoint,
// optionally authenticated with OAuth2 client credentials.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/oszuidwest/zwfm-audioplane/internal/util"
)

// AppName is the application name used in notifications.
const AppName = "audioplane"

const httpTimeout = 10 * time.Second

// ErrNotConfigured is returned when no webhook URL is set.
var ErrNotConfigured = errors.New("webhook URL not configured")

// OAuthConfig holds OAuth2 client credentials for the webhook.
type OAuthConfig struct {
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty" validate:"omitempty,url"`
	Scopes       []string `json:"scopes,omitempty"`
}

// IsConfigured reports whether the credentials are complete.
func (c *OAuthConfig) IsConfigured() bool {
	return util.IsConfigured(c.ClientID, c.ClientSecret, c.TokenURL)
}

// WebhookConfig configures the webhook endpoint.
type WebhookConfig struct {
	URL         string      `json:"url,omitempty" validate:"omitempty,url"`
	StationName string      `json:"station_name,omitempty"`
	OAuth       OAuthConfig `json:"oauth"`
}

// Payload is the JSON body sent to the webhook.
type Payload struct {
	Event     string `json:"event"`
	Station   string `json:"station,omitempty"`
	Object    string `json:"object,omitempty"`
	Code      string `json:"code,omitempty"`
	Message   string `json:"message,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Webhook posts payloads to a URL.
type Webhook struct {
	url     string
	station string
	client  *http.Client
}

// NewWebhook creates a webhook client. With OAuth credentials every
// request carries a client-credentials bearer token.
func NewWebhook(cfg WebhookConfig) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, ErrNotConfigured
	}
	client := &http.Client{Timeout: httpTimeout}
	if cfg.OAuth.IsConfigured() {
		conf := &clientcredentials.Config{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			TokenURL:     cfg.OAuth.TokenURL,
			Scopes:       cfg.OAuth.Scopes,
		}
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, client)
		client = conf.Client(ctx)
		client.Timeout = httpTimeout
	}
	return &Webhook{url: cfg.URL, station: cfg.StationName, client: client}, nil
}

// Send delivers one payload.
func (w *Webhook) Send(ctx context.Context, p *Payload) error {
	if p.Timestamp == "" {
		p.Timestamp = timestampUTC()
	}
	if p.Station == "" {
		p.Station = w.station
	}
	body, err := json.Marshal(p)
	if err != nil {
		return util.WrapError("marshal payload", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return util.WrapError("create webhook request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return util.WrapError("send webhook request", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SendTest sends a test notification.
func (w *Webhook) SendTest(ctx context.Context) error {
	return w.Send(ctx, &Payload{
		Event:   "test",
		Message: "This is a test notification from " + AppName,
	})
}

// timestampUTC returns the current UTC time in RFC3339 format.
func timestampUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
