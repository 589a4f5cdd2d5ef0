package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/solarops/internal/db"
)

// WebhookSender POSTs fault events to the configured internal webhook
type WebhookSender struct {
	client  *http.Client
	url     string
	headers map[string]string
	timeout time.Duration
	logger  *zap.Logger
}

type WebhookConfig struct {
	URL     string
	Timeout time.Duration
	// Headers are added to every request, e.g. a shared secret agreed out-of-band
	Headers map[string]string
}

// NewWebhookSender creates a new webhook sender
func NewWebhookSender(logger *zap.Logger, cfg WebhookConfig) *WebhookSender {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSender{
		client: &http.Client{
			Timeout: timeout,
		},
		url:     cfg.URL,
		headers: cfg.Headers,
		timeout: timeout,
		logger:  logger,
	}
}

// Send POSTs the notification payload as the request body. Anything other than
// a 2xx response is an error; there is no retry here.
func (s *WebhookSender) Send(ctx context.Context, notif *db.Notification) error {
	if notif.Channel != db.ChannelWebhook {
		return fmt.Errorf("webhook sender only supports webhooks, got: %s", notif.Channel)
	}
	if s.url == "" {
		return fmt.Errorf("webhook url is not configured")
	}
	if len(notif.Payload) == 0 {
		return fmt.Errorf("webhook payload is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(notif.Payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "SolarOps-Notifier/1.0")
	req.Header.Set("X-Solarops-Notification-ID", notif.ID.String())
	req.Header.Set("X-Solarops-Fault-ID", notif.FaultID.String())
	req.Header.Set("X-Solarops-Tenant-ID", notif.TenantID.String())

	for key, value := range s.headers {
		req.Header.Set(key, value)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned non-2xx status: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	s.logger.Info("webhook delivered",
		zap.String("id", notif.ID.String()),
		zap.String("fault_id", notif.FaultID.String()),
		zap.Int("status_code", resp.StatusCode),
	)

	return nil
}

// SupportsChannel checks if this sender supports webhooks
func (s *WebhookSender) SupportsChannel(channel string) bool {
	return channel == db.ChannelWebhook
}
