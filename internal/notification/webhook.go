package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// WebhookSender delivers notification payloads over HTTP
type WebhookSender struct {
	config     *config.NotifyConfig
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewWebhookSender creates a webhook sender
func NewWebhookSender(cfg *config.NotifyConfig) *WebhookSender {
	timeout := cfg.WebhookTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &WebhookSender{
		config: cfg,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// Send posts the payload to the configured webhook URL, retrying with
// exponential backoff up to the configured number of attempts.
func (ws *WebhookSender) Send(ctx context.Context, payload map[string]interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode webhook payload", err.Error())
	}

	maxAttempts := ws.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := ws.config.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}

		lastErr = ws.post(ctx, body)
		if lastErr == nil {
			return nil
		}

		ws.logger.Debug("Webhook attempt failed",
			"attempt", attempt,
			"url", ws.config.WebhookURL,
			"error", lastErr)
	}

	return lastErr
}

// deliveryBudget bounds one full delivery: every attempt at the client
// timeout plus the backoff sleeps between them.
func (ws *WebhookSender) deliveryBudget() time.Duration {
	maxAttempts := ws.config.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	delay := ws.config.RetryDelay
	if delay <= 0 {
		delay = 5 * time.Second
	}

	budget := ws.httpClient.Timeout * time.Duration(maxAttempts)
	for attempt := 2; attempt <= maxAttempts; attempt++ {
		budget += delay
		delay *= 2
	}
	return budget
}

func (ws *WebhookSender) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.config.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to build webhook request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := ws.httpClient.Do(req)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Webhook request failed", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return utils.NewAppError(utils.ErrCodeInternal,
			fmt.Sprintf("Webhook returned status %d", resp.StatusCode), "")
	}

	return nil
}
