// Package notification announces provisioning events to operators via log
// and webhook channels.
package notification

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/internal/metrics"
	"github.com/relayhq/relay-provisioner/internal/models"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// Event types announced by the reconciler
const (
	TypeRelayProvisioned = "relay.provisioned"
)

// Manager fans provisioning events out to the configured channels. It
// satisfies the reconciler's Notifier interface.
type Manager struct {
	config         *config.NotifyConfig
	webhook        *WebhookSender
	metricsManager *metrics.Manager
	logger         *logrus.Logger
	inflight       sync.WaitGroup
}

// NewManager creates a notification manager. The webhook channel is active
// only when a webhook URL is configured.
func NewManager(cfg *config.NotifyConfig, metricsManager *metrics.Manager) *Manager {
	manager := &Manager{
		config:         cfg,
		metricsManager: metricsManager,
		logger:         utils.GetLogger(),
	}

	if cfg.WebhookURL != "" {
		manager.webhook = NewWebhookSender(cfg)
	}

	return manager
}

// RelayProvisioned announces that a relay has been handed off to
// provisioning. The webhook is delivered on its own goroutine under a
// bounded deadline, so a slow or retrying endpoint never stalls the
// reconciliation cycle. Delivery failures never propagate to the caller.
func (m *Manager) RelayProvisioned(ctx context.Context, relay *models.Relay, order *models.Order) {
	if m.config != nil && !m.config.Enabled {
		return
	}

	m.logger.Info("Relay provisioned",
		"relay_id", relay.ID,
		"relay_name", relay.Name,
		"owner_pubkey", relay.OwnerPubkey,
		"order_id", order.ID)

	if m.metricsManager != nil {
		m.metricsManager.GetPrometheusMetrics().RecordNotificationSent("log", TypeRelayProvisioned)
	}

	if m.webhook == nil {
		return
	}

	payload := map[string]interface{}{
		"type":      TypeRelayProvisioned,
		"timestamp": time.Now().UTC(),
		"relay": map[string]interface{}{
			"id":           relay.ID,
			"name":         relay.Name,
			"owner_pubkey": relay.OwnerPubkey,
		},
		"order": map[string]interface{}{
			"id":                order.ID,
			"payment_reference": order.PaymentReference,
			"amount_sats":       order.AmountSats,
		},
	}

	m.inflight.Add(1)
	go func() {
		defer m.inflight.Done()

		// The cycle context may be cancelled the moment the cycle ends;
		// deliveries run against their own deadline instead.
		sendCtx, cancel := context.WithTimeout(context.Background(), m.webhook.deliveryBudget())
		defer cancel()

		if err := m.webhook.Send(sendCtx, payload); err != nil {
			m.logger.Warn("Webhook notification failed",
				"relay_id", relay.ID,
				"error", err)
			if m.metricsManager != nil {
				m.metricsManager.GetPrometheusMetrics().RecordNotificationFailure("webhook", TypeRelayProvisioned)
			}
			return
		}

		if m.metricsManager != nil {
			m.metricsManager.GetPrometheusMetrics().RecordNotificationSent("webhook", TypeRelayProvisioned)
		}
	}()
}

// Drain blocks until all in-flight webhook deliveries have finished. Called
// on shutdown so queued notifications are not dropped.
func (m *Manager) Drain() {
	m.inflight.Wait()
}
