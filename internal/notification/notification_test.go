package notification

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/internal/models"
)

func TestRelayProvisionedWebhook(t *testing.T) {
	received := make(chan map[string]interface{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received <- payload
	}))
	defer server.Close()

	manager := NewManager(&config.NotifyConfig{
		Enabled:        true,
		WebhookURL:     server.URL,
		WebhookTimeout: 2 * time.Second,
		MaxRetries:     1,
	}, nil)

	relay := models.NewRelay("my-relay", "owner-pk")
	order := models.NewOrder(relay.ID, "ph1", "lnbc1...", 21000)

	manager.RelayProvisioned(context.Background(), relay, order)

	select {
	case payload := <-received:
		assert.Equal(t, TypeRelayProvisioned, payload["type"])
		relayPart := payload["relay"].(map[string]interface{})
		assert.Equal(t, relay.ID, relayPart["id"])
	case <-time.After(2 * time.Second):
		t.Fatal("webhook not delivered")
	}
}

func TestRelayProvisionedDisabled(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	manager := NewManager(&config.NotifyConfig{
		Enabled:    false,
		WebhookURL: server.URL,
	}, nil)

	relay := models.NewRelay("my-relay", "owner-pk")
	order := models.NewOrder(relay.ID, "ph1", "lnbc1...", 21000)
	manager.RelayProvisioned(context.Background(), relay, order)

	assert.Equal(t, int32(0), calls.Load())
}

func TestRelayProvisionedDoesNotBlockOnSlowWebhook(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		<-release
	}))
	defer server.Close()

	manager := NewManager(&config.NotifyConfig{
		Enabled:        true,
		WebhookURL:     server.URL,
		WebhookTimeout: 5 * time.Second,
		MaxRetries:     1,
	}, nil)

	relay := models.NewRelay("my-relay", "owner-pk")
	order := models.NewOrder(relay.ID, "ph1", "lnbc1...", 21000)

	// The endpoint is stalled; the notification call must still return
	// right away.
	start := time.Now()
	manager.RelayProvisioned(context.Background(), relay, order)
	assert.Less(t, time.Since(start), time.Second)

	close(release)
	manager.Drain()
	assert.Equal(t, int32(1), calls.Load())
}

func TestRelayProvisionedOutlivesCallerContext(t *testing.T) {
	received := make(chan struct{}, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- struct{}{}
	}))
	defer server.Close()

	manager := NewManager(&config.NotifyConfig{
		Enabled:        true,
		WebhookURL:     server.URL,
		WebhookTimeout: 2 * time.Second,
		MaxRetries:     1,
	}, nil)

	relay := models.NewRelay("my-relay", "owner-pk")
	order := models.NewOrder(relay.ID, "ph1", "lnbc1...", 21000)

	// A cancelled cycle context must not abort the delivery.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	manager.RelayProvisioned(ctx, relay, order)
	manager.Drain()

	select {
	case <-received:
	default:
		t.Fatal("webhook not delivered after caller context was cancelled")
	}
}

func TestWebhookRetries(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 2 {
			http.Error(w, "try again", http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewWebhookSender(&config.NotifyConfig{
		WebhookURL:     server.URL,
		WebhookTimeout: 2 * time.Second,
		MaxRetries:     3,
		RetryDelay:     10 * time.Millisecond,
	})

	err := sender.Send(context.Background(), map[string]interface{}{"type": "test"})
	require.NoError(t, err)
	assert.Equal(t, int32(2), calls.Load())
}
