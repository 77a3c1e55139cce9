package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/internal/custodian"
	"github.com/relayhq/relay-provisioner/internal/models"
	"github.com/relayhq/relay-provisioner/internal/nostrauth"
	"github.com/relayhq/relay-provisioner/internal/reconciler"
	"github.com/relayhq/relay-provisioner/internal/storage"
)

const testPublicURL = "https://provisioner.example.com"

// fakeCustodian returns canned invoices without talking to anything
type fakeCustodian struct {
	paymentReference string
	settled          bool
}

func (f *fakeCustodian) CreateInvoice(ctx context.Context, amountSats int64, memo string) (*custodian.Invoice, error) {
	return &custodian.Invoice{
		PaymentReference: f.paymentReference,
		PaymentRequest:   "lnbc210u1test",
	}, nil
}

func (f *fakeCustodian) CheckInvoice(ctx context.Context, paymentReference string) (*custodian.InvoiceStatus, error) {
	return &custodian.InvoiceStatus{Paid: f.settled}, nil
}

func newTestStorage(t *testing.T) storage.Storage {
	t.Helper()

	store := storage.NewSQLiteStorage(&storage.StorageConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "server_test.db"),
		MaxConnections:   5,
		MaxIdleTime:      time.Minute,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	t.Cleanup(func() { store.Close() })

	return store
}

func newTestServer(t *testing.T, paymentsActive bool) (*HTTPServer, storage.Storage) {
	t.Helper()

	payments := &config.PaymentsConfig{
		RelayPriceSats: 21000,
		InvoiceMemo:    "relay provisioning",
	}
	if paymentsActive {
		payments.Enabled = true
		payments.LNBitsURL = "https://lnbits.example.com"
		payments.LNBitsKey = "test-key"
	}

	store := newTestStorage(t)
	cust := &fakeCustodian{paymentReference: "ph-test", settled: true}
	engine := reconciler.NewEngine(store, cust, payments, &config.ReconcilerConfig{
		PollInterval:     time.Second,
		CustodianTimeout: time.Second,
	})

	server, err := NewHTTPServer(
		&config.ServerConfig{
			Host:         "127.0.0.1",
			Port:         0,
			PublicURL:    testPublicURL,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
			EnableHealth: true,
		},
		&config.AuthConfig{
			JWTSecret:    "test-secret",
			SessionTTL:   time.Hour,
			ChallengeTTL: 2 * time.Minute,
		},
		payments,
		store,
		cust,
		engine,
		nil,
	)
	require.NoError(t, err)

	return server, store
}

// authHeader signs a request-auth event for the given URL and method and
// encodes it the way clients send it
func authHeader(t *testing.T, sk, url, method string) string {
	t.Helper()

	event := &nostr.Event{
		Kind:      nostrauth.KindHTTPAuth,
		CreatedAt: nostr.Now(),
		Tags: nostr.Tags{
			{"u", url},
			{"method", method},
		},
	}
	require.NoError(t, event.Sign(sk))

	raw, err := json.Marshal(event)
	require.NoError(t, err)

	return "Nostr " + base64.StdEncoding.EncodeToString(raw)
}

func doRequest(s *HTTPServer, method, path, auth string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHealthEndpoint(t *testing.T) {
	server, _ := newTestServer(t, true)

	rec := doRequest(server, "GET", "/api/v1/health", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "healthy", body["status"])
}

func TestAuthMiddleware(t *testing.T) {
	server, _ := newTestServer(t, true)
	sk := nostr.GeneratePrivateKey()

	t.Run("missing header is rejected", func(t *testing.T) {
		rec := doRequest(server, "GET", "/api/v1/relays", "", nil)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, "authentication failed", decodeBody(t, rec)["error"])
	})

	t.Run("garbage header is rejected", func(t *testing.T) {
		rec := doRequest(server, "GET", "/api/v1/relays", "Nostr not-base64!!", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("event signed for another endpoint is rejected", func(t *testing.T) {
		auth := authHeader(t, sk, testPublicURL+"/api/v1/orders", "GET")
		rec := doRequest(server, "GET", "/api/v1/relays", auth, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("event signed for another method is rejected", func(t *testing.T) {
		auth := authHeader(t, sk, testPublicURL+"/api/v1/relays", "POST")
		rec := doRequest(server, "GET", "/api/v1/relays", auth, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("correctly bound event passes", func(t *testing.T) {
		auth := authHeader(t, sk, testPublicURL+"/api/v1/relays", "GET")
		rec := doRequest(server, "GET", "/api/v1/relays", auth, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("session token passes without per-request event", func(t *testing.T) {
		pk, err := nostr.GetPublicKey(sk)
		require.NoError(t, err)

		token, err := server.sessions.Issue(pk)
		require.NoError(t, err)

		rec := doRequest(server, "GET", "/api/v1/relays", "Bearer "+token, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("forged session token is rejected", func(t *testing.T) {
		other := NewSessionIssuer(&config.AuthConfig{JWTSecret: "wrong-secret", SessionTTL: time.Hour})
		token, err := other.Issue("deadbeef")
		require.NoError(t, err)

		rec := doRequest(server, "GET", "/api/v1/relays", "Bearer "+token, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestCreateOrder(t *testing.T) {
	t.Run("payments active returns invoice and pending order", func(t *testing.T) {
		server, store := newTestServer(t, true)
		sk := nostr.GeneratePrivateKey()
		pk, err := nostr.GetPublicKey(sk)
		require.NoError(t, err)

		auth := authHeader(t, sk, testPublicURL+"/api/v1/orders", "POST")
		rec := doRequest(server, "POST", "/api/v1/orders", auth, map[string]string{
			"relay_name": "my-relay",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)

		order := body["order"].(map[string]interface{})
		relay := body["relay"].(map[string]interface{})
		assert.Equal(t, "ph-test", order["payment_reference"])
		assert.Equal(t, "lnbc210u1test", order["invoice"])
		assert.Equal(t, false, order["paid"])
		assert.Equal(t, models.RelayStatusPending, relay["status"])
		assert.Equal(t, pk, relay["owner_pubkey"])

		pending, err := store.GetPendingOrders(context.Background())
		require.NoError(t, err)
		assert.Len(t, pending, 1)
	})

	t.Run("payments inactive provisions immediately", func(t *testing.T) {
		server, store := newTestServer(t, false)
		sk := nostr.GeneratePrivateKey()

		auth := authHeader(t, sk, testPublicURL+"/api/v1/orders", "POST")
		rec := doRequest(server, "POST", "/api/v1/orders", auth, map[string]string{
			"relay_name": "free-relay",
		})

		require.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)

		order := body["order"].(map[string]interface{})
		relay := body["relay"].(map[string]interface{})
		assert.Equal(t, true, order["paid"])
		assert.Equal(t, models.RelayStatusProvision, relay["status"])

		pending, err := store.GetPendingOrders(context.Background())
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("missing relay name is rejected", func(t *testing.T) {
		server, _ := newTestServer(t, true)
		sk := nostr.GeneratePrivateKey()

		auth := authHeader(t, sk, testPublicURL+"/api/v1/orders", "POST")
		rec := doRequest(server, "POST", "/api/v1/orders", auth, map[string]string{})

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestOrderOwnership(t *testing.T) {
	server, store := newTestServer(t, true)

	ownerSK := nostr.GeneratePrivateKey()
	otherSK := nostr.GeneratePrivateKey()

	auth := authHeader(t, ownerSK, testPublicURL+"/api/v1/orders", "POST")
	rec := doRequest(server, "POST", "/api/v1/orders", auth, map[string]string{
		"relay_name": "owned-relay",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	orderID := decodeBody(t, rec)["order"].(map[string]interface{})["id"].(string)

	t.Run("owner can read order", func(t *testing.T) {
		auth := authHeader(t, ownerSK, testPublicURL+"/api/v1/orders/"+orderID, "GET")
		rec := doRequest(server, "GET", "/api/v1/orders/"+orderID, auth, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("non-owner gets not found", func(t *testing.T) {
		auth := authHeader(t, otherSK, testPublicURL+"/api/v1/orders/"+orderID, "GET")
		rec := doRequest(server, "GET", "/api/v1/orders/"+orderID, auth, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("owner sees relay in listing", func(t *testing.T) {
		pk, err := nostr.GetPublicKey(ownerSK)
		require.NoError(t, err)

		relays, err := store.GetRelaysByOwner(context.Background(), pk)
		require.NoError(t, err)
		require.Len(t, relays, 1)

		auth := authHeader(t, ownerSK, testPublicURL+"/api/v1/relays", "GET")
		rec := doRequest(server, "GET", "/api/v1/relays", auth, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
	})
}

func TestLoginFlow(t *testing.T) {
	server, _ := newTestServer(t, true)
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	require.NoError(t, err)

	issueChallenge := func(t *testing.T) string {
		rec := doRequest(server, "POST", "/api/v1/auth/challenge", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		return decodeBody(t, rec)["challenge"].(string)
	}

	loginEvent := func(t *testing.T, challenge string) *nostr.Event {
		event := &nostr.Event{
			Kind:      nostrauth.KindHTTPAuth,
			CreatedAt: nostr.Now(),
			Content:   challenge,
			Tags:      nostr.Tags{},
		}
		require.NoError(t, event.Sign(sk))
		return event
	}

	t.Run("valid login returns session token", func(t *testing.T) {
		challenge := issueChallenge(t)
		rec := doRequest(server, "POST", "/api/v1/auth/login", "", loginEvent(t, challenge))

		require.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, pk, body["pubkey"])
		assert.NotEmpty(t, body["token"])

		subject, err := server.sessions.Verify(body["token"].(string))
		require.NoError(t, err)
		assert.Equal(t, pk, subject)
	})

	t.Run("challenge is single use", func(t *testing.T) {
		challenge := issueChallenge(t)
		event := loginEvent(t, challenge)

		rec := doRequest(server, "POST", "/api/v1/auth/login", "", event)
		require.Equal(t, http.StatusOK, rec.Code)

		rec = doRequest(server, "POST", "/api/v1/auth/login", "", event)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unissued challenge is rejected", func(t *testing.T) {
		rec := doRequest(server, "POST", "/api/v1/auth/login", "", loginEvent(t, "never-issued"))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tampered event is rejected", func(t *testing.T) {
		challenge := issueChallenge(t)
		event := loginEvent(t, challenge)
		event.Content = challenge + "x"

		rec := doRequest(server, "POST", "/api/v1/auth/login", "", event)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAdminEndpoints(t *testing.T) {
	server, store := newTestServer(t, true)
	ctx := context.Background()

	adminSK := nostr.GeneratePrivateKey()
	adminPK, err := nostr.GetPublicKey(adminSK)
	require.NoError(t, err)
	userSK := nostr.GeneratePrivateKey()
	userPK, err := nostr.GetPublicKey(userSK)
	require.NoError(t, err)

	require.NoError(t, store.SaveUser(ctx, models.NewUser(adminPK)))
	require.NoError(t, store.SetUserAdmin(ctx, adminPK, true))
	require.NoError(t, store.SaveUser(ctx, models.NewUser(userPK)))

	auth := authHeader(t, userSK, testPublicURL+"/api/v1/orders", "POST")
	rec := doRequest(server, "POST", "/api/v1/orders", auth, map[string]string{
		"relay_name": "settle-me",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	body := decodeBody(t, rec)
	orderID := body["order"].(map[string]interface{})["id"].(string)
	relayID := body["relay"].(map[string]interface{})["id"].(string)

	t.Run("non-admin is forbidden", func(t *testing.T) {
		auth := authHeader(t, userSK, testPublicURL+"/api/v1/admin/orders", "GET")
		rec := doRequest(server, "GET", "/api/v1/admin/orders", auth, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})

	t.Run("admin can read another user's order", func(t *testing.T) {
		path := "/api/v1/orders/" + orderID
		auth := authHeader(t, adminSK, testPublicURL+path, "GET")
		rec := doRequest(server, "GET", path, auth, nil)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("admin lists all orders", func(t *testing.T) {
		auth := authHeader(t, adminSK, testPublicURL+"/api/v1/admin/orders", "GET")
		rec := doRequest(server, "GET", "/api/v1/admin/orders", auth, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(1), decodeBody(t, rec)["count"])
	})

	t.Run("admin settles order and relay advances", func(t *testing.T) {
		path := "/api/v1/admin/orders/" + orderID + "/settle"
		auth := authHeader(t, adminSK, testPublicURL+path, "POST")
		rec := doRequest(server, "POST", path, auth, nil)

		require.Equal(t, http.StatusOK, rec.Code)
		outcome := decodeBody(t, rec)["outcome"].(map[string]interface{})
		assert.Equal(t, true, outcome["settled"])
		assert.Equal(t, true, outcome["provisioned"])

		order, err := store.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.True(t, order.Paid)

		relay, err := store.GetRelay(ctx, relayID)
		require.NoError(t, err)
		assert.Equal(t, models.RelayStatusProvision, relay.Status)
	})

	t.Run("settling unknown order is not found", func(t *testing.T) {
		path := "/api/v1/admin/orders/does-not-exist/settle"
		auth := authHeader(t, adminSK, testPublicURL+path, "POST")
		rec := doRequest(server, "POST", path, auth, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestChallengeStore(t *testing.T) {
	t.Run("expired challenge cannot be consumed", func(t *testing.T) {
		store := NewChallengeStore(time.Minute)
		current := time.Now()
		store.now = func() time.Time { return current }

		token, err := store.Issue()
		require.NoError(t, err)

		current = current.Add(2 * time.Minute)
		assert.False(t, store.Consume(token))
	})

	t.Run("consume is single use", func(t *testing.T) {
		store := NewChallengeStore(time.Minute)

		token, err := store.Issue()
		require.NoError(t, err)

		assert.True(t, store.Consume(token))
		assert.False(t, store.Consume(token))
	})

	t.Run("empty token never consumes", func(t *testing.T) {
		store := NewChallengeStore(time.Minute)
		assert.False(t, store.Consume(""))
	})
}
