package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/nbd-wtf/go-nostr"

	"github.com/relayhq/relay-provisioner/internal/models"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// challengeHandler issues a single-use login challenge. The client signs
// the challenge into the content of a login event and presents it to the
// login endpoint before the challenge expires.
func (s *HTTPServer) challengeHandler(w http.ResponseWriter, r *http.Request) {
	challenge, err := s.challenges.Issue()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to issue challenge", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"challenge":  challenge,
		"expires_in": int(s.authConfig.ChallengeTTL.Seconds()),
	})
}

// loginHandler exchanges a signed login event for a session token. The
// event content must carry a challenge previously issued by this server;
// consuming the challenge makes replays of a captured event worthless.
func (s *HTTPServer) loginHandler(w http.ResponseWriter, r *http.Request) {
	var event nostr.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		s.loginRejected(w, err)
		return
	}

	challenge := strings.TrimSpace(event.Content)

	pubkey, err := s.verifier.VerifyLoginEvent(&event, challenge)
	if err != nil {
		s.loginRejected(w, err)
		return
	}

	// Pubkeys are storage keys; normalize before anything touches the
	// users table.
	pubkey = utils.NormalizePubkey(pubkey)
	if !utils.IsValidPubkey(pubkey) {
		s.loginRejected(w, nil)
		return
	}

	if !s.challenges.Consume(challenge) {
		s.loginRejected(w, nil)
		return
	}

	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordAuthAttempt("login", "success")
	}

	user, err := s.storage.GetUser(r.Context(), pubkey)
	if err != nil {
		if appErr, ok := err.(*utils.AppError); !ok || appErr.Code != utils.ErrCodeNotFound {
			s.writeError(w, http.StatusInternalServerError, "Failed to load user", err)
			return
		}

		user = models.NewUser(pubkey)
		if err := s.storage.SaveUser(r.Context(), user); err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to create user", err)
			return
		}

		s.logger.Info("New user registered", map[string]interface{}{
			"pubkey": user.Pubkey,
		})
	}

	token, err := s.sessions.Issue(user.Pubkey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to issue session token", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"pubkey":     user.Pubkey,
		"expires_in": int(s.authConfig.SessionTTL.Seconds()),
	})
}

func (s *HTTPServer) loginRejected(w http.ResponseWriter, err error) {
	if s.metricsManager != nil {
		s.metricsManager.GetPrometheusMetrics().RecordAuthAttempt("login", "failure")
	}

	s.logger.Debug("Login rejected", map[string]interface{}{"error": err})
	s.writeJSON(w, http.StatusUnauthorized, map[string]interface{}{
		"error": "authentication failed",
	})
}

// createOrderRequest is the body of an order purchase
type createOrderRequest struct {
	RelayName string `json:"relay_name"`
}

// createOrderHandler creates a relay and a pending order for it. With
// payments active, an invoice is requested from the custodian and the
// order waits for reconciliation to observe settlement. Without payments
// the relay is provisioned immediately.
func (s *HTTPServer) createOrderHandler(w http.ResponseWriter, r *http.Request) {
	pubkey := PubkeyFromContext(r.Context())

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	req.RelayName = strings.TrimSpace(req.RelayName)
	if req.RelayName == "" {
		s.writeError(w, http.StatusBadRequest, "relay_name is required", nil)
		return
	}

	relay := models.NewRelay(req.RelayName, pubkey)

	if !s.payments.Active() {
		// Free mode: no invoice, the relay goes straight to provisioning.
		relay.Status = models.RelayStatusProvision
		if err := s.storage.SaveRelay(r.Context(), relay); err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to save relay", err)
			return
		}

		order := models.NewOrder(relay.ID, "", "", 0)
		order.MarkPaid(time.Now().UTC())
		if err := s.storage.SaveOrder(r.Context(), order); err != nil {
			s.writeError(w, http.StatusInternalServerError, "Failed to save order", err)
			return
		}

		s.writeJSON(w, http.StatusCreated, map[string]interface{}{
			"order": order,
			"relay": relay,
		})
		return
	}

	invoice, err := s.custodian.CreateInvoice(r.Context(), s.payments.RelayPriceSats, s.payments.InvoiceMemo)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, "Failed to create invoice", err)
		return
	}

	if err := s.storage.SaveRelay(r.Context(), relay); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save relay", err)
		return
	}

	order := models.NewOrder(relay.ID, invoice.PaymentReference, invoice.PaymentRequest, s.payments.RelayPriceSats)
	if err := s.storage.SaveOrder(r.Context(), order); err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to save order", err)
		return
	}

	s.logger.Info("Order created", map[string]interface{}{
		"order_id":    order.ID,
		"relay_id":    relay.ID,
		"amount_sats": order.AmountSats,
	})

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"order": order,
		"relay": relay,
	})
}

// listOrdersHandler returns orders for relays owned by the caller
func (s *HTTPServer) listOrdersHandler(w http.ResponseWriter, r *http.Request) {
	pubkey := PubkeyFromContext(r.Context())

	orders, err := s.storage.GetOrdersByOwner(r.Context(), pubkey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve orders", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
	})
}

// getOrderHandler returns a single order to the relay's owner or an admin
func (s *HTTPServer) getOrderHandler(w http.ResponseWriter, r *http.Request) {
	pubkey := PubkeyFromContext(r.Context())
	id := mux.Vars(r)["id"]

	order, err := s.storage.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Order not found", err)
		return
	}

	relay, err := s.storage.GetRelay(r.Context(), order.RelayID)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Order not found", err)
		return
	}

	if relay.OwnerPubkey != pubkey && !s.isAdmin(r.Context(), pubkey) {
		s.writeError(w, http.StatusNotFound, "Order not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"order": order,
		"relay": relay,
	})
}

// listRelaysHandler returns relays owned by the caller
func (s *HTTPServer) listRelaysHandler(w http.ResponseWriter, r *http.Request) {
	pubkey := PubkeyFromContext(r.Context())

	relays, err := s.storage.GetRelaysByOwner(r.Context(), pubkey)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve relays", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"relays": relays,
		"count":  len(relays),
	})
}

// getRelayHandler returns a single relay to its owner or an admin
func (s *HTTPServer) getRelayHandler(w http.ResponseWriter, r *http.Request) {
	pubkey := PubkeyFromContext(r.Context())
	id := mux.Vars(r)["id"]

	relay, err := s.storage.GetRelay(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "Relay not found", err)
		return
	}

	if relay.OwnerPubkey != pubkey && !s.isAdmin(r.Context(), pubkey) {
		s.writeError(w, http.StatusNotFound, "Relay not found", nil)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"relay": relay,
	})
}

// adminListOrdersHandler returns all orders, paginated
func (s *HTTPServer) adminListOrdersHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	offset := 0

	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	orders, err := s.storage.GetAllOrders(r.Context(), limit, offset)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to retrieve orders", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"orders": orders,
		"count":  len(orders),
		"limit":  limit,
		"offset": offset,
	})
}

// adminSettleOrderHandler settles an order without waiting for the
// custodian, for manual unlocks and out-of-band payments
func (s *HTTPServer) adminSettleOrderHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	outcome, err := s.engine.SettleOrder(r.Context(), id)
	if err != nil {
		if appErr, ok := err.(*utils.AppError); ok && appErr.Code == utils.ErrCodeNotFound {
			s.writeError(w, http.StatusNotFound, "Order not found", err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, "Failed to settle order", err)
		return
	}

	s.logger.Info("Order settled administratively", map[string]interface{}{
		"order_id":    outcome.OrderID,
		"settled":     outcome.Settled,
		"provisioned": outcome.Provisioned,
		"admin":       PubkeyFromContext(r.Context()),
	})

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"outcome": outcome,
	})
}
