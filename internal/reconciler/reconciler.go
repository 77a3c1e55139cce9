// Package reconciler keeps order and relay state consistent with the
// payment custodian's view of settlement.
package reconciler

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relayhq/relay-provisioner/internal/config"
	"github.com/relayhq/relay-provisioner/internal/custodian"
	"github.com/relayhq/relay-provisioner/internal/metrics"
	"github.com/relayhq/relay-provisioner/internal/models"
	"github.com/relayhq/relay-provisioner/internal/storage"
	"github.com/relayhq/relay-provisioner/pkg/utils"
)

// ErrCycleInProgress is returned when a cycle is invoked while a prior one
// is still running. The invocation is skipped entirely, never queued.
var ErrCycleInProgress = errors.New("reconciliation cycle already in progress")

// Notifier is told about relays handed off to provisioning. Implementations
// must not block the cycle; failures are the notifier's problem.
type Notifier interface {
	RelayProvisioned(ctx context.Context, relay *models.Relay, order *models.Order)
}

// Engine drives the order/relay state machine from observed settlements.
// It holds no entity state across cycles; every cycle re-reads the pending
// set from storage.
type Engine struct {
	storage          storage.Storage
	custodian        custodian.Custodian
	payments         *config.PaymentsConfig
	custodianTimeout time.Duration
	notifier         Notifier
	metricsManager   *metrics.Manager
	logger           *logrus.Logger

	// Cycle-level single-flight guard. Owned by this instance so tests
	// can run independent engines.
	running atomic.Bool
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithNotifier attaches a provisioning notifier
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithMetrics attaches a metrics manager
func WithMetrics(m *metrics.Manager) EngineOption {
	return func(e *Engine) { e.metricsManager = m }
}

// NewEngine creates a reconciliation engine
func NewEngine(
	store storage.Storage,
	cust custodian.Custodian,
	payments *config.PaymentsConfig,
	reconcilerCfg *config.ReconcilerConfig,
	opts ...EngineOption,
) *Engine {
	timeout := reconcilerCfg.CustodianTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	engine := &Engine{
		storage:          store,
		custodian:        cust,
		payments:         payments,
		custodianTimeout: timeout,
		logger:           utils.GetLogger(),
	}

	for _, opt := range opts {
		opt(engine)
	}

	return engine
}

// OrderOutcome is the result of reconciling one pending order. Per-order
// failures are carried here instead of aborting the cycle, so one bad or
// slow order never starves the rest.
type OrderOutcome struct {
	OrderID          string `json:"order_id"`
	PaymentReference string `json:"payment_reference"`
	Settled          bool   `json:"settled"`
	Provisioned      bool   `json:"provisioned"`
	Err              error  `json:"error,omitempty"`
}

// CycleResult summarizes one reconciliation cycle
type CycleResult struct {
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration"`
	Checked     int            `json:"checked"`
	Settled     int            `json:"settled"`
	Provisioned int            `json:"provisioned"`
	Outcomes    []OrderOutcome `json:"outcomes,omitempty"`
}

// RunCycle runs one reconciliation cycle. It returns ErrCycleInProgress
// when a prior cycle is still running, a nil result with no error when
// payments are disabled or unconfigured (a configuration guard, not a
// failure), and an error when the pending set cannot be loaded. Per-order
// failures are recorded in the result, never returned.
func (e *Engine) RunCycle(ctx context.Context) (*CycleResult, error) {
	if !e.running.CompareAndSwap(false, true) {
		if e.metricsManager != nil {
			e.metricsManager.GetPrometheusMetrics().RecordCycleSkipped("in_flight")
		}
		return nil, ErrCycleInProgress
	}
	defer e.running.Store(false)

	if e.payments == nil || !e.payments.Active() {
		if e.metricsManager != nil {
			e.metricsManager.GetPrometheusMetrics().RecordCycleSkipped("payments_disabled")
		}
		return nil, nil
	}

	result := &CycleResult{StartedAt: time.Now()}

	pending, err := e.storage.GetPendingOrders(ctx)
	if err != nil {
		e.logger.Error("Failed to load pending orders", "error", err)
		return nil, err
	}

	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().UpdatePendingOrders(len(pending))
	}

	if len(pending) > 0 {
		e.logger.Debug("Reconciling pending orders", "count", len(pending))
	}

	for _, item := range pending {
		outcome := e.reconcileOrder(ctx, item)
		result.Outcomes = append(result.Outcomes, outcome)

		result.Checked++
		if outcome.Settled {
			result.Settled++
		}
		if outcome.Provisioned {
			result.Provisioned++
		}
	}

	result.Duration = time.Since(result.StartedAt)

	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().RecordCycle(result.Duration)
	}

	if result.Settled > 0 {
		e.logger.Info("Reconciliation cycle settled orders",
			"checked", result.Checked,
			"settled", result.Settled,
			"provisioned", result.Provisioned,
			"duration", result.Duration)
	}

	return result, nil
}

// reconcileOrder checks one order with the custodian and, on observed
// settlement, advances the order and its relay. Every failure is captured
// in the outcome; the order stays pending and is retried next cycle.
func (e *Engine) reconcileOrder(ctx context.Context, item *models.PendingOrder) OrderOutcome {
	outcome := OrderOutcome{
		OrderID:          item.Order.ID,
		PaymentReference: item.Order.PaymentReference,
	}

	if e.metricsManager != nil {
		e.metricsManager.GetPrometheusMetrics().RecordOrderChecked()
	}

	callCtx, cancel := context.WithTimeout(ctx, e.custodianTimeout)
	defer cancel()

	start := time.Now()
	status, err := e.custodian.CheckInvoice(callCtx, item.Order.PaymentReference)
	if e.metricsManager != nil {
		callStatus := "success"
		if err != nil {
			callStatus = "error"
		}
		e.metricsManager.GetPrometheusMetrics().RecordCustodianRequest("check_invoice", callStatus, time.Since(start))
	}
	if err != nil {
		e.logger.Warn("Custodian check failed",
			"order_id", item.Order.ID,
			"payment_reference", item.Order.PaymentReference,
			"error", err)
		if e.metricsManager != nil {
			e.metricsManager.GetPrometheusMetrics().RecordOrderError("custodian")
		}
		outcome.Err = err
		return outcome
	}

	if !status.Settled() {
		return outcome
	}

	// A single transactional write covers both transitions: if the relay
	// handoff cannot commit, the order stays in the pending set and the
	// whole settlement is retried next cycle.
	settled, provisioned, err := e.storage.SettleOrder(ctx, item.Order.ID, item.Relay.ID, time.Now().UTC())
	if err != nil {
		e.logger.Error("Failed to settle order",
			"order_id", item.Order.ID,
			"relay_id", item.Relay.ID,
			"error", err)
		if e.metricsManager != nil {
			e.metricsManager.GetPrometheusMetrics().RecordOrderError("settle")
		}
		outcome.Err = err
		return outcome
	}

	if settled {
		outcome.Settled = true
		if e.metricsManager != nil {
			e.metricsManager.GetPrometheusMetrics().RecordOrderSettled()
		}
	}

	if provisioned {
		outcome.Provisioned = true
		if e.metricsManager != nil {
			e.metricsManager.GetPrometheusMetrics().RecordRelayProvisioned()
		}

		e.logger.Info("Relay handed off to provisioning",
			"relay_id", item.Relay.ID,
			"relay_name", item.Relay.Name,
			"order_id", item.Order.ID)

		if e.notifier != nil {
			e.notifier.RelayProvisioned(ctx, item.Relay, item.Order)
		}
	}

	return outcome
}

// SettleOrder applies the paid transition to a single order outside a
// polling cycle, for administrative unlocks. Same transactional write as
// the cycle path, so a partial settlement can never be left behind.
func (e *Engine) SettleOrder(ctx context.Context, orderID string) (*OrderOutcome, error) {
	order, err := e.storage.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	outcome := &OrderOutcome{
		OrderID:          order.ID,
		PaymentReference: order.PaymentReference,
	}

	settled, provisioned, err := e.storage.SettleOrder(ctx, order.ID, order.RelayID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	outcome.Settled = settled

	if provisioned {
		outcome.Provisioned = true
		if e.notifier != nil {
			relay, err := e.storage.GetRelay(ctx, order.RelayID)
			if err != nil {
				return nil, err
			}
			e.notifier.RelayProvisioned(ctx, relay, order)
		}
	}

	return outcome, nil
}
