package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhq/relay-provisioner/internal/custodian"
	"github.com/relayhq/relay-provisioner/internal/models"
)

func TestSchedulerLifecycle(t *testing.T) {
	store := newFakeStorage()
	cust := newFakeCustodian()
	engine := newTestEngine(store, cust, activePayments())

	scheduler := NewScheduler(engine, time.Hour)
	assert.False(t, scheduler.IsRunning())

	require.NoError(t, scheduler.Start(context.Background()))
	assert.True(t, scheduler.IsRunning())

	// Starting twice is an error.
	assert.Error(t, scheduler.Start(context.Background()))

	require.NoError(t, scheduler.Stop())
	assert.False(t, scheduler.IsRunning())

	// Stopping again is harmless.
	require.NoError(t, scheduler.Stop())
}

func TestSchedulerRunsImmediatelyOnStart(t *testing.T) {
	store := newFakeStorage()
	cust := newFakeCustodian()
	pendingFixture(store, "o1", "ph1", models.RelayStatusPending)
	cust.statuses["ph1"] = &custodian.InvoiceStatus{Paid: true}

	engine := newTestEngine(store, cust, activePayments())

	// Long interval: only the immediate startup cycle can have run.
	scheduler := NewScheduler(engine, time.Hour)
	require.NoError(t, scheduler.Start(context.Background()))

	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.settleCalls) == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, scheduler.Stop())
}

func TestSchedulerStopDoesNotInterruptInFlightCycle(t *testing.T) {
	store := newFakeStorage()
	cust := newFakeCustodian()
	pendingFixture(store, "o1", "ph1", models.RelayStatusPending)
	cust.statuses["ph1"] = &custodian.InvoiceStatus{Paid: true}
	cust.block = make(chan struct{})
	cust.started = make(chan struct{}, 1)

	engine := newTestEngine(store, cust, activePayments())
	scheduler := NewScheduler(engine, time.Hour)
	require.NoError(t, scheduler.Start(context.Background()))

	// The startup cycle is inside the custodian call when Stop is
	// requested; Stop must wait for the cycle to finish.
	<-cust.started

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		scheduler.Stop()
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(cust.block)
	<-stopped

	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.settleCalls, 1)
}
