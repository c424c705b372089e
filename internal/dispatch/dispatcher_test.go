package dispatch

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aidenlippert/acd-dispatch/internal/metrics"
	"github.com/aidenlippert/acd-dispatch/internal/model"
	"github.com/aidenlippert/acd-dispatch/internal/ops"
	"github.com/aidenlippert/acd-dispatch/internal/store"
)

// newUnregisteredMetrics builds a Metrics bundle without touching the global
// Prometheus registry, so running many tests in this package never trips
// "duplicate metrics collector registration".
func newUnregisteredMetrics() *metrics.Metrics {
	return &metrics.Metrics{
		Assignments:      prometheus.NewCounter(prometheus.CounterOpts{Name: "test_assignments"}),
		ClaimConflicts:   prometheus.NewCounter(prometheus.CounterOpts{Name: "test_claim_conflicts"}),
		Requeues:         prometheus.NewCounter(prometheus.CounterOpts{Name: "test_requeues"}),
		Abandoned:        prometheus.NewCounter(prometheus.CounterOpts{Name: "test_abandoned"}),
		QueueDepth:       prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_queue_depth"}),
		DispatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "test_dispatch_duration"}),
	}
}

type testHarness struct {
	store store.Store
	ops   *ops.Ops
	d     *Dispatcher
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := store.NewFromClient(client, nil)
	o := ops.New(s, ops.Config{LockAcquireTimeout: 50 * time.Millisecond, LockHoldTTL: time.Second}, nil)
	d := New(s, o, Config{RequeueStep: 10 * time.Millisecond}, newUnregisteredMetrics(), nil)
	d.sleep = func(time.Duration) {} // no wall-clock delay in tests

	return &testHarness{store: s, ops: o, d: d}
}

func TestIterateAssignsToLongestAvailableAgent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, ops.StatusOK, h.ops.CreateAgent(ctx, "agent:old", "Ada", "Lovelace", []string{"English"}).Status)
	require.Equal(t, ops.StatusOK, h.ops.CreateAgent(ctx, "agent:new", "Grace", "Hopper", []string{"English"}).Status)

	require.Equal(t, ops.StatusOK, h.ops.SetAgentState(ctx, "agent:old", model.AgentAvailable).Status)
	time.Sleep(5 * time.Millisecond)
	require.Equal(t, ops.StatusOK, h.ops.SetAgentState(ctx, "agent:new", model.AgentAvailable).Status)

	contactRes := h.ops.CreateContact(ctx, []string{"English"})
	require.Equal(t, ops.StatusOK, contactRes.Status)

	require.NoError(t, h.d.iterate(ctx))

	contact, _ := h.ops.GetContact(ctx, contactRes.Value)
	require.Equal(t, model.ContactAssigned, contact.State)
	require.Equal(t, "agent:old", contact.Agent, "the longer-idle agent should win the claim")

	var agent model.Agent
	require.NoError(t, h.store.JSONGet(ctx, "agent:old", &agent))
	require.Equal(t, model.AgentUnavailable, agent.State)

	var other model.Agent
	require.NoError(t, h.store.JSONGet(ctx, "agent:new", &other))
	require.Equal(t, model.AgentAvailable, other.State, "the losing candidate must remain AVAILABLE")
}

func TestIterateSamplesQueueDepthGauge(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	require.Equal(t, ops.StatusOK, h.ops.CreateContact(ctx, []string{"English"}).Status)
	require.Equal(t, ops.StatusOK, h.ops.CreateContact(ctx, []string{"Spanish"}).Status)

	require.NoError(t, h.d.iterate(ctx))

	require.Equal(t, float64(1), testutil.ToFloat64(h.d.metrics.QueueDepth),
		"gauge should reflect the queue depth remaining after the dequeue")
}

func TestIterateRequeuesWhenNoCandidateAvailable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	contactRes := h.ops.CreateContact(ctx, []string{"Spanish"})
	require.Equal(t, ops.StatusOK, contactRes.Status)

	require.NoError(t, h.d.iterate(ctx))

	contact, _ := h.ops.GetContact(ctx, contactRes.Value)
	require.Equal(t, model.ContactQueued, contact.State, "contact should remain queued after requeue")

	members, err := h.store.ZInter(ctx, []string{model.QueueKey})
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, contactRes.Value, members[0].Member)
}

func TestIterateDropsAbandonedContactWithoutRequeue(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	contactRes := h.ops.CreateContact(ctx, []string{"Spanish"})
	require.Equal(t, ops.StatusOK, contactRes.Status)
	require.Equal(t, ops.StatusOK, h.ops.CompleteContact(ctx, contactRes.Value).Status)

	require.NoError(t, h.d.iterate(ctx))

	members, err := h.store.ZInter(ctx, []string{model.QueueKey})
	require.NoError(t, err)
	require.Empty(t, members, "an abandoned contact must not be requeued")
}

func TestIterateSurfacesDeadlineOnEmptyQueue(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := h.d.iterate(ctx)
	require.Error(t, err, "blocking pop should surface ctx deadline as an error")
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.d.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not stop after context cancellation")
	}
}
