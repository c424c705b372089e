// Package dispatch implements the single-consumer FIFO-ordered matcher:
// block-dequeue a contact, intersect skill availability indexes, attempt an
// ordered claim, assign or requeue with a decelerator. Grounded
// on original_source/src/dispatcher.py for the exact control flow, and on
// this codebase's TaskQueue/RedisTaskQueue constructors (libs/orchestration/
// queue.go, libs/queue/redis_queue.go) for the Go shape of a long-running
// consumer loop with injected logger and lifecycle context.
package dispatch

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/aidenlippert/acd-dispatch/internal/metrics"
	"github.com/aidenlippert/acd-dispatch/internal/model"
	"github.com/aidenlippert/acd-dispatch/internal/ops"
	"github.com/aidenlippert/acd-dispatch/internal/store"
)

// Config tunes the requeue decelerator; lock budgets live in ops.Config.
type Config struct {
	// RequeueStep is the fixed increment applied to a contact's queue score
	// when no candidate could be claimed.
	RequeueStep time.Duration
}

// DefaultConfig mirrors the source's +1000ms decelerator.
func DefaultConfig() Config {
	return Config{RequeueStep: 1 * time.Second}
}

// Dispatcher is the single logical consumer of the contact queue. Running
// multiple instances is claim-safe (the per-agent lock still prevents an
// agent from being double-assigned) but degrades FIFO fairness among
// requeued contacts.
type Dispatcher struct {
	store   store.Store
	ops     *ops.Ops
	cfg     Config
	metrics *metrics.Metrics
	logger  *zap.Logger

	// sleep is swapped out in tests to avoid real wall-clock delay.
	sleep func(time.Duration)
}

// New constructs a Dispatcher. logger and m default to no-ops so tests can
// omit them, matching this codebase's constructor style.
func New(s store.Store, o *ops.Ops, cfg Config, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.New()
	}
	return &Dispatcher{
		store:   s,
		ops:     o,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
		sleep:   time.Sleep,
	}
}

// Run executes dispatcher iterations until ctx is cancelled. Each iteration
// may block indefinitely in ZPopMinBlocking, which returns as soon as ctx is
// done; an iteration that requeues also sleeps for up to 2s, and that sleep
// is not interrupted by ctx, so Run returns after it finishes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := d.iterate(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// The dispatcher never propagates errors upward; log and
			// continue with the next contact.
			d.logger.Error("dispatcher iteration failed", zap.Error(err))
		}
	}
}

// iterate performs exactly one round of dequeue, match, and assign-or-requeue.
func (d *Dispatcher) iterate(ctx context.Context) error {
	start := time.Now()
	defer func() { d.metrics.DispatchDuration.Observe(time.Since(start).Seconds()) }()

	// Step 1: dequeue. Blocks with no timeout; BZPOPMIN with 0 means "forever".
	contactKey, score, ok, err := d.store.ZPopMinBlocking(ctx, model.QueueKey, 0)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	if depth, derr := d.store.Len(ctx, model.QueueKey); derr == nil {
		d.metrics.QueueDepth.Set(float64(depth))
	} else {
		d.logger.Warn("failed to sample queue depth", zap.Error(derr))
	}

	// Step 2: resolve skills.
	var skills []string
	if err := d.store.JSONGetField(ctx, contactKey, "skills", &skills); err != nil {
		d.logger.Error("failed to resolve contact skills", zap.String("contact", contactKey), zap.Error(err))
		return nil
	}

	// Step 3: intersect availability indexes.
	availKeys := make([]string, len(skills))
	for i, s := range skills {
		availKeys[i] = model.AvailSkillKey(s)
	}
	candidates, err := d.store.ZInter(ctx, availKeys)
	if err != nil {
		d.logger.Error("failed to intersect availability indexes", zap.String("contact", contactKey), zap.Error(err))
		return nil
	}

	// Step 4: attempt claim in LAA-first order.
	winner := ""
	for _, c := range candidates {
		res := d.ops.SetAgentState(ctx, c.Member, model.AgentUnavailable)
		if res.Status == ops.StatusOK {
			winner = c.Member
			break
		}
		d.metrics.ClaimConflicts.Inc()
	}

	if winner != "" {
		// Step 5: assign.
		if err := d.store.JSONMSetFields(ctx, contactKey, map[string]any{
			"agent": winner,
			"state": model.ContactAssigned,
		}); err != nil {
			d.logger.Error("failed to record assignment", zap.String("contact", contactKey), zap.String("agent", winner), zap.Error(err))
			return nil
		}
		d.metrics.Assignments.Inc()
		d.logger.Info("contact assigned", zap.String("contact", contactKey), zap.String("agent", winner))
		return nil
	}

	// Step 6: no winner. Distinguish abandonment from "no candidate yet".
	var state model.ContactState
	if err := d.store.JSONGetField(ctx, contactKey, "state", &state); err != nil {
		d.logger.Error("failed to re-read contact state", zap.String("contact", contactKey), zap.Error(err))
		return nil
	}

	if state == model.ContactComplete {
		// Abandoned while queued: drop silently, no requeue, no claim.
		d.metrics.Abandoned.Inc()
		d.logger.Info("contact abandoned before match", zap.String("contact", contactKey))
		return nil
	}

	newScore := score + d.cfg.RequeueStep.Seconds()*1000
	if err := d.store.ZAdd(ctx, model.QueueKey, contactKey, newScore); err != nil {
		d.logger.Error("failed to requeue contact", zap.String("contact", contactKey), zap.Error(err))
		return nil
	}
	d.metrics.Requeues.Inc()
	d.logger.Info("contact requeued", zap.String("contact", contactKey))

	// De-correlate retry storms on the same unsatisfiable contact.
	d.sleep(time.Duration(rand.Float64() * float64(2*time.Second)))
	return nil
}
