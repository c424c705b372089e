// Package ops implements the per-agent-locked mutation operations shared by
// both the REST surface and the dispatcher's claim step. Each operation
// returns a Result variant (OK/Err/Locked) rather than a bare Go error,
// matching the original source's Response/RESPONSE_TYPE envelope
// (original_source/src/response.py, src/operations.py) and this codebase's
// typed-result style in libs/queue/redis_queue.go.
package ops

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aidenlippert/acd-dispatch/internal/model"
	"github.com/aidenlippert/acd-dispatch/internal/store"
)

// Status is the outcome variant of an operation.
type Status int

const (
	StatusOK Status = iota
	StatusErr
	StatusLocked
	// StatusQueued is reserved for future use; no operation returns it today.
	StatusQueued
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusErr:
		return "ERR"
	case StatusLocked:
		return "LOCKED"
	case StatusQueued:
		return "QUEUED"
	default:
		return "UNKNOWN"
	}
}

// Result is the envelope every operation returns.
type Result struct {
	Status Status
	Value  string // resource key / skill name on OK, human-readable detail on Err
}

func ok(value string) Result       { return Result{Status: StatusOK, Value: value} }
func errResult(msg string) Result  { return Result{Status: StatusErr, Value: msg} }
func lockedResult() Result         { return Result{Status: StatusLocked} }
func wrapf(op, msg string) Result  { return errResult(fmt.Sprintf("%s - %s", op, msg)) }
func wraperr(op string, e error) Result {
	return errResult(fmt.Sprintf("%s - %s", op, e.Error()))
}

// Config tunes the lock budgets, configurable via internal/config and
// defaulting to the source's constants.
type Config struct {
	LockAcquireTimeout time.Duration
	LockHoldTTL        time.Duration
}

// DefaultConfig mirrors the source's LOCK_TIMEOUT=1s / BLOCK_TIME=100ms.
func DefaultConfig() Config {
	return Config{
		LockAcquireTimeout: 100 * time.Millisecond,
		LockHoldTTL:        1 * time.Second,
	}
}

// Ops wires the store to the agent- and contact-mutating operations.
type Ops struct {
	store  store.Store
	cfg    Config
	logger *zap.Logger
}

// New constructs an Ops instance. logger defaults to a no-op logger, matching
// this codebase's other constructors (NewRedisTaskQueue, NewCoordinationService).
func New(s store.Store, cfg Config, logger *zap.Logger) *Ops {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ops{store: s, cfg: cfg, logger: logger}
}

// withAgentLock acquires the per-agent advisory lock, runs fn, and always
// releases it. Returns lockedResult() if the lock could not be acquired
// within the configured blocking budget.
func (o *Ops) withAgentLock(ctx context.Context, agentKey string, fn func() Result) Result {
	unlock, acquired, err := o.store.Lock(ctx, model.LockKey(agentKey), o.cfg.LockAcquireTimeout, o.cfg.LockHoldTTL)
	if err != nil {
		return wraperr("lock", err)
	}
	if !acquired {
		return lockedResult()
	}
	defer func() {
		if uerr := unlock(ctx); uerr != nil {
			o.logger.Warn("failed to release agent lock", zap.String("agent", agentKey), zap.Error(uerr))
		}
	}()
	return fn()
}

// nowMS is the millisecond-resolution timestamp used as every ordered-set
// score, both the queue and the per-skill availability indexes.
func nowMS() float64 {
	return float64(time.Now().UnixMilli())
}

// CreateContact writes a new QUEUED contact and enqueues it.
func (o *Ops) CreateContact(ctx context.Context, skills []string) Result {
	const op = "create_contact"
	if len(skills) == 0 {
		return wrapf(op, "skills must be non-empty")
	}

	contactKey := model.ContactKey(uuid.NewString())
	contact := model.Contact{Skills: skills, State: model.ContactQueued}

	if err := o.store.JSONSet(ctx, contactKey, contact); err != nil {
		return wraperr(op, err)
	}
	if err := o.store.ZAdd(ctx, model.QueueKey, contactKey, nowMS()); err != nil {
		return wraperr(op, err)
	}

	o.logger.Info("contact created", zap.String("contact", contactKey), zap.Strings("skills", skills))
	return ok(contactKey)
}

// CompleteContact marks a contact COMPLETE and schedules its expiry. It
// never removes the contact from the queue, an in-flight dispatcher pop
// observes COMPLETE and drops it instead.
func (o *Ops) CompleteContact(ctx context.Context, contactKey string) Result {
	const op = "complete_contact"

	if err := o.store.JSONSetField(ctx, contactKey, "state", model.ContactComplete); err != nil {
		return wraperr(op, err)
	}
	if err := o.store.Expire(ctx, contactKey, model.ContactTTLSeconds*time.Second); err != nil {
		return wraperr(op, err)
	}

	o.logger.Info("contact completed", zap.String("contact", contactKey))
	return ok(contactKey)
}

// GetContact fetches a contact document.
func (o *Ops) GetContact(ctx context.Context, contactKey string) (model.Contact, Result) {
	const op = "get_contact"

	var contact model.Contact
	if err := o.store.JSONGet(ctx, contactKey, &contact); err != nil {
		return model.Contact{}, wrapf(op, fmt.Sprintf("%s does not exist", contactKey))
	}
	return contact, ok(contactKey)
}

// CreateAgent creates a new agent, UNAVAILABLE by default, rejecting
// duplicate keys under the per-agent lock.
func (o *Ops) CreateAgent(ctx context.Context, agentKey, fname, lname string, skills []string) Result {
	const op = "create_agent"

	return o.withAgentLock(ctx, agentKey, func() Result {
		exists, err := o.store.Exists(ctx, agentKey)
		if err != nil {
			return wraperr(op, err)
		}
		if exists {
			return wrapf(op, fmt.Sprintf("agent %s already exists", agentKey))
		}

		agent := model.Agent{
			ID:     agentKey,
			FName:  fname,
			LName:  lname,
			Skills: append([]string(nil), skills...),
			State:  model.AgentUnavailable,
		}
		if err := o.store.JSONSet(ctx, agentKey, agent); err != nil {
			return wraperr(op, err)
		}

		o.logger.Info("agent created", zap.String("agent", agentKey), zap.Strings("skills", skills))
		return ok(agentKey)
	})
}

// DeleteAgent removes an agent from every skill availability index and
// deletes its document.
func (o *Ops) DeleteAgent(ctx context.Context, agentKey string) Result {
	const op = "delete_agent"

	return o.withAgentLock(ctx, agentKey, func() Result {
		exists, err := o.store.Exists(ctx, agentKey)
		if err != nil {
			return wraperr(op, err)
		}
		if !exists {
			return wrapf(op, fmt.Sprintf("agent %s does not exist", agentKey))
		}

		var skills []string
		if err := o.store.JSONGetField(ctx, agentKey, "skills", &skills); err != nil {
			return wraperr(op, err)
		}
		for _, s := range skills {
			if err := o.store.ZRem(ctx, model.AvailSkillKey(s), agentKey); err != nil {
				return wraperr(op, err)
			}
		}
		if err := o.store.Delete(ctx, agentKey); err != nil {
			return wraperr(op, err)
		}

		o.logger.Info("agent deleted", zap.String("agent", agentKey))
		return ok(agentKey)
	})
}

// SetAgentState transitions an agent between AVAILABLE and UNAVAILABLE. This
// is both a REST-exposed operation and the dispatcher's atomic claim
// primitive: the first caller to flip an agent to UNAVAILABLE "wins" it,
// because the lock serializes all transitions of that agent.
//
// A no-op transition (already in the requested state) is reported as ERR.
// This is deliberate: the dispatcher relies on the ERR to detect that
// another claim attempt already won this agent.
func (o *Ops) SetAgentState(ctx context.Context, agentKey string, target model.AgentState) Result {
	const op = "set_agent_state"

	if !model.ValidAgentState(target) {
		return wrapf(op, "invalid agent state parameter")
	}

	return o.withAgentLock(ctx, agentKey, func() Result {
		var agent model.Agent
		if err := o.store.JSONGet(ctx, agentKey, &agent); err != nil {
			return wrapf(op, fmt.Sprintf("%s does not exist", agentKey))
		}

		if agent.State == target {
			return wrapf(op, fmt.Sprintf("%s already in %s", agentKey, target))
		}

		switch target {
		case model.AgentAvailable:
			score := nowMS()
			for _, s := range agent.Skills {
				if err := o.store.ZAdd(ctx, model.AvailSkillKey(s), agentKey, score); err != nil {
					return wraperr(op, err)
				}
			}
		case model.AgentUnavailable:
			// Removal precedes the JSON state flip so an agent is never
			// observably both UNAVAILABLE and still present in an
			// availability index.
			for _, s := range agent.Skills {
				if err := o.store.ZRem(ctx, model.AvailSkillKey(s), agentKey); err != nil {
					return wraperr(op, err)
				}
			}
		}

		if err := o.store.JSONSetField(ctx, agentKey, "state", target); err != nil {
			return wraperr(op, err)
		}

		o.logger.Info("agent state changed", zap.String("agent", agentKey), zap.Stringer("state", target))
		return ok(agentKey)
	})
}

// ChangeAgentInfo updates an agent's display name. Not lock-guarded in the
// source (fname/lname never interact with the availability indexes), so
// this operation is not serialized against SetAgentState/claim; the store's
// per-field hash representation is what keeps that safe, a name patch can
// never clobber a concurrently-written state field.
func (o *Ops) ChangeAgentInfo(ctx context.Context, agentKey, fname, lname string) Result {
	const op = "change_agent_info"

	exists, err := o.store.Exists(ctx, agentKey)
	if err != nil {
		return wraperr(op, err)
	}
	if !exists {
		return wrapf(op, fmt.Sprintf("%s does not exist", agentKey))
	}

	if err := o.store.JSONMSetFields(ctx, agentKey, map[string]any{"fname": fname, "lname": lname}); err != nil {
		return wraperr(op, err)
	}
	return ok(agentKey)
}

// AddAgentSkill appends a skill to an agent and, if the agent is currently
// AVAILABLE, immediately adds it to that skill's availability index.
func (o *Ops) AddAgentSkill(ctx context.Context, agentKey, skill string) Result {
	const op = "add_agent_skill"

	return o.withAgentLock(ctx, agentKey, func() Result {
		exists, err := o.store.Exists(ctx, agentKey)
		if err != nil {
			return wraperr(op, err)
		}
		if !exists {
			return wrapf(op, fmt.Sprintf("%s does not exist", agentKey))
		}

		if err := o.store.JSONArrAppend(ctx, agentKey, "skills", skill); err != nil {
			return wraperr(op, err)
		}

		var state model.AgentState
		if err := o.store.JSONGetField(ctx, agentKey, "state", &state); err != nil {
			return wraperr(op, err)
		}
		if state == model.AgentAvailable {
			if err := o.store.ZAdd(ctx, model.AvailSkillKey(skill), agentKey, nowMS()); err != nil {
				return wraperr(op, err)
			}
		}

		o.logger.Info("agent skill added", zap.String("agent", agentKey), zap.String("skill", skill))
		return ok(agentKey)
	})
}

// DeleteAgentSkill removes a skill from an agent and its availability
// index, erroring if the agent does not currently hold that skill.
func (o *Ops) DeleteAgentSkill(ctx context.Context, agentKey, skill string) Result {
	const op = "delete_agent_skill"

	return o.withAgentLock(ctx, agentKey, func() Result {
		exists, err := o.store.Exists(ctx, agentKey)
		if err != nil {
			return wraperr(op, err)
		}
		if !exists {
			return wrapf(op, fmt.Sprintf("%s does not exist", agentKey))
		}

		idx, err := o.store.JSONArrIndex(ctx, agentKey, "skills", skill)
		if err != nil {
			return wraperr(op, err)
		}
		if idx < 0 {
			return wrapf(op, fmt.Sprintf("agent does not have skill %s", skill))
		}

		if err := o.store.JSONArrPop(ctx, agentKey, "skills", idx); err != nil {
			return wraperr(op, err)
		}
		if err := o.store.ZRem(ctx, model.AvailSkillKey(skill), agentKey); err != nil {
			return wraperr(op, err)
		}

		return ok(agentKey)
	})
}

// DeleteSkill removes a skill's availability index entirely and cascades
// the removal to every agent currently holding it. Not globally locked: a
// concurrent AddAgentSkill(skill) may leave an agent holding a skill whose
// index key was just deleted. SetAgentState(AVAILABLE) self-heals this by
// recreating index membership from the agent's current skill list.
func (o *Ops) DeleteSkill(ctx context.Context, skill string) Result {
	const op = "delete_skill"

	if err := o.store.Delete(ctx, model.AvailSkillKey(skill)); err != nil {
		return wraperr(op, err)
	}

	agentKeys, err := o.store.Scan(ctx, "agent:")
	if err != nil {
		return wraperr(op, err)
	}
	for _, agentKey := range agentKeys {
		// Absence of the skill on a given agent is an expected, ignorable
		// outcome of the cascade, matching the source's delete_skill loop.
		o.DeleteAgentSkill(ctx, agentKey, skill)
	}

	return ok(skill)
}

// SetACDState opens or closes the whole distributor by bulk-transitioning
// every agent. Per-agent ERR/LOCKED is swallowed, this is a best-effort
// bulk operation.
func (o *Ops) SetACDState(ctx context.Context, target model.ACDState) Result {
	const op = "set_acd_state"

	if !model.ValidACDState(target) {
		return wrapf(op, "invalid acd state")
	}

	var agentTarget model.AgentState
	switch target {
	case model.ACDOpen:
		agentTarget = model.AgentAvailable
	case model.ACDClosed:
		agentTarget = model.AgentUnavailable
	}

	agentKeys, err := o.store.Scan(ctx, "agent:")
	if err != nil {
		return wraperr(op, err)
	}
	for _, agentKey := range agentKeys {
		o.SetAgentState(ctx, agentKey, agentTarget)
	}

	o.logger.Info("acd state changed", zap.Stringer("state", target), zap.Int("agents", len(agentKeys)))
	return ok(target.String())
}
