package ops

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/aidenlippert/acd-dispatch/internal/model"
	"github.com/aidenlippert/acd-dispatch/internal/store"
)

func newTestOps(t *testing.T) *Ops {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	s := store.NewFromClient(client, nil)
	return New(s, Config{LockAcquireTimeout: 100 * time.Millisecond, LockHoldTTL: time.Second}, nil)
}

func TestCreateContact(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()

	res := o.CreateContact(ctx, []string{"English"})
	require.Equal(t, StatusOK, res.Status)

	contact, res := o.GetContact(ctx, res.Value)
	require.Equal(t, StatusOK, res.Status)
	require.Equal(t, model.ContactQueued, contact.State)
	require.Equal(t, []string{"English"}, contact.Skills)
}

func TestCreateContactRejectsEmptySkills(t *testing.T) {
	o := newTestOps(t)
	res := o.CreateContact(context.Background(), nil)
	require.Equal(t, StatusErr, res.Status)
}

func TestCompleteContact(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()

	created := o.CreateContact(ctx, []string{"English"})
	require.Equal(t, StatusOK, created.Status)

	res := o.CompleteContact(ctx, created.Value)
	require.Equal(t, StatusOK, res.Status)

	contact, _ := o.GetContact(ctx, created.Value)
	require.Equal(t, model.ContactComplete, contact.State)
}

func TestGetContactMissing(t *testing.T) {
	o := newTestOps(t)
	_, res := o.GetContact(context.Background(), "contact:does-not-exist")
	require.Equal(t, StatusErr, res.Status)
}

func TestCreateAgentRejectsDuplicate(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()

	res := o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English"})
	require.Equal(t, StatusOK, res.Status)

	res = o.CreateAgent(ctx, "agent:1", "Grace", "Hopper", []string{"Spanish"})
	require.Equal(t, StatusErr, res.Status)
}

func TestSetAgentStateAvailableThenUnavailable(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()

	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English"}).Status)

	res := o.SetAgentState(ctx, "agent:1", model.AgentAvailable)
	require.Equal(t, StatusOK, res.Status)

	members, err := o.store.ZInter(ctx, []string{model.AvailSkillKey("English")})
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "agent:1", members[0].Member)

	res = o.SetAgentState(ctx, "agent:1", model.AgentUnavailable)
	require.Equal(t, StatusOK, res.Status)

	members, err = o.store.ZInter(ctx, []string{model.AvailSkillKey("English")})
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestSetAgentStateNoOpIsErr(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", nil).Status)

	res := o.SetAgentState(ctx, "agent:1", model.AgentUnavailable)
	require.Equal(t, StatusErr, res.Status, "agent is already UNAVAILABLE by default")
}

func TestSetAgentStateInvalidValue(t *testing.T) {
	o := newTestOps(t)
	res := o.SetAgentState(context.Background(), "agent:1", model.AgentState(9))
	require.Equal(t, StatusErr, res.Status)
}

func TestDeleteAgentRemovesFromAvailabilityIndex(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()

	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English"}).Status)
	require.Equal(t, StatusOK, o.SetAgentState(ctx, "agent:1", model.AgentAvailable).Status)

	res := o.DeleteAgent(ctx, "agent:1")
	require.Equal(t, StatusOK, res.Status)

	members, err := o.store.ZInter(ctx, []string{model.AvailSkillKey("English")})
	require.NoError(t, err)
	require.Empty(t, members)

	exists, err := o.store.Exists(ctx, "agent:1")
	require.NoError(t, err)
	require.False(t, exists)
}

func TestChangeAgentInfo(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", nil).Status)

	res := o.ChangeAgentInfo(ctx, "agent:1", "Grace", "Hopper")
	require.Equal(t, StatusOK, res.Status)

	var agent model.Agent
	require.NoError(t, o.store.JSONGet(ctx, "agent:1", &agent))
	require.Equal(t, "Grace", agent.FName)
	require.Equal(t, "Hopper", agent.LName)
}

func TestAddAgentSkillAddsToAvailabilityIndexWhenAvailable(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English"}).Status)
	require.Equal(t, StatusOK, o.SetAgentState(ctx, "agent:1", model.AgentAvailable).Status)

	res := o.AddAgentSkill(ctx, "agent:1", "Billing")
	require.Equal(t, StatusOK, res.Status)

	members, err := o.store.ZInter(ctx, []string{model.AvailSkillKey("Billing")})
	require.NoError(t, err)
	require.Len(t, members, 1)
}

func TestDeleteAgentSkillRejectsUnknownSkill(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English"}).Status)

	res := o.DeleteAgentSkill(ctx, "agent:1", "Spanish")
	require.Equal(t, StatusErr, res.Status)
}

func TestDeleteAgentSkillRemovesFromIndex(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English", "Billing"}).Status)
	require.Equal(t, StatusOK, o.SetAgentState(ctx, "agent:1", model.AgentAvailable).Status)

	res := o.DeleteAgentSkill(ctx, "agent:1", "Billing")
	require.Equal(t, StatusOK, res.Status)

	members, err := o.store.ZInter(ctx, []string{model.AvailSkillKey("Billing")})
	require.NoError(t, err)
	require.Empty(t, members)
}

func TestDeleteSkillCascadesToAgents(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English", "Billing"}).Status)
	require.Equal(t, StatusOK, o.SetAgentState(ctx, "agent:1", model.AgentAvailable).Status)

	res := o.DeleteSkill(ctx, "Billing")
	require.Equal(t, StatusOK, res.Status)

	var agent model.Agent
	require.NoError(t, o.store.JSONGet(ctx, "agent:1", &agent))
	require.False(t, agent.HasSkill("Billing"))
}

func TestSetACDStateBulkTransitionsAgents(t *testing.T) {
	o := newTestOps(t)
	ctx := context.Background()
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:1", "Ada", "Lovelace", []string{"English"}).Status)
	require.Equal(t, StatusOK, o.CreateAgent(ctx, "agent:2", "Grace", "Hopper", []string{"English"}).Status)

	res := o.SetACDState(ctx, model.ACDOpen)
	require.Equal(t, StatusOK, res.Status)

	members, err := o.store.ZInter(ctx, []string{model.AvailSkillKey("English")})
	require.NoError(t, err)
	require.Len(t, members, 2)

	res = o.SetACDState(ctx, model.ACDClosed)
	require.Equal(t, StatusOK, res.Status)

	members, err = o.store.ZInter(ctx, []string{model.AvailSkillKey("English")})
	require.NoError(t, err)
	require.Empty(t, members)
}
