// Package model defines the ACD data model: contacts, agents, and the
// state encodings and key-naming conventions that bind them to the store.
package model

import (
	"fmt"
)

// AgentState is an agent's availability.
type AgentState int

const (
	AgentUnavailable AgentState = 0
	AgentAvailable   AgentState = 1
)

func (s AgentState) String() string {
	switch s {
	case AgentAvailable:
		return "AVAILABLE"
	case AgentUnavailable:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("AgentState(%d)", int(s))
	}
}

// ValidAgentState reports whether s is one of the two defined agent states.
func ValidAgentState(s AgentState) bool {
	return s == AgentAvailable || s == AgentUnavailable
}

// ACDState is the open/closed state of the whole distributor.
type ACDState int

const (
	ACDClosed ACDState = 0
	ACDOpen   ACDState = 1
)

func (s ACDState) String() string {
	switch s {
	case ACDOpen:
		return "OPEN"
	case ACDClosed:
		return "CLOSED"
	default:
		return fmt.Sprintf("ACDState(%d)", int(s))
	}
}

// ValidACDState reports whether s is one of the two defined ACD states.
func ValidACDState(s ACDState) bool {
	return s == ACDOpen || s == ACDClosed
}

// ContactState is a contact's position in its lifecycle.
type ContactState int

const (
	ContactQueued   ContactState = 1
	ContactAssigned ContactState = 2
	ContactComplete ContactState = 3
)

func (s ContactState) String() string {
	switch s {
	case ContactQueued:
		return "QUEUED"
	case ContactAssigned:
		return "ASSIGNED"
	case ContactComplete:
		return "COMPLETE"
	default:
		return fmt.Sprintf("ContactState(%d)", int(s))
	}
}

// Contact is a unit of work awaiting or assigned to an agent.
type Contact struct {
	Skills []string     `json:"skills"`
	State  ContactState `json:"state"`
	Agent  string       `json:"agent,omitempty"`
}

// Agent is a worker with possessed skills and an availability state.
type Agent struct {
	ID     string     `json:"id"`
	FName  string     `json:"fname"`
	LName  string     `json:"lname"`
	Skills []string   `json:"skills"`
	State  AgentState `json:"state"`
}

// HasSkill reports whether the agent currently possesses skill s.
func (a *Agent) HasSkill(s string) bool {
	for _, sk := range a.Skills {
		if sk == s {
			return true
		}
	}
	return false
}

// SkillIndex returns the position of skill s in a.Skills, or -1 if absent.
func (a *Agent) SkillIndex(s string) int {
	for i, sk := range a.Skills {
		if sk == s {
			return i
		}
	}
	return -1
}

// ContactKey returns the store key for a contact with the given uuid.
func ContactKey(id string) string {
	return "contact:" + id
}

// AgentKey returns the store key for an agent id.
func AgentKey(id string) string {
	return "agent:" + id
}

// LockKey returns the advisory-lock key guarding mutation of agentKey.
func LockKey(agentKey string) string {
	return "lock:" + agentKey
}

// QueueKey is the single FIFO ordered set of queued contacts.
const QueueKey = "queue"

// AvailSkillKey returns the co-located availability index key for a skill.
// All skill indexes share the {ACD} hash tag so zInter can intersect them
// on a single shard.
func AvailSkillKey(skill string) string {
	return "avail:{ACD}:" + skill
}

// ContactTTLSeconds is how long a completed contact's record lingers
// before expiry.
const ContactTTLSeconds = 3600
