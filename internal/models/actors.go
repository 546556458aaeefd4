package models

import "strings"

// ActorType classifies the attributed source of a feed event.
type ActorType string

// Actor type constants.
const (
	ActorTypeSystem   ActorType = "system"
	ActorTypeUser     ActorType = "user"
	ActorTypeAgent    ActorType = "agent"
	ActorTypeSubagent ActorType = "subagent"
)

// Well-known actor ids. Subagent ids are built with SubagentActorID.
const (
	ActorSystem    = "system"
	ActorUser      = "user"
	ActorAgentRoot = "agent:root"
)

const subagentActorPrefix = "subagent:"

// Actor is a registered acting entity within one session.
type Actor struct {
	ID        string    `json:"id"`
	Type      ActorType `json:"type"`
	AgentType string    `json:"agent_type,omitempty"`
}

// SubagentActorID builds the actor id for a subagent.
func SubagentActorID(agentID string) string {
	return subagentActorPrefix + agentID
}

// SubagentIDFromActor extracts the raw agent id from a subagent actor id.
// Returns empty string for non-subagent actors.
func SubagentIDFromActor(actorID string) string {
	if !strings.HasPrefix(actorID, subagentActorPrefix) {
		return ""
	}
	return strings.TrimPrefix(actorID, subagentActorPrefix)
}
