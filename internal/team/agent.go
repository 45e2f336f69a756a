// ABOUTME: Agent capability interface for turn-taking conversation members
// ABOUTME: A turn is a lazy finite stream of fragments ending in a Done event

package team

import (
	"context"
	"encoding/json"
	"fmt"
)

// TurnEvent is one event produced during an agent's turn. Fragments
// arrive in emission order; the final event has Done set and carries the
// full-turn Message plus the agent's updated state. A failed turn has
// Err set on its final event.
type TurnEvent struct {
	Fragment string
	Message  *Message
	State    json.RawMessage
	Err      error
	Done     bool
}

// Agent is a turn-producer in the conversation team. Take is invoked
// with the full history and the agent's own prior state blob; the
// returned channel is finite, non-restartable, and closed after Done.
type Agent interface {
	Name() string
	Take(ctx context.Context, history []Message, state json.RawMessage) (<-chan TurnEvent, error)
}

// AgentError reports a failed agent turn
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
