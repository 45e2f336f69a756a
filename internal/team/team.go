// ABOUTME: Core types for multi-agent conversation state
// ABOUTME: Messages, statuses, and the persisted conversation snapshot

package team

import (
	"encoding/json"
	"time"
)

// Role identifies who authored a conversation message
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Status is the lifecycle state of a conversation snapshot
type Status string

const (
	StatusActive       Status = "active"
	StatusAwaitingUser Status = "awaiting_user"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
)

// Message is one entry in a conversation's history. Messages are
// append-only; insertion order is the causal order.
type Message struct {
	Role      Role              `json:"role"`
	AgentName string            `json:"agent_name,omitempty"` // set iff Role == RoleAgent
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Snapshot is the full persisted state of one conversation's team
// progress. Agent states are opaque blobs stored back verbatim.
type Snapshot struct {
	ConversationID string                     `json:"conversation_id"`
	Messages       []Message                  `json:"messages"`
	AgentStates    map[string]json.RawMessage `json:"agent_states"`
	TurnIndex      int                        `json:"turn_index"`
	Status         Status                     `json:"status"`
	Truncated      bool                       `json:"truncated,omitempty"`
	LastError      string                     `json:"last_error,omitempty"`
}

// NewSnapshot creates an empty snapshot for a conversation
func NewSnapshot(conversationID string) *Snapshot {
	return &Snapshot{
		ConversationID: conversationID,
		AgentStates:    make(map[string]json.RawMessage),
		Status:         StatusAwaitingUser,
	}
}

// LastMessage returns the most recent message, or nil if none
func (s *Snapshot) LastMessage() *Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return &s.Messages[len(s.Messages)-1]
}

// Append adds a message to the history
func (s *Snapshot) Append(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	s.Messages = append(s.Messages, msg)
}
