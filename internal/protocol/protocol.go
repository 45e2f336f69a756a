// ABOUTME: Wire-level event envelope and payload types for the realtime channel
// ABOUTME: Every frame on the socket is a named JSON event with a structured payload

package protocol

import "encoding/json"

// Inbound event names. The dispatcher matches on this closed set; anything
// else is a validation failure.
const (
	EventConnect           = "connect"
	EventChat              = "chat"
	EventSoulcareChat      = "soulcare_chat"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventDisconnect        = "disconnect"
)

// Outbound event names.
const (
	EventConnected          = "connected"
	EventTaskCreated        = "task_created"
	EventTaskMessage        = "task_message"
	EventTaskUpdated        = "task_updated"
	EventConversation       = "conversation"
	EventJoinedConversation = "joined_conversation"
	EventLeftConversation   = "left_conversation"
	EventError              = "error"
)

// Task message lifecycle markers carried in TaskMessagePayload.Type.
const (
	TaskMessageStart    = "start"
	TaskMessageStream   = "stream"
	TaskMessageComplete = "complete"
	TaskMessageError    = "error"
)

// Event is the envelope for every frame exchanged over the connection.
// Data is left raw on the inbound side so the dispatcher can decode it
// against the payload type selected by Name.
type Event struct {
	Name string          `json:"event"`
	Data json.RawMessage `json:"data,omitempty"`
}

// New builds an outbound event, marshaling the payload. A payload that
// fails to marshal is a programming error; the event is emitted with an
// empty body rather than dropped.
func New(name string, payload any) *Event {
	if payload == nil {
		return &Event{Name: name}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &Event{Name: name}
	}
	return &Event{Name: name, Data: data}
}

// Decode unmarshals the event's payload into out.
func (e *Event) Decode(out any) error {
	return json.Unmarshal(e.Data, out)
}

// ConnectPayload carries the bearer token presented at connect time.
type ConnectPayload struct {
	AuthToken string `json:"auth_token" validate:"required"`
}

// ChatPayload is shared by the plain chat and soulcare_chat events.
type ChatPayload struct {
	Message        string            `json:"message" validate:"required"`
	ConversationID string            `json:"conversation_id,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// ConversationRefPayload identifies a conversation room to join or leave.
type ConversationRefPayload struct {
	ConversationID string `json:"conversation_id" validate:"required"`
}

// UserInfo is the identity echoed back on successful authentication.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ConnectedPayload acknowledges a successful connect.
type ConnectedPayload struct {
	Message string   `json:"message"`
	User    UserInfo `json:"user"`
}

// TaskCreatedPayload announces that an orchestrator run has been accepted.
type TaskCreatedPayload struct {
	TaskID         string `json:"task_id"`
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// TaskMessageData is the inner body of a task_message event.
type TaskMessageData struct {
	Message string `json:"message"`
	Agent   string `json:"agent,omitempty"`
}

// TaskMessagePayload is one streamed fragment or lifecycle marker of a run.
type TaskMessagePayload struct {
	TaskID string          `json:"task_id"`
	Type   string          `json:"type"`
	Data   TaskMessageData `json:"data"`
}

// TaskUpdatedPayload reports the final task status after a run ends.
type TaskUpdatedPayload struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// AssistantResponse is one backend reply on the plain chat path.
type AssistantResponse struct {
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// ConversationPayload is the plain chat path result.
type ConversationPayload struct {
	TaskID             string              `json:"task_id"`
	ConversationID     string              `json:"conversation_id"`
	UserMessage        string              `json:"user_message"`
	AssistantResponses []AssistantResponse `json:"assistant_responses"`
}

// RoomAckPayload acknowledges joining or leaving a conversation room.
type RoomAckPayload struct {
	ConversationID string `json:"conversation_id"`
	Message        string `json:"message"`
}

// ErrorPayload reports any failure back to the client.
type ErrorPayload struct {
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}
