// ABOUTME: Connection-facing event dispatcher composing sessions, rooms, and the orchestrator
// ABOUTME: Validates inbound events, enforces authorization, and streams run output to rooms

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/soulgate/soulgate/internal/auth"
	"github.com/soulgate/soulgate/internal/chat"
	"github.com/soulgate/soulgate/internal/protocol"
	"github.com/soulgate/soulgate/internal/room"
	"github.com/soulgate/soulgate/internal/session"
	"github.com/soulgate/soulgate/internal/store"
	"github.com/soulgate/soulgate/internal/team"
)

var validate = validator.New()

// ErrAuthRequired is returned when a non-connect event arrives on an
// unauthenticated connection
var ErrAuthRequired = errors.New("not authenticated")

// ErrRunActive is returned when a conversation already has a run in flight
var ErrRunActive = errors.New("a run is already active for this conversation")

const titleMaxLen = 60

// Dispatcher handles the inbound event protocol for every connection.
// Events for one connection are handled serially by its read loop;
// the dispatcher itself is safe for concurrent use across connections.
type Dispatcher struct {
	auth       *auth.Service
	sessions   *session.Registry
	rooms      *room.Manager
	store      store.Store
	state      *team.StateStore
	orch       *team.Orchestrator
	chat       chat.Backend
	runTimeout time.Duration
	logger     *slog.Logger

	activeMu sync.Mutex
	active   map[string]bool // conversation IDs with a run in flight

	runs sync.WaitGroup
}

// New creates a dispatcher over the given collaborators
func New(
	authSvc *auth.Service,
	sessions *session.Registry,
	rooms *room.Manager,
	st store.Store,
	state *team.StateStore,
	orch *team.Orchestrator,
	chatBackend chat.Backend,
	runTimeout time.Duration,
) *Dispatcher {
	if runTimeout <= 0 {
		runTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		auth:       authSvc,
		sessions:   sessions,
		rooms:      rooms,
		store:      st,
		state:      state,
		orch:       orch,
		chat:       chatBackend,
		runTimeout: runTimeout,
		logger:     slog.Default().With("component", "dispatch"),
		active:     make(map[string]bool),
	}
}

// HandleEvent processes one inbound event from a connection. A non-nil
// error means the connection should be closed; protocol-level failures
// are reported to the client as error events instead.
func (d *Dispatcher) HandleEvent(ctx context.Context, sender room.Sender, evt *protocol.Event) error {
	switch evt.Name {
	case protocol.EventConnect:
		return d.handleConnect(ctx, sender, evt)
	case protocol.EventChat:
		d.handleChat(ctx, sender, evt)
	case protocol.EventSoulcareChat:
		d.handleSoulcareChat(ctx, sender, evt)
	case protocol.EventJoinConversation:
		d.handleJoinConversation(ctx, sender, evt)
	case protocol.EventLeaveConversation:
		d.handleLeaveConversation(ctx, sender, evt)
	case protocol.EventDisconnect:
		d.HandleDisconnect(sender.ConnectionID())
	default:
		d.sendError(sender, "unknown event", fmt.Sprintf("unsupported event %q", evt.Name))
	}
	return nil
}

// HandleDisconnect tears down a connection's session and room
// membership. Idempotent; in-flight runs are unaffected.
func (d *Dispatcher) HandleDisconnect(connectionID string) {
	d.rooms.RemoveConnection(connectionID)
	d.sessions.Unregister(connectionID)
}

// Wait blocks until all in-flight orchestrator runs finish. Used at
// shutdown so snapshots are persisted before exit.
func (d *Dispatcher) Wait() {
	d.runs.Wait()
}

func (d *Dispatcher) handleConnect(ctx context.Context, sender room.Sender, evt *protocol.Event) error {
	var payload protocol.ConnectPayload
	if err := decode(evt, &payload); err != nil {
		d.sendError(sender, "invalid connect payload", err.Error())
		return fmt.Errorf("connect rejected: %w", err)
	}

	user, err := d.auth.Authenticate(ctx, payload.AuthToken)
	if err != nil {
		d.logger.Warn("authentication failed", "connection_id", sender.ConnectionID(), "error", err)
		d.sendError(sender, "authentication failed", err.Error())
		return fmt.Errorf("connect rejected: %w", err)
	}

	// Re-authentication replaces the identity outright: the connection
	// must not keep the previous user's room memberships
	if _, err := d.sessions.Lookup(sender.ConnectionID()); err == nil {
		d.rooms.RemoveConnection(sender.ConnectionID())
	}

	d.sessions.Register(sender.ConnectionID(), user.ID, user.Username)
	d.rooms.Join(room.UserRoom(user.ID), sender)

	sender.Send(protocol.New(protocol.EventConnected, protocol.ConnectedPayload{
		Message: "connected",
		User:    protocol.UserInfo{ID: user.ID, Username: user.Username, Email: user.Email},
	}))
	return nil
}

func (d *Dispatcher) handleChat(ctx context.Context, sender room.Sender, evt *protocol.Event) {
	sess, ok := d.requireSession(sender)
	if !ok {
		return
	}

	var payload protocol.ChatPayload
	if err := decode(evt, &payload); err != nil {
		d.sendError(sender, "invalid chat payload", err.Error())
		return
	}

	conv, err := d.ensureConversation(ctx, sess.UserID, payload.ConversationID, payload.Message)
	if err != nil {
		d.sendError(sender, "conversation unavailable", err.Error())
		return
	}

	// The chat path writes the same snapshot the orchestrator does, so
	// it takes the same per-conversation run slot
	if !d.acquireRun(conv.ID) {
		d.sendError(sender, "conversation busy", ErrRunActive.Error())
		return
	}
	defer d.releaseRun(conv.ID)

	snap, err := d.loadOrInitSnapshot(ctx, conv.ID)
	if err != nil {
		d.sendError(sender, "conversation state unavailable", err.Error())
		return
	}

	task := d.newTask(ctx, conv.ID, sess.UserID)

	reply, err := d.chat.Reply(ctx, snap.Messages, payload.Message)
	if err != nil {
		d.logger.Error("chat backend failed", "conversation_id", conv.ID, "error", err)
		d.failTask(ctx, task, err.Error())
		d.sendError(sender, "chat failed", err.Error())
		d.emitTaskUpdated(sess.UserID, task.ID, store.TaskStatusFailed, err.Error())
		return
	}

	now := time.Now().UTC()
	snap.Append(team.Message{Role: team.RoleUser, Content: payload.Message, Metadata: payload.Metadata, Timestamp: now})
	snap.Append(team.Message{Role: team.RoleAgent, AgentName: "assistant", Content: reply, Timestamp: now})
	snap.Status = team.StatusAwaitingUser
	if err := d.state.Save(ctx, snap); err != nil {
		d.logger.Error("persisting chat exchange failed", "conversation_id", conv.ID, "error", err)
	}
	d.completeTask(ctx, task, reply)
	d.touch(ctx, conv.ID)

	d.rooms.BroadcastRooms(protocol.New(protocol.EventConversation, protocol.ConversationPayload{
		TaskID:         task.ID,
		ConversationID: conv.ID,
		UserMessage:    payload.Message,
		AssistantResponses: []protocol.AssistantResponse{
			{Content: reply, Timestamp: now.Format(time.RFC3339)},
		},
	}), room.UserRoom(sess.UserID), room.ConversationRoom(conv.ID))
}

func (d *Dispatcher) handleSoulcareChat(ctx context.Context, sender room.Sender, evt *protocol.Event) {
	sess, ok := d.requireSession(sender)
	if !ok {
		return
	}

	var payload protocol.ChatPayload
	if err := decode(evt, &payload); err != nil {
		d.sendError(sender, "invalid chat payload", err.Error())
		return
	}

	conv, err := d.ensureConversation(ctx, sess.UserID, payload.ConversationID, payload.Message)
	if err != nil {
		d.sendError(sender, "conversation unavailable", err.Error())
		return
	}

	if !d.acquireRun(conv.ID) {
		d.sendError(sender, "conversation busy", ErrRunActive.Error())
		return
	}

	task := d.newTask(ctx, conv.ID, sess.UserID)

	d.rooms.BroadcastRooms(protocol.New(protocol.EventTaskCreated, protocol.TaskCreatedPayload{
		TaskID:         task.ID,
		ConversationID: conv.ID,
		Message:        "task accepted",
	}), room.UserRoom(sess.UserID), room.ConversationRoom(conv.ID))

	// The run is detached from the connection: a disconnect stops
	// delivery, not the run itself.
	d.runs.Add(1)
	go func() {
		defer d.runs.Done()
		defer d.releaseRun(conv.ID)

		runCtx, cancel := context.WithTimeout(context.Background(), d.runTimeout)
		defer cancel()
		d.runTeam(runCtx, sess.UserID, conv.ID, task, payload)
	}()
}

// runTeam drives one orchestrator pass and reports its lifecycle as
// task_message / task_updated events
func (d *Dispatcher) runTeam(ctx context.Context, userID, conversationID string, task *store.Task, payload protocol.ChatPayload) {
	targets := []string{room.UserRoom(userID), room.ConversationRoom(conversationID)}

	emitTask := func(msgType string, data protocol.TaskMessageData) {
		d.rooms.BroadcastRooms(protocol.New(protocol.EventTaskMessage, protocol.TaskMessagePayload{
			TaskID: task.ID,
			Type:   msgType,
			Data:   data,
		}), targets...)
	}

	snap, err := d.loadOrInitSnapshot(ctx, conversationID)
	if err != nil {
		// Never start from empty history on a load fault: abort the run
		d.logger.Error("snapshot load failed, aborting run",
			"conversation_id", conversationID, "task_id", task.ID, "error", err)
		d.failTask(ctx, task, err.Error())
		emitTask(protocol.TaskMessageError, protocol.TaskMessageData{Message: "conversation state unavailable"})
		d.emitRunError(userID, "conversation state unavailable", err.Error())
		d.emitTaskUpdated(userID, task.ID, store.TaskStatusFailed, err.Error())
		return
	}

	d.updateTask(ctx, task, store.TaskStatusInProgress, "")
	emitTask(protocol.TaskMessageStart, protocol.TaskMessageData{Message: "run started"})

	var lastAgent, lastText string
	runErr := d.orch.Run(ctx, snap, payload.Message, payload.Metadata, func(ev team.RunEvent) {
		switch ev.Kind {
		case team.RunEventStream:
			emitTask(protocol.TaskMessageStream, protocol.TaskMessageData{Message: ev.Text, Agent: ev.Agent})
		case team.RunEventTurnDone:
			lastAgent, lastText = ev.Agent, ev.Text
		}
	})

	// Persist whatever the run produced, including partial progress on
	// failure, so a retry resumes from the last successful turn
	if err := d.state.Save(ctx, snap); err != nil {
		d.logger.Error("snapshot save failed", "conversation_id", conversationID, "error", err)
	}
	d.touch(ctx, conversationID)

	if runErr != nil {
		d.logger.Error("run failed", "conversation_id", conversationID, "task_id", task.ID, "error", runErr)
		d.failTask(ctx, task, runErr.Error())
		emitTask(protocol.TaskMessageError, protocol.TaskMessageData{Message: runErr.Error()})
		d.emitRunError(userID, "run failed", runErr.Error())
		d.emitTaskUpdated(userID, task.ID, store.TaskStatusFailed, runErr.Error())
		return
	}

	d.completeTask(ctx, task, lastText)
	emitTask(protocol.TaskMessageComplete, protocol.TaskMessageData{Message: lastText, Agent: lastAgent})
	d.emitTaskUpdated(userID, task.ID, store.TaskStatusCompleted, "run completed")
}

func (d *Dispatcher) handleJoinConversation(ctx context.Context, sender room.Sender, evt *protocol.Event) {
	sess, ok := d.requireSession(sender)
	if !ok {
		return
	}

	var payload protocol.ConversationRefPayload
	if err := decode(evt, &payload); err != nil {
		d.sendError(sender, "invalid join payload", err.Error())
		return
	}

	conv, err := d.store.GetConversation(ctx, payload.ConversationID)
	if errors.Is(err, store.ErrNotFound) {
		d.sendError(sender, "conversation not found", "")
		return
	}
	if err != nil {
		d.sendError(sender, "conversation lookup failed", err.Error())
		return
	}
	if conv.UserID != sess.UserID {
		d.logger.Warn("unauthorized join attempt",
			"connection_id", sender.ConnectionID(),
			"user_id", sess.UserID,
			"conversation_id", conv.ID)
		d.sendError(sender, "not authorized for this conversation", "")
		return
	}

	d.rooms.Join(room.ConversationRoom(conv.ID), sender)
	sender.Send(protocol.New(protocol.EventJoinedConversation, protocol.RoomAckPayload{
		ConversationID: conv.ID,
		Message:        "joined conversation",
	}))
}

func (d *Dispatcher) handleLeaveConversation(ctx context.Context, sender room.Sender, evt *protocol.Event) {
	if _, ok := d.requireSession(sender); !ok {
		return
	}

	var payload protocol.ConversationRefPayload
	if err := decode(evt, &payload); err != nil {
		d.sendError(sender, "invalid leave payload", err.Error())
		return
	}

	d.rooms.Leave(room.ConversationRoom(payload.ConversationID), sender.ConnectionID())
	sender.Send(protocol.New(protocol.EventLeftConversation, protocol.RoomAckPayload{
		ConversationID: payload.ConversationID,
		Message:        "left conversation",
	}))
}

// ensureConversation resolves an existing conversation (checking
// ownership) or creates a fresh one when no id is given
func (d *Dispatcher) ensureConversation(ctx context.Context, userID, conversationID, firstMessage string) (*store.Conversation, error) {
	if conversationID != "" {
		conv, err := d.store.GetConversation(ctx, conversationID)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("conversation %s not found", conversationID)
		}
		if err != nil {
			return nil, err
		}
		if conv.UserID != userID {
			return nil, fmt.Errorf("conversation %s does not belong to this user", conversationID)
		}
		return conv, nil
	}

	now := time.Now().UTC()
	conv := &store.Conversation{
		ID:        uuid.New().String(),
		UserID:    userID,
		Title:     deriveTitle(firstMessage),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.CreateConversation(ctx, conv); err != nil {
		return nil, fmt.Errorf("creating conversation: %w", err)
	}
	return conv, nil
}

// loadOrInitSnapshot treats a missing snapshot as a fresh conversation
// but propagates genuine load faults
func (d *Dispatcher) loadOrInitSnapshot(ctx context.Context, conversationID string) (*team.Snapshot, error) {
	snap, err := d.state.Load(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return team.NewSnapshot(conversationID), nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

func (d *Dispatcher) requireSession(sender room.Sender) (*session.Session, bool) {
	sess, err := d.sessions.Lookup(sender.ConnectionID())
	if err != nil {
		d.sendError(sender, "not authenticated", ErrAuthRequired.Error())
		return nil, false
	}
	return sess, true
}

func (d *Dispatcher) acquireRun(conversationID string) bool {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	if d.active[conversationID] {
		return false
	}
	d.active[conversationID] = true
	return true
}

func (d *Dispatcher) releaseRun(conversationID string) {
	d.activeMu.Lock()
	defer d.activeMu.Unlock()
	delete(d.active, conversationID)
}

func (d *Dispatcher) newTask(ctx context.Context, conversationID, userID string) *store.Task {
	now := time.Now().UTC()
	task := &store.Task{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		CreatedBy:      userID,
		Status:         store.TaskStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := d.store.CreateTask(ctx, task); err != nil {
		d.logger.Error("creating task failed", "conversation_id", conversationID, "error", err)
	}
	return task
}

func (d *Dispatcher) updateTask(ctx context.Context, task *store.Task, status store.TaskStatus, result string) {
	task.Status = status
	task.Result = result
	if err := d.store.UpdateTaskStatus(ctx, task.ID, status, result); err != nil {
		d.logger.Error("updating task failed", "task_id", task.ID, "error", err)
	}
}

func (d *Dispatcher) completeTask(ctx context.Context, task *store.Task, result string) {
	d.updateTask(ctx, task, store.TaskStatusCompleted, result)
}

func (d *Dispatcher) failTask(ctx context.Context, task *store.Task, reason string) {
	d.updateTask(ctx, task, store.TaskStatusFailed, reason)
}

func (d *Dispatcher) touch(ctx context.Context, conversationID string) {
	if err := d.store.TouchConversation(ctx, conversationID); err != nil {
		d.logger.Debug("touching conversation failed", "conversation_id", conversationID, "error", err)
	}
}

func (d *Dispatcher) emitTaskUpdated(userID, taskID string, status store.TaskStatus, message string) {
	d.rooms.Broadcast(room.UserRoom(userID), protocol.New(protocol.EventTaskUpdated, protocol.TaskUpdatedPayload{
		TaskID:  taskID,
		Status:  string(status),
		Message: message,
	}))
}

// emitRunError reports a detached run's failure to the user's room,
// since the originating connection may be gone by the time it fails
func (d *Dispatcher) emitRunError(userID, message, detail string) {
	d.rooms.Broadcast(room.UserRoom(userID), protocol.New(protocol.EventError, protocol.ErrorPayload{
		Message: message,
		Error:   detail,
	}))
}

func (d *Dispatcher) sendError(sender room.Sender, message, detail string) {
	sender.Send(protocol.New(protocol.EventError, protocol.ErrorPayload{
		Message: message,
		Error:   detail,
	}))
}

// decode unmarshals and validates an event payload
func decode(evt *protocol.Event, out any) error {
	if len(evt.Data) == 0 {
		return errors.New("missing payload")
	}
	if err := evt.Decode(out); err != nil {
		return fmt.Errorf("malformed payload: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("invalid payload: %w", err)
	}
	return nil
}

// deriveTitle builds a conversation title from its first message.
// Truncation is rune-based so a multi-byte character never gets cut.
func deriveTitle(message string) string {
	title := strings.TrimSpace(message)
	if runes := []rune(title); len(runes) > titleMaxLen {
		title = strings.TrimSpace(string(runes[:titleMaxLen])) + "…"
	}
	if title == "" {
		title = "New conversation"
	}
	return title
}
