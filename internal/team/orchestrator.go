// ABOUTME: Turn-taking orchestrator driving one run of the agent team
// ABOUTME: Selects agents, streams their fragments, and enforces the turn ceiling

package team

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// DefaultMaxTurns bounds agent turns within a single run
const DefaultMaxTurns = 10

// RunEventKind classifies orchestrator events emitted during a run
type RunEventKind string

const (
	// RunEventStream is one streamed fragment of an agent's turn
	RunEventStream RunEventKind = "stream"
	// RunEventTurnDone marks the end of an agent's turn; Text carries
	// the full turn content
	RunEventTurnDone RunEventKind = "turn_done"
)

// RunEvent is one externally visible event produced during a run
type RunEvent struct {
	Kind  RunEventKind
	Agent string
	Text  string
}

// Orchestrator runs the turn-taking state machine over a snapshot.
// A run owns its snapshot exclusively; callers enforce the one-run-per-
// conversation rule.
type Orchestrator struct {
	selector Selector
	maxTurns int
	logger   *slog.Logger
}

// NewOrchestrator creates an orchestrator. maxTurns <= 0 uses the default.
func NewOrchestrator(selector Selector, maxTurns int) *Orchestrator {
	if maxTurns <= 0 {
		maxTurns = DefaultMaxTurns
	}
	return &Orchestrator{
		selector: selector,
		maxTurns: maxTurns,
		logger:   slog.Default().With("component", "orchestrator"),
	}
}

// Run appends the user message to the snapshot and drives agent turns
// until the selector hands control back to the user, the turn ceiling
// is hit, or an agent fails. Every event already emitted stays emitted;
// on failure the snapshot keeps all turns that completed before the
// fault so a retry can resume from there.
func (o *Orchestrator) Run(ctx context.Context, snap *Snapshot, userMessage string, metadata map[string]string, emit func(RunEvent)) error {
	if snap.AgentStates == nil {
		snap.AgentStates = make(map[string]json.RawMessage)
	}

	snap.Append(Message{
		Role:      RoleUser,
		Content:   userMessage,
		Metadata:  metadata,
		Timestamp: time.Now().UTC(),
	})
	snap.Status = StatusActive
	snap.Truncated = false
	snap.LastError = ""

	turns := 0
	for {
		if turns >= o.maxTurns {
			o.logger.Warn("turn ceiling reached",
				"conversation_id", snap.ConversationID,
				"max_turns", o.maxTurns)
			snap.Status = StatusAwaitingUser
			snap.Truncated = true
			return nil
		}

		agent, ok := o.selector.Next(snap.Messages)
		if !ok {
			snap.Status = StatusAwaitingUser
			return nil
		}

		if err := o.runTurn(ctx, snap, agent, emit); err != nil {
			snap.Status = StatusFailed
			snap.LastError = err.Error()
			return &AgentError{Agent: agent.Name(), Err: err}
		}
		snap.TurnIndex++
		turns++
	}
}

// runTurn consumes one agent turn, forwarding fragments in order
func (o *Orchestrator) runTurn(ctx context.Context, snap *Snapshot, agent Agent, emit func(RunEvent)) error {
	o.logger.Debug("agent turn starting",
		"conversation_id", snap.ConversationID,
		"agent", agent.Name())

	events, err := agent.Take(ctx, snap.Messages, snap.AgentStates[agent.Name()])
	if err != nil {
		return err
	}

	for ev := range events {
		if ev.Err != nil {
			return ev.Err
		}
		if ev.Fragment != "" {
			emit(RunEvent{Kind: RunEventStream, Agent: agent.Name(), Text: ev.Fragment})
		}
		if ev.Done {
			if ev.Message != nil {
				snap.Append(*ev.Message)
				emit(RunEvent{Kind: RunEventTurnDone, Agent: agent.Name(), Text: ev.Message.Content})
			}
			if ev.State != nil {
				snap.AgentStates[agent.Name()] = ev.State
			}
			return nil
		}
	}
	return nil
}
