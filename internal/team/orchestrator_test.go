// ABOUTME: Tests for the turn-taking orchestrator
// ABOUTME: Covers selection determinism, streaming order, turn ceiling, and agent failure

package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulgate/soulgate/internal/model"
)

// newTestTeam builds an orchestrator with a scripted advisor and the
// catalog-backed recommender
func newTestTeam(advisorReplies ...string) (*Orchestrator, *model.ScriptedClient) {
	client := model.NewScriptedClient(advisorReplies...)
	advisor := NewLifeAdvisor(client)
	recommender := NewSongRecommender()
	selector := NewRosterSelector(advisor, recommender)
	return NewOrchestrator(selector, 0), client
}

func runAndCollect(t *testing.T, o *Orchestrator, snap *Snapshot, userMsg string) ([]RunEvent, error) {
	t.Helper()
	var events []RunEvent
	err := o.Run(t.Context(), snap, userMsg, nil, func(ev RunEvent) {
		events = append(events, ev)
	})
	return events, err
}

func TestOrchestrator_FullRound(t *testing.T) {
	o, _ := newTestTeam("It sounds like a lot is weighing on you. What part feels heaviest?")
	snap := NewSnapshot("conv-1")

	events, err := runAndCollect(t, o, snap, "I feel anxious about work")
	require.NoError(t, err)

	// One round: user -> advisor -> recommender -> handover
	assert.Equal(t, StatusAwaitingUser, snap.Status)
	assert.Equal(t, 2, snap.TurnIndex)
	assert.False(t, snap.Truncated)

	require.Len(t, snap.Messages, 3)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
	assert.Equal(t, AgentLifeAdvisor, snap.Messages[1].AgentName)
	assert.Equal(t, AgentSongRecommender, snap.Messages[2].AgentName)

	// Both agents stored state
	assert.Contains(t, snap.AgentStates, AgentLifeAdvisor)
	assert.Contains(t, snap.AgentStates, AgentSongRecommender)

	// Streamed fragments reassemble into the recorded turns, in order
	var advisorText, recommenderText string
	turnsDone := 0
	for _, ev := range events {
		switch ev.Kind {
		case RunEventStream:
			switch ev.Agent {
			case AgentLifeAdvisor:
				assert.Zero(t, turnsDone, "advisor fragments must precede its turn_done")
				advisorText += ev.Text
			case AgentSongRecommender:
				assert.Equal(t, 1, turnsDone, "recommender speaks after the advisor finishes")
				recommenderText += ev.Text
			}
		case RunEventTurnDone:
			turnsDone++
		}
	}
	assert.Equal(t, 2, turnsDone)
	assert.Equal(t, snap.Messages[1].Content, advisorText)
	assert.Equal(t, snap.Messages[2].Content, recommenderText)
}

func TestOrchestrator_Deterministic(t *testing.T) {
	const reply = "That sounds difficult. Tell me more about what changed."

	run := func() *Snapshot {
		o, _ := newTestTeam(reply)
		snap := NewSnapshot("conv-1")
		_, err := runAndCollect(t, o, snap, "I feel anxious lately")
		require.NoError(t, err)
		return snap
	}

	first := run()
	second := run()

	require.Len(t, second.Messages, len(first.Messages))
	for i := range first.Messages {
		assert.Equal(t, first.Messages[i].Role, second.Messages[i].Role)
		assert.Equal(t, first.Messages[i].AgentName, second.Messages[i].AgentName)
		assert.Equal(t, first.Messages[i].Content, second.Messages[i].Content)
	}
}

// loopSelector always selects the same agent, never handing over
type loopSelector struct{ agent Agent }

func (s *loopSelector) Next(history []Message) (Agent, bool) { return s.agent, true }

// echoAgent emits a single fragment per turn and never fails
type echoAgent struct{ name string }

func (a *echoAgent) Name() string { return a.name }

func (a *echoAgent) Take(ctx context.Context, history []Message, state json.RawMessage) (<-chan TurnEvent, error) {
	out := make(chan TurnEvent, 2)
	text := fmt.Sprintf("turn %d", len(history))
	out <- TurnEvent{Fragment: text}
	out <- TurnEvent{
		Done: true,
		Message: &Message{
			Role:      RoleAgent,
			AgentName: a.name,
			Content:   text,
			Timestamp: time.Now().UTC(),
		},
	}
	close(out)
	return out, nil
}

func TestOrchestrator_TurnCeiling(t *testing.T) {
	agent := &echoAgent{name: "Chatterbox"}
	o := NewOrchestrator(&loopSelector{agent: agent}, 4)
	snap := NewSnapshot("conv-1")

	_, err := runAndCollect(t, o, snap, "hello")
	require.NoError(t, err)

	assert.Equal(t, StatusAwaitingUser, snap.Status)
	assert.True(t, snap.Truncated)
	assert.Equal(t, 4, snap.TurnIndex)
	// user message + exactly maxTurns agent turns
	assert.Len(t, snap.Messages, 5)
}

func TestOrchestrator_AgentFailure(t *testing.T) {
	o, client := newTestTeam()
	client.Fail = errors.New("model unavailable")
	snap := NewSnapshot("conv-1")

	_, err := runAndCollect(t, o, snap, "I feel anxious")

	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, AgentLifeAdvisor, agentErr.Agent)

	assert.Equal(t, StatusFailed, snap.Status)
	assert.NotEmpty(t, snap.LastError)

	// The user message survives so a retry resumes from it
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, RoleUser, snap.Messages[0].Role)
}

func TestOrchestrator_ResumeAppendsOnly(t *testing.T) {
	o, _ := newTestTeam(
		"What part of work worries you most?",
		"Deadlines can feel relentless. What would ease the pressure?",
	)
	snap := NewSnapshot("conv-1")

	_, err := runAndCollect(t, o, snap, "I feel anxious about work")
	require.NoError(t, err)
	firstLen := len(snap.Messages)
	prefix := append([]Message(nil), snap.Messages...)

	_, err = runAndCollect(t, o, snap, "Mostly the deadlines")
	require.NoError(t, err)

	require.Greater(t, len(snap.Messages), firstLen)
	for i, msg := range prefix {
		assert.Equal(t, msg.Content, snap.Messages[i].Content, "prior history must not change")
		assert.Equal(t, msg.AgentName, snap.Messages[i].AgentName)
	}
}

func TestRosterSelector(t *testing.T) {
	advisor := &echoAgent{name: AgentLifeAdvisor}
	recommender := &echoAgent{name: AgentSongRecommender}
	sel := NewRosterSelector(advisor, recommender)

	// Empty history: nothing to respond to
	_, ok := sel.Next(nil)
	assert.False(t, ok)

	// User spoke: advisor goes first
	history := []Message{{Role: RoleUser, Content: "hi"}}
	next, ok := sel.Next(history)
	require.True(t, ok)
	assert.Equal(t, AgentLifeAdvisor, next.Name())

	// Advisor spoke: recommender follows
	history = append(history, Message{Role: RoleAgent, AgentName: AgentLifeAdvisor})
	next, ok = sel.Next(history)
	require.True(t, ok)
	assert.Equal(t, AgentSongRecommender, next.Name())

	// Recommender spoke: hand control back to the user
	history = append(history, Message{Role: RoleAgent, AgentName: AgentSongRecommender})
	_, ok = sel.Next(history)
	assert.False(t, ok)
}
