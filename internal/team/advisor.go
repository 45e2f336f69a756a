// ABOUTME: LifeAdvisor agent providing empathetic guidance via a model client
// ABOUTME: Streams model output as fragments and tracks turn count in its state

package team

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/soulgate/soulgate/internal/model"
)

// AgentLifeAdvisor is the advisor agent's roster name
const AgentLifeAdvisor = "LifeAdvisor"

const advisorSystemPrompt = `You are an empathetic life advisor who helps users explore and understand their life situations.
Your role is to:
1. Ask thoughtful questions about their current situation
2. Listen actively and show understanding
3. Provide supportive and constructive feedback
4. Help them gain clarity about their challenges and goals`

// advisorState is the LifeAdvisor's private persisted state
type advisorState struct {
	Turns int `json:"turns"`
}

// LifeAdvisor produces guidance turns backed by a model client
type LifeAdvisor struct {
	client model.Client
	logger *slog.Logger
}

// NewLifeAdvisor creates the advisor agent
func NewLifeAdvisor(client model.Client) *LifeAdvisor {
	return &LifeAdvisor{
		client: client,
		logger: slog.Default().With("component", "team", "agent", AgentLifeAdvisor),
	}
}

// Name implements Agent
func (a *LifeAdvisor) Name() string { return AgentLifeAdvisor }

// Take runs one advisor turn over the conversation history
func (a *LifeAdvisor) Take(ctx context.Context, history []Message, state json.RawMessage) (<-chan TurnEvent, error) {
	var st advisorState
	if len(state) > 0 {
		if err := json.Unmarshal(state, &st); err != nil {
			return nil, fmt.Errorf("decoding advisor state: %w", err)
		}
	}

	req := &model.Request{
		System:   advisorSystemPrompt,
		Messages: promptFromHistory(history, AgentLifeAdvisor),
	}

	chunks, err := a.client.Stream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("starting advisor turn: %w", err)
	}

	out := make(chan TurnEvent, 16)
	go func() {
		defer close(out)

		var full strings.Builder
		for chunk := range chunks {
			if chunk.Err != nil {
				a.logger.Error("advisor turn failed", "error", chunk.Err)
				out <- TurnEvent{Done: true, Err: chunk.Err}
				return
			}
			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				out <- TurnEvent{Fragment: chunk.Text}
			}
			if chunk.Done {
				break
			}
		}

		st.Turns++
		newState, err := json.Marshal(st)
		if err != nil {
			out <- TurnEvent{Done: true, Err: fmt.Errorf("encoding advisor state: %w", err)}
			return
		}

		out <- TurnEvent{
			Done:  true,
			State: newState,
			Message: &Message{
				Role:      RoleAgent,
				AgentName: AgentLifeAdvisor,
				Content:   full.String(),
				Timestamp: time.Now().UTC(),
			},
		}
	}()
	return out, nil
}

// promptFromHistory maps conversation history into model messages.
// The agent's own turns become assistant messages; everything else is
// presented as user input, prefixed with the speaker where known.
func promptFromHistory(history []Message, selfName string) []model.Message {
	msgs := make([]model.Message, 0, len(history))
	for _, m := range history {
		switch {
		case m.Role == RoleAgent && m.AgentName == selfName:
			msgs = append(msgs, model.Message{Role: model.RoleAssistant, Content: m.Content})
		case m.Role == RoleAgent:
			msgs = append(msgs, model.Message{Role: model.RoleUser, Content: m.AgentName + ": " + m.Content})
		default:
			msgs = append(msgs, model.Message{Role: model.RoleUser, Content: m.Content})
		}
	}
	return msgs
}
