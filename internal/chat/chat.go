// ABOUTME: Plain chat backend for direct single-reply exchanges
// ABOUTME: Model-backed implementation that answers without the agent team

package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/soulgate/soulgate/internal/model"
	"github.com/soulgate/soulgate/internal/team"
)

const systemPrompt = `You are a warm, attentive companion. Reply directly and briefly to the user's message, staying supportive and concrete.`

// Backend produces a direct reply to a user message given the
// conversation so far
type Backend interface {
	Reply(ctx context.Context, history []team.Message, message string) (string, error)
}

// ModelBackend answers via a model client
type ModelBackend struct {
	client model.Client
	logger *slog.Logger
}

// NewModelBackend creates a chat backend over the given model client
func NewModelBackend(client model.Client) *ModelBackend {
	return &ModelBackend{
		client: client,
		logger: slog.Default().With("component", "chat"),
	}
}

// Reply sends the history plus the new message and collects the full reply
func (b *ModelBackend) Reply(ctx context.Context, history []team.Message, message string) (string, error) {
	msgs := make([]model.Message, 0, len(history)+1)
	for _, m := range history {
		role := model.RoleUser
		if m.Role == team.RoleAgent {
			role = model.RoleAssistant
		}
		if m.Content == "" {
			continue
		}
		msgs = append(msgs, model.Message{Role: role, Content: m.Content})
	}
	msgs = append(msgs, model.Message{Role: model.RoleUser, Content: message})

	chunks, err := b.client.Stream(ctx, &model.Request{System: systemPrompt, Messages: msgs})
	if err != nil {
		return "", fmt.Errorf("starting chat reply: %w", err)
	}

	var full strings.Builder
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", fmt.Errorf("chat reply: %w", chunk.Err)
		}
		full.WriteString(chunk.Text)
		if chunk.Done {
			break
		}
	}

	b.logger.Debug("chat reply produced", "length", full.Len())
	return full.String(), nil
}
