// ABOUTME: Model client abstraction for streaming chat completions
// ABOUTME: Defines the Client interface plus a scripted client for tests and offline use

package model

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrScriptExhausted is returned when a scripted client runs out of replies
var ErrScriptExhausted = errors.New("no scripted replies left")

// Role identifies who authored a message in the prompt
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history sent to the model
type Message struct {
	Role    Role
	Content string
}

// Request is a single completion request
type Request struct {
	System    string
	Messages  []Message
	MaxTokens int
}

// Chunk is one fragment of a streamed completion. The final chunk has
// Done set; a failed stream carries Err on its final chunk.
type Chunk struct {
	Text string
	Done bool
	Err  error
}

// Client streams completions. The returned channel is closed after the
// Done chunk is delivered.
type Client interface {
	Stream(ctx context.Context, req *Request) (<-chan Chunk, error)
}

// ScriptedClient replays canned replies in order, streamed word by word.
// Used in tests and when no model provider is configured.
type ScriptedClient struct {
	mu      sync.Mutex
	replies []string
	next    int

	// Fail, when set, makes every stream end with this error.
	Fail error
}

// NewScriptedClient creates a client that replays the given replies
func NewScriptedClient(replies ...string) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

// Stream emits the next scripted reply as word-sized chunks
func (c *ScriptedClient) Stream(ctx context.Context, req *Request) (<-chan Chunk, error) {
	c.mu.Lock()
	fail := c.Fail
	var reply string
	if fail == nil {
		if c.next >= len(c.replies) {
			c.mu.Unlock()
			return nil, ErrScriptExhausted
		}
		reply = c.replies[c.next]
		c.next++
	}
	c.mu.Unlock()

	out := make(chan Chunk, 16)
	go func() {
		defer close(out)

		if fail != nil {
			out <- Chunk{Done: true, Err: fail}
			return
		}

		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			select {
			case out <- Chunk{Text: w}:
			case <-ctx.Done():
				out <- Chunk{Done: true, Err: ctx.Err()}
				return
			}
		}
		out <- Chunk{Done: true}
	}()
	return out, nil
}
