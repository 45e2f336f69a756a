// ABOUTME: Tests for the scripted model client
// ABOUTME: Covers chunked replay, exhaustion, failure injection, and cancellation

package model

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, ch <-chan Chunk) (string, error) {
	t.Helper()
	var b strings.Builder
	for chunk := range ch {
		if chunk.Done {
			return b.String(), chunk.Err
		}
		b.WriteString(chunk.Text)
	}
	t.Fatal("stream closed without a Done chunk")
	return "", nil
}

func TestScriptedClient_ReplaysInOrder(t *testing.T) {
	client := NewScriptedClient("first reply", "second reply")

	ch, err := client.Stream(t.Context(), &Request{})
	require.NoError(t, err)
	text, streamErr := collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, "first reply", text)

	ch, err = client.Stream(t.Context(), &Request{})
	require.NoError(t, err)
	text, streamErr = collect(t, ch)
	require.NoError(t, streamErr)
	assert.Equal(t, "second reply", text)
}

func TestScriptedClient_Exhausted(t *testing.T) {
	client := NewScriptedClient("only one")

	ch, err := client.Stream(t.Context(), &Request{})
	require.NoError(t, err)
	collect(t, ch)

	_, err = client.Stream(t.Context(), &Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
}

func TestScriptedClient_FailureInjection(t *testing.T) {
	client := NewScriptedClient("unused")
	client.Fail = errors.New("model unavailable")

	ch, err := client.Stream(t.Context(), &Request{})
	require.NoError(t, err)

	_, streamErr := collect(t, ch)
	assert.EqualError(t, streamErr, "model unavailable")
}

func TestScriptedClient_Cancellation(t *testing.T) {
	// A reply long enough to overflow the channel buffer
	client := NewScriptedClient(strings.Repeat("word ", 100))

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := client.Stream(ctx, &Request{})
	require.NoError(t, err)

	cancel()

	var sawDone bool
	for chunk := range ch {
		if chunk.Done {
			sawDone = true
			if chunk.Err != nil {
				assert.ErrorIs(t, chunk.Err, context.Canceled)
			}
		}
	}
	assert.True(t, sawDone, "stream must terminate with a Done chunk")
}
