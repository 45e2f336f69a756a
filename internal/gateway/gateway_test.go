// ABOUTME: Tests for the gateway HTTP surface and websocket event loop
// ABOUTME: Exercises health endpoints and an end-to-end connect/soulcare flow

package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soulgate/soulgate/internal/auth"
	"github.com/soulgate/soulgate/internal/config"
	"github.com/soulgate/soulgate/internal/protocol"
	"github.com/soulgate/soulgate/internal/store"
)

const testSecret = "test-secret-key-for-jwt-signing"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	cfg := &config.Config{}
	cfg.Database.Path = ":memory:"
	cfg.Auth.JWTSecret = testSecret
	cfg.Auth.TokenTTL = time.Hour
	cfg.Team.Provider = "scripted"
	cfg.Team.MaxTurns = 10
	cfg.Team.RunTimeout = time.Minute

	g, err := New(cfg, slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = g.store.Close() })
	return g
}

func seedUser(t *testing.T, g *Gateway, userID string) string {
	t.Helper()
	err := g.store.CreateUser(context.Background(), &store.User{
		ID:        userID,
		Username:  "user-" + userID,
		Email:     userID + "@example.com",
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	token, err := auth.NewJWTVerifier([]byte(testSecret)).Generate(userID, "user-"+userID, time.Hour)
	require.NoError(t, err)
	return token
}

func TestGateway_Health(t *testing.T) {
	g := newTestGateway(t)

	rec := httptest.NewRecorder()
	g.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())

	rec = httptest.NewRecorder()
	g.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ready")
}

func TestWSConn_SendDropsWhenFull(t *testing.T) {
	conn := newWSConn(slog.Default())

	for range outBufferSize {
		require.True(t, conn.Send(protocol.New(protocol.EventTaskMessage, nil)))
	}
	assert.False(t, conn.Send(protocol.New(protocol.EventTaskMessage, nil)),
		"a full buffer must drop, not block")

	conn.close()
	assert.False(t, conn.Send(protocol.New(protocol.EventTaskMessage, nil)))
}

func dialWS(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	ws, resp, err := websocket.Dial(t.Context(), url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { _ = ws.CloseNow() })
	return ws
}

func readEvent(t *testing.T, ws *websocket.Conn) *protocol.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var evt protocol.Event
	require.NoError(t, wsjson.Read(ctx, ws, &evt))
	return &evt
}

func TestGateway_ConnectAndSoulcareFlow(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.httpServer.Handler)
	defer server.Close()

	token := seedUser(t, g, "user-42")
	ws := dialWS(t, server)
	ctx := context.Background()

	require.NoError(t, wsjson.Write(ctx, ws,
		protocol.New(protocol.EventConnect, protocol.ConnectPayload{AuthToken: token})))

	connected := readEvent(t, ws)
	require.Equal(t, protocol.EventConnected, connected.Name)
	var connPayload protocol.ConnectedPayload
	require.NoError(t, connected.Decode(&connPayload))
	assert.Equal(t, "user-42", connPayload.User.ID)

	require.NoError(t, wsjson.Write(ctx, ws,
		protocol.New(protocol.EventSoulcareChat, protocol.ChatPayload{Message: "I feel anxious"})))

	// Expect: task_created, then start/stream.../complete, then task_updated
	var sawCreated, sawStart, sawComplete, sawUpdated bool
	var streams int
	for !sawUpdated {
		evt := readEvent(t, ws)
		switch evt.Name {
		case protocol.EventTaskCreated:
			sawCreated = true
		case protocol.EventTaskMessage:
			var payload protocol.TaskMessagePayload
			require.NoError(t, evt.Decode(&payload))
			switch payload.Type {
			case protocol.TaskMessageStart:
				sawStart = true
			case protocol.TaskMessageStream:
				streams++
			case protocol.TaskMessageComplete:
				sawComplete = true
			case protocol.TaskMessageError:
				t.Fatalf("unexpected task error: %s", payload.Data.Message)
			}
		case protocol.EventTaskUpdated:
			var payload protocol.TaskUpdatedPayload
			require.NoError(t, evt.Decode(&payload))
			assert.Equal(t, "completed", payload.Status)
			sawUpdated = true
		case protocol.EventError:
			t.Fatal("unexpected error event")
		}
	}
	assert.True(t, sawCreated)
	assert.True(t, sawStart)
	assert.True(t, sawComplete)
	assert.Positive(t, streams)
}

func TestGateway_ConnectRejectsBadToken(t *testing.T) {
	g := newTestGateway(t)
	server := httptest.NewServer(g.httpServer.Handler)
	defer server.Close()

	ws := dialWS(t, server)
	ctx := context.Background()

	require.NoError(t, wsjson.Write(ctx, ws,
		protocol.New(protocol.EventConnect, protocol.ConnectPayload{AuthToken: "garbage"})))

	evt := readEvent(t, ws)
	assert.Equal(t, protocol.EventError, evt.Name)

	// The server closes the connection after a failed connect
	readCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var next protocol.Event
	err := wsjson.Read(readCtx, ws, &next)
	assert.Error(t, err)
}
