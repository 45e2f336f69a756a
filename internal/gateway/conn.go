// ABOUTME: WebSocket connection handling for the /ws event channel
// ABOUTME: One read loop per connection; writes go through a buffered out channel

package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/soulgate/soulgate/internal/protocol"
)

// outBufferSize is the per-connection outbound event buffer. Events
// beyond it are dropped rather than stalling a broadcast.
const outBufferSize = 64

// wsConn is one live client connection. It implements room.Sender.
type wsConn struct {
	id     string
	out    chan *protocol.Event
	closed chan struct{}
	once   sync.Once
	logger *slog.Logger
}

func newWSConn(logger *slog.Logger) *wsConn {
	id := uuid.New().String()
	return &wsConn{
		id:     id,
		out:    make(chan *protocol.Event, outBufferSize),
		closed: make(chan struct{}),
		logger: logger.With("connection_id", id),
	}
}

// ConnectionID implements room.Sender
func (c *wsConn) ConnectionID() string { return c.id }

// Send implements room.Sender. Best-effort: a full buffer or a closed
// connection drops the event.
func (c *wsConn) Send(event *protocol.Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}
	select {
	case c.out <- event:
		return true
	default:
		return false
	}
}

// close stops the writer; safe to call more than once
func (c *wsConn) close() {
	c.once.Do(func() { close(c.closed) })
}

// handleWS upgrades the request and runs the connection's event loop
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket accept failed", "error", err)
		return
	}

	conn := newWSConn(g.logger)
	conn.logger.Info("client connected", "remote_addr", r.RemoteAddr)

	ctx := r.Context()

	// Writer: drains the out channel so broadcasts never block on a
	// slow socket
	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		for {
			select {
			case ev := <-conn.out:
				if err := wsjson.Write(ctx, ws, ev); err != nil {
					conn.logger.Debug("write failed", "error", err)
					return
				}
			case <-conn.closed:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		g.dispatcher.HandleDisconnect(conn.id)
		conn.close()
		<-writeDone
		_ = ws.CloseNow()
		conn.logger.Info("client disconnected")
	}()

	// Read loop: events on one connection are handled serially
	for {
		var evt protocol.Event
		if err := wsjson.Read(ctx, ws, &evt); err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
				return
			}
			conn.logger.Debug("read failed", "error", err)
			return
		}

		if err := g.dispatcher.HandleEvent(ctx, conn, &evt); err != nil {
			conn.logger.Warn("closing connection", "error", err)
			_ = ws.Close(websocket.StatusPolicyViolation, "authentication required")
			return
		}
	}
}
