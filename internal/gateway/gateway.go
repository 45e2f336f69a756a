// ABOUTME: Gateway composition root wiring store, auth, dispatcher, and HTTP server
// ABOUTME: Manages listener setup (TCP or Tailscale) and graceful shutdown

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/soulgate/soulgate/internal/auth"
	"github.com/soulgate/soulgate/internal/chat"
	"github.com/soulgate/soulgate/internal/config"
	"github.com/soulgate/soulgate/internal/dispatch"
	"github.com/soulgate/soulgate/internal/model"
	"github.com/soulgate/soulgate/internal/room"
	"github.com/soulgate/soulgate/internal/session"
	"github.com/soulgate/soulgate/internal/store"
	"github.com/soulgate/soulgate/internal/team"
)

// Gateway composes the server components and owns their lifecycle
type Gateway struct {
	config     *config.Config
	store      store.Store
	sessions   *session.Registry
	rooms      *room.Manager
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
	tailnet    *tailnetServer
	logger     *slog.Logger
}

// New creates a Gateway from configuration
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	verifier := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
	authSvc := auth.NewService(verifier, st, cfg.Auth.TokenTTL)

	client := buildModelClient(cfg, logger)
	advisor := team.NewLifeAdvisor(client)
	recommender := team.NewSongRecommender()
	orch := team.NewOrchestrator(team.NewRosterSelector(advisor, recommender), cfg.Team.MaxTurns)

	sessions := session.NewRegistry()
	rooms := room.NewManager()
	state := team.NewStateStore(st)
	chatBackend := chat.NewModelBackend(client)

	g := &Gateway{
		config:     cfg,
		store:      st,
		sessions:   sessions,
		rooms:      rooms,
		dispatcher: dispatch.New(authSvc, sessions, rooms, st, state, orch, chatBackend, cfg.Team.RunTimeout),
		logger:     logger.With("component", "gateway"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/health/ready", g.handleReady)
	mux.HandleFunc("/ws", g.handleWS)

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// buildModelClient picks the model provider from config. The scripted
// provider keeps the server usable without an API key.
func buildModelClient(cfg *config.Config, logger *slog.Logger) model.Client {
	if cfg.Team.Provider == "scripted" {
		logger.Warn("using scripted model provider - replies are canned")
		return model.NewScriptedClient(
			"Thank you for sharing that with me. What feels most pressing right now?",
			"That makes sense. What would a small step forward look like?",
			"I hear you. What kind of support would help most today?",
		)
	}
	return model.NewAnthropicClient(cfg.Team.APIKey, cfg.Team.Model)
}

// Run starts the server and blocks until the context is canceled or
// the server fails
func (g *Gateway) Run(ctx context.Context) error {
	ln, err := g.setupListener(ctx)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("HTTP server listening", "addr", ln.Addr().String())
		if err := g.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("HTTP server: %w", err)
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("context canceled, initiating shutdown")
	case serverErr = <-errCh:
		g.logger.Error("server error", "error", serverErr)
	}

	shutdownErr := g.gracefulShutdown()
	if serverErr != nil {
		return serverErr
	}
	return shutdownErr
}

// setupListener creates a TCP or Tailscale listener per config
func (g *Gateway) setupListener(ctx context.Context) (net.Listener, error) {
	if g.config.Tailscale.Enabled {
		if g.config.Server.HTTPAddr != "" {
			g.logger.Warn("server.http_addr is ignored when tailscale is enabled",
				"http_addr", g.config.Server.HTTPAddr)
		}
		tn, ln, err := setupTailnetListener(ctx, g.config.Tailscale, g.logger)
		if err != nil {
			return nil, err
		}
		g.tailnet = tn
		return ln, nil
	}

	ln, err := net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		return nil, fmt.Errorf("listening on HTTP address: %w", err)
	}
	return ln, nil
}

// gracefulShutdown runs Shutdown with a fresh context since the run
// context is already canceled
func (g *Gateway) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return g.Shutdown(ctx)
}

// Shutdown stops the HTTP server, waits for in-flight runs to persist
// their snapshots, and releases resources
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")

	var errs []error
	if err := g.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	// Let active orchestrator runs finish so their snapshots are saved
	done := make(chan struct{})
	go func() {
		g.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("shutdown deadline reached with runs still active")
	}

	if g.tailnet != nil {
		if err := g.tailnet.Close(); err != nil {
			errs = append(errs, fmt.Errorf("tailscale shutdown: %w", err))
		}
	}
	if err := g.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("store close: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %v", errs)
	}
	return nil
}

// handleHealth returns 200 OK if the server is alive
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady reports readiness and the live session count
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if _, err := g.store.GetUser(r.Context(), "readiness-probe"); err != nil && !errors.Is(err, store.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d sessions)", g.sessions.Count())
}
