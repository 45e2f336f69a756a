// ABOUTME: Session registry mapping live connections to authenticated users
// ABOUTME: Register replaces stale sessions; Unregister is idempotent

package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNotFound is returned when no session exists for a connection
var ErrNotFound = errors.New("session not found")

// Session is an authenticated connection
type Session struct {
	ConnectionID string
	UserID       string
	Username     string
	ConnectedAt  time.Time
}

// Registry tracks all authenticated sessions by connection ID
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // connection ID -> session
	byUser   map[string]int      // user ID -> live session count
	logger   *slog.Logger
}

// NewRegistry creates an empty session registry
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		byUser:   make(map[string]int),
		logger:   slog.Default().With("component", "session"),
	}
}

// Register binds a connection to a user. A stale session under the same
// connection ID is replaced.
func (r *Registry) Register(connectionID, userID, username string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.sessions[connectionID]; ok {
		r.byUser[old.UserID]--
		if r.byUser[old.UserID] <= 0 {
			delete(r.byUser, old.UserID)
		}
		r.logger.Warn("replacing stale session", "connection_id", connectionID, "old_user_id", old.UserID)
	}

	sess := &Session{
		ConnectionID: connectionID,
		UserID:       userID,
		Username:     username,
		ConnectedAt:  time.Now().UTC(),
	}
	r.sessions[connectionID] = sess
	r.byUser[userID]++

	r.logger.Info("session registered", "connection_id", connectionID, "user_id", userID)
	return sess
}

// Lookup returns the session for a connection, or ErrNotFound
func (r *Registry) Lookup(connectionID string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[connectionID]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// Unregister removes a connection's session. Removing an unknown
// connection is a no-op.
func (r *Registry) Unregister(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[connectionID]
	if !ok {
		return
	}

	delete(r.sessions, connectionID)
	r.byUser[sess.UserID]--
	if r.byUser[sess.UserID] <= 0 {
		delete(r.byUser, sess.UserID)
	}

	r.logger.Info("session unregistered", "connection_id", connectionID, "user_id", sess.UserID)
}

// UserOnline reports whether the user has at least one live session
func (r *Registry) UserOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byUser[userID] > 0
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
