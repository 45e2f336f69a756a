// ABOUTME: Conversation snapshot persistence over the store layer
// ABOUTME: Load failures surface as StateLoadError, never as empty history

package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soulgate/soulgate/internal/store"
)

// StateLoadError reports that a snapshot could not be loaded because
// the store was unavailable or the record was corrupt. It is distinct
// from store.ErrNotFound: a missing snapshot is a fresh conversation, a
// load error must abort the run.
type StateLoadError struct {
	ConversationID string
	Err            error
}

func (e *StateLoadError) Error() string {
	return fmt.Sprintf("loading conversation state %s: %v", e.ConversationID, e.Err)
}

func (e *StateLoadError) Unwrap() error {
	return e.Err
}

// StateStore loads and saves conversation snapshots as whole records
type StateStore struct {
	store  store.Store
	logger *slog.Logger
}

// NewStateStore creates a snapshot store over the given backing store
func NewStateStore(st store.Store) *StateStore {
	return &StateStore{
		store:  st,
		logger: slog.Default().With("component", "state"),
	}
}

// Load reads a conversation's snapshot. A missing snapshot returns
// store.ErrNotFound; any other failure returns a StateLoadError.
func (s *StateStore) Load(ctx context.Context, conversationID string) (*Snapshot, error) {
	data, err := s.store.GetSnapshot(ctx, conversationID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, &StateLoadError{ConversationID: conversationID, Err: err}
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, &StateLoadError{ConversationID: conversationID, Err: fmt.Errorf("corrupt snapshot: %w", err)}
	}
	if snap.AgentStates == nil {
		snap.AgentStates = make(map[string]json.RawMessage)
	}
	return &snap, nil
}

// Save overwrites the conversation's snapshot, last-write-wins
func (s *StateStore) Save(ctx context.Context, snap *Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := s.store.SaveSnapshot(ctx, snap.ConversationID, data); err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}

	s.logger.Debug("snapshot persisted",
		"conversation_id", snap.ConversationID,
		"messages", len(snap.Messages),
		"status", snap.Status)
	return nil
}
