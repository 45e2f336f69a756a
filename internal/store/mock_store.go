// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject storage faults

package store

import (
	"context"
	"sort"
	"sync"
)

// MockStore is an in-memory Store implementation for testing.
// The Err fields, when set, are returned by the corresponding operations
// so callers can exercise storage-failure paths.
type MockStore struct {
	mu            sync.RWMutex
	users         map[string]*User         // keyed by user ID
	usersByName   map[string]string        // keyed by username -> user ID
	conversations map[string]*Conversation // keyed by conversation ID
	tasks         map[string]*Task         // keyed by task ID
	snapshots     map[string][]byte        // keyed by conversation ID

	GetSnapshotErr  error
	SaveSnapshotErr error
	CreateTaskErr   error
	UpdateTaskErr   error
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		users:         make(map[string]*User),
		usersByName:   make(map[string]string),
		conversations: make(map[string]*Conversation),
		tasks:         make(map[string]*Task),
		snapshots:     make(map[string][]byte),
	}
}

// CreateUser stores a new user.
func (m *MockStore) CreateUser(ctx context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.usersByName[user.Username]; ok {
		return ErrDuplicateUser
	}

	u := *user
	m.users[u.ID] = &u
	m.usersByName[u.Username] = u.ID
	return nil
}

// GetUser retrieves a user by ID.
func (m *MockStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *u
	return &result, nil
}

// GetUserByUsername retrieves a user by username.
func (m *MockStore) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByName[username]
	if !ok {
		return nil, ErrNotFound
	}
	result := *m.users[id]
	return &result, nil
}

// CreateConversation stores a new conversation.
func (m *MockStore) CreateConversation(ctx context.Context, conv *Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.conversations[conv.ID]; ok {
		return ErrDuplicateConversation
	}

	c := *conv
	m.conversations[c.ID] = &c
	return nil
}

// GetConversation retrieves a conversation by ID.
func (m *MockStore) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *c
	return &result, nil
}

// ListConversations returns a user's conversations, most recently updated first.
func (m *MockStore) ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}

	var convs []*Conversation
	for _, c := range m.conversations {
		if c.UserID == userID {
			result := *c
			convs = append(convs, &result)
		}
	}
	sort.Slice(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	if len(convs) > limit {
		convs = convs[:limit]
	}
	return convs, nil
}

// TouchConversation is a no-op beyond existence checking in the mock.
func (m *MockStore) TouchConversation(ctx context.Context, id string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.conversations[id]; !ok {
		return ErrNotFound
	}
	return nil
}

// CreateTask stores a new task.
func (m *MockStore) CreateTask(ctx context.Context, task *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.CreateTaskErr != nil {
		return m.CreateTaskErr
	}

	t := *task
	m.tasks[t.ID] = &t
	return nil
}

// GetTask retrieves a task by ID.
func (m *MockStore) GetTask(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *t
	return &result, nil
}

// UpdateTaskStatus transitions a task and records its result summary.
func (m *MockStore) UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, result string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.UpdateTaskErr != nil {
		return m.UpdateTaskErr
	}

	t, ok := m.tasks[id]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	t.Result = result
	return nil
}

// SaveSnapshot overwrites the snapshot blob for a conversation.
func (m *MockStore) SaveSnapshot(ctx context.Context, conversationID string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.SaveSnapshotErr != nil {
		return m.SaveSnapshotErr
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	m.snapshots[conversationID] = buf
	return nil
}

// GetSnapshot reads the snapshot blob for a conversation.
func (m *MockStore) GetSnapshot(ctx context.Context, conversationID string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.GetSnapshotErr != nil {
		return nil, m.GetSnapshotErr
	}

	data, ok := m.snapshots[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}
