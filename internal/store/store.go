// ABOUTME: Store interface and data types for soulgate persistence
// ABOUTME: Defines User, Conversation, Task records and whole-blob snapshot storage

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateUser is returned when a username is already taken
var ErrDuplicateUser = errors.New("user already exists")

// ErrDuplicateConversation is returned when a conversation id already exists
var ErrDuplicateConversation = errors.New("conversation already exists")

// User is an account that may authenticate and own conversations
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	IsActive     bool
	CreatedAt    time.Time
}

// Conversation links a stable conversation id to its owning user
type Conversation struct {
	ID        string
	UserID    string
	Title     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskStatus tracks one orchestrator run through its lifecycle
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task models one orchestrator run: a single user message through to
// yield-back-to-user or completion
type Task struct {
	ID             string
	ConversationID string
	CreatedBy      string
	Status         TaskStatus
	Result         string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Store defines the interface for soulgate persistence.
// Conversation snapshots are opaque blobs read and written whole; the
// store never interprets their contents.
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Conversations
	CreateConversation(ctx context.Context, conv *Conversation) error
	GetConversation(ctx context.Context, id string) (*Conversation, error)
	ListConversations(ctx context.Context, userID string, limit int) ([]*Conversation, error)
	TouchConversation(ctx context.Context, id string) error

	// Tasks
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id string) (*Task, error)
	UpdateTaskStatus(ctx context.Context, id string, status TaskStatus, result string) error

	// Conversation snapshots (whole-blob, last-write-wins)
	SaveSnapshot(ctx context.Context, conversationID string, data []byte) error
	GetSnapshot(ctx context.Context, conversationID string) ([]byte, error)

	// Close releases any resources held by the store
	Close() error
}
