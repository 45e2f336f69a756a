// ABOUTME: Tests for the authentication service
// ABOUTME: Covers token resolution, inactive users, and password login

package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/soulgate/soulgate/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.MockStore) {
	t.Helper()
	mock := store.NewMockStore()
	verifier := NewJWTVerifier([]byte("test-secret-key-for-jwt-signing"))
	return NewService(verifier, mock, time.Hour), mock
}

func addUser(t *testing.T, mock *store.MockStore, id, username, password string, active bool) {
	t.Helper()
	hash, err := HashPassword(password)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	user := &store.User{
		ID:           id,
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: hash,
		IsActive:     active,
		CreatedAt:    time.Now().UTC(),
	}
	if err := mock.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
}

func TestService_Authenticate(t *testing.T) {
	svc, mock := newTestService(t)
	addUser(t, mock, "user-1", "frieda", "hunter2hunter2", true)

	token, err := svc.IssueToken("user-1", "frieda")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	user, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("user ID = %q, want %q", user.ID, "user-1")
	}
	if user.Username != "frieda" {
		t.Errorf("username = %q, want %q", user.Username, "frieda")
	}
}

func TestService_Authenticate_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	token, err := svc.IssueToken("ghost", "ghost")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	_, err = svc.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Authenticate error = %v, want ErrUserNotFound", err)
	}
}

func TestService_Authenticate_InactiveUser(t *testing.T) {
	svc, mock := newTestService(t)
	addUser(t, mock, "user-1", "frieda", "hunter2hunter2", false)

	token, err := svc.IssueToken("user-1", "frieda")
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}

	_, err = svc.Authenticate(context.Background(), token)
	if !errors.Is(err, ErrUserInactive) {
		t.Errorf("Authenticate error = %v, want ErrUserInactive", err)
	}
}

func TestService_Authenticate_BadToken(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.Authenticate(context.Background(), "not-a-token")
	if !errors.Is(err, ErrInvalidToken) {
		t.Errorf("Authenticate error = %v, want ErrInvalidToken", err)
	}
}

func TestService_Login(t *testing.T) {
	svc, mock := newTestService(t)
	addUser(t, mock, "user-1", "frieda", "hunter2hunter2", true)

	token, user, err := svc.Login(context.Background(), "frieda", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if user.ID != "user-1" {
		t.Errorf("user ID = %q, want %q", user.ID, "user-1")
	}

	// Round-trip: the issued token must authenticate
	got, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if got.ID != "user-1" {
		t.Errorf("authenticated user = %q, want %q", got.ID, "user-1")
	}
}

func TestService_Login_WrongPassword(t *testing.T) {
	svc, mock := newTestService(t)
	addUser(t, mock, "user-1", "frieda", "hunter2hunter2", true)

	_, _, err := svc.Login(context.Background(), "frieda", "wrong")
	if !errors.Is(err, ErrBadPassword) {
		t.Errorf("Login error = %v, want ErrBadPassword", err)
	}
}

func TestService_Login_UnknownUser(t *testing.T) {
	svc, _ := newTestService(t)

	_, _, err := svc.Login(context.Background(), "nobody", "whatever")
	if !errors.Is(err, ErrBadPassword) {
		t.Errorf("Login error = %v, want ErrBadPassword", err)
	}
}
