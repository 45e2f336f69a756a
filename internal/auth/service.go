// ABOUTME: Authentication service resolving tokens and credentials to users
// ABOUTME: Wraps token verification, user lookup, and bcrypt password handling

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/soulgate/soulgate/internal/store"
)

// Service errors
var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserInactive = errors.New("user is inactive")
	ErrBadPassword  = errors.New("invalid credentials")
)

// Service authenticates connections and issues tokens
type Service struct {
	verifier *JWTVerifier
	store    store.Store
	tokenTTL time.Duration
	logger   *slog.Logger
}

// NewService creates an authentication service backed by the given store
func NewService(verifier *JWTVerifier, st store.Store, tokenTTL time.Duration) *Service {
	return &Service{
		verifier: verifier,
		store:    st,
		tokenTTL: tokenTTL,
		logger:   slog.Default().With("component", "auth"),
	}
}

// Authenticate verifies a bearer token and resolves it to an active user
func (s *Service) Authenticate(ctx context.Context, token string) (*store.User, error) {
	claims, err := s.verifier.Verify(token)
	if err != nil {
		return nil, err
	}

	user, err := s.store.GetUser(ctx, claims.UserID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	if !user.IsActive {
		s.logger.Warn("inactive user attempted connection", "user_id", user.ID)
		return nil, ErrUserInactive
	}

	return user, nil
}

// Login checks a username/password pair and issues a fresh token
func (s *Service) Login(ctx context.Context, username, password string) (string, *store.User, error) {
	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		// Hash anyway so lookup timing doesn't reveal whether the user exists
		bcrypt.CompareHashAndPassword([]byte("$2a$10$000000000000000000000uGy6ZNSXOPnnG2pfCzGPz6pYTmquVF8C"), []byte(password))
		return "", nil, ErrBadPassword
	}
	if err != nil {
		return "", nil, fmt.Errorf("looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", nil, ErrBadPassword
	}
	if !user.IsActive {
		return "", nil, ErrUserInactive
	}

	token, err := s.verifier.Generate(user.ID, user.Username, s.tokenTTL)
	if err != nil {
		return "", nil, fmt.Errorf("generating token: %w", err)
	}

	s.logger.Info("user logged in", "user_id", user.ID, "username", user.Username)
	return token, user, nil
}

// IssueToken generates a token for an already-verified user
func (s *Service) IssueToken(userID, username string) (string, error) {
	return s.verifier.Generate(userID, username, s.tokenTTL)
}

// HashPassword produces a bcrypt hash suitable for storage
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hashing password: %w", err)
	}
	return string(hash), nil
}
