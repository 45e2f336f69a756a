// ABOUTME: Tests for the session registry
// ABOUTME: Covers register/lookup/unregister, stale replacement, and idempotency

package session

import (
	"errors"
	"testing"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := NewRegistry()

	reg.Register("conn-1", "user-1", "frieda")

	sess, err := reg.Lookup("conn-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if sess.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", sess.UserID, "user-1")
	}
	if sess.Username != "frieda" {
		t.Errorf("Username = %q, want %q", sess.Username, "frieda")
	}
	if sess.ConnectedAt.IsZero() {
		t.Error("ConnectedAt should be set")
	}
}

func TestRegistry_Lookup_NotFound(t *testing.T) {
	reg := NewRegistry()

	_, err := reg.Lookup("nonexistent")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup error = %v, want ErrNotFound", err)
	}
}

func TestRegistry_Register_ReplacesStale(t *testing.T) {
	reg := NewRegistry()

	reg.Register("conn-1", "user-1", "frieda")
	reg.Register("conn-1", "user-2", "marco")

	sess, err := reg.Lookup("conn-1")
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if sess.UserID != "user-2" {
		t.Errorf("UserID = %q, want %q", sess.UserID, "user-2")
	}

	// The stale user must no longer appear online
	if reg.UserOnline("user-1") {
		t.Error("user-1 should not be online after replacement")
	}
	if !reg.UserOnline("user-2") {
		t.Error("user-2 should be online")
	}
	if reg.Count() != 1 {
		t.Errorf("Count = %d, want 1", reg.Count())
	}
}

func TestRegistry_Unregister(t *testing.T) {
	reg := NewRegistry()

	reg.Register("conn-1", "user-1", "frieda")
	reg.Unregister("conn-1")

	if _, err := reg.Lookup("conn-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Lookup error = %v, want ErrNotFound", err)
	}
	if reg.UserOnline("user-1") {
		t.Error("user-1 should not be online after unregister")
	}

	// Idempotent: a second unregister is a no-op
	reg.Unregister("conn-1")
	reg.Unregister("never-existed")
}

func TestRegistry_UserOnline_MultipleSessions(t *testing.T) {
	reg := NewRegistry()

	reg.Register("conn-1", "user-1", "frieda")
	reg.Register("conn-2", "user-1", "frieda")

	reg.Unregister("conn-1")
	if !reg.UserOnline("user-1") {
		t.Error("user-1 should still be online via conn-2")
	}

	reg.Unregister("conn-2")
	if reg.UserOnline("user-1") {
		t.Error("user-1 should be offline after all sessions close")
	}
}
