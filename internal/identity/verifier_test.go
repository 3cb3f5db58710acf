package identity

import (
	"context"
	"testing"
)

func TestNoneVerifyAssignsSessionIDAsAccount(t *testing.T) {
	id, err := None{}.Verify(context.Background(), "abc-123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id.AccountID != "abc-123" {
		t.Fatalf("got account %q, want abc-123", id.AccountID)
	}
}

func TestNewSessionTokenIsUniqueAndNonEmpty(t *testing.T) {
	a := NewSessionToken()
	b := NewSessionToken()
	if a == "" || b == "" {
		t.Fatal("token must not be empty")
	}
	if a == b {
		t.Fatal("two calls should not collide")
	}
}
