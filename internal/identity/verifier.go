// Package identity defines the TokenVerifier collaborator boundary. The
// concrete identity-provider integration lives outside this module; this
// package ships the interface plus the "none" fallback the session
// manager uses when no verifier is configured.
package identity

import (
	"context"

	"github.com/google/uuid"
)

// Identity is what a successful verification yields.
type Identity struct {
	AccountID string
	Email     string
}

// Verifier authenticates an inbound handshake token. Implementations call
// out to an external identity provider; NexusRoom only depends on this
// interface.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}

// ErrInvalidToken is returned by a Verifier when the token is malformed,
// expired, or unrecognized.
type ErrInvalidToken struct{ Reason string }

func (e *ErrInvalidToken) Error() string { return "identity: invalid token: " + e.Reason }

// None is the fallback used when no verifier is configured (identity.mode
// = "none" in config). It assigns the transport-level session id as the
// account id; the caller is responsible for logging a warning that
// authentication is disabled.
type None struct{}

func (None) Verify(_ context.Context, sessionID string) (Identity, error) {
	return Identity{AccountID: sessionID}, nil
}

// NewSessionToken generates an opaque random identifier, used by
// transports that need to mint a fallback session or connection id
// before a Verifier is consulted.
func NewSessionToken() string {
	return uuid.NewString()
}
