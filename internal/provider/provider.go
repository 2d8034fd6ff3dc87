// Package provider defines the identity-provider boundary the portal
// authenticates against, and a local JWT-backed implementation of it.
package provider

import (
	"context"

	"github.com/atelier-lumen/portal/internal/model"
)

// ChangeKind labels a session-change notification.
type ChangeKind string

const (
	SignedIn  ChangeKind = "signed_in"
	SignedOut ChangeKind = "signed_out"
)

// Change is a session-change event emitted by the provider. SignedOut is
// emitted on explicit sign-out and on expiry discovered during restore.
type Change struct {
	Kind    ChangeKind
	Session model.Session
}

// Auth is the authentication capability the core consumes. The session is
// an opaque credential bound to an email; the provider owns its storage.
type Auth interface {
	// SignIn authenticates email/password. ip feeds rate limiting.
	SignIn(ctx context.Context, email, password, ip string) (model.Session, error)
	// SignOut invalidates the current session.
	SignOut(ctx context.Context) error
	// Session returns the current session, if any and not expired.
	Session(ctx context.Context) (model.Session, bool)
	// Changes streams session-change notifications.
	Changes() <-chan Change
}

// Account is a portal credential record consumed by the local provider.
type Account struct {
	Email    string
	PwdHash  []byte
	SaltAuth []byte
}

// AccountStore loads credential records for the local provider.
type AccountStore interface {
	// GetByEmail loads an account by email.
	GetByEmail(ctx context.Context, email string) (*Account, error)
}
