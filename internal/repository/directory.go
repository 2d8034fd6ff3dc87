// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/atelier-lumen/portal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// AdminRepository provides read access to staff accounts plus the
// presence timestamp update performed on login.
type AdminRepository interface {
	// GetByEmail loads an admin by email.
	GetByEmail(ctx context.Context, email string) (*model.Admin, error)
	// List returns all admins.
	List(ctx context.Context) ([]model.Admin, error)
	// TouchLastLogin sets last_login to now.
	TouchLastLogin(ctx context.Context, id uuid.UUID) error
}

// ClientRepository provides read access to client accounts plus the
// presence timestamp update performed on login.
type ClientRepository interface {
	// GetByEmail loads a client by email. Archived clients are still found;
	// archiving only removes them from contact lists.
	GetByEmail(ctx context.Context, email string) (*model.Client, error)
	// ListActive returns all non-archived clients.
	ListActive(ctx context.Context) ([]model.Client, error)
	// TouchLastSeen sets last_seen to now.
	TouchLastSeen(ctx context.Context, id uuid.UUID) error
}
