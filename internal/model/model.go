// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role tags an application user as studio staff or a portal client.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleClient Role = "client"
)

// Session is the portal's view of a provider credential. The provider owns
// the token; the core only consumes email and expiry.
type Session struct {
	Email       string
	AccessToken string
	ExpiresAt   time.Time
}

// AppUser is a resolved identity. ID is the role-scoped record id (admins.id
// or clients.id), not the identity-provider id.
type AppUser struct {
	ID    uuid.UUID
	Name  string
	Email string
	Role  Role
}

// Admin is a staff account stored in the directory.
type Admin struct {
	ID        uuid.UUID
	Email     string
	Name      string
	RoleLabel string // free-form label ("owner", "designer"), not the access role
	LastLogin time.Time
}

// Client is a customer account stored in the directory.
type Client struct {
	ID        uuid.UUID
	Email     string
	Name      string
	AvatarURL string
	LastSeen  time.Time
	Archived  bool
}

// Contact is a counterpart the current user can message. Online and Unread
// are derived at load time and never stored.
type Contact struct {
	ID           uuid.UUID
	Name         string
	Email        string
	AvatarURL    string
	LastActivity time.Time
	Online       bool
	Unread       int
}

// MessageTypeText is the only type the portal UI produces today; the column
// exists so attachments can be added without a schema change.
const MessageTypeText = "text"

// Message is a single chat message. SenderName/SenderEmail are denormalized
// display info attached from the contact list at load time, not stored.
type Message struct {
	ID          uuid.UUID
	SenderID    uuid.UUID
	RecipientID uuid.UUID
	Content     string
	Type        string
	Read        bool
	CreatedAt   time.Time

	SenderName  string
	SenderEmail string
}
