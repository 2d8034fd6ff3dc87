package repository

import (
	"context"

	"github.com/atelier-lumen/portal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepository provides access to chat messages between two users.
type MessageRepository interface {
	// Create inserts a new message row.
	Create(ctx context.Context, m *model.Message) error

	// Thread returns all messages exchanged between a and b in either
	// direction, ordered by created_at ascending.
	Thread(ctx context.Context, a, b uuid.UUID) ([]model.Message, error)

	// CountUnread returns the number of unread messages from sender to recipient.
	CountUnread(ctx context.Context, senderID, recipientID uuid.UUID) (int, error)

	// MarkRead flips is_read on the given messages.
	MarkRead(ctx context.Context, ids []uuid.UUID) error
}
