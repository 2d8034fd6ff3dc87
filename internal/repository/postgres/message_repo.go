package postgres

import (
	"context"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/gofrs/uuid/v5"
)

// MessageRepo implements MessageRepository using PostgreSQL.
type MessageRepo struct{ db *DB }

// NewMessageRepo constructs a message repository.
func NewMessageRepo(db *DB) *MessageRepo { return &MessageRepo{db: db} }

// Create inserts a new message row and reads back the server-side timestamp.
func (r *MessageRepo) Create(ctx context.Context, m *model.Message) error {
	const q = `
INSERT INTO messages (id, sender_id, recipient_id, content, message_type, is_read)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at`
	err := r.db.Pool.QueryRow(ctx, q,
		m.ID, m.SenderID, m.RecipientID, m.Content, m.Type, m.Read,
	).Scan(&m.CreatedAt)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// Thread selects all messages between a and b in either direction,
// oldest first for stable chronological display.
func (r *MessageRepo) Thread(ctx context.Context, a, b uuid.UUID) ([]model.Message, error) {
	const q = `
SELECT id, sender_id, recipient_id, content, message_type, is_read, created_at
FROM messages
WHERE (sender_id=$1 AND recipient_id=$2) OR (sender_id=$2 AND recipient_id=$1)
ORDER BY created_at ASC`
	rows, err := r.db.Pool.Query(ctx, q, a, b)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Message
	for rows.Next() {
		var m model.Message
		if err = rows.Scan(&m.ID, &m.SenderID, &m.RecipientID, &m.Content, &m.Type, &m.Read, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// CountUnread counts unread messages from sender to recipient.
func (r *MessageRepo) CountUnread(ctx context.Context, senderID, recipientID uuid.UUID) (int, error) {
	const q = `
SELECT COUNT(*) FROM messages
WHERE sender_id=$1 AND recipient_id=$2 AND is_read=false`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, senderID, recipientID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// MarkRead flips is_read on the given messages. A no-op on an empty id list.
func (r *MessageRepo) MarkRead(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `UPDATE messages SET is_read=true WHERE id = ANY($1)`
	_, err := r.db.Pool.Exec(ctx, q, ids)
	return err
}
