package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestMessageRepo_Create_OK_and_Duplicate(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	ctx := context.Background()
	m := &model.Message{
		ID:          uuid.Must(uuid.NewV4()),
		SenderID:    uuid.Must(uuid.NewV4()),
		RecipientID: uuid.Must(uuid.NewV4()),
		Content:     "Bonjour",
		Type:        model.MessageTypeText,
	}

	created := time.Now()
	mock.ExpectQuery(`INSERT INTO messages \(id, sender_id, recipient_id, content, message_type, is_read\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\) RETURNING created_at`).
		WithArgs(m.ID, m.SenderID, m.RecipientID, m.Content, m.Type, m.Read).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(created))
	require.NoError(t, r.Create(ctx, m))
	require.Equal(t, created, m.CreatedAt)

	mock.ExpectQuery(`INSERT INTO messages \(id, sender_id, recipient_id, content, message_type, is_read\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6\) RETURNING created_at`).
		WithArgs(m.ID, m.SenderID, m.RecipientID, m.Content, m.Type, m.Read).
		WillReturnError(&pgconn.PgError{Code: "23505"})
	require.ErrorIs(t, r.Create(ctx, m), errs.ErrAlreadyExists)
}

func TestMessageRepo_Thread_BothDirections(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	ctx := context.Background()
	a := uuid.Must(uuid.NewV4())
	b := uuid.Must(uuid.NewV4())
	t1 := time.Now().Add(-2 * time.Minute)
	t2 := time.Now().Add(-1 * time.Minute)

	mock.ExpectQuery(`SELECT id, sender_id, recipient_id, content, message_type, is_read, created_at FROM messages WHERE \(sender_id=\$1 AND recipient_id=\$2\) OR \(sender_id=\$2 AND recipient_id=\$1\) ORDER BY created_at ASC`).
		WithArgs(a, b).
		WillReturnRows(pgxmock.NewRows([]string{"id", "sender_id", "recipient_id", "content", "message_type", "is_read", "created_at"}).
			AddRow(uuid.Must(uuid.NewV4()), b, a, "Bonjour", "text", false, t1).
			AddRow(uuid.Must(uuid.NewV4()), a, b, "Bien, merci", "text", false, t2))
	msgs, err := r.Thread(ctx, a, b)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Equal(t, "Bonjour", msgs[0].Content)
	require.True(t, msgs[0].CreatedAt.Before(msgs[1].CreatedAt))
}

func TestMessageRepo_CountUnread(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	ctx := context.Background()
	s := uuid.Must(uuid.NewV4())
	rcpt := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM messages WHERE sender_id=\$1 AND recipient_id=\$2 AND is_read=false`).
		WithArgs(s, rcpt).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))
	n, err := r.CountUnread(ctx, s, rcpt)
	require.NoError(t, err)
	require.Equal(t, 3, n)
}

func TestMessageRepo_MarkRead(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewMessageRepo(db)
	ctx := context.Background()
	ids := []uuid.UUID{uuid.Must(uuid.NewV4()), uuid.Must(uuid.NewV4())}

	mock.ExpectExec(`UPDATE messages SET is_read=true WHERE id = ANY\(\$1\)`).
		WithArgs(ids).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	require.NoError(t, r.MarkRead(ctx, ids))

	// empty list is a no-op without touching the pool
	require.NoError(t, r.MarkRead(ctx, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}
