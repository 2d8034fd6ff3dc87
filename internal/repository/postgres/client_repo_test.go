package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestClientRepo_GetByEmail(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewClientRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, name, avatar_url, last_seen, archived FROM clients WHERE email=\$1`).
		WithArgs("paul@example.com").
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "avatar_url", "last_seen", "archived"}).
			AddRow(id, "paul@example.com", "Paul", "", time.Now(), false))
	c, err := r.GetByEmail(ctx, "paul@example.com")
	require.NoError(t, err)
	require.Equal(t, id, c.ID)
	require.False(t, c.Archived)

	mock.ExpectQuery(`SELECT id, email, name, avatar_url, last_seen, archived FROM clients WHERE email=\$1`).
		WithArgs("nobody@example.com").
		WillReturnError(pgx.ErrNoRows)
	_, err = r.GetByEmail(ctx, "nobody@example.com")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestClientRepo_ListActive_ExcludesArchived(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewClientRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectQuery(`SELECT id, email, name, avatar_url, last_seen, archived FROM clients WHERE archived=false ORDER BY name ASC`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "email", "name", "avatar_url", "last_seen", "archived"}).
			AddRow(id, "paul@example.com", "Paul", "avatars/paul.png", time.Now(), false))
	list, err := r.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "avatars/paul.png", list[0].AvatarURL)
}

func TestClientRepo_TouchLastSeen(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewClientRepo(db)
	ctx := context.Background()
	id := uuid.Must(uuid.NewV4())

	mock.ExpectExec(`UPDATE clients SET last_seen=now\(\) WHERE id=\$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, r.TouchLastSeen(ctx, id))

	mock.ExpectExec(`UPDATE clients SET last_seen=now\(\) WHERE id=\$1`).
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	require.ErrorIs(t, r.TouchLastSeen(ctx, id), errs.ErrNotFound)
}
