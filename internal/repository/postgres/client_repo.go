package postgres

import (
	"context"
	"errors"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// ClientRepo implements ClientRepository using PostgreSQL.
type ClientRepo struct{ db *DB }

// NewClientRepo constructs a client repository.
func NewClientRepo(db *DB) *ClientRepo { return &ClientRepo{db: db} }

// GetByEmail selects a client by email, archived or not.
func (r *ClientRepo) GetByEmail(ctx context.Context, email string) (*model.Client, error) {
	const q = `
SELECT id, email, name, avatar_url, last_seen, archived
FROM clients WHERE email=$1`
	row := r.db.Pool.QueryRow(ctx, q, email)
	var c model.Client
	if err := row.Scan(&c.ID, &c.Email, &c.Name, &c.AvatarURL, &c.LastSeen, &c.Archived); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// ListActive selects all non-archived clients ordered by name.
func (r *ClientRepo) ListActive(ctx context.Context) ([]model.Client, error) {
	const q = `
SELECT id, email, name, avatar_url, last_seen, archived
FROM clients WHERE archived=false ORDER BY name ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Client
	for rows.Next() {
		var c model.Client
		if err = rows.Scan(&c.ID, &c.Email, &c.Name, &c.AvatarURL, &c.LastSeen, &c.Archived); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// TouchLastSeen sets last_seen to the current time.
func (r *ClientRepo) TouchLastSeen(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE clients SET last_seen=now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
