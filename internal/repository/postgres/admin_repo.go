package postgres

import (
	"context"
	"errors"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/model"
	"github.com/gofrs/uuid/v5"
	"github.com/jackc/pgx/v5"
)

// AdminRepo implements AdminRepository using PostgreSQL.
type AdminRepo struct{ db *DB }

// NewAdminRepo constructs an admin repository.
func NewAdminRepo(db *DB) *AdminRepo { return &AdminRepo{db: db} }

// GetByEmail selects an admin by email.
func (r *AdminRepo) GetByEmail(ctx context.Context, email string) (*model.Admin, error) {
	const q = `
SELECT id, email, name, role, last_login
FROM admins WHERE email=$1`
	row := r.db.Pool.QueryRow(ctx, q, email)
	var a model.Admin
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &a.RoleLabel, &a.LastLogin); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

// List selects all admins ordered by name.
func (r *AdminRepo) List(ctx context.Context) ([]model.Admin, error) {
	const q = `
SELECT id, email, name, role, last_login
FROM admins ORDER BY name ASC`
	rows, err := r.db.Pool.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Admin
	for rows.Next() {
		var a model.Admin
		if err = rows.Scan(&a.ID, &a.Email, &a.Name, &a.RoleLabel, &a.LastLogin); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TouchLastLogin sets last_login to the current time.
func (r *AdminRepo) TouchLastLogin(ctx context.Context, id uuid.UUID) error {
	const q = `UPDATE admins SET last_login=now() WHERE id=$1`
	tag, err := r.db.Pool.Exec(ctx, q, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
