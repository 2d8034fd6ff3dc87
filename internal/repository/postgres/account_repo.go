package postgres

import (
	"context"
	"errors"

	"github.com/atelier-lumen/portal/internal/errs"
	"github.com/atelier-lumen/portal/internal/provider"
	"github.com/jackc/pgx/v5"
)

// AccountRepo implements provider.AccountStore using PostgreSQL.
type AccountRepo struct{ db *DB }

// NewAccountRepo constructs an account repository.
func NewAccountRepo(db *DB) *AccountRepo { return &AccountRepo{db: db} }

// GetByEmail selects a credential record by email.
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*provider.Account, error) {
	const q = `
SELECT email, pwd_hash, salt_auth
FROM auth_accounts WHERE email=$1`
	row := r.db.Pool.QueryRow(ctx, q, email)
	var a provider.Account
	if err := row.Scan(&a.Email, &a.PwdHash, &a.SaltAuth); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}
