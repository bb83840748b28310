package repository

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veleda/stemshop/internal/identity"
)

const (
	findSessionSQL = `SELECT s.token_hash, s.expires_at, u.id, u.email, u.is_guest
		FROM sessions s JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = $1`

	// The upsert keeps the lookup race-free when two guest checkouts with
	// the same email arrive concurrently. The no-op DO UPDATE makes
	// RETURNING yield the existing row.
	getOrCreateGuestSQL = `INSERT INTO users (email, is_guest) VALUES ($1, TRUE)
		ON CONFLICT (email) DO UPDATE SET email = EXCLUDED.email
		RETURNING id, email, is_guest`
)

var _ identity.Repository = (*IdentityRepository)(nil)

// IdentityRepository implements identity.Repository backed by PostgreSQL.
type IdentityRepository struct {
	pool *pgxpool.Pool
}

// NewIdentityRepository returns an IdentityRepository that uses the given pool.
func NewIdentityRepository(pool *pgxpool.Pool) *IdentityRepository {
	return &IdentityRepository{pool: pool}
}

// FindSessionByHash returns the session stored under the given token hash.
func (r *IdentityRepository) FindSessionByHash(ctx context.Context, hash string) (*identity.Session, error) {
	var sess identity.Session
	err := r.pool.QueryRow(ctx, findSessionSQL, hash).Scan(
		&sess.TokenHash, &sess.ExpiresAt,
		&sess.User.ID, &sess.User.Email, &sess.User.Guest,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, identity.ErrNoSession
		}
		return nil, errors.Wrap(err, "find session")
	}
	return &sess, nil
}

// GetOrCreateGuest returns the guest user for the given email, creating it
// on first use.
func (r *IdentityRepository) GetOrCreateGuest(ctx context.Context, email string) (*identity.User, error) {
	var user identity.User
	err := r.pool.QueryRow(ctx, getOrCreateGuestSQL, email).Scan(
		&user.ID, &user.Email, &user.Guest,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "get or create guest %q", email)
	}
	return &user, nil
}
