// Package identity resolves the requesting user: an authenticated session
// or a guest checkout block.
package identity

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

var (
	// ErrNoSession is returned when no matching session exists.
	ErrNoSession = errors.New("no session")
	// ErrSessionExpired is returned when the session exists but has expired.
	ErrSessionExpired = errors.New("session expired")
)

// User is the minimal identity the checkout pipeline needs.
type User struct {
	ID    uuid.UUID
	Email string
	Guest bool
}

// Session binds a hashed bearer token to a user.
type Session struct {
	TokenHash string
	User      User
	ExpiresAt time.Time
}

// Repository provides session lookup and guest user creation.
type Repository interface {
	// FindSessionByHash returns the session stored under the given token
	// hash, or ErrNoSession.
	FindSessionByHash(ctx context.Context, hash string) (*Session, error)
	// GetOrCreateGuest returns the guest user for the given email,
	// creating it on first use.
	GetOrCreateGuest(ctx context.Context, email string) (*User, error)
}

// Resolver authenticates bearer tokens and materializes guest users.
type Resolver struct {
	repo Repository
	now  func() time.Time
}

// NewResolver creates a Resolver over the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo, now: time.Now}
}

// FromToken resolves a session token to its user. Tokens are stored hashed;
// the lookup key is the SHA-256 of the presented token, and the stored hash
// is re-compared in constant time to guard against timing side-channels
// should the repository return a stale row.
func (r *Resolver) FromToken(ctx context.Context, token string) (*User, error) {
	hash := sha256.Sum256([]byte(token))
	hexHash := hex.EncodeToString(hash[:])

	sess, err := r.repo.FindSessionByHash(ctx, hexHash)
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return nil, ErrNoSession
		}
		return nil, errors.Wrap(err, "find session")
	}

	stored, err := hex.DecodeString(sess.TokenHash)
	if err != nil {
		return nil, ErrNoSession
	}
	if subtle.ConstantTimeCompare(hash[:], stored) != 1 {
		return nil, ErrNoSession
	}

	if r.now().After(sess.ExpiresAt) {
		return nil, ErrSessionExpired
	}

	user := sess.User
	return &user, nil
}

// Guest returns the guest user for the given email, creating it on first
// checkout.
func (r *Resolver) Guest(ctx context.Context, email string) (*User, error) {
	user, err := r.repo.GetOrCreateGuest(ctx, email)
	if err != nil {
		return nil, errors.Wrap(err, "get or create guest")
	}
	return user, nil
}
