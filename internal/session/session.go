// Package session owns browser sessions: the sqlite-backed record of who
// is signed in, the cookie pointing at it, and the middleware resolving one
// into the other on every request.
//
// The cookie only ever carries a session id (plus the OAuth nonce while an
// SSO redirect is in flight). Tokens live server-side in the store.
package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/trendlens/trendlens/internal/trendlens"
)

const sessionNamespace = "sess"

// Session is one signed-in browser. ExpiresAt tracks the access token's
// lifetime; the row itself lives until MaxAge or sign-out.
type Session struct {
	ID           string    `db:"id"`
	UserID       string    `db:"user_id"`
	Email        string    `db:"email"`
	AccessToken  string    `db:"access_token"`
	RefreshToken string    `db:"refresh_token"`
	ExpiresAt    time.Time `db:"expires_at"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// Identity is what request handlers see once the middleware has resolved
// the cookie.
type Identity struct {
	SessionID string
	UserID    string
	Email     string
	Token     string // bearer token for the trend backend
}

// Store persists sessions in sqlite.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an already-migrated database.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Create inserts the session and returns it with its generated id.
func (s *Store) Create(ctx context.Context, sess Session) (Session, error) {
	const q = `INSERT INTO sessions (
		id,
		user_id,
		email,
		access_token,
		refresh_token,
		expires_at,
		created_at,
		updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?);`

	now := time.Now().UTC()
	sess.ID = fmt.Sprintf("%s-%s", uuid.New().String(), sessionNamespace)
	sess.CreatedAt = now
	sess.UpdatedAt = now

	if _, err := s.db.ExecContext(ctx, q,
		sess.ID,
		sess.UserID,
		sess.Email,
		sess.AccessToken,
		sess.RefreshToken,
		sess.ExpiresAt,
		sess.CreatedAt,
		sess.UpdatedAt,
	); err != nil {
		return Session{}, fmt.Errorf("error creating session: %s", err)
	}

	return sess, nil
}

// Get fetches a session by id. Missing rows come back as
// trendlens.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (Session, error) {
	const q = `SELECT * FROM sessions WHERE id = ?;`

	var sess Session
	if err := s.db.GetContext(ctx, &sess, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, trendlens.ErrNotFound
		}
		return Session{}, fmt.Errorf("error selecting session: %s", err)
	}

	return sess, nil
}

// UpdateTokens swaps in a refreshed grant's tokens.
func (s *Store) UpdateTokens(ctx context.Context, id, accessToken, refreshToken string, expiresAt time.Time) error {
	const q = `UPDATE sessions SET
		access_token = ?,
		refresh_token = ?,
		expires_at = ?,
		updated_at = ?
	WHERE id = ?;`

	if _, err := s.db.ExecContext(ctx, q, accessToken, refreshToken, expiresAt, time.Now().UTC(), id); err != nil {
		return fmt.Errorf("error updating session tokens: %s", err)
	}

	return nil
}

// Delete removes one session.
func (s *Store) Delete(ctx context.Context, id string) error {
	const q = `DELETE FROM sessions WHERE id = ?;`

	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("error deleting session: %s", err)
	}

	return nil
}

// DeleteForUser removes every session the user has, e.g. after a password
// change upstream.
func (s *Store) DeleteForUser(ctx context.Context, userID string) error {
	const q = `DELETE FROM sessions WHERE user_id = ?;`

	if _, err := s.db.ExecContext(ctx, q, userID); err != nil {
		return fmt.Errorf("error deleting user sessions: %s", err)
	}

	return nil
}

// DeleteStale removes rows whose tokens expired before the cutoff. The
// janitor calls this; a session the middleware could still refresh is not
// stale, hence the cutoff rather than now.
func (s *Store) DeleteStale(ctx context.Context, cutoff time.Time) (int64, error) {
	query, args, err := sq.Delete("sessions").Where(sq.Lt{"expires_at": cutoff}).ToSql()
	if err != nil {
		return 0, fmt.Errorf("error generating SQL query: %s", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("error deleting stale sessions: %s", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("error counting deleted sessions: %s", err)
	}

	return n, nil
}

// Count returns how many session rows exist.
func (s *Store) Count(ctx context.Context) (int, error) {
	query, args, err := sq.Select("COUNT(*)").From("sessions").ToSql()
	if err != nil {
		return 0, fmt.Errorf("error generating SQL query: %s", err)
	}

	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return 0, fmt.Errorf("error counting sessions: %s", err)
	}

	return n, nil
}
