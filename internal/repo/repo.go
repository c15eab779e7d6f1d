// Package repo persists the authenticated session. Task data is never
// written to disk.
package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"taskboard/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// StoredSession is the persisted identity and token.
type StoredSession struct {
	User    domain.User
	Token   string
	APIURL  string
	SavedAt time.Time
}

// SaveSession replaces the stored session.
func (r Repo) SaveSession(ctx context.Context, s StoredSession) error {
	if s.SavedAt.IsZero() {
		s.SavedAt = time.Now()
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO session(id,user_id,username,email,token,api_url,saved_at) VALUES (1,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET user_id=excluded.user_id, username=excluded.username, email=excluded.email,
		token=excluded.token, api_url=excluded.api_url, saved_at=excluded.saved_at`,
		s.User.ID, s.User.Username, s.User.Email, s.Token, s.APIURL, s.SavedAt.UTC().Format(time.RFC3339Nano))
	return err
}

// LoadSession returns ErrNotFound when nobody is logged in.
func (r Repo) LoadSession(ctx context.Context) (StoredSession, error) {
	var (
		s       StoredSession
		savedAt string
	)
	err := r.DB.QueryRowContext(ctx, `SELECT user_id,username,email,token,api_url,saved_at FROM session WHERE id=1`).
		Scan(&s.User.ID, &s.User.Username, &s.User.Email, &s.Token, &s.APIURL, &savedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	if err != nil {
		return s, err
	}
	s.SavedAt, err = time.Parse(time.RFC3339Nano, savedAt)
	return s, err
}

func (r Repo) ClearSession(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `DELETE FROM session`)
	return err
}
