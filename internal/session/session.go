// Package session owns the authenticated identity and its token. Every
// transition starts a new epoch and is pushed to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"taskboard/internal/api"
	"taskboard/internal/domain"
	"taskboard/internal/repo"
)

// Snapshot is the session as seen at one point in time.
type Snapshot struct {
	User  domain.User
	Token string
	Epoch uint64
}

// Authenticated reports whether both a user and a token are present.
func (s Snapshot) Authenticated() bool {
	return s.Token != "" && s.User.ID != ""
}

// Persister stores the session between runs. repo.Repo implements it.
type Persister interface {
	SaveSession(ctx context.Context, s repo.StoredSession) error
	LoadSession(ctx context.Context) (repo.StoredSession, error)
	ClearSession(ctx context.Context) error
}

// Authenticator performs the remote login and register calls. *api.Client
// implements it.
type Authenticator interface {
	Login(ctx context.Context, creds api.Credentials) (api.AuthResponse, error)
	Register(ctx context.Context, reg api.Registration) (api.AuthResponse, error)
}

type Option func(*Session)

func WithPersister(p Persister) Option         { return func(s *Session) { s.persist = p } }
func WithAuthenticator(a Authenticator) Option { return func(s *Session) { s.auth = a } }
func WithLogger(l *slog.Logger) Option         { return func(s *Session) { s.logger = l } }
func WithClock(now func() time.Time) Option    { return func(s *Session) { s.now = now } }

// WithAPIURL records which server the persisted token belongs to.
func WithAPIURL(u string) Option { return func(s *Session) { s.apiURL = u } }

// Session is safe for concurrent use. Listeners run synchronously, in
// transition order, and must not start a transition themselves.
type Session struct {
	notifyMu sync.Mutex

	mu        sync.Mutex
	cur       Snapshot
	listeners map[int]func(Snapshot)
	nextID    int

	persist Persister
	auth    Authenticator
	apiURL  string
	logger  *slog.Logger
	now     func() time.Time
}

func New(opts ...Option) *Session {
	s := &Session{
		listeners: make(map[int]func(Snapshot)),
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Session) Current() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Session) Authenticated() bool {
	return s.Current().Authenticated()
}

// Token implements api.TokenSource.
func (s *Session) Token() string {
	return s.Current().Token
}

// Subscribe registers fn for every later transition and returns a function
// that removes it.
func (s *Session) Subscribe(fn func(Snapshot)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Set installs user and token. Setting the identity already held is a
// no-op; anything else starts a new epoch.
func (s *Session) Set(user domain.User, token string) Snapshot {
	return s.transition(func(cur Snapshot) (Snapshot, bool) {
		if cur.User == user && cur.Token == token {
			return cur, false
		}
		return Snapshot{User: user, Token: token, Epoch: cur.Epoch + 1}, true
	})
}

// Clear ends the session. Clearing an empty session is a no-op.
func (s *Session) Clear() Snapshot {
	return s.transition(func(cur Snapshot) (Snapshot, bool) {
		if cur.Token == "" && cur.User.ID == "" {
			return cur, false
		}
		return Snapshot{Epoch: cur.Epoch + 1}, true
	})
}

func (s *Session) transition(next func(Snapshot) (Snapshot, bool)) Snapshot {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	snap, changed := next(s.cur)
	if !changed {
		s.mu.Unlock()
		return snap
	}
	s.cur = snap
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Snapshot), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.listeners[id])
	}
	s.mu.Unlock()

	s.logger.Debug("session transition", "user", snap.User.ID, "epoch", snap.Epoch, "authenticated", snap.Authenticated())
	for _, fn := range fns {
		fn(snap)
	}
	return snap
}

func (s *Session) Login(ctx context.Context, creds api.Credentials) (domain.User, error) {
	if s.auth == nil {
		return domain.User{}, errors.New("session has no authenticator")
	}
	resp, err := s.auth.Login(ctx, creds)
	if err != nil {
		return domain.User{}, err
	}
	return s.establish(ctx, resp)
}

func (s *Session) Register(ctx context.Context, reg api.Registration) (domain.User, error) {
	if s.auth == nil {
		return domain.User{}, errors.New("session has no authenticator")
	}
	resp, err := s.auth.Register(ctx, reg)
	if err != nil {
		return domain.User{}, err
	}
	return s.establish(ctx, resp)
}

func (s *Session) establish(ctx context.Context, resp api.AuthResponse) (domain.User, error) {
	if resp.Token == "" || resp.User.ID == "" {
		return domain.User{}, errors.New("server returned an incomplete session")
	}
	if s.persist != nil {
		stored := repo.StoredSession{User: resp.User, Token: resp.Token, APIURL: s.apiURL, SavedAt: s.now()}
		if err := s.persist.SaveSession(ctx, stored); err != nil {
			return domain.User{}, fmt.Errorf("save session: %w", err)
		}
	}
	s.Set(resp.User, resp.Token)
	return resp.User, nil
}

// Logout clears the session in memory and on disk. The in-memory session
// ends even when the persisted copy cannot be removed.
func (s *Session) Logout(ctx context.Context) error {
	s.Clear()
	if s.persist == nil {
		return nil
	}
	if err := s.persist.ClearSession(ctx); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Restore loads a persisted session. Expired tokens and tokens saved for a
// different server are discarded. It reports whether a session is now active.
func (s *Session) Restore(ctx context.Context) (bool, error) {
	if s.persist == nil {
		return false, nil
	}
	stored, err := s.persist.LoadSession(ctx)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load session: %w", err)
	}
	if s.apiURL != "" && stored.APIURL != "" && stored.APIURL != s.apiURL {
		s.logger.Info("discarding session saved for another server", "saved", stored.APIURL, "current", s.apiURL)
		return false, s.persist.ClearSession(ctx)
	}
	if exp, ok := TokenExpiry(stored.Token); ok && !exp.After(s.now()) {
		s.logger.Info("discarding expired session", "user", stored.User.ID, "expired", exp)
		return false, s.persist.ClearSession(ctx)
	}
	s.Set(stored.User, stored.Token)
	return true, nil
}

// TokenExpiry reads the exp claim of a JWT without verifying its signature.
// ok is false for opaque tokens and tokens without exp.
func TokenExpiry(token string) (exp time.Time, ok bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}
