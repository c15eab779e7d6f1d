package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"taskboard/internal/api"
	"taskboard/internal/channel"
	"taskboard/internal/config"
	"taskboard/internal/db"
	"taskboard/internal/domain"
	"taskboard/internal/migrate"
	"taskboard/internal/repo"
	"taskboard/internal/session"
	"taskboard/internal/store"
)

// Overrides take precedence over taskboard.yml.
type Overrides struct {
	APIURL string
	WSURL  string
}

// Env wires the client components for one workspace.
type Env struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Client    *api.Client
	Session   *session.Session
	Logger    *slog.Logger
}

// Open loads the workspace config, applies overrides, opens the session
// database and restores a saved session. With session.validate_on_start
// the restored token is checked remotely and dropped when rejected.
func Open(ctx context.Context, workspace string, o Overrides, logger *slog.Logger) (*Env, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := ResolveConfig(workspace, o)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := checkSchema(ctx, conn, logger); err != nil {
		conn.Close()
		return nil, err
	}
	r := repo.Repo{DB: conn}

	client := api.New(cfg.API.BaseURL, nil)
	client.Timeout = cfg.APITimeout()
	sess := session.New(
		session.WithAuthenticator(client),
		session.WithPersister(r),
		session.WithAPIURL(cfg.API.BaseURL),
		session.WithLogger(logger),
	)
	client.Tokens = sess

	env := &Env{Workspace: workspace, Config: cfg, DB: conn, Repo: r, Client: client, Session: sess, Logger: logger}
	restored, err := sess.Restore(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if restored && cfg.Session.ValidateOnStart {
		if err := env.ValidateSession(ctx); err != nil {
			logger.Warn("saved session rejected", "error", err)
		}
	}
	return env, nil
}

// checkSchema migrates the workspace database and refuses one written by a
// newer release.
func checkSchema(ctx context.Context, conn *sql.DB, logger *slog.Logger) error {
	if err := migrate.Migrate(ctx, conn); err != nil {
		return err
	}
	current, err := migrate.Version(ctx, conn)
	if err != nil {
		return err
	}
	latest, err := migrate.Latest()
	if err != nil {
		return err
	}
	if current > latest {
		return fmt.Errorf("workspace schema version %d is newer than supported version %d", current, latest)
	}
	logger.Debug("workspace schema", "version", current)
	return nil
}

// ResolveConfig reads taskboard.yml (or the defaults) and applies o.
func ResolveConfig(workspace string, o Overrides) (*config.Config, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if o.APIURL != "" {
		cfg.API.BaseURL = o.APIURL
	}
	if o.WSURL != "" {
		cfg.Channel.URL = o.WSURL
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateSession asks the server whether the current token is accepted and
// logs out when it answers 401.
func (e *Env) ValidateSession(ctx context.Context) error {
	err := e.Client.ValidateToken(ctx)
	var apiErr *api.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
		if logoutErr := e.Session.Logout(ctx); logoutErr != nil {
			return logoutErr
		}
		return fmt.Errorf("session expired; run tb login: %w", domain.ErrNotAuthenticated)
	}
	return err
}

// RequireSession fails when nobody is logged in.
func (e *Env) RequireSession() error {
	if !e.Session.Authenticated() {
		return fmt.Errorf("%w; run tb login", domain.ErrNotAuthenticated)
	}
	return nil
}

// NewStore builds a task store on the env's session. live enables the push
// channel.
func (e *Env) NewStore(live bool) *store.Store {
	opts := []store.Option{store.WithLogger(e.Logger)}
	if live {
		opts = append(opts, store.WithDialer(&channel.Dialer{
			URL:              e.Config.ChannelURL(),
			HandshakeTimeout: e.Config.HandshakeTimeout(),
			Logger:           e.Logger,
		}))
	}
	return store.New(e.Client, e.Session, opts...)
}

func (e *Env) Close() error {
	return e.DB.Close()
}
