// Package store keeps the authenticated user's tasks in memory, merging REST
// snapshots with push channel events.
//
// Mutations never touch the collection. A created, updated or deleted task
// becomes visible only when the matching push event arrives. Every session
// start gets a new epoch; fetch results and events tagged with an older
// epoch are dropped.
package store

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"taskboard/internal/channel"
	"taskboard/internal/domain"
	"taskboard/internal/session"
)

// State is the push channel connection state.
type State int

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "disconnected"
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// TaskAPI is the part of the REST client the store needs. *api.Client
// implements it.
type TaskAPI interface {
	ListTasks(ctx context.Context) ([]domain.Task, error)
	CreateTask(ctx context.Context, task domain.Task) (domain.Task, error)
	UpdateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, error)
	DeleteTask(ctx context.Context, id string) error
}

// Dialer opens the push channel. *channel.Dialer implements it.
type Dialer interface {
	Dial(ctx context.Context, token string, epoch uint64, h channel.Handler) (*channel.Conn, error)
}

// Session is the auth session the store follows. *session.Session
// implements it.
type Session interface {
	Current() session.Snapshot
	Subscribe(fn func(session.Snapshot)) func()
}

// fetchTimeout bounds a shared snapshot request, which outlives the
// caller that started it.
const fetchTimeout = 30 * time.Second

type Option func(*Store)

// WithDialer enables the push channel. Without it the store only loads
// snapshots.
func WithDialer(d Dialer) Option { return func(s *Store) { s.dialer = d } }

func WithLogger(l *slog.Logger) Option { return func(s *Store) { s.logger = l } }

func WithClock(now func() time.Time) Option { return func(s *Store) { s.now = now } }

type Store struct {
	api    TaskAPI
	dialer Dialer
	sess   Session
	logger *slog.Logger
	now    func() time.Time

	fetches singleflight.Group
	wg      sync.WaitGroup
	life    context.Context
	kill    context.CancelFunc

	// notifyMu orders listener delivery. It is taken before mu and never
	// held while closing a connection.
	notifyMu sync.Mutex

	mu          sync.Mutex
	tasks       []domain.Task
	loading     int
	lastErr     error
	state       State
	epoch       uint64
	user        domain.User
	token       string
	launched    bool
	started     bool
	closed      bool
	conn        *channel.Conn
	bg          context.Context
	cancel      context.CancelFunc
	unsubscribe func()
	listeners   map[int]func(Change)
	nextID      int

	// journal holds the events applied while a snapshot of journalEpoch
	// is in flight; they are replayed over the snapshot.
	journal      []pushEvent
	journalEpoch uint64
}

// New creates a store following sess. Call Start to connect the push
// channel and load the first snapshot.
func New(api TaskAPI, sess Session, opts ...Option) *Store {
	s := &Store{
		api:       api,
		sess:      sess,
		logger:    slog.Default(),
		now:       time.Now,
		listeners: make(map[int]func(Change)),
	}
	s.life, s.kill = context.WithCancel(context.Background())
	for _, opt := range opts {
		opt(s)
	}
	s.adoptLocked(sess.Current())
	return s
}

// Start subscribes to session transitions and starts the current session,
// if any. Background work stops when ctx is cancelled or Close is called.
func (s *Store) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.bg, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	unsubscribe := s.sess.Subscribe(s.sessionChanged)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	s.sessionChanged(s.sess.Current())
}

// Close stops following the session and closes the push channel.
func (s *Store) Close() error {
	s.notifyMu.Lock()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return nil
	}
	s.closed = true
	conn, unsubscribe, cancel := s.conn, s.unsubscribe, s.cancel
	s.conn = nil
	changed := s.state != Disconnected
	s.state = Disconnected
	var ch Change
	if changed {
		ch = s.changeLocked(ChangeState, domain.Task{}, "")
	}
	s.mu.Unlock()
	if changed {
		s.notify(ch)
	}
	s.notifyMu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
	}
	s.kill()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	s.wg.Wait()
	return err
}

// adoptLocked makes snap the store's session without connecting. Any change
// of epoch drops the collection and the last error.
func (s *Store) adoptLocked(snap session.Snapshot) {
	if snap.Epoch != s.epoch {
		s.tasks = nil
		s.lastErr = nil
		s.journal = nil
	}
	s.epoch = snap.Epoch
	s.user = snap.User
	s.token = snap.Token
}

func (s *Store) authenticatedLocked() bool {
	return s.token != "" && s.user.ID != ""
}

// sessionChanged tears down the previous session's channel and collection,
// then starts the new session when it is authenticated.
func (s *Store) sessionChanged(snap session.Snapshot) {
	s.notifyMu.Lock()
	s.mu.Lock()
	if s.closed || (s.launched && snap.Epoch == s.epoch) {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return
	}
	s.adoptLocked(snap)
	s.launched = true
	old := s.conn
	s.conn = nil
	authed := s.authenticatedLocked()
	if authed && s.dialer != nil {
		s.state = Connecting
	} else {
		s.state = Disconnected
	}
	epoch, token, bg := s.epoch, s.token, s.bg
	ch := s.changeLocked(ChangeReset, domain.Task{}, "")
	s.mu.Unlock()
	s.notify(ch)
	s.notifyMu.Unlock()

	if old != nil {
		if err := old.Close(); err != nil {
			s.logger.Debug("closing push channel", "epoch", old.Epoch, "error", err)
		}
	}
	s.logger.Info("session changed", "epoch", epoch, "user", snap.User.ID, "authenticated", authed)
	if !authed {
		return
	}
	s.wg.Add(1)
	go s.startSession(bg, epoch, token)
}

// startSession connects the push channel and then loads exactly one
// snapshot for the epoch. A failed connection still loads the snapshot.
func (s *Store) startSession(ctx context.Context, epoch uint64, token string) {
	defer s.wg.Done()
	if s.dialer != nil {
		s.connect(ctx, epoch, token)
	}
	if !s.isCurrent(epoch) {
		return
	}
	if err := s.refresh(ctx, epoch); err != nil {
		s.logger.Warn("initial task load failed", "epoch", epoch, "error", err)
	}
}

func (s *Store) connect(ctx context.Context, epoch uint64, token string) {
	conn, err := s.dialer.Dial(ctx, token, epoch, pushHandler{s})

	s.notifyMu.Lock()
	s.mu.Lock()
	current := !s.closed && s.epoch == epoch
	var stale *channel.Conn
	switch {
	case err != nil:
		if current {
			s.state = Disconnected
		}
	case !current:
		stale = conn
	default:
		select {
		case <-conn.Done():
			s.state = Disconnected
		default:
			s.conn = conn
			s.state = Connected
		}
	}
	var ch Change
	if current {
		ch = s.changeLocked(ChangeState, domain.Task{}, "")
	}
	s.mu.Unlock()
	if current {
		s.notify(ch)
	}
	s.notifyMu.Unlock()

	if err != nil {
		s.logger.Warn("push channel unavailable", "epoch", epoch, "error", err)
	}
	if stale != nil {
		s.logger.Debug("closing push channel for ended session", "epoch", epoch)
		_ = stale.Close()
	}
}

func (s *Store) isCurrent(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.epoch == epoch
}

// syncLocked refreshes the adopted session when the store is not following
// transitions, so one-shot use without Start sees the live session.
func (s *Store) syncLocked() {
	if !s.started {
		s.adoptLocked(s.sess.Current())
	}
}

// RefreshTasks replaces the collection with a fresh snapshot. Concurrent
// calls for the same session share one request. A result that arrives after
// the session changed is dropped.
func (s *Store) RefreshTasks(ctx context.Context) error {
	s.mu.Lock()
	s.syncLocked()
	epoch := s.epoch
	s.mu.Unlock()
	return s.refresh(ctx, epoch)
}

func (s *Store) refresh(ctx context.Context, epoch uint64) error {
	authed := s.begin(epoch)
	defer s.end()
	if !authed {
		return s.fail(epoch, &domain.FetchError{Op: "fetch tasks", Err: domain.ErrNotAuthenticated})
	}

	res := s.fetches.DoChan(strconv.FormatUint(epoch, 10), func() (any, error) {
		return nil, s.fetch(ctx, epoch)
	})
	select {
	case r := <-res:
		if r.Err != nil {
			return s.fail(epoch, &domain.FetchError{Op: "fetch tasks", Err: r.Err})
		}
		return nil
	case <-ctx.Done():
		// The shared request keeps running for the other callers.
		return &domain.FetchError{Op: "fetch tasks", Err: ctx.Err()}
	}
}

// fetch loads a snapshot for epoch and installs it. It runs once per
// coalesced refresh, detached from the callers' cancellation, and stops
// when the store closes.
func (s *Store) fetch(ctx context.Context, epoch uint64) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
	defer cancel()
	stop := context.AfterFunc(s.life, cancel)
	defer stop()

	s.mu.Lock()
	if s.epoch == epoch {
		s.journal = []pushEvent{}
		s.journalEpoch = epoch
	}
	s.mu.Unlock()

	tasks, err := s.api.ListTasks(ctx)

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	var journal []pushEvent
	if s.journalEpoch == epoch {
		journal, s.journal = s.journal, nil
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	if s.closed || s.epoch != epoch {
		s.mu.Unlock()
		s.logger.Debug("dropping snapshot for ended session", "epoch", epoch)
		return nil
	}
	s.tasks = make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		s.tasks = upsert(s.tasks, t)
	}
	for _, ev := range journal {
		s.applyLocked(ev)
	}
	if len(journal) > 0 {
		s.logger.Debug("replayed events over snapshot", "epoch", epoch, "events", len(journal))
	}
	ch := s.changeLocked(ChangeSnapshot, domain.Task{}, "")
	s.mu.Unlock()
	s.notify(ch)
	return nil
}

// AddTask validates draft, stamps the owner and creation time, and posts
// it. The acknowledged task is returned but not added; the collection
// changes when the created event arrives.
func (s *Store) AddTask(ctx context.Context, draft domain.Draft) (domain.Task, error) {
	s.mu.Lock()
	s.syncLocked()
	epoch, user := s.epoch, s.user
	s.mu.Unlock()

	authed := s.begin(epoch)
	defer s.end()
	if !authed {
		return domain.Task{}, s.fail(epoch, &domain.MutationError{Op: "create task", Err: domain.ErrNotAuthenticated})
	}
	draft = draft.Normalize()
	if err := draft.Validate(); err != nil {
		return domain.Task{}, s.fail(epoch, &domain.MutationError{Op: "create task", Err: err})
	}
	created, err := s.api.CreateTask(ctx, draft.Stamp(user.ID, s.now()))
	if err != nil {
		return domain.Task{}, s.fail(epoch, &domain.MutationError{Op: "create task", Err: err})
	}
	return created, nil
}

// UpdateTask sends a partial update. The collection changes when the
// updated event arrives.
func (s *Store) UpdateTask(ctx context.Context, id string, patch domain.Patch) error {
	return s.mutate(ctx, "update task", id, func() error {
		if err := patch.Validate(); err != nil {
			return err
		}
		_, err := s.api.UpdateTask(ctx, id, patch)
		return err
	})
}

// RemoveTask deletes a task remotely. The collection changes when the
// deleted event arrives.
func (s *Store) RemoveTask(ctx context.Context, id string) error {
	return s.mutate(ctx, "delete task", id, func() error {
		return s.api.DeleteTask(ctx, id)
	})
}

func (s *Store) mutate(ctx context.Context, op, id string, call func() error) error {
	s.mu.Lock()
	s.syncLocked()
	epoch := s.epoch
	s.mu.Unlock()

	authed := s.begin(epoch)
	defer s.end()
	if !authed {
		return s.fail(epoch, &domain.MutationError{Op: op, TaskID: id, Err: domain.ErrNotAuthenticated})
	}
	if err := call(); err != nil {
		return s.fail(epoch, &domain.MutationError{Op: op, TaskID: id, Err: err})
	}
	return nil
}

// begin marks an operation outstanding and clears the previous error. It
// reports whether the session of epoch is authenticated.
func (s *Store) begin(epoch uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading++
	if s.epoch == epoch {
		s.lastErr = nil
	}
	return s.epoch == epoch && s.authenticatedLocked()
}

func (s *Store) end() {
	s.mu.Lock()
	s.loading--
	s.mu.Unlock()
}

// fail records err as the last error unless the session moved on, and
// returns it.
func (s *Store) fail(epoch uint64, err error) error {
	s.mu.Lock()
	if s.epoch == epoch {
		s.lastErr = err
	}
	s.mu.Unlock()
	return err
}

// Tasks returns a copy of the collection in arrival order.
func (s *Store) Tasks() []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.tasks...)
}

// Filter projects the collection; the result is not stored.
func (s *Store) Filter(f domain.Filter) []domain.Task {
	return domain.FilterTasks(s.Tasks(), f)
}

// Stats recomputes the statistics from the collection.
func (s *Store) Stats() domain.Stats {
	return domain.ComputeStats(s.Tasks(), s.now())
}

// Loading reports whether any fetch or mutation is outstanding.
func (s *Store) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading > 0
}

func (s *Store) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *Store) ClearError() {
	s.mu.Lock()
	s.lastErr = nil
	s.mu.Unlock()
}

func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
