package store

import (
	"taskboard/internal/domain"
)

type ChangeKind string

const (
	// ChangeReset follows a session transition; the collection was emptied.
	ChangeReset    ChangeKind = "reset"
	ChangeSnapshot ChangeKind = "snapshot"
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeState    ChangeKind = "state"
)

// Change describes one update of the store. Stats is recomputed from the
// collection after the update.
type Change struct {
	Kind   ChangeKind   `json:"kind"`
	Epoch  uint64       `json:"epoch"`
	TaskID string       `json:"taskId,omitempty"`
	Task   domain.Task  `json:"task"`
	State  State        `json:"state"`
	Count  int          `json:"count"`
	Stats  domain.Stats `json:"stats"`
}

// Subscribe registers fn for every later change. Listeners run on the
// goroutine that made the change, one at a time, and must not call the
// store's mutating methods.
func (s *Store) Subscribe(fn func(Change)) func() {
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

func (s *Store) changeLocked(kind ChangeKind, task domain.Task, id string) Change {
	return Change{
		Kind:   kind,
		Epoch:  s.epoch,
		TaskID: id,
		Task:   task,
		State:  s.state,
		Count:  len(s.tasks),
		Stats:  domain.ComputeStats(s.tasks, s.now()),
	}
}

// notify must be called with notifyMu held and mu released.
func (s *Store) notify(ch Change) {
	s.mu.Lock()
	fns := make([]func(Change), 0, len(s.listeners))
	for id := 0; id < s.nextID; id++ {
		if fn, ok := s.listeners[id]; ok {
			fns = append(fns, fn)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn(ch)
	}
}

// pushHandler feeds channel events into the reducers.
type pushHandler struct {
	s *Store
}

func (h pushHandler) TaskCreated(epoch uint64, t domain.Task) { h.s.applyCreated(epoch, t) }
func (h pushHandler) TaskUpdated(epoch uint64, t domain.Task) { h.s.applyUpdated(epoch, t) }
func (h pushHandler) TaskDeleted(epoch uint64, id string)     { h.s.applyDeleted(epoch, id) }
func (h pushHandler) Closed(epoch uint64, err error)          { h.s.channelClosed(epoch, err) }

// pushEvent is one decoded channel event. Deleted events carry only ID.
type pushEvent struct {
	kind ChangeKind
	task domain.Task
	id   string
}

// reduce applies ev when epoch is current and delivers the resulting
// change. Events arriving while a snapshot is in flight are journaled too.
func (s *Store) reduce(epoch uint64, ev pushEvent) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()
	s.mu.Lock()
	if s.closed || epoch != s.epoch || !s.authenticatedLocked() {
		s.mu.Unlock()
		s.logger.Debug("dropping push event for ended session", "epoch", epoch)
		return
	}
	if s.journal != nil && s.journalEpoch == epoch {
		s.journal = append(s.journal, ev)
	}
	ch, changed := s.applyLocked(ev)
	s.mu.Unlock()
	if changed {
		s.notify(ch)
	}
}

func (s *Store) applyCreated(epoch uint64, t domain.Task) {
	s.reduce(epoch, pushEvent{kind: ChangeCreated, task: t, id: t.ID})
}

func (s *Store) applyUpdated(epoch uint64, t domain.Task) {
	s.reduce(epoch, pushEvent{kind: ChangeUpdated, task: t, id: t.ID})
}

func (s *Store) applyDeleted(epoch uint64, id string) {
	s.reduce(epoch, pushEvent{kind: ChangeDeleted, id: id})
}

// applyLocked folds ev into the collection. A created task replaces the
// entry with the same id so a repeated event never duplicates it; updates
// and deletes of unknown ids are ignored.
func (s *Store) applyLocked(ev pushEvent) (Change, bool) {
	switch ev.kind {
	case ChangeCreated:
		if !s.ownsLocked(ev.task) {
			return Change{}, false
		}
		s.tasks = upsert(s.tasks, ev.task)
		return s.changeLocked(ChangeCreated, ev.task, ev.id), true
	case ChangeUpdated:
		i := indexOf(s.tasks, ev.id)
		if i < 0 || !s.ownsLocked(ev.task) {
			return Change{}, false
		}
		s.tasks[i] = ev.task
		return s.changeLocked(ChangeUpdated, ev.task, ev.id), true
	case ChangeDeleted:
		i := indexOf(s.tasks, ev.id)
		if i < 0 {
			return Change{}, false
		}
		removed := s.tasks[i]
		s.tasks = append(s.tasks[:i:i], s.tasks[i+1:]...)
		return s.changeLocked(ChangeDeleted, removed, ev.id), true
	}
	return Change{}, false
}

func (s *Store) ownsLocked(t domain.Task) bool {
	if t.UserID != "" && t.UserID != s.user.ID {
		s.logger.Warn("ignoring task of another user", "task", t.ID, "owner", t.UserID)
		return false
	}
	return true
}

func (s *Store) channelClosed(epoch uint64, err error) {
	s.notifyMu.Lock()
	s.mu.Lock()
	if s.closed || epoch != s.epoch || s.conn == nil || s.conn.Epoch != epoch {
		s.mu.Unlock()
		s.notifyMu.Unlock()
		return
	}
	s.conn = nil
	s.state = Disconnected
	ch := s.changeLocked(ChangeState, domain.Task{}, "")
	s.mu.Unlock()
	s.notify(ch)
	s.notifyMu.Unlock()

	if err != nil {
		s.logger.Warn("push channel lost", "epoch", epoch, "error", err)
	}
}

func indexOf(tasks []domain.Task, id string) int {
	for i, t := range tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}

func upsert(tasks []domain.Task, t domain.Task) []domain.Task {
	if i := indexOf(tasks, t.ID); i >= 0 {
		tasks[i] = t
		return tasks
	}
	return append(tasks, t)
}
