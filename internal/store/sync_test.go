package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/api"
	"taskboard/internal/apitest"
	"taskboard/internal/channel"
	"taskboard/internal/domain"
	"taskboard/internal/session"
)

const waitFor = 3 * time.Second

type liveEnv struct {
	srv   *apitest.Server
	sess  *session.Session
	store *Store
	ada   domain.User
}

func newLiveEnv(t *testing.T) liveEnv {
	t.Helper()
	srv := apitest.New(t)
	ada := srv.AddUser("ada", "ada@example.com", "secret")
	client := api.New(srv.URL, nil)
	sess := session.New(session.WithAuthenticator(client))
	client.Tokens = sess
	st := New(client, sess, WithDialer(&channel.Dialer{URL: srv.WSURL(), HandshakeTimeout: time.Second}))
	st.Start(context.Background())
	t.Cleanup(func() { _ = st.Close() })
	return liveEnv{srv: srv, sess: sess, store: st, ada: ada}
}

func (e liveEnv) login(t *testing.T) {
	t.Helper()
	_, err := e.sess.Login(context.Background(), api.Credentials{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	e.waitConnected(t)
}

func (e liveEnv) waitConnected(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.store.State() == Connected && e.srv.CountRequests("GET /tasks") > 0 &&
			!e.store.Loading() && e.srv.Connections(e.ada.ID) == 1
	}, waitFor, 10*time.Millisecond)
}

func TestLoginConnectsAndLoadsOnce(t *testing.T) {
	env := newLiveEnv(t)
	env.srv.Seed(env.ada.ID, domain.Task{Title: "seeded", Description: "d", Status: domain.StatusTodo, Priority: domain.PriorityLow})
	assert.Equal(t, Disconnected, env.store.State())

	var (
		mu     sync.Mutex
		states []State
	)
	env.store.Subscribe(func(c Change) {
		if c.Kind == ChangeState || c.Kind == ChangeReset {
			mu.Lock()
			states = append(states, c.State)
			mu.Unlock()
		}
	})
	env.login(t)

	assert.Equal(t, 1, env.srv.CountRequests("GET /tasks"))
	require.Len(t, env.store.Tasks(), 1)
	assert.Equal(t, "seeded", env.store.Tasks()[0].Title)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []State{Connecting, Connected}, states)
}

func TestMutationsBecomeVisibleThroughEvents(t *testing.T) {
	env := newLiveEnv(t)
	env.login(t)
	ctx := context.Background()

	created, err := env.store.AddTask(ctx, domain.Draft{Title: "Ship", Description: "v1", Priority: domain.PriorityHigh})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(env.store.Tasks()) == 1 }, waitFor, 10*time.Millisecond)
	got := env.store.Tasks()[0]
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, env.ada.ID, got.UserID)

	status := domain.StatusCompleted
	require.NoError(t, env.store.UpdateTask(ctx, created.ID, domain.Patch{Status: &status}))
	require.Eventually(t, func() bool {
		ts := env.store.Tasks()
		return len(ts) == 1 && ts[0].Status == domain.StatusCompleted
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, 1, env.store.Stats().Completed)

	require.NoError(t, env.store.RemoveTask(ctx, created.ID))
	require.Eventually(t, func() bool { return len(env.store.Tasks()) == 0 }, waitFor, 10*time.Millisecond)
}

func TestWithoutEchoCollectionStaysUnchanged(t *testing.T) {
	env := newLiveEnv(t)
	env.login(t)
	env.srv.SetSilent(true)

	_, err := env.store.AddTask(context.Background(), domain.Draft{Title: "quiet", Description: "d"})
	require.NoError(t, err)
	require.Len(t, env.srv.Tasks(env.ada.ID), 1)
	time.Sleep(100 * time.Millisecond)
	assert.Empty(t, env.store.Tasks())

	require.NoError(t, env.store.RefreshTasks(context.Background()))
	assert.Len(t, env.store.Tasks(), 1)
}

func TestLogoutAndLoginAgain(t *testing.T) {
	env := newLiveEnv(t)
	env.srv.Seed(env.ada.ID, domain.Task{Title: "a", Description: "d", Status: domain.StatusTodo, Priority: domain.PriorityLow})
	env.login(t)
	require.Len(t, env.store.Tasks(), 1)

	require.NoError(t, env.sess.Logout(context.Background()))
	assert.Empty(t, env.store.Tasks())
	assert.Equal(t, Disconnected, env.store.State())
	require.Eventually(t, func() bool { return env.srv.Connections(env.ada.ID) == 0 }, waitFor, 10*time.Millisecond)

	env.srv.ResetRequests()
	env.login(t)
	assert.Equal(t, 1, env.srv.CountRequests("GET /tasks"))
	assert.Len(t, env.store.Tasks(), 1)
}

func TestIdentityChangeSwapsChannel(t *testing.T) {
	env := newLiveEnv(t)
	bob := env.srv.AddUser("bob", "bob@example.com", "pw")
	env.srv.Seed(env.ada.ID, domain.Task{Title: "ada's", Description: "d", Status: domain.StatusTodo, Priority: domain.PriorityLow})
	env.srv.Seed(bob.ID, domain.Task{Title: "bob's", Description: "d", Status: domain.StatusTodo, Priority: domain.PriorityLow})
	env.login(t)

	_, err := env.sess.Login(context.Background(), api.Credentials{Email: "bob@example.com", Password: "pw"})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		ts := env.store.Tasks()
		return env.store.State() == Connected && len(ts) == 1 && ts[0].Title == "bob's"
	}, waitFor, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		return env.srv.Connections(env.ada.ID) == 0 && env.srv.Connections(bob.ID) == 1
	}, waitFor, 10*time.Millisecond)

	env.srv.Push(env.ada.ID, apitest.EventTaskCreated, domain.Task{ID: "late", Title: "x", UserID: env.ada.ID})
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, env.store.Tasks(), 1)
}

func TestDuplicateAndOutOfOrderPushes(t *testing.T) {
	env := newLiveEnv(t)
	env.login(t)
	id := env.ada.ID

	env.srv.Push(id, apitest.EventTaskUpdated, domain.Task{ID: "ghost", Title: "nope", UserID: id})
	env.srv.Push(id, apitest.EventTaskDeleted, "ghost")
	env.srv.Push(id, apitest.EventTaskCreated, domain.Task{ID: "t1", Title: "first", UserID: id, Status: domain.StatusTodo})
	env.srv.Push(id, apitest.EventTaskCreated, domain.Task{ID: "t1", Title: "second", UserID: id, Status: domain.StatusTodo})
	env.srv.Push(id, apitest.EventTaskCreated, domain.Task{ID: "t2", Title: "marker", UserID: id, Status: domain.StatusTodo})

	require.Eventually(t, func() bool { return len(env.store.Tasks()) == 2 }, waitFor, 10*time.Millisecond)
	ts := env.store.Tasks()
	assert.Equal(t, "second", ts[0].Title)
	assert.Equal(t, "marker", ts[1].Title)
}

func TestServerDropMovesToDisconnected(t *testing.T) {
	env := newLiveEnv(t)
	env.login(t)
	env.srv.Close()
	require.Eventually(t, func() bool { return env.store.State() == Disconnected }, waitFor, 10*time.Millisecond)
}

func TestUnreachableChannelStillLoadsSnapshot(t *testing.T) {
	srv := apitest.New(t)
	ada := srv.AddUser("ada", "ada@example.com", "secret")
	srv.Seed(ada.ID, domain.Task{Title: "a", Description: "d", Status: domain.StatusTodo, Priority: domain.PriorityLow})
	sess := session.New()
	client := api.New(srv.URL, sess)
	st := New(client, sess, WithDialer(&channel.Dialer{URL: "ws://127.0.0.1:1/ws", HandshakeTimeout: 200 * time.Millisecond}))
	st.Start(context.Background())
	t.Cleanup(func() { _ = st.Close() })

	sess.Set(ada, srv.Token(ada.ID, time.Hour))
	require.Eventually(t, func() bool { return len(st.Tasks()) == 1 && !st.Loading() }, waitFor, 10*time.Millisecond)
	assert.Equal(t, Disconnected, st.State())
}
