package api_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskboard/internal/api"
	"taskboard/internal/apitest"
	"taskboard/internal/domain"
)

func newClient(t *testing.T) (*apitest.Server, *api.Client, domain.User) {
	t.Helper()
	srv := apitest.New(t)
	user := srv.AddUser("ada", "ada@example.com", "secret")
	c := api.New(srv.URL, api.StaticToken(srv.Token(user.ID, time.Hour)))
	return srv, c, user
}

func TestLoginAndRegister(t *testing.T) {
	srv := apitest.New(t)
	srv.AddUser("ada", "ada@example.com", "secret")
	c := api.New(srv.URL, nil)
	ctx := context.Background()

	resp, err := c.Login(ctx, api.Credentials{Email: "ada@example.com", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "ada", resp.User.Username)
	assert.NotEmpty(t, resp.Token)

	_, err = c.Login(ctx, api.Credentials{Email: "ada@example.com", Password: "wrong"})
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "invalid credentials", apiErr.Error())

	_, err = c.Register(ctx, api.Registration{Username: "bob", Email: "bob@example.com", Password: "a", ConfirmPassword: "b"})
	require.EqualError(t, err, "passwords do not match")
	assert.Zero(t, srv.CountRequests("POST /auth/register"))

	reg, err := c.Register(ctx, api.Registration{Username: "bob", Email: "bob@example.com", Password: "pw", ConfirmPassword: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "bob@example.com", reg.User.Email)
	assert.NotEmpty(t, reg.User.ID)

	_, err = c.Register(ctx, api.Registration{Username: "bob", Email: "bob@example.com", Password: "pw", ConfirmPassword: "pw"})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
}

func TestRequestsWithoutTokenFailBeforeNetwork(t *testing.T) {
	srv := apitest.New(t)
	c := api.New(srv.URL, api.StaticToken(""))
	ctx := context.Background()

	_, err := c.ListTasks(ctx)
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	_, err = c.CreateTask(ctx, domain.Task{Title: "t", Description: "d"})
	require.ErrorIs(t, err, domain.ErrNotAuthenticated)
	require.ErrorIs(t, c.DeleteTask(ctx, "x"), domain.ErrNotAuthenticated)
	require.ErrorIs(t, c.ValidateToken(ctx), domain.ErrNotAuthenticated)
	assert.Empty(t, srv.Requests())
}

func TestTaskCRUD(t *testing.T) {
	srv, c, user := newClient(t)
	ctx := context.Background()

	due, _ := domain.ParseDueDate("2024-06-01")
	draft := domain.Draft{Title: "Write tests", Description: "client", DueDate: due}
	created, err := c.CreateTask(ctx, draft.Stamp(user.ID, time.Now()))
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, domain.StatusTodo, created.Status)
	assert.Equal(t, user.ID, created.UserID)

	got, err := c.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Write tests", got.Title)
	require.NotNil(t, got.DueDate)

	status := domain.StatusCompleted
	updated, err := c.UpdateTask(ctx, created.ID, domain.Patch{Status: &status, ClearDueDate: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, updated.Status)
	assert.Nil(t, updated.DueDate)

	list, err := c.ListTasks(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	stats, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Completed)

	require.NoError(t, c.DeleteTask(ctx, created.ID))
	list, err = c.ListTasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, srv.Tasks(user.ID))

	_, err = c.GetTask(ctx, created.ID)
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
	assert.Equal(t, "task not found", apiErr.Message)
}

func TestValidateToken(t *testing.T) {
	srv, c, _ := newClient(t)
	require.NoError(t, c.ValidateToken(context.Background()))

	bad := api.New(srv.URL, api.StaticToken("not-a-jwt"))
	err := bad.ValidateToken(context.Background())
	var apiErr *api.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer ts.Close()

	c := api.New(ts.URL+"/", api.StaticToken("tok"))
	tasks, err := c.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Empty(t, tasks)
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.NotEmpty(t, got.Get("X-Request-Id"))
}

func TestErrorWithoutJSONBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := api.New(ts.URL, api.StaticToken("tok")).ListTasks(context.Background())
	var apiErr *api.Error
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Contains(t, apiErr.Error(), "status=502")
}

func TestConcurrentCallsShareOneClient(t *testing.T) {
	srv, c, user := newClient(t)
	srv.Seed(user.ID, domain.Task{ID: "t1", Title: "A", Description: "a", Status: domain.StatusTodo, Priority: domain.PriorityLow})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := c.ListTasks(context.Background())
			if err == nil && len(tasks) != 1 {
				err = errors.New("unexpected task count")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.Nil(t, c.HTTPClient, "calls must not write to the shared client")
	assert.Equal(t, 8, srv.CountRequests("GET /tasks"))
}
