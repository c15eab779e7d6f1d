package apitest

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"taskboard/internal/domain"
)

const tokenTTL = time.Hour

type authBody struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

type authOutput struct {
	Body authBody
}

type taskOutput struct {
	Body domain.Task
}

type taskPath struct {
	ID string `path:"id"`
}

func (s *Server) registerAuth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "login",
		Method:      http.MethodPost,
		Path:        "/auth/login",
		Summary:     "Log in",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
	}) (*authOutput, error) {
		s.mu.Lock()
		acc, ok := s.accounts[strings.ToLower(input.Body.Email)]
		s.mu.Unlock()
		if !ok || acc.password != input.Body.Password {
			return nil, huma.Error401Unauthorized("invalid credentials")
		}
		return &authOutput{Body: authBody{User: acc.user, Token: s.Token(acc.user.ID, tokenTTL)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "register",
		Method:        http.MethodPost,
		Path:          "/auth/register",
		Summary:       "Register",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body struct {
			Username string `json:"username" minLength:"1"`
			Email    string `json:"email" minLength:"1"`
			Password string `json:"password" minLength:"1"`
		}
	}) (*authOutput, error) {
		s.mu.Lock()
		if _, exists := s.accounts[strings.ToLower(input.Body.Email)]; exists {
			s.mu.Unlock()
			return nil, huma.Error409Conflict("email already registered")
		}
		u := s.addUserLocked(input.Body.Username, input.Body.Email, input.Body.Password)
		s.mu.Unlock()
		return &authOutput{Body: authBody{User: u, Token: s.Token(u.ID, tokenTTL)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "validate-token",
		Method:        http.MethodPost,
		Path:          "/auth/validate-token",
		Summary:       "Validate bearer token",
		DefaultStatus: http.StatusNoContent,
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		return nil, nil
	})
}

func (s *Server) registerTasks(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Task
	}, error) {
		s.mu.Lock()
		hook := s.onList
		fail := s.failList > 0
		if fail {
			s.failList--
		}
		s.mu.Unlock()
		if hook != nil {
			hook()
		}
		if fail {
			return nil, huma.Error500InternalServerError("task store unavailable")
		}
		tasks := s.Tasks(userIDFrom(ctx))
		if tasks == nil {
			tasks = []domain.Task{}
		}
		return &struct {
			Body []domain.Task
		}{Body: tasks}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "task-stats",
		Method:      http.MethodGet,
		Path:        "/tasks/stats",
		Summary:     "Task statistics",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.Stats
	}, error) {
		return &struct {
			Body domain.Stats
		}{Body: domain.ComputeStats(s.Tasks(userIDFrom(ctx)), time.Now())}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        "/tasks/{id}",
		Summary:     "Get task",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*taskOutput, error) {
		task, ok := s.find(userIDFrom(ctx), input.ID)
		if !ok {
			return nil, huma.Error404NotFound("task not found")
		}
		return &taskOutput{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "create-task",
		Method:        http.MethodPost,
		Path:          "/tasks",
		Summary:       "Create task",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body domain.Task
	}) (*taskOutput, error) {
		userID := userIDFrom(ctx)
		task := input.Body
		draft := domain.Draft{Title: task.Title, Description: task.Description, Status: task.Status, Priority: task.Priority}
		if err := draft.Validate(); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		task.ID = uuid.NewString()
		task.UserID = userID
		if task.CreatedAt.IsZero() {
			task.CreatedAt = time.Now().UTC()
		}
		s.mu.Lock()
		s.tasks[userID] = append(s.tasks[userID], task)
		s.mu.Unlock()
		s.broadcast(userID, EventTaskCreated, task)
		return &taskOutput{Body: task}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-task",
		Method:      http.MethodPut,
		Path:        "/tasks/{id}",
		Summary:     "Update task",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID      string `path:"id"`
		RawBody []byte
	}) (*taskOutput, error) {
		var patch domain.Patch
		if err := json.Unmarshal(input.RawBody, &patch); err != nil {
			return nil, huma.Error400BadRequest("invalid body", err)
		}
		if err := patch.Validate(); err != nil {
			return nil, huma.Error400BadRequest(err.Error())
		}
		userID := userIDFrom(ctx)
		s.mu.Lock()
		var (
			updated domain.Task
			found   bool
		)
		for i, t := range s.tasks[userID] {
			if t.ID == input.ID {
				updated = patch.Apply(t)
				s.tasks[userID][i] = updated
				found = true
				break
			}
		}
		s.mu.Unlock()
		if !found {
			return nil, huma.Error404NotFound("task not found")
		}
		s.broadcast(userID, EventTaskUpdated, updated)
		return &taskOutput{Body: updated}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "delete-task",
		Method:        http.MethodDelete,
		Path:          "/tasks/{id}",
		Summary:       "Delete task",
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusNotFound},
	}, func(ctx context.Context, input *taskPath) (*struct{}, error) {
		userID := userIDFrom(ctx)
		s.mu.Lock()
		found := false
		tasks := s.tasks[userID]
		for i, t := range tasks {
			if t.ID == input.ID {
				s.tasks[userID] = append(tasks[:i:i], tasks[i+1:]...)
				found = true
				break
			}
		}
		s.mu.Unlock()
		if !found {
			return nil, huma.Error404NotFound("task not found")
		}
		s.broadcast(userID, EventTaskDeleted, input.ID)
		return nil, nil
	})
}

func (s *Server) find(userID, id string) (domain.Task, bool) {
	for _, t := range s.Tasks(userID) {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}
