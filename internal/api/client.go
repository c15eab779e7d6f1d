package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskboard/internal/domain"
)

// TokenSource supplies the bearer token for authenticated calls. An empty
// token means there is no session.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a fixed token.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Client is an HTTP client for the remote task API.
type Client struct {
	BaseURL    string
	Tokens     TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string, tokens TokenSource) *Client {
	return &Client{
		BaseURL: baseURL,
		Tokens:  tokens,
		Timeout: 10 * time.Second,
	}
}

// Error wraps non-2xx responses.
type Error struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// Credentials are the login form fields.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Registration is the register form; ConfirmPassword never leaves the client.
type Registration struct {
	Username        string `json:"username"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"-"`
}

// AuthResponse is returned by login and register.
type AuthResponse struct {
	User  domain.User `json:"user"`
	Token string      `json:"token"`
}

// Login exchanges credentials for a user and token.
func (c *Client) Login(ctx context.Context, creds Credentials) (AuthResponse, error) {
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "auth/login", creds, &resp, false)
	return resp, err
}

// Register creates an account. The password confirmation is checked locally.
func (c *Client) Register(ctx context.Context, reg Registration) (AuthResponse, error) {
	if reg.Password != reg.ConfirmPassword {
		return AuthResponse{}, fmt.Errorf("passwords do not match")
	}
	var resp AuthResponse
	err := c.do(ctx, http.MethodPost, "auth/register", reg, &resp, false)
	return resp, err
}

// ValidateToken asks the server whether the current token is still accepted.
func (c *Client) ValidateToken(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "auth/validate-token", struct{}{}, nil, true)
}

// ListTasks returns the current user's tasks.
func (c *Client) ListTasks(ctx context.Context) ([]domain.Task, error) {
	var resp []domain.Task
	err := c.do(ctx, http.MethodGet, "tasks", nil, &resp, true)
	return resp, err
}

func (c *Client) GetTask(ctx context.Context, id string) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodGet, "tasks/"+url.PathEscape(id), nil, &resp, true)
	return resp, err
}

// CreateTask posts a task without an identifier and returns the stored task.
func (c *Client) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	task.ID = ""
	var resp domain.Task
	err := c.do(ctx, http.MethodPost, "tasks", task, &resp, true)
	return resp, err
}

// UpdateTask sends a partial update.
func (c *Client) UpdateTask(ctx context.Context, id string, patch domain.Patch) (domain.Task, error) {
	var resp domain.Task
	err := c.do(ctx, http.MethodPut, "tasks/"+url.PathEscape(id), patch, &resp, true)
	return resp, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "tasks/"+url.PathEscape(id), nil, nil, true)
}

// Stats returns the server-side aggregate counts.
func (c *Client) Stats(ctx context.Context) (domain.Stats, error) {
	var resp domain.Stats
	err := c.do(ctx, http.MethodGet, "tasks/stats", nil, &resp, true)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any, requiresAuth bool) error {
	var token string
	if requiresAuth {
		if c.Tokens != nil {
			token = c.Tokens.Token()
		}
		if token == "" {
			return domain.ErrNotAuthenticated
		}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return &Error{StatusCode: resp.StatusCode, Message: errorMessage(b), Body: string(b)}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// httpClient must not write to c; calls run from several goroutines.
func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: c.Timeout}
}

// errorMessage pulls a readable message out of a JSON error body. Both the
// {"message": ...} envelope and RFC 7807 problem documents are understood.
func errorMessage(body []byte) string {
	var env struct {
		Message string `json:"message"`
		Detail  string `json:"detail"`
		Title   string `json:"title"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ""
	}
	switch {
	case env.Message != "":
		return env.Message
	case env.Detail != "":
		return env.Detail
	}
	return env.Title
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
