// Package apitest runs an in-memory stand-in for the remote task API and
// its push channel, for tests of the client packages.
package apitest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/fasthttp/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"taskboard/internal/domain"
)

// Event names emitted on the push channel.
const (
	EventTaskCreated = "taskCreated"
	EventTaskUpdated = "taskUpdated"
	EventTaskDeleted = "taskDeleted"
)

type account struct {
	user     domain.User
	password string
}

type pushConn struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *pushConn) send(msg pushMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

type pushMessage struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Server is a fake remote task API. Create it with New.
type Server struct {
	URL    string
	Secret string

	srv *httptest.Server

	mu       sync.Mutex
	accounts map[string]*account // by email
	tasks    map[string][]domain.Task
	conns    map[string]map[*pushConn]struct{}
	requests []string
	silent   bool
	failList int
	onList   func()
}

// New starts a server and registers its shutdown with t.Cleanup.
func New(t testing.TB) *Server {
	t.Helper()
	s := &Server{
		Secret:   "apitest-secret",
		accounts: make(map[string]*account),
		tasks:    make(map[string][]domain.Task),
		conns:    make(map[string]map[*pushConn]struct{}),
	}
	s.srv = httptest.NewServer(s.handler())
	s.URL = s.srv.URL
	t.Cleanup(s.Close)
	return s
}

// WSURL is the push channel address.
func (s *Server) WSURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// Close drops every push connection and stops the server.
func (s *Server) Close() {
	s.mu.Lock()
	for _, set := range s.conns {
		for c := range set {
			_ = c.conn.Close()
		}
	}
	s.conns = make(map[string]map[*pushConn]struct{})
	s.mu.Unlock()
	s.srv.Close()
}

// AddUser creates an account and returns the user with its id.
func (s *Server) AddUser(username, email, password string) domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addUserLocked(username, email, password)
}

func (s *Server) addUserLocked(username, email, password string) domain.User {
	u := domain.User{ID: uuid.NewString(), Username: username, Email: email}
	s.accounts[strings.ToLower(email)] = &account{user: u, password: password}
	return u
}

// Token issues a signed bearer token for userID.
func (s *Server) Token(userID string, ttl time.Duration) string {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    "apitest",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.Secret))
	if err != nil {
		panic(err)
	}
	return signed
}

// Seed stores tasks for userID without emitting push events. Missing ids
// are assigned.
func (s *Server) Seed(userID string, tasks ...domain.Task) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.NewString()
		}
		t.UserID = userID
		s.tasks[userID] = append(s.tasks[userID], t)
		out = append(out, t)
	}
	return out
}

// Replace swaps the stored task set of userID, again without events.
func (s *Server) Replace(userID string, tasks ...domain.Task) {
	s.mu.Lock()
	s.tasks[userID] = nil
	s.mu.Unlock()
	s.Seed(userID, tasks...)
}

// Push sends an arbitrary event to every push connection of userID.
func (s *Server) Push(userID, eventType string, payload any) {
	s.mu.Lock()
	targets := make([]*pushConn, 0, len(s.conns[userID]))
	for c := range s.conns[userID] {
		targets = append(targets, c)
	}
	s.mu.Unlock()
	for _, c := range targets {
		_ = c.send(pushMessage{Type: eventType, Payload: payload})
	}
}

// SetSilent stops (or resumes) push events for mutations made over REST.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	s.silent = silent
	s.mu.Unlock()
}

// FailList makes the next n task listings answer 500.
func (s *Server) FailList(n int) {
	s.mu.Lock()
	s.failList = n
	s.mu.Unlock()
}

// OnList installs a hook run inside GET /tasks before the response is built.
func (s *Server) OnList(fn func()) {
	s.mu.Lock()
	s.onList = fn
	s.mu.Unlock()
}

// Connections counts open push connections for userID.
func (s *Server) Connections(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns[userID])
}

// Requests returns "METHOD /path" for every request received so far.
func (s *Server) Requests() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.requests...)
}

// CountRequests counts received requests equal to "METHOD /path".
func (s *Server) CountRequests(methodPath string) int {
	n := 0
	for _, r := range s.Requests() {
		if r == methodPath {
			n++
		}
	}
	return n
}

func (s *Server) ResetRequests() {
	s.mu.Lock()
	s.requests = nil
	s.mu.Unlock()
}

// Tasks returns the stored tasks of userID.
func (s *Server) Tasks(userID string) []domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.Task(nil), s.tasks[userID]...)
}

type userKey struct{}

func userIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func (s *Server) handler() http.Handler {
	huma.DefaultArrayNullable = false
	router := chi.NewRouter()
	router.Use(s.recordRequests)
	router.Use(s.authenticate)
	router.Get("/ws", s.handlePush)

	api := humachi.New(router, huma.DefaultConfig("Taskboard test API", "1.0.0"))
	s.registerAuth(api)
	s.registerTasks(api)
	return router
}

func (s *Server) recordRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests = append(s.requests, r.Method+" "+r.URL.Path)
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/auth/login", r.URL.Path == "/auth/register",
			strings.HasPrefix(r.URL.Path, "/openapi"), strings.HasPrefix(r.URL.Path, "/docs"),
			strings.HasPrefix(r.URL.Path, "/schemas"):
			next.ServeHTTP(w, r)
			return
		}
		token, ok := bearerToken(r.Header.Get("Authorization"))
		if !ok {
			writeUnauthorized(w, "authentication required")
			return
		}
		userID, err := s.verify(token)
		if err != nil {
			writeUnauthorized(w, "invalid credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, userID)))
	})
}

func (s *Server) verify(token string) (string, error) {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	claims := &jwt.RegisteredClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(s.Secret), nil
	})
	if err != nil {
		return "", err
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}
	return claims.Subject, nil
}

func bearerToken(authz string) (string, bool) {
	parts := strings.Fields(authz)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return "", false
	}
	return parts[1], true
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"message":%q}`, msg)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	userID := userIDFrom(r.Context())
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	pc := &pushConn{id: uuid.NewString(), conn: conn}
	s.mu.Lock()
	if s.conns[userID] == nil {
		s.conns[userID] = make(map[*pushConn]struct{})
	}
	s.conns[userID][pc] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.conns[userID], pc)
		s.mu.Unlock()
		_ = conn.Close()
	}()
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Server) broadcast(userID, eventType string, payload any) {
	s.mu.Lock()
	silent := s.silent
	s.mu.Unlock()
	if silent {
		return
	}
	s.Push(userID, eventType, payload)
}
