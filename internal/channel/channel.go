// Package channel connects to the push channel of the task API and decodes
// task change events.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"taskboard/internal/domain"
)

// Event types carried in Message.Type.
const (
	EventTaskCreated = "taskCreated"
	EventTaskUpdated = "taskUpdated"
	EventTaskDeleted = "taskDeleted"
)

const closeWriteWait = time.Second

// Message is a single frame on the push channel.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Handler receives the events of one connection, in arrival order. Every
// call carries the epoch the connection was opened for.
type Handler interface {
	TaskCreated(epoch uint64, task domain.Task)
	TaskUpdated(epoch uint64, task domain.Task)
	TaskDeleted(epoch uint64, id string)
	// Closed is called once when the read loop stops. err is nil when the
	// connection was closed by its owner.
	Closed(epoch uint64, err error)
}

// Dialer opens push channel connections.
type Dialer struct {
	URL              string
	HandshakeTimeout time.Duration
	Logger           *slog.Logger
}

func (d *Dialer) logger() *slog.Logger {
	if d.Logger == nil {
		return slog.Default()
	}
	return d.Logger
}

// Dial connects with token as bearer credential and starts delivering events
// to h. Failures are returned as *domain.ChannelError.
func (d *Dialer) Dial(ctx context.Context, token string, epoch uint64, h Handler) (*Conn, error) {
	if token == "" {
		return nil, &domain.ChannelError{URL: d.URL, Err: domain.ErrNotAuthenticated}
	}
	timeout := d.HandshakeTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: timeout,
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	ws, resp, err := dialer.DialContext(ctx, d.URL, header)
	if err != nil {
		if resp != nil {
			err = fmt.Errorf("handshake rejected (%s): %w", resp.Status, err)
		}
		return nil, &domain.ChannelError{URL: d.URL, Err: err}
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Conn{
		ID:     uuid.NewString(),
		Epoch:  epoch,
		url:    d.URL,
		ws:     ws,
		done:   make(chan struct{}),
		logger: d.logger(),
	}
	c.logger.Debug("push channel connected", "url", d.URL, "conn", c.ID, "epoch", epoch)
	go c.readLoop(h)
	return c, nil
}

// Conn is one open push channel connection.
type Conn struct {
	ID    string
	Epoch uint64

	url       string
	ws        *websocket.Conn
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	logger    *slog.Logger
}

// Done is closed once the read loop has stopped.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close shuts the connection down and waits for the read loop to stop. It
// must not be called from inside a Handler callback.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait))
		err = c.ws.Close()
		<-c.done
		c.logger.Debug("push channel closed", "conn", c.ID, "epoch", c.Epoch)
	})
	return err
}

func (c *Conn) readLoop(h Handler) {
	var cause error
	defer func() {
		close(c.done)
		h.Closed(c.Epoch, cause)
	}()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				cause = &domain.ChannelError{URL: c.url, Err: err}
			}
			return
		}
		if err := c.dispatch(data, h); err != nil {
			c.logger.Warn("dropping push event", "conn", c.ID, "error", err)
		}
	}
}

func (c *Conn) dispatch(data []byte, h Handler) error {
	msg, err := Decode(data)
	if err != nil {
		return err
	}
	switch msg.Type {
	case EventTaskCreated, EventTaskUpdated:
		var task domain.Task
		if err := json.Unmarshal(msg.Payload, &task); err != nil {
			return fmt.Errorf("%s payload: %w", msg.Type, err)
		}
		if task.ID == "" {
			return fmt.Errorf("%s payload: task without id", msg.Type)
		}
		if msg.Type == EventTaskCreated {
			h.TaskCreated(c.Epoch, task)
		} else {
			h.TaskUpdated(c.Epoch, task)
		}
	case EventTaskDeleted:
		var id string
		if err := json.Unmarshal(msg.Payload, &id); err != nil {
			return fmt.Errorf("%s payload: %w", msg.Type, err)
		}
		if id == "" {
			return fmt.Errorf("%s payload: empty id", msg.Type)
		}
		h.TaskDeleted(c.Epoch, id)
	default:
		c.logger.Debug("ignoring push event", "conn", c.ID, "type", msg.Type)
	}
	return nil
}

// Decode parses one frame.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("invalid frame: %w", err)
	}
	if msg.Type == "" {
		return Message{}, errors.New("invalid frame: missing type")
	}
	return msg, nil
}
