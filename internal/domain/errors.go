package domain

import (
	"errors"
	"fmt"
)

// ErrNotAuthenticated is returned before any network call when no session
// (user and token) is available.
var ErrNotAuthenticated = errors.New("not authenticated")

// FetchError wraps a failed read of the remote task set.
type FetchError struct {
	Op  string
	Err error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// MutationError wraps a failed create, update or delete request.
type MutationError struct {
	Op     string
	TaskID string
	Err    error
}

func (e *MutationError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// ChannelError reports a push-channel connect, handshake or read failure.
type ChannelError struct {
	URL string
	Err error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("push channel %s: %v", e.URL, e.Err)
}

func (e *ChannelError) Unwrap() error { return e.Err }
