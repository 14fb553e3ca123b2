package domain

import (
	"errors"
	"fmt"

	"github.com/FreePeak/golang-sockjs-server-sdk/internal/protocol"
)

// Common domain errors
var (
	// ErrSessionNotNew is returned when opening a session that has already
	// been opened or closed.
	ErrSessionNotNew = errors.New("session is not in the new state")

	// ErrSessionExists is returned when adding a session whose id is already
	// present in the pool.
	ErrSessionExists = errors.New("session id already present in pool")

	// ErrPoolStopped is returned when adding a session to a pool that is
	// shutting down.
	ErrPoolStopped = errors.New("session pool is stopping")
)

// SessionUnavailableError is returned by Session.Lock when the session is in
// a terminal state or a requested channel is held by another transport. The
// code and reason map directly onto the close frame the transport writes
// back to the client.
type SessionUnavailableError struct {
	Status protocol.CloseStatus
}

// Error returns the error message.
func (e *SessionUnavailableError) Error() string {
	return fmt.Sprintf("session unavailable: %d %s", e.Status.Code, e.Status.Reason)
}

// NewSessionUnavailableError creates a SessionUnavailableError for the given
// close status.
func NewSessionUnavailableError(status protocol.CloseStatus) *SessionUnavailableError {
	return &SessionUnavailableError{Status: status}
}
