package session

import (
	"errors"
	"fmt"
)

// Status is the stage of the session a connection has reached.
type Status int32

const (
	// Pending connections have not completed the handshake.
	Pending Status = iota
	// Syncing connections are loading the session snapshot.
	Syncing
	// Connected connections are fully joined.
	Connected
	// Disconnected is terminal.
	Disconnected
)

var statusNames = [...]string{"pending", "syncing", "connected", "disconnected"}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", int32(s))
}

// canTransition reports whether a connection may move from s to next.
func (s Status) canTransition(next Status) bool {
	switch {
	case s == Disconnected:
		return false
	case next == Disconnected:
		return true
	}
	return next == s+1
}

var ErrInvalidTransition = errors.New("invalid connection status transition")

// TransitionError is returned when a connection is asked to move between two
// statuses that are not adjacent in the lifecycle.
type TransitionError struct {
	ID       uint16
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("player %d cannot move from %s to %s", e.ID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool { return target == ErrInvalidTransition }
