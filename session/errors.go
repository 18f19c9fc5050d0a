package session

import "errors"

var (
	// ErrNotConnected is returned when a command is sent before the session is connected, after it is closed,
	// or after the connection was lost.
	ErrNotConnected = errors.New("session is not connected")
	// ErrConnectionClosed is returned to callers whose commands were in flight when the connection went away.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrAlreadyStarted is returned when Launch or Connect is called more than once.
	ErrAlreadyStarted = errors.New("session already started")
	// ErrNoLauncher is returned by Launch when the session was built without a launcher.
	ErrNoLauncher = errors.New("session has no launcher")
)
