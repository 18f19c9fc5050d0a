package protocol

import (
	"errors"
	"fmt"
)

// ErrMissingResult is returned when a response carries neither "result" nor "error".
var ErrMissingResult = errors.New("missing result or error in response")

// ProtocolError is an error reported by the browser in response to a command.
type ProtocolError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    string `json:"data,omitempty"`
}

func (e *ProtocolError) Error() string {
	if e.Data != "" {
		return fmt.Sprintf("protocol error %d: %s (%s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("protocol error %d: %s", e.Code, e.Message)
}

// DecodeError is returned when an inbound message is malformed or does not have the expected shape.
type DecodeError struct {
	// Op names what was being decoded, e.g. "response" or "event Target.targetCreated".
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s: %s", e.Op, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsProtocolError reports whether err carries a browser-reported error, returning it if so.
func IsProtocolError(err error) (*ProtocolError, bool) {
	var perr *ProtocolError
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
