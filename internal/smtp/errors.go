package smtp

import (
	"errors"
	"fmt"
)

// ErrSessionUsed is returned when Send is called on a session that has
// already sent a message.
var ErrSessionUsed = errors.New("smtp: session already used")

// ErrNoRecipients is returned when a message has an empty recipient list.
// Nothing is dialed.
var ErrNoRecipients = errors.New("smtp: message has no recipients")

// ConnectionError reports a socket failure: dialing, reading or writing.
type ConnectionError struct {
	Op   string
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	if e.Addr == "" {
		return fmt.Sprintf("smtp %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("smtp %s %s: %v", e.Op, e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TLSError reports a failed STARTTLS or implicit TLS handshake.
type TLSError struct {
	Op  string
	Err error
}

func (e *TLSError) Error() string {
	return fmt.Sprintf("smtp %s handshake: %v", e.Op, e.Err)
}

func (e *TLSError) Unwrap() error { return e.Err }

// ProtocolError reports a reply whose code differs from the expected one, or
// a reply that could not be parsed (Detail is set and Got is 0).
type ProtocolError struct {
	Command  string
	Expected int
	Got      int
	Response string
	Detail   string
}

func (e *ProtocolError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("Malformed response (%s). Response: %s", e.Detail, e.Response)
	}
	return fmt.Sprintf("Expected code %d, got %d. Response: %s", e.Expected, e.Got, e.Response)
}
