package email

import (
	"fmt"
	"strings"
)

// ValidationError reports an envelope that cannot be sent. No network I/O
// happens once validation fails.
type ValidationError struct {
	// Missing lists required fields that were empty, in the order
	// to, from, subject, body.
	Missing []string
	// Reason describes a malformed field when nothing is missing.
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Missing) > 0 {
		return fmt.Sprintf("missing required fields: %s", strings.Join(e.Missing, ", "))
	}
	return "invalid envelope: " + e.Reason
}

// AttachmentReadError reports attachment content that could not be read.
// The builder skips such attachments instead of failing the send.
type AttachmentReadError struct {
	Filename string
	Err      error
}

// Error implements the error interface.
func (e *AttachmentReadError) Error() string {
	return fmt.Sprintf("read attachment %q: %v", e.Filename, e.Err)
}

// Unwrap returns the underlying read error.
func (e *AttachmentReadError) Unwrap() error {
	return e.Err
}
