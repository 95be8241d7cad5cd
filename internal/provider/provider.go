// Package provider defines the interface for message delivery transports.
package provider

import (
	"context"

	"github.com/shineum/smtp-mailer-lite/internal/message"
)

// Provider delivers fully encoded messages. The SMTP transport is the
// primary implementation; SES and stdout are alternatives selected by
// configuration.
type Provider interface {
	// Send delivers msg to every address in msg.Recipients.
	Send(ctx context.Context, msg *message.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
