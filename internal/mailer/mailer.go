// Package mailer validates envelopes, encodes them and hands the result to a
// delivery provider.
package mailer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/message"
	"github.com/shineum/smtp-mailer-lite/internal/provider"
)

// Mailer sends envelopes through a single provider. It holds no per-send
// state and is safe for concurrent use.
type Mailer struct {
	provider provider.Provider
	builder  *message.Builder
	defaults email.Defaults
	logger   *slog.Logger
}

// Option configures a Mailer.
type Option func(*Mailer)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(m *Mailer) { m.logger = l }
}

// WithBuilder replaces the message builder.
func WithBuilder(b *message.Builder) Option {
	return func(m *Mailer) { m.builder = b }
}

// WithDefaults sets the sender, subject and body used when an envelope
// leaves them empty.
func WithDefaults(d email.Defaults) Option {
	return func(m *Mailer) { m.defaults = d }
}

// New creates a Mailer that delivers through p.
func New(p provider.Provider, opts ...Option) *Mailer {
	m := &Mailer{provider: p}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.builder == nil {
		m.builder = message.NewBuilder(message.WithLogger(m.logger))
	}
	return m
}

// Send applies defaults, validates, builds and delivers env. The caller's
// envelope is not modified. A *email.ValidationError is returned before any
// network I/O when required fields are missing.
func (m *Mailer) Send(ctx context.Context, env *email.Envelope) error {
	if env == nil {
		return &email.ValidationError{Missing: []string{"to", "from", "subject", "body"}}
	}

	full := env.WithDefaults(m.defaults)
	if err := full.Validate(); err != nil {
		m.logger.Debug("envelope rejected", "error", err)
		return err
	}

	msg, err := m.builder.Build(full)
	if err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	m.logger.Debug("message built",
		"provider", m.provider.Name(),
		"recipients", len(msg.Recipients),
		"attachments", msg.Attachments,
		"size", len(msg.Header)+len(msg.Body),
	)

	return m.provider.Send(ctx, msg)
}

// Provider returns the name of the delivery provider.
func (m *Mailer) Provider() string {
	return m.provider.Name()
}
