package smtp

import (
	"context"
	"log/slog"

	"github.com/shineum/smtp-mailer-lite/internal/message"
)

// Transport delivers messages over SMTP, one new session per message.
type Transport struct {
	config Config
	logger *slog.Logger
}

// NewTransport creates a Transport. A nil logger means slog.Default().
func NewTransport(cfg Config, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{config: cfg, logger: logger}
}

// Send opens a session, delivers msg and closes the connection.
func (t *Transport) Send(ctx context.Context, msg *message.Message) error {
	return NewSession(t.config, t.logger).Send(ctx, msg)
}

// Name returns the transport identifier.
func (t *Transport) Name() string {
	return "smtp"
}
