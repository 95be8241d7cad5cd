// Package smtp implements an SMTP submission client over a raw socket:
// greeting, EHLO, STARTTLS or implicit TLS, AUTH LOGIN, the envelope and the
// DATA transfer, with every reply checked against an exact code.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/shineum/smtp-mailer-lite/internal/message"
	mailtls "github.com/shineum/smtp-mailer-lite/internal/tls"
)

// DefaultConnectTimeout bounds dialing and the implicit TLS handshake.
const DefaultConnectTimeout = 30 * time.Second

// Session states for the SMTP state machine.
const (
	stateDisconnected = iota
	stateConnected
	stateGreeted
	stateTLSUpgraded
	stateAuthenticated
	stateMailFrom
	stateRcptTo
	stateData
	stateClosed
)

// ContextDialer opens network connections.
type ContextDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config holds the server address, credentials and connection policy.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	Encryption Encryption

	// LocalName is the EHLO argument. It defaults to Host.
	LocalName string

	// TLSConfig overrides the client TLS configuration. ServerName defaults
	// to Host.
	TLSConfig *tls.Config

	// ConnectTimeout bounds dialing and the implicit TLS handshake.
	// DefaultConnectTimeout is used when zero.
	ConnectTimeout time.Duration

	// CommandTimeout bounds each command/reply exchange. Zero means no
	// limit beyond the context deadline.
	CommandTimeout time.Duration

	Dialer ContextDialer
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Session delivers exactly one message over one connection.
type Session struct {
	config Config
	logger *slog.Logger
	addr   string
	used   atomic.Bool

	raw   net.Conn
	conn  net.Conn
	text  *textproto.Conn
	state int
}

// NewSession creates a session. A nil logger means slog.Default().
func NewSession(cfg Config, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.LocalName == "" {
		cfg.LocalName = cfg.Host
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}
	return &Session{
		config: cfg,
		logger: logger.With("component", "smtp", "server", cfg.Addr()),
		addr:   cfg.Addr(),
		state:  stateDisconnected,
	}
}

// Send connects, runs the full exchange for msg and closes the connection.
// The first failing step ends the session and its error is returned; the
// connection is closed on every path. Cancelling ctx closes the connection.
func (s *Session) Send(ctx context.Context, msg *message.Message) error {
	if !s.used.CompareAndSwap(false, true) {
		return ErrSessionUsed
	}
	if len(msg.Recipients) == 0 {
		return ErrNoRecipients
	}

	if err := s.connect(ctx); err != nil {
		return err
	}
	defer s.close()

	stop := context.AfterFunc(ctx, func() { s.raw.Close() })
	defer stop()

	if err := s.run(ctx, msg); err != nil {
		s.logger.Debug("smtp session failed", "state", s.state, "error", err)
		return err
	}

	s.logger.Info("message sent",
		"recipients", len(msg.Recipients),
		"attachments", msg.Attachments,
		"size", len(msg.Header)+len(msg.Body),
	)
	return nil
}

func (s *Session) run(ctx context.Context, msg *message.Message) error {
	if _, err := s.expect(ctx, "connect", 220); err != nil {
		return err
	}

	if err := s.hello(ctx); err != nil {
		return err
	}

	if s.config.Encryption == EncryptionStartTLS {
		if err := s.startTLS(ctx); err != nil {
			return err
		}
	}

	if s.config.Username != "" {
		if err := s.authLogin(ctx); err != nil {
			return err
		}
		s.state = stateAuthenticated
	}

	if err := s.cmd(ctx, 250, "MAIL FROM:<%s>", msg.From); err != nil {
		return err
	}
	s.state = stateMailFrom

	for _, rcpt := range msg.Recipients {
		if err := s.cmd(ctx, 250, "RCPT TO:<%s>", rcpt); err != nil {
			return err
		}
	}
	s.state = stateRcptTo

	if err := s.cmd(ctx, 354, "DATA"); err != nil {
		return err
	}
	s.state = stateData

	if err := s.writeData(ctx, msg); err != nil {
		return err
	}
	if _, err := s.expect(ctx, "DATA body", 250); err != nil {
		return err
	}

	s.quit(ctx)
	return nil
}

// connect dials the server and, for implicit TLS, completes the handshake.
func (s *Session) connect(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.config.ConnectTimeout)
	defer cancel()

	s.logger.Debug("connecting", "encryption", s.config.Encryption.String())
	raw, err := s.config.Dialer.DialContext(dialCtx, "tcp", s.addr)
	if err != nil {
		return &ConnectionError{Op: "dial", Addr: s.addr, Err: err}
	}
	s.raw = raw
	s.setConn(raw)

	if s.config.Encryption == EncryptionImplicitTLS {
		tlsConn := tls.Client(raw, s.tlsConfig())
		if err := tlsConn.HandshakeContext(dialCtx); err != nil {
			raw.Close()
			s.state = stateClosed
			return &TLSError{Op: "implicit", Err: err}
		}
		s.setConn(tlsConn)
	}

	s.state = stateConnected
	return nil
}

func (s *Session) hello(ctx context.Context) error {
	if err := s.cmd(ctx, 250, "EHLO %s", s.config.LocalName); err != nil {
		return err
	}
	s.state = stateGreeted
	return nil
}

// startTLS upgrades the connection and repeats EHLO over TLS.
func (s *Session) startTLS(ctx context.Context) error {
	if err := s.cmd(ctx, 220, "STARTTLS"); err != nil {
		return err
	}

	tlsConn := tls.Client(s.raw, s.tlsConfig())
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return &TLSError{Op: "starttls", Err: err}
	}
	s.setConn(tlsConn)
	s.state = stateTLSUpgraded

	return s.cmd(ctx, 250, "EHLO %s", s.config.LocalName)
}

func (s *Session) writeData(ctx context.Context, msg *message.Message) error {
	s.setDeadline(ctx)

	w := s.text.DotWriter()
	if _, err := w.Write(msg.Bytes()); err != nil {
		w.Close()
		return s.connectionError(ctx, "write", err)
	}
	if err := w.Close(); err != nil {
		return s.connectionError(ctx, "write", err)
	}
	s.logger.Debug("smtp data written", "bytes", len(msg.Header)+len(msg.Body)+2)
	return nil
}

// quit sends QUIT. A failure here does not affect the result of Send.
func (s *Session) quit(ctx context.Context) {
	if err := s.cmd(ctx, 221, "QUIT"); err != nil {
		s.logger.Warn("QUIT failed", "error", err)
	}
}

func (s *Session) close() {
	if s.raw != nil {
		s.raw.Close()
	}
	s.state = stateClosed
}

// cmd sends one command line and expects code in reply.
func (s *Session) cmd(ctx context.Context, code int, format string, args ...any) error {
	line := fmt.Sprintf(format, args...)
	return s.exchange(ctx, line, line, code)
}

// exchange writes line and reads the reply. label replaces line in logs and
// errors.
func (s *Session) exchange(ctx context.Context, line, label string, code int) error {
	s.setDeadline(ctx)

	s.logger.Debug("smtp command", "command", label)
	if err := s.text.PrintfLine("%s", line); err != nil {
		return s.connectionError(ctx, "write", err)
	}
	_, err := s.expect(ctx, label, code)
	return err
}

// expect reads one reply and checks its code.
func (s *Session) expect(ctx context.Context, label string, code int) (Response, error) {
	s.setDeadline(ctx)

	resp, err := ReadResponse(&s.text.Reader)
	if err != nil {
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			return Response{}, s.connectionError(ctx, connErr.Op, connErr.Err)
		}
		var protoErr *ProtocolError
		if errors.As(err, &protoErr) {
			protoErr.Command = label
			protoErr.Expected = code
		}
		return Response{}, err
	}

	s.logger.Debug("smtp reply", "command", label, "code", resp.Code)
	if resp.Code != code {
		return resp, &ProtocolError{
			Command:  label,
			Expected: code,
			Got:      resp.Code,
			Response: resp.Raw,
		}
	}
	return resp, nil
}

// connectionError wraps a socket failure. When the context ended, the
// context error is reported instead of the resulting closed-socket error.
func (s *Session) connectionError(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = ctxErr
	}
	return &ConnectionError{Op: op, Addr: s.addr, Err: err}
}

// setDeadline applies the context deadline and CommandTimeout, whichever
// comes first, to the next exchange.
func (s *Session) setDeadline(ctx context.Context) {
	deadline, _ := ctx.Deadline()
	if s.config.CommandTimeout > 0 {
		d := time.Now().Add(s.config.CommandTimeout)
		if deadline.IsZero() || d.Before(deadline) {
			deadline = d
		}
	}
	_ = s.conn.SetDeadline(deadline)
}

func (s *Session) setConn(conn net.Conn) {
	s.conn = conn
	s.text = textproto.NewConn(conn)
}

func (s *Session) tlsConfig() *tls.Config {
	if s.config.TLSConfig == nil {
		return mailtls.ClientConfig(s.config.Host, false, nil)
	}
	cfg := s.config.TLSConfig.Clone()
	if cfg.ServerName == "" {
		cfg.ServerName = s.config.Host
	}
	return cfg
}
