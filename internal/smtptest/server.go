// Package smtptest provides a scripted SMTP server for exercising SMTP
// clients over real sockets. It records every command it receives, answers
// with nominal replies unless a step is overridden, and supports STARTTLS and
// implicit TLS with a self-signed certificate.
package smtptest

import (
	"crypto/tls"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	mailtls "github.com/shineum/smtp-mailer-lite/internal/tls"
)

// Step names used as keys of Config.Replies and as Config.Hold.
const (
	StepGreeting = "GREETING"
	StepEHLO     = "EHLO"
	StepSTARTTLS = "STARTTLS"
	StepAuth     = "AUTH"
	StepAuthUser = "AUTH USER"
	StepAuthPass = "AUTH PASS"
	StepMail     = "MAIL"
	StepRcpt     = "RCPT"
	StepData     = "DATA"
	StepBody     = "BODY"
	StepQuit     = "QUIT"
)

// Config describes how the server behaves.
type Config struct {
	// Hostname is announced in the greeting and EHLO reply.
	Hostname string

	// Username and Password enable AUTH LOGIN when Username is set.
	Username string
	Password string

	// StartTLS advertises and accepts STARTTLS.
	StartTLS bool

	// ImplicitTLS runs TLS from the first byte of every connection.
	ImplicitTLS bool

	// Replies overrides the reply sent at a step. Values are raw reply text;
	// multi-line replies are separated by CRLF. A "RCPT <addr>" key overrides
	// the reply for a single recipient.
	Replies map[string]string

	// Hold names a step at which the server stops replying and waits for the
	// client to hang up.
	Hold string

	Logger *slog.Logger
}

// Command is one line received from a client.
type Command struct {
	Line string
	TLS  bool
}

// Server is a scripted SMTP server listening on a loopback port.
type Server struct {
	config    Config
	auth      *authenticator
	listener  net.Listener
	cert      *tls.Certificate
	tlsConfig *tls.Config
	logger    *slog.Logger

	// wg tracks in-flight session goroutines.
	wg sync.WaitGroup

	mu       sync.Mutex
	commands []Command
	messages [][]byte
	accepted int
	active   map[net.Conn]struct{}
	closed   bool
}

// NewServer starts a server on 127.0.0.1 with a random port. It is closed
// when the test finishes.
func NewServer(t testing.TB, cfg Config) *Server {
	t.Helper()

	if cfg.Hostname == "" {
		cfg.Hostname = "mx.test.local"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	cert, err := mailtls.GenerateSelfSignedCert(cfg.Hostname)
	if err != nil {
		t.Fatalf("smtptest: %v", err)
	}

	s := &Server{
		config:    cfg,
		auth:      &authenticator{username: cfg.Username, password: cfg.Password},
		cert:      cert,
		tlsConfig: mailtls.ServerConfig(cert),
		logger:    logger,
		active:    make(map[net.Conn]struct{}),
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("smtptest: failed to listen: %v", err)
	}
	s.listener = ln

	go s.serve()
	t.Cleanup(s.Close)
	return s
}

func (s *Server) serve() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return
		}

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.accepted++
		s.active[conn] = struct{}{}
		s.wg.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.wg.Done()
			defer s.release(conn)

			sess := newSession(s, conn)
			sess.handle()
		}()
	}
}

func (s *Server) release(conn net.Conn) {
	conn.Close()
	s.mu.Lock()
	delete(s.active, conn)
	s.mu.Unlock()
}

// Close stops accepting connections, drops active sessions and waits for
// their goroutines to finish.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for conn := range s.active {
		conn.Close()
	}
	s.mu.Unlock()

	s.listener.Close()
	s.wg.Wait()
}

// Host returns the listening IP address.
func (s *Server) Host() string {
	return s.listener.Addr().(*net.TCPAddr).IP.String()
}

// Port returns the listening port.
func (s *Server) Port() int {
	return s.listener.Addr().(*net.TCPAddr).Port
}

// Addr returns host:port.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.Host(), strconv.Itoa(s.Port()))
}

// ClientTLSConfig returns a client configuration that trusts the server's
// certificate.
func (s *Server) ClientTLSConfig() *tls.Config {
	pool, err := mailtls.CertPool(s.cert)
	if err != nil {
		panic(err)
	}
	return mailtls.ClientConfig(s.Host(), false, pool)
}

// Commands returns every line received so far, DATA content excluded.
func (s *Server) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Lines returns the text of every received command.
func (s *Server) Lines() []string {
	cmds := s.Commands()
	lines := make([]string, len(cmds))
	for i, c := range cmds {
		lines[i] = c.Line
	}
	return lines
}

// Messages returns the message content received in DATA, dot-unstuffed.
func (s *Server) Messages() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.messages...)
}

// Connections returns the number of accepted connections.
func (s *Server) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted
}

// WaitIdle waits until every accepted connection has been closed, and
// reports whether that happened within timeout.
func (s *Server) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		n := len(s.active)
		s.mu.Unlock()
		if n == 0 {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func (s *Server) record(line string, tlsActive bool) {
	s.mu.Lock()
	s.commands = append(s.commands, Command{Line: line, TLS: tlsActive})
	s.mu.Unlock()
}

func (s *Server) store(msg []byte) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
}
