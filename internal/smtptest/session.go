package smtptest

import (
	"bufio"
	"bytes"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

// Session states for the server's command sequencing.
const (
	stateConnected = iota
	stateGreeted
	stateAuthOK
	stateMailFrom
	stateRcptTo
)

// idleTimeout bounds how long a session waits for the next client line.
const idleTimeout = 10 * time.Second

type session struct {
	server    *Server
	conn      net.Conn
	reader    *bufio.Reader
	writer    *bufio.Writer
	state     int
	tlsActive bool
}

func newSession(s *Server, conn net.Conn) *session {
	sess := &session{server: s, state: stateConnected}
	if s.config.ImplicitTLS {
		conn = tls.Server(conn, s.tlsConfig)
		sess.tlsActive = true
	}
	sess.setConn(conn)
	return sess
}

func (s *session) setConn(conn net.Conn) {
	s.conn = conn
	s.reader = bufio.NewReader(conn)
	s.writer = bufio.NewWriter(conn)
}

// handle runs the command loop until the client quits, hangs up, or a
// scripted step ends the session.
func (s *session) handle() {
	if code, ok := s.respond(StepGreeting, fmt.Sprintf("220 %s ESMTP smtptest", s.server.config.Hostname)); !ok || code != 220 {
		s.drain()
		return
	}

	for {
		line, err := s.readLine()
		if err != nil {
			return
		}
		s.server.record(line, s.tlsActive)

		cmd, arg := parseCommand(line)
		if done := s.handleCommand(cmd, arg); done {
			return
		}
	}
}

// handleCommand processes one command and returns true if the session should end.
func (s *session) handleCommand(cmd, arg string) bool {
	switch cmd {
	case "EHLO", "HELO":
		return s.handleEHLO(arg)
	case "STARTTLS":
		return s.handleSTARTTLS()
	case "AUTH":
		return s.handleAUTH(arg)
	case "MAIL":
		return s.handleMAIL(arg)
	case "RCPT":
		return s.handleRCPT(arg)
	case "DATA":
		return s.handleDATA()
	case "RSET", "NOOP":
		return !s.reply("250 OK")
	case "QUIT":
		s.respond(StepQuit, "221 Bye")
		return true
	default:
		return !s.reply("500 Unrecognized command")
	}
}

func (s *session) handleEHLO(arg string) bool {
	if arg == "" {
		return !s.reply("501 Syntax: EHLO hostname")
	}

	lines := []string{fmt.Sprintf("%s Hello %s", s.server.config.Hostname, arg)}
	if s.server.config.StartTLS && !s.tlsActive {
		lines = append(lines, "STARTTLS")
	}
	if s.server.auth.enabled() {
		lines = append(lines, "AUTH LOGIN")
	}
	lines = append(lines, "8BITMIME", "SIZE 10485760")

	var b strings.Builder
	for i, l := range lines {
		sep := "-"
		if i == len(lines)-1 {
			sep = " "
		}
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString("250" + sep + l)
	}

	code, ok := s.respond(StepEHLO, b.String())
	if code == 250 {
		s.state = stateGreeted
	}
	return !ok
}

func (s *session) handleSTARTTLS() bool {
	if !s.server.config.StartTLS || s.tlsActive {
		return !s.reply("454 TLS not available")
	}

	code, ok := s.respond(StepSTARTTLS, "220 Ready to start TLS")
	if !ok {
		return true
	}
	if code != 220 {
		return false
	}

	tlsConn := tls.Server(s.conn, s.server.tlsConfig)
	if err := tlsConn.Handshake(); err != nil {
		s.server.logger.Debug("TLS handshake failed", "error", err)
		return true
	}

	s.setConn(tlsConn)
	s.tlsActive = true
	s.state = stateConnected
	return false
}

func (s *session) handleAUTH(arg string) bool {
	if s.state < stateGreeted {
		return !s.reply("503 Send EHLO first")
	}
	if !s.server.auth.enabled() {
		return !s.reply("503 AUTH not available")
	}
	if !strings.EqualFold(strings.TrimSpace(arg), "LOGIN") {
		return !s.reply("504 Unrecognized authentication type")
	}

	code, ok := s.respond(StepAuth, usernameChallenge)
	if !ok {
		return true
	}
	if code != 334 {
		return false
	}
	user, err := s.readLine()
	if err != nil {
		return true
	}
	s.server.record(user, s.tlsActive)

	code, ok = s.respond(StepAuthUser, passwordChallenge)
	if !ok {
		return true
	}
	if code != 334 {
		return false
	}
	pass, err := s.readLine()
	if err != nil {
		return true
	}
	s.server.record(pass, s.tlsActive)

	fallback := "235 Authentication successful"
	if err := s.server.auth.verifyLogin(user, pass); err != nil {
		fallback = "535 Authentication failed"
	}
	code, ok = s.respond(StepAuthPass, fallback)
	if code == 235 {
		s.state = stateAuthOK
	}
	return !ok
}

func (s *session) handleMAIL(arg string) bool {
	if s.state < stateGreeted {
		return !s.reply("503 Send EHLO first")
	}
	if s.server.auth.enabled() && s.state < stateAuthOK {
		return !s.reply("530 Authentication required")
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "FROM:") || extractAddress(arg[5:]) == "" {
		return !s.reply("501 Syntax: MAIL FROM:<address>")
	}

	code, ok := s.respond(StepMail, "250 OK")
	if code == 250 {
		s.state = stateMailFrom
	}
	return !ok
}

func (s *session) handleRCPT(arg string) bool {
	if s.state < stateMailFrom {
		return !s.reply("503 Send MAIL FROM first")
	}
	if !strings.HasPrefix(strings.ToUpper(arg), "TO:") {
		return !s.reply("501 Syntax: RCPT TO:<address>")
	}
	addr := extractAddress(arg[3:])
	if addr == "" {
		return !s.reply("501 Syntax: RCPT TO:<address>")
	}

	step := StepRcpt
	if _, ok := s.server.config.Replies[StepRcpt+" "+addr]; ok {
		step = StepRcpt + " " + addr
	}
	code, ok := s.respond(step, "250 OK")
	if code == 250 {
		s.state = stateRcptTo
	}
	return !ok
}

func (s *session) handleDATA() bool {
	if s.state < stateRcptTo {
		return !s.reply("503 Send RCPT TO first")
	}

	code, ok := s.respond(StepData, "354 Start mail input; end with <CRLF>.<CRLF>")
	if !ok {
		return true
	}
	if code != 354 {
		return false
	}

	var data bytes.Buffer
	for {
		line, err := s.reader.ReadString('\n')
		if err != nil {
			return true
		}
		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "." {
			break
		}
		// Dot-stuffing: a leading dot was doubled by the client.
		if strings.HasPrefix(trimmed, "..") {
			line = line[1:]
		}
		data.WriteString(line)
	}
	s.server.store(data.Bytes())

	_, ok = s.respond(StepBody, "250 OK queued")
	s.state = stateGreeted
	if s.server.auth.enabled() {
		s.state = stateAuthOK
	}
	return !ok
}

// respond sends the scripted reply for step, or fallback when none is set. It
// returns the code of the reply's final line and false if the session must
// end: the step is held, or the write failed.
func (s *session) respond(step, fallback string) (int, bool) {
	if s.server.config.Hold == step {
		s.drain()
		return 0, false
	}
	text := fallback
	if override, ok := s.server.config.Replies[step]; ok {
		text = override
	}
	if !s.reply(text) {
		return 0, false
	}
	return replyCode(text), true
}

// reply writes text followed by CRLF. It returns false if the write failed.
func (s *session) reply(text string) bool {
	if _, err := s.writer.WriteString(text + "\r\n"); err != nil {
		return false
	}
	return s.writer.Flush() == nil
}

func (s *session) readLine() (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(idleTimeout)); err != nil {
		return "", err
	}
	line, err := s.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// drain discards input until the client hangs up or the idle timeout expires.
func (s *session) drain() {
	_ = s.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	_, _ = io.Copy(io.Discard, s.reader)
}

func replyCode(text string) int {
	last := text
	if i := strings.LastIndex(text, "\r\n"); i >= 0 {
		last = text[i+2:]
	}
	if len(last) < 3 {
		return 0
	}
	code := 0
	for _, c := range last[:3] {
		if c < '0' || c > '9' {
			return 0
		}
		code = code*10 + int(c-'0')
	}
	return code
}

// parseCommand splits an SMTP command line into the command verb and its argument.
func parseCommand(line string) (string, string) {
	parts := strings.SplitN(line, " ", 2)
	cmd := strings.ToUpper(parts[0])
	arg := ""
	if len(parts) > 1 {
		arg = parts[1]
	}
	return cmd, arg
}

// extractAddress extracts an email address from an SMTP parameter,
// handling both angle-bracket and bare formats.
func extractAddress(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<") {
		end := strings.Index(s, ">")
		if end < 0 {
			return ""
		}
		return s[1:end]
	}
	return s
}
