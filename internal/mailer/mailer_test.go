package mailer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shineum/smtp-mailer-lite/internal/email"
	"github.com/shineum/smtp-mailer-lite/internal/message"
	"github.com/shineum/smtp-mailer-lite/internal/smtp"
	"github.com/shineum/smtp-mailer-lite/internal/smtptest"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeProvider records every message it is asked to deliver.
type fakeProvider struct {
	mu   sync.Mutex
	sent []*message.Message
	err  error
}

func (p *fakeProvider) Send(_ context.Context, msg *message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, msg)
	return p.err
}

func (p *fakeProvider) Name() string { return "fake" }

type countingDialer struct {
	dials atomic.Int32
}

func (d *countingDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	d.dials.Add(1)
	var nd net.Dialer
	return nd.DialContext(ctx, network, addr)
}

func envelope() *email.Envelope {
	env := &email.Envelope{}
	env.SetFrom("alice@example.com", "Alice")
	env.AddTo("bob@example.com")
	env.SetSubject("Hi")
	env.SetBody("<p>hi</p>")
	return env
}

func TestSend_ValidationFailureNeverDials(t *testing.T) {
	t.Parallel()

	dialer := &countingDialer{}
	transport := smtp.NewTransport(smtp.Config{
		Host:       "127.0.0.1",
		Port:       1,
		Encryption: smtp.EncryptionNone,
		Dialer:     dialer,
	}, discard)
	m := New(transport, WithLogger(discard))

	env := envelope()
	env.To = nil
	env.Subject = ""

	err := m.Send(context.Background(), env)

	var verr *email.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"to", "subject"}, verr.Missing)
	assert.Zero(t, dialer.dials.Load())
}

func TestSend_NilEnvelope(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	err := New(p, WithLogger(discard)).Send(context.Background(), nil)

	var verr *email.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Empty(t, p.sent)
}

func TestSend_AppliesDefaults(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	m := New(p, WithLogger(discard), WithDefaults(email.Defaults{
		From:     "noreply@example.com",
		FromName: "Reports",
		Subject:  "Default subject",
		Body:     "<p>default</p>",
	}))

	env := &email.Envelope{}
	env.AddTo("bob@example.com")

	require.NoError(t, m.Send(context.Background(), env))
	require.Len(t, p.sent, 1)

	msg := p.sent[0]
	assert.Equal(t, "noreply@example.com", msg.From)
	header := string(msg.Header)
	assert.Contains(t, header, "From: \"Reports\" <noreply@example.com>\r\n")
	assert.Contains(t, header, "Subject: Default subject\r\n")
	assert.Equal(t, "<p>default</p>", string(msg.Body))

	assert.Empty(t, env.From, "caller envelope must not be modified")
	assert.Empty(t, env.Subject, "caller envelope must not be modified")
}

func TestSend_ExplicitFieldsWinOverDefaults(t *testing.T) {
	t.Parallel()

	p := &fakeProvider{}
	m := New(p, WithLogger(discard), WithDefaults(email.Defaults{
		From:    "noreply@example.com",
		Subject: "Default subject",
	}))

	require.NoError(t, m.Send(context.Background(), envelope()))
	require.Len(t, p.sent, 1)
	assert.Equal(t, "alice@example.com", p.sent[0].From)
	assert.Contains(t, string(p.sent[0].Header), "Subject: Hi\r\n")
}

func TestSend_ProviderErrorReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	p := &fakeProvider{err: boom}

	err := New(p, WithLogger(discard)).Send(context.Background(), envelope())
	require.ErrorIs(t, err, boom)
	assert.Len(t, p.sent, 1)
}

func TestSend_CustomBuilder(t *testing.T) {
	t.Parallel()

	fixed := time.Date(2024, 8, 27, 20, 0, 0, 0, time.UTC)
	b := message.NewBuilder(
		message.WithLogger(discard),
		message.WithClock(func() time.Time { return fixed }),
	)
	p := &fakeProvider{}

	require.NoError(t, New(p, WithBuilder(b), WithLogger(discard)).Send(context.Background(), envelope()))
	require.Len(t, p.sent, 1)
	assert.Contains(t, string(p.sent[0].Header), "Date: Tue, 27 Aug 2024 20:00:00 +0000\r\n")
}

func TestSend_LogsBuiltMessage(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	p := &fakeProvider{}

	env := envelope()
	env.AddCc("carol@example.com")
	env.AddAttachment(email.BytesAttachment("a.txt", []byte("a")))
	env.AddAttachment(email.BytesAttachment("b.txt", []byte("b")))

	require.NoError(t, New(p, WithLogger(logger)).Send(context.Background(), env))

	out := logs.String()
	assert.Contains(t, out, "msg=\"message built\"")
	assert.Contains(t, out, "provider=fake")
	assert.Contains(t, out, "recipients=2")
	assert.Contains(t, out, "attachments=2")
}

func TestSend_BuildErrorWrapped(t *testing.T) {
	t.Parallel()

	b := message.NewBuilder(
		message.WithLogger(discard),
		message.WithRandom(strings.NewReader("")),
	)
	p := &fakeProvider{}

	env := envelope()
	env.AddAttachment(email.BytesAttachment("a.txt", []byte("a")))

	err := New(p, WithBuilder(b), WithLogger(discard)).Send(context.Background(), env)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "build message")
	assert.Empty(t, p.sent)
}

func TestSend_ThroughSMTP(t *testing.T) {
	t.Parallel()

	srv := smtptest.NewServer(t, smtptest.Config{StartTLS: true, Username: "user", Password: "pass"})
	dialer := &countingDialer{}
	transport := smtp.NewTransport(smtp.Config{
		Host:           srv.Host(),
		Port:           srv.Port(),
		Username:       "user",
		Password:       "pass",
		Encryption:     smtp.EncryptionStartTLS,
		TLSConfig:      srv.ClientTLSConfig(),
		CommandTimeout: 5 * time.Second,
		Dialer:         dialer,
	}, discard)
	m := New(transport, WithLogger(discard))

	env := envelope()
	env.AddCc("carol@example.com")
	env.AddBcc("bob@EXAMPLE.com")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, m.Send(ctx, env))

	assert.Equal(t, int32(1), dialer.dials.Load())
	assert.Equal(t, "smtp", m.Provider())

	var rcpts []string
	for _, line := range srv.Lines() {
		if strings.HasPrefix(line, "RCPT TO:") {
			rcpts = append(rcpts, line)
		}
	}
	assert.Equal(t, []string{"RCPT TO:<bob@example.com>", "RCPT TO:<carol@example.com>"}, rcpts)

	msgs := srv.Messages()
	require.Len(t, msgs, 1)
	assert.Contains(t, string(msgs[0]), "<p>hi</p>")
}

func TestResultOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		status  string
		message string
	}{
		{name: "success", err: nil, status: StatusSuccess, message: "Email sent successfully"},
		{name: "validation", err: &email.ValidationError{Missing: []string{"to"}}, status: StatusError, message: "missing required fields: to"},
		{
			name:    "protocol",
			err:     &smtp.ProtocolError{Command: "MAIL FROM", Expected: 250, Got: 550, Response: "550 denied"},
			status:  StatusError,
			message: "Expected code 250, got 550. Response: 550 denied",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := ResultOf(tt.err)
			assert.Equal(t, tt.status, r.Status)
			assert.Equal(t, tt.message, r.Message)
			assert.Equal(t, tt.err == nil, r.OK())
		})
	}
}
