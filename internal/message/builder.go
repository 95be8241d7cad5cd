// Package message assembles RFC 5322 messages from envelopes: a single HTML
// part, or multipart/mixed when attachments are present.
package message

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/shineum/smtp-mailer-lite/internal/email"
)

const (
	htmlContentType = "text/html; charset=utf-8"

	// lineLength is the base64 line length from RFC 2045.
	lineLength = 76

	boundaryPrefix   = "=_"
	boundaryAttempts = 8
)

// Builder turns envelopes into encoded messages. A Builder is safe for
// concurrent use.
type Builder struct {
	logger *slog.Logger
	now    func() time.Time
	random io.Reader
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the logger used to report skipped attachments.
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithClock sets the clock used for the Date header.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithRandom sets the entropy source used for boundary tokens.
func WithRandom(r io.Reader) Option {
	return func(b *Builder) { b.random = r }
}

// NewBuilder creates a Builder.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		logger: slog.Default(),
		now:    time.Now,
		random: rand.Reader,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build loads the envelope's attachments and encodes the message. Attachments
// that cannot be read are skipped and logged. The envelope is expected to be
// validated already.
func (b *Builder) Build(env *email.Envelope) (*Message, error) {
	attachments := b.loadAttachments(env.Attachments)

	msg := &Message{
		From:        env.From,
		To:          append([]string(nil), env.To...),
		Cc:          append([]string(nil), env.Cc...),
		Bcc:         append([]string(nil), env.Bcc...),
		Recipients:  env.Recipients(),
		Attachments: len(attachments),
	}

	var contentType string
	if len(attachments) == 0 {
		contentType = htmlContentType
		msg.Body = []byte(env.Body)
	} else {
		encoded := make([]string, len(attachments))
		for i, att := range attachments {
			encoded[i] = encodeBase64Lines(att.Content)
		}

		boundary, err := b.boundary(env.Body, encoded)
		if err != nil {
			return nil, err
		}
		body, err := writeMultipart(boundary, env.Body, attachments, encoded)
		if err != nil {
			return nil, err
		}
		msg.Boundary = boundary
		msg.Body = body
		contentType = fmt.Sprintf("multipart/mixed; boundary=%q", boundary)
	}

	msg.Header = b.header(env, contentType)
	return msg, nil
}

func (b *Builder) loadAttachments(refs []email.AttachmentRef) []email.Attachment {
	loaded := make([]email.Attachment, 0, len(refs))
	for _, ref := range refs {
		att, err := ref.Load()
		if err != nil {
			b.logger.Warn("skipping unreadable attachment",
				"filename", ref.Filename,
				"error", err,
			)
			continue
		}
		loaded = append(loaded, att)
	}
	return loaded
}

// header writes From, To, Cc and Subject, followed by Date, Message-ID and
// MIME-Version unless the caller supplied them, the caller's own headers and
// finally Content-Type. Caller Content-Type lines are dropped.
func (b *Builder) header(env *email.Envelope, contentType string) []byte {
	var buf bytes.Buffer

	from := &mail.Address{Name: env.FromName, Address: env.From}
	writeHeader(&buf, "From", from.String())
	writeHeader(&buf, "To", strings.Join(env.To, ", "))
	if len(env.Cc) > 0 {
		writeHeader(&buf, "Cc", strings.Join(env.Cc, ", "))
	}
	writeHeader(&buf, "Subject", mime.QEncoding.Encode("utf-8", env.Subject))

	if !hasHeader(env.Headers, "Date") {
		writeHeader(&buf, "Date", b.now().Format(time.RFC1123Z))
	}
	if !hasHeader(env.Headers, "Message-Id") {
		writeHeader(&buf, "Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), senderDomain(env.From)))
	}
	if !hasHeader(env.Headers, "Mime-Version") {
		writeHeader(&buf, "MIME-Version", "1.0")
	}
	for _, line := range env.Headers {
		if headerName(line) == "Content-Type" {
			continue
		}
		buf.WriteString(line)
		buf.WriteString("\r\n")
	}
	writeHeader(&buf, "Content-Type", contentType)

	return buf.Bytes()
}

// boundary returns a random token that occurs in none of the part contents.
func (b *Builder) boundary(body string, parts []string) (string, error) {
	raw := make([]byte, 16)
	for i := 0; i < boundaryAttempts; i++ {
		if _, err := io.ReadFull(b.random, raw); err != nil {
			return "", fmt.Errorf("generate boundary: %w", err)
		}
		candidate := boundaryPrefix + hex.EncodeToString(raw)
		if !occursIn(candidate, body, parts) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("generate boundary: no collision-free token after %d attempts", boundaryAttempts)
}

func writeMultipart(boundary, html string, attachments []email.Attachment, encoded []string) ([]byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	if err := writer.SetBoundary(boundary); err != nil {
		return nil, fmt.Errorf("set boundary: %w", err)
	}

	bodyHeader := make(textproto.MIMEHeader)
	bodyHeader.Set("Content-Type", htmlContentType)
	bodyHeader.Set("Content-Transfer-Encoding", "8bit")
	part, err := writer.CreatePart(bodyHeader)
	if err != nil {
		return nil, fmt.Errorf("failed to create body part: %w", err)
	}
	if _, err := io.WriteString(part, html); err != nil {
		return nil, fmt.Errorf("failed to write body part: %w", err)
	}

	for i, att := range attachments {
		name := attachmentName(att.Filename)

		attHeader := make(textproto.MIMEHeader)
		attHeader.Set("Content-Type", fmt.Sprintf(`application/octet-stream; name="%s"`, name))
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))

		part, err := writer.CreatePart(attHeader)
		if err != nil {
			return nil, fmt.Errorf("failed to create attachment part: %w", err)
		}
		if _, err := io.WriteString(part, encoded[i]); err != nil {
			return nil, fmt.Errorf("failed to write attachment part: %w", err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}
	return buf.Bytes(), nil
}

// encodeBase64Lines encodes data as base64 with 76-character CRLF-separated
// lines per RFC 2045.
func encodeBase64Lines(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	b.Grow(len(encoded) + 2*(len(encoded)/lineLength+1))
	for i := 0; i < len(encoded); i += lineLength {
		end := min(i+lineLength, len(encoded))
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}

// attachmentName makes a filename safe for a quoted header parameter.
// Non-ASCII names are RFC 2047 encoded.
func attachmentName(filename string) string {
	filename = strings.Map(func(r rune) rune {
		switch r {
		case '"', '\\', '\r', '\n':
			return '_'
		}
		return r
	}, filename)
	if filename == "" {
		filename = "attachment"
	}
	return mime.QEncoding.Encode("utf-8", filename)
}

func writeHeader(buf *bytes.Buffer, name, value string) {
	buf.WriteString(name)
	buf.WriteString(": ")
	buf.WriteString(value)
	buf.WriteString("\r\n")
}

func headerName(line string) string {
	name, _, _ := strings.Cut(line, ":")
	return textproto.CanonicalMIMEHeaderKey(strings.TrimSpace(name))
}

func hasHeader(lines []string, canonical string) bool {
	for _, line := range lines {
		if headerName(line) == canonical {
			return true
		}
	}
	return false
}

func senderDomain(address string) string {
	if i := strings.LastIndex(address, "@"); i >= 0 && i+1 < len(address) {
		return strings.ToLower(address[i+1:])
	}
	return "localhost"
}

func occursIn(token, body string, parts []string) bool {
	if strings.Contains(body, token) {
		return true
	}
	for _, p := range parts {
		if strings.Contains(p, token) {
			return true
		}
	}
	return false
}
