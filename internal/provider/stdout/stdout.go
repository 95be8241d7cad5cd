// Package stdout implements a dry-run Provider that decodes each message and
// prints a human-readable summary instead of delivering it.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shineum/smtp-mailer-lite/internal/message"
	"github.com/shineum/smtp-mailer-lite/internal/parser"
)

const separator = "========================================\n"

// Provider prints messages in a human-readable format.
type Provider struct {
	// writer is the output destination, defaulting to os.Stdout.
	writer io.Writer
}

// New creates a stdout Provider that writes to os.Stdout.
func New() *Provider {
	return &Provider{writer: os.Stdout}
}

// NewWithWriter creates a Provider that writes to the given writer.
// This is useful for testing.
func NewWithWriter(w io.Writer) *Provider {
	return &Provider{writer: w}
}

// Send decodes the encoded message and prints its headers, body and
// attachment list, followed by the envelope recipients.
func (p *Provider) Send(_ context.Context, msg *message.Message) error {
	parsed, err := parser.Parse(msg.Bytes())
	if err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}

	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", parsed.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(parsed.To, ", "))
	if len(parsed.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(parsed.Cc, ", "))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", strings.Join(msg.Bcc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", parsed.Subject)
	if parsed.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", parsed.MessageID)
	}
	b.WriteString("Body:\n")

	body := parsed.HTMLBody
	if body == "" {
		body = parsed.TextBody
	}
	b.WriteString(body + "\n")

	if len(parsed.Attachments) > 0 {
		attachments := make([]string, 0, len(parsed.Attachments))
		for _, att := range parsed.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	fmt.Fprintf(&b, "Envelope: %s -> %s\n", msg.From, strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Size: %s\n", formatSize(len(msg.Header)+len(msg.Body)))
	b.WriteString(separator)

	if _, err := io.WriteString(p.writer, b.String()); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
