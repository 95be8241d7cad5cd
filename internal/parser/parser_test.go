package parser

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHTMLMessage(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		`From: "Alice" <alice@example.com>`,
		"To: bob@example.com, carol@example.com",
		"Cc: dave@example.com",
		"Subject: =?utf-8?q?Caf=C3=A9?=",
		"Message-ID: <id-1@example.com>",
		"Content-Type: text/html; charset=utf-8",
		"",
		"<p>hi</p>",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, `"Alice" <alice@example.com>`, msg.From)
	assert.Equal(t, []string{"bob@example.com", "carol@example.com"}, msg.To)
	assert.Equal(t, []string{"dave@example.com"}, msg.Cc)
	assert.Equal(t, "Café", msg.Subject)
	assert.Equal(t, "<id-1@example.com>", msg.MessageID)
	assert.Equal(t, "<p>hi</p>", msg.HTMLBody)
	assert.Empty(t, msg.TextBody)
	assert.Zero(t, msg.Parts, "single-part message should report no parts")
}

func TestParseMixedWithAttachments(t *testing.T) {
	t.Parallel()

	raw := []byte("From: sender@example.com\r\n" +
		"To: recipient@example.com\r\n" +
		"Subject: With Attachment\r\n" +
		"Content-Type: multipart/mixed; boundary=\"bound\"\r\n" +
		"\r\n" +
		"--bound\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: 8bit\r\n" +
		"\r\n" +
		"<p>body</p>\r\n" +
		"--bound\r\n" +
		"Content-Type: application/octet-stream; name=\"file.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"file.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"SGVs\r\n" +
		"bG8g\r\n" +
		"V29y\r\n" +
		"bGQ=\r\n" +
		"--bound\r\n" +
		"Content-Type: application/octet-stream\r\n" +
		"Content-Disposition: attachment\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"AAEC\r\n" +
		"--bound--\r\n")

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "<p>body</p>", msg.HTMLBody)
	assert.Equal(t, 3, msg.Parts)
	require.Len(t, msg.Attachments, 2)
	assert.Equal(t, "file.pdf", msg.Attachments[0].Filename)
	assert.Equal(t, "Hello World", string(msg.Attachments[0].Content))
	assert.Equal(t, "attachment", msg.Attachments[1].Filename)
	assert.Equal(t, "\x00\x01\x02", string(msg.Attachments[1].Content))
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"",
		"binarydata",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "Plain text part", msg.TextBody)
	assert.Equal(t, "<p>HTML part</p>", msg.HTMLBody)
	require.Len(t, msg.Attachments, 1)
	assert.Equal(t, "data.bin", msg.Attachments[0].Filename)
}

func TestParseMalformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
	}{
		{name: "invalid message", raw: "not a valid email at all\x00\x01\x02"},
		{
			name: "multipart missing boundary",
			raw: strings.Join([]string{
				"From: sender@example.com",
				"Content-Type: multipart/mixed",
				"",
				"some body",
			}, "\r\n"),
		},
		{
			name: "corrupt base64 attachment",
			raw: strings.Join([]string{
				"From: sender@example.com",
				"Content-Type: multipart/mixed; boundary=b",
				"",
				"--b",
				"Content-Disposition: attachment; filename=\"x.bin\"",
				"Content-Transfer-Encoding: base64",
				"",
				"!!!not base64!!!",
				"--b--",
			}, "\r\n"),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.raw))
			assert.Error(t, err)
		})
	}
}

func TestParseMissingAddressHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte("From: sender@example.com\r\nSubject: No To\r\n\r\nBody")

	msg, err := Parse(raw)
	require.NoError(t, err)
	assert.Nil(t, msg.To)
	assert.Nil(t, msg.Cc)
	assert.Nil(t, msg.Bcc)
	assert.Equal(t, "Body", msg.TextBody)
}
