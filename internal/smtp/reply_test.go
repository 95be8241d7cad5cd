package smtp

import (
	"bufio"
	"io"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reader(s string) *textproto.Reader {
	return textproto.NewReader(bufio.NewReader(strings.NewReader(s)))
}

func TestReadResponse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		input     string
		wantCode  int
		wantLines int
		wantMsg   string
	}{
		{name: "single line", input: "250 OK\r\n", wantCode: 250, wantLines: 1, wantMsg: "OK"},
		{name: "bare code", input: "354\r\n", wantCode: 354, wantLines: 1, wantMsg: ""},
		{
			name:      "multi-line EHLO",
			input:     "250-mx.example.com Hello\r\n250-STARTTLS\r\n250-AUTH LOGIN\r\n250 SIZE 1000\r\n",
			wantCode:  250,
			wantLines: 4,
			wantMsg:   "mx.example.com Hello\nSTARTTLS\nAUTH LOGIN\nSIZE 1000",
		},
		{
			name:      "code from final line",
			input:     "220-hello\r\n421 going away\r\n",
			wantCode:  421,
			wantLines: 2,
			wantMsg:   "hello\ngoing away",
		},
		{name: "bare LF", input: "235 Authentication successful\n", wantCode: 235, wantLines: 1, wantMsg: "Authentication successful"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			resp, err := ReadResponse(reader(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.wantCode, resp.Code)
			assert.Len(t, resp.Lines, tt.wantLines)
			assert.Equal(t, tt.wantMsg, resp.Message())
			assert.Equal(t, strings.Join(resp.Lines, "\n"), resp.Raw)
		})
	}
}

func TestReadResponse_StopsAtFinalLine(t *testing.T) {
	t.Parallel()

	r := reader("250 first\r\n354 second\r\n")
	first, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, 250, first.Code)

	second, err := ReadResponse(r)
	require.NoError(t, err)
	assert.Equal(t, 354, second.Code)
}

func TestReadResponse_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty line", input: "\r\n"},
		{name: "short line", input: "25\r\n"},
		{name: "non-numeric code", input: "25O OK\r\n"},
		{name: "bad separator", input: "250_OK\r\n"},
		{name: "empty line mid reply", input: "250-first\r\n\r\n250 last\r\n"},
		{name: "line too long", input: "250 " + strings.Repeat("x", maxLineLength) + "\r\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ReadResponse(reader(tt.input))
			var protoErr *ProtocolError
			require.ErrorAs(t, err, &protoErr)
			assert.NotEmpty(t, protoErr.Detail, "Detail should describe the malformed line")
			assert.Zero(t, protoErr.Got)
		})
	}
}

func TestReadResponse_ReadFailure(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
	}{
		{name: "no data", input: ""},
		{name: "truncated continuation", input: "250-first\r\n"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := ReadResponse(reader(tt.input))
			var connErr *ConnectionError
			require.ErrorAs(t, err, &connErr)
			assert.Equal(t, "read", connErr.Op)
			assert.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestProtocolError_Message(t *testing.T) {
	t.Parallel()

	err := &ProtocolError{Command: "DATA body", Expected: 250, Got: 550, Response: "550 5.7.1 Rejected"}
	assert.EqualError(t, err, "Expected code 250, got 550. Response: 550 5.7.1 Rejected")
}
