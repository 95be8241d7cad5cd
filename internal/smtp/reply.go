package smtp

import (
	"net/textproto"
	"strings"
)

// maxLineLength bounds a single reply line, CRLF excluded.
const maxLineLength = 2048

// Response is a complete, possibly multi-line, server reply.
type Response struct {
	// Code is taken from the final line.
	Code int
	// Lines holds every line as received, code included.
	Lines []string
	// Raw is Lines joined with newlines.
	Raw string
}

// Message returns the reply text with the codes and separators removed.
func (r Response) Message() string {
	parts := make([]string, 0, len(r.Lines))
	for _, l := range r.Lines {
		if len(l) > 4 {
			parts = append(parts, l[4:])
		}
	}
	return strings.Join(parts, "\n")
}

// ReadResponse reads lines until the final line of a reply: one whose fourth
// byte is a space, or that is exactly three digits. Lines with a dash after
// the code are continuations. A malformed line is a *ProtocolError and a read
// failure a *ConnectionError.
func ReadResponse(r *textproto.Reader) (Response, error) {
	var lines []string
	for {
		line, err := r.ReadLine()
		if err != nil {
			return Response{}, &ConnectionError{Op: "read", Err: err}
		}
		lines = append(lines, line)

		code, final, detail := parseLine(line)
		if detail != "" {
			return Response{}, &ProtocolError{Response: strings.Join(lines, "\n"), Detail: detail}
		}
		if final {
			return Response{Code: code, Lines: lines, Raw: strings.Join(lines, "\n")}, nil
		}
	}
}

// parseLine returns the code of a reply line and whether it ends the reply.
// detail is non-empty when the line is malformed.
func parseLine(line string) (code int, final bool, detail string) {
	switch {
	case len(line) > maxLineLength:
		return 0, false, "line too long"
	case len(line) < 3:
		return 0, false, "line too short"
	}

	for _, c := range line[:3] {
		if c < '0' || c > '9' {
			return 0, false, "non-numeric reply code"
		}
		code = code*10 + int(c-'0')
	}

	if len(line) == 3 {
		return code, true, ""
	}
	switch line[3] {
	case ' ':
		return code, true, ""
	case '-':
		return code, false, ""
	default:
		return 0, false, "invalid separator after reply code"
	}
}
