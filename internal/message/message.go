package message

// Message is a fully encoded message plus the envelope data needed to
// transmit it. It must not be modified after Build returns it.
type Message struct {
	From string
	To   []string
	Cc   []string
	Bcc  []string

	// Recipients is the de-duplicated RCPT TO list (to, cc, then bcc).
	Recipients []string

	// Header is the CRLF-terminated header block, without the blank
	// separator line.
	Header []byte
	Body   []byte

	// Boundary is the multipart boundary, or empty for a single HTML part.
	Boundary string

	// Attachments is the number of attachments actually included.
	Attachments int
}

// Bytes returns the header block, the separating blank line and the body.
func (m *Message) Bytes() []byte {
	out := make([]byte, 0, len(m.Header)+2+len(m.Body))
	out = append(out, m.Header...)
	out = append(out, '\r', '\n')
	out = append(out, m.Body...)
	return out
}
