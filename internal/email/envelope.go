// Package email defines the envelope and attachment model handed to the mailer.
package email

import (
	"strconv"
	"strings"
)

// Envelope describes one message to transmit: sender, recipients, subject,
// HTML body, extra header lines and attachment references.
type Envelope struct {
	From        string
	FromName    string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Body        string
	Headers     []string
	Attachments []AttachmentRef
}

// Defaults holds values applied to empty envelope fields before validation.
type Defaults struct {
	From     string
	FromName string
	Subject  string
	Body     string
}

// SetFrom sets the sender address and display name.
func (e *Envelope) SetFrom(address, name string) {
	e.From = strings.TrimSpace(address)
	e.FromName = strings.TrimSpace(name)
}

// AddTo appends a primary recipient. Empty values are ignored.
func (e *Envelope) AddTo(address string) {
	e.To = appendAddress(e.To, address)
}

// AddCc appends a carbon-copy recipient. Empty values are ignored.
func (e *Envelope) AddCc(address string) {
	e.Cc = appendAddress(e.Cc, address)
}

// AddBcc appends a blind-copy recipient. Bcc addresses receive the message
// but are never written to its headers.
func (e *Envelope) AddBcc(address string) {
	e.Bcc = appendAddress(e.Bcc, address)
}

// SetSubject sets the subject line.
func (e *Envelope) SetSubject(subject string) {
	e.Subject = subject
}

// SetBody sets the HTML body.
func (e *Envelope) SetBody(body string) {
	e.Body = body
}

// AddHeader appends a raw header line such as "Reply-To: a@example.com".
func (e *Envelope) AddHeader(line string) {
	e.Headers = append(e.Headers, strings.TrimRight(line, "\r\n"))
}

// AddAttachment appends an attachment reference. Content is read when the
// message is built.
func (e *Envelope) AddAttachment(ref AttachmentRef) {
	e.Attachments = append(e.Attachments, ref)
}

// AddAttachmentFile appends a reference to the file at path.
func (e *Envelope) AddAttachmentFile(path string) {
	e.AddAttachment(FileAttachment(path))
}

// WithDefaults returns a copy of the envelope with empty fields filled from d.
// Slices are copied so the result can be modified independently.
func (e *Envelope) WithDefaults(d Defaults) *Envelope {
	out := *e
	out.To = append([]string(nil), e.To...)
	out.Cc = append([]string(nil), e.Cc...)
	out.Bcc = append([]string(nil), e.Bcc...)
	out.Headers = append([]string(nil), e.Headers...)
	out.Attachments = append([]AttachmentRef(nil), e.Attachments...)

	if out.From == "" {
		out.From = strings.TrimSpace(d.From)
		if out.FromName == "" {
			out.FromName = strings.TrimSpace(d.FromName)
		}
	}
	if out.Subject == "" {
		out.Subject = d.Subject
	}
	if out.Body == "" {
		out.Body = d.Body
	}
	return &out
}

// Recipients returns the RCPT TO list: to, then cc, then bcc. Addresses that
// appear more than once are kept only at their first position. Local parts
// compare exactly and domains case-insensitively.
func (e *Envelope) Recipients() []string {
	seen := make(map[string]struct{}, len(e.To)+len(e.Cc)+len(e.Bcc))
	result := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, addr := range list {
			key := addressKey(addr)
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			result = append(result, addr)
		}
	}
	return result
}

// Validate checks that to, from, subject and body are present and that no
// field can inject extra header lines.
func (e *Envelope) Validate() error {
	var missing []string
	if len(e.To) == 0 {
		missing = append(missing, "to")
	}
	if e.From == "" {
		missing = append(missing, "from")
	}
	if e.Subject == "" {
		missing = append(missing, "subject")
	}
	if e.Body == "" {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return &ValidationError{Missing: missing}
	}

	if hasLineBreak(e.From) || hasLineBreak(e.FromName) || strings.ContainsAny(e.From, "<>") {
		return &ValidationError{Reason: "invalid sender address " + strconv.Quote(e.From)}
	}
	for _, list := range [][]string{e.To, e.Cc, e.Bcc} {
		for _, addr := range list {
			if hasLineBreak(addr) || strings.ContainsAny(addr, "<>") {
				return &ValidationError{Reason: "invalid recipient address " + strconv.Quote(addr)}
			}
		}
	}
	if hasLineBreak(e.Subject) {
		return &ValidationError{Reason: "subject contains a line break"}
	}
	for _, h := range e.Headers {
		name, _, ok := strings.Cut(h, ":")
		if !ok || strings.TrimSpace(name) == "" || strings.ContainsAny(name, " \t") || hasLineBreak(h) {
			return &ValidationError{Reason: "invalid header line " + strconv.Quote(h)}
		}
	}
	return nil
}

func appendAddress(list []string, address string) []string {
	address = strings.TrimSpace(address)
	if address == "" {
		return list
	}
	return append(list, address)
}

// addressKey lowercases the domain of addr and keeps the local part as is.
func addressKey(addr string) string {
	i := strings.LastIndex(addr, "@")
	if i < 0 {
		return addr
	}
	return addr[:i] + strings.ToLower(addr[i:])
}

func hasLineBreak(s string) bool {
	return strings.ContainsAny(s, "\r\n")
}
