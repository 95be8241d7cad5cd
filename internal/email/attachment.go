package email

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Attachment is a file whose content has been read and is ready to encode.
type Attachment struct {
	Filename string
	Content  []byte
}

// AttachmentRef refers to attachment content that is read once, when the
// message is built.
type AttachmentRef struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

// FileAttachment references the file at path. The attachment name is the
// base name of the path.
func FileAttachment(path string) AttachmentRef {
	return AttachmentRef{
		Filename: filepath.Base(path),
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}
}

// BytesAttachment references in-memory content.
func BytesAttachment(filename string, content []byte) AttachmentRef {
	return AttachmentRef{
		Filename: filename,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(content)), nil
		},
	}
}

// Load reads the referenced content. Any failure is reported as an
// *AttachmentReadError.
func (r AttachmentRef) Load() (Attachment, error) {
	if r.Open == nil {
		return Attachment{}, &AttachmentReadError{Filename: r.Filename, Err: fmt.Errorf("no content source")}
	}
	rc, err := r.Open()
	if err != nil {
		return Attachment{}, &AttachmentReadError{Filename: r.Filename, Err: err}
	}
	defer rc.Close()

	content, err := io.ReadAll(rc)
	if err != nil {
		return Attachment{}, &AttachmentReadError{Filename: r.Filename, Err: err}
	}
	return Attachment{Filename: r.Filename, Content: content}, nil
}
