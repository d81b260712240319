package remote

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/ledongthuc/pdf"
)

// MaxAttachmentBytes caps a single uploaded file.
const MaxAttachmentBytes = 5 << 20

// Attachment is a file sent with signup. The client does not interpret it
// beyond the checks in LoadAttachment.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// LoadAttachment reads path into an Attachment. Oversized files and PDFs
// that do not parse are rejected with a KindValidation error keyed by field.
func LoadAttachment(field, path string) (Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("reading attachment: %w", err)
	}
	if info.IsDir() {
		return Attachment{}, ValidationFailed("attachment is a directory", map[string]string{field: path + " is a directory"})
	}
	if info.Size() > MaxAttachmentBytes {
		return Attachment{}, ValidationFailed("attachment too large",
			map[string]string{field: fmt.Sprintf("%s exceeds %d MB", filepath.Base(path), MaxAttachmentBytes>>20)})
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, fmt.Errorf("reading attachment: %w", err)
	}
	return NewAttachment(field, filepath.Base(path), data)
}

// NewAttachment sniffs the content type of data and validates PDFs.
func NewAttachment(field, name string, data []byte) (Attachment, error) {
	if len(data) > MaxAttachmentBytes {
		return Attachment{}, ValidationFailed("attachment too large",
			map[string]string{field: fmt.Sprintf("%s exceeds %d MB", name, MaxAttachmentBytes>>20)})
	}
	ct := http.DetectContentType(data)
	if ct == "application/pdf" {
		pages, err := pdfPages(data)
		if err != nil || pages == 0 {
			return Attachment{}, ValidationFailed("unreadable PDF",
				map[string]string{field: name + " is not a readable PDF"})
		}
	}
	return Attachment{Name: name, ContentType: ct, Data: data}, nil
}

func pdfPages(data []byte) (n int, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("parsing pdf: %v", r)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return r.NumPage(), nil
}
