// Package intake validates files at the selection boundary, before they are
// stored and accepted into an upload queue.
package intake

import (
	"errors"
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/instabrief/backend/internal/models"
)

// MaxFileSize is the largest accepted upload.
const MaxFileSize = 10 << 20

// SniffLen is how many leading bytes Validate inspects.
const SniffLen = 3072

// Rejection reasons.
var (
	ErrUnsupportedType = errors.New("file type not supported")
	ErrTooLarge        = errors.New("file exceeds 10MB limit")
)

// RejectedFileError names a file refused at intake and why.
type RejectedFileError struct {
	Name   string
	Reason error
}

func (e *RejectedFileError) Error() string {
	return fmt.Sprintf("%s: %s", e.Name, e.Reason)
}

func (e *RejectedFileError) Unwrap() error {
	return e.Reason
}

// allowed lists the sniffed MIME types acceptable for each extension. OOXML
// documents are zip containers and only sniff as the specific type when the
// right entry falls inside the inspected prefix.
var allowed = map[models.FileType][]string{
	models.FileTypePDF:  {"application/pdf"},
	models.FileTypeDOCX: {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
	models.FileTypePPTX: {"application/vnd.openxmlformats-officedocument.presentationml.presentation", "application/zip"},
	models.FileTypeTXT:  {"text/plain"},
}

// Validate checks a candidate upload by name, size and leading bytes. It
// returns the file type on success and a *RejectedFileError otherwise.
func Validate(name string, size int64, head []byte) (models.FileType, error) {
	ft := models.FileTypeOf(name)
	if ft == "" {
		return "", &RejectedFileError{Name: name, Reason: ErrUnsupportedType}
	}
	if size > MaxFileSize {
		return "", &RejectedFileError{Name: name, Reason: ErrTooLarge}
	}
	if ft == models.FileTypeTXT && len(head) == 0 {
		return ft, nil
	}
	if len(head) > SniffLen {
		head = head[:SniffLen]
	}
	if !matches(mimetype.Detect(head), allowed[ft]) {
		return "", &RejectedFileError{Name: name, Reason: ErrUnsupportedType}
	}
	return ft, nil
}

// matches walks the detected type and its parents looking for an allowed type.
func matches(mt *mimetype.MIME, want []string) bool {
	for ; mt != nil; mt = mt.Parent() {
		for _, w := range want {
			if mt.Is(w) {
				return true
			}
		}
	}
	return false
}
