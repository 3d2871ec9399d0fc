package registration

import (
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
)

type DocumentKind string

const (
	DocumentKRS        DocumentKind = "krs"
	DocumentHealth     DocumentKind = "health"
	DocumentTranscript DocumentKind = "transcript"
	DocumentPhoto      DocumentKind = "photo"
)

// DocumentKinds is the canonical order used for validation and audit metadata.
var DocumentKinds = []DocumentKind{DocumentKRS, DocumentHealth, DocumentTranscript, DocumentPhoto}

var (
	documentExtensions = []string{".pdf", ".jpg", ".jpeg", ".png"}
	photoExtensions    = []string{".jpg", ".jpeg", ".png"}
)

func (k DocumentKind) Valid() bool {
	return slices.Contains(DocumentKinds, k)
}

// Label is the human-readable name recorded in audit metadata.
func (k DocumentKind) Label() string {
	switch k {
	case DocumentKRS:
		return "KRS"
	case DocumentHealth:
		return "Health Certificate"
	case DocumentTranscript:
		return "Transcript"
	case DocumentPhoto:
		return "Photo"
	}
	return string(k)
}

// FormField is the multipart field carrying this document.
func (k DocumentKind) FormField() string {
	return string(k) + "_file"
}

func (k DocumentKind) AllowedExtensions() []string {
	if k == DocumentPhoto {
		return photoExtensions
	}
	return documentExtensions
}

// KindForField maps a multipart field name back to its document kind.
func KindForField(field string) (DocumentKind, bool) {
	kind := DocumentKind(strings.TrimSuffix(field, "_file"))
	if !strings.HasSuffix(field, "_file") || !kind.Valid() {
		return "", false
	}
	return kind, true
}

// Upload is one document file supplied by a student.
type Upload struct {
	Kind     DocumentKind
	Filename string
	Size     int64
	Content  io.Reader
}

func (u Upload) validate(maxSize int64) error {
	field := u.Kind.FormField()
	if u.Content == nil || u.Size == 0 {
		return invalid(field, "file is empty")
	}
	ext := strings.ToLower(filepath.Ext(u.Filename))
	if !slices.Contains(u.Kind.AllowedExtensions(), ext) {
		return invalid(field, "only %s files are allowed", strings.Join(u.Kind.AllowedExtensions(), ", "))
	}
	if maxSize > 0 && u.Size > maxSize {
		return invalid(field, "file too large (max %d KB)", maxSize/1024)
	}
	return nil
}

// selectUploads keeps the first upload per known kind, in canonical order.
func selectUploads(uploads []Upload) []Upload {
	byKind := make(map[DocumentKind]Upload, len(uploads))
	for _, u := range uploads {
		if !u.Kind.Valid() {
			continue
		}
		if _, seen := byKind[u.Kind]; !seen {
			byKind[u.Kind] = u
		}
	}

	selected := make([]Upload, 0, len(byKind))
	for _, kind := range DocumentKinds {
		if u, ok := byKind[kind]; ok {
			selected = append(selected, u)
		}
	}
	return selected
}

func documentKey(studentID uint, kind DocumentKind, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	return fmt.Sprintf("kkn/%d/%s_%s%s", studentID, kind, uuid.NewString(), ext)
}
