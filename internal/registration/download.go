package registration

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path"

	"github.com/lppm-portal/kkn-api/internal/models"
	"github.com/lppm-portal/kkn-api/internal/storage"
)

// Document is an opened registration document. The caller closes Content.
type Document struct {
	Kind        DocumentKind
	Filename    string
	ContentType string
	Content     io.ReadCloser
}

// OpenDocument opens one stored document. Unless anyStudent is set, only the
// owning student may read it.
func (s *Service) OpenDocument(ctx context.Context, actor Actor, id uint, kind DocumentKind, anyStudent bool) (*Document, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown document kind %q", ErrNotFound, kind)
	}

	var reg models.Registration
	if err := loadForUpdate(s.db.WithContext(ctx), &reg, id); err != nil {
		return nil, err
	}
	if !anyStudent && reg.StudentID != actor.ID {
		return nil, fmt.Errorf("%w: registration belongs to another student", ErrForbidden)
	}

	ref := reg.Documents.Data()[string(kind)]
	if ref == "" {
		return nil, fmt.Errorf("%w: no %s on registration %d", ErrNotFound, kind.Label(), id)
	}

	content, err := s.store.Open(ctx, ref)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s file is missing", ErrNotFound, kind.Label())
		}
		return nil, fmt.Errorf("open %s: %w", ref, err)
	}

	ext := path.Ext(ref)
	contentType := mime.TypeByExtension(ext)
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return &Document{
		Kind:        kind,
		Filename:    string(kind) + ext,
		ContentType: contentType,
		Content:     content,
	}, nil
}
