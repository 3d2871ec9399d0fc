package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"regexp"
	"strings"

	"github.com/lppm-portal/kkn-api/internal/metrics"
	"github.com/lppm-portal/kkn-api/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var fiscalYearPattern = regexp.MustCompile(`^\d{4}(/\d{4})?$`)

// ReuploadDocuments replaces the supplied documents of a registration in
// needs_revision and sends it back to pending. Superseded files are removed
// after the transaction commits.
func (s *Service) ReuploadDocuments(ctx context.Context, actor Actor, id uint, uploads []Upload) (*Outcome, error) {
	var reg models.Registration
	if err := loadForUpdate(s.db.WithContext(ctx), &reg, id); err != nil {
		return nil, err
	}
	if reg.StudentID != actor.ID {
		return nil, fmt.Errorf("%w: registration belongs to another student", ErrForbidden)
	}
	if reg.Status != models.StatusNeedsRevision {
		return nil, fmt.Errorf("%w: documents can only be re-uploaded while revision is requested (status is %s)", ErrForbidden, reg.Status)
	}

	selected := selectUploads(uploads)
	if len(selected) == 0 {
		return nil, invalid("documents", "nothing to upload")
	}
	for _, u := range selected {
		if err := u.validate(s.maxUploadSize); err != nil {
			return nil, err
		}
	}

	stored, err := s.storeUploads(ctx, reg.StudentID, selected)
	if err != nil {
		return nil, err
	}

	labels := make([]string, 0, len(selected))
	for _, u := range selected {
		labels = append(labels, u.Kind.Label())
	}

	var out Outcome
	var superseded []string
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current := &out.Registration
		if err := loadForUpdate(tx, current, id); err != nil {
			return err
		}
		if current.Status != models.StatusNeedsRevision {
			return fmt.Errorf("%w: documents can only be re-uploaded while revision is requested (status is %s)", ErrForbidden, current.Status)
		}

		docs := models.Documents{}
		maps.Copy(docs, current.Documents.Data())
		for kind, ref := range stored {
			if prev := docs[string(kind)]; prev != "" && prev != ref {
				superseded = append(superseded, prev)
			}
			docs[string(kind)] = ref
		}

		bundle := datatypes.NewJSONType(docs)
		if err := compareAndSwap(tx, current.ID, models.StatusNeedsRevision, map[string]any{
			"status":    models.StatusPending,
			"documents": bundle,
		}); err != nil {
			return err
		}
		current.Status = models.StatusPending
		current.Documents = bundle

		out.Log = models.RegistrationLog{
			RegistrationID: current.ID,
			ActorID:        actor.ID,
			Action:         models.ActionDocumentUploaded,
			OldStatus:      models.StatusNeedsRevision,
			NewStatus:      models.StatusPending,
			Note:           "Re-uploaded documents: " + strings.Join(labels, ", "),
			Metadata:       datatypes.JSONMap{"uploaded_documents": labels},
			CreatedAt:      s.now(),
		}
		return tx.Create(&out.Log).Error
	})
	if err != nil {
		s.discard(ctx, stored)
		return nil, err
	}

	for _, ref := range superseded {
		s.deleteSuperseded(ctx, reg.ID, ref)
	}

	s.committed(ctx, &out, labels)
	return &out, nil
}

// SubmitInput is a student's new KKN registration.
type SubmitInput struct {
	FiscalYear string
	LocationID *uint
	Uploads    []Upload
}

// Submit creates a pending registration carrying all four documents.
func (s *Service) Submit(ctx context.Context, actor Actor, in SubmitInput) (*models.Registration, error) {
	fiscalYear := strings.TrimSpace(in.FiscalYear)
	if !fiscalYearPattern.MatchString(fiscalYear) {
		return nil, invalid("fiscal_year", "fiscal year must look like 2025 or 2025/2026")
	}

	selected := selectUploads(in.Uploads)
	present := make(map[DocumentKind]bool, len(selected))
	for _, u := range selected {
		present[u.Kind] = true
	}
	for _, kind := range DocumentKinds {
		if !present[kind] {
			return nil, invalid(kind.FormField(), "%s is required", kind.Label())
		}
	}
	for _, u := range selected {
		if err := u.validate(s.maxUploadSize); err != nil {
			return nil, err
		}
	}

	if err := s.checkOpenRegistration(s.db.WithContext(ctx), actor.ID, fiscalYear); err != nil {
		return nil, err
	}

	stored, err := s.storeUploads(ctx, actor.ID, selected)
	if err != nil {
		return nil, err
	}

	docs := models.Documents{}
	for kind, ref := range stored {
		docs[string(kind)] = ref
	}
	reg := models.Registration{
		StudentID:  actor.ID,
		LocationID: in.LocationID,
		FiscalYear: fiscalYear,
		Status:     models.StatusPending,
		Documents:  datatypes.NewJSONType(docs),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.checkOpenRegistration(tx, actor.ID, fiscalYear); err != nil {
			return err
		}
		if in.LocationID != nil {
			var loc models.Location
			if err := tx.First(&loc, *in.LocationID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return invalid("location_id", "location %d does not exist", *in.LocationID)
				}
				return err
			}
		}
		return insertRegistration(tx, &reg)
	})
	if err != nil {
		s.discard(ctx, stored)
		return nil, err
	}

	s.logger.InfoContext(ctx, "registration submitted",
		slog.Uint64("registration_id", uint64(reg.ID)),
		slog.Uint64("student_id", uint64(actor.ID)),
		slog.String("fiscal_year", fiscalYear),
	)
	return &reg, nil
}

// checkOpenRegistration enforces one open registration per student and one
// non-rejected registration per student and fiscal year.
func (s *Service) checkOpenRegistration(db *gorm.DB, studentID uint, fiscalYear string) error {
	var count int64
	err := db.Model(&models.Registration{}).
		Where("student_id = ?", studentID).
		Where(db.Where("fiscal_year = ? AND status <> ?", fiscalYear, models.StatusRejected).
			Or("status IN ?", []models.RegistrationStatus{models.StatusPending, models.StatusNeedsRevision})).
		Count(&count).Error
	if err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("%w: student already has an active registration", ErrConflict)
	}
	return nil
}

// insertRegistration maps a hit on the one-open-registration index to
// ErrConflict. The index catches a concurrent Submit that passed
// checkOpenRegistration under READ COMMITTED.
func insertRegistration(tx *gorm.DB, reg *models.Registration) error {
	err := tx.Create(reg).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: student already has an active registration", ErrConflict)
	}
	return err
}

func (s *Service) storeUploads(ctx context.Context, studentID uint, uploads []Upload) (map[DocumentKind]string, error) {
	stored := make(map[DocumentKind]string, len(uploads))
	for _, u := range uploads {
		ref, err := s.store.Put(ctx, documentKey(studentID, u.Kind, u.Filename), u.Content)
		if err != nil {
			s.discard(ctx, stored)
			return nil, fmt.Errorf("store %s: %w", u.Kind.Label(), err)
		}
		stored[u.Kind] = ref
	}
	return stored, nil
}

// discard removes files stored for an operation that did not commit.
func (s *Service) discard(ctx context.Context, stored map[DocumentKind]string) {
	for _, ref := range stored {
		if err := s.store.Delete(context.WithoutCancel(ctx), ref); err != nil {
			s.logger.WarnContext(ctx, "failed to discard uploaded document",
				slog.String("ref", ref),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (s *Service) deleteSuperseded(ctx context.Context, registrationID uint, ref string) {
	if err := s.store.Delete(context.WithoutCancel(ctx), ref); err != nil {
		metrics.DocumentCleanupFailures.Inc()
		s.logger.ErrorContext(ctx, "failed to delete superseded document",
			slog.Uint64("registration_id", uint64(registrationID)),
			slog.String("ref", ref),
			slog.String("error", err.Error()),
		)
	}
}
