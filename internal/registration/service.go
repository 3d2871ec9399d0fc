// Package registration implements the KKN registration review workflow: guarded
// status transitions that are applied and audited in one transaction.
package registration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/lppm-portal/kkn-api/internal/metrics"
	"github.com/lppm-portal/kkn-api/internal/models"
	"github.com/lppm-portal/kkn-api/internal/notifier"
	"github.com/lppm-portal/kkn-api/internal/storage"
	"gorm.io/gorm"
)

const (
	DefaultApproveNote = "Registration approved"
	maxNoteLength      = 2000
)

// Actor is the account performing an operation.
type Actor struct {
	ID uint
}

// Outcome is the registration after a committed action together with the log row it produced.
type Outcome struct {
	Registration models.Registration
	Log          models.RegistrationLog
}

type Service struct {
	db            *gorm.DB
	store         storage.Store
	notifier      notifier.Notifier
	logger        *slog.Logger
	maxUploadSize int64
	now           func() time.Time
}

func NewService(db *gorm.DB, store storage.Store, n notifier.Notifier, maxUploadSize int64) *Service {
	return &Service{
		db:            db,
		store:         store,
		notifier:      n,
		logger:        slog.Default().With(slog.String("component", "kkn_registration")),
		maxUploadSize: maxUploadSize,
		now:           time.Now,
	}
}

func (s *Service) Approve(ctx context.Context, actor Actor, id uint, note string) (*Outcome, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		note = DefaultApproveNote
	}
	if err := checkNoteLength(note); err != nil {
		return nil, err
	}
	return s.review(ctx, actor, id, models.StatusApproved, models.ActionApproved, note)
}

func (s *Service) Reject(ctx context.Context, actor Actor, id uint, note string) (*Outcome, error) {
	note, err := requireNote(note)
	if err != nil {
		return nil, err
	}
	return s.review(ctx, actor, id, models.StatusRejected, models.ActionRejected, note)
}

func (s *Service) RequestRevision(ctx context.Context, actor Actor, id uint, note string) (*Outcome, error) {
	note, err := requireNote(note)
	if err != nil {
		return nil, err
	}
	return s.review(ctx, actor, id, models.StatusNeedsRevision, models.ActionNeedsRevision, note)
}

// AddNote appends a comment to the audit trail without touching the status.
func (s *Service) AddNote(ctx context.Context, actor Actor, id uint, note string) (*Outcome, error) {
	note, err := requireNote(note)
	if err != nil {
		return nil, err
	}

	var out Outcome
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := loadForUpdate(tx, &out.Registration, id); err != nil {
			return err
		}
		out.Log = models.RegistrationLog{
			RegistrationID: out.Registration.ID,
			ActorID:        actor.ID,
			Action:         models.ActionComment,
			OldStatus:      out.Registration.Status,
			NewStatus:      out.Registration.Status,
			Note:           note,
			CreatedAt:      s.now(),
		}
		return tx.Create(&out.Log).Error
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, &out, nil)
	return &out, nil
}

func (s *Service) review(ctx context.Context, actor Actor, id uint, target models.RegistrationStatus, action models.LogAction, note string) (*Outcome, error) {
	var out Outcome
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		reg := &out.Registration
		if err := loadForUpdate(tx, reg, id); err != nil {
			return err
		}
		if reg.Status.Final() {
			return fmt.Errorf("%w: registration is already %s", ErrConflict, reg.Status)
		}

		oldStatus := reg.Status
		reviewedAt := s.now()
		reviewerID := actor.ID
		if err := compareAndSwap(tx, reg.ID, oldStatus, map[string]any{
			"status":         target,
			"reviewed_by_id": reviewerID,
			"reviewed_at":    reviewedAt,
		}); err != nil {
			return err
		}
		reg.Status = target
		reg.ReviewedByID = &reviewerID
		reg.ReviewedAt = &reviewedAt

		out.Log = models.RegistrationLog{
			RegistrationID: reg.ID,
			ActorID:        actor.ID,
			Action:         action,
			OldStatus:      oldStatus,
			NewStatus:      target,
			Note:           note,
			CreatedAt:      reviewedAt,
		}
		return tx.Create(&out.Log).Error
	})
	if err != nil {
		return nil, err
	}

	s.committed(ctx, &out, nil)
	return &out, nil
}

// loadForUpdate reads the registration inside tx. The subsequent write is guarded
// by compareAndSwap, so no row lock is taken.
func loadForUpdate(tx *gorm.DB, reg *models.Registration, id uint) error {
	if err := tx.Preload("Student").First(reg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return err
	}
	return nil
}

// compareAndSwap applies updates only while the row still has the expected status.
func compareAndSwap(tx *gorm.DB, id uint, expected models.RegistrationStatus, updates map[string]any) error {
	res := tx.Model(&models.Registration{}).
		Where("id = ? AND status = ?", id, expected).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: registration was modified concurrently", ErrConflict)
	}
	return nil
}

// committed runs the post-commit side effects. Notification failures are logged only.
func (s *Service) committed(ctx context.Context, out *Outcome, documents []string) {
	metrics.ReviewActions.WithLabelValues(string(out.Log.Action)).Inc()

	s.logger.InfoContext(ctx, "registration action committed",
		slog.Uint64("registration_id", uint64(out.Registration.ID)),
		slog.Uint64("actor_id", uint64(out.Log.ActorID)),
		slog.String("action", string(out.Log.Action)),
		slog.String("old_status", string(out.Log.OldStatus)),
		slog.String("new_status", string(out.Log.NewStatus)),
	)

	if s.notifier == nil {
		return
	}
	event := notifier.RegistrationEvent{
		RegistrationID: out.Registration.ID,
		StudentID:      out.Registration.StudentID,
		StudentName:    out.Registration.Student.Name,
		FiscalYear:     out.Registration.FiscalYear,
		ActorID:        out.Log.ActorID,
		Action:         out.Log.Action,
		OldStatus:      out.Log.OldStatus,
		NewStatus:      out.Log.NewStatus,
		Note:           out.Log.Note,
		Documents:      documents,
		OccurredAt:     out.Log.CreatedAt,
	}
	if err := s.notifier.NotifyRegistration(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "registration notification failed",
			slog.Uint64("registration_id", uint64(out.Registration.ID)),
			slog.String("error", err.Error()),
		)
	}
}

func requireNote(note string) (string, error) {
	note = strings.TrimSpace(note)
	if note == "" {
		return "", invalid("note", "note is required")
	}
	return note, checkNoteLength(note)
}

func checkNoteLength(note string) error {
	if utf8.RuneCountInString(note) > maxNoteLength {
		return invalid("note", "note must be at most %d characters", maxNoteLength)
	}
	return nil
}
