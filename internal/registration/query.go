package registration

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lppm-portal/kkn-api/internal/models"
	"gorm.io/gorm"
)

const (
	DefaultPerPage = 15
	MaxPerPage     = 100
)

type ListFilter struct {
	Status     models.RegistrationStatus
	FiscalYear string
	// Search matches the student's name, email, phone or student number.
	Search  string
	Page    int
	PerPage int
}

type Page struct {
	Items   []models.Registration
	Total   int64
	Page    int
	PerPage int
}

type Stats struct {
	Total    int64
	ByStatus map[models.RegistrationStatus]int64
}

func (s *Service) List(ctx context.Context, f ListFilter) (*Page, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, invalid("status", "unknown status %q", f.Status)
	}
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PerPage < 1 {
		f.PerPage = DefaultPerPage
	}
	if f.PerPage > MaxPerPage {
		f.PerPage = MaxPerPage
	}

	filtered := func(db *gorm.DB) *gorm.DB {
		if f.Status != "" {
			db = db.Where("registrations.status = ?", f.Status)
		}
		if f.FiscalYear != "" {
			db = db.Where("registrations.fiscal_year = ?", f.FiscalYear)
		}
		if search := strings.TrimSpace(f.Search); search != "" {
			like := "%" + strings.ToLower(search) + "%"
			db = db.Joins("JOIN users ON users.id = registrations.student_id").
				Where("LOWER(users.name) LIKE ? OR LOWER(users.email) LIKE ? OR users.phone LIKE ? OR users.student_number LIKE ?",
					like, like, like, like)
		}
		return db
	}

	page := &Page{Page: f.Page, PerPage: f.PerPage}
	if err := s.db.WithContext(ctx).Model(&models.Registration{}).Scopes(filtered).Count(&page.Total).Error; err != nil {
		return nil, fmt.Errorf("count registrations: %w", err)
	}

	err := s.db.WithContext(ctx).Scopes(filtered).
		Preload("Student").
		Preload("Location").
		Order("registrations.created_at DESC, registrations.id DESC").
		Limit(f.PerPage).
		Offset((f.Page - 1) * f.PerPage).
		Find(&page.Items).Error
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	return page, nil
}

// Get returns a registration with its student, placement, reviewer and audit trail.
func (s *Service) Get(ctx context.Context, id uint) (*models.Registration, error) {
	var reg models.Registration
	if err := withAuditTrail(s.db.WithContext(ctx)).First(&reg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, err
	}
	return &reg, nil
}

// Latest returns the student's most recent registration with its audit trail.
func (s *Service) Latest(ctx context.Context, studentID uint) (*models.Registration, error) {
	var reg models.Registration
	err := withAuditTrail(s.db.WithContext(ctx)).
		Where("student_id = ?", studentID).
		Order("created_at DESC, id DESC").
		First(&reg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: student %d has no registration", ErrNotFound, studentID)
		}
		return nil, err
	}
	return &reg, nil
}

// Stats counts registrations per status, optionally within one fiscal year.
func (s *Service) Stats(ctx context.Context, fiscalYear string) (*Stats, error) {
	var rows []struct {
		Status models.RegistrationStatus
		Count  int64
	}

	q := s.db.WithContext(ctx).Model(&models.Registration{})
	if fiscalYear != "" {
		q = q.Where("fiscal_year = ?", fiscalYear)
	}
	if err := q.Select("status, COUNT(*) AS count").Group("status").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("registration stats: %w", err)
	}

	stats := &Stats{ByStatus: make(map[models.RegistrationStatus]int64, len(models.AllStatuses))}
	for _, status := range models.AllStatuses {
		stats.ByStatus[status] = 0
	}
	for _, row := range rows {
		stats.ByStatus[row.Status] = row.Count
		stats.Total += row.Count
	}
	return stats, nil
}

// Locations lists the placement locations, optionally within one fiscal year.
// Locations are maintained outside this service.
func (s *Service) Locations(ctx context.Context, fiscalYear string) ([]models.Location, error) {
	locations := []models.Location{}
	q := s.db.WithContext(ctx).Preload("Supervisor").Order("name ASC, id ASC")
	if fiscalYear != "" {
		q = q.Where("fiscal_year = ?", fiscalYear)
	}
	if err := q.Find(&locations).Error; err != nil {
		return nil, fmt.Errorf("list locations: %w", err)
	}
	return locations, nil
}

func withAuditTrail(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Student").
		Preload("Location").
		Preload("ReviewedBy").
		Preload("Logs", func(db *gorm.DB) *gorm.DB {
			return db.Order("registration_logs.id ASC")
		}).
		Preload("Logs.Actor")
}
