package handlers

import (
	"time"

	"github.com/lppm-portal/kkn-api/internal/models"
)

type UserSummary struct {
	ID            uint   `json:"id"`
	Name          string `json:"name"`
	Email         string `json:"email"`
	Phone         string `json:"phone,omitempty"`
	StudentNumber string `json:"student_number,omitempty"`
}

type LocationSummary struct {
	ID         uint         `json:"id"`
	Name       string       `json:"name"`
	Village    string       `json:"village,omitempty"`
	District   string       `json:"district,omitempty"`
	Regency    string       `json:"regency,omitempty"`
	FiscalYear string       `json:"fiscal_year,omitempty"`
	Quota      int          `json:"quota,omitempty"`
	Supervisor *UserSummary `json:"supervisor,omitempty"`
}

type LogEntry struct {
	ID        uint                      `json:"id"`
	Action    models.LogAction          `json:"action"`
	OldStatus models.RegistrationStatus `json:"old_status"`
	NewStatus models.RegistrationStatus `json:"new_status"`
	Note      string                    `json:"note"`
	Metadata  map[string]any            `json:"metadata,omitempty"`
	Actor     *UserSummary              `json:"actor,omitempty"`
	CreatedAt time.Time                 `json:"created_at"`
}

type RegistrationBody struct {
	ID         uint                      `json:"id"`
	Status     models.RegistrationStatus `json:"status"`
	FiscalYear string                    `json:"fiscal_year"`
	Student    UserSummary               `json:"student"`
	Location   *LocationSummary          `json:"location,omitempty"`
	ReviewedBy *UserSummary              `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time                `json:"reviewed_at,omitempty"`
	Documents  map[string]string         `json:"documents"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
	Logs       []LogEntry                `json:"logs,omitempty"`
}

func locationSummary(l models.Location) LocationSummary {
	summary := LocationSummary{
		ID:         l.ID,
		Name:       l.Name,
		Village:    l.Village,
		District:   l.District,
		Regency:    l.Regency,
		FiscalYear: l.FiscalYear,
		Quota:      l.Quota,
	}
	if l.Supervisor != nil {
		supervisor := userSummary(*l.Supervisor)
		summary.Supervisor = &supervisor
	}
	return summary
}

func userSummary(u models.User) UserSummary {
	return UserSummary{
		ID:            u.ID,
		Name:          u.Name,
		Email:         u.Email,
		Phone:         u.Phone,
		StudentNumber: u.StudentNumber,
	}
}

func logEntry(l models.RegistrationLog) LogEntry {
	entry := LogEntry{
		ID:        l.ID,
		Action:    l.Action,
		OldStatus: l.OldStatus,
		NewStatus: l.NewStatus,
		Note:      l.Note,
		Metadata:  l.Metadata,
		CreatedAt: l.CreatedAt,
	}
	if l.Actor.ID != 0 {
		actor := userSummary(l.Actor)
		entry.Actor = &actor
	}
	return entry
}

func registrationBody(r models.Registration) RegistrationBody {
	body := RegistrationBody{
		ID:         r.ID,
		Status:     r.Status,
		FiscalYear: r.FiscalYear,
		Student:    userSummary(r.Student),
		ReviewedAt: r.ReviewedAt,
		Documents:  map[string]string{},
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	for kind, ref := range r.Documents.Data() {
		body.Documents[kind] = ref
	}
	if r.Location != nil {
		loc := locationSummary(*r.Location)
		body.Location = &loc
	}
	if r.ReviewedBy != nil {
		reviewer := userSummary(*r.ReviewedBy)
		body.ReviewedBy = &reviewer
	}
	for _, l := range r.Logs {
		body.Logs = append(body.Logs, logEntry(l))
	}
	return body
}
