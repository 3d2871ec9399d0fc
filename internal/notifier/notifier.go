package notifier

import (
	"context"
	"errors"
	"time"

	"github.com/lppm-portal/kkn-api/internal/models"
)

// RegistrationEvent describes one committed change to a KKN registration.
type RegistrationEvent struct {
	RegistrationID uint                      `json:"registration_id"`
	StudentID      uint                      `json:"student_id"`
	StudentName    string                    `json:"student_name"`
	FiscalYear     string                    `json:"fiscal_year"`
	ActorID        uint                      `json:"actor_id"`
	Action         models.LogAction          `json:"action"`
	OldStatus      models.RegistrationStatus `json:"old_status"`
	NewStatus      models.RegistrationStatus `json:"new_status"`
	Note           string                    `json:"note"`
	Documents      []string                  `json:"documents,omitempty"`
	OccurredAt     time.Time                 `json:"occurred_at"`
}

type Notifier interface {
	NotifyRegistration(ctx context.Context, event RegistrationEvent) error
}

// Multi fans an event out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyRegistration(ctx context.Context, event RegistrationEvent) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.NotifyRegistration(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
