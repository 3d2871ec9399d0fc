package notifier

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/lppm-portal/kkn-api/internal/models"
)

type recordingNotifier struct {
	events []RegistrationEvent
	err    error
}

func (r *recordingNotifier) NotifyRegistration(_ context.Context, event RegistrationEvent) error {
	r.events = append(r.events, event)
	return r.err
}

func TestMulti_FansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingNotifier{}
	failing := &recordingNotifier{err: errors.New("broker down")}

	m := Multi{ok, nil, failing}
	err := m.NotifyRegistration(context.Background(), RegistrationEvent{RegistrationID: 1})
	if err == nil || !strings.Contains(err.Error(), "broker down") {
		t.Fatalf("expected joined error, got %v", err)
	}
	if len(ok.events) != 1 || len(failing.events) != 1 {
		t.Errorf("expected both notifiers to receive the event, got %d and %d", len(ok.events), len(failing.events))
	}
}

func TestFormatDiscordMessage(t *testing.T) {
	msg := FormatDiscordMessage(RegistrationEvent{
		RegistrationID: 12,
		FiscalYear:     "2025",
		StudentName:    "Siti Aminah",
		Action:         models.ActionNeedsRevision,
		OldStatus:      models.StatusPending,
		NewStatus:      models.StatusNeedsRevision,
		Note:           "KRS is blurry",
	})

	for _, want := range []string{"Needs Revision", "#12", "Siti Aminah", "pending → needs_revision", "KRS is blurry"} {
		if !strings.Contains(msg, want) {
			t.Errorf("expected message to contain %q, got:\n%s", want, msg)
		}
	}
}

func TestDiscordNotifier_RequiresSession(t *testing.T) {
	n := NewDiscordNotifier(nil, "123")
	if err := n.NotifyRegistration(context.Background(), RegistrationEvent{}); err == nil {
		t.Error("expected error without a session")
	}
}

func TestKafkaNotifier_NilIsNoop(t *testing.T) {
	var n *KafkaNotifier
	if err := n.NotifyRegistration(context.Background(), RegistrationEvent{}); err != nil {
		t.Errorf("expected nil notifier to skip publishing, got %v", err)
	}
}
