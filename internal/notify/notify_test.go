package notify

import (
	"context"
	"testing"

	"github.com/google/uuid"
)

func TestRoutingKey(t *testing.T) {
	if got := RoutingKey(TemplateRevisionNudge); got != "notify.feedback_revision_nudge" {
		t.Errorf("got %q", got)
	}
}

func TestLogNotifier_NeverFails(t *testing.T) {
	err := LogNotifier{}.Send(context.Background(), Message{RecipientID: uuid.New(), Template: TemplateBookingRequested})
	if err != nil {
		t.Errorf("LogNotifier.Send: %v", err)
	}
}

func TestDedupID(t *testing.T) {
	id := uuid.MustParse("6f1c2b1e-3d7a-4c8e-9a55-0b8f5a1c2d3e")
	m := Message{BookingID: id, Template: TemplateBookingScheduled}
	if got, want := m.DedupID(), id.String()+":booking_scheduled"; got != want {
		t.Errorf("default: got %q, want %q", got, want)
	}
	m.ID = "nudge:x:2:1"
	if got := m.DedupID(); got != "nudge:x:2:1" {
		t.Errorf("explicit: got %q", got)
	}
}
