// Package notify hands notification requests to the mailer pipeline.
// Rendering and delivery happen downstream; this side only names a template
// and supplies its data.
package notify

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Templates understood by the mailer.
const (
	TemplateBookingRequested = "booking_requested"
	TemplateBookingScheduled = "booking_scheduled"
	TemplateBookingCancelled = "booking_cancelled"
	TemplateFeedbackRevision = "feedback_revision"
	TemplateRevisionNudge    = "feedback_revision_nudge"
	TemplateRefundIssued     = "refund_issued"
)

type Message struct {
	// ID lets the mailer drop redelivered messages. Defaults to
	// "<booking>:<template>".
	ID          string         `json:"id"`
	RecipientID uuid.UUID      `json:"recipient_id"`
	Template    string         `json:"template"`
	BookingID   uuid.UUID      `json:"booking_id"`
	Data        map[string]any `json:"data,omitempty"`
	SentAt      time.Time      `json:"sent_at"`
}

// LogNotifier writes messages to the log. Used when no broker is configured.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Send(_ context.Context, msg Message) error {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	log.Info("notification", "id", msg.DedupID(), "template", msg.Template, "recipient_id", msg.RecipientID, "booking_id", msg.BookingID)
	return nil
}

// DedupID returns ID, or a key derived from the booking and template.
func (m Message) DedupID() string {
	if m.ID != "" {
		return m.ID
	}
	return m.BookingID.String() + ":" + m.Template
}
