package execution

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"
)

// Queue names.
const (
	QueueQC            = "qc"
	QueueNotifications = "notifications"
	QueuePayouts       = "payouts"
)

// QCCheckArgs evaluates one submitted feedback version.
type QCCheckArgs struct {
	BookingID uuid.UUID `json:"booking_id"`
	Version   int       `json:"version"`
}

func (QCCheckArgs) Kind() string { return "qc_check" }

func (QCCheckArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueQC}
}

// NudgeArgs reminds the provider to revise a feedback version. Sequence is
// 1-based.
type NudgeArgs struct {
	BookingID uuid.UUID `json:"booking_id"`
	Version   int       `json:"version"`
	Sequence  int       `json:"sequence"`
}

func (NudgeArgs) Kind() string { return "feedback_nudge" }

func (NudgeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueueNotifications}
}

// PayoutReleaseArgs transfers a pending payout to the provider.
type PayoutReleaseArgs struct {
	BookingID uuid.UUID `json:"booking_id"`
}

func (PayoutReleaseArgs) Kind() string { return "payout_release" }

func (PayoutReleaseArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{Queue: QueuePayouts}
}

// Idempotency keys. A key names one logical occurrence of a job.

func QCKey(bookingID uuid.UUID, version int) string {
	return fmt.Sprintf("qc:%s:%d", bookingID, version)
}

func NudgeKey(bookingID uuid.UUID, version, seq int) string {
	return fmt.Sprintf("nudge:%s:%d:%d", bookingID, version, seq)
}

func PayoutKey(bookingID uuid.UUID) string {
	return "payout:" + bookingID.String()
}
