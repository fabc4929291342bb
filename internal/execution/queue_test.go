package execution

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestMemoryQueue_DedupesByKey(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	q := NewMemoryQueue(func() time.Time { return now })
	ctx := context.Background()
	id := uuid.New()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, nil, QCCheckArgs{BookingID: id, Version: 1}, 30*time.Second, QCKey(id, 1)); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	if err := q.Enqueue(ctx, nil, NudgeArgs{BookingID: id, Version: 1, Sequence: 1}, 24*time.Hour, NudgeKey(id, 1, 1)); err != nil {
		t.Fatalf("Enqueue nudge: %v", err)
	}

	jobs := q.Jobs()
	if len(jobs) != 2 {
		t.Fatalf("jobs: got %d, want 2", len(jobs))
	}
	if !jobs[0].ScheduledAt.Equal(now.Add(30 * time.Second)) {
		t.Errorf("qc scheduled at %v", jobs[0].ScheduledAt)
	}
	if got := q.Kind("feedback_nudge"); len(got) != 1 || !got[0].ScheduledAt.Equal(now.Add(24*time.Hour)) {
		t.Errorf("nudges: got %+v", got)
	}
}

func TestJobArgs(t *testing.T) {
	id := uuid.MustParse("0b6c1f0e-8a53-4b5e-9d1e-1f7c2a9d3e41")
	cases := []struct {
		kind, queue string
		gotKind     string
		gotQueue    string
	}{
		{"qc_check", QueueQC, QCCheckArgs{}.Kind(), QCCheckArgs{}.InsertOpts().Queue},
		{"feedback_nudge", QueueNotifications, NudgeArgs{}.Kind(), NudgeArgs{}.InsertOpts().Queue},
		{"payout_release", QueuePayouts, PayoutReleaseArgs{}.Kind(), PayoutReleaseArgs{}.InsertOpts().Queue},
	}
	for _, tc := range cases {
		if tc.gotKind != tc.kind || tc.gotQueue != tc.queue {
			t.Errorf("got %s on %s, want %s on %s", tc.gotKind, tc.gotQueue, tc.kind, tc.queue)
		}
	}
	if got := QCKey(id, 2); got != "qc:"+id.String()+":2" {
		t.Errorf("QCKey: got %q", got)
	}
	if got := NudgeKey(id, 2, 3); got != "nudge:"+id.String()+":2:3" {
		t.Errorf("NudgeKey: got %q", got)
	}
	if got := PayoutKey(id); got != "payout:"+id.String() {
		t.Errorf("PayoutKey: got %q", got)
	}
}

func TestRiverQueue_Unbound(t *testing.T) {
	q := NewRiverQueue(nil, 8, nil)
	err := q.Enqueue(context.Background(), nil, PayoutReleaseArgs{BookingID: uuid.New()}, 0, "payout:x")
	if !errors.Is(err, ErrQueueUnbound) {
		t.Errorf("got %v, want ErrQueueUnbound", err)
	}
}
