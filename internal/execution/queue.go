package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/rivertype"
)

// ErrQueueUnbound is returned when Enqueue runs before Bind.
var ErrQueueUnbound = errors.New("job queue has no river client")

// RiverQueue enqueues deferred work into River. A job inserted with a tx is
// only visible once that tx commits.
//
// Workers need the services that enqueue, and River needs its workers before
// the client exists, so the client can be bound after construction.
type RiverQueue struct {
	mu          sync.RWMutex
	client      *river.Client[pgx.Tx]
	maxAttempts int
	log         *slog.Logger
}

func NewRiverQueue(client *river.Client[pgx.Tx], maxAttempts int, log *slog.Logger) *RiverQueue {
	if log == nil {
		log = slog.Default()
	}
	return &RiverQueue{client: client, maxAttempts: maxAttempts, log: log}
}

// Bind sets the client used by later Enqueue calls.
func (q *RiverQueue) Bind(client *river.Client[pgx.Tx]) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.client = client
}

type jobMetadata struct {
	IdempotencyKey string `json:"idempotency_key"`
}

// Enqueue inserts args to run after delay. Jobs are unique by args, so a
// second insert for the same occurrence is skipped.
func (q *RiverQueue) Enqueue(ctx context.Context, tx pgx.Tx, args river.JobArgs, delay time.Duration, idempotencyKey string) error {
	meta, err := json.Marshal(jobMetadata{IdempotencyKey: idempotencyKey})
	if err != nil {
		return err
	}
	opts := &river.InsertOpts{
		MaxAttempts: q.maxAttempts,
		Metadata:    meta,
		UniqueOpts:  river.UniqueOpts{ByArgs: true},
	}
	if delay > 0 {
		opts.ScheduledAt = time.Now().Add(delay)
	}

	q.mu.RLock()
	client := q.client
	q.mu.RUnlock()
	if client == nil {
		return ErrQueueUnbound
	}

	var res *rivertype.JobInsertResult
	if tx != nil {
		res, err = client.InsertTx(ctx, tx, args, opts)
	} else {
		res, err = client.Insert(ctx, args, opts)
	}
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", args.Kind(), err)
	}
	if res.UniqueSkippedAsDuplicate {
		q.log.Debug("job already enqueued", "kind", args.Kind(), "key", idempotencyKey)
	}
	return nil
}

// Enqueued is a job recorded by MemoryQueue.
type Enqueued struct {
	Args        river.JobArgs
	ScheduledAt time.Time
	Key         string
}

// MemoryQueue is an in-process queue used by tests and local tooling. It
// keeps the first job seen for each idempotency key.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs []Enqueued
	seen map[string]struct{}
	Now  func() time.Time
}

func NewMemoryQueue(now func() time.Time) *MemoryQueue {
	if now == nil {
		now = time.Now
	}
	return &MemoryQueue{seen: make(map[string]struct{}), Now: now}
}

func (q *MemoryQueue) Enqueue(_ context.Context, _ pgx.Tx, args river.JobArgs, delay time.Duration, idempotencyKey string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.seen[idempotencyKey]; ok {
		return nil
	}
	q.seen[idempotencyKey] = struct{}{}
	q.jobs = append(q.jobs, Enqueued{Args: args, ScheduledAt: q.Now().Add(delay), Key: idempotencyKey})
	return nil
}

// Jobs returns a copy of the recorded jobs in insertion order.
func (q *MemoryQueue) Jobs() []Enqueued {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Enqueued(nil), q.jobs...)
}

// Kind returns the recorded jobs of one kind.
func (q *MemoryQueue) Kind(kind string) []Enqueued {
	var out []Enqueued
	for _, j := range q.Jobs() {
		if j.Args.Kind() == kind {
			out = append(out, j)
		}
	}
	return out
}
