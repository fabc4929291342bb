// Package payments adapts the payment provider to fixed request/response
// types. Provider payload shapes never leave this package.
package payments

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// Normalized statuses reported by RetrieveEvent.
const (
	StatusHeld     = "held"
	StatusReleased = "released"
	StatusRefunded = "refunded"
)

// ErrUnsupportedEvent is returned for provider events that carry no escrow
// status change.
var ErrUnsupportedEvent = errors.New("event does not affect escrow")

// ErrUnknownEvent is returned when the provider has no record of an event id.
var ErrUnknownEvent = errors.New("event not known to provider")

// ErrRejected marks a request the provider refused. Nothing was created.
var ErrRejected = errors.New("rejected by provider")

type HoldRequest struct {
	BookingID      uuid.UUID
	Amount         int64
	Currency       string
	Source         string // tokenized card or customer reference
	IdempotencyKey string
}

type TransferRequest struct {
	BookingID      uuid.UUID
	Amount         int64
	Destination    string
	SourceHoldID   string
	IdempotencyKey string
}

// Event is a verified provider event reduced to what reconciliation needs.
type Event struct {
	ID     string
	Key    string
	HoldID string
	Status string
}

// HoldKey and TransferKey derive idempotency keys from the booking id so a
// retried call carries the same key as the original.
func HoldKey(bookingID uuid.UUID) string     { return "hold:" + bookingID.String() }
func TransferKey(bookingID uuid.UUID) string { return "transfer:" + bookingID.String() }

// RetryPolicy bounds every provider call: each attempt gets Timeout, and
// transient failures are retried with exponential backoff.
type RetryPolicy struct {
	Timeout     time.Duration
	MaxTries    uint
	MaxElapsed  time.Duration
	InitialWait time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Timeout:     10 * time.Second,
		MaxTries:    4,
		MaxElapsed:  45 * time.Second,
		InitialWait: 250 * time.Millisecond,
	}
}

// Do runs op under the policy. op marks non-retryable failures with
// backoff.Permanent.
func Do[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if p.InitialWait > 0 {
		b.InitialInterval = p.InitialWait
	}
	opts := []backoff.RetryOption{backoff.WithBackOff(b)}
	if p.MaxTries > 0 {
		opts = append(opts, backoff.WithMaxTries(p.MaxTries))
	}
	if p.MaxElapsed > 0 {
		opts = append(opts, backoff.WithMaxElapsedTime(p.MaxElapsed))
	}
	return backoff.Retry(ctx, func() (T, error) {
		attemptCtx := ctx
		if p.Timeout > 0 {
			var cancel context.CancelFunc
			attemptCtx, cancel = context.WithTimeout(ctx, p.Timeout)
			defer cancel()
		}
		return op(attemptCtx)
	}, opts...)
}

// CreateOnce runs create under the policy but never repeats a create whose
// outcome is unknown. After a timeout or transport failure, find reports
// whether the earlier attempt went through before another create is sent.
func CreateOnce(ctx context.Context, p RetryPolicy, find func(ctx context.Context) (string, bool, error), create func(ctx context.Context) (string, error)) (string, error) {
	uncertain := false
	return Do(ctx, p, func(ctx context.Context) (string, error) {
		if uncertain {
			id, ok, err := find(ctx)
			if err != nil {
				return "", err
			}
			if ok {
				return id, nil
			}
		}
		id, err := create(ctx)
		if err != nil && !errors.Is(err, ErrRejected) {
			uncertain = true
		}
		return id, err
	})
}
