package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cenkalti/backoff/v5"
	"github.com/omise/omise-go"
	"github.com/omise/omise-go/operations"
)

// OmiseGateway implements the payment collaborator on Omise. A hold is a
// captured charge kept on the platform balance; release is a transfer to
// the provider's recipient; refunds go back to the original charge.
type OmiseGateway struct {
	client   *omise.Client
	currency string
	policy   RetryPolicy
	log      *slog.Logger
}

func NewOmiseGateway(publicKey, secretKey, currency string, policy RetryPolicy, log *slog.Logger) (*OmiseGateway, error) {
	c, err := omise.NewClient(publicKey, secretKey)
	if err != nil {
		return nil, fmt.Errorf("omise client: %w", err)
	}
	c.SetDebug(false)
	if log == nil {
		log = slog.Default()
	}
	return &OmiseGateway{client: c, currency: currency, policy: policy, log: log}, nil
}

// CreateHold charges the requester. The idempotency key is stored in the
// charge metadata so an attempt with an unknown outcome can be looked up
// instead of charging twice.
func (g *OmiseGateway) CreateHold(ctx context.Context, req HoldRequest) (string, error) {
	currency := req.Currency
	if currency == "" {
		currency = g.currency
	}
	op := &operations.CreateCharge{
		Amount:      req.Amount,
		Currency:    currency,
		Card:        req.Source,
		Description: "consultation " + req.BookingID.String(),
		Metadata: map[string]any{
			"booking_id":        req.BookingID.String(),
			metadataIdempotency: req.IdempotencyKey,
		},
	}
	find := func(ctx context.Context) (string, bool, error) {
		return g.findCharge(ctx, req.IdempotencyKey)
	}
	return CreateOnce(ctx, g.policy, find, func(ctx context.Context) (string, error) {
		ch := &omise.Charge{}
		if err := g.call(ctx, func() error { return g.client.Do(ch, op) }); err != nil {
			return "", err
		}
		if string(ch.Status) == "failed" {
			code := ""
			if ch.FailureCode != nil {
				code = *ch.FailureCode
			}
			return "", backoff.Permanent(fmt.Errorf("%w: charge %s failed: %s", ErrRejected, ch.ID, code))
		}
		g.log.Info("omise charge created", "booking_id", req.BookingID, "charge_id", ch.ID)
		return ch.ID, nil
	})
}

// Refund returns amount to the charge. A charge that has already been
// refunded that far is left alone.
func (g *OmiseGateway) Refund(ctx context.Context, holdID string, amount int64) error {
	find := func(ctx context.Context) (string, bool, error) {
		ch := &omise.Charge{}
		op := &operations.RetrieveCharge{ChargeID: holdID}
		if err := g.call(ctx, func() error { return g.client.Do(ch, op) }); err != nil {
			return "", false, err
		}
		return ch.ID, ch.Refunded >= amount, nil
	}
	if _, done, err := find(ctx); err == nil && done {
		g.log.Info("omise charge already refunded", "charge_id", holdID)
		return nil
	}
	_, err := CreateOnce(ctx, g.policy, find, func(ctx context.Context) (string, error) {
		rf := &omise.Refund{}
		op := &operations.CreateRefund{ChargeID: holdID, Amount: amount}
		if err := g.call(ctx, func() error { return g.client.Do(rf, op) }); err != nil {
			return "", err
		}
		return rf.ID, nil
	})
	return err
}

// Transfer pays the provider's recipient, tagged with the idempotency key.
func (g *OmiseGateway) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	op := &operations.CreateTransfer{
		Amount:    req.Amount,
		Recipient: req.Destination,
		Metadata: map[string]any{
			"booking_id":        req.BookingID.String(),
			"source_charge":     req.SourceHoldID,
			metadataIdempotency: req.IdempotencyKey,
		},
	}
	find := func(ctx context.Context) (string, bool, error) {
		return g.FindTransfer(ctx, req.IdempotencyKey)
	}
	return CreateOnce(ctx, g.policy, find, func(ctx context.Context) (string, error) {
		tr := &omise.Transfer{}
		if err := g.call(ctx, func() error { return g.client.Do(tr, op) }); err != nil {
			return "", err
		}
		g.log.Info("omise transfer created", "booking_id", req.BookingID, "transfer_id", tr.ID)
		return tr.ID, nil
	})
}

const metadataIdempotency = "idempotency_key"

// FindTransfer looks up a transfer by the idempotency key in its metadata.
func (g *OmiseGateway) FindTransfer(ctx context.Context, idempotencyKey string) (string, bool, error) {
	res := &omise.TransferSearchResult{}
	op := &operations.Search{Scope: omise.TransferScope, Query: idempotencyKey}
	if err := g.call(ctx, func() error { return g.client.Do(res, op) }); err != nil {
		return "", false, err
	}
	for _, tr := range res.Data {
		if hasKey(tr.Metadata, idempotencyKey) {
			return tr.ID, true, nil
		}
	}
	return "", false, nil
}

func (g *OmiseGateway) findCharge(ctx context.Context, idempotencyKey string) (string, bool, error) {
	res := &omise.ChargeSearchResult{}
	op := &operations.Search{Scope: omise.ChargeScope, Query: idempotencyKey}
	if err := g.call(ctx, func() error { return g.client.Do(res, op) }); err != nil {
		return "", false, err
	}
	for _, ch := range res.Data {
		if hasKey(ch.Metadata, idempotencyKey) && string(ch.Status) != "failed" {
			return ch.ID, true, nil
		}
	}
	return "", false, nil
}

// hasKey matches the metadata exactly; search results are fuzzy.
func hasKey(metadata map[string]any, key string) bool {
	v, ok := metadata[metadataIdempotency].(string)
	return ok && key != "" && v == key
}

// providerObject is the subset of charge and refund payloads used to map
// events back to a hold.
type providerObject struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Charge string `json:"charge"`
	Status string `json:"status"`
}

// RetrieveEvent re-fetches an event from Omise so that only events the
// provider actually emitted are reconciled.
func (g *OmiseGateway) RetrieveEvent(ctx context.Context, eventID string) (*Event, error) {
	ev := &omise.Event{}
	_, err := Do(ctx, g.policy, func(ctx context.Context) (struct{}, error) {
		op := &operations.RetrieveEvent{EventID: eventID}
		return struct{}{}, g.call(ctx, func() error { return g.client.Do(ev, op) })
	})
	if err != nil {
		return nil, retrieveError(eventID, err)
	}
	return eventFromOmise(eventID, ev)
}

func retrieveError(eventID string, err error) error {
	var oe *omise.Error
	if errors.As(err, &oe) && oe.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, eventID)
	}
	return err
}

// eventFromOmise reduces a provider event to the hold it concerns and the
// escrow status it reports.
func eventFromOmise(eventID string, ev *omise.Event) (*Event, error) {
	raw, err := json.Marshal(ev.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal event data: %w", err)
	}
	var obj providerObject
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode event data: %w", err)
	}
	out := &Event{ID: eventID, Key: ev.Key}
	switch {
	case ev.Key == "refund.create" && obj.Charge != "":
		out.HoldID, out.Status = obj.Charge, StatusRefunded
	case ev.Key == "charge.reverse" || (obj.Object == "charge" && obj.Status == "reversed"):
		out.HoldID, out.Status = obj.ID, StatusRefunded
	case ev.Key == "charge.complete" && obj.Status == "successful":
		out.HoldID, out.Status = obj.ID, StatusHeld
	default:
		return out, ErrUnsupportedEvent
	}
	return out, nil
}

// call runs a blocking client call and gives up when ctx ends. The client
// has no context support, so an abandoned call may still complete upstream;
// creates go through CreateOnce for that reason.
func (g *OmiseGateway) call(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return classify(err)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// classify makes provider rejections permanent; transport failures stay
// retryable.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var oe *omise.Error
	if errors.As(err, &oe) && oe.StatusCode >= 400 && oe.StatusCode < 500 {
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrRejected, err))
	}
	return err
}
