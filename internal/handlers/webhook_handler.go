package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/ledger"
	"github.com/paidcall/backend/internal/models"
	"github.com/paidcall/backend/internal/payments"
)

// EventSource re-fetches a provider event by id. Webhook bodies are never
// trusted directly.
type EventSource interface {
	RetrieveEvent(ctx context.Context, eventID string) (*payments.Event, error)
}

// Reconciler applies provider-reported payment statuses.
type Reconciler interface {
	ReconcileFromWebhook(ctx context.Context, externalHoldID, externalStatus string) (*ledger.Reconciliation, error)
}

// ExternalRefunds moves a booking to refunded after the provider refunded
// its payment.
type ExternalRefunds interface {
	MarkRefundedExternally(ctx context.Context, bookingID uuid.UUID) error
}

// PaymentWebhookHandler serves POST /api/v1/webhooks/payments.
type PaymentWebhookHandler struct {
	Events   EventSource
	Ledger   Reconciler
	Bookings ExternalRefunds
	Logger   *slog.Logger
}

func NewPaymentWebhookHandler(events EventSource, l Reconciler, bookings ExternalRefunds, log *slog.Logger) *PaymentWebhookHandler {
	if log == nil {
		log = slog.Default()
	}
	return &PaymentWebhookHandler{Events: events, Ledger: l, Bookings: bookings, Logger: log}
}

type webhookEnvelope struct {
	Object string `json:"object"`
	ID     string `json:"id"`
	Key    string `json:"key"`
}

type webhookResponse struct {
	Status string `json:"status"`
}

// Handle verifies the event by fetching it from the provider, then
// reconciles. Replays and events that do not apply are acknowledged with 200
// so the provider stops retrying; only provider outages answer 5xx.
func (h *PaymentWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "unreadable body")
		return
	}
	var env webhookEnvelope
	if err := json.Unmarshal(raw, &env); err != nil || env.ID == "" {
		writeMessage(w, http.StatusBadRequest, "missing event id")
		return
	}

	ev, err := h.Events.RetrieveEvent(r.Context(), env.ID)
	switch {
	case errors.Is(err, payments.ErrUnknownEvent):
		h.Logger.Warn("webhook for unknown event", "event_id", env.ID)
		writeMessage(w, http.StatusUnauthorized, "unknown event")
		return
	case errors.Is(err, payments.ErrUnsupportedEvent):
		writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		return
	case err != nil:
		h.Logger.Error("retrieve webhook event", "event_id", env.ID, "error", err)
		writeMessage(w, http.StatusBadGateway, "event lookup failed")
		return
	}

	rec, err := h.Ledger.ReconcileFromWebhook(r.Context(), ev.HoldID, ev.Status)
	if err != nil {
		switch apperr.CodeOf(err) {
		case apperr.CodeNotFound, apperr.CodeInvalidState, apperr.CodeInvalidInput:
			h.Logger.Warn("webhook not applied", "event_id", ev.ID, "hold_id", ev.HoldID, "status", ev.Status, "error", err)
			writeJSON(w, http.StatusOK, webhookResponse{Status: "ignored"})
		default:
			h.Logger.Error("reconcile webhook", "event_id", ev.ID, "hold_id", ev.HoldID, "error", err)
			writeMessage(w, http.StatusInternalServerError, "reconcile failed")
		}
		return
	}
	if rec.Changed {
		h.Logger.Info("payment reconciled from webhook", "event_id", ev.ID, "booking_id", rec.Payment.BookingID, "status", rec.Payment.Status)
	}
	// A refund replay still reaches the booking so a failed update below is
	// retried with the provider's next delivery.
	if rec.Payment.Status == models.PaymentRefunded {
		if err := h.Bookings.MarkRefundedExternally(r.Context(), rec.Payment.BookingID); err != nil {
			h.Logger.Error("mark booking refunded", "booking_id", rec.Payment.BookingID, "error", err)
			writeMessage(w, http.StatusInternalServerError, "booking update failed")
			return
		}
	}
	status := "unchanged"
	if rec.Changed {
		status = "applied"
	}
	writeJSON(w, http.StatusOK, webhookResponse{Status: status})
}
