// Package dashboard serves the operator views: booking detail with its money
// trail, the manual-review queue and the QC override.
package dashboard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/middleware"
	"github.com/paidcall/backend/internal/models"
	"github.com/paidcall/backend/internal/services"
)

// Bookings is the subset of the coordinator the dashboard reads and acts on.
type Bookings interface {
	Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetFeedback(ctx context.Context, bookingID uuid.UUID) (*models.Feedback, error)
	ListNeedingReview(ctx context.Context, limit int) ([]*models.Booking, error)
	OverrideQCFailed(ctx context.Context, bookingID, adminID uuid.UUID, reason string) error
}

// Money reads the escrow side of a booking.
type Money interface {
	Payment(ctx context.Context, bookingID uuid.UUID) (*models.Payment, error)
	Payout(ctx context.Context, bookingID uuid.UUID) (*models.Payout, error)
}

type BodyValidator interface {
	Validate(ctx context.Context, schema string, body []byte) error
}

type Handler struct {
	bookings  Bookings
	money     Money
	validator BodyValidator
	log       *slog.Logger
}

func NewHandler(bookings Bookings, money Money, v BodyValidator, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{bookings: bookings, money: money, validator: v, log: log}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) fail(w http.ResponseWriter, err error, what string) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(what+" failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error(), "code": string(apperr.CodeOf(err))})
}

func bookingID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid booking id"})
		return uuid.Nil, false
	}
	return id, true
}

// GET /api/v1/admin/bookings/{id}
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	b, err := h.bookings.Get(ctx, id)
	if err != nil {
		h.fail(w, err, "get booking")
		return
	}
	payment, err := optional[models.Payment](h.money.Payment(ctx, id))
	if err != nil {
		h.fail(w, err, "get payment")
		return
	}
	payout, err := optional[models.Payout](h.money.Payout(ctx, id))
	if err != nil {
		h.fail(w, err, "get payout")
		return
	}
	feedback, err := optional[models.Feedback](h.bookings.GetFeedback(ctx, id))
	if err != nil {
		h.fail(w, err, "get feedback")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"booking":  b,
		"payment":  payment,
		"payout":   payout,
		"feedback": feedback,
	})
}

// optional turns a not-found lookup into a nil value.
func optional[T any](v *T, err error) (*T, error) {
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

// GET /api/v1/admin/bookings?limit=n lists bookings flagged for manual review.
func (h *Handler) ListNeedingReview(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}
	list, err := h.bookings.ListNeedingReview(r.Context(), limit)
	if err != nil {
		h.fail(w, err, "list review queue")
		return
	}
	if list == nil {
		list = []*models.Booking{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": list})
}

// POST /api/v1/admin/bookings/{id}/qc-fail
func (h *Handler) FailQC(w http.ResponseWriter, r *http.Request) {
	admin, ok := middleware.ActorFromCtx(r.Context())
	if !ok || !admin.IsAdmin() {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "admin only"})
		return
	}
	id, ok := bookingID(w, r)
	if !ok {
		return
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable body"})
		return
	}
	if h.validator != nil {
		if err := h.validator.Validate(r.Context(), services.SchemaQCFail, raw); err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}

	if err := h.bookings.OverrideQCFailed(r.Context(), id, admin.ID, body.Reason); err != nil {
		// The override may have blocked the payout before the refund failed;
		// the booking is then in the review queue.
		h.log.Warn("qc override incomplete", "booking_id", id, "admin_id", admin.ID, "error", err)
		h.fail(w, err, "qc override")
		return
	}
	h.log.Info("qc override applied", "booking_id", id, "admin_id", admin.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
