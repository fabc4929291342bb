package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/booking"
	"github.com/paidcall/backend/internal/middleware"
	"github.com/paidcall/backend/internal/models"
	"github.com/paidcall/backend/internal/services"
	"github.com/paidcall/backend/internal/slots"
)

// BookingCoordinator is the subset of the booking service the participant
// API needs.
type BookingCoordinator interface {
	RequestBooking(ctx context.Context, in booking.RequestInput) (*models.Booking, error)
	ScheduleBooking(ctx context.Context, bookingID, actorID uuid.UUID, chosenStart time.Time) (*models.Booking, error)
	DeclineBooking(ctx context.Context, bookingID, actorID uuid.UUID) (*models.Booking, error)
	RecordJoin(ctx context.Context, bookingID, actorID uuid.UUID, joinedAt time.Time) (*models.Booking, error)
	SubmitFeedback(ctx context.Context, bookingID, providerID uuid.UUID, in booking.FeedbackInput) (*models.Feedback, error)
	CancelBooking(ctx context.Context, bookingID, actorID uuid.UUID, reason string) (*models.Booking, error)
	Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	GetFeedback(ctx context.Context, bookingID uuid.UUID) (*models.Feedback, error)
}

// BookingHandler serves /api/v1/bookings endpoints. Every route expects an
// authenticated actor in the request context.
type BookingHandler struct {
	Bookings  BookingCoordinator
	Validator BodyValidator
	Logger    *slog.Logger
}

func NewBookingHandler(bookings BookingCoordinator, v BodyValidator, log *slog.Logger) *BookingHandler {
	if log == nil {
		log = slog.Default()
	}
	return &BookingHandler{Bookings: bookings, Validator: v, Logger: log}
}

// --- POST /api/v1/bookings ---

type requestBookingRequest struct {
	ProviderID    string        `json:"provider_id"`
	Slots         []slots.Range `json:"slots"`
	PaymentSource string        `json:"payment_source"`
}

// Create handles POST /api/v1/bookings. The caller becomes the requester.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	var req requestBookingRequest
	if err := decodeBody(r, h.Validator, services.SchemaRequestBooking, &req, false); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	providerID, err := uuid.Parse(req.ProviderID)
	if err != nil {
		writeMessage(w, http.StatusBadRequest, "invalid provider_id")
		return
	}
	b, err := h.Bookings.RequestBooking(r.Context(), booking.RequestInput{
		RequesterID:   actor.ID,
		ProviderID:    providerID,
		Slots:         req.Slots,
		PaymentSource: req.PaymentSource,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// --- GET /api/v1/bookings/{id} ---

// Get returns a booking to its participants and administrators.
func (h *BookingHandler) Get(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.Bookings.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if !actor.IsAdmin() && !b.IsParticipant(actor.ID) {
		writeError(w, h.Logger, apperr.ErrForbidden)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// GetFeedback handles GET /api/v1/bookings/{id}/feedback.
func (h *BookingHandler) GetFeedback(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.Bookings.Get(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if !actor.IsAdmin() && !b.IsParticipant(actor.ID) {
		writeError(w, h.Logger, apperr.ErrForbidden)
		return
	}
	fb, err := h.Bookings.GetFeedback(r.Context(), id)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, fb)
}

// --- POST /api/v1/bookings/{id}/schedule ---

type scheduleRequest struct {
	StartAt  *time.Time `json:"start_at"`
	Start    string     `json:"start"`
	Timezone string     `json:"timezone"`
}

// Schedule accepts either an absolute start_at or a wall-clock start with
// its timezone.
func (h *BookingHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req scheduleRequest
	if err := decodeBody(r, h.Validator, services.SchemaScheduleBooking, &req, false); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	var start time.Time
	switch {
	case req.StartAt != nil:
		start = *req.StartAt
	case req.Start != "":
		t, err := slots.ResolveWall(req.Start, req.Timezone)
		if err != nil {
			writeError(w, h.Logger, apperr.Wrap(apperr.CodeInvalidInput, "invalid start", err))
			return
		}
		start = t
	}
	b, err := h.Bookings.ScheduleBooking(r.Context(), id, actor.ID, start)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- POST /api/v1/bookings/{id}/decline ---

func (h *BookingHandler) Decline(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	b, err := h.Bookings.DeclineBooking(r.Context(), id, actor.ID)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- POST /api/v1/bookings/{id}/join ---

type joinRequest struct {
	JoinedAt *time.Time `json:"joined_at"`
}

// Join records the caller's attendance. Without joined_at the server clock
// is used.
func (h *BookingHandler) Join(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := decodeBody(r, nil, "", &req, true); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	var at time.Time
	if req.JoinedAt != nil {
		at = *req.JoinedAt
	}
	b, err := h.Bookings.RecordJoin(r.Context(), id, actor.ID, at)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// --- POST /api/v1/bookings/{id}/feedback ---

type feedbackRequest struct {
	Text        string         `json:"text"`
	ActionItems []string       `json:"action_items"`
	Ratings     models.Ratings `json:"ratings"`
}

// Feedback stores a new feedback version and answers 202: the QC verdict
// arrives asynchronously.
func (h *BookingHandler) Feedback(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := decodeBody(r, h.Validator, services.SchemaSubmitFeedback, &req, false); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	fb, err := h.Bookings.SubmitFeedback(r.Context(), id, actor.ID, booking.FeedbackInput{
		Text:        req.Text,
		ActionItems: req.ActionItems,
		Ratings:     req.Ratings,
	})
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, fb)
}

// --- POST /api/v1/bookings/{id}/cancel ---

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	actor, id, ok := h.actorAndID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := decodeBody(r, h.Validator, services.SchemaCancelBooking, &req, true); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	b, err := h.Bookings.CancelBooking(r.Context(), id, actor.ID, req.Reason)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *BookingHandler) actorAndID(w http.ResponseWriter, r *http.Request) (models.Actor, uuid.UUID, bool) {
	actor, ok := middleware.ActorFromCtx(r.Context())
	if !ok {
		writeMessage(w, http.StatusUnauthorized, "unauthorized")
		return models.Actor{}, uuid.Nil, false
	}
	id, ok := pathID(r)
	if !ok {
		writeMessage(w, http.StatusBadRequest, "invalid booking id")
		return models.Actor{}, uuid.Nil, false
	}
	return actor, id, true
}
