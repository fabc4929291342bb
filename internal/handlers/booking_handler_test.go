package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/apperr"
	"github.com/paidcall/backend/internal/booking"
	"github.com/paidcall/backend/internal/middleware"
	"github.com/paidcall/backend/internal/models"
	"github.com/paidcall/backend/internal/services"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type fakeCoordinator struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]*models.Booking
	feedback  map[uuid.UUID]*models.Feedback
	requested []booking.RequestInput
	scheduled []time.Time
	joins     []time.Time
	cancelled []string
	err       error
}

func newFakeCoordinator() *fakeCoordinator {
	return &fakeCoordinator{
		bookings: make(map[uuid.UUID]*models.Booking),
		feedback: make(map[uuid.UUID]*models.Feedback),
	}
}

func (f *fakeCoordinator) add(b *models.Booking) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bookings[b.ID] = b
}

func (f *fakeCoordinator) get(id uuid.UUID) (*models.Booking, error) {
	if f.err != nil {
		return nil, f.err
	}
	b, ok := f.bookings[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "booking not found")
	}
	return b, nil
}

func (f *fakeCoordinator) RequestBooking(_ context.Context, in booking.RequestInput) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.requested = append(f.requested, in)
	b := &models.Booking{ID: uuid.New(), RequesterID: in.RequesterID, ProviderID: in.ProviderID, Status: models.BookingRequested}
	f.bookings[b.ID] = b
	return b, nil
}

func (f *fakeCoordinator) ScheduleBooking(_ context.Context, id, _ uuid.UUID, start time.Time) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.get(id)
	if err != nil {
		return nil, err
	}
	f.scheduled = append(f.scheduled, start)
	b.StartAt = &start
	b.Status = models.BookingAccepted
	return b, nil
}

func (f *fakeCoordinator) DeclineBooking(_ context.Context, id, _ uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.get(id)
	if err != nil {
		return nil, err
	}
	b.Status = models.BookingCancelled
	return b, nil
}

func (f *fakeCoordinator) RecordJoin(_ context.Context, id, _ uuid.UUID, at time.Time) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.get(id)
	if err != nil {
		return nil, err
	}
	f.joins = append(f.joins, at)
	return b, nil
}

func (f *fakeCoordinator) SubmitFeedback(_ context.Context, id, _ uuid.UUID, in booking.FeedbackInput) (*models.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, err := f.get(id); err != nil {
		return nil, err
	}
	fb := &models.Feedback{BookingID: id, Text: in.Text, ActionItems: in.ActionItems, Ratings: in.Ratings, Version: 1, QCStatus: models.QCRevise}
	f.feedback[id] = fb
	return fb, nil
}

func (f *fakeCoordinator) CancelBooking(_ context.Context, id, _ uuid.UUID, reason string) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.get(id)
	if err != nil {
		return nil, err
	}
	f.cancelled = append(f.cancelled, reason)
	b.Status = models.BookingCancelled
	return b, nil
}

func (f *fakeCoordinator) Get(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, err := f.get(id)
	if err != nil {
		return nil, err
	}
	cp := *b
	return &cp, nil
}

func (f *fakeCoordinator) GetFeedback(_ context.Context, id uuid.UUID) (*models.Feedback, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fb, ok := f.feedback[id]
	if !ok {
		return nil, apperr.New(apperr.CodeNotFound, "feedback not found")
	}
	return fb, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&strings.Builder{}, nil))
}

func newTestBookingHandler(t *testing.T) (*BookingHandler, *fakeCoordinator) {
	t.Helper()
	v, err := services.NewValidator(context.Background())
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	fc := newFakeCoordinator()
	return NewBookingHandler(fc, v, testLogger()), fc
}

// newReq builds a request carrying the actor and, when id is set, the chi
// route parameter.
func newReq(method, path, body string, actor *models.Actor, id string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	ctx := req.Context()
	if actor != nil {
		ctx = middleware.WithActor(ctx, *actor)
	}
	if id != "" {
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("id", id)
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	return req.WithContext(ctx)
}

func seeded(fc *fakeCoordinator) (*models.Booking, models.Actor, models.Actor) {
	requester := models.Actor{ID: uuid.New(), Role: models.RoleRequester}
	provider := models.Actor{ID: uuid.New(), Role: models.RoleProvider}
	b := &models.Booking{ID: uuid.New(), RequesterID: requester.ID, ProviderID: provider.ID, Status: models.BookingRequested}
	fc.add(b)
	return b, requester, provider
}

// =====================================================================
// POST /api/v1/bookings
// =====================================================================

func TestCreateBooking_Valid(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	requester := models.Actor{ID: uuid.New(), Role: models.RoleRequester}
	providerID := uuid.New()

	body := fmt.Sprintf(`{
		"provider_id": %q,
		"payment_source": "tokn_test_1",
		"slots": [{"start":"2026-05-02T16:00","end":"2026-05-02T17:00","timezone":"Asia/Bangkok"}]
	}`, providerID)
	rec := httptest.NewRecorder()
	h.Create(rec, newReq(http.MethodPost, "/api/v1/bookings", body, &requester, ""))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var got models.Booking
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got.RequesterID != requester.ID || got.ProviderID != providerID {
		t.Errorf("booking parties: got %s/%s", got.RequesterID, got.ProviderID)
	}
	if len(fc.requested) != 1 || fc.requested[0].PaymentSource != "tokn_test_1" || len(fc.requested[0].Slots) != 1 {
		t.Errorf("request input: got %+v", fc.requested)
	}
}

func TestCreateBooking_InvalidBody(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	requester := models.Actor{ID: uuid.New(), Role: models.RoleRequester}

	cases := []struct {
		name string
		body string
		want int
	}{
		{"schema violation", `{"provider_id":"not-a-uuid","payment_source":"x","slots":[]}`, http.StatusUnprocessableEntity},
		{"broken json", `{"provider_id":`, http.StatusUnprocessableEntity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, newReq(http.MethodPost, "/api/v1/bookings", tc.body, &requester, ""))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
	if len(fc.requested) != 0 {
		t.Errorf("coordinator must not be called on invalid input")
	}
}

func TestCreateBooking_Unauthenticated(t *testing.T) {
	h, _ := newTestBookingHandler(t)
	rec := httptest.NewRecorder()
	h.Create(rec, newReq(http.MethodPost, "/api/v1/bookings", `{}`, nil, ""))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestCreateBooking_DomainErrorMapping(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	requester := models.Actor{ID: uuid.New(), Role: models.RoleRequester}
	body := fmt.Sprintf(`{"provider_id":%q,"payment_source":"tokn","slots":[{"start":"2026-05-02T16:00","end":"2026-05-02T17:00","timezone":"UTC"}]}`, uuid.New())

	cases := []struct {
		err  error
		want int
	}{
		{apperr.ErrInvalidSlots, http.StatusUnprocessableEntity},
		{apperr.ErrInvalidProvider, http.StatusUnprocessableEntity},
		{apperr.ErrForbidden, http.StatusForbidden},
		{apperr.Wrap(apperr.CodeExternal, "create hold", fmt.Errorf("timeout")), http.StatusBadGateway},
		{fmt.Errorf("db down"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		fc.err = tc.err
		rec := httptest.NewRecorder()
		h.Create(rec, newReq(http.MethodPost, "/api/v1/bookings", body, &requester, ""))
		if rec.Code != tc.want {
			t.Errorf("%v: expected %d, got %d", tc.err, tc.want, rec.Code)
		}
	}
}

// =====================================================================
// GET /api/v1/bookings/{id}
// =====================================================================

func TestGetBooking_Visibility(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, requester, provider := seeded(fc)
	admin := models.Actor{ID: uuid.New(), Role: models.RoleAdmin}
	stranger := models.Actor{ID: uuid.New(), Role: models.RoleRequester}

	cases := []struct {
		name  string
		actor models.Actor
		want  int
	}{
		{"requester", requester, http.StatusOK},
		{"provider", provider, http.StatusOK},
		{"admin", admin, http.StatusOK},
		{"stranger", stranger, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Get(rec, newReq(http.MethodGet, "/api/v1/bookings/"+b.ID.String(), "", &tc.actor, b.ID.String()))
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, rec.Code)
			}
		})
	}
}

func TestGetBooking_BadAndUnknownID(t *testing.T) {
	h, _ := newTestBookingHandler(t)
	actor := models.Actor{ID: uuid.New(), Role: models.RoleRequester}

	rec := httptest.NewRecorder()
	h.Get(rec, newReq(http.MethodGet, "/api/v1/bookings/abc", "", &actor, "abc"))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: expected 400, got %d", rec.Code)
	}

	id := uuid.New().String()
	rec = httptest.NewRecorder()
	h.Get(rec, newReq(http.MethodGet, "/api/v1/bookings/"+id, "", &actor, id))
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown id: expected 404, got %d", rec.Code)
	}
}

// =====================================================================
// POST /api/v1/bookings/{id}/schedule
// =====================================================================

func TestScheduleBooking_AcceptsBothForms(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, _, provider := seeded(fc)
	want := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC)

	for _, body := range []string{
		`{"start_at":"2026-05-02T09:00:00Z"}`,
		`{"start":"2026-05-02T16:00","timezone":"Asia/Bangkok"}`,
	} {
		rec := httptest.NewRecorder()
		h.Schedule(rec, newReq(http.MethodPost, "/", body, &provider, b.ID.String()))
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", body, rec.Code, rec.Body.String())
		}
	}
	if len(fc.scheduled) != 2 {
		t.Fatalf("schedule calls: got %d, want 2", len(fc.scheduled))
	}
	for i, got := range fc.scheduled {
		if !got.Equal(want) {
			t.Errorf("call %d: start %v, want %v", i, got, want)
		}
	}
}

func TestScheduleBooking_UnknownTimezone(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, _, provider := seeded(fc)
	rec := httptest.NewRecorder()
	h.Schedule(rec, newReq(http.MethodPost, "/", `{"start":"2026-05-02T16:00","timezone":"Mars/Olympus"}`, &provider, b.ID.String()))
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rec.Code)
	}
	if len(fc.scheduled) != 0 {
		t.Error("coordinator must not be called")
	}
}

// =====================================================================
// join / feedback / cancel / decline
// =====================================================================

func TestJoin_EmptyBodyUsesServerClock(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, requester, _ := seeded(fc)

	rec := httptest.NewRecorder()
	h.Join(rec, newReq(http.MethodPost, "/", "", &requester, b.ID.String()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	h.Join(rec, newReq(http.MethodPost, "/", `{"joined_at":"2026-05-02T09:03:00Z"}`, &requester, b.ID.String()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fc.joins) != 2 || !fc.joins[0].IsZero() || fc.joins[1].IsZero() {
		t.Errorf("joins: got %v", fc.joins)
	}
}

func TestFeedback_Accepted(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, _, provider := seeded(fc)
	body := `{"text":"We covered pricing.","action_items":["draft tiers"],"ratings":{"clarity":4,"depth":4,"actionability":5}}`

	rec := httptest.NewRecorder()
	h.Feedback(rec, newReq(http.MethodPost, "/", body, &provider, b.ID.String()))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	var fb models.Feedback
	if err := json.Unmarshal(rec.Body.Bytes(), &fb); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if fb.Ratings.Actionability != 5 || len(fb.ActionItems) != 1 {
		t.Errorf("feedback: got %+v", fb)
	}

	rec = httptest.NewRecorder()
	h.GetFeedback(rec, newReq(http.MethodGet, "/", "", &provider, b.ID.String()))
	if rec.Code != http.StatusOK {
		t.Fatalf("get feedback: expected 200, got %d", rec.Code)
	}
}

func TestCancel_ReasonOptional(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, requester, _ := seeded(fc)

	rec := httptest.NewRecorder()
	h.Cancel(rec, newReq(http.MethodPost, "/", "", &requester, b.ID.String()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	rec = httptest.NewRecorder()
	h.Cancel(rec, newReq(http.MethodPost, "/", `{"reason":"conflict"}`, &requester, b.ID.String()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if len(fc.cancelled) != 2 || fc.cancelled[0] != "" || fc.cancelled[1] != "conflict" {
		t.Errorf("reasons: got %q", fc.cancelled)
	}
}

func TestCancel_LateCancellationIsConflict(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, requester, _ := seeded(fc)
	fc.err = apperr.Newf(apperr.CodeLateCancellation, "cancellation window closed")

	rec := httptest.NewRecorder()
	h.Cancel(rec, newReq(http.MethodPost, "/", `{}`, &requester, b.ID.String()))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["code"] != string(apperr.CodeLateCancellation) {
		t.Errorf("code: got %q", body["code"])
	}
}

func TestDecline(t *testing.T) {
	h, fc := newTestBookingHandler(t)
	b, _, provider := seeded(fc)
	rec := httptest.NewRecorder()
	h.Decline(rec, newReq(http.MethodPost, "/", "", &provider, b.ID.String()))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got, _ := fc.Get(context.Background(), b.ID); got.Status != models.BookingCancelled {
		t.Errorf("status: got %s", got.Status)
	}
}
