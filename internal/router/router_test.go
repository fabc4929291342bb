package router

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/auth"
	"github.com/paidcall/backend/internal/dashboard"
	"github.com/paidcall/backend/internal/handlers"
	"github.com/paidcall/backend/internal/models"
)

func newTestRouter(t *testing.T, health func(*http.Request) error) (http.Handler, func(role string) string) {
	t.Helper()
	tokens, err := auth.NewService("router-test-secret-0123")
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	h := New(Handlers{
		Auth:      tokens,
		Bookings:  handlers.NewBookingHandler(nil, nil, nil),
		Webhooks:  handlers.NewPaymentWebhookHandler(nil, nil, nil, nil),
		Slots:     handlers.NewSlotsHandler(nil, nil),
		Dashboard: dashboard.NewHandler(nil, nil, nil, nil),
		Health:    health,
	})
	issue := func(role string) string {
		tok, err := tokens.IssueToken(models.Actor{ID: uuid.New(), Role: role}, time.Hour)
		if err != nil {
			t.Fatalf("IssueToken: %v", err)
		}
		return "Bearer " + tok
	}
	return h, issue
}

func TestRoutes_AccessControl(t *testing.T) {
	h, issue := newTestRouter(t, nil)
	id := uuid.New().String()

	cases := []struct {
		name   string
		method string
		path   string
		role   string
		want   int
	}{
		{"health", http.MethodGet, "/healthz", "", http.StatusOK},
		{"booking without token", http.MethodGet, "/api/v1/bookings/" + id, "", http.StatusUnauthorized},
		{"provider cannot request", http.MethodPost, "/api/v1/bookings", models.RoleProvider, http.StatusForbidden},
		{"requester cannot schedule", http.MethodPost, "/api/v1/bookings/" + id + "/schedule", models.RoleRequester, http.StatusForbidden},
		{"requester cannot submit feedback", http.MethodPost, "/api/v1/bookings/" + id + "/feedback", models.RoleRequester, http.StatusForbidden},
		{"provider cannot reach admin", http.MethodGet, "/api/v1/admin/bookings/" + id, models.RoleProvider, http.StatusForbidden},
		{"webhook is public", http.MethodPost, "/api/v1/webhooks/payments", "", http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/api/v1/nope", "", http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, strings.NewReader(`{}`))
			if tc.role != "" {
				req.Header.Set("Authorization", issue(tc.role))
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestRoutes_SlotsArePublic(t *testing.T) {
	h, _ := newTestRouter(t, nil)
	body := `{"range":{"start":"2026-05-02T09:00","end":"2026-05-02T10:00","timezone":"UTC"},"unit_minutes":30}`
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/slots/split", strings.NewReader(body)))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHealthz_Unavailable(t *testing.T) {
	h, _ := newTestRouter(t, func(*http.Request) error { return errors.New("pool closed") })
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}
