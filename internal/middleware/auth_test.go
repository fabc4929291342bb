package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/paidcall/backend/internal/models"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

type stubValidator struct {
	actor models.Actor
	err   error
	got   string
}

func (s *stubValidator) ValidateToken(_ context.Context, token string) (models.Actor, error) {
	s.got = token
	return s.actor, s.err
}

// okHandler writes 200 and the actor role (for assertions).
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	if a, ok := ActorFromCtx(r.Context()); ok {
		w.Write([]byte(a.Role))
	}
})

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestBearerAuth_ValidToken(t *testing.T) {
	v := &stubValidator{actor: models.Actor{ID: uuid.New(), Role: models.RoleProvider}}
	mw := BearerAuth(v)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer abc.def.ghi")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if body := rec.Body.String(); body != models.RoleProvider {
		t.Errorf("expected role %q in body, got %q", models.RoleProvider, body)
	}
	if v.got != "abc.def.ghi" {
		t.Errorf("token passed to validator: got %q", v.got)
	}
}

func TestBearerAuth_MissingHeader(t *testing.T) {
	mw := BearerAuth(&stubValidator{})(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_InvalidToken(t *testing.T) {
	mw := BearerAuth(&stubValidator{err: errors.New("expired")})(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer stale")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestBearerAuth_WrongScheme(t *testing.T) {
	mw := BearerAuth(&stubValidator{})(okHandler)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	mw.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRequireRole(t *testing.T) {
	cases := []struct {
		name   string
		actor  *models.Actor
		status int
	}{
		{"admin allowed", &models.Actor{ID: uuid.New(), Role: models.RoleAdmin}, http.StatusOK},
		{"provider rejected", &models.Actor{ID: uuid.New(), Role: models.RoleProvider}, http.StatusForbidden},
		{"anonymous rejected", nil, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tc.actor != nil {
				req = req.WithContext(WithActor(req.Context(), *tc.actor))
			}
			rec := httptest.NewRecorder()
			RequireRole(models.RoleAdmin)(okHandler).ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Errorf("got %d, want %d", rec.Code, tc.status)
			}
		})
	}
}
