package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/paidcall/backend/internal/dashboard"
	"github.com/paidcall/backend/internal/handlers"
	"github.com/paidcall/backend/internal/middleware"
	"github.com/paidcall/backend/internal/models"
)

// Handlers groups everything the API router mounts.
type Handlers struct {
	Auth      middleware.TokenValidator
	Bookings  *handlers.BookingHandler
	Webhooks  *handlers.PaymentWebhookHandler
	Slots     *handlers.SlotsHandler
	Dashboard *dashboard.Handler
	// Health reports readiness; nil always answers ok.
	Health func(r *http.Request) error
}

// New returns an http.Handler that serves the API under /api/v1.
func New(h Handlers) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if h.Health != nil {
			if err := h.Health(req); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api/v1", func(r chi.Router) {
		// Provider callbacks authenticate by re-fetching the event.
		r.Post("/webhooks/payments", h.Webhooks.Handle)

		r.Post("/slots/merge", h.Slots.Merge)
		r.Post("/slots/split", h.Slots.Split)

		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(h.Auth))

			r.With(middleware.RequireRole(models.RoleRequester)).Post("/bookings", h.Bookings.Create)
			r.Route("/bookings/{id}", func(r chi.Router) {
				r.Get("/", h.Bookings.Get)
				r.Get("/feedback", h.Bookings.GetFeedback)
				r.Post("/join", h.Bookings.Join)
				r.Post("/cancel", h.Bookings.Cancel)
				r.Group(func(r chi.Router) {
					r.Use(middleware.RequireRole(models.RoleProvider))
					r.Post("/schedule", h.Bookings.Schedule)
					r.Post("/decline", h.Bookings.Decline)
					r.Post("/feedback", h.Bookings.Feedback)
				})
			})

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(models.RoleAdmin))
				r.Get("/bookings", h.Dashboard.ListNeedingReview)
				r.Get("/bookings/{id}", h.Dashboard.GetBooking)
				r.Post("/bookings/{id}/qc-fail", h.Dashboard.FailQC)
			})
		})
	})

	return r
}
