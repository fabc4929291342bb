package main

import (
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/paidcall/backend/internal/booking"
	"github.com/paidcall/backend/internal/dashboard"
	"github.com/paidcall/backend/internal/handlers"
	"github.com/paidcall/backend/internal/ledger"
	"github.com/paidcall/backend/internal/middleware"
	"github.com/paidcall/backend/internal/router"
	"github.com/paidcall/backend/internal/services"
)

type apiDeps struct {
	pool      *pgxpool.Pool
	tokens    middleware.TokenValidator
	bookings  booking.Service
	ledger    ledger.Service
	events    handlers.EventSource
	validator *services.Validator
	logger    *slog.Logger
}

// newAPIRouter builds the handlers over the coordinator and the ledger and
// mounts them under /api/v1.
func newAPIRouter(d apiDeps) http.Handler {
	return router.New(router.Handlers{
		Auth:      d.tokens,
		Bookings:  handlers.NewBookingHandler(d.bookings, d.validator, d.logger),
		Webhooks:  handlers.NewPaymentWebhookHandler(d.events, d.ledger, d.bookings, d.logger),
		Slots:     handlers.NewSlotsHandler(d.validator, d.logger),
		Dashboard: dashboard.NewHandler(d.bookings, d.ledger, d.validator, d.logger),
		Health: func(r *http.Request) error {
			return d.pool.Ping(r.Context())
		},
	})
}
