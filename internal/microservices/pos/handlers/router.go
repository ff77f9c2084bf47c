package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Montivagant/rms-nova-sub000/internal/common/httpx"
	"github.com/Montivagant/rms-nova-sub000/internal/common/logger"
	"github.com/Montivagant/rms-nova-sub000/internal/middlewares"
)

type RouterConfig struct {
	Auth          *middlewares.Authenticator
	WebhookSecret string
	Log           *logger.Logger
}

func Router(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middlewares.RequestLog(cfg.Log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	// Processor callbacks authenticate with the shared secret, not a session.
	r.With(middlewares.WebhookSecret(cfg.WebhookSecret)).
		Post("/payments/{id}/status", h.PaymentHandler.StatusCallback)

	r.Group(func(r chi.Router) {
		r.Use(cfg.Auth.Middleware)

		r.Post("/tickets", h.TicketHandler.CreateTicket)
		r.Get("/tickets/{id}", h.TicketHandler.GetTicket)

		r.Get("/payments/{id}", h.PaymentHandler.GetPayment)
		r.Post("/payments/{id}/refunds", h.PaymentHandler.Refund)

		r.Route("/loyalty/accounts/{customerId}", func(r chi.Router) {
			r.Get("/", h.LoyaltyHandler.GetAccount)
			r.Post("/earn", h.LoyaltyHandler.Earn)
			r.Post("/redeem", h.LoyaltyHandler.Redeem)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteProblem(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteProblem(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed")
	})
	return r
}
