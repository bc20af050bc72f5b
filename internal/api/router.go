// Package api is the HTTP surface: REST endpoints for doctors, bookings,
// and chat history, plus the WebSocket upgrade for real-time messaging.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/carelink/telehealth-backend/internal/chat"
	"github.com/carelink/telehealth-backend/internal/clinic"
	"github.com/carelink/telehealth-backend/internal/identity"
	"github.com/carelink/telehealth-backend/internal/metrics"
)

type RouterConfig struct {
	Service  *clinic.Service
	Gateway  *chat.Gateway
	Verifier identity.Verifier
	Metrics  *metrics.Collector
	Logger   zerolog.Logger
	PgPool   *pgxpool.Pool
	Redis    *redis.Client
	Env      string
	Version  string

	// Per-IP rate limit applied to booking endpoints.
	BookingRPS   float64
	BookingBurst int
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(MetricsMiddleware(cfg.Metrics))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Method(http.MethodGet, "/metrics", cfg.Metrics.Handler())

	h := &handlers{svc: cfg.Service, gateway: cfg.Gateway}
	limiter := newIPLimiter(cfg.BookingRPS, cfg.BookingBurst)

	r.Route("/api", func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))

		r.Get("/doctors", h.listDoctors)
		r.Get("/doctors/{id}", h.getDoctor)
		r.Get("/doctors/{id}/slots", h.doctorSlots)

		r.Route("/admin", func(r chi.Router) {
			r.Post("/doctors", h.createDoctor)
			r.Patch("/doctors/{id}/approval", h.setDoctorApproval)
			r.Put("/doctors/{id}/availability", h.setAvailability)
		})

		r.Route("/appointments", func(r chi.Router) {
			r.With(RateLimitMiddleware(limiter)).Post("/", h.bookScheduled)
			r.With(RateLimitMiddleware(limiter)).Post("/emergency", h.bookEmergency)
			r.Get("/", h.listMyAppointments)
			r.Get("/{id}", h.getAppointment)
			r.Patch("/{id}/status", h.updateStatus)
			r.Post("/{id}/cancel", h.cancelAppointment)

			r.Get("/{id}/messages", h.listMessages)
			r.Post("/{id}/messages", h.sendMessage)
		})
	})

	ws := chat.NewHandler(cfg.Gateway, cfg.Verifier, cfg.Logger)
	r.Handle("/ws/chat", ws)

	return r
}
