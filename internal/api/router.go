package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/carelink/telecare-coordinator/internal/auth"
	"github.com/carelink/telecare-coordinator/internal/metrics"
	"github.com/carelink/telecare-coordinator/internal/rtc"
)

type RouterConfig struct {
	Scheduler SchedulerService
	Gateway   *rtc.Gateway
	Verifier  *auth.Verifier
	Metrics   *metrics.Collector
	Registry  *prometheus.Registry
	PgPool    *pgxpool.Pool
	Redis     *redis.Client
	Env       string
	Version   string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	if cfg.Registry != nil {
		r.Handle("/metrics", metrics.SetupMetricsRoute(cfg.Registry))
	}

	// Booking endpoints
	r.Post("/appointments", bookAppointmentHandler(cfg.Scheduler, cfg.Metrics))
	r.Get("/appointments", listAppointmentsHandler(cfg.Scheduler))
	r.Get("/appointments/{id}", getAppointmentHandler(cfg.Scheduler))

	// Mutations require a verified identity.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Verifier))
		r.Put("/appointments/{id}", updateAppointmentHandler(cfg.Scheduler))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Scheduler))
	})

	// Real-time signaling; the gateway does its own credential check before
	// the upgrade.
	r.Get("/ws", cfg.Gateway.ServeWS)

	return r
}
