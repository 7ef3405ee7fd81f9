// Package router assembles the HTTP surface: turn scheduling, payments,
// the audit trail and operational endpoints.
package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/turnero/hospital-core/internal/http/handlers"
	httpmiddleware "github.com/turnero/hospital-core/internal/http/middleware"
	"github.com/turnero/hospital-core/pkg/logging"
)

// Pinger reports backend health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	TurnsHandler    *handlers.TurnsHandler
	PaymentsHandler *handlers.PaymentsHandler
	AuditHandler    *handlers.AuditEventsHandler
	StripeWebhook   http.HandlerFunc
	MetricsHandler  http.Handler

	CORSAllowedOrigins []string

	// Rate limiting; nil counter disables it.
	RateLimitCounter httpmiddleware.WindowCounter
	RateLimitMax     int64
	RateLimitWindow  time.Duration

	// Readiness dependencies, checked in order.
	ReadinessChecks map[string]Pinger
}

// New creates a chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Operational endpoints stay outside the rate limit.
	r.Group(func(ops chi.Router) {
		ops.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		ops.Get("/readyz", readiness(cfg.ReadinessChecks))
		if cfg.MetricsHandler != nil {
			ops.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Webhooks authenticate by signature, not rate limit.
	if cfg.StripeWebhook != nil {
		r.Post("/webhooks/stripe", cfg.StripeWebhook)
	}

	r.Group(func(api chi.Router) {
		if cfg.RateLimitCounter != nil && cfg.RateLimitMax > 0 {
			api.Use(httpmiddleware.RateLimit(cfg.RateLimitCounter, cfg.RateLimitMax, cfg.RateLimitWindow, cfg.Logger))
		}

		if cfg.TurnsHandler != nil {
			api.Route("/turns", func(r chi.Router) {
				r.Post("/", cfg.TurnsHandler.Create)
				r.Get("/{turnID}", cfg.TurnsHandler.Get)
				r.Patch("/{turnID}/schedule", cfg.TurnsHandler.Reschedule)
				r.Delete("/{turnID}", cfg.TurnsHandler.Delete)
			})
		}

		if cfg.PaymentsHandler != nil {
			api.Route("/payments", func(r chi.Router) {
				r.Get("/{paymentID}", cfg.PaymentsHandler.Get)
				r.Patch("/{paymentID}/status", cfg.PaymentsHandler.UpdateStatus)
				r.Delete("/{paymentID}", cfg.PaymentsHandler.Delete)
			})
			api.Get("/users/{userID}/payments", cfg.PaymentsHandler.ListByUser)
		}

		if cfg.AuditHandler != nil {
			api.Get("/audit/events", cfg.AuditHandler.List)
		}
	})

	return r
}

func readiness(checks map[string]Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		for name, check := range checks {
			if check == nil {
				continue
			}
			if err := check.Ping(ctx); err != nil {
				http.Error(w, name+" unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}
