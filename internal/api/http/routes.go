package http

import (
	"poolwatch/internal/api/http/handlers"
	"poolwatch/internal/api/http/mw"
	"poolwatch/internal/metrics"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Middlewares are optional, nil ones are skipped
type Middlewares struct {
	Logging   *mw.LoggingMiddleware
	RateLimit *mw.RateLimitMiddleware
	JWT       *mw.JWTMiddleware
	CORS      *mw.CORSMiddleware
}

func BuildRouter(h *handlers.Handler, m Middlewares) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if m.Logging != nil {
		r.Use(m.Logging.Handler)
	}
	if m.CORS != nil {
		r.Use(m.CORS.Handler())
	}

	// tech endpoints, no auth
	r.Get("/healthz", h.Healthz)
	r.Get("/readiness", h.Readiness)
	r.Mount("/metrics", metrics.Handler())

	// ingestion: producer auth first so the limiter can key on the producer
	r.Group(func(wr chi.Router) {
		if m.JWT != nil {
			wr.Use(m.JWT.Handler)
		}
		if m.RateLimit != nil {
			wr.Use(m.RateLimit.Handler)
		}
		wr.Post("/webhook", h.Webhook)
		wr.Post("/webhook/{chain}", h.Webhook)
	})

	// read api
	r.Route("/api", func(apiR chi.Router) {
		if m.RateLimit != nil {
			apiR.Use(m.RateLimit.Handler)
		}
		apiR.Use(middleware.Compress(5, "application/json"))

		apiR.Get("/queue", h.Queue)
		apiR.Route("/{chain}", func(cr chi.Router) {
			cr.Get("/alerts", h.Alerts)
			cr.Route("/{variant}/pools", func(pr chi.Router) {
				pr.Get("/latest", h.LatestPools)
				pr.Get("/active", h.ActivePools)
				pr.Get("/{address}/activity", h.PoolActivity)
			})
		})
	})

	return r
}
