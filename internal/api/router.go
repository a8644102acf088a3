package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"osb-tracker/internal/observability"
)

func Router(h *TrackerHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(observability.Measure)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Second))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/configure", h.Configure)
		r.Post("/flush", h.Flush)

		r.Post("/hits/{type}", h.Hit)
		r.Post("/events", h.Event)
		r.Post("/aggregates", h.Aggregate)
		r.Post("/screenviews", h.ScreenView)
		r.Post("/pageviews", h.PageView)

		r.Put("/scopes/{scope}", h.SetScope)
		r.Delete("/scopes/{scope}", h.RemoveScope)
		r.Put("/data", h.SetAdHoc)
		r.Put("/data/{name}", h.SetNamed)
		r.Put("/ids", h.SetIds)

		r.Get("/consent", h.GetConsent)
		r.Put("/consent", h.SetConsent)
		r.Post("/consent/callback", h.ConsentCallback)
		r.Get("/consent/status", h.ConsentStatus)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", observability.MetricsHandler())
	return r
}
