package app

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func (a *App) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(func(next http.Handler) http.Handler { return WithRequestLogging(next, a.log) })
	r.Use(middleware.Recoverer)
	r.Use(WithSecurityHeaders)
	if len(a.cfg.CORSAllowedOrigins) > 0 {
		r.Use(func(next http.Handler) http.Handler { return WithCORS(next, a.cfg, a.log) })
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if a.cfg.ReadinessRequireDB && !a.dbEnabled {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if a.dbEnabled && a.dbPool != nil {
			if err := PingDB(r.Context(), a.dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				a.log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if err := a.cache.Ping(r.Context()); err != nil {
			http.Error(w, "cache not ready", http.StatusServiceUnavailable)
			a.log.Info("readyz.cache.not_ready", "err", err)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	r.Handle("/metrics", a.metrics.Handler())
	r.Mount("/", a.auth.Routes())
	return r
}
