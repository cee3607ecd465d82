// Package router provides centralized API route registration.
// All HTTP routes are registered here with the middleware each group needs.
package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"slidegen/internal/auth"
	"slidegen/internal/handler"
	"slidegen/internal/middleware"
)

// Options carries the server settings the routes depend on.
type Options struct {
	AllowedOrigins []string
	// GenerateRatePerMinute limits POST /api/presentations per client IP;
	// 0 or less disables the limit.
	GenerateRatePerMinute int
	// AccessPasswordHash enables basic auth on /api routes except health.
	AccessPasswordHash string
	// LoginLimiter locks out clients that keep guessing the access
	// password; nil gets a fresh limiter when the guard is enabled.
	LoginLimiter *auth.LoginLimiter
	// Gatherer backs /metrics; nil means the default registry.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// New builds the HTTP handler for the whole service.
func New(app *handler.App, opts Options) http.Handler {
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	limiter := opts.LoginLimiter
	if limiter == nil && opts.AccessPasswordHash != "" {
		limiter = auth.NewLoginLimiter()
	}

	r := chi.NewRouter()
	r.Use(
		chimw.Recoverer,
		middleware.RequestID(),
		middleware.RequestLogger(opts.Logger),
		cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader},
			ExposedHeaders: []string{"Content-Disposition", middleware.RequestIDHeader},
			MaxAge:         300,
		}),
	)

	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Route("/api", func(api chi.Router) {
		api.Use(middleware.SecurityHeaders())
		api.Get("/health", handler.HandleHealth(app))

		api.Group(func(pr chi.Router) {
			pr.Use(middleware.AccessGuard(opts.AccessPasswordHash, limiter))

			pr.Post("/extract", handler.HandleExtract(app))
			pr.With(generateLimit(opts.GenerateRatePerMinute)...).
				Post("/presentations", handler.HandleGenerate(app))
			pr.Get("/presentations/current", handler.HandleCurrent(app))
			pr.Delete("/presentations/current", handler.HandleClearCurrent(app))
			pr.Get("/presentations/current/pdf", handler.HandlePDF(app))
			pr.Get("/admin/bans", handler.HandleListBans(limiter))
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		handler.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func generateLimit(perMinute int) []func(http.Handler) http.Handler {
	if perMinute <= 0 {
		return nil
	}
	return []func(http.Handler) http.Handler{
		httprate.Limit(perMinute, time.Minute,
			httprate.WithKeyFuncs(httprate.KeyByIP),
			httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
				handler.WriteError(w, http.StatusTooManyRequests, "too many generation requests, try again later")
			}),
		),
	}
}
