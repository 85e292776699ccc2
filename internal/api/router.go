/**
 * @description
 * This file sets up the HTTP router for the donation-service. It defines the API
 * endpoints, associates them with their corresponding handlers, and applies the
 * middleware stack: request logging, panic recovery, timeouts, CORS, metrics and
 * admin authentication.
 *
 * @dependencies
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS handling for the browser donation form.
 * - github.com/prometheus/client_golang/prometheus/promhttp: The /metrics endpoint.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/saniah/donation-service/internal/metrics"
)

// RouterOptions carries the non-handler inputs of the router.
type RouterOptions struct {
	Metrics        *metrics.Metrics
	Gatherer       prometheus.Gatherer
	AdminJWTSecret string
	AllowedOrigins []string
}

// DonationRoutes creates and returns a new router for the donation service.
func DonationRoutes(h *DonationHandlers, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	// Add standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders: []string{"Retry-After"},
		MaxAge:         300,
	}))

	if opts.Metrics != nil {
		r.Use(metrics.HTTPMetricsMiddleware(opts.Metrics))
	}

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	if opts.Gatherer != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Post("/donations", h.InitiateDonationHandler)
	r.Post("/donations/{sessionID}/confirm", h.ConfirmDonationHandler)
	r.Get("/donations/{sessionID}", h.GetDonationHandler)
	r.Post("/confirm", h.LegacyConfirmHandler)

	r.Group(func(r chi.Router) {
		r.Use(AdminAuthMiddleware(opts.AdminJWTSecret))

		r.Get("/admin/notifications", h.ListAdminNotificationsHandler)
		r.Get("/admin/deliveries", h.ListDeliveryRequestsHandler)
	})

	return r
}
