package router

import (
	"net/http"
	"strings"

	"simats-hub/internal/auth"
	"simats-hub/internal/handlers"
	customMiddleware "simats-hub/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
)

type Config struct {
	// Prefix every route is mounted under, e.g. "/make-server-233aa38f".
	Prefix         string
	AllowedOrigins []string
}

func New(cfg Config, feedbackHandler *handlers.FeedbackHandler, verifier *auth.Verifier, log logrus.FieldLogger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(log))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
		ExposedHeaders: []string{"Content-Length"},
		MaxAge:         600,
	}))

	routes := func(r chi.Router) {
		r.Get("/health", handlers.Health)

		// Any valid credential, including the public read key
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.JWTAuth(verifier))

			r.Get("/feedback", feedbackHandler.ListFeedback)
			r.Get("/search-feedback", feedbackHandler.SearchFeedback)

			// Signed-in users only
			r.Group(func(r chi.Router) {
				r.Use(customMiddleware.RequireUser)

				r.Post("/feedback", feedbackHandler.CreateFeedback)
				r.Get("/can-post", feedbackHandler.CanPost)
			})
		})
	}

	prefix := strings.TrimRight(cfg.Prefix, "/")
	if prefix == "" {
		routes(r)
		return r
	}

	// Probes hit the bare path
	r.Get("/health", handlers.Health)
	r.Route(prefix, routes)
	return r
}
