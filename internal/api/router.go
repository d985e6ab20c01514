package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)       // Basic request logging
	r.Use(middleware.Recoverer)    // Recover from panics
	r.Use(middleware.StripSlashes) // Ensure consistent path handling

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Get("/health", apiHandler.HealthHandler)
		r.Post("/sentiment", apiHandler.SentimentHandler)

		r.Route("/auth", func(r chi.Router) {
			r.Get("/signin", apiHandler.SignInHandler)
			r.Get("/callback/twitter", apiHandler.CallbackHandler)
			r.Get("/signout", apiHandler.SignOutHandler)
			r.Post("/signout", apiHandler.SignOutHandler)
			r.Get("/session", apiHandler.SessionHandler)
		})

		// Session-authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(apiHandler.SessionMiddleware)

			r.Get("/tweets", apiHandler.TweetsHandler)
			r.Get("/timeline", apiHandler.TimelineHandler)
		})
	})

	return r
}
