package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/rajpalom13/move-meal-sub000/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.Health)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics)
	}

	limit := func(next http.Handler) http.Handler { return next }
	if h.limiter != nil {
		limit = h.limiter.Middleware
	}

	r.Route("/api/user", func(r chi.Router) {
		r.With(limit).Post("/register", h.Register)
		r.With(limit).Post("/login", h.Login)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)
			r.Use(limit)

			r.Get("/clusters", h.MyClusters)
		})
	})

	r.Route("/api/clusters", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)
		r.Use(limit)

		r.Post("/basket", h.CreateBasket)
		r.Post("/ride", h.CreateRide)
		r.Get("/nearby", h.Nearby)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetCluster)
			r.Post("/join", h.Join)
			r.Post("/leave", h.Leave)
			r.Put("/payload", h.UpdatePayload)
			r.Post("/status", h.UpdateStatus)
			r.Post("/verify", h.VerifyCode)
			r.Get("/events", h.Events)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
