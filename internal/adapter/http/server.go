package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bnema/harvest/internal/adapter/http/middleware"
)

type Server struct {
	router     chi.Router
	handlers   *Handlers
	sseHandler *SSEHandler
	wsHandler  *WSHandler
	keys       middleware.KeyValidator
	limiter    middleware.Limiter
}

func NewServer(jobs JobService, events EventSource, keys middleware.KeyValidator, limiter middleware.Limiter) *Server {
	s := &Server{
		router:     chi.NewRouter(),
		handlers:   NewHandlers(jobs),
		sseHandler: NewSSEHandler(events, jobs),
		wsHandler:  NewWSHandler(events, jobs),
		keys:       keys,
		limiter:    limiter,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(chimw.Recoverer)
	s.router.Use(middleware.SecurityHeaders)

	s.router.Get("/health", s.handlers.Health())

	s.router.Route("/jobs", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKey(s.keys, false))
			r.With(middleware.RateLimit(s.limiter)).Post("/", s.handlers.CreateJob())
			r.Get("/", s.handlers.ListJobs())
			r.Get("/{id}", s.handlers.GetJob())
			r.Delete("/{id}", s.handlers.DeleteJob())
			r.Post("/{id}/flush", s.handlers.FlushJob())
		})

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKey(s.keys, true))
			r.Get("/{id}/events", s.sseHandler.Events())
			r.Get("/{id}/ws", s.wsHandler.Stream())
		})
	})
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
