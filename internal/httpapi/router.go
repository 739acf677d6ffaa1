package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter builds the full route table with the same middleware stack
// cmd/server/main.go assembles in the teacher (security-agnostic subset:
// request logging, panic recovery, real client IP, a request timeout,
// and CORS).
func NewRouter(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/journal", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handlePostJournal)
		r.MethodNotAllowed(methodNotAllowed("POST"))
	})

	r.Route("/accounts/{accountID}/history", func(r chi.Router) {
		r.Get("/", s.handleHistory)
		r.MethodNotAllowed(methodNotAllowed("GET"))
	})

	r.Route("/outbox/process", func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/", s.handleOutboxProcess)
		r.MethodNotAllowed(methodNotAllowed("POST"))
	})

	r.Route("/events", func(r chi.Router) {
		r.Post("/", s.handleEvents)
		r.MethodNotAllowed(methodNotAllowed("POST"))
	})

	return r
}

func methodNotAllowed(allow string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Allow", allow)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}
