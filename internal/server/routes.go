package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Router builds the chi router for the full API surface.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(allowCORS)

	r.Get("/", s.handleRoot)

	r.Route("/api", func(r chi.Router) {
		r.Post("/upload", s.handleUpload)
		r.Post("/enhance", s.handleEnhance)
		r.Get("/status", s.handleStatusQuery)
		r.Get("/status/{jobID}", s.handleStatus)
		r.Get("/status/stream/{jobID}", s.handleStatusStream)
		r.Delete("/job/{jobID}", s.handleCancel)
		r.Get("/models", s.handleModels)
		r.Get("/history", s.handleHistory)
		r.Get("/health", s.handleHealth)
	})

	// Results are served statically so clients can fetch resultUrl directly.
	fileServer := http.StripPrefix("/results/", http.FileServer(http.Dir(s.cfg.Paths.ResultsDir)))
	r.Get("/results/*", fileServer.ServeHTTP)

	return r
}

// allowCORS lets any origin upload and poll. The service binds to localhost
// by default; access control is out of scope.
func allowCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
