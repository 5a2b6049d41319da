package harvest

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server exposes the progress of a running harvest over HTTP.
type Server struct {
	driver *Driver
	logger *zap.Logger
}

func NewServer(driver *Driver, logger *zap.Logger) *Server {
	return &Server{
		driver: driver,
		logger: logger,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)

	r.Get("/health", s.health)
	r.Route("/api/v1/sources", func(r chi.Router) {
		r.Get("/", s.listSources)
		r.Get("/{name}", s.getSource)
	})

	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (s *Server) listSources(w http.ResponseWriter, r *http.Request) {
	states := s.driver.States()

	pending := 0
	for _, st := range states {
		if !st.State.Terminal() {
			pending++
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"sources": states,
		"count":   len(states),
		"pending": pending,
	})
}

func (s *Server) getSource(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	state, ok := s.driver.State(name)
	if !ok {
		http.Error(w, "source not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(SourceState{Source: name, State: state})
}

func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Routes(),
	}

	s.logger.Info("starting status server", zap.String("addr", addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down status server")
		srv.Shutdown(context.Background())
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
