package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pubwiki/wikifarm/pkg/config"
	"github.com/pubwiki/wikifarm/pkg/log"
	"github.com/pubwiki/wikifarm/pkg/queue"
	"github.com/pubwiki/wikifarm/pkg/store"
)

// Server serves the provisioner and manage HTTP surfaces.
type Server struct {
	cfg   *config.Config
	store *store.Store
	jobs  *queue.Jobs
	bus   *queue.Bus

	http *http.Server
}

// NewServer creates an API server.
func NewServer(cfg *config.Config, st *store.Store, jobs *queue.Jobs, bus *queue.Bus) *Server {
	return &Server{
		cfg:   cfg,
		store: st,
		jobs:  jobs,
		bus:   bus,
	}
}

// Router builds the full route tree. Exposed separately so tests can drive
// handlers without a listening socket.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Route("/provisioner/v1", func(r chi.Router) {
		r.Get("/health", s.health)
		r.Post("/wikis", s.createWiki)
		r.Get("/wikis", s.listFeatured)
		r.Get("/wikis/public", s.listPublicWikis)
		r.Get("/wikis/slug/{slug}/exists", s.checkSlug)
		r.Delete("/wikis/{slug}", s.deleteWiki)
		r.Get("/users/{userID}/wikis", s.listUserWikis)
		r.Get("/tasks/{taskID}/events", s.taskEvents)
	})

	r.Route("/manage/v1", func(r chi.Router) {
		r.Get("/wikis/{slug}/permissions", s.getPermissions)
		r.Post("/wikis/{slug}/permissions", s.setPermissions)
		r.Post("/wikis/{slug}/extensions/sync", s.syncExtensions)
		r.Post("/wikis/{slug}/skins/sync", s.syncSkins)
		r.Put("/wikis/{slug}/visibility", s.setVisibility)
		r.Post("/wikis/{slug}/favicon", s.setFavicon)
		r.Get("/visibility-check", s.visibilityCheck)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Logger.Info().Str("addr", addr).Msg("HTTP server listening")
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Logger.Info().
			Str("method", r.Method).
			Str("uri", r.URL.RequestURI()).
			Dur("elapsed", time.Since(start)).
			Msg("request handled")
	})
}
