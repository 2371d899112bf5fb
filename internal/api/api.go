// Package api serves the read-only HTTP query surface plus the two
// mutating endpoints (ignore toggle, send-text).
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/meshwatchio/meshwatch/internal/radio"
	"github.com/meshwatchio/meshwatch/internal/store"
	"github.com/meshwatchio/meshwatch/internal/view"
)

const (
	DefaultListenAddr      = ":8080"
	DefaultShutdownTimeout = 5 * time.Second
)

type Config struct {
	// ListenAddr is the HTTP bind address.
	ListenAddr string

	// SiteName is reported by the config endpoint.
	SiteName string

	// ShutdownTimeout bounds the graceful drain on shutdown.
	ShutdownTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return errors.New("listen address is required")
	}
	if c.ShutdownTimeout <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	return nil
}

type Server struct {
	log   *slog.Logger
	store *store.Store
	views *view.Views
	slot  *radio.Slot
	cfg   Config
}

func New(log *slog.Logger, st *store.Store, views *view.Views, slot *radio.Slot, cfg Config) (*Server, error) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = DefaultListenAddr
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{
		log:   log.With("component", "api"),
		store: st,
		views: views,
		slot:  slot,
		cfg:   cfg,
	}, nil
}

// Router assembles the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/nodes", s.listNodes)
		r.Get("/nodes/{id}", s.getNode)
		r.Get("/nodes/{id}/packets", s.getNodePackets)
		r.Get("/nodes/{id}/neighbors", s.getNodeNeighbors)
		r.Get("/nodes/{id}/traceroutes", s.getNodeTraceroutes)
		r.Post("/nodes/{id}/ignore", s.setIgnored(true))
		r.Delete("/nodes/{id}/ignore", s.setIgnored(false))

		r.Get("/topology", s.getTopology)
		r.Get("/topology/graph", s.getTopologyGraph)
		r.Get("/topology/hop-graph", s.getHopGraph)
		r.Get("/stats", s.getStats)

		r.Get("/export/json", s.exportJSON)
		r.Get("/export/geojson", s.exportGeoJSON)

		r.Get("/traceroutes", s.listTraceroutes)
		r.Get("/traceroutes/{id}", s.getTraceroute)
		r.Get("/telemetry/requests", s.listTelemetryRequests)
		r.Get("/coverage", s.getCoverage)
		r.Get("/map-data", s.getMapData)

		r.Get("/config", s.getConfig)
		r.Post("/send", s.sendText)
	})
	return r
}

// Run serves until the context is canceled, then drains connections
// within the shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.ListenAddr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("forced http shutdown", "error", err)
		return srv.Close()
	}
	return nil
}
