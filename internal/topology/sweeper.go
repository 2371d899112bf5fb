// Package topology runs the staleness sweep over the edge set. Edges
// are created and aggregated on the ingest path; the sweeper's only job
// is flipping quiet ones inactive.
package topology

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/store"
)

const (
	DefaultSweepInterval = 5 * time.Minute
	DefaultLinkTimeout   = 60 * time.Minute
)

type Config struct {
	// Interval is the sweep cadence.
	Interval time.Duration

	// LinkTimeout is how long an edge may go unheard before it is
	// marked inactive.
	LinkTimeout time.Duration
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("sweep interval must be positive")
	}
	if c.LinkTimeout <= 0 {
		return errors.New("link timeout must be positive")
	}
	return nil
}

// Sweeper periodically deactivates stale topology edges.
type Sweeper struct {
	log     *slog.Logger
	store   *store.Store
	metrics *metrics.Metrics
	clock   clockwork.Clock
	cfg     Config
}

func New(log *slog.Logger, st *store.Store, m *metrics.Metrics, clock clockwork.Clock, cfg Config) (*Sweeper, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultSweepInterval
	}
	if cfg.LinkTimeout == 0 {
		cfg.LinkTimeout = DefaultLinkTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sweeper{
		log:     log.With("component", "topology-sweeper"),
		store:   st,
		metrics: m,
		clock:   clock,
		cfg:     cfg,
	}, nil
}

// Run sweeps on the configured cadence until the context is canceled.
func (s *Sweeper) Run(ctx context.Context) error {
	s.log.Info("topology sweeper started",
		"interval", s.cfg.Interval, "link_timeout", s.cfg.LinkTimeout)

	ticker := s.clock.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			s.Tick(ctx)
		}
	}
}

// Tick performs one sweep; failures are logged and the next tick tries
// again.
func (s *Sweeper) Tick(ctx context.Context) {
	n, err := s.store.MarkInactiveLinks(ctx, s.cfg.LinkTimeout)
	if err != nil {
		s.log.Warn("staleness sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.metrics.EdgesDeactivated.Add(float64(n))
		s.log.Info("marked stale links inactive", "count", n)
	}
}
