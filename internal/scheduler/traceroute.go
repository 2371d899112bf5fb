package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/radio"
	"github.com/meshwatchio/meshwatch/internal/store"
)

const (
	DefaultTracerouteInterval  = 30 * time.Minute
	DefaultTracerouteActive    = 60 * time.Minute
	DefaultTracerouteAge       = 4 * time.Hour
	DefaultTraceroutesPerCycle = 5
	DefaultTracerouteDelay     = 10 * time.Second
	DefaultTracerouteHopLimit  = 7
)

// TracerouteConfig tunes the traceroute probe loop.
type TracerouteConfig struct {
	// Interval is the cycle cadence. The first cycle runs one full
	// interval after startup so passive ingestion has warmed the node
	// roster.
	Interval time.Duration

	// ActiveThreshold bounds how recently a node must have been heard
	// to be probed.
	ActiveThreshold time.Duration

	// TracerouteAge is how stale a node's newest traceroute must be
	// before it is probed again.
	TracerouteAge time.Duration

	// MaxPerCycle caps probes per cycle.
	MaxPerCycle int

	// Delay is the pause between consecutive sends within a cycle.
	Delay time.Duration

	// HopLimit is carried on every traceroute request.
	HopLimit int

	// AttemptTimeout is how long a pending attempt survives before the
	// next cycle marks it timed out.
	AttemptTimeout time.Duration

	// IncludeMQTT admits MQTT-bridged nodes as probe targets.
	IncludeMQTT bool
}

func (c *TracerouteConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("traceroute interval must be positive")
	}
	if c.ActiveThreshold <= 0 {
		return errors.New("active threshold must be positive")
	}
	if c.TracerouteAge <= 0 {
		return errors.New("traceroute age must be positive")
	}
	if c.MaxPerCycle <= 0 {
		return errors.New("max per cycle must be positive")
	}
	if c.HopLimit <= 0 {
		return errors.New("hop limit must be positive")
	}
	if c.AttemptTimeout <= 0 {
		return errors.New("attempt timeout must be positive")
	}
	return nil
}

// TracerouteScheduler periodically traceroutes the stalest active
// nodes. Responses are matched back to attempts on the ingest path.
type TracerouteScheduler struct {
	log     *slog.Logger
	store   *store.Store
	slot    *radio.Slot
	metrics *metrics.Metrics
	clock   clockwork.Clock
	cfg     TracerouteConfig

	busy atomic.Bool
}

func NewTraceroute(log *slog.Logger, st *store.Store, slot *radio.Slot, m *metrics.Metrics, clock clockwork.Clock, cfg TracerouteConfig) (*TracerouteScheduler, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultTracerouteInterval
	}
	if cfg.ActiveThreshold == 0 {
		cfg.ActiveThreshold = DefaultTracerouteActive
	}
	if cfg.TracerouteAge == 0 {
		cfg.TracerouteAge = DefaultTracerouteAge
	}
	if cfg.MaxPerCycle == 0 {
		cfg.MaxPerCycle = DefaultTraceroutesPerCycle
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultTracerouteDelay
	}
	if cfg.HopLimit == 0 {
		cfg.HopLimit = DefaultTracerouteHopLimit
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TracerouteScheduler{
		log:     log.With("component", "traceroute-scheduler"),
		store:   st,
		slot:    slot,
		metrics: m,
		clock:   clock,
		cfg:     cfg,
	}, nil
}

// Run cycles on the configured cadence until the context is canceled.
func (s *TracerouteScheduler) Run(ctx context.Context) error {
	s.log.Info("traceroute scheduler started",
		"interval", s.cfg.Interval, "max_per_cycle", s.cfg.MaxPerCycle)

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

// Tick runs one probe cycle. A tick that lands while the previous
// cycle is still pacing through its sends is dropped.
func (s *TracerouteScheduler) Tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debug("cycle still in progress, skipping tick")
		return
	}
	defer s.busy.Store(false)

	if n, err := s.store.TimeoutStaleAttempts(ctx, store.AttemptTraceroute, s.cfg.AttemptTimeout); err != nil {
		s.log.Warn("stale attempt sweep failed", "error", err)
	} else if n > 0 {
		s.metrics.AttemptsTimedOut.WithLabelValues(string(store.AttemptTraceroute)).Add(float64(n))
		s.log.Info("timed out stale traceroute attempts", "count", n)
	}

	iface, ok := s.slot.Get()
	if !ok {
		s.log.Debug("no radio connected, skipping cycle")
		return
	}

	candidates, err := s.store.TracerouteCandidates(ctx, store.TracerouteCandidateQuery{
		ActiveThreshold: s.cfg.ActiveThreshold,
		TracerouteAge:   s.cfg.TracerouteAge,
		ExcludeMQTT:     !s.cfg.IncludeMQTT,
		Limit:           s.cfg.MaxPerCycle,
	})
	if err != nil {
		s.log.Warn("candidate query failed", "error", err)
		return
	}
	if len(candidates) == 0 {
		s.log.Debug("no traceroute candidates")
		return
	}

	for i, cand := range candidates {
		s.probe(ctx, iface, cand)
		if i < len(candidates)-1 {
			pace(ctx, s.clock, s.cfg.Delay)
		}
		if ctx.Err() != nil {
			return
		}
	}
}

// probe sends one traceroute and records the attempt. The attempt row
// is inserted even when the radio rejects the send so the pending set
// matches what was scheduled.
func (s *TracerouteScheduler) probe(ctx context.Context, iface radio.Interface, cand store.ProbeCandidate) {
	name := candidateName(cand)

	if err := iface.SendTraceroute(ctx, uint32(cand.Num), s.cfg.HopLimit); err != nil {
		s.metrics.ProbeSendFailures.WithLabelValues(string(store.AttemptTraceroute)).Inc()
		s.log.Warn("traceroute send failed",
			"node_id", cand.NodeID, "name", name, "error", err)
	} else {
		s.metrics.ProbesSent.WithLabelValues(string(store.AttemptTraceroute)).Inc()
		s.log.Info("traceroute sent", "node_id", cand.NodeID, "name", name)
	}

	if _, err := s.store.InsertAttempt(ctx, store.AttemptTraceroute, cand.NodeID, namePtr(name)); err != nil {
		s.log.Warn("record traceroute attempt failed", "node_id", cand.NodeID, "error", err)
	}
}

func candidateName(c store.ProbeCandidate) string {
	if c.LongName != nil && *c.LongName != "" {
		return *c.LongName
	}
	if c.ShortName != nil && *c.ShortName != "" {
		return *c.ShortName
	}
	return c.NodeID
}

func namePtr(name string) *string {
	if name == "" {
		return nil
	}
	return &name
}
