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
	DefaultTelemetryInterval   = 15 * time.Minute
	DefaultTelemetryActive     = 120 * time.Minute
	DefaultTelemetryRequestAge = 2 * time.Hour
	DefaultTelemetryPerCycle   = 10
	DefaultTelemetryDelay      = 5 * time.Second
)

// TelemetryConfig tunes the telemetry probe loop.
type TelemetryConfig struct {
	// Interval is the cycle cadence, with the same one-interval warm-up
	// as the traceroute loop.
	Interval time.Duration

	// ActiveThreshold bounds how recently a node must have been heard
	// to be probed.
	ActiveThreshold time.Duration

	// RequestAge is how stale a node's newest completed request must be
	// before it is probed again. Timed-out attempts do not count.
	RequestAge time.Duration

	// MaxPerCycle caps probes per cycle.
	MaxPerCycle int

	// Delay is the pause between consecutive sends within a cycle.
	Delay time.Duration

	// AttemptTimeout is how long a pending attempt survives before the
	// next cycle marks it timed out.
	AttemptTimeout time.Duration

	// IncludeMQTT admits MQTT-bridged nodes as probe targets.
	IncludeMQTT bool

	// ProbeRecentlyTraced also probes nodes a fresh traceroute already
	// covered. Off by default since a traceroute response yields the
	// same link measurements.
	ProbeRecentlyTraced bool

	// TracerouteAge bounds what counts as a fresh traceroute when
	// ProbeRecentlyTraced is off.
	TracerouteAge time.Duration
}

func (c *TelemetryConfig) Validate() error {
	if c.Interval <= 0 {
		return errors.New("telemetry interval must be positive")
	}
	if c.ActiveThreshold <= 0 {
		return errors.New("active threshold must be positive")
	}
	if c.RequestAge <= 0 {
		return errors.New("request age must be positive")
	}
	if c.MaxPerCycle <= 0 {
		return errors.New("max per cycle must be positive")
	}
	if c.AttemptTimeout <= 0 {
		return errors.New("attempt timeout must be positive")
	}
	if !c.ProbeRecentlyTraced && c.TracerouteAge <= 0 {
		return errors.New("traceroute age must be positive")
	}
	return nil
}

// TelemetryScheduler periodically requests device telemetry from the
// stalest active nodes.
type TelemetryScheduler struct {
	log     *slog.Logger
	store   *store.Store
	slot    *radio.Slot
	metrics *metrics.Metrics
	clock   clockwork.Clock
	cfg     TelemetryConfig

	busy atomic.Bool
}

func NewTelemetry(log *slog.Logger, st *store.Store, slot *radio.Slot, m *metrics.Metrics, clock clockwork.Clock, cfg TelemetryConfig) (*TelemetryScheduler, error) {
	if cfg.Interval == 0 {
		cfg.Interval = DefaultTelemetryInterval
	}
	if cfg.ActiveThreshold == 0 {
		cfg.ActiveThreshold = DefaultTelemetryActive
	}
	if cfg.RequestAge == 0 {
		cfg.RequestAge = DefaultTelemetryRequestAge
	}
	if cfg.MaxPerCycle == 0 {
		cfg.MaxPerCycle = DefaultTelemetryPerCycle
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultTelemetryDelay
	}
	if cfg.AttemptTimeout == 0 {
		cfg.AttemptTimeout = DefaultAttemptTimeout
	}
	if cfg.TracerouteAge == 0 {
		cfg.TracerouteAge = DefaultTracerouteAge
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TelemetryScheduler{
		log:     log.With("component", "telemetry-scheduler"),
		store:   st,
		slot:    slot,
		metrics: m,
		clock:   clock,
		cfg:     cfg,
	}, nil
}

// Run cycles on the configured cadence until the context is canceled.
func (s *TelemetryScheduler) Run(ctx context.Context) error {
	s.log.Info("telemetry scheduler started",
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

// Tick runs one probe cycle, dropping ticks that overlap a cycle still
// pacing through its sends.
func (s *TelemetryScheduler) Tick(ctx context.Context) {
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Debug("cycle still in progress, skipping tick")
		return
	}
	defer s.busy.Store(false)

	if n, err := s.store.TimeoutStaleAttempts(ctx, store.AttemptTelemetry, s.cfg.AttemptTimeout); err != nil {
		s.log.Warn("stale attempt sweep failed", "error", err)
	} else if n > 0 {
		s.metrics.AttemptsTimedOut.WithLabelValues(string(store.AttemptTelemetry)).Add(float64(n))
		s.log.Info("timed out stale telemetry attempts", "count", n)
	}

	iface, ok := s.slot.Get()
	if !ok {
		s.log.Debug("no radio connected, skipping cycle")
		return
	}

	candidates, err := s.store.TelemetryCandidates(ctx, store.TelemetryCandidateQuery{
		ActiveThreshold:      s.cfg.ActiveThreshold,
		RequestAge:           s.cfg.RequestAge,
		ExcludeMQTT:          !s.cfg.IncludeMQTT,
		SkipRecentTraceroute: !s.cfg.ProbeRecentlyTraced,
		TracerouteAge:        s.cfg.TracerouteAge,
		Limit:                s.cfg.MaxPerCycle,
	})
	if err != nil {
		s.log.Warn("candidate query failed", "error", err)
		return
	}
	if len(candidates) == 0 {
		s.log.Debug("no telemetry candidates")
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

// probe sends one telemetry request and records the attempt, including
// when the radio rejects the send.
func (s *TelemetryScheduler) probe(ctx context.Context, iface radio.Interface, cand store.ProbeCandidate) {
	name := candidateName(cand)

	if err := iface.SendTelemetryRequest(ctx, uint32(cand.Num)); err != nil {
		s.metrics.ProbeSendFailures.WithLabelValues(string(store.AttemptTelemetry)).Inc()
		s.log.Warn("telemetry request failed",
			"node_id", cand.NodeID, "name", name, "error", err)
	} else {
		s.metrics.ProbesSent.WithLabelValues(string(store.AttemptTelemetry)).Inc()
		s.log.Info("telemetry requested", "node_id", cand.NodeID, "name", name)
	}

	if _, err := s.store.InsertAttempt(ctx, store.AttemptTelemetry, cand.NodeID, namePtr(name)); err != nil {
		s.log.Warn("record telemetry attempt failed", "node_id", cand.NodeID, "error", err)
	}
}
