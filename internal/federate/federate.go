// Package federate periodically exports recent observations to a
// central collector. Uploads are best effort; no core state depends on
// their success.
package federate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"

	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/store"
)

const (
	DefaultInterval    = time.Hour
	DefaultWarmup      = 30 * time.Second
	DefaultLookback    = 2 * time.Hour
	DefaultCollectorID = "meshwatch-collector"

	// SchemaVersion tags every uploaded snapshot.
	SchemaVersion = 1

	maxPacketsPerSnapshot     = 5000
	maxTraceroutesPerSnapshot = 1000
)

type Config struct {
	// APIURL is the collector base URL. Empty disables the uploader
	// entirely.
	APIURL string

	// CollectorID identifies this observer in uploaded snapshots.
	CollectorID string

	// Token, when set, is sent as a bearer credential.
	Token string

	// Interval is the export cadence.
	Interval time.Duration

	// Warmup delays the first export after startup.
	Warmup time.Duration

	// Lookback bounds how far back each snapshot reaches.
	Lookback time.Duration
}

func (c *Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("upload interval must be positive")
	}
	if c.Lookback <= 0 {
		return errors.New("lookback must be positive")
	}
	if c.Warmup < 0 {
		return errors.New("warmup must not be negative")
	}
	return nil
}

// Snapshot is the uploaded document.
type Snapshot struct {
	CollectorID   string       `json:"collector_id"`
	Timestamp     string       `json:"timestamp"`
	SchemaVersion int          `json:"schema_version"`
	Data          SnapshotData `json:"data"`
}

type SnapshotData struct {
	Nodes       []store.Node         `json:"nodes"`
	Packets     []store.PacketRecord `json:"packets"`
	Topology    []store.Edge         `json:"topology"`
	Traceroutes []store.Traceroute   `json:"traceroutes"`
}

// Uploader exports recent store contents to the configured collector.
type Uploader struct {
	log     *slog.Logger
	store   *store.Store
	metrics *metrics.Metrics
	clock   clockwork.Clock
	httpc   *http.Client
	cfg     Config
}

func New(log *slog.Logger, st *store.Store, m *metrics.Metrics, clock clockwork.Clock, httpc *http.Client, cfg Config) (*Uploader, error) {
	if cfg.CollectorID == "" {
		cfg.CollectorID = DefaultCollectorID
	}
	if cfg.Interval == 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Warmup == 0 {
		cfg.Warmup = DefaultWarmup
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = DefaultLookback
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if httpc == nil {
		httpc = &http.Client{Timeout: 60 * time.Second}
	}
	return &Uploader{
		log:     log.With("component", "federated-uploader"),
		store:   st,
		metrics: m,
		clock:   clock,
		httpc:   httpc,
		cfg:     cfg,
	}, nil
}

// Enabled reports whether a collector endpoint is configured.
func (u *Uploader) Enabled() bool { return u.cfg.APIURL != "" }

// Run uploads after a warm-up delay and then on the configured cadence.
// Without a configured endpoint it returns immediately.
func (u *Uploader) Run(ctx context.Context) error {
	if !u.Enabled() {
		u.log.Info("no collector endpoint configured, uploader disabled")
		return nil
	}
	u.log.Info("federated uploader started",
		"collector_id", u.cfg.CollectorID, "interval", u.cfg.Interval)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-u.clock.After(u.cfg.Warmup):
	}
	u.Tick(ctx)

	ticker := u.clock.NewTicker(u.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.Chan():
			u.Tick(ctx)
		}
	}
}

// Tick exports one snapshot. Failures are logged and counted; the next
// cycle starts fresh.
func (u *Uploader) Tick(ctx context.Context) {
	snapshot, err := u.collect(ctx)
	if err != nil {
		u.log.Warn("snapshot collection failed", "error", err)
		u.metrics.SnapshotFailures.Inc()
		return
	}
	if snapshot == nil {
		u.log.Debug("no new data within lookback, skipping upload")
		return
	}

	if err := u.upload(ctx, snapshot); err != nil {
		u.log.Warn("snapshot upload failed", "error", err)
		u.metrics.SnapshotFailures.Inc()
		return
	}
	u.metrics.SnapshotsUploaded.Inc()
	u.log.Info("snapshot uploaded",
		"nodes", len(snapshot.Data.Nodes),
		"packets", len(snapshot.Data.Packets),
		"links", len(snapshot.Data.Topology),
		"traceroutes", len(snapshot.Data.Traceroutes))
}

// collect assembles the lookback window's data, or nil when nothing
// changed.
func (u *Uploader) collect(ctx context.Context) (*Snapshot, error) {
	since := u.clock.Now().Add(-u.cfg.Lookback)

	allNodes, err := u.store.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot nodes: %w", err)
	}
	nodes := make([]store.Node, 0, len(allNodes))
	for _, n := range allNodes {
		if !n.UpdatedAt.Before(since) {
			nodes = append(nodes, n)
		}
	}

	packets, err := u.store.PacketsSince(ctx, since, maxPacketsPerSnapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot packets: %w", err)
	}

	allLinks, err := u.store.Topology(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("snapshot topology: %w", err)
	}
	links := make([]store.Edge, 0, len(allLinks))
	for _, e := range allLinks {
		if !e.LastHeard.Before(since) {
			links = append(links, e)
		}
	}

	traceroutes, err := u.store.TraceroutesSince(ctx, since, maxTraceroutesPerSnapshot)
	if err != nil {
		return nil, fmt.Errorf("snapshot traceroutes: %w", err)
	}

	if len(nodes) == 0 && len(packets) == 0 && len(links) == 0 && len(traceroutes) == 0 {
		return nil, nil
	}
	return &Snapshot{
		CollectorID:   u.cfg.CollectorID,
		Timestamp:     u.clock.Now().UTC().Format(time.RFC3339),
		SchemaVersion: SchemaVersion,
		Data: SnapshotData{
			Nodes:       nodes,
			Packets:     packets,
			Topology:    links,
			Traceroutes: traceroutes,
		},
	}, nil
}

// upload posts the snapshot, retrying transient failures with
// exponential backoff.
func (u *Uploader) upload(ctx context.Context, snapshot *Snapshot) error {
	body, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	endpoint := u.cfg.APIURL + "/api/ingest/mesh"

	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if u.cfg.Token != "" {
			req.Header.Set("Authorization", "Bearer "+u.cfg.Token)
		}

		resp, err := u.httpc.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)

		if resp.StatusCode >= 500 {
			return fmt.Errorf("collector returned %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("collector rejected snapshot: %d", resp.StatusCode))
		}
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = 2 * time.Minute
	return backoff.Retry(operation, backoff.WithContext(policy, ctx))
}
