// Package observer wires the full pipeline together: bridge reader,
// ingestor, topology sweeper, probe schedulers, HTTP API, and the
// federated uploader, with coordinated lifecycle management.
package observer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/meshwatchio/meshwatch/internal/api"
	"github.com/meshwatchio/meshwatch/internal/federate"
	"github.com/meshwatchio/meshwatch/internal/ingest"
	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/radio"
	"github.com/meshwatchio/meshwatch/internal/scheduler"
	"github.com/meshwatchio/meshwatch/internal/store"
	"github.com/meshwatchio/meshwatch/internal/topology"
	"github.com/meshwatchio/meshwatch/internal/view"
)

// packetBuffer absorbs ingest latency spikes without backpressuring
// the bridge reader.
const packetBuffer = 256

type Config struct {
	Store   *store.Store
	Slot    *radio.Slot
	Stream  *radio.Stream
	Bridge  io.Reader
	Metrics *metrics.Metrics
	Clock   clockwork.Clock

	HTTPClient *http.Client

	Ingest     ingest.Config
	Sweep      topology.Config
	Traceroute scheduler.TracerouteConfig
	Telemetry  scheduler.TelemetryConfig
	API        api.Config
	Federate   federate.Config
}

func (c *Config) Validate() error {
	if c.Store == nil {
		return errors.New("store is required")
	}
	if c.Slot == nil {
		return errors.New("radio slot is required")
	}
	if c.Stream == nil || c.Bridge == nil {
		return errors.New("radio bridge is required")
	}
	if c.Metrics == nil {
		return errors.New("metrics are required")
	}
	return nil
}

// Observer is the assembled process.
type Observer struct {
	log *slog.Logger
	cfg Config

	ingestor   *ingest.Ingestor
	sweeper    *topology.Sweeper
	traceroute *scheduler.TracerouteScheduler
	telemetry  *scheduler.TelemetryScheduler
	server     *api.Server
	uploader   *federate.Uploader
}

func New(log *slog.Logger, cfg Config) (*Observer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	ingestor, err := ingest.New(log, cfg.Store, cfg.Slot, cfg.Metrics, cfg.Ingest)
	if err != nil {
		return nil, fmt.Errorf("build ingestor: %w", err)
	}
	sweeper, err := topology.New(log, cfg.Store, cfg.Metrics, cfg.Clock, cfg.Sweep)
	if err != nil {
		return nil, fmt.Errorf("build sweeper: %w", err)
	}
	traceroute, err := scheduler.NewTraceroute(log, cfg.Store, cfg.Slot, cfg.Metrics, cfg.Clock, cfg.Traceroute)
	if err != nil {
		return nil, fmt.Errorf("build traceroute scheduler: %w", err)
	}
	telemetry, err := scheduler.NewTelemetry(log, cfg.Store, cfg.Slot, cfg.Metrics, cfg.Clock, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("build telemetry scheduler: %w", err)
	}
	views := view.New(log, cfg.Store, cfg.Clock)
	server, err := api.New(log, cfg.Store, views, cfg.Slot, cfg.API)
	if err != nil {
		return nil, fmt.Errorf("build api server: %w", err)
	}
	uploader, err := federate.New(log, cfg.Store, cfg.Metrics, cfg.Clock, cfg.HTTPClient, cfg.Federate)
	if err != nil {
		return nil, fmt.Errorf("build uploader: %w", err)
	}

	return &Observer{
		log:        log.With("component", "observer"),
		cfg:        cfg,
		ingestor:   ingestor,
		sweeper:    sweeper,
		traceroute: traceroute,
		telemetry:  telemetry,
		server:     server,
		uploader:   uploader,
	}, nil
}

// Run launches every worker and blocks until shutdown or an
// unrecoverable error. A bridge disconnect stops ingestion but leaves
// the query surface serving.
func (o *Observer) Run(ctx context.Context) error {
	o.log.Info("observer starting")

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 8)
	var wg sync.WaitGroup

	packets := make(chan *radio.Packet, packetBuffer)
	o.cfg.Slot.Set(o.cfg.Stream)

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := o.cfg.Stream.Run(runCtx, o.cfg.Bridge, packets)
		o.cfg.Slot.Clear()
		close(packets)
		if errors.Is(err, io.EOF) {
			o.log.Info("radio bridge disconnected")
			return
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("bridge reader failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.ingestor.Run(runCtx, packets); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("ingestor failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.sweeper.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("topology sweeper failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.traceroute.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("traceroute scheduler failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.telemetry.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("telemetry scheduler failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.server.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("api server failed: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := o.uploader.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("uploader failed: %w", err)
		}
	}()

	var err error
	select {
	case <-ctx.Done():
	case e := <-errCh:
		o.log.Error("observer shutting down", "error", e)
		err = e
		cancel()
	}

	wg.Wait()
	o.log.Info("observer stopped")
	return err
}
