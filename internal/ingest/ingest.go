// Package ingest turns the radio's packet stream into persistent
// state: node upserts, bounded packet history with relay attribution,
// topology updates, and probe-response correlation.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/meshwatchio/meshwatch/internal/meshid"
	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/radio"
	"github.com/meshwatchio/meshwatch/internal/store"
)

const DefaultMaxPacketsPerNode = 1000

type Config struct {
	// MaxPacketsPerNode bounds per-node packet history; older rows are
	// evicted past the bound.
	MaxPacketsPerNode int

	// TrackedPorts selects which ports are persisted to history. An
	// empty set tracks everything.
	TrackedPorts map[radio.Port]bool
}

func (c *Config) Validate() error {
	if c.MaxPacketsPerNode < 0 {
		return errors.New("max packets per node must not be negative")
	}
	return nil
}

// Ingestor consumes decoded packets and applies the ingestion steps in
// order. Every failure is recovered here; the worker never surfaces
// per-packet errors to its caller.
type Ingestor struct {
	log      *slog.Logger
	store    *store.Store
	slot     *radio.Slot
	metrics  *metrics.Metrics
	resolver *Resolver
	cfg      Config
}

func New(log *slog.Logger, st *store.Store, slot *radio.Slot, m *metrics.Metrics, cfg Config) (*Ingestor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxPacketsPerNode == 0 {
		cfg.MaxPacketsPerNode = DefaultMaxPacketsPerNode
	}
	return &Ingestor{
		log:      log.With("component", "ingest"),
		store:    st,
		slot:     slot,
		metrics:  m,
		resolver: NewResolver(log, st, slot),
		cfg:      cfg,
	}, nil
}

// Run consumes packets until the channel closes or the context is
// canceled.
func (i *Ingestor) Run(ctx context.Context, in <-chan *radio.Packet) error {
	i.log.Info("ingest worker started", "max_packets_per_node", i.cfg.MaxPacketsPerNode)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case p, ok := <-in:
			if !ok {
				return nil
			}
			i.Handle(ctx, p)
		}
	}
}

// Handle applies the full ingestion sequence to one packet.
func (i *Ingestor) Handle(ctx context.Context, p *radio.Packet) {
	sourceID := p.SourceID()
	if sourceID == "" {
		i.metrics.MalformedPackets.Inc()
		i.log.Debug("packet without source identity dropped")
		return
	}
	port := p.PortOf()

	if err := i.store.UpsertNode(ctx, i.extractNode(p, sourceID)); err != nil {
		i.metrics.StoreWriteFailures.Inc()
		i.log.Warn("node upsert failed", "node", sourceID, "error", err)
	}

	if i.tracked(port) {
		rec := i.extractPacket(ctx, p, sourceID)
		if err := i.store.InsertPacket(ctx, rec, i.cfg.MaxPacketsPerNode); err != nil {
			i.metrics.StoreWriteFailures.Inc()
			i.log.Warn("packet insert failed", "node", sourceID, "error", err)
		} else {
			i.metrics.PacketsIngested.WithLabelValues(string(port)).Inc()
		}
	}

	i.updateTopology(ctx, p, sourceID)

	switch port {
	case radio.PortTraceroute:
		i.handleTraceroute(ctx, p, sourceID)
	case radio.PortTelemetry:
		i.handleTelemetryResponse(ctx, p, sourceID)
	}
}

func (i *Ingestor) tracked(port radio.Port) bool {
	if len(i.cfg.TrackedPorts) == 0 {
		return true
	}
	return i.cfg.TrackedPorts[port]
}

// extractNode merges what the packet carries with what the driver's
// node table knows about the source.
func (i *Ingestor) extractNode(p *radio.Packet, sourceID string) store.NodeUpdate {
	upd := store.NodeUpdate{
		ID:      sourceID,
		ViaMQTT: &p.ViaMQTT,
	}
	if p.From != 0 {
		num := int64(p.From)
		upd.Num = &num
	}

	if iface, ok := i.slot.Get(); ok {
		for _, entry := range iface.Nodes() {
			if entry.Num != p.From {
				continue
			}
			if entry.User.ShortName != "" {
				upd.ShortName = ptrOf(entry.User.ShortName)
			}
			if entry.User.LongName != "" {
				upd.LongName = ptrOf(entry.User.LongName)
			}
			if entry.User.HwModel != "" {
				upd.HardwareModel = ptrOf(entry.User.HwModel)
			}
			if lat, lon, ok := entry.Position.Degrees(); ok {
				upd.Latitude = &lat
				upd.Longitude = &lon
				if entry.Position.Altitude != nil {
					upd.Altitude = entry.Position.Altitude
				}
			}
			if dm := entry.DeviceMetrics; dm != nil {
				if dm.BatteryLevel != nil {
					upd.BatteryLevel = ptrOf(int64(*dm.BatteryLevel))
				}
				upd.Voltage = dm.Voltage
				charging := dm.AirUtilTx != nil
				upd.IsCharging = &charging
			}
			break
		}
	}

	d := p.Decoded
	if d == nil {
		return upd
	}
	switch d.Port {
	case radio.PortNodeInfo:
		if d.User != nil {
			if d.User.ShortName != "" {
				upd.ShortName = ptrOf(d.User.ShortName)
			}
			if d.User.LongName != "" {
				upd.LongName = ptrOf(d.User.LongName)
			}
			if d.User.HwModel != "" {
				upd.HardwareModel = ptrOf(d.User.HwModel)
			}
		}
	case radio.PortPosition:
		if lat, lon, ok := d.Position.Degrees(); ok {
			upd.Latitude = &lat
			upd.Longitude = &lon
			if d.Position.Altitude != nil {
				upd.Altitude = d.Position.Altitude
			}
		}
	case radio.PortTelemetry:
		if d.Telemetry != nil && d.Telemetry.DeviceMetrics != nil {
			dm := d.Telemetry.DeviceMetrics
			if dm.BatteryLevel != nil {
				upd.BatteryLevel = ptrOf(int64(*dm.BatteryLevel))
			}
			if dm.Voltage != nil {
				upd.Voltage = dm.Voltage
			}
		}
	}
	return upd
}

// extractPacket builds the history row, resolving the relay identity
// when the packet was relayed.
func (i *Ingestor) extractPacket(ctx context.Context, p *radio.Packet, sourceID string) store.PacketRecord {
	rec := store.PacketRecord{
		NodeID:       sourceID,
		Type:         string(p.PortOf()),
		ChannelIndex: ptrOf(int64(p.Channel)),
		ViaMQTT:      p.ViaMQTT,
		RxSNR:        p.RxSNR,
	}
	if p.HopStart != nil {
		rec.HopStart = ptrOf(int64(*p.HopStart))
	}
	if p.HopLimit != nil {
		rec.HopLimit = ptrOf(int64(*p.HopLimit))
	}
	if hops, ok := p.HopsAway(); ok {
		rec.HopsAway = ptrOf(int64(hops))
	}
	if p.RxRSSI != nil {
		rec.RxRSSI = ptrOf(int64(*p.RxRSSI))
	}
	if raw, err := json.Marshal(p); err == nil {
		rec.RawPacket = ptrOf(string(raw))
	}

	if p.RelayNode != nil && rec.HopsAway != nil && *rec.HopsAway > 0 {
		id, name, ok := i.resolver.Resolve(ctx, *p.RelayNode, sourceID)
		if ok && meshid.IsCanonical(id) {
			rec.RelayNodeID = &id
			rec.RelayNodeName = &name
			i.metrics.RelayResolutions.WithLabelValues("resolved").Inc()
		} else {
			// Preserve the raw value for retroactive matching.
			rec.RelayNodeID = ptrOf(meshid.PartialMarker(*p.RelayNode))
			i.metrics.RelayResolutions.WithLabelValues("unresolved").Inc()
		}
	}

	d := p.Decoded
	if d == nil {
		return rec
	}
	switch d.Port {
	case radio.PortPosition:
		if lat, lon, ok := d.Position.Degrees(); ok {
			rec.Latitude = &lat
			rec.Longitude = &lon
			if d.Position.Altitude != nil {
				rec.Altitude = d.Position.Altitude
			}
		}
	case radio.PortTelemetry:
		if d.Telemetry == nil {
			break
		}
		if dm := d.Telemetry.DeviceMetrics; dm != nil {
			if dm.BatteryLevel != nil {
				rec.BatteryLevel = ptrOf(int64(*dm.BatteryLevel))
			}
			rec.Voltage = dm.Voltage
			rec.Temperature = dm.Temperature
		}
		if em := d.Telemetry.EnvironmentMetrics; em != nil {
			if em.Temperature != nil {
				rec.Temperature = em.Temperature
			}
			rec.Humidity = em.RelativeHumidity
			rec.Pressure = em.BarometricPressure
		}
	case radio.PortText:
		if d.Text != "" {
			rec.MessageText = ptrOf(d.Text)
		}
	}
	return rec
}

// updateTopology records the source-to-local-radio link for packets
// that carry hop information.
func (i *Ingestor) updateTopology(ctx context.Context, p *radio.Packet, sourceID string) {
	if p.HopStart == nil || p.HopLimit == nil {
		return
	}
	iface, ok := i.slot.Get()
	if !ok {
		return
	}
	localID := iface.LocalNodeID()
	if localID == "" || localID == sourceID {
		return
	}
	hops := int64(*p.HopStart - *p.HopLimit)

	var rssi *float64
	if p.RxRSSI != nil {
		rssi = ptrOf(float64(*p.RxRSSI))
	}
	if err := i.store.UpdateTopology(ctx, sourceID, localID, p.RxSNR, rssi, &hops); err != nil {
		i.metrics.StoreWriteFailures.Inc()
		i.log.Warn("topology update failed", "source", sourceID, "error", err)
	}
}

// handleTraceroute stores the discovered route, derives one topology
// edge per consecutive hop pair, and closes any pending attempt for
// the responding node.
func (i *Ingestor) handleTraceroute(ctx context.Context, p *radio.Packet, sourceID string) {
	var route []uint32
	var snrTowards []float64
	if p.Decoded != nil && p.Decoded.Traceroute != nil {
		route = p.Decoded.Traceroute.Route
		snrTowards = p.Decoded.Traceroute.SNRTowards
	}

	routeIDs := make([]string, 0, len(route))
	for _, num := range route {
		routeIDs = append(routeIDs, i.identityFor(num))
	}

	// Each consecutive pair in a complete route is a one-hop link.
	if len(routeIDs) >= 2 {
		for idx := 0; idx < len(routeIDs)-1; idx++ {
			var snr *float64
			if idx < len(snrTowards) {
				snr = ptrOf(snrTowards[idx])
			}
			hop := int64(1)
			if err := i.store.UpdateTopology(ctx, routeIDs[idx], routeIDs[idx+1], snr, nil, &hop); err != nil {
				i.metrics.StoreWriteFailures.Inc()
				i.log.Warn("traceroute hop update failed", "source", routeIDs[idx], "error", err)
			}
		}
	}

	var toID *string
	if p.ToID != "" {
		toID = &p.ToID
	}
	tracerouteID, err := i.store.InsertTraceroute(ctx, sourceID, toID, routeIDs, snrTowards, nil)
	if err != nil {
		i.metrics.StoreWriteFailures.Inc()
		i.log.Warn("traceroute insert failed", "source", sourceID, "error", err)
	}

	var tracerouteRef *int64
	if err == nil {
		tracerouteRef = &tracerouteID
	}
	completed, err := i.store.CompleteTracerouteAttempt(ctx, sourceID, tracerouteRef)
	if err != nil {
		i.log.Warn("traceroute attempt completion failed", "source", sourceID, "error", err)
		return
	}
	if completed {
		i.log.Info("traceroute response correlated", "source", sourceID, "hops", len(routeIDs))
	}
}

// handleTelemetryResponse closes any pending telemetry attempt for the
// responding node, capturing the response's signal readings.
func (i *Ingestor) handleTelemetryResponse(ctx context.Context, p *radio.Packet, sourceID string) {
	completion := store.TelemetryCompletion{RxSNR: p.RxSNR}
	if p.RxRSSI != nil {
		completion.RxRSSI = ptrOf(int64(*p.RxRSSI))
	}
	if hops, ok := p.HopsAway(); ok {
		completion.HopsAway = ptrOf(int64(hops))
	}
	if p.RelayNode != nil && completion.HopsAway != nil && *completion.HopsAway > 0 {
		if id, name, ok := i.resolver.Resolve(ctx, *p.RelayNode, sourceID); ok && meshid.IsCanonical(id) {
			completion.RelayNodeID = &id
			completion.RelayNodeName = &name
		}
	}

	completed, err := i.store.CompleteTelemetryAttempt(ctx, sourceID, completion)
	if err != nil {
		i.log.Warn("telemetry attempt completion failed", "source", sourceID, "error", err)
		return
	}
	if completed {
		i.log.Info("telemetry response correlated", "source", sourceID)
	}
}

// identityFor resolves a route member's node number through the driver
// table, falling back to the canonical rendering.
func (i *Ingestor) identityFor(num uint32) string {
	if iface, ok := i.slot.Get(); ok {
		for _, entry := range iface.Nodes() {
			if entry.Num == num && entry.User.ID != "" {
				return entry.User.ID
			}
		}
	}
	return meshid.FromNum(num)
}

func ptrOf[T any](v T) *T { return &v }
