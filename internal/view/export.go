package view

import (
	"context"
	"fmt"
	"time"

	"github.com/meshwatchio/meshwatch/internal/store"
)

// exportPacketCap bounds how much packet history a full export carries.
const exportPacketCap = 10000

// Export is the full-database JSON document.
type Export struct {
	GeneratedAt string               `json:"generated_at"`
	NodeCount   int                  `json:"node_count"`
	Nodes       []store.Node         `json:"nodes"`
	Packets     []store.PacketRecord `json:"packets,omitempty"`
	Topology    []store.Edge         `json:"topology,omitempty"`
	Traceroutes []store.Traceroute   `json:"traceroutes,omitempty"`
}

// FullExport dumps nodes and, when requested, packet history, the edge
// set, and traceroutes.
func (v *Views) FullExport(ctx context.Context, includePackets, includeTopology bool) (*Export, error) {
	nodes, err := v.store.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("export nodes: %w", err)
	}
	out := &Export{
		GeneratedAt: v.clock.Now().UTC().Format(time.RFC3339),
		NodeCount:   len(nodes),
		Nodes:       nodes,
	}

	if includePackets {
		packets, err := v.store.PacketsSince(ctx, time.Time{}, exportPacketCap)
		if err != nil {
			return nil, fmt.Errorf("export packets: %w", err)
		}
		out.Packets = packets
	}
	if includeTopology {
		edges, err := v.store.Topology(ctx, false)
		if err != nil {
			return nil, fmt.Errorf("export topology: %w", err)
		}
		out.Topology = edges
		traceroutes, err := v.store.Traceroutes(ctx, 1000)
		if err != nil {
			return nil, fmt.Errorf("export traceroutes: %w", err)
		}
		out.Traceroutes = traceroutes
	}
	return out, nil
}

// GeoJSONFeature is one positioned node as a Point feature.
type GeoJSONFeature struct {
	Type       string         `json:"type"`
	Geometry   GeoJSONPoint   `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type GeoJSONPoint struct {
	Type        string    `json:"type"`
	Coordinates []float64 `json:"coordinates"`
}

type GeoJSON struct {
	Type     string           `json:"type"`
	Features []GeoJSONFeature `json:"features"`
}

// NodesGeoJSON renders every positioned node as a GeoJSON
// FeatureCollection. Coordinates follow the GeoJSON order, longitude
// first.
func (v *Views) NodesGeoJSON(ctx context.Context) (*GeoJSON, error) {
	nodes, err := v.store.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("geojson nodes: %w", err)
	}

	out := &GeoJSON{Type: "FeatureCollection", Features: []GeoJSONFeature{}}
	for _, n := range nodes {
		if n.Latitude == nil || n.Longitude == nil {
			continue
		}
		coords := []float64{*n.Longitude, *n.Latitude}
		if n.Altitude != nil {
			coords = append(coords, *n.Altitude)
		}
		out.Features = append(out.Features, GeoJSONFeature{
			Type:     "Feature",
			Geometry: GeoJSONPoint{Type: "Point", Coordinates: coords},
			Properties: map[string]any{
				"id":             n.ID,
				"name":           nodeLabel(n),
				"short_name":     shortLabel(n),
				"battery":        n.BatteryLevel,
				"hardware_model": n.HardwareModel,
				"last_seen_utc":  n.LastSeen.UTC().Format(time.RFC3339),
				"total_packets":  n.TotalPackets,
			},
		})
	}
	return out, nil
}
