package view

import (
	"context"
	"fmt"
	"time"
)

// MapNode is one GPS-positioned node as rendered on the map.
type MapNode struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	ShortName    string   `json:"shortName"`
	Position     Position `json:"position"`
	Battery      *int64   `json:"battery"`
	HwModel      *string  `json:"hwModel"`
	LastHeard    string   `json:"lastHeard"`
	TotalPackets int64    `json:"totalPackets"`
	IsMQTT       bool     `json:"isMqtt"`
}

// MapConnection is one topology link between two positioned nodes.
type MapConnection struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	RSSI          *float64 `json:"rssi"`
	SNR           *float64 `json:"snr"`
	Quality       *float64 `json:"quality"`
	Packets       int64    `json:"packets"`
	LastHeard     string   `json:"lastHeard"`
	IsActive      bool     `json:"isActive"`
	HopCount      int64    `json:"hopCount"`
	Bidirectional bool     `json:"bidirectional"`
	IsDirect      bool     `json:"isDirect"`
}

// MapTraceroute is one traceroute-derived hop between positioned nodes.
type MapTraceroute struct {
	From           string   `json:"from"`
	To             string   `json:"to"`
	SNR            *float64 `json:"snr"`
	FromTraceroute bool     `json:"fromTraceroute"`
	TraceTime      string   `json:"traceTime"`
}

type MapStats struct {
	TotalNodes               int        `json:"totalNodes"`
	NodesWithGPS             int        `json:"nodesWithGps"`
	TotalConnections         int        `json:"totalConnections"`
	BidirectionalConnections int        `json:"bidirectionalConnections"`
	TracerouteConnections    int        `json:"tracerouteConnections"`
	MapCenter                [2]float64 `json:"mapCenter"`
}

type MapData struct {
	Nodes                 []MapNode       `json:"nodes"`
	Connections           []MapConnection `json:"connections"`
	TracerouteConnections []MapTraceroute `json:"tracerouteConnections"`
	Stats                 MapStats        `json:"stats"`
}

// MapData assembles everything the map page renders: positioned nodes,
// topology links between them, and traceroute hops within the window.
// Links touching a positionless node are dropped.
func (v *Views) MapData(ctx context.Context, window time.Duration) (*MapData, error) {
	if window <= 0 {
		window = DefaultCoverageWindow
	}

	nodes, err := v.store.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("map nodes: %w", err)
	}

	md := &MapData{
		Nodes:                 []MapNode{},
		Connections:           []MapConnection{},
		TracerouteConnections: []MapTraceroute{},
	}
	positioned := map[string]bool{}
	var latSum, lonSum float64
	for _, n := range nodes {
		if n.Latitude == nil || n.Longitude == nil {
			continue
		}
		positioned[n.ID] = true
		latSum += *n.Latitude
		lonSum += *n.Longitude
		md.Nodes = append(md.Nodes, MapNode{
			ID:           n.ID,
			Name:         nodeLabel(n),
			ShortName:    shortLabel(n),
			Position:     Position{Lat: *n.Latitude, Lon: *n.Longitude, Alt: n.Altitude},
			Battery:      n.BatteryLevel,
			HwModel:      n.HardwareModel,
			LastHeard:    n.LastSeen.UTC().Format("2006-01-02T15:04:05Z"),
			TotalPackets: n.TotalPackets,
			IsMQTT:       n.IsMQTT,
		})
	}

	edges, err := v.store.Topology(ctx, false)
	if err != nil {
		return nil, fmt.Errorf("map topology: %w", err)
	}
	seen := map[string]int{}
	for _, e := range edges {
		if !positioned[e.SourceID] || !positioned[e.NeighborID] {
			continue
		}
		hopCount := int64(1)
		if e.LastHopCount != nil {
			hopCount = *e.LastHopCount
		}
		md.Connections = append(md.Connections, MapConnection{
			From:      e.SourceID,
			To:        e.NeighborID,
			RSSI:      e.AvgRSSI,
			SNR:       e.AvgSNR,
			Quality:   e.Quality,
			Packets:   e.TotalPackets,
			LastHeard: e.LastHeard.UTC().Format("2006-01-02T15:04:05Z"),
			IsActive:  e.IsActive,
			HopCount:  hopCount,
			IsDirect:  hopCount == 1,
		})
		seen[pairKey(e.SourceID, e.NeighborID)]++
	}
	bidirectional := 0
	for i := range md.Connections {
		c := &md.Connections[i]
		if seen[pairKey(c.From, c.To)] > 1 {
			c.Bidirectional = true
			bidirectional++
		}
	}

	traceroutes, err := v.store.TraceroutesSince(ctx, v.clock.Now().Add(-window), 100)
	if err != nil {
		return nil, fmt.Errorf("map traceroutes: %w", err)
	}
	for _, tr := range traceroutes {
		for i := 0; i+1 < len(tr.Route); i++ {
			from, to := tr.Route[i], tr.Route[i+1]
			if !positioned[from] || !positioned[to] {
				continue
			}
			var snr *float64
			if i < len(tr.SNRTowards) {
				snr = &tr.SNRTowards[i]
			}
			md.TracerouteConnections = append(md.TracerouteConnections, MapTraceroute{
				From:           from,
				To:             to,
				SNR:            snr,
				FromTraceroute: true,
				TraceTime:      tr.ReceivedAt.UTC().Format("2006-01-02T15:04:05Z"),
			})
		}
	}

	center := [2]float64{0, 0}
	if len(md.Nodes) > 0 {
		center[0] = latSum / float64(len(md.Nodes))
		center[1] = lonSum / float64(len(md.Nodes))
	}
	md.Stats = MapStats{
		TotalNodes:               len(nodes),
		NodesWithGPS:             len(md.Nodes),
		TotalConnections:         len(md.Connections),
		BidirectionalConnections: bidirectional,
		TracerouteConnections:    len(md.TracerouteConnections),
		MapCenter:                center,
	}
	return md, nil
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}
