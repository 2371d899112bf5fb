// Package view derives read models from the store: hop graph, coverage
// map, visualization payloads, and exports. Views hold no state of
// their own.
package view

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/meshwatchio/meshwatch/internal/store"
)

type Views struct {
	log   *slog.Logger
	store *store.Store
	clock clockwork.Clock
}

func New(log *slog.Logger, st *store.Store, clock clockwork.Clock) *Views {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Views{
		log:   log.With("component", "views"),
		store: st,
		clock: clock,
	}
}

// GraphNode is one vertex of the topology graph payload.
type GraphNode struct {
	ID       string  `json:"id"`
	Label    string  `json:"label"`
	Battery  *int64  `json:"battery"`
	LastSeen string  `json:"lastSeen"`
}

// GraphEdge is one active link of the topology graph payload.
type GraphEdge struct {
	Source  string   `json:"source"`
	Target  string   `json:"target"`
	Quality *float64 `json:"quality"`
	SNR     *float64 `json:"snr"`
	RSSI    *float64 `json:"rssi"`
}

type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// TopologyGraph renders every node plus the active edge set in the
// shape graph visualizers consume.
func (v *Views) TopologyGraph(ctx context.Context) (*Graph, error) {
	nodes, err := v.store.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("graph nodes: %w", err)
	}
	edges, err := v.store.Topology(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("graph edges: %w", err)
	}

	g := &Graph{Nodes: make([]GraphNode, 0, len(nodes)), Edges: make([]GraphEdge, 0, len(edges))}
	for _, n := range nodes {
		g.Nodes = append(g.Nodes, GraphNode{
			ID:       n.ID,
			Label:    nodeLabel(n),
			Battery:  n.BatteryLevel,
			LastSeen: n.LastSeen.UTC().Format("2006-01-02T15:04:05Z"),
		})
	}
	for _, e := range edges {
		g.Edges = append(g.Edges, GraphEdge{
			Source:  e.SourceID,
			Target:  e.NeighborID,
			Quality: e.Quality,
			SNR:     e.AvgSNR,
			RSSI:    e.AvgRSSI,
		})
	}
	return g, nil
}

// nodeLabel prefers the long name, then the short name, then the id.
func nodeLabel(n store.Node) string {
	if n.LongName != nil && *n.LongName != "" {
		return *n.LongName
	}
	if n.ShortName != nil && *n.ShortName != "" {
		return *n.ShortName
	}
	return n.ID
}

func shortLabel(n store.Node) string {
	if n.ShortName != nil && *n.ShortName != "" {
		return *n.ShortName
	}
	if len(n.ID) >= 4 {
		return n.ID[len(n.ID)-4:]
	}
	return n.ID
}
