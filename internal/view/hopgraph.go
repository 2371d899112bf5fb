package view

import (
	"context"
	"fmt"

	"github.com/meshwatchio/meshwatch/internal/meshid"
	"github.com/meshwatchio/meshwatch/internal/store"
)

// unknownHops marks a node whose packet history carries no hop data.
const unknownHops = 99

// HopNode is one vertex of the hop graph. The synthetic local node
// carries hops = -1.
type HopNode struct {
	ID        string  `json:"id"`
	Label     string  `json:"label"`
	ShortName *string `json:"short_name"`
	LongName  *string `json:"long_name"`
	Hops      int64   `json:"hops"`
	Battery   *int64  `json:"battery"`
	LastSeen  *string `json:"lastSeen"`
	RelayVia  *string `json:"relay_via"`
}

// HopEdge connects a node to whatever delivered its packets: the local
// node for direct traffic, the last observed relay otherwise.
type HopEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Hops int64  `json:"hops"`
}

type HopGraph struct {
	Nodes []HopNode `json:"nodes"`
	Edges []HopEdge `json:"edges"`
}

// HopGraph organizes the mesh by observed hop distance from the local
// radio. Unresolved relay markers never become edges.
func (v *Views) HopGraph(ctx context.Context) (*HopGraph, error) {
	nodes, err := v.store.Nodes(ctx)
	if err != nil {
		return nil, fmt.Errorf("hop graph nodes: %w", err)
	}
	observations, err := v.store.HopObservations(ctx)
	if err != nil {
		return nil, fmt.Errorf("hop graph observations: %w", err)
	}
	byNode := make(map[string]store.HopObservation, len(observations))
	for _, o := range observations {
		byNode[o.NodeID] = o
	}

	g := &HopGraph{Nodes: make([]HopNode, 0, len(nodes)+1)}
	selfLabel := "Self (This Device)"
	selfShort := "Self"
	g.Nodes = append(g.Nodes, HopNode{
		ID:        meshid.LocalNode,
		Label:     selfLabel,
		ShortName: &selfShort,
		LongName:  &selfLabel,
		Hops:      -1,
	})

	for _, n := range nodes {
		hops := int64(unknownHops)
		var relayVia *string
		obs, observed := byNode[n.ID]
		if observed {
			hops = obs.MinHops
			relayVia = obs.LatestRelay
		}

		lastSeen := n.LastSeen.UTC().Format("2006-01-02T15:04:05Z")
		g.Nodes = append(g.Nodes, HopNode{
			ID:        n.ID,
			Label:     nodeLabel(n),
			ShortName: n.ShortName,
			LongName:  n.LongName,
			Hops:      hops,
			Battery:   n.BatteryLevel,
			LastSeen:  &lastSeen,
			RelayVia:  relayVia,
		})

		switch {
		case observed && obs.MinHops == 0:
			g.Edges = append(g.Edges, HopEdge{From: meshid.LocalNode, To: n.ID, Hops: 0})
		case observed && obs.MinHops > 0 && relayVia != nil && meshid.IsCanonical(*relayVia):
			g.Edges = append(g.Edges, HopEdge{From: *relayVia, To: n.ID, Hops: obs.MinHops})
		}
	}
	return g, nil
}
