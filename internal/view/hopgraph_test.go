package view_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/view"
)

func TestHopGraph(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// Direct node, relayed node, node with only an unresolved relay
	// marker, node with no hop data at all.
	h.seedPacket(t, "!11111111", 0, nil)
	h.seedPacket(t, "!22222222", 2, ptr("!11111111"))
	h.seedPacket(t, "!33333333", 1, ptr("221"))
	h.seedNode(t, nodeUpdate("!44444444"))

	g, err := h.views.HopGraph(ctx)
	require.NoError(t, err)

	require.Len(t, g.Nodes, 5)
	assert.Equal(t, "LOCAL_NODE", g.Nodes[0].ID)
	assert.Equal(t, int64(-1), g.Nodes[0].Hops)

	byID := map[string]view.HopNode{}
	for _, n := range g.Nodes {
		byID[n.ID] = n
	}
	assert.Equal(t, int64(0), byID["!11111111"].Hops)
	assert.Equal(t, int64(2), byID["!22222222"].Hops)
	require.NotNil(t, byID["!22222222"].RelayVia)
	assert.Equal(t, "!11111111", *byID["!22222222"].RelayVia)
	assert.Equal(t, int64(99), byID["!44444444"].Hops)

	// Exactly two edges: the direct link and the resolved relay. The
	// partial marker produces none.
	require.Len(t, g.Edges, 2)
	edges := map[string]view.HopEdge{}
	for _, e := range g.Edges {
		edges[e.To] = e
	}
	assert.Equal(t, view.HopEdge{From: "LOCAL_NODE", To: "!11111111", Hops: 0}, edges["!11111111"])
	assert.Equal(t, view.HopEdge{From: "!11111111", To: "!22222222", Hops: 2}, edges["!22222222"])
}
