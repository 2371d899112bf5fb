package view_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/store"
	"github.com/meshwatchio/meshwatch/internal/view"
)

func TestCoverageIndirectCredit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.seedNode(t, nodeUpdate("!aabbccdd"))
	h.seedPacket(t, "!11111111", 2, ptr("!aabbccdd"))

	cov, err := h.views.CoverageMap(ctx, 0)
	require.NoError(t, err)

	require.Len(t, cov.Indirect, 1)
	entry := cov.Indirect[0]
	assert.Equal(t, "!aabbccdd", entry.RelayID)
	assert.Equal(t, []string{"!11111111"}, entry.Tiers["2"])
	assert.Equal(t, 1, entry.TotalHeard)
	assert.Empty(t, cov.DirectLinks)
	assert.Equal(t, int64(1), cov.HopHistogram[2])
}

func TestCoverageDirectDedupAndProvenance(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// The same unordered pair observed from both directions plus a
	// traceroute hop collapses into one link with composite provenance.
	for i := 0; i < 5; i++ {
		h.seedPacket(t, "!11111111", 0, ptr("!22222222"))
	}
	h.seedPacket(t, "!22222222", 0, ptr("!11111111"))
	_, err := h.store.InsertTraceroute(ctx, "!11111111", ptr("!22222222"),
		[]string{"!11111111", "!22222222"}, []float64{3.5}, nil)
	require.NoError(t, err)

	cov, err := h.views.CoverageMap(ctx, 0)
	require.NoError(t, err)

	require.Len(t, cov.DirectLinks, 1)
	link := cov.DirectLinks[0]
	assert.Equal(t, "!11111111", link.NodeA)
	assert.Equal(t, "!22222222", link.NodeB)
	assert.Equal(t, int64(7), link.Observations)
	assert.Equal(t, "relay-packet+traceroute", link.Source)
	assert.Equal(t, view.ConfidenceMedium, link.Confidence)
}

func TestCoverageTelemetryAndPartialMarkers(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// Completed telemetry attempt with a resolved relay counts; a
	// packet with an unresolved marker does not.
	h.seedNode(t, nodeUpdate("!33333333"))
	_, err := h.store.InsertAttempt(ctx, store.AttemptTelemetry, "!33333333", nil)
	require.NoError(t, err)
	ok, err := h.store.CompleteTelemetryAttempt(ctx, "!33333333", store.TelemetryCompletion{
		RxSNR:       ptr(6.0),
		RelayNodeID: ptr("!44444444"),
		HopsAway:    ptr(int64(1)),
	})
	require.NoError(t, err)
	require.True(t, ok)

	h.seedPacket(t, "!55555555", 1, ptr("170"))

	cov, err := h.views.CoverageMap(ctx, 0)
	require.NoError(t, err)

	require.Len(t, cov.Indirect, 1)
	assert.Equal(t, "!44444444", cov.Indirect[0].RelayID)
	assert.Equal(t, []string{"!33333333"}, cov.Indirect[0].Tiers["1"])
}

func TestCoverageWindowExcludesOldObservations(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.seedPacket(t, "!11111111", 1, ptr("!22222222"))
	h.clock.Advance(25 * time.Hour)
	h.seedPacket(t, "!33333333", 1, ptr("!22222222"))

	cov, err := h.views.CoverageMap(ctx, 24*time.Hour)
	require.NoError(t, err)

	require.Len(t, cov.Indirect, 1)
	assert.Equal(t, []string{"!33333333"}, cov.Indirect[0].Tiers["1"])
}

func TestCoverageNodesRequirePosition(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	h.seedNode(t, store.NodeUpdate{ID: "!11111111", Latitude: ptr(47.6), Longitude: ptr(-122.3)})
	h.seedNode(t, nodeUpdate("!22222222"))
	h.seedPacket(t, "!22222222", 0, ptr("!11111111"))

	cov, err := h.views.CoverageMap(ctx, 0)
	require.NoError(t, err)

	require.Len(t, cov.Nodes, 1)
	assert.Equal(t, "!11111111", cov.Nodes[0].ID)
	assert.Equal(t, 1, cov.Nodes[0].DirectLinks)
}
