package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/store"
)

func TestUpsertNodeCreates(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	err := s.UpsertNode(ctx, store.NodeUpdate{
		ID:       "!11111111",
		Num:      ptr(int64(0x11111111)),
		LongName: ptr("Alpha"),
	})
	require.NoError(t, err)

	n, err := s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n.TotalPackets)
	assert.Equal(t, n.FirstSeen, n.LastSeen)
	assert.Equal(t, "Alpha", *n.LongName)
	require.NotNil(t, n.LastNameUpdate)
}

func TestUpsertNodeIncrementsAndRefreshes(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))

	clock.Advance(time.Minute)
	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{
		ID:       "!11111111",
		Latitude: ptr(40.7),
	}))

	n, err := s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n.TotalPackets)
	assert.True(t, n.FirstSeen.Before(n.LastSeen))
	assert.Equal(t, 40.7, *n.Latitude)
}

func TestUpsertNodeNameDamping(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{
		ID:       "!11111111",
		LongName: ptr("Original"),
	}))

	// Within 24 h the name must not change.
	clock.Advance(23 * time.Hour)
	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{
		ID:       "!11111111",
		LongName: ptr("Changed"),
	}))
	n, err := s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.Equal(t, "Original", *n.LongName)

	// Past 24 h since the original update the name follows.
	clock.Advance(2 * time.Hour)
	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{
		ID:       "!11111111",
		LongName: ptr("Changed"),
	}))
	n, err = s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.Equal(t, "Changed", *n.LongName)
}

func TestUpsertNodeAirplaneFlag(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{
		ID:       "!11111111",
		Altitude: ptr(1200.0),
	}))
	n, err := s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.True(t, n.IsAirplane)

	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{
		ID:       "!11111111",
		Altitude: ptr(300.0),
	}))
	n, err = s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.False(t, n.IsAirplane, "airborne flag recomputes on every altitude")

	// No altitude supplied leaves the flag untouched.
	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))
	n, err = s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.False(t, n.IsAirplane)
}

func TestUpsertNodeBatteryTimestamp(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))
	n, err := s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.Nil(t, n.LastBatteryAt)

	clock.Advance(time.Minute)
	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{
		ID:           "!11111111",
		BatteryLevel: ptr(int64(85)),
	}))
	n, err = s.Node(ctx, "!11111111")
	require.NoError(t, err)
	require.NotNil(t, n.LastBatteryAt)
	assert.Equal(t, int64(85), *n.BatteryLevel)
}

func TestNodeNotFound(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)

	_, err := s.Node(context.Background(), "!deadbeef")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestNodesOrderedByLastSeen(t *testing.T) {
	t.Parallel()
	s, clock := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))
	clock.Advance(time.Minute)
	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{ID: "!22222222"}))

	nodes, err := s.Nodes(ctx)
	require.NoError(t, err)
	require.Len(t, nodes, 2)
	assert.Equal(t, "!22222222", nodes[0].ID)
}

func TestSetNodeIgnored(t *testing.T) {
	t.Parallel()
	s, _ := newTestStore(t)
	ctx := context.Background()

	ok, err := s.SetNodeIgnored(ctx, "!11111111", true)
	require.NoError(t, err)
	assert.False(t, ok, "unknown node is reported")

	require.NoError(t, s.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))
	ok, err = s.SetNodeIgnored(ctx, "!11111111", true)
	require.NoError(t, err)
	assert.True(t, ok)

	n, err := s.Node(ctx, "!11111111")
	require.NoError(t, err)
	assert.True(t, n.IsIgnored)
}
