package topology_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/store"
	"github.com/meshwatchio/meshwatch/internal/topology"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{Level: slog.LevelDebug}))
}

func TestSweeperConfigValidate(t *testing.T) {
	t.Parallel()

	_, err := topology.New(testLogger(t), nil, nil, nil, topology.Config{Interval: -time.Second})
	require.Error(t, err)
}

func TestSweeperTick(t *testing.T) {
	t.Parallel()

	clock := clockwork.NewFakeClockAt(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	st, err := store.Open(testLogger(t), ":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ctx := context.Background()
	require.NoError(t, st.UpdateTopology(ctx, "!11111111", "!00000001", nil, nil, nil))
	clock.Advance(2 * time.Minute)
	require.NoError(t, st.UpdateTopology(ctx, "!22222222", "!00000001", nil, nil, nil))

	sweeper, err := topology.New(testLogger(t), st, metrics.New(prometheus.NewRegistry()), clock, topology.Config{})
	require.NoError(t, err)

	// 61 and 59 minutes after each edge's last observation.
	clock.Advance(59 * time.Minute)
	sweeper.Tick(ctx)

	active, err := st.Topology(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "!22222222", active[0].SourceID)
}
