package view_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/store"
	"github.com/meshwatchio/meshwatch/internal/view"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelDebug,
	}))
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	store *store.Store
	clock *clockwork.FakeClock
	views *view.Views
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	st, err := store.Open(testLogger(t), ":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &harness{
		store: st,
		clock: clock,
		views: view.New(testLogger(t), st, clock),
	}
}

func (h *harness) seedNode(t *testing.T, upd store.NodeUpdate) {
	t.Helper()
	require.NoError(t, h.store.UpsertNode(context.Background(), upd))
}

// seedPacket records a relay observation for node id.
func (h *harness) seedPacket(t *testing.T, nodeID string, hops int64, relay *string) {
	t.Helper()
	h.seedNode(t, store.NodeUpdate{ID: nodeID})
	require.NoError(t, h.store.InsertPacket(context.Background(), store.PacketRecord{
		NodeID:      nodeID,
		Type:        "TEXT_MESSAGE_APP",
		HopsAway:    &hops,
		RelayNodeID: relay,
	}, 100))
}

func nodeUpdate(id string) store.NodeUpdate { return store.NodeUpdate{ID: id} }

func ptr[T any](v T) *T { return &v }
