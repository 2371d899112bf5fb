package federate_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/federate"
	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/store"
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
	m     *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	st, err := store.Open(testLogger(t), ":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return &harness{store: st, clock: clock, m: metrics.New(prometheus.NewRegistry())}
}

func (h *harness) uploader(t *testing.T, apiURL string) *federate.Uploader {
	t.Helper()
	u, err := federate.New(testLogger(t), h.store, h.m, h.clock, nil, federate.Config{
		APIURL:      apiURL,
		CollectorID: "test-collector",
	})
	require.NoError(t, err)
	return u
}

func TestUploaderPostsSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))

	var got federate.Snapshot
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/api/ingest/mesh", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	h.uploader(t, srv.URL).Tick(ctx)

	require.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "test-collector", got.CollectorID)
	assert.Equal(t, 1, got.SchemaVersion)
	require.Len(t, got.Data.Nodes, 1)
	assert.Equal(t, "!11111111", got.Data.Nodes[0].ID)
}

func TestUploaderSkipsEmptyWindow(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()

	// A node last touched before the lookback window is not exported.
	require.NoError(t, h.store.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))
	h.clock.Advance(3 * time.Hour)

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	h.uploader(t, srv.URL).Tick(ctx)
	assert.Equal(t, int32(0), calls.Load())
}

func TestUploaderCountsRejectedSnapshot(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.UpsertNode(ctx, store.NodeUpdate{ID: "!11111111"}))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	h.uploader(t, srv.URL).Tick(ctx)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.m.SnapshotFailures))
}

func TestUploaderDisabledWithoutEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	u := h.uploader(t, "")
	assert.False(t, u.Enabled())
	require.NoError(t, u.Run(context.Background()))
}
