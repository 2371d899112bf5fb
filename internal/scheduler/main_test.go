package scheduler_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/metrics"
	"github.com/meshwatchio/meshwatch/internal/radio"
	"github.com/meshwatchio/meshwatch/internal/store"
)

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelDebug,
	}))
}

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeRadio records probe submissions and can be told to reject them.
type fakeRadio struct {
	traceroutes []uint32
	telemetry   []uint32
	sendErr     error
}

func (f *fakeRadio) LocalNodeID() string      { return "!00000001" }
func (f *fakeRadio) LocalNodeNum() uint32     { return 1 }
func (f *fakeRadio) Nodes() []radio.NodeEntry { return nil }

func (f *fakeRadio) SendTraceroute(_ context.Context, dest uint32, _ int) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.traceroutes = append(f.traceroutes, dest)
	return nil
}

func (f *fakeRadio) SendTelemetryRequest(_ context.Context, dest uint32) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.telemetry = append(f.telemetry, dest)
	return nil
}

func (f *fakeRadio) SendText(_ context.Context, _ uint32, _ int, _ string) error {
	return errors.New("not implemented")
}

type harness struct {
	store *store.Store
	clock *clockwork.FakeClock
	slot  *radio.Slot
	radio *fakeRadio
	reg   *prometheus.Registry
	m     *metrics.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	st, err := store.Open(testLogger(t), ":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fr := &fakeRadio{}
	slot := &radio.Slot{}
	slot.Set(fr)

	reg := prometheus.NewRegistry()
	return &harness{
		store: st,
		clock: clock,
		slot:  slot,
		radio: fr,
		reg:   reg,
		m:     metrics.New(reg),
	}
}

// seedNode registers a node with a number so it qualifies as a probe
// target.
func (h *harness) seedNode(t *testing.T, id string, num int64, longName string) {
	t.Helper()
	upd := store.NodeUpdate{ID: id, Num: &num}
	if longName != "" {
		upd.LongName = &longName
	}
	require.NoError(t, h.store.UpsertNode(context.Background(), upd))
}

func ptr[T any](v T) *T { return &v }
