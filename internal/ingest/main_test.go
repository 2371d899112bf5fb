package ingest_test

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/ingest"
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

// fakeRadio satisfies radio.Interface with a static node table and a
// record of submitted sends.
type fakeRadio struct {
	localID  string
	localNum uint32
	nodes    []radio.NodeEntry

	traceroutes []uint32
	telemetry   []uint32
	texts       []string
}

func (f *fakeRadio) LocalNodeID() string      { return f.localID }
func (f *fakeRadio) LocalNodeNum() uint32     { return f.localNum }
func (f *fakeRadio) Nodes() []radio.NodeEntry { return f.nodes }

func (f *fakeRadio) SendTraceroute(_ context.Context, dest uint32, _ int) error {
	f.traceroutes = append(f.traceroutes, dest)
	return nil
}

func (f *fakeRadio) SendTelemetryRequest(_ context.Context, dest uint32) error {
	f.telemetry = append(f.telemetry, dest)
	return nil
}

func (f *fakeRadio) SendText(_ context.Context, _ uint32, _ int, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

type harness struct {
	store    *store.Store
	clock    *clockwork.FakeClock
	slot     *radio.Slot
	radio    *fakeRadio
	ingestor *ingest.Ingestor
}

func newHarness(t *testing.T, cfg ingest.Config) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testEpoch)
	st, err := store.Open(testLogger(t), ":memory:", clock)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	fr := &fakeRadio{localID: "!00000001", localNum: 1}
	slot := &radio.Slot{}
	slot.Set(fr)

	m := metrics.New(prometheus.NewRegistry())
	ing, err := ingest.New(testLogger(t), st, slot, m, cfg)
	require.NoError(t, err)

	return &harness{store: st, clock: clock, slot: slot, radio: fr, ingestor: ing}
}

func ptr[T any](v T) *T { return &v }
