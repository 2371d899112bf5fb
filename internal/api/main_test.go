package api_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/lmittmann/tint"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/api"
	"github.com/meshwatchio/meshwatch/internal/radio"
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

type fakeRadio struct {
	texts []string
}

func (f *fakeRadio) LocalNodeID() string      { return "!00000001" }
func (f *fakeRadio) LocalNodeNum() uint32     { return 1 }
func (f *fakeRadio) Nodes() []radio.NodeEntry { return nil }

func (f *fakeRadio) SendTraceroute(_ context.Context, _ uint32, _ int) error { return nil }
func (f *fakeRadio) SendTelemetryRequest(_ context.Context, _ uint32) error  { return nil }

func (f *fakeRadio) SendText(_ context.Context, _ uint32, _ int, text string) error {
	f.texts = append(f.texts, text)
	return nil
}

type harness struct {
	store  *store.Store
	clock  *clockwork.FakeClock
	slot   *radio.Slot
	radio  *fakeRadio
	router http.Handler
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

	views := view.New(testLogger(t), st, clock)
	srv, err := api.New(testLogger(t), st, views, slot, api.Config{SiteName: "testbench"})
	require.NoError(t, err)

	return &harness{store: st, clock: clock, slot: slot, radio: fr, router: srv.Router()}
}

// get issues a request against the router and decodes the JSON body.
func (h *harness) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	return h.do(t, http.MethodGet, path, "")
}

func (h *harness) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &decoded))
	return rec.Code, decoded
}

func ptr[T any](v T) *T { return &v }
