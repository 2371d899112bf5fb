package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshwatchio/meshwatch/internal/store"
)

func seedNode(t *testing.T, h *harness, id string) {
	t.Helper()
	require.NoError(t, h.store.UpsertNode(context.Background(), store.NodeUpdate{ID: id}))
}

func TestListAndGetNodes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seedNode(t, h, "!11111111")

	code, body := h.get(t, "/api/nodes")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["count"])

	code, body = h.get(t, "/api/nodes/!11111111")
	require.Equal(t, http.StatusOK, code)
	node := body["node"].(map[string]any)
	assert.Equal(t, "!11111111", node["node_id"])

	code, body = h.get(t, "/api/nodes/!99999999")
	require.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, false, body["success"])
}

func TestNodePacketsValidatesLimit(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seedNode(t, h, "!11111111")

	code, body := h.get(t, "/api/nodes/!11111111/packets?limit=abc")
	require.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, false, body["success"])

	code, _ = h.get(t, "/api/nodes/!11111111/packets?limit=10")
	require.Equal(t, http.StatusOK, code)
}

func TestIgnoreToggle(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seedNode(t, h, "!11111111")

	code, body := h.do(t, http.MethodPost, "/api/nodes/!11111111/ignore", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["is_ignored"])

	node, err := h.store.Node(context.Background(), "!11111111")
	require.NoError(t, err)
	assert.True(t, node.IsIgnored)

	code, _ = h.do(t, http.MethodDelete, "/api/nodes/!11111111/ignore", "")
	require.Equal(t, http.StatusOK, code)
	node, err = h.store.Node(context.Background(), "!11111111")
	require.NoError(t, err)
	assert.False(t, node.IsIgnored)

	code, _ = h.do(t, http.MethodPost, "/api/nodes/!99999999/ignore", "")
	require.Equal(t, http.StatusNotFound, code)
}

func TestTopologyActiveFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.UpdateTopology(ctx, "!11111111", "!00000001", ptr(4.0), ptr(-80.0), ptr(int64(0))))

	code, body := h.get(t, "/api/topology")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, body = h.get(t, "/api/topology?active_only=false")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
}

func TestStats(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	seedNode(t, h, "!11111111")

	code, body := h.get(t, "/api/stats")
	require.Equal(t, http.StatusOK, code)
	stats := body["statistics"].(map[string]any)
	assert.Equal(t, float64(1), stats["total_nodes"])
	assert.Contains(t, body, "traceroute_attempts")
	assert.Contains(t, body, "telemetry_requests")
}

func TestTracerouteByID(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	id, err := h.store.InsertTraceroute(ctx, "!11111111", ptr("!22222222"),
		[]string{"!11111111", "!22222222"}, []float64{3.0}, nil)
	require.NoError(t, err)

	code, body := h.get(t, "/api/traceroutes/1")
	require.Equal(t, http.StatusOK, code)
	tr := body["traceroute"].(map[string]any)
	assert.Equal(t, float64(id), tr["id"])

	code, _ = h.get(t, "/api/traceroutes/999")
	require.Equal(t, http.StatusNotFound, code)

	code, _ = h.get(t, "/api/traceroutes/abc")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestTelemetryRequestsStatusFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	_, err := h.store.InsertAttempt(ctx, store.AttemptTelemetry, "!11111111", nil)
	require.NoError(t, err)

	code, body := h.get(t, "/api/telemetry/requests?status=pending")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])

	code, _ = h.get(t, "/api/telemetry/requests?status=bogus")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestCoverageEndpoint(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	code, body := h.get(t, "/api/coverage?hours=12")
	require.Equal(t, http.StatusOK, code)
	cov := body["coverage"].(map[string]any)
	assert.Equal(t, float64(12), cov["window_hours"])

	code, _ = h.get(t, "/api/coverage?hours=-1")
	require.Equal(t, http.StatusBadRequest, code)
}

func TestConfigReportsRadio(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	code, body := h.get(t, "/api/config")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "testbench", body["site_name"])
	assert.Equal(t, "!00000001", body["local_node_id"])

	h.slot.Clear()
	_, body = h.get(t, "/api/config")
	assert.Equal(t, false, body["radio_connected"])
}

func TestSendText(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	code, _ := h.do(t, http.MethodPost, "/api/send",
		`{"destination":"!22222222","channel":1,"text":"hello"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []string{"hello"}, h.radio.texts)

	code, _ = h.do(t, http.MethodPost, "/api/send", `{"destination":"22222222","text":"x"}`)
	require.Equal(t, http.StatusBadRequest, code)

	code, _ = h.do(t, http.MethodPost, "/api/send", `{"destination":"!22222222","channel":0}`)
	require.Equal(t, http.StatusBadRequest, code)

	h.slot.Clear()
	code, _ = h.do(t, http.MethodPost, "/api/send",
		`{"destination":"!22222222","text":"hello"}`)
	require.Equal(t, http.StatusServiceUnavailable, code)
}
