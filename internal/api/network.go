package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/meshwatchio/meshwatch/internal/meshid"
	"github.com/meshwatchio/meshwatch/internal/store"
)

func (s *Server) getTopology(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active_only") != "false"
	links, err := s.store.Topology(r.Context(), activeOnly)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"count": len(links), "links": links})
}

func (s *Server) getTopologyGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := s.views.TopologyGraph(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"graph": graph})
}

func (s *Server) getHopGraph(w http.ResponseWriter, r *http.Request) {
	graph, err := s.views.HopGraph(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"nodes": graph.Nodes, "edges": graph.Edges})
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Statistics(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	traceStats, err := s.store.AttemptStatistics(r.Context(), store.AttemptTraceroute)
	if err != nil {
		s.storeError(w, err)
		return
	}
	telemetryStats, err := s.store.AttemptStatistics(r.Context(), store.AttemptTelemetry)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"statistics":          stats,
		"traceroute_attempts": traceStats,
		"telemetry_requests":  telemetryStats,
	})
}

// exportJSON returns the raw export document without the envelope.
func (s *Server) exportJSON(w http.ResponseWriter, r *http.Request) {
	out, err := s.views.FullExport(r.Context(), true, true)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) exportGeoJSON(w http.ResponseWriter, r *http.Request) {
	out, err := s.views.NodesGeoJSON(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) listTraceroutes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	traceroutes, err := s.store.Traceroutes(r.Context(), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"count": len(traceroutes), "traceroutes": traceroutes})
}

func (s *Server) getTraceroute(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "traceroute id must be an integer")
		return
	}
	tr, err := s.store.TracerouteByID(r.Context(), id)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"traceroute": tr})
}

func (s *Server) listTelemetryRequests(w http.ResponseWriter, r *http.Request) {
	status := store.AttemptStatus(r.URL.Query().Get("status"))
	switch status {
	case "", store.StatusPending, store.StatusCompleted, store.StatusTimeout:
	default:
		s.fail(w, http.StatusBadRequest, "status must be pending, completed, or timeout")
		return
	}
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	attempts, err := s.store.Attempts(r.Context(), store.AttemptTelemetry, status, limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"count": len(attempts), "requests": attempts})
}

func (s *Server) getCoverage(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	cov, err := s.views.CoverageMap(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"coverage": cov})
}

func (s *Server) getMapData(w http.ResponseWriter, r *http.Request) {
	hours, err := queryInt(r, "hours", 24)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	md, err := s.views.MapData(r.Context(), time.Duration(hours)*time.Hour)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{
		"nodes":                 md.Nodes,
		"connections":           md.Connections,
		"tracerouteConnections": md.TracerouteConnections,
		"stats":                 md.Stats,
	})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{"site_name": s.cfg.SiteName}
	if iface, ok := s.slot.Get(); ok {
		payload["local_node_id"] = iface.LocalNodeID()
		payload["radio_connected"] = true
	} else {
		payload["radio_connected"] = false
	}
	s.ok(w, payload)
}

type sendRequest struct {
	Destination string `json:"destination"`
	Channel     int    `json:"channel"`
	Text        string `json:"text"`
}

// sendText forwards a text message to the connected radio.
func (s *Server) sendText(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Text == "" {
		s.fail(w, http.StatusBadRequest, "text is required")
		return
	}
	dest, err := meshid.ToNum(req.Destination)
	if err != nil {
		s.fail(w, http.StatusBadRequest, "destination must be a full node id")
		return
	}

	iface, ok := s.slot.Get()
	if !ok {
		s.fail(w, http.StatusServiceUnavailable, "no radio connected")
		return
	}
	if err := iface.SendText(r.Context(), dest, req.Channel, req.Text); err != nil {
		s.log.Warn("send text failed", "destination", req.Destination, "error", err)
		s.fail(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.ok(w, map[string]any{"destination": req.Destination, "channel": req.Channel})
}
