package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

func (s *Server) listNodes(w http.ResponseWriter, r *http.Request) {
	nodes, err := s.store.Nodes(r.Context())
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"count": len(nodes), "nodes": nodes})
}

func (s *Server) getNode(w http.ResponseWriter, r *http.Request) {
	node, err := s.store.Node(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"node": node})
}

func (s *Server) getNodePackets(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 100)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	packets, err := s.store.NodePackets(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"count": len(packets), "packets": packets})
}

func (s *Server) getNodeNeighbors(w http.ResponseWriter, r *http.Request) {
	neighbors, err := s.store.Neighbors(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"count": len(neighbors), "neighbors": neighbors})
}

func (s *Server) getNodeTraceroutes(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	traceroutes, err := s.store.TraceroutesByNode(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.storeError(w, err)
		return
	}
	s.ok(w, map[string]any{"count": len(traceroutes), "traceroutes": traceroutes})
}

// setIgnored toggles the node's ignore flag; ignored nodes keep
// ingesting but are skipped by schedulers.
func (s *Server) setIgnored(ignored bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		changed, err := s.store.SetNodeIgnored(r.Context(), id, ignored)
		if err != nil {
			s.storeError(w, err)
			return
		}
		if !changed {
			s.fail(w, http.StatusNotFound, "not found")
			return
		}
		s.ok(w, map[string]any{"node_id": id, "is_ignored": ignored})
	}
}
