package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/deployflow/engine/internal/api/types"
	"github.com/deployflow/engine/internal/flow"
)

// Graph edits on an open session. Every change is also streamed to the
// flow's websocket subscribers.

func (h *FlowsHandler) InsertNode(w http.ResponseWriter, r *http.Request) {
	var req types.NodeCreateRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}

	n, err := s.InsertNode(flow.Role(req.Role), req.Label, flow.Position{X: req.Position.X, Y: req.Position.Y}, req.ToolType)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, types.NodeView{Node: n, Validation: s.Validation()})
}

func (h *FlowsHandler) RemoveNode(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := s.RemoveNode(chi.URLParam(r, "nodeID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s.Validation())
}

func (h *FlowsHandler) MoveNode(w http.ResponseWriter, r *http.Request) {
	var req types.NodeMoveRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := s.MoveNode(chi.URLParam(r, "nodeID"), flow.Position{X: req.Position.X, Y: req.Position.Y}); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *FlowsHandler) ConfigureNode(w http.ResponseWriter, r *http.Request) {
	var req types.NodeConfigRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := s.SetNodeConfiguration(chi.URLParam(r, "nodeID"), req.Field, req.Value); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

// Select sets the active node. An empty nodeId clears the selection.
func (h *FlowsHandler) Select(w http.ResponseWriter, r *http.Request) {
	var req types.SelectionRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := s.SelectNode(req.NodeID); err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"availableTools": s.AvailableTools()})
}

func (h *FlowsHandler) AddConnection(w http.ResponseWriter, r *http.Request) {
	var req types.ConnectionCreateRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	c, err := s.AddConnection(req.From, req.To)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, c)
}

func (h *FlowsHandler) RemoveConnection(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	if err := s.RemoveConnection(chi.URLParam(r, "connID")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}
