package handlers

import (
	"fmt"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/deployflow/engine/internal/api/middleware"
	"github.com/deployflow/engine/internal/api/types"
	"github.com/deployflow/engine/internal/codec"
	"github.com/deployflow/engine/internal/services"
	"github.com/deployflow/engine/internal/session"
	"github.com/deployflow/engine/pkg/logger"
)

type FlowsHandler struct {
	flows    services.FlowService
	sessions *session.Manager
	codecs   *codec.Registry
}

func NewFlowsHandler(flows services.FlowService, sessions *session.Manager, codecs *codec.Registry) *FlowsHandler {
	return &FlowsHandler{flows: flows, sessions: sessions, codecs: codecs}
}

func (h *FlowsHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.flows.ListFlows(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    items,
		Meta:    &types.Meta{RequestID: middleware.GetRequestID(r.Context()), Total: int64(len(items))},
	})
}

func (h *FlowsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.FlowCreateRequest
	if !decode(w, r, &req) {
		return
	}

	s, err := h.sessions.Create(r.Context(), middleware.GetUserID(r.Context()), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, view(s))
}

// Import reads a document in the format named by ?format= or the request
// content type and stores it as a new draft.
func (h *FlowsHandler) Import(w http.ResponseWriter, r *http.Request) {
	c, err := h.codecs.Lookup(importFormat(r))
	if err != nil {
		writeError(w, r, err)
		return
	}

	doc, err := c.Parse(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, r, err)
		return
	}

	s, err := h.sessions.Import(r.Context(), middleware.GetUserID(r.Context()), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, view(s))
}

func importFormat(r *http.Request) string {
	if f := r.URL.Query().Get("format"); f != "" {
		return f
	}
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return "json"
	}
	if strings.Contains(mt, "yaml") {
		return "yaml"
	}
	return "json"
}

func (h *FlowsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	writeData(w, http.StatusOK, view(s))
}

func (h *FlowsHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req types.FlowUpdateRequest
	if !decode(w, r, &req) {
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}

	err := s.UpdateHeader(session.Header{
		Name:             req.Name,
		Description:      req.Description,
		DeploymentConfig: req.DeploymentConfig.ToConfig(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, s.Document())
}

func (h *FlowsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.flows.DeleteFlow(r.Context(), id, middleware.GetUserID(r.Context())); err != nil {
		writeError(w, r, err)
		return
	}
	h.sessions.Close(id.String())
	writeJSON(w, http.StatusOK, types.APIResponse{Success: true})
}

func (h *FlowsHandler) Save(w http.ResponseWriter, r *http.Request) {
	s, ok := h.open(w, r)
	if !ok {
		return
	}
	doc, err := s.Save(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

func (h *FlowsHandler) Versions(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.flows.ListVersions(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.APIResponse{
		Success: true,
		Data:    items,
		Meta:    &types.Meta{RequestID: middleware.GetRequestID(r.Context()), Total: int64(len(items))},
	})
}

func (h *FlowsHandler) Version(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	version, ok := pathVersion(w, r)
	if !ok {
		return
	}
	doc, err := h.flows.LoadVersion(r.Context(), id, middleware.GetUserID(r.Context()), version)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, doc)
}

// RestoreVersion makes an earlier version current and reopens the session on
// it. Unsaved edits in the open session are discarded.
func (h *FlowsHandler) RestoreVersion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	version, ok := pathVersion(w, r)
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())
	if _, err := h.flows.RestoreVersion(r.Context(), id, userID, version); err != nil {
		writeError(w, r, err)
		return
	}

	h.sessions.Close(id.String())
	s, err := h.sessions.Open(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, view(s))
}

func pathVersion(w http.ResponseWriter, r *http.Request) (int, bool) {
	v, err := strconv.Atoi(chi.URLParam(r, "version"))
	if err != nil || v < 1 {
		writeErrorStr(w, http.StatusBadRequest, "invalid version")
		return 0, false
	}
	return v, true
}

// Export writes the live document, including unsaved edits.
func (h *FlowsHandler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	c, err := h.codecs.Lookup(format)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s, ok := h.open(w, r)
	if !ok {
		return
	}

	doc := s.Document()
	w.Header().Set("Content-Type", c.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.ID+"."+c.Format()))
	w.WriteHeader(http.StatusOK)
	if err := c.Export(doc, w); err != nil {
		logger.L().Error("export flow failed", zap.String("flow_id", doc.ID), zap.String("format", c.Format()), zap.Error(err))
	}
}

// open resolves the {id} path parameter to the caller's editing session.
func (h *FlowsHandler) open(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return nil, false
	}
	s, err := h.sessions.Open(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return s, true
}

func view(s *session.Session) types.FlowView {
	return types.FlowView{
		Document:       s.Document(),
		Graph:          s.Graph(),
		Validation:     s.Validation(),
		AvailableTools: s.AvailableTools(),
	}
}
