package handlers

import (
	"net/http"

	"github.com/deployflow/engine/internal/api/middleware"
	"github.com/deployflow/engine/internal/api/types"
	"github.com/deployflow/engine/internal/services"
	"github.com/deployflow/engine/internal/session"
)

type DeploymentsHandler struct {
	deploys  services.DeploymentService
	sessions *session.Manager
}

func NewDeploymentsHandler(deploys services.DeploymentService, sessions *session.Manager) *DeploymentsHandler {
	return &DeploymentsHandler{deploys: deploys, sessions: sessions}
}

func (h *DeploymentsHandler) List(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	items, err := h.deploys.ListDeployments(r.Context(), id, middleware.GetUserID(r.Context()))
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

func (h *DeploymentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "deploymentID")
	if !ok {
		return
	}
	d, err := h.deploys.GetDeployment(r.Context(), id, middleware.GetUserID(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, d)
}

// Create deploys the flow as it is in the editor: unsaved edits are saved
// first, and every node starts from pending.
func (h *DeploymentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	s, err := h.sessions.Open(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if s.Dirty() {
		if _, err := s.Save(r.Context()); err != nil {
			writeError(w, r, err)
			return
		}
	}

	d, err := h.deploys.StartDeployment(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Reset()
	writeData(w, http.StatusAccepted, d)
}

// Reset returns a finished flow to draft with every node pending.
func (h *DeploymentsHandler) Reset(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	userID := middleware.GetUserID(r.Context())

	if err := h.deploys.ResetDeployment(r.Context(), id, userID); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.sessions.Open(r.Context(), id, userID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.Reset()
	writeData(w, http.StatusOK, view(s))
}
