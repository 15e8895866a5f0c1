package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/deployflow/engine/internal/api/middleware"
	"github.com/deployflow/engine/internal/api/types"
	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/session"
)

type CatalogHandler struct {
	catalog  *catalog.Catalog
	sessions *session.Manager
}

func NewCatalogHandler(c *catalog.Catalog, sessions *session.Manager) *CatalogHandler {
	return &CatalogHandler{catalog: c, sessions: sessions}
}

// Get lists roles and tools. With ?flow_id= it also lists the optional tools
// still available in that flow.
func (h *CatalogHandler) Get(w http.ResponseWriter, r *http.Request) {
	out := types.CatalogView{
		Roles:           h.catalog.Entries(),
		OptionalTools:   h.catalog.OptionalTools(),
		ComingSoonTools: h.catalog.ComingSoonTools(),
	}

	if raw := r.URL.Query().Get("flow_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			writeErrorStr(w, http.StatusBadRequest, "invalid flow_id")
			return
		}
		s, err := h.sessions.Open(r.Context(), id, middleware.GetUserID(r.Context()))
		if err != nil {
			writeError(w, r, err)
			return
		}
		out.AvailableTools = s.AvailableTools()
	}

	writeData(w, http.StatusOK, out)
}
