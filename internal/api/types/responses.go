package types

import (
	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/session"
	"github.com/deployflow/engine/internal/visual"
)

type APIResponse struct {
	Success bool      `json:"success"`
	Data    any       `json:"data,omitempty"`
	Error   *APIError `json:"error,omitempty"`
	Meta    *Meta     `json:"meta,omitempty"`
}

type APIError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details string         `json:"details,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

type Meta struct {
	RequestID string `json:"request_id,omitempty"`
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
	Total     int64  `json:"total,omitempty"`
}

// FlowView is an open flow as the editor needs it.
type FlowView struct {
	Document       *flow.Document     `json:"document"`
	Graph          visual.Graph       `json:"graph"`
	Validation     session.Validation `json:"validation"`
	AvailableTools []catalog.Tool     `json:"availableTools"`
}

// NodeView is the result of inserting a node.
type NodeView struct {
	Node       flow.Node          `json:"node"`
	Validation session.Validation `json:"validation"`
}

// CatalogView lists the roles and tools the editor offers.
type CatalogView struct {
	Roles           []catalog.Entry `json:"roles"`
	OptionalTools   []catalog.Tool  `json:"optionalTools"`
	ComingSoonTools []catalog.Tool  `json:"comingSoonTools"`
	AvailableTools  []catalog.Tool  `json:"availableTools,omitempty"`
}
