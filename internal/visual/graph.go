// Package visual projects a flow's domain graph onto the node/edge model the
// canvas renders. The projection is one-directional: visual state is only ever
// written from store events.
package visual

import (
	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
)

// NodeType is the canvas renderer used for every component node.
const NodeType = "custom"

// NodeData is what the canvas shows inside a node.
type NodeData struct {
	Label     string      `json:"label"`
	Role      flow.Role   `json:"role"`
	Icon      string      `json:"icon"`
	Color     string      `json:"color"`
	Status    flow.Status `json:"status"`
	ToolType  string      `json:"toolType,omitempty"`
	Framework string      `json:"framework,omitempty"`
}

// Node is a visual node.
type Node struct {
	ID       string        `json:"id"`
	Type     string        `json:"type"`
	Position flow.Position `json:"position"`
	Data     NodeData      `json:"data"`
	Selected bool          `json:"selected"`
}

// Style is the stroke of a visual edge.
type Style struct {
	Stroke          string  `json:"stroke,omitempty"`
	StrokeWidth     float64 `json:"strokeWidth,omitempty"`
	StrokeDasharray string  `json:"strokeDasharray,omitempty"`
}

// Edge is a visual edge.
type Edge struct {
	ID       string `json:"id"`
	Source   string `json:"source"`
	Target   string `json:"target"`
	Type     string `json:"type"`
	Animated bool   `json:"animated"`
	Style    Style  `json:"style"`
}

// Graph is a full visual graph, nodes and edges in domain order.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Project derives the visual graph of s from scratch.
func Project(s *flow.Store, c *catalog.Catalog) Graph {
	g := Graph{Nodes: []Node{}, Edges: []Edge{}}
	roles := map[string]flow.Role{}
	for _, n := range s.Nodes() {
		cfg, _ := s.Configuration(n.ID)
		vn := newNode(c, n, cfg["framework"])
		vn.Selected = n.ID == s.Selected()
		g.Nodes = append(g.Nodes, vn)
		roles[n.ID] = n.Role
	}
	for _, conn := range s.Connections() {
		g.Edges = append(g.Edges, newEdge(c, conn, roles))
	}
	return g
}

func newNode(c *catalog.Catalog, n flow.Node, framework string) Node {
	vn := Node{
		ID:       n.ID,
		Type:     NodeType,
		Position: n.Position,
		Data: NodeData{
			Label:     n.Label,
			Role:      n.Role,
			Status:    n.Status,
			ToolType:  n.ToolType,
			Framework: framework,
		},
	}
	if e, ok := c.Lookup(n.Role); ok {
		vn.Data.Icon = e.Icon
		vn.Data.Color = e.Color
	}
	return vn
}

// newEdge styles auto-connections by the roles they join. Manual connections
// always get the default style.
func newEdge(c *catalog.Catalog, conn flow.Connection, roles map[string]flow.Role) Edge {
	style := c.DefaultEdgeStyle()
	if conn.Auto() {
		style = c.EdgeStyle(roles[conn.From], roles[conn.To])
	}
	return Edge{
		ID:       conn.ID,
		Source:   conn.From,
		Target:   conn.To,
		Type:     style.Type,
		Animated: style.Animated,
		Style: Style{
			Stroke:          style.Stroke,
			StrokeWidth:     style.StrokeWidth,
			StrokeDasharray: style.DashArray,
		},
	}
}
