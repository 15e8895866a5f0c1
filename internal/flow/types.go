// Package flow holds the domain graph of a deployment flow: component nodes,
// the connections between them, per-node configuration, and the rules that
// keep them consistent as nodes come and go.
package flow

import "strings"

// Role is the architectural category of a component node.
type Role string

const (
	RoleFrontend   Role = "frontend"
	RoleBackend    Role = "backend"
	RoleDatabase   Role = "database"
	RoleRepository Role = "repository"
	RoleCICD       Role = "cicd"
	RoleServer     Role = "server"
	RoleOptional   Role = "optional"
)

// Roles lists every role in declaration order.
var Roles = []Role{RoleFrontend, RoleBackend, RoleDatabase, RoleRepository, RoleCICD, RoleServer, RoleOptional}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	for _, known := range Roles {
		if r == known {
			return true
		}
	}
	return false
}

// Status is the deployment status of a node.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusRunning, StatusSuccess, StatusError:
		return true
	}
	return false
}

// Position is a canvas coordinate. It has no meaning to the domain graph.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Node is a component placed on the canvas.
type Node struct {
	ID       string   `json:"id" yaml:"id"`
	Role     Role     `json:"role" yaml:"role"`
	Label    string   `json:"label" yaml:"label"`
	Position Position `json:"position" yaml:"position"`
	Status   Status   `json:"status" yaml:"status"`
	ToolType string   `json:"toolType,omitempty" yaml:"toolType,omitempty"`
}

// Connection links two nodes. From and To keep their direction for rendering,
// but two connections over the same pair of nodes are the same connection.
type Connection struct {
	ID   string `json:"id" yaml:"id"`
	From string `json:"from" yaml:"from"`
	To   string `json:"to" yaml:"to"`
}

// Touches reports whether the connection has nodeID as an endpoint.
func (c Connection) Touches(nodeID string) bool {
	return c.From == nodeID || c.To == nodeID
}

// Joins reports whether the connection links a and b, in either direction.
func (c Connection) Joins(a, b string) bool {
	return (c.From == a && c.To == b) || (c.From == b && c.To == a)
}

// Pair is the unordered endpoint pair of the connection.
func (c Connection) Pair() Pair {
	return NewPair(c.From, c.To)
}

// Auto reports whether the connection was created by auto-connect.
func (c Connection) Auto() bool {
	return strings.HasPrefix(c.ID, autoConnectionPrefix)
}

// Pair is an unordered pair of node ids, stored sorted.
type Pair struct {
	A, B string
}

// NewPair sorts the two ids into a Pair.
func NewPair(a, b string) Pair {
	if b < a {
		a, b = b, a
	}
	return Pair{A: a, B: b}
}

// Configuration is the free-form key/value settings of one node.
type Configuration map[string]string

// Clone returns an independent copy.
func (c Configuration) Clone() Configuration {
	out := make(Configuration, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Metadata is derived from the node set and never set directly.
type Metadata struct {
	TotalNodes     int `json:"totalNodes" yaml:"totalNodes"`
	CompletedNodes int `json:"completedNodes" yaml:"completedNodes"`
}

// ComputeMetadata derives Metadata from nodes.
func ComputeMetadata(nodes []Node) Metadata {
	m := Metadata{TotalNodes: len(nodes)}
	for _, n := range nodes {
		if n.Status == StatusSuccess {
			m.CompletedNodes++
		}
	}
	return m
}
