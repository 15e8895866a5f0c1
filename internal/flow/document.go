package flow

import (
	"fmt"
	"strings"
	"time"

	appErr "github.com/deployflow/engine/pkg/errors"
)

// FlowStatus is the lifecycle state of a whole flow.
type FlowStatus string

const (
	FlowDraft     FlowStatus = "draft"
	FlowRunning   FlowStatus = "running"
	FlowCompleted FlowStatus = "completed"
	FlowFailed    FlowStatus = "failed"
)

// Valid reports whether s is a known flow status.
func (s FlowStatus) Valid() bool {
	switch s {
	case FlowDraft, FlowRunning, FlowCompleted, FlowFailed:
		return true
	}
	return false
}

// DeploymentConfig holds the flow-wide deployment settings.
type DeploymentConfig struct {
	Environment   string `json:"environment" yaml:"environment"`
	Region        string `json:"region" yaml:"region"`
	AutoDeploy    bool   `json:"autoDeploy" yaml:"autoDeploy"`
	Notifications bool   `json:"notifications" yaml:"notifications"`
}

// DefaultDeploymentConfig is applied to new flows.
func DefaultDeploymentConfig() DeploymentConfig {
	return DeploymentConfig{Environment: "development", Region: "us-east-1", Notifications: true}
}

// NodeRecord is a node as persisted, with its configuration inline.
type NodeRecord struct {
	Node          `yaml:",inline"`
	Configuration Configuration `json:"configuration" yaml:"configuration"`
}

// DocumentMetadata is the persisted view of Metadata.
type DocumentMetadata struct {
	Metadata       `yaml:",inline"`
	LastDeployment *time.Time `json:"lastDeployment" yaml:"lastDeployment,omitempty"`
}

// Document is a serialised flow: header, graph and derived metadata.
type Document struct {
	ID               string           `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Description      string           `json:"description" yaml:"description"`
	Status           FlowStatus       `json:"status" yaml:"status"`
	DeploymentConfig DeploymentConfig `json:"deploymentConfig" yaml:"deploymentConfig"`
	Nodes            []NodeRecord     `json:"nodes" yaml:"nodes"`
	Connections      []Connection     `json:"connections" yaml:"connections"`
	Metadata         DocumentMetadata `json:"metadata" yaml:"metadata"`
	Version          int              `json:"version,omitempty" yaml:"version,omitempty"`
	CreatedAt        time.Time        `json:"createdAt" yaml:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt" yaml:"updatedAt"`
}

// NewDocument returns an empty draft.
func NewDocument(name, description string) *Document {
	now := time.Now().UTC()
	return &Document{
		Name:             name,
		Description:      description,
		Status:           FlowDraft,
		DeploymentConfig: DefaultDeploymentConfig(),
		Nodes:            []NodeRecord{},
		Connections:      []Connection{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Validate checks the flow-level fields. Graph invariants are checked by Load.
func (d *Document) Validate() error {
	if d.Name == "" {
		return appErr.New(appErr.CodeInvalid, "flow name cannot be empty")
	}
	if !d.Status.Valid() {
		return appErr.New(appErr.CodeInvalid, fmt.Sprintf("invalid flow status %q", d.Status))
	}
	return nil
}

// Store rebuilds the graph of the document.
func (d *Document) Store() (*Store, error) {
	return Load(d.Nodes, d.Connections)
}

// SetGraph replaces the graph part of the document with the store's state.
func (d *Document) SetGraph(s *Store) {
	d.Nodes, d.Connections = s.Export()
	d.Metadata.Metadata = s.Metadata()
}

// Export returns the nodes and connections in a form Load accepts.
func (s *Store) Export() ([]NodeRecord, []Connection) {
	nodes := make([]NodeRecord, 0, len(s.nodes))
	for _, n := range s.nodes {
		nodes = append(nodes, NodeRecord{Node: n, Configuration: s.config[n.ID].Clone()})
	}
	return nodes, s.Connections()
}

// Load rebuilds a store from exported nodes and connections, enforcing every
// graph invariant. Id counters resume past the highest loaded ids, so ids
// allocated later never collide with loaded ones. No events are emitted.
func Load(nodes []NodeRecord, conns []Connection) (*Store, error) {
	s := NewStore()
	tools := map[string]bool{}

	for i, rec := range nodes {
		n := rec.Node
		switch {
		case n.ID == "":
			return nil, invalidSnapshot(invalidNode(fmt.Sprintf("node at index %d has empty id", i)))
		case !loadableNodeID(n.ID):
			return nil, invalidSnapshot(invalidNode(fmt.Sprintf("node id %q may only contain a hyphen in the form %s<n>", n.ID, nodeIDPrefix)))
		case s.indexOf(n.ID) >= 0:
			return nil, invalidSnapshot(invalidNode(fmt.Sprintf("duplicate node id %q", n.ID)))
		case !n.Role.Valid():
			return nil, invalidSnapshot(invalidNode(fmt.Sprintf("node %q has unknown role %q", n.ID, n.Role)))
		}
		if n.Status == "" {
			n.Status = StatusPending
		}
		if !n.Status.Valid() {
			return nil, invalidSnapshot(invalidNode(fmt.Sprintf("node %q has unknown status %q", n.ID, n.Status)))
		}
		if n.Role == RoleOptional {
			if n.ToolType == "" {
				return nil, invalidSnapshot(invalidNode(fmt.Sprintf("optional node %q has no tool type", n.ID)))
			}
			if tools[n.ToolType] {
				return nil, invalidSnapshot(duplicateOptionalTool(n.ToolType))
			}
			tools[n.ToolType] = true
		} else {
			n.ToolType = ""
		}

		s.nodes = append(s.nodes, n)
		cfg := rec.Configuration.Clone()
		s.config[n.ID] = cfg
		if seq, ok := sequence(n.ID, nodeIDPrefix); ok && seq >= s.nextNode {
			s.nextNode = seq + 1
		}
	}

	connIDs := map[string]bool{}
	pairs := map[Pair]bool{}
	for i, c := range conns {
		switch {
		case c.ID == "":
			return nil, invalidSnapshot(invalidConnection(c.ID, fmt.Sprintf("connection at index %d has empty id", i)))
		case connIDs[c.ID]:
			return nil, invalidSnapshot(invalidConnection(c.ID, fmt.Sprintf("duplicate connection id %q", c.ID)))
		case s.indexOf(c.From) < 0:
			return nil, invalidSnapshot(nodeNotFound(c.From))
		case s.indexOf(c.To) < 0:
			return nil, invalidSnapshot(nodeNotFound(c.To))
		case c.From == c.To:
			return nil, invalidSnapshot(selfConnection(c.From))
		case pairs[c.Pair()]:
			return nil, invalidSnapshot(duplicateConnection(c.From, c.To))
		case c.Auto() && c.ID != AutoConnectionID(c.From, c.To):
			return nil, invalidSnapshot(invalidConnection(c.ID,
				fmt.Sprintf("connection %q does not match its endpoints, want %q", c.ID, AutoConnectionID(c.From, c.To))))
		}
		connIDs[c.ID] = true
		pairs[c.Pair()] = true
		s.conns = append(s.conns, c)
		if seq, ok := sequence(c.ID, manualConnIDPrefix); ok && seq >= s.nextConn {
			s.nextConn = seq + 1
		}
	}

	s.recompute()
	return s, nil
}

// loadableNodeID reports whether id can take part in a canonical
// auto-connection id without ambiguity: it either has no hyphen or is a
// store-allocated "node-<n>".
func loadableNodeID(id string) bool {
	if !strings.Contains(id, "-") {
		return true
	}
	_, ok := sequence(id, nodeIDPrefix)
	return ok
}
