package flow

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	nodeIDPrefix       = "node-"
	manualConnIDPrefix = "connection-"
)

// Store owns the domain graph of one flow. Every mutation either applies
// completely, recomputes Metadata and emits exactly one Event, or is rejected
// and leaves the store untouched.
//
// Store is not safe for concurrent use; callers serialise access. Listeners
// run synchronously and must not call back into mutating methods.
type Store struct {
	nodes    []Node
	conns    []Connection
	config   map[string]Configuration
	selected string
	meta     Metadata

	nextNode int
	nextConn int

	listeners   []subscription
	nextSub     int
	dispatching bool
}

type subscription struct {
	id int
	fn Listener
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		config:   map[string]Configuration{},
		nextNode: 1,
		nextConn: 1,
	}
}

// Subscribe registers l for every subsequent event and returns a function
// that removes it.
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.nextSub++
	id := s.nextSub
	s.listeners = append(s.listeners, subscription{id: id, fn: l})
	return func() {
		for i, sub := range s.listeners {
			if sub.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

// InsertNode places a new node, allocates its empty configuration, applies
// the auto-connect rules and emits node_inserted.
func (s *Store) InsertNode(role Role, label string, pos Position, toolType string) (Node, error) {
	s.guard()
	if !role.Valid() {
		return Node{}, invalidNode(fmt.Sprintf("unknown role %q", role))
	}
	if role == RoleOptional {
		if toolType == "" {
			return Node{}, invalidNode("optional node requires a tool type")
		}
		if s.optionalInUse(toolType) {
			return Node{}, duplicateOptionalTool(toolType)
		}
	} else if toolType != "" {
		return Node{}, invalidNode(fmt.Sprintf("role %q does not take a tool type", role))
	}

	n := Node{
		ID:       s.allocNodeID(),
		Role:     role,
		Label:    label,
		Position: pos,
		Status:   StatusPending,
		ToolType: toolType,
	}
	s.nodes = append(s.nodes, n)
	s.config[n.ID] = Configuration{}

	created := Resolve(s.nodes, s.conns, n, s.selected)
	s.conns = append(s.conns, created...)
	s.recompute()

	s.emit(Event{Kind: EventNodeInserted, Node: n, Connections: created})
	return n, nil
}

// RemoveNode deletes a node together with every connection touching it and
// its configuration, then emits node_removed.
func (s *Store) RemoveNode(id string) error {
	s.guard()
	i := s.indexOf(id)
	if i < 0 {
		return nodeNotFound(id)
	}

	removed := []string{}
	kept := s.conns[:0:0]
	for _, c := range s.conns {
		if c.Touches(id) {
			removed = append(removed, c.ID)
			continue
		}
		kept = append(kept, c)
	}
	s.conns = kept
	s.nodes = append(s.nodes[:i:i], s.nodes[i+1:]...)
	delete(s.config, id)
	if s.selected == id {
		s.selected = ""
	}
	s.recompute()

	s.emit(Event{Kind: EventNodeRemoved, NodeID: id, RemovedConnectionIDs: removed})
	return nil
}

// AddManualConnection links two nodes on explicit user request.
func (s *Store) AddManualConnection(fromID, toID string) (Connection, error) {
	s.guard()
	if s.indexOf(fromID) < 0 {
		return Connection{}, nodeNotFound(fromID)
	}
	if s.indexOf(toID) < 0 {
		return Connection{}, nodeNotFound(toID)
	}
	if fromID == toID {
		return Connection{}, selfConnection(fromID)
	}
	if s.connected(fromID, toID) {
		return Connection{}, duplicateConnection(fromID, toID)
	}

	c := Connection{ID: s.allocConnID(), From: fromID, To: toID}
	s.conns = append(s.conns, c)

	s.emit(Event{Kind: EventConnectionAdded, Connections: []Connection{c}})
	return c, nil
}

// RemoveConnection deletes one connection, auto-created or manual.
func (s *Store) RemoveConnection(id string) error {
	s.guard()
	for i, c := range s.conns {
		if c.ID != id {
			continue
		}
		s.conns = append(s.conns[:i:i], s.conns[i+1:]...)
		s.emit(Event{Kind: EventConnectionRemoved, RemovedConnectionIDs: []string{id}})
		return nil
	}
	return connectionNotFound(id)
}

// SetNodeConfiguration upserts one configuration field of a node.
func (s *Store) SetNodeConfiguration(nodeID, field, value string) error {
	s.guard()
	cfg, ok := s.config[nodeID]
	if !ok {
		return nodeNotFound(nodeID)
	}
	cfg[field] = value
	s.emit(Event{Kind: EventConfigurationSet, NodeID: nodeID, Field: field, Value: value})
	return nil
}

// SelectNode makes id the active node. Optional tools inserted while a node is
// active attach to it.
func (s *Store) SelectNode(id string) error {
	s.guard()
	if s.indexOf(id) < 0 {
		return nodeNotFound(id)
	}
	s.setSelected(id)
	return nil
}

// ClearSelection leaves no node active.
func (s *Store) ClearSelection() {
	s.guard()
	s.setSelected("")
}

func (s *Store) setSelected(id string) {
	prev := s.selected
	s.selected = id
	s.emit(Event{Kind: EventSelectionChanged, NodeID: id, Previous: prev})
}

// SetNodeStatus records deployment progress of a node.
func (s *Store) SetNodeStatus(id string, status Status) error {
	s.guard()
	if !status.Valid() {
		return invalidNode(fmt.Sprintf("unknown status %q", status))
	}
	i := s.indexOf(id)
	if i < 0 {
		return nodeNotFound(id)
	}
	s.nodes[i].Status = status
	s.recompute()
	s.emit(Event{Kind: EventNodeStatus, Node: s.nodes[i]})
	return nil
}

// ResetStatuses puts every node back to pending.
func (s *Store) ResetStatuses() {
	s.guard()
	var changed []Node
	for i := range s.nodes {
		if s.nodes[i].Status == StatusPending {
			continue
		}
		s.nodes[i].Status = StatusPending
		changed = append(changed, s.nodes[i])
	}
	s.recompute()
	s.emit(Event{Kind: EventStatusesReset, Nodes: changed})
}

// MoveNode records a new canvas position. Only the visual layer calls it.
func (s *Store) MoveNode(id string, pos Position) error {
	s.guard()
	i := s.indexOf(id)
	if i < 0 {
		return nodeNotFound(id)
	}
	s.nodes[i].Position = pos
	s.emit(Event{Kind: EventNodeMoved, Node: s.nodes[i]})
	return nil
}

// Nodes returns the live nodes in insertion order.
func (s *Store) Nodes() []Node {
	return append([]Node(nil), s.nodes...)
}

// Node returns the node with id.
func (s *Store) Node(id string) (Node, bool) {
	if i := s.indexOf(id); i >= 0 {
		return s.nodes[i], true
	}
	return Node{}, false
}

// Connections returns the live connections in creation order.
func (s *Store) Connections() []Connection {
	return append([]Connection(nil), s.conns...)
}

// Configuration returns a copy of a node's configuration.
func (s *Store) Configuration(nodeID string) (Configuration, bool) {
	cfg, ok := s.config[nodeID]
	if !ok {
		return nil, false
	}
	return cfg.Clone(), true
}

// Selected returns the active node id, or "" when nothing is selected.
func (s *Store) Selected() string { return s.selected }

// Metadata returns the derived flow metadata.
func (s *Store) Metadata() Metadata { return s.meta }

// UsedOptionalTools returns the tool types currently on the canvas.
func (s *Store) UsedOptionalTools() map[string]bool {
	used := map[string]bool{}
	for _, n := range s.nodes {
		if n.Role == RoleOptional {
			used[n.ToolType] = true
		}
	}
	return used
}

func (s *Store) guard() {
	if s.dispatching {
		panic("flow: store mutated from inside an event listener")
	}
}

func (s *Store) emit(e Event) {
	e.Metadata = s.meta
	s.dispatching = true
	defer func() { s.dispatching = false }()
	for _, sub := range append([]subscription(nil), s.listeners...) {
		sub.fn(e)
	}
}

func (s *Store) recompute() {
	s.meta = ComputeMetadata(s.nodes)
}

func (s *Store) indexOf(id string) int {
	for i, n := range s.nodes {
		if n.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) connected(a, b string) bool {
	for _, c := range s.conns {
		if c.Joins(a, b) {
			return true
		}
	}
	return false
}

func (s *Store) optionalInUse(toolType string) bool {
	for _, n := range s.nodes {
		if n.Role == RoleOptional && n.ToolType == toolType {
			return true
		}
	}
	return false
}

func (s *Store) allocNodeID() string {
	for {
		id := nodeIDPrefix + strconv.Itoa(s.nextNode)
		s.nextNode++
		if s.indexOf(id) < 0 {
			return id
		}
	}
}

func (s *Store) allocConnID() string {
	for {
		id := manualConnIDPrefix + strconv.Itoa(s.nextConn)
		s.nextConn++
		if !s.hasConnection(id) {
			return id
		}
	}
}

func (s *Store) hasConnection(id string) bool {
	for _, c := range s.conns {
		if c.ID == id {
			return true
		}
	}
	return false
}

// sequence extracts n from ids shaped "<prefix><n>".
func sequence(id, prefix string) (int, bool) {
	rest, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}
