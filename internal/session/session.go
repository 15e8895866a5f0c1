// Package session keeps the open editing sessions of flows: one store with
// its visual adapter per flow, serialised behind a mutex, persisted through a
// gateway and streamed to websocket subscribers.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/metrics"
	"github.com/deployflow/engine/internal/models"
	"github.com/deployflow/engine/internal/progress"
	"github.com/deployflow/engine/internal/visual"
	appErr "github.com/deployflow/engine/pkg/errors"
	"github.com/deployflow/engine/pkg/logger"
)

// Validation is the deployability of the current graph.
type Validation struct {
	Deployable   bool        `json:"deployable"`
	MissingRoles []flow.Role `json:"missingRoles"`
}

// Header holds the editable flow-level fields. Nil fields are left alone.
type Header struct {
	Name             *string
	Description      *string
	DeploymentConfig *flow.DeploymentConfig
}

type insertKey struct {
	role     flow.Role
	label    string
	pos      flow.Position
	toolType string
}

// Session is the live editing state of one flow.
type Session struct {
	mu sync.Mutex

	owner   uuid.UUID
	header  flow.Document
	store   *flow.Store
	adapter *visual.Adapter
	hub     *Hub

	catalog *catalog.Catalog
	metrics *metrics.Metrics
	gateway Gateway
	now     func() time.Time

	debounce   time.Duration
	lastKey    insertKey
	lastAt     time.Time
	lastNodeID string

	revision int
	saved    int
	lastUsed time.Time

	unsubscribe func()
}

func newSession(doc *flow.Document, owner uuid.UUID, m *Manager) (*Session, error) {
	store, err := doc.Store()
	if err != nil {
		return nil, err
	}

	s := &Session{
		owner:    owner,
		header:   *doc,
		store:    store,
		hub:      NewHub(),
		catalog:  m.catalog,
		metrics:  m.metrics,
		gateway:  m.gateway,
		now:      m.now,
		debounce: m.opts.InsertDebounce,
	}
	s.header.Nodes, s.header.Connections = nil, nil
	s.lastUsed = s.now()

	s.adapter = visual.Attach(store, m.catalog, s.hub)
	s.unsubscribe = store.Subscribe(s.observe)
	return s, nil
}

// ID returns the flow id.
func (s *Session) ID() string { return s.header.ID }

// Owner returns the user the session was opened for.
func (s *Session) Owner() uuid.UUID { return s.owner }

// observe runs inside store dispatch, with s.mu held by the mutating caller.
func (s *Session) observe(e flow.Event) {
	s.metrics.ObserveEvent(e)
	if e.Kind == flow.EventSelectionChanged {
		return
	}
	s.revision++

	switch e.Kind {
	case flow.EventNodeInserted, flow.EventNodeRemoved, flow.EventNodeStatus, flow.EventStatusesReset:
		meta := e.Metadata
		v := s.validation()
		s.hub.Broadcast(Message{Type: MessageMetadata, Metadata: &meta, Validation: &v})
	}
}

func (s *Session) touch() { s.lastUsed = s.now() }

func (s *Session) reject(op string, err error) error {
	if err != nil {
		s.metrics.RecordRejection(op, err)
	}
	return err
}

// InsertNode adds a node. An empty label takes the catalog label of the role,
// or of the tool for optional nodes. An insert identical to the previous one
// arriving within the debounce window is dropped and the earlier node returned.
func (s *Session) InsertNode(role flow.Role, label string, pos flow.Position, toolType string) (flow.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	if label == "" {
		label = s.defaultLabel(role, toolType)
	}
	key := insertKey{role: role, label: label, pos: pos, toolType: toolType}
	now := s.now()
	if s.debounce > 0 && key == s.lastKey && now.Sub(s.lastAt) < s.debounce {
		if n, ok := s.store.Node(s.lastNodeID); ok {
			logger.L().Debug("duplicate insert dropped", zap.String("flow_id", s.ID()), zap.String("node_id", n.ID))
			return n, nil
		}
	}

	n, err := s.store.InsertNode(role, label, pos, toolType)
	if err != nil {
		return flow.Node{}, s.reject("insert_node", err)
	}
	s.lastKey, s.lastAt, s.lastNodeID = key, now, n.ID
	return n, nil
}

func (s *Session) defaultLabel(role flow.Role, toolType string) string {
	if role == flow.RoleOptional {
		if t, ok := s.catalog.Tool(toolType); ok {
			return t.Label
		}
		return toolType
	}
	if e, ok := s.catalog.Lookup(role); ok {
		return e.Label
	}
	return string(role)
}

func (s *Session) RemoveNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.reject("remove_node", s.store.RemoveNode(id))
}

func (s *Session) MoveNode(id string, pos flow.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.reject("move_node", s.store.MoveNode(id, pos))
}

// SetNodeConfiguration sets one field, which must be listed by the catalog
// for the node's role.
func (s *Session) SetNodeConfiguration(id, field, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	n, ok := s.store.Node(id)
	if !ok {
		return s.reject("set_configuration", s.store.SetNodeConfiguration(id, field, value))
	}
	if !s.catalog.HasField(n.Role, field) {
		err := appErr.New(appErr.CodeInvalid, fmt.Sprintf("field %q is not valid for role %s", field, n.Role)).
			WithMeta("node_id", id).WithMeta("field", field)
		return s.reject("set_configuration", err)
	}
	return s.reject("set_configuration", s.store.SetNodeConfiguration(id, field, value))
}

// SelectNode makes id the active node; an empty id clears the selection.
func (s *Session) SelectNode(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	if id == "" {
		s.store.ClearSelection()
		return nil
	}
	return s.reject("select_node", s.store.SelectNode(id))
}

func (s *Session) AddConnection(from, to string) (flow.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	c, err := s.store.AddManualConnection(from, to)
	return c, s.reject("add_connection", err)
}

func (s *Session) RemoveConnection(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	return s.reject("remove_connection", s.store.RemoveConnection(id))
}

func (s *Session) SetNodeStatus(id string, status flow.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reject("set_status", s.store.SetNodeStatus(id, status))
}

// Reset puts every node back to pending and the flow back to draft.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	s.store.ResetStatuses()
	s.header.Status = flow.FlowDraft
}

// UpdateHeader changes the flow-level fields.
func (s *Session) UpdateHeader(h Header) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()

	next := s.header
	if h.Name != nil {
		next.Name = *h.Name
	}
	if h.Description != nil {
		next.Description = *h.Description
	}
	if h.DeploymentConfig != nil {
		next.DeploymentConfig = *h.DeploymentConfig
	}
	if err := next.Validate(); err != nil {
		return s.reject("update_header", err)
	}
	s.header = next
	s.revision++
	return nil
}

// Document returns the full document of the current state.
func (s *Session) Document() *flow.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.document()
}

func (s *Session) document() *flow.Document {
	doc := s.header
	doc.SetGraph(s.store)
	return &doc
}

// Graph returns the visual graph.
func (s *Session) Graph() visual.Graph {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.Graph()
}

func (s *Session) Validation() Validation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validation()
}

func (s *Session) validation() Validation {
	missing := flow.MissingRequiredRoles(s.store.Nodes())
	return Validation{Deployable: len(missing) == 0, MissingRoles: missing}
}

// AvailableTools lists the optional tools not yet on the canvas.
func (s *Session) AvailableTools() []catalog.Tool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.catalog.AvailableOptionalTools(s.store.UsedOptionalTools())
}

// Dirty reports whether the session changed since it was loaded or saved.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision != s.saved
}

// Subscribe joins the session stream. The returned snapshot is consistent
// with the first message the client receives.
func (s *Session) Subscribe(buffer int) (*Client, Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touch()
	g := s.adapter.Graph()
	meta := s.store.Metadata()
	v := s.validation()
	return s.hub.Join(buffer), Message{Type: MessageSnapshot, Graph: &g, Metadata: &meta, Validation: &v}
}

// Save persists the document. The session stays locked only while the
// document is built, so edits may continue during the write; those edits
// keep the session dirty.
func (s *Session) Save(ctx context.Context) (*flow.Document, error) {
	s.mu.Lock()
	doc := s.document()
	rev := s.revision
	s.touch()
	s.mu.Unlock()

	saved, err := s.gateway.SaveFlow(ctx, s.owner, doc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.header.Version = saved.Version
	s.header.UpdatedAt = saved.UpdatedAt
	if rev > s.saved {
		s.saved = rev
	}
	return saved, nil
}

// applyProgress mirrors a deployment update onto the session.
func (s *Session) applyProgress(u progress.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u.NodeID != "" {
		if err := s.store.SetNodeStatus(u.NodeID, u.Status); err != nil {
			logger.L().Warn("progress for unknown node", zap.String("flow_id", s.ID()), zap.String("node_id", u.NodeID), zap.Error(err))
		}
	}
	switch u.DeploymentStatus {
	case models.DeploymentRunning:
		s.header.Status = flow.FlowRunning
	case models.DeploymentCompleted:
		s.header.Status = flow.FlowCompleted
		at := u.At
		s.header.Metadata.LastDeployment = &at
	case models.DeploymentFailed:
		s.header.Status = flow.FlowFailed
		at := u.At
		s.header.Metadata.LastDeployment = &at
	}
	s.hub.Broadcast(Message{Type: MessageDeployment, Deployment: &u})
}

func (s *Session) idleSince(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed)
}

func (s *Session) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unsubscribe()
	s.adapter.Detach()
	s.hub.Close()
}
