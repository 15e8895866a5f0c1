package flow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/deployflow/engine/pkg/errors"
)

func mustInsert(t *testing.T, s *Store, role Role) Node {
	t.Helper()
	n, err := s.InsertNode(role, string(role), Position{}, "")
	require.NoError(t, err)
	return n
}

func mustInsertTool(t *testing.T, s *Store, tool string) Node {
	t.Helper()
	n, err := s.InsertNode(RoleOptional, tool, Position{}, tool)
	require.NoError(t, err)
	return n
}

type recorder struct {
	events []Event
}

func (r *recorder) listen(e Event) { r.events = append(r.events, e) }

// state captures everything a rejected mutation must leave untouched.
type state struct {
	nodes    []Node
	conns    []Connection
	records  []NodeRecord
	selected string
	meta     Metadata
}

func capture(s *Store) state {
	records, _ := s.Export()
	return state{nodes: s.Nodes(), conns: s.Connections(), records: records, selected: s.Selected(), meta: s.Metadata()}
}

func TestInsertNodeDefaults(t *testing.T) {
	s := NewStore()
	n, err := s.InsertNode(RoleBackend, "Backend", Position{X: 500, Y: 300}, "")
	require.NoError(t, err)

	assert.Equal(t, "node-1", n.ID)
	assert.Equal(t, StatusPending, n.Status)
	assert.Equal(t, Position{X: 500, Y: 300}, n.Position)

	cfg, ok := s.Configuration(n.ID)
	require.True(t, ok)
	assert.Empty(t, cfg)
	assert.Equal(t, Metadata{TotalNodes: 1}, s.Metadata())
}

func TestInsertBackendThenDatabaseConnectsOnce(t *testing.T) {
	s := NewStore()
	backend := mustInsert(t, s, RoleBackend)
	database := mustInsert(t, s, RoleDatabase)

	conns := s.Connections()
	require.Len(t, conns, 1)
	assert.Equal(t, backend.ID, conns[0].From)
	assert.Equal(t, database.ID, conns[0].To)
	assert.True(t, conns[0].Auto())

	assert.Empty(t, Resolve(s.Nodes(), s.Connections(), database, s.Selected()))
}

func TestManualConnectionDuplicateOfAutoConnection(t *testing.T) {
	s := NewStore()
	frontend := mustInsert(t, s, RoleFrontend)
	backend := mustInsert(t, s, RoleBackend)
	before := capture(s)

	_, err := s.AddManualConnection(backend.ID, frontend.ID)
	require.ErrorIs(t, err, ErrDuplicateConnection)
	assert.True(t, appErr.IsCode(err, appErr.CodeConflict))
	assert.Equal(t, before, capture(s))
}

func TestManualConnectionRejections(t *testing.T) {
	s := NewStore()
	db := mustInsert(t, s, RoleDatabase)
	server := mustInsert(t, s, RoleServer)
	before := capture(s)

	_, err := s.AddManualConnection(db.ID, db.ID)
	require.ErrorIs(t, err, ErrSelfConnection)

	_, err = s.AddManualConnection(db.ID, "node-42")
	require.ErrorIs(t, err, ErrNodeNotFound)

	_, err = s.AddManualConnection("node-42", server.ID)
	require.ErrorIs(t, err, ErrNodeNotFound)

	assert.Equal(t, before, capture(s))

	c, err := s.AddManualConnection(db.ID, server.ID)
	require.NoError(t, err)
	assert.Equal(t, Connection{ID: "connection-1", From: db.ID, To: server.ID}, c)
	assert.False(t, c.Auto())

	_, err = s.AddManualConnection(server.ID, db.ID)
	require.ErrorIs(t, err, ErrDuplicateConnection)
}

func TestRemoveNodeCascades(t *testing.T) {
	s := NewStore()
	repo := mustInsert(t, s, RoleRepository)
	cicd := mustInsert(t, s, RoleCICD)
	require.Len(t, s.Connections(), 1)
	require.NoError(t, s.SetNodeConfiguration(repo.ID, "framework", "github"))
	total := s.Metadata().TotalNodes

	rec := &recorder{}
	s.Subscribe(rec.listen)
	require.NoError(t, s.RemoveNode(repo.ID))

	assert.Empty(t, s.Connections())
	_, ok := s.Node(repo.ID)
	assert.False(t, ok)
	_, ok = s.Configuration(repo.ID)
	assert.False(t, ok)
	assert.Equal(t, total-1, s.Metadata().TotalNodes)
	assert.Equal(t, []Node{cicd}, s.Nodes())

	require.Len(t, rec.events, 1)
	e := rec.events[0]
	assert.Equal(t, EventNodeRemoved, e.Kind)
	assert.Equal(t, repo.ID, e.NodeID)
	assert.Equal(t, []string{AutoConnectionID(repo.ID, cicd.ID)}, e.RemovedConnectionIDs)
	assert.Equal(t, 1, e.Metadata.TotalNodes)
}

func TestRemoveNodeNotFound(t *testing.T) {
	s := NewStore()
	mustInsert(t, s, RoleServer)
	before := capture(s)

	err := s.RemoveNode("node-9")
	require.ErrorIs(t, err, ErrNodeNotFound)
	assert.True(t, appErr.IsCode(err, appErr.CodeNotFound))
	assert.Equal(t, before, capture(s))
}

func TestOptionalToolUniqueness(t *testing.T) {
	s := NewStore()
	first := mustInsertTool(t, s, "docker")
	before := capture(s)

	_, err := s.InsertNode(RoleOptional, "Docker", Position{}, "docker")
	require.ErrorIs(t, err, ErrDuplicateOptionalTool)
	assert.Equal(t, before, capture(s))

	mustInsertTool(t, s, "nginx")
	assert.Equal(t, map[string]bool{"docker": true, "nginx": true}, s.UsedOptionalTools())

	require.NoError(t, s.RemoveNode(first.ID))
	mustInsertTool(t, s, "docker")
}

func TestInsertNodeRejectsMalformedInput(t *testing.T) {
	s := NewStore()
	_, err := s.InsertNode(Role("mainframe"), "x", Position{}, "")
	require.ErrorIs(t, err, ErrInvalidNode)

	_, err = s.InsertNode(RoleOptional, "tool", Position{}, "")
	require.ErrorIs(t, err, ErrInvalidNode)

	_, err = s.InsertNode(RoleServer, "server", Position{}, "docker")
	require.ErrorIs(t, err, ErrInvalidNode)

	assert.Empty(t, s.Nodes())
	n := mustInsert(t, s, RoleServer)
	assert.Equal(t, "node-1", n.ID, "rejected inserts do not consume ids")
}

func TestOptionalToolAttachesToSelection(t *testing.T) {
	s := NewStore()
	backend := mustInsert(t, s, RoleBackend)

	mustInsertTool(t, s, "sentry")
	assert.Empty(t, s.Connections())

	require.NoError(t, s.SelectNode(backend.ID))
	tool := mustInsertTool(t, s, "docker")
	require.Len(t, s.Connections(), 1)
	assert.Equal(t, Connection{ID: AutoConnectionID(backend.ID, tool.ID), From: backend.ID, To: tool.ID}, s.Connections()[0])

	s.ClearSelection()
	mustInsertTool(t, s, "nginx")
	assert.Len(t, s.Connections(), 1)
}

func TestSelectNode(t *testing.T) {
	s := NewStore()
	n := mustInsert(t, s, RoleFrontend)

	require.ErrorIs(t, s.SelectNode("node-3"), ErrNodeNotFound)
	assert.Equal(t, "", s.Selected())

	rec := &recorder{}
	s.Subscribe(rec.listen)
	require.NoError(t, s.SelectNode(n.ID))
	assert.Equal(t, n.ID, s.Selected())
	s.ClearSelection()

	require.Len(t, rec.events, 2)
	assert.Equal(t, Event{Kind: EventSelectionChanged, NodeID: n.ID, Metadata: s.Metadata()}, rec.events[0])
	assert.Equal(t, Event{Kind: EventSelectionChanged, Previous: n.ID, Metadata: s.Metadata()}, rec.events[1])
}

func TestRemovingSelectedNodeClearsSelection(t *testing.T) {
	s := NewStore()
	n := mustInsert(t, s, RoleFrontend)
	require.NoError(t, s.SelectNode(n.ID))
	require.NoError(t, s.RemoveNode(n.ID))
	assert.Equal(t, "", s.Selected())
}

func TestSetNodeConfiguration(t *testing.T) {
	s := NewStore()
	db := mustInsert(t, s, RoleDatabase)
	meta := s.Metadata()

	require.NoError(t, s.SetNodeConfiguration(db.ID, "databaseType", "postgresql"))
	require.NoError(t, s.SetNodeConfiguration(db.ID, "databaseType", "mysql"))
	require.NoError(t, s.SetNodeConfiguration(db.ID, "connectionString", "mysql://db"))

	cfg, _ := s.Configuration(db.ID)
	assert.Equal(t, Configuration{"databaseType": "mysql", "connectionString": "mysql://db"}, cfg)
	assert.Equal(t, meta, s.Metadata())

	cfg["databaseType"] = "mutated"
	again, _ := s.Configuration(db.ID)
	assert.Equal(t, "mysql", again["databaseType"], "callers get a copy")

	require.ErrorIs(t, s.SetNodeConfiguration("node-5", "framework", "x"), ErrNodeNotFound)
}

func TestRemoveConnection(t *testing.T) {
	s := NewStore()
	mustInsert(t, s, RoleCICD)
	mustInsert(t, s, RoleServer)
	conn := s.Connections()[0]

	require.ErrorIs(t, s.RemoveConnection("connection-1"), ErrConnectionNotFound)
	require.NoError(t, s.RemoveConnection(conn.ID))
	assert.Empty(t, s.Connections())
	require.ErrorIs(t, s.RemoveConnection(conn.ID), ErrConnectionNotFound)
}

func TestStatusesDriveCompletedNodes(t *testing.T) {
	s := NewStore()
	a := mustInsert(t, s, RoleBackend)
	b := mustInsert(t, s, RoleDatabase)

	require.NoError(t, s.SetNodeStatus(a.ID, StatusRunning))
	assert.Equal(t, 0, s.Metadata().CompletedNodes)
	require.NoError(t, s.SetNodeStatus(a.ID, StatusSuccess))
	require.NoError(t, s.SetNodeStatus(b.ID, StatusSuccess))
	assert.Equal(t, Metadata{TotalNodes: 2, CompletedNodes: 2}, s.Metadata())

	require.NoError(t, s.RemoveNode(b.ID))
	assert.Equal(t, Metadata{TotalNodes: 1, CompletedNodes: 1}, s.Metadata())

	require.ErrorIs(t, s.SetNodeStatus(a.ID, Status("done")), ErrInvalidNode)
	require.ErrorIs(t, s.SetNodeStatus("node-9", StatusError), ErrNodeNotFound)

	rec := &recorder{}
	s.Subscribe(rec.listen)
	s.ResetStatuses()
	assert.Equal(t, Metadata{TotalNodes: 1}, s.Metadata())
	require.Len(t, rec.events, 1)
	assert.Equal(t, EventStatusesReset, rec.events[0].Kind)
	require.Len(t, rec.events[0].Nodes, 1)
	assert.Equal(t, StatusPending, rec.events[0].Nodes[0].Status)
}

func TestMoveNode(t *testing.T) {
	s := NewStore()
	n := mustInsert(t, s, RoleServer)
	require.NoError(t, s.MoveNode(n.ID, Position{X: 800, Y: 600}))
	got, _ := s.Node(n.ID)
	assert.Equal(t, Position{X: 800, Y: 600}, got.Position)
	require.ErrorIs(t, s.MoveNode("node-2", Position{}), ErrNodeNotFound)
}

func TestInsertEmitsSingleEvent(t *testing.T) {
	s := NewStore()
	mustInsert(t, s, RoleFrontend)
	mustInsert(t, s, RoleRepository)

	rec := &recorder{}
	unsubscribe := s.Subscribe(rec.listen)
	backend := mustInsert(t, s, RoleBackend)

	require.Len(t, rec.events, 1)
	e := rec.events[0]
	assert.Equal(t, EventNodeInserted, e.Kind)
	assert.Equal(t, backend, e.Node)
	assert.Len(t, e.Connections, 2)
	assert.Equal(t, Metadata{TotalNodes: 3}, e.Metadata)

	unsubscribe()
	mustInsert(t, s, RoleServer)
	assert.Len(t, rec.events, 1)
}

func TestListenerSeesCompletedMutation(t *testing.T) {
	s := NewStore()
	mustInsert(t, s, RoleBackend)

	var seen int
	s.Subscribe(func(e Event) {
		// The connection is already in place when the event arrives.
		seen = len(s.Connections())
	})
	mustInsert(t, s, RoleDatabase)
	assert.Equal(t, 1, seen)
}

func TestReentrantMutationPanics(t *testing.T) {
	s := NewStore()
	s.Subscribe(func(e Event) {
		if e.Kind == EventNodeInserted {
			_, _ = s.InsertNode(RoleServer, "server", Position{}, "")
		}
	})
	assert.Panics(t, func() { _, _ = s.InsertNode(RoleBackend, "backend", Position{}, "") })

	// The guard resets after the panic unwinds.
	s2 := NewStore()
	s2.Subscribe(func(Event) { panic("listener failure") })
	assert.Panics(t, func() { mustInsert(t, s2, RoleBackend) })
	assert.False(t, s2.dispatching)
}

func TestNodeIDsAreNeverReused(t *testing.T) {
	s := NewStore()
	a := mustInsert(t, s, RoleBackend)
	require.NoError(t, s.RemoveNode(a.ID))
	b := mustInsert(t, s, RoleBackend)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "node-2", b.ID)
}

func TestErrorsAreAppErrors(t *testing.T) {
	s := NewStore()
	err := s.RemoveNode("node-1")
	var ae *appErr.AppError
	require.True(t, errors.As(err, &ae))
	assert.Equal(t, "node-1", ae.Meta["node_id"])
}
