package flow

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErr "github.com/deployflow/engine/pkg/errors"
)

// sampleStore builds five nodes joined by four auto-connections.
func sampleStore(t *testing.T) *Store {
	t.Helper()
	s := NewStore()
	frontend := mustInsert(t, s, RoleFrontend)
	backend := mustInsert(t, s, RoleBackend)
	mustInsert(t, s, RoleDatabase)
	mustInsert(t, s, RoleRepository)
	server := mustInsert(t, s, RoleServer)
	require.Len(t, s.Connections(), 4)

	require.NoError(t, s.SetNodeConfiguration(frontend.ID, "framework", "react"))
	require.NoError(t, s.SetNodeConfiguration(backend.ID, "framework", "go"))
	require.NoError(t, s.SetNodeConfiguration(backend.ID, "buildCommand", "go build ./..."))
	require.NoError(t, s.SetNodeConfiguration(server.ID, "framework", "aws"))
	require.NoError(t, s.SetNodeStatus(backend.ID, StatusSuccess))
	return s
}

func TestDocumentRoundTrip(t *testing.T) {
	s := sampleStore(t)
	doc := NewDocument("shop", "storefront")
	doc.SetGraph(s)
	require.NoError(t, doc.Validate())

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	var decoded Document
	require.NoError(t, json.Unmarshal(raw, &decoded))

	loaded, err := decoded.Store()
	require.NoError(t, err)

	assert.Equal(t, s.Nodes(), loaded.Nodes())
	assert.Equal(t, s.Connections(), loaded.Connections())
	assert.Equal(t, s.Metadata(), loaded.Metadata())
	assert.Equal(t, Metadata{TotalNodes: 5, CompletedNodes: 1}, decoded.Metadata.Metadata)
	for _, n := range s.Nodes() {
		want, _ := s.Configuration(n.ID)
		got, ok := loaded.Configuration(n.ID)
		require.True(t, ok)
		assert.Equal(t, want, got, n.ID)
	}
	assert.Equal(t, "", loaded.Selected())
}

func TestLoadResumesIDCounters(t *testing.T) {
	nodes := []NodeRecord{
		{Node: Node{ID: "node-7", Role: RoleDatabase}},
		{Node: Node{ID: "node-3", Role: RoleServer}},
	}
	conns := []Connection{{ID: "connection-3", From: "node-7", To: "node-3"}}

	s, err := Load(nodes, conns)
	require.NoError(t, err)

	n, err := s.InsertNode(RoleCICD, "ci", Position{}, "")
	require.NoError(t, err)
	assert.Equal(t, "node-8", n.ID)

	c, err := s.AddManualConnection(n.ID, "node-7")
	require.NoError(t, err)
	assert.Equal(t, "connection-4", c.ID)
}

func TestLoadNormalisesNodes(t *testing.T) {
	s, err := Load([]NodeRecord{
		{Node: Node{ID: "a", Role: RoleBackend, ToolType: "docker"}},
		{Node: Node{ID: "b", Role: RoleOptional, ToolType: "docker"}},
	}, nil)
	require.NoError(t, err)

	a, _ := s.Node("a")
	assert.Equal(t, StatusPending, a.Status)
	assert.Equal(t, "", a.ToolType)
	cfg, ok := s.Configuration("a")
	require.True(t, ok)
	assert.Empty(t, cfg)

	n, err := s.InsertNode(RoleServer, "server", Position{}, "")
	require.NoError(t, err)
	assert.Equal(t, "node-1", n.ID)
}

func TestLoadRejectsInvalidSnapshots(t *testing.T) {
	backend := NodeRecord{Node: Node{ID: "node-1", Role: RoleBackend}}
	database := NodeRecord{Node: Node{ID: "node-2", Role: RoleDatabase}}

	tests := []struct {
		name  string
		nodes []NodeRecord
		conns []Connection
		cause error
	}{
		{"empty node id", []NodeRecord{{Node: Node{Role: RoleBackend}}}, nil, ErrInvalidNode},
		{"duplicate node id", []NodeRecord{backend, backend}, nil, ErrInvalidNode},
		{"unknown role", []NodeRecord{{Node: Node{ID: "x", Role: "mainframe"}}}, nil, ErrInvalidNode},
		{"unknown status", []NodeRecord{{Node: Node{ID: "x", Role: RoleServer, Status: "done"}}}, nil, ErrInvalidNode},
		{"optional without tool", []NodeRecord{{Node: Node{ID: "x", Role: RoleOptional}}}, nil, ErrInvalidNode},
		{
			"duplicate optional tool",
			[]NodeRecord{
				{Node: Node{ID: "x", Role: RoleOptional, ToolType: "nginx"}},
				{Node: Node{ID: "y", Role: RoleOptional, ToolType: "nginx"}},
			},
			nil,
			ErrDuplicateOptionalTool,
		},
		{"empty connection id", []NodeRecord{backend, database}, []Connection{{From: "node-1", To: "node-2"}}, ErrInvalidConnection},
		{
			"duplicate connection id",
			[]NodeRecord{backend, database, {Node: Node{ID: "node-3", Role: RoleServer}}},
			[]Connection{{ID: "c", From: "node-1", To: "node-2"}, {ID: "c", From: "node-1", To: "node-3"}},
			ErrInvalidConnection,
		},
		{"dangling from", []NodeRecord{database}, []Connection{{ID: "c", From: "node-1", To: "node-2"}}, ErrNodeNotFound},
		{"dangling to", []NodeRecord{backend}, []Connection{{ID: "c", From: "node-1", To: "node-2"}}, ErrNodeNotFound},
		{"self connection", []NodeRecord{backend}, []Connection{{ID: "c", From: "node-1", To: "node-1"}}, ErrSelfConnection},
		{"hyphenated node id", []NodeRecord{{Node: Node{ID: "web-1", Role: RoleFrontend}}}, nil, ErrInvalidNode},
		{"node prefix without sequence", []NodeRecord{{Node: Node{ID: "node-x", Role: RoleFrontend}}}, nil, ErrInvalidNode},
		{
			"auto id of other endpoints",
			[]NodeRecord{backend, {Node: Node{ID: "node-2", Role: RoleServer}}},
			[]Connection{{ID: "auto-conn-node-1-node-3", From: "node-1", To: "node-2"}},
			ErrInvalidConnection,
		},
		{
			"reverse duplicate",
			[]NodeRecord{backend, database},
			[]Connection{{ID: "c1", From: "node-1", To: "node-2"}, {ID: "c2", From: "node-2", To: "node-1"}},
			ErrDuplicateConnection,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Load(tt.nodes, tt.conns)
			require.Error(t, err)
			assert.Nil(t, s)
			assert.ErrorIs(t, err, ErrInvalidSnapshot)
			assert.ErrorIs(t, err, tt.cause)
			assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
		})
	}
}

func TestDocumentValidate(t *testing.T) {
	doc := NewDocument("api", "")
	require.NoError(t, doc.Validate())
	assert.Equal(t, FlowDraft, doc.Status)
	assert.Equal(t, DefaultDeploymentConfig(), doc.DeploymentConfig)

	doc.Status = "paused"
	assert.True(t, appErr.IsCode(doc.Validate(), appErr.CodeInvalid))

	doc = NewDocument("", "")
	assert.True(t, appErr.IsCode(doc.Validate(), appErr.CodeInvalid))
}

func TestLoadAcceptsCanonicalAutoConnections(t *testing.T) {
	s, err := Load([]NodeRecord{
		{Node: Node{ID: "node-1", Role: RoleBackend}},
		{Node: Node{ID: "node-2", Role: RoleServer}},
		{Node: Node{ID: "api", Role: RoleFrontend}},
	}, []Connection{
		{ID: AutoConnectionID("node-1", "node-2"), From: "node-2", To: "node-1"},
		{ID: "edge", From: "api", To: "node-2"},
	})
	require.NoError(t, err)

	n, err := s.InsertNode(RoleDatabase, "db", Position{}, "")
	require.NoError(t, err)
	assert.Equal(t, "node-3", n.ID)

	seen := map[string]int{}
	for _, c := range s.Connections() {
		seen[c.ID]++
	}
	for id, count := range seen {
		assert.Equal(t, 1, count, id)
	}
	assert.Equal(t, 1, seen["auto-conn-node-1-node-3"])
}
