package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployflow/engine/internal/catalog"
	"github.com/deployflow/engine/internal/flow"
	appErr "github.com/deployflow/engine/pkg/errors"
)

type fixture struct {
	store *flow.Store
	ids   map[flow.Role]string
}

func newFixture(t *testing.T, roles ...flow.Role) *fixture {
	t.Helper()
	f := &fixture{store: flow.NewStore(), ids: map[flow.Role]string{}}
	for _, r := range roles {
		tool := ""
		if r == flow.RoleOptional {
			tool = "docker"
		}
		n, err := f.store.InsertNode(r, string(r), flow.Position{}, tool)
		require.NoError(t, err)
		f.ids[r] = n.ID
	}
	return f
}

func (f *fixture) document() *flow.Document {
	doc := flow.NewDocument("shop", "")
	doc.ID = "flow-1"
	doc.SetGraph(f.store)
	return doc
}

func TestBuildOrdersStepsByInsertion(t *testing.T) {
	f := newFixture(t, flow.RoleServer, flow.RoleFrontend, flow.RoleDatabase, flow.RoleBackend, flow.RoleOptional)
	require.NoError(t, f.store.SetNodeConfiguration(f.ids[flow.RoleServer], "framework", "aws"))
	require.NoError(t, f.store.SetNodeConfiguration(f.ids[flow.RoleDatabase], "databaseType", "postgresql"))

	p, err := NewPlanner(catalog.Default()).Build(f.document())
	require.NoError(t, err)

	assert.Equal(t, "flow-1", p.FlowID)
	assert.Equal(t, "development", p.Environment)
	assert.Equal(t, []string{"node-1", "node-2", "node-3", "node-4", "node-5"}, p.NodeIDs())

	assert.Equal(t, "deploy", p.Steps[0].Action)
	assert.Equal(t, "deploy server server (aws)", p.Steps[0].Description)
	assert.Equal(t, "provision postgresql database", p.Steps[2].Description)
	assert.Equal(t, "install", p.Steps[4].Action)
	assert.Equal(t, "docker", p.Steps[4].Settings["toolType"])
	for i, s := range p.Steps {
		assert.Equal(t, i, s.Index)
	}
}

func TestBuildRejectsUndeployableFlows(t *testing.T) {
	f := newFixture(t, flow.RoleFrontend, flow.RoleBackend)
	_, err := NewPlanner(catalog.Default()).Build(f.document())
	require.ErrorIs(t, err, ErrNotDeployable)
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
	assert.Contains(t, err.Error(), "database, server")
}

func TestBuildChecksConfiguration(t *testing.T) {
	tests := []struct {
		name  string
		role  flow.Role
		field string
		value string
	}{
		{"unknown field", flow.RoleServer, "ami", "ami-123"},
		{"value outside options", flow.RoleServer, "framework", "heroku"},
		{"field of another role", flow.RoleBackend, "stateManagement", "redux"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, flow.RoleBackend, flow.RoleDatabase, flow.RoleServer)
			require.NoError(t, f.store.SetNodeConfiguration(f.ids[tt.role], tt.field, tt.value))

			_, err := NewPlanner(catalog.Default()).Build(f.document())
			require.ErrorIs(t, err, ErrInvalidConfiguration)
			assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
		})
	}
}

func TestBuildAcceptsFreeTextAndEmptyValues(t *testing.T) {
	f := newFixture(t, flow.RoleBackend, flow.RoleDatabase, flow.RoleServer)
	require.NoError(t, f.store.SetNodeConfiguration(f.ids[flow.RoleDatabase], "connectionString", "postgres://db:5432/app"))
	require.NoError(t, f.store.SetNodeConfiguration(f.ids[flow.RoleServer], "framework", ""))
	require.NoError(t, f.store.SetNodeConfiguration(f.ids[flow.RoleBackend], "projectName", "api"))

	_, err := NewPlanner(catalog.Default()).Build(f.document())
	require.NoError(t, err)
}

func TestDatabaseCompilerRejectsMismatchedDriver(t *testing.T) {
	f := newFixture(t, flow.RoleBackend, flow.RoleDatabase, flow.RoleServer)
	db := f.ids[flow.RoleDatabase]
	require.NoError(t, f.store.SetNodeConfiguration(db, "framework", "mongoose"))
	require.NoError(t, f.store.SetNodeConfiguration(db, "databaseType", "mysql"))

	_, err := NewPlanner(catalog.Default()).Build(f.document())
	require.ErrorIs(t, err, ErrInvalidConfiguration)
}

type stubCompiler struct{ action string }

func (s stubCompiler) Validate(flow.Node, flow.Configuration) error { return nil }

func (s stubCompiler) Compile(flow.Node, flow.Configuration) (Step, error) {
	return Step{Action: s.action}, nil
}

func TestRegisterCompilerOverrides(t *testing.T) {
	f := newFixture(t, flow.RoleBackend, flow.RoleDatabase, flow.RoleServer)
	p := NewPlanner(catalog.Default())
	p.RegisterCompiler(flow.RoleServer, stubCompiler{action: "ship"})

	plan, err := p.Build(f.document())
	require.NoError(t, err)
	assert.Equal(t, "ship", plan.Steps[2].Action)
	assert.Equal(t, "node-3", plan.Steps[2].NodeID)
}

func TestBuildRejectsBrokenSnapshots(t *testing.T) {
	doc := flow.NewDocument("broken", "")
	doc.Nodes = []flow.NodeRecord{{Node: flow.Node{ID: "a", Role: flow.RoleBackend}}}
	doc.Connections = []flow.Connection{{ID: "c", From: "a", To: "b"}}

	_, err := NewPlanner(catalog.Default()).Build(doc)
	require.ErrorIs(t, err, flow.ErrInvalidSnapshot)
}
