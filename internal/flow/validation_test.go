package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissingRequiredRoles(t *testing.T) {
	tests := []struct {
		name  string
		roles []Role
		want  []Role
	}{
		{"empty flow", nil, []Role{RoleBackend, RoleDatabase, RoleServer}},
		{"frontend only", []Role{RoleFrontend}, []Role{RoleBackend, RoleDatabase, RoleServer}},
		{"missing server", []Role{RoleDatabase, RoleBackend}, []Role{RoleServer}},
		{"complete", []Role{RoleServer, RoleBackend, RoleDatabase}, []Role{}},
		{"complete with extras", []Role{RoleFrontend, RoleBackend, RoleDatabase, RoleCICD, RoleServer, RoleOptional}, []Role{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var nodes []Node
			for i, r := range tt.roles {
				nodes = append(nodes, node(string(rune('a'+i)), r))
			}
			got := MissingRequiredRoles(nodes)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, len(tt.want) == 0, IsDeployable(nodes))
		})
	}
}

func TestDeployabilityFollowsTheStore(t *testing.T) {
	s := NewStore()
	mustInsert(t, s, RoleBackend)
	mustInsert(t, s, RoleDatabase)
	assert.False(t, IsDeployable(s.Nodes()))

	server := mustInsert(t, s, RoleServer)
	assert.True(t, IsDeployable(s.Nodes()))

	_ = s.RemoveNode(server.ID)
	assert.Equal(t, []Role{RoleServer}, MissingRequiredRoles(s.Nodes()))
}
