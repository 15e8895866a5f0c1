package codec

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deployflow/engine/internal/flow"
	appErr "github.com/deployflow/engine/pkg/errors"
)

func sampleDocument(t *testing.T) *flow.Document {
	t.Helper()
	s := flow.NewStore()
	backend, err := s.InsertNode(flow.RoleBackend, "API", flow.Position{X: 120, Y: 80}, "")
	require.NoError(t, err)
	_, err = s.InsertNode(flow.RoleDatabase, "DB", flow.Position{X: 320, Y: 80}, "")
	require.NoError(t, err)
	require.NoError(t, s.SelectNode(backend.ID))
	_, err = s.InsertNode(flow.RoleOptional, "Docker", flow.Position{X: 120, Y: 240}, "docker")
	require.NoError(t, err)
	require.NoError(t, s.SetNodeConfiguration(backend.ID, "framework", "go"))

	doc := flow.NewDocument("payments", "card processing")
	doc.ID = "6f1c1f3e-0000-4000-8000-000000000001"
	doc.CreatedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	doc.UpdatedAt = doc.CreatedAt
	doc.SetGraph(s)
	return doc
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			c, err := Default().Lookup(format)
			require.NoError(t, err)

			doc := sampleDocument(t)
			var buf bytes.Buffer
			require.NoError(t, c.Export(doc, &buf))

			got, err := c.Parse(&buf)
			require.NoError(t, err)

			assert.Equal(t, doc.ID, got.ID)
			assert.Equal(t, doc.Name, got.Name)
			assert.Equal(t, doc.DeploymentConfig, got.DeploymentConfig)
			assert.Equal(t, doc.Nodes, got.Nodes)
			assert.Equal(t, doc.Connections, got.Connections)
			assert.Equal(t, doc.Metadata.Metadata, got.Metadata.Metadata)
			assert.True(t, doc.CreatedAt.Equal(got.CreatedAt))

			s, err := got.Store()
			require.NoError(t, err)
			assert.Len(t, s.Connections(), 2)
		})
	}
}

func TestYAMLKeepsToolTypeOnlyOnOptionalNodes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewYAMLCodec().Export(sampleDocument(t), &buf))
	out := buf.String()
	assert.Equal(t, 1, strings.Count(out, "toolType:"))
	assert.Contains(t, out, "framework: go")
}

func TestParseFillsDefaults(t *testing.T) {
	doc, err := NewYAMLCodec().Parse(strings.NewReader("name: bare\nnodes:\n  - id: node-1\n    role: server\n"))
	require.NoError(t, err)
	assert.Equal(t, flow.FlowDraft, doc.Status)
	assert.NotNil(t, doc.Connections)
	require.Len(t, doc.Nodes, 1)
	assert.NotNil(t, doc.Nodes[0].Configuration)
	assert.Equal(t, flow.RoleServer, doc.Nodes[0].Role)
}

func TestParseErrorsAreInvalid(t *testing.T) {
	_, err := NewJSONCodec().Parse(strings.NewReader("{"))
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))

	_, err = NewYAMLCodec().Parse(strings.NewReader("nodes: [: :"))
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}

func TestRegistryLookup(t *testing.T) {
	r := Default()
	assert.Equal(t, []string{"json", "yaml"}, r.Formats())

	c, err := r.Lookup(" YML ")
	require.NoError(t, err)
	assert.Equal(t, "yaml", c.Format())

	_, err = r.Lookup("hcl")
	assert.True(t, appErr.IsCode(err, appErr.CodeInvalid))
}
