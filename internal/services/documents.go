package services

import (
	"encoding/json"

	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/models"
	appErr "github.com/deployflow/engine/pkg/errors"
	"github.com/deployflow/engine/pkg/utils"
)

// encodedGraph is the stored form of a flow graph.
type encodedGraph struct {
	nodes       []byte
	connections []byte
	checksum    string
	totalNodes  int
}

func encodeGraph(s *flow.Store) (*encodedGraph, error) {
	nodes, conns := s.Export()
	nb, err := json.Marshal(nodes)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal nodes failed")
	}
	cb, err := json.Marshal(conns)
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "marshal connections failed")
	}
	return &encodedGraph{
		nodes:       nb,
		connections: cb,
		checksum:    utils.Checksum(nb, cb),
		totalNodes:  len(nodes),
	}, nil
}

// toDocument rebuilds the document of f from graph g. A nil g yields an empty
// graph. Stored graphs go through flow.Load so a corrupted row never reaches
// an editing session.
func toDocument(f *models.Flow, g *models.FlowGraph) (*flow.Document, error) {
	doc := &flow.Document{
		ID:               f.ID.String(),
		Name:             f.Name,
		Description:      f.Description,
		Status:           flow.FlowStatus(f.Status),
		DeploymentConfig: f.DeploymentConfig.Data(),
		Nodes:            []flow.NodeRecord{},
		Connections:      []flow.Connection{},
		CreatedAt:        f.CreatedAt,
		UpdatedAt:        f.UpdatedAt,
	}
	doc.Metadata.LastDeployment = f.LastDeploymentAt

	if g != nil {
		doc.Version = g.Version
		if len(g.Nodes) > 0 {
			if err := json.Unmarshal(g.Nodes, &doc.Nodes); err != nil {
				return nil, appErr.Wrap(err, appErr.CodeInternal, "unmarshal nodes failed")
			}
		}
		if len(g.Connections) > 0 {
			if err := json.Unmarshal(g.Connections, &doc.Connections); err != nil {
				return nil, appErr.Wrap(err, appErr.CodeInternal, "unmarshal connections failed")
			}
		}
	}

	store, err := doc.Store()
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "stored graph is inconsistent").WithMeta("flow_id", doc.ID)
	}
	doc.SetGraph(store)
	return doc, nil
}
