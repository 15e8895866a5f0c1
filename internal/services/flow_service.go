package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/models"
	"github.com/deployflow/engine/internal/repository"
	appErr "github.com/deployflow/engine/pkg/errors"
	"github.com/deployflow/engine/pkg/logger"
)

// FlowService persists flow documents and their graph versions.
type FlowService interface {
	SaveFlow(ctx context.Context, userID uuid.UUID, doc *flow.Document) (*flow.Document, error)
	LoadFlow(ctx context.Context, flowID, userID uuid.UUID) (*flow.Document, error)
	ListFlows(ctx context.Context, userID uuid.UUID) ([]models.Flow, error)
	DeleteFlow(ctx context.Context, flowID, userID uuid.UUID) error

	ListVersions(ctx context.Context, flowID, userID uuid.UUID) ([]models.FlowGraph, error)
	LoadVersion(ctx context.Context, flowID, userID uuid.UUID, version int) (*flow.Document, error)
	RestoreVersion(ctx context.Context, flowID, userID uuid.UUID, version int) (*flow.Document, error)
}

type flowService struct {
	db        *gorm.DB
	flowRepo  repository.FlowRepository
	graphRepo repository.GraphRepository
}

func NewFlowService(db *gorm.DB, flowRepo repository.FlowRepository, graphRepo repository.GraphRepository) FlowService {
	return &flowService{db: db, flowRepo: flowRepo, graphRepo: graphRepo}
}

var _ FlowService = (*flowService)(nil)

// SaveFlow creates the flow when doc has no id, otherwise updates its header.
// The graph is stored as a new current version unless it matches the current
// one byte for byte.
func (s *flowService) SaveFlow(ctx context.Context, userID uuid.UUID, doc *flow.Document) (*flow.Document, error) {
	logger.L().Info("save flow start", zap.String("flow_id", doc.ID), zap.String("user_id", userID.String()))

	if doc.Status == "" {
		doc.Status = flow.FlowDraft
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	store, err := doc.Store()
	if err != nil {
		return nil, err
	}
	graph, err := encodeGraph(store)
	if err != nil {
		return nil, err
	}

	var out *flow.Document
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		flows := repository.NewFlowRepository(tx)
		graphs := repository.NewGraphRepository(tx)

		f, err := s.upsertFlow(ctx, flows, userID, doc)
		if err != nil {
			return err
		}

		var current models.FlowGraph
		err = graphs.GetCurrentByFlow(ctx, f.ID, &current)
		switch {
		case err == nil && current.Checksum == graph.checksum:
			out, err = toDocument(f, &current)
			return err
		case err != nil && !appErr.IsCode(err, appErr.CodeNotFound):
			return err
		}

		g := &models.FlowGraph{
			FlowID:      f.ID,
			Nodes:       datatypes.JSON(graph.nodes),
			Connections: datatypes.JSON(graph.connections),
			Checksum:    graph.checksum,
			TotalNodes:  graph.totalNodes,
		}
		if err := graphs.AppendVersion(ctx, g); err != nil {
			return err
		}
		out, err = toDocument(f, g)
		return err
	})
	if err != nil {
		return nil, asAppError(err, "save flow failed")
	}

	logger.L().Info("flow saved", zap.String("flow_id", out.ID), zap.Int("version", out.Version), zap.String("user_id", userID.String()))
	return out, nil
}

func (s *flowService) upsertFlow(ctx context.Context, flows repository.FlowRepository, userID uuid.UUID, doc *flow.Document) (*models.Flow, error) {
	if doc.ID == "" {
		f := &models.Flow{
			UserID:           userID,
			Name:             doc.Name,
			Description:      doc.Description,
			Status:           string(doc.Status),
			DeploymentConfig: datatypes.NewJSONType(doc.DeploymentConfig),
		}
		if err := flows.Create(ctx, f); err != nil {
			return nil, err
		}
		return f, nil
	}

	id, err := parseID(doc.ID, "flow id")
	if err != nil {
		return nil, err
	}
	f, err := owned(ctx, flows, id, userID)
	if err != nil {
		return nil, err
	}
	f.Name = doc.Name
	f.Description = doc.Description
	f.DeploymentConfig = datatypes.NewJSONType(doc.DeploymentConfig)
	if err := flows.Update(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

func (s *flowService) LoadFlow(ctx context.Context, flowID, userID uuid.UUID) (*flow.Document, error) {
	logger.L().Info("load flow", zap.String("flow_id", flowID.String()), zap.String("user_id", userID.String()))
	f, err := owned(ctx, s.flowRepo, flowID, userID)
	if err != nil {
		return nil, err
	}

	var g models.FlowGraph
	if err := s.graphRepo.GetCurrentByFlow(ctx, flowID, &g); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return toDocument(f, nil)
		}
		return nil, err
	}
	return toDocument(f, &g)
}

func (s *flowService) ListFlows(ctx context.Context, userID uuid.UUID) ([]models.Flow, error) {
	logger.L().Info("list flows", zap.String("user_id", userID.String()))
	return s.flowRepo.ListByUser(ctx, userID)
}

func (s *flowService) DeleteFlow(ctx context.Context, flowID, userID uuid.UUID) error {
	logger.L().Info("delete flow", zap.String("flow_id", flowID.String()), zap.String("user_id", userID.String()))
	if _, err := owned(ctx, s.flowRepo, flowID, userID); err != nil {
		return err
	}
	if err := s.flowRepo.Delete(ctx, flowID); err != nil {
		return err
	}
	logger.L().Info("flow deleted", zap.String("flow_id", flowID.String()), zap.String("user_id", userID.String()))
	return nil
}

func (s *flowService) ListVersions(ctx context.Context, flowID, userID uuid.UUID) ([]models.FlowGraph, error) {
	logger.L().Info("list flow versions", zap.String("flow_id", flowID.String()), zap.String("user_id", userID.String()))
	if _, err := owned(ctx, s.flowRepo, flowID, userID); err != nil {
		return nil, err
	}
	return s.graphRepo.ListByFlow(ctx, flowID)
}

func (s *flowService) LoadVersion(ctx context.Context, flowID, userID uuid.UUID, version int) (*flow.Document, error) {
	logger.L().Info("load flow version", zap.String("flow_id", flowID.String()), zap.Int("version", version), zap.String("user_id", userID.String()))
	f, err := owned(ctx, s.flowRepo, flowID, userID)
	if err != nil {
		return nil, err
	}
	var g models.FlowGraph
	if err := s.graphRepo.GetByVersion(ctx, flowID, version, &g); err != nil {
		return nil, err
	}
	return toDocument(f, &g)
}

// RestoreVersion makes an earlier graph version current again. Later
// versions are kept; the next save appends after them.
func (s *flowService) RestoreVersion(ctx context.Context, flowID, userID uuid.UUID, version int) (*flow.Document, error) {
	logger.L().Info("restore flow version", zap.String("flow_id", flowID.String()), zap.Int("version", version), zap.String("user_id", userID.String()))
	f, err := owned(ctx, s.flowRepo, flowID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.graphRepo.SetCurrent(ctx, flowID, version); err != nil {
		return nil, err
	}
	var g models.FlowGraph
	if err := s.graphRepo.GetByVersion(ctx, flowID, version, &g); err != nil {
		return nil, err
	}
	return toDocument(f, &g)
}

// owned loads a flow and checks it belongs to userID.
func owned(ctx context.Context, flows repository.FlowRepository, flowID, userID uuid.UUID) (*models.Flow, error) {
	var f models.Flow
	if err := flows.GetByID(ctx, flowID, &f); err != nil {
		return nil, err
	}
	if f.UserID != userID {
		return nil, appErr.New(appErr.CodeUnauthorized, "user does not own flow")
	}
	return &f, nil
}

func parseID(raw, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, appErr.Wrap(err, appErr.CodeInvalid, "invalid "+what).WithMeta("value", raw)
	}
	return id, nil
}

// asAppError leaves AppErrors alone and wraps anything else, such as a failed
// commit, as internal.
func asAppError(err error, msg string) error {
	if appErr.CodeOf(err) != appErr.CodeUnknown {
		return err
	}
	return appErr.Wrap(err, appErr.CodeInternal, msg)
}

func now() time.Time { return time.Now().UTC() }
