package services

import (
	"context"
	"maps"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/models"
	"github.com/deployflow/engine/internal/plan"
	"github.com/deployflow/engine/internal/repository"
	appErr "github.com/deployflow/engine/pkg/errors"
	"github.com/deployflow/engine/pkg/logger"
)

// DeploymentService starts flow deployments and records their progress.
type DeploymentService interface {
	// Lifecycle, on behalf of a user
	StartDeployment(ctx context.Context, flowID, userID uuid.UUID) (*models.Deployment, error)
	GetDeployment(ctx context.Context, deploymentID, userID uuid.UUID) (*models.Deployment, error)
	ListDeployments(ctx context.Context, flowID, userID uuid.UUID) ([]models.Deployment, error)
	ResetDeployment(ctx context.Context, flowID, userID uuid.UUID) error

	// Execution (called by worker)
	LoadDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error)
	MarkStarted(ctx context.Context, d *models.Deployment) error
	SaveNodeStatuses(ctx context.Context, deploymentID uuid.UUID, statuses map[string]string) error
	FinishDeployment(ctx context.Context, d *models.Deployment, status, errMsg string) error
}

// DeploymentEnqueuer hands a created deployment to the worker.
type DeploymentEnqueuer interface {
	EnqueueDeployment(ctx context.Context, deploymentID uuid.UUID) error
}

type deploymentService struct {
	flowRepo   repository.FlowRepository
	graphRepo  repository.GraphRepository
	deployRepo repository.DeploymentRepository
	planner    *plan.Planner
	enqueuer   DeploymentEnqueuer
}

func NewDeploymentService(flowRepo repository.FlowRepository, graphRepo repository.GraphRepository, deployRepo repository.DeploymentRepository, planner *plan.Planner, enqueuer DeploymentEnqueuer) DeploymentService {
	return &deploymentService{
		flowRepo:   flowRepo,
		graphRepo:  graphRepo,
		deployRepo: deployRepo,
		planner:    planner,
		enqueuer:   enqueuer,
	}
}

var _ DeploymentService = (*deploymentService)(nil)

// StartDeployment plans the current saved graph of the flow and enqueues it.
// Only one deployment of a flow may be active at a time.
func (s *deploymentService) StartDeployment(ctx context.Context, flowID, userID uuid.UUID) (*models.Deployment, error) {
	logger.L().Info("start deployment", zap.String("flow_id", flowID.String()), zap.String("user_id", userID.String()))

	f, err := owned(ctx, s.flowRepo, flowID, userID)
	if err != nil {
		return nil, err
	}
	if err := s.ensureIdle(ctx, flowID); err != nil {
		return nil, err
	}

	var g models.FlowGraph
	if err := s.graphRepo.GetCurrentByFlow(ctx, flowID, &g); err != nil {
		if appErr.IsCode(err, appErr.CodeNotFound) {
			return nil, appErr.New(appErr.CodeInvalid, "flow has no saved graph").WithMeta("flow_id", flowID.String())
		}
		return nil, err
	}
	doc, err := toDocument(f, &g)
	if err != nil {
		return nil, err
	}
	p, err := s.planner.Build(doc)
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]string, len(p.Steps))
	for _, id := range p.NodeIDs() {
		statuses[id] = string(flow.StatusPending)
	}
	d := &models.Deployment{
		FlowID:       flowID,
		GraphID:      g.ID,
		UserID:       userID,
		Status:       models.DeploymentPending,
		Plan:         datatypes.NewJSONType(*p),
		NodeStatuses: datatypes.NewJSONType(statuses),
	}
	if err := s.deployRepo.Create(ctx, d); err != nil {
		return nil, err
	}
	if err := s.flowRepo.UpdateStatus(ctx, flowID, string(flow.FlowRunning)); err != nil {
		return nil, err
	}

	if s.enqueuer == nil {
		logger.L().Warn("deployment enqueuer not configured, skipping enqueue", zap.String("deployment_id", d.ID.String()))
	} else if err := s.enqueuer.EnqueueDeployment(ctx, d.ID); err != nil {
		logger.L().Error("enqueue deployment failed", zap.Error(err), zap.String("deployment_id", d.ID.String()))
		if ferr := s.deployRepo.MarkFinished(ctx, d.ID, models.DeploymentFailed, "enqueue failed", now()); ferr != nil {
			logger.L().Error("mark unqueued deployment failed", zap.Error(ferr), zap.String("deployment_id", d.ID.String()))
		}
		if ferr := s.flowRepo.UpdateStatus(ctx, flowID, string(flow.FlowFailed)); ferr != nil {
			logger.L().Error("mark flow failed after enqueue error", zap.Error(ferr), zap.String("flow_id", flowID.String()))
		}
		return nil, appErr.Wrap(err, appErr.CodeUnavailable, "enqueue deployment failed")
	}

	logger.L().Info("deployment created and enqueued",
		zap.String("deployment_id", d.ID.String()),
		zap.String("flow_id", flowID.String()),
		zap.Int("steps", len(p.Steps)))
	return d, nil
}

func (s *deploymentService) ensureIdle(ctx context.Context, flowID uuid.UUID) error {
	var latest models.Deployment
	err := s.deployRepo.GetLatestByFlow(ctx, flowID, &latest)
	switch {
	case err == nil && latest.Active():
		return appErr.New(appErr.CodeConflict, "another deployment of this flow is in progress").
			WithMeta("deployment_id", latest.ID.String())
	case err != nil && !appErr.IsCode(err, appErr.CodeNotFound):
		return err
	}
	return nil
}

func (s *deploymentService) GetDeployment(ctx context.Context, deploymentID, userID uuid.UUID) (*models.Deployment, error) {
	logger.L().Info("get deployment", zap.String("deployment_id", deploymentID.String()), zap.String("user_id", userID.String()))
	var d models.Deployment
	if err := s.deployRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	if _, err := owned(ctx, s.flowRepo, d.FlowID, userID); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *deploymentService) ListDeployments(ctx context.Context, flowID, userID uuid.UUID) ([]models.Deployment, error) {
	logger.L().Info("list deployments", zap.String("flow_id", flowID.String()), zap.String("user_id", userID.String()))
	if _, err := owned(ctx, s.flowRepo, flowID, userID); err != nil {
		return nil, err
	}
	return s.deployRepo.ListByFlow(ctx, flowID)
}

// ResetDeployment puts a finished flow back into draft. Node statuses live in
// the editing session and are reset there.
func (s *deploymentService) ResetDeployment(ctx context.Context, flowID, userID uuid.UUID) error {
	logger.L().Info("reset deployment", zap.String("flow_id", flowID.String()), zap.String("user_id", userID.String()))
	if _, err := owned(ctx, s.flowRepo, flowID, userID); err != nil {
		return err
	}
	if err := s.ensureIdle(ctx, flowID); err != nil {
		return err
	}
	return s.flowRepo.UpdateStatus(ctx, flowID, string(flow.FlowDraft))
}

func (s *deploymentService) LoadDeployment(ctx context.Context, deploymentID uuid.UUID) (*models.Deployment, error) {
	var d models.Deployment
	if err := s.deployRepo.GetByID(ctx, deploymentID, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *deploymentService) MarkStarted(ctx context.Context, d *models.Deployment) error {
	at := now()
	if err := s.deployRepo.MarkStarted(ctx, d.ID, at); err != nil {
		return err
	}
	d.Status = models.DeploymentRunning
	d.StartedAt = &at
	return nil
}

func (s *deploymentService) SaveNodeStatuses(ctx context.Context, deploymentID uuid.UUID, statuses map[string]string) error {
	return s.deployRepo.SaveNodeStatuses(ctx, deploymentID, maps.Clone(statuses))
}

// FinishDeployment records the terminal status on the deployment and mirrors
// it onto the flow.
func (s *deploymentService) FinishDeployment(ctx context.Context, d *models.Deployment, status, errMsg string) error {
	logger.L().Info("finish deployment", zap.String("deployment_id", d.ID.String()), zap.String("status", status))
	at := now()
	if err := s.deployRepo.MarkFinished(ctx, d.ID, status, errMsg, at); err != nil {
		return err
	}
	d.Status = status
	d.Error = errMsg
	d.FinishedAt = &at

	flowStatus := flow.FlowCompleted
	if status != models.DeploymentCompleted {
		flowStatus = flow.FlowFailed
	}
	return s.flowRepo.MarkDeployed(ctx, d.FlowID, string(flowStatus), at)
}
