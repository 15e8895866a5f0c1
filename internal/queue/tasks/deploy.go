package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/deployflow/engine/internal/flow"
	"github.com/deployflow/engine/internal/metrics"
	"github.com/deployflow/engine/internal/models"
	"github.com/deployflow/engine/internal/progress"
	"github.com/deployflow/engine/internal/services"
	"github.com/deployflow/engine/pkg/logger"
)

// TypeFlowDeploy is the asynq task type that runs a deployment plan.
const TypeFlowDeploy = "flow:deploy"

// DeployPayload is the task payload for deploy tasks.
type DeployPayload struct {
	DeploymentID string `json:"deployment_id"`
}

// NewDeployTask builds the task for deploymentID. A deployment walks node
// statuses forward, so it is never retried.
func NewDeployTask(deploymentID uuid.UUID) (*asynq.Task, error) {
	b, err := json.Marshal(DeployPayload{DeploymentID: deploymentID.String()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeFlowDeploy, b, asynq.MaxRetry(0), asynq.Timeout(30*time.Minute)), nil
}

// Enqueuer submits deploy tasks through an asynq client.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(client *asynq.Client) *Enqueuer {
	return &Enqueuer{client: client}
}

var _ services.DeploymentEnqueuer = (*Enqueuer)(nil)

func (e *Enqueuer) EnqueueDeployment(ctx context.Context, deploymentID uuid.UUID) error {
	task, err := NewDeployTask(deploymentID)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return err
	}
	logger.L().Info("deploy task enqueued", zap.String("deployment_id", deploymentID.String()), zap.String("task_id", info.ID))
	return nil
}

// DeployTaskHandler executes deployment plans step by step.
type DeployTaskHandler struct {
	deploySvc services.DeploymentService
	publisher progress.Publisher
	metrics   *metrics.Metrics
	stepDelay time.Duration
	sleep     func(ctx context.Context, d time.Duration) error
}

func NewDeployTaskHandler(deploySvc services.DeploymentService, publisher progress.Publisher, m *metrics.Metrics, stepDelay time.Duration) *DeployTaskHandler {
	return &DeployTaskHandler{
		deploySvc: deploySvc,
		publisher: publisher,
		metrics:   m,
		stepDelay: stepDelay,
		sleep:     sleepContext,
	}
}

// HandleDeploy runs every step of the plan in order: the node goes running,
// the step takes stepDelay, the node goes success. The first failure marks
// the node error and the deployment failed.
func (h *DeployTaskHandler) HandleDeploy(ctx context.Context, t *asynq.Task) error {
	var p DeployPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid deploy task payload", zap.Error(err))
		return fmt.Errorf("decode payload: %v: %w", err, asynq.SkipRetry)
	}
	id, err := uuid.Parse(p.DeploymentID)
	if err != nil {
		logger.L().Error("invalid deployment id in task", zap.Error(err))
		return fmt.Errorf("parse deployment id: %v: %w", err, asynq.SkipRetry)
	}

	d, err := h.deploySvc.LoadDeployment(ctx, id)
	if err != nil {
		logger.L().Error("get deployment failed", zap.String("deployment_id", id.String()), zap.Error(err))
		return err
	}
	if d.Status != models.DeploymentPending {
		logger.L().Warn("deployment already handled", zap.String("deployment_id", id.String()), zap.String("status", d.Status))
		return nil
	}

	logger.L().Info("handling deploy task", zap.String("deployment_id", id.String()), zap.String("flow_id", d.FlowID.String()))
	start := time.Now()

	if err := h.deploySvc.MarkStarted(ctx, d); err != nil {
		return err
	}
	h.publish(ctx, d, "", "")

	statuses := maps.Clone(d.NodeStatuses.Data())
	if statuses == nil {
		statuses = map[string]string{}
	}

	for _, step := range d.Plan.Data().Steps {
		if err := h.setNode(ctx, d, statuses, step.NodeID, flow.StatusRunning); err != nil {
			return h.fail(ctx, d, statuses, step.NodeID, err)
		}
		logger.L().Info("deploy step started",
			zap.String("deployment_id", id.String()),
			zap.Int("index", step.Index),
			zap.String("node_id", step.NodeID),
			zap.String("action", step.Action))

		if err := h.sleep(ctx, h.stepDelay); err != nil {
			return h.fail(ctx, d, statuses, step.NodeID, err)
		}
		if err := h.setNode(ctx, d, statuses, step.NodeID, flow.StatusSuccess); err != nil {
			return h.fail(ctx, d, statuses, step.NodeID, err)
		}
	}

	if err := h.deploySvc.FinishDeployment(ctx, d, models.DeploymentCompleted, ""); err != nil {
		return err
	}
	h.publish(ctx, d, "", "")
	h.metrics.RecordDeployment(models.DeploymentCompleted)
	h.metrics.ObserveDeployDuration(time.Since(start))

	logger.L().Info("deployment completed", zap.String("deployment_id", id.String()), zap.Duration("took", time.Since(start)))
	return nil
}

func (h *DeployTaskHandler) setNode(ctx context.Context, d *models.Deployment, statuses map[string]string, nodeID string, status flow.Status) error {
	statuses[nodeID] = string(status)
	if err := h.deploySvc.SaveNodeStatuses(ctx, d.ID, statuses); err != nil {
		return err
	}
	h.publish(ctx, d, nodeID, status)
	return nil
}

// fail records cause against nodeID. It keeps going when ctx is already
// cancelled so the failure is still persisted.
func (h *DeployTaskHandler) fail(ctx context.Context, d *models.Deployment, statuses map[string]string, nodeID string, cause error) error {
	logger.L().Error("deploy step failed", zap.String("deployment_id", d.ID.String()), zap.String("node_id", nodeID), zap.Error(cause))
	ctx = context.WithoutCancel(ctx)

	statuses[nodeID] = string(flow.StatusError)
	if err := h.deploySvc.SaveNodeStatuses(ctx, d.ID, statuses); err != nil {
		logger.L().Warn("save node statuses failed", zap.String("deployment_id", d.ID.String()), zap.Error(err))
	}
	h.publish(ctx, d, nodeID, flow.StatusError)

	if err := h.deploySvc.FinishDeployment(ctx, d, models.DeploymentFailed, cause.Error()); err != nil {
		logger.L().Error("finish deployment failed", zap.String("deployment_id", d.ID.String()), zap.Error(err))
	}
	h.publish(ctx, d, "", "")
	h.metrics.RecordDeployment(models.DeploymentFailed)

	return fmt.Errorf("deploy node %s: %v: %w", nodeID, cause, asynq.SkipRetry)
}

func (h *DeployTaskHandler) publish(ctx context.Context, d *models.Deployment, nodeID string, status flow.Status) {
	if h.publisher == nil {
		return
	}
	u := progress.Update{
		FlowID:           d.FlowID.String(),
		DeploymentID:     d.ID.String(),
		NodeID:           nodeID,
		Status:           status,
		DeploymentStatus: d.Status,
		At:               time.Now().UTC(),
	}
	if err := h.publisher.Publish(ctx, u); err != nil {
		logger.L().Warn("publish progress failed", zap.String("deployment_id", d.ID.String()), zap.Error(err))
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
