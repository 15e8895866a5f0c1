package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/models"
	appErr "github.com/deployflow/engine/pkg/errors"
)

type DeploymentRepository interface {
	BaseRepository[models.Deployment]
	ListByFlow(ctx context.Context, flowID uuid.UUID) ([]models.Deployment, error)
	GetLatestByFlow(ctx context.Context, flowID uuid.UUID, dest *models.Deployment) error
	UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error
	MarkStarted(ctx context.Context, deploymentID uuid.UUID, at time.Time) error
	MarkFinished(ctx context.Context, deploymentID uuid.UUID, status, errMsg string, at time.Time) error
	SaveNodeStatuses(ctx context.Context, deploymentID uuid.UUID, statuses map[string]string) error
}

type deploymentRepository struct {
	BaseRepository[models.Deployment]
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{BaseRepository: NewBaseRepository[models.Deployment](db), db: db}
}

func (r *deploymentRepository) ListByFlow(ctx context.Context, flowID uuid.UUID) ([]models.Deployment, error) {
	var out []models.Deployment
	if err := r.db.WithContext(ctx).Where("flow_id = ?", flowID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, translate(err, "list deployments failed")
	}
	return out, nil
}

func (r *deploymentRepository) GetLatestByFlow(ctx context.Context, flowID uuid.UUID, dest *models.Deployment) error {
	if err := r.db.WithContext(ctx).Where("flow_id = ?", flowID).Order("created_at DESC").First(dest).Error; err != nil {
		return translate(err, "get latest deployment")
	}
	return nil
}

func (r *deploymentRepository) UpdateStatus(ctx context.Context, deploymentID uuid.UUID, status string) error {
	return r.updates(ctx, deploymentID, map[string]any{"status": status}, "update deployment status failed")
}

func (r *deploymentRepository) MarkStarted(ctx context.Context, deploymentID uuid.UUID, at time.Time) error {
	return r.updates(ctx, deploymentID, map[string]any{"status": models.DeploymentRunning, "started_at": at}, "mark deployment started failed")
}

func (r *deploymentRepository) MarkFinished(ctx context.Context, deploymentID uuid.UUID, status, errMsg string, at time.Time) error {
	return r.updates(ctx, deploymentID, map[string]any{"status": status, "error": errMsg, "finished_at": at}, "mark deployment finished failed")
}

func (r *deploymentRepository) SaveNodeStatuses(ctx context.Context, deploymentID uuid.UUID, statuses map[string]string) error {
	return r.updates(ctx, deploymentID, map[string]any{"node_statuses": datatypes.NewJSONType(statuses)}, "save node statuses failed")
}

func (r *deploymentRepository) updates(ctx context.Context, deploymentID uuid.UUID, fields map[string]any, msg string) error {
	res := r.db.WithContext(ctx).Model(&models.Deployment{}).Where("id = ?", deploymentID).Updates(fields)
	if res.Error != nil {
		return translate(res.Error, msg)
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment not found")
	}
	return nil
}
