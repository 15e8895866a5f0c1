package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/models"
	appErr "github.com/deployflow/engine/pkg/errors"
)

type FlowRepository interface {
	BaseRepository[models.Flow]
	ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Flow, error)
	UpdateStatus(ctx context.Context, flowID uuid.UUID, status string) error
	MarkDeployed(ctx context.Context, flowID uuid.UUID, status string, at time.Time) error
}

type flowRepository struct {
	BaseRepository[models.Flow]
	db *gorm.DB
}

func NewFlowRepository(db *gorm.DB) FlowRepository {
	return &flowRepository{BaseRepository: NewBaseRepository[models.Flow](db), db: db}
}

func (r *flowRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]models.Flow, error) {
	var out []models.Flow
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&out).Error; err != nil {
		return nil, translate(err, "list flows by user failed")
	}
	return out, nil
}

func (r *flowRepository) UpdateStatus(ctx context.Context, flowID uuid.UUID, status string) error {
	res := r.db.WithContext(ctx).Model(&models.Flow{}).Where("id = ?", flowID).Update("status", status)
	if res.Error != nil {
		return translate(res.Error, "update flow status failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "flow not found")
	}
	return nil
}

func (r *flowRepository) MarkDeployed(ctx context.Context, flowID uuid.UUID, status string, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Flow{}).Where("id = ?", flowID).
		Updates(map[string]any{"status": status, "last_deployment_at": at})
	if res.Error != nil {
		return translate(res.Error, "mark flow deployed failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "flow not found")
	}
	return nil
}
