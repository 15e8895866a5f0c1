package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/models"
	appErr "github.com/deployflow/engine/pkg/errors"
)

type GraphRepository interface {
	BaseRepository[models.FlowGraph]
	GetCurrentByFlow(ctx context.Context, flowID uuid.UUID, dest *models.FlowGraph) error
	GetByVersion(ctx context.Context, flowID uuid.UUID, version int, dest *models.FlowGraph) error
	ListByFlow(ctx context.Context, flowID uuid.UUID) ([]models.FlowGraph, error)
	AppendVersion(ctx context.Context, g *models.FlowGraph) error
	SetCurrent(ctx context.Context, flowID uuid.UUID, version int) error
}

type graphRepository struct {
	BaseRepository[models.FlowGraph]
	db *gorm.DB
}

func NewGraphRepository(db *gorm.DB) GraphRepository {
	return &graphRepository{BaseRepository: NewBaseRepository[models.FlowGraph](db), db: db}
}

func (r *graphRepository) GetCurrentByFlow(ctx context.Context, flowID uuid.UUID, dest *models.FlowGraph) error {
	if err := r.db.WithContext(ctx).Where("flow_id = ? AND is_current = true", flowID).First(dest).Error; err != nil {
		return translate(err, "get current graph")
	}
	return nil
}

func (r *graphRepository) GetByVersion(ctx context.Context, flowID uuid.UUID, version int, dest *models.FlowGraph) error {
	if err := r.db.WithContext(ctx).Where("flow_id = ? AND version = ?", flowID, version).First(dest).Error; err != nil {
		return translate(err, "get graph version")
	}
	return nil
}

// ListByFlow returns version headers, newest first, without the graph payload.
func (r *graphRepository) ListByFlow(ctx context.Context, flowID uuid.UUID) ([]models.FlowGraph, error) {
	var out []models.FlowGraph
	err := r.db.WithContext(ctx).
		Select("id", "flow_id", "version", "checksum", "total_nodes", "is_current", "created_at", "updated_at").
		Where("flow_id = ?", flowID).
		Order("version DESC").
		Find(&out).Error
	if err != nil {
		return nil, translate(err, "list graphs failed")
	}
	return out, nil
}

// AppendVersion stores g as the next version of its flow and makes it current.
// Callers run it inside a transaction.
func (r *graphRepository) AppendVersion(ctx context.Context, g *models.FlowGraph) error {
	db := r.db.WithContext(ctx)

	var maxVersion int
	if err := db.Model(&models.FlowGraph{}).Where("flow_id = ?", g.FlowID).Select("COALESCE(MAX(version),0)").Scan(&maxVersion).Error; err != nil {
		return translate(err, "compute graph version failed")
	}

	if err := db.Model(&models.FlowGraph{}).Where("flow_id = ? AND is_current = true", g.FlowID).Update("is_current", false).Error; err != nil {
		return translate(err, "mark previous graphs failed")
	}

	g.Version = maxVersion + 1
	g.IsCurrent = true
	if err := db.Create(g).Error; err != nil {
		return translate(err, "create graph failed")
	}
	return nil
}

// SetCurrent marks the specified version as current and clears previous current flag in a transaction
func (r *graphRepository) SetCurrent(ctx context.Context, flowID uuid.UUID, version int) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.FlowGraph{}).Where("flow_id = ? AND is_current = true", flowID).Update("is_current", false).Error; err != nil {
			return translate(err, "clear current flag failed")
		}

		res := tx.Model(&models.FlowGraph{}).Where("flow_id = ? AND version = ?", flowID, version).Update("is_current", true)
		if res.Error != nil {
			return translate(res.Error, "set current flag failed")
		}
		if res.RowsAffected == 0 {
			return appErr.New(appErr.CodeNotFound, "graph version not found")
		}
		return nil
	})
}
