package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/flow"
)

// Flow is the header of a deployment flow owned by a user. Its graph lives in
// versioned FlowGraph rows.
type Flow struct {
	ID               uuid.UUID                                 `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	UserID           uuid.UUID                                 `gorm:"type:uuid;index;not null" json:"user_id" validate:"required"`
	Name             string                                    `gorm:"not null" json:"name" validate:"required,max=200"`
	Description      string                                    `gorm:"type:text" json:"description"`
	Status           string                                    `gorm:"type:varchar(16);index;not null;default:draft" json:"status" validate:"required,oneof=draft running completed failed"`
	DeploymentConfig datatypes.JSONType[flow.DeploymentConfig] `gorm:"type:jsonb" json:"deployment_config"`
	LastDeploymentAt *time.Time                                `json:"last_deployment_at"`
	CreatedAt        time.Time                                 `json:"created_at"`
	UpdatedAt        time.Time                                 `json:"updated_at"`
	DeletedAt        gorm.DeletedAt                            `gorm:"index" json:"-"`
}
