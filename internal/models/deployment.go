package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/deployflow/engine/internal/plan"
)

// Deployment statuses.
const (
	DeploymentPending   = "pending"
	DeploymentRunning   = "running"
	DeploymentCompleted = "completed"
	DeploymentFailed    = "failed"
)

// Deployment is one run of a flow's plan against a saved graph version.
type Deployment struct {
	ID           uuid.UUID                             `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	FlowID       uuid.UUID                             `gorm:"type:uuid;index;not null" json:"flow_id" validate:"required"`
	GraphID      uuid.UUID                             `gorm:"type:uuid;index;not null" json:"graph_id" validate:"required"`
	UserID       uuid.UUID                             `gorm:"type:uuid;index;not null" json:"user_id"`
	Status       string                                `gorm:"type:varchar(16);index;not null" json:"status" validate:"required,oneof=pending running completed failed"`
	Plan         datatypes.JSONType[plan.Plan]         `gorm:"type:jsonb" json:"plan"`
	NodeStatuses datatypes.JSONType[map[string]string] `gorm:"type:jsonb" json:"node_statuses"`
	Error        string                                `gorm:"type:text" json:"error,omitempty"`
	StartedAt    *time.Time                            `json:"started_at"`
	FinishedAt   *time.Time                            `json:"finished_at"`
	CreatedAt    time.Time                             `json:"created_at"`
	UpdatedAt    time.Time                             `json:"updated_at"`
	DeletedAt    gorm.DeletedAt                        `gorm:"index" json:"-"`
}

// Active reports whether the deployment has not reached a terminal status.
func (d *Deployment) Active() bool {
	return d.Status == DeploymentPending || d.Status == DeploymentRunning
}
