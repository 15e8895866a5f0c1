package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// FlowGraph stores one saved version of a flow's nodes and connections.
type FlowGraph struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	FlowID      uuid.UUID      `gorm:"type:uuid;not null;index:idx_flow_graphs_flow_version,unique" json:"flow_id" validate:"required"`
	Version     int            `gorm:"not null;index:idx_flow_graphs_flow_version,unique" json:"version" validate:"gte=1"`
	Nodes       datatypes.JSON `gorm:"type:jsonb" json:"nodes" validate:"required"`
	Connections datatypes.JSON `gorm:"type:jsonb" json:"connections" validate:"required"`
	Checksum    string         `gorm:"type:char(64);not null" json:"checksum"`
	TotalNodes  int            `gorm:"not null;default:0" json:"total_nodes"`
	IsCurrent   bool           `gorm:"not null;default:false;index" json:"is_current"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
