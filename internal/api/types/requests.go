package types

import "github.com/deployflow/engine/internal/flow"

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type FlowCreateRequest struct {
	Name        string `json:"name" validate:"required,max=200"`
	Description string `json:"description" validate:"max=2000"`
}

type DeploymentConfigRequest struct {
	Environment   string `json:"environment" validate:"required,oneof=development staging production"`
	Region        string `json:"region" validate:"required,max=64"`
	AutoDeploy    bool   `json:"autoDeploy"`
	Notifications bool   `json:"notifications"`
}

// ToConfig converts the request into the domain value.
func (r *DeploymentConfigRequest) ToConfig() *flow.DeploymentConfig {
	if r == nil {
		return nil
	}
	return &flow.DeploymentConfig{
		Environment:   r.Environment,
		Region:        r.Region,
		AutoDeploy:    r.AutoDeploy,
		Notifications: r.Notifications,
	}
}

type FlowUpdateRequest struct {
	Name             *string                  `json:"name" validate:"omitempty,min=1,max=200"`
	Description      *string                  `json:"description" validate:"omitempty,max=2000"`
	DeploymentConfig *DeploymentConfigRequest `json:"deploymentConfig"`
}

type PositionRequest struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type NodeCreateRequest struct {
	Role     string          `json:"role" validate:"required,oneof=frontend backend database repository cicd server optional"`
	Label    string          `json:"label" validate:"max=100"`
	Position PositionRequest `json:"position"`
	ToolType string          `json:"toolType" validate:"required_if=Role optional"`
}

type NodeMoveRequest struct {
	Position PositionRequest `json:"position"`
}

type NodeConfigRequest struct {
	Field string `json:"field" validate:"required"`
	Value string `json:"value" validate:"max=2000"`
}

type SelectionRequest struct {
	NodeID string `json:"nodeId"`
}

type ConnectionCreateRequest struct {
	From string `json:"from" validate:"required"`
	To   string `json:"to" validate:"required"`
}
