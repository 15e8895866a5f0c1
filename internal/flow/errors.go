package flow

import (
	"errors"
	"fmt"

	appErr "github.com/deployflow/engine/pkg/errors"
)

// Rejections of a single store mutation. They are returned wrapped in an
// *errors.AppError, so match them with errors.Is.
var (
	ErrNodeNotFound          = errors.New("node not found")
	ErrConnectionNotFound    = errors.New("connection not found")
	ErrDuplicateConnection   = errors.New("duplicate connection")
	ErrDuplicateOptionalTool = errors.New("duplicate optional tool")
	ErrSelfConnection        = errors.New("self connection")
	ErrInvalidNode           = errors.New("invalid node")
	ErrInvalidConnection     = errors.New("invalid connection")
	ErrInvalidSnapshot       = errors.New("invalid snapshot")
)

func nodeNotFound(id string) error {
	return appErr.Wrap(ErrNodeNotFound, appErr.CodeNotFound, fmt.Sprintf("node %q", id)).
		WithMeta("node_id", id)
}

func connectionNotFound(id string) error {
	return appErr.Wrap(ErrConnectionNotFound, appErr.CodeNotFound, fmt.Sprintf("connection %q", id)).
		WithMeta("connection_id", id)
}

func duplicateConnection(from, to string) error {
	return appErr.Wrap(ErrDuplicateConnection, appErr.CodeConflict, fmt.Sprintf("%q and %q are already connected", from, to)).
		WithMeta("from", from).WithMeta("to", to)
}

func duplicateOptionalTool(toolType string) error {
	return appErr.Wrap(ErrDuplicateOptionalTool, appErr.CodeConflict, fmt.Sprintf("tool %q is already on the canvas", toolType)).
		WithMeta("tool_type", toolType)
}

func selfConnection(id string) error {
	return appErr.Wrap(ErrSelfConnection, appErr.CodeInvalid, fmt.Sprintf("node %q cannot connect to itself", id)).
		WithMeta("node_id", id)
}

func invalidNode(msg string) error {
	return appErr.Wrap(ErrInvalidNode, appErr.CodeInvalid, msg)
}

func invalidConnection(id, msg string) error {
	return appErr.Wrap(ErrInvalidConnection, appErr.CodeInvalid, msg).WithMeta("connection_id", id)
}

// invalidSnapshot wraps cause so both ErrInvalidSnapshot and the specific
// rejection stay matchable.
func invalidSnapshot(cause error) error {
	return appErr.Wrap(fmt.Errorf("%w: %w", ErrInvalidSnapshot, cause), appErr.CodeInvalid, "invalid snapshot")
}
