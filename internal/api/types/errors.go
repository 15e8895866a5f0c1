package types

import (
	"errors"

	appErr "github.com/deployflow/engine/pkg/errors"
)

// FromAppError converts err into the envelope error. Internal errors keep
// their message but never the wrapped cause.
func FromAppError(err error) *APIError {
	if err == nil {
		return nil
	}
	var e *appErr.AppError
	if errors.As(err, &e) {
		return &APIError{Code: string(e.Code), Message: e.Message, Meta: e.Meta}
	}
	return &APIError{Code: string(appErr.CodeInternal), Message: "internal error"}
}
