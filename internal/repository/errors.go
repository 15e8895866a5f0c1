package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	appErr "github.com/deployflow/engine/pkg/errors"
)

// Postgres SQLSTATE codes the repositories translate.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// translate maps a gorm/pgx error onto an AppError carrying msg.
func translate(err error, msg string) error {
	var pgErr *pgconn.PgError
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return appErr.New(appErr.CodeNotFound, msg+": not found")
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return appErr.Wrap(err, appErr.CodeConflict, msg+": already exists")
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		return appErr.Wrap(err, appErr.CodeConflict, msg+": already exists").WithMeta("constraint", pgErr.ConstraintName)
	case errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation:
		return appErr.Wrap(err, appErr.CodeInvalid, msg+": referenced row missing").WithMeta("constraint", pgErr.ConstraintName)
	case errors.Is(err, context.DeadlineExceeded):
		return appErr.Wrap(err, appErr.CodeDeadline, msg)
	default:
		return appErr.Wrap(err, appErr.CodeInternal, msg)
	}
}
