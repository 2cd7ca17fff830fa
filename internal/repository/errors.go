package repository

import (
	"database/sql"
	"errors"
	"strings"

	"github.com/marketcore/gatekeeper/internal/apperr"
)

func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") || strings.Contains(msg, "unique constraint") || strings.Contains(msg, "UNIQUE constraint") || strings.Contains(msg, "23505")
}

// notFoundOr classifies sql.ErrNoRows as NotFound and everything else as fatal
func notFoundOr(op string, err error, format string, args ...any) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.Wrapf(apperr.KindNotFound, op, err, format, args...)
	}
	return apperr.Wrap(apperr.KindFatal, op, err)
}
