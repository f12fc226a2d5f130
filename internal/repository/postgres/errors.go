package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"projectapi/internal/repository"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

// translate maps driver specific errors onto repository sentinels.
func translate(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case uniqueViolation:
		return repository.ErrDuplicate
	case foreignKeyViolation:
		return repository.ErrMissingReference
	}
	return err
}
