package repositories

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrConflict indicates the attempted write would violate a uniqueness constraint.
	ErrConflict = errors.New("record conflict")
	// ErrInvalidArgument indicates the store rejected a malformed value, such as a bad uuid.
	ErrInvalidArgument = errors.New("invalid argument")
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgInvalidText         = "22P02"
)

// classify maps well known PostgreSQL error codes onto the package sentinels,
// keeping the driver error in the chain.
func classify(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s: %w: %w", op, ErrConflict, err)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s: %w: %w", op, ErrNotFound, err)
		case pgCheckViolation, pgInvalidText:
			return fmt.Errorf("%s: %w: %w", op, ErrInvalidArgument, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
