package database

import (
	"strings"

	"github.com/lib/pq"

	"github.com/craftledger/craftledger-backend/pkg/errors"
)

// MapPQError converts a PostgreSQL error to an AppError with meaningful
// messages. Returns nil if the error is not a pq.Error.
func MapPQError(err error) *errors.AppError {
	pqErr, ok := err.(*pq.Error)
	if !ok {
		return nil
	}

	switch pqErr.Code {
	// Check constraint violation (23514)
	case "23514":
		return mapCheckConstraint(pqErr)

	// Unique constraint violation (23505)
	case "23505":
		return errors.Conflict("a record with these values already exists")

	// Foreign key violation (23503)
	case "23503":
		return errors.BadRequest("referenced record does not exist")

	// Not null violation (23502)
	case "23502":
		col := pqErr.Column
		if col == "" {
			col = "required field"
		}
		return errors.Validation(map[string]string{
			col: "must not be empty",
		})

	default:
		return nil
	}
}

// mapCheckConstraint maps CHECK constraint names to user-friendly messages.
func mapCheckConstraint(pqErr *pq.Error) *errors.AppError {
	constraint := pqErr.Constraint

	switch {
	case strings.Contains(constraint, "remaining_nonneg"):
		// remaining_quantity >= 0; tripping this means a double-spend
		// slipped past the guarded decrement.
		return errors.Internal("lot remainder would go negative: " + constraint)

	case strings.Contains(constraint, "category_valid"):
		return errors.Validation(map[string]string{
			"category": "must be one of: ingredient, container, product",
		})

	case strings.Contains(constraint, "change_kind_valid"):
		return errors.Validation(map[string]string{
			"change_kind": "unrecognized ledger change kind",
		})

	default:
		return errors.BadRequest("data validation failed: " + constraint)
	}
}
