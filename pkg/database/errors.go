package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the reconciler and repositories react to.
const (
	CodeNotNullViolation      = "23502"
	CodeUniqueViolation       = "23505"
	CodeCheckViolation        = "23514"
	CodeInsufficientPrivilege = "42501"
	CodeUndefinedTable        = "42P01"
	CodeUndefinedFunction     = "42883"
)

// PgError returns the server error in err's chain, or nil.
func PgError(err error) *pgconn.PgError {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr
	}
	return nil
}

// PgErrorCode returns the SQLSTATE of err, or "" if err is not a server error.
func PgErrorCode(err error) string {
	if pgErr := PgError(err); pgErr != nil {
		return pgErr.Code
	}
	return ""
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return PgErrorCode(err) == CodeUniqueViolation
}

// IsNotNullViolation reports whether err is a NOT NULL violation.
func IsNotNullViolation(err error) bool {
	return PgErrorCode(err) == CodeNotNullViolation
}

// IsCheckViolation reports whether err is a CHECK constraint violation.
func IsCheckViolation(err error) bool {
	return PgErrorCode(err) == CodeCheckViolation
}

// IsInsufficientPrivilege reports whether err is a permission failure.
func IsInsufficientPrivilege(err error) bool {
	return PgErrorCode(err) == CodeInsufficientPrivilege
}

// IsUndefinedTable reports whether err refers to a relation that does not exist.
func IsUndefinedTable(err error) bool {
	return PgErrorCode(err) == CodeUndefinedTable
}
