package postgres

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE codes the control plane branches on.
const (
	pgUniqueViolation   = "23505"
	pgDuplicateDatabase = "42P04"
	pgInvalidCatalog    = "3D000"
)

// rowScanner is satisfied by both pgx.Row and pgx.Rows, so one scan
// function serves single-row and list queries.
type rowScanner interface {
	Scan(dest ...any) error
}

// textOrNull maps "" to SQL NULL for nullable text and UUID columns.
func textOrNull(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// pgErrCode extracts the SQLSTATE of a PostgreSQL server error, or ""
// for any other error.
func pgErrCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
