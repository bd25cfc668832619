package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chronahq/tenancy/internal/domain"
)

// dbNameRegex is the allowed shape for physical database names. Anything
// else aborts before a single statement reaches the cluster.
var dbNameRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Admin implements dbadmin.Admin against a PostgreSQL cluster. CREATE and
// DROP run on the registry pool, whose role must own database creation.
// ListTables dials a short-lived connection into the target database.
type Admin struct {
	pool   *pgxpool.Pool
	dsnFor func(dbname string) string
}

// NewAdmin creates an Admin. dsnFor builds a DSN for connecting into a
// named tenant database, typically config.TenantDSN.
func NewAdmin(pool *pgxpool.Pool, dsnFor func(dbname string) string) *Admin {
	return &Admin{pool: pool, dsnFor: dsnFor}
}

// CreateIfNotExists creates the named database. An existing database of the
// same name reports created=false without error.
func (a *Admin) CreateIfNotExists(ctx context.Context, name string) (bool, error) {
	if !dbNameRegex.MatchString(name) {
		return false, fmt.Errorf("database name %q: %w", name, domain.ErrConfiguration)
	}

	// CREATE DATABASE cannot be parameterized; the identifier is sanitized
	// and the name shape is checked above.
	_, err := a.pool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	if err != nil {
		if pgErrCode(err) == pgDuplicateDatabase {
			return false, nil
		}
		return false, fmt.Errorf("create database %s: %w", name, err)
	}
	return true, nil
}

// Drop removes the named database, forcing any remaining sessions off it.
// A missing database is not an error.
func (a *Admin) Drop(ctx context.Context, name string) error {
	if !dbNameRegex.MatchString(name) {
		return fmt.Errorf("database name %q: %w", name, domain.ErrConfiguration)
	}

	_, err := a.pool.Exec(ctx, "DROP DATABASE IF EXISTS "+pgx.Identifier{name}.Sanitize()+" WITH (FORCE)")
	if err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	return nil
}

// Exists reports whether the named database is present on the cluster.
func (a *Admin) Exists(ctx context.Context, name string) (bool, error) {
	var one int
	err := a.pool.QueryRow(ctx, `SELECT 1 FROM pg_database WHERE datname = $1`, name).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check database %s: %w", name, err)
	}
	return true, nil
}

// ListTables returns the public-schema tables inside the named database. A
// database that does not exist reports domain.ErrNotFound.
func (a *Admin) ListTables(ctx context.Context, name string) ([]string, error) {
	if !dbNameRegex.MatchString(name) {
		return nil, fmt.Errorf("database name %q: %w", name, domain.ErrConfiguration)
	}

	conn, err := pgx.Connect(ctx, a.dsnFor(name))
	if err != nil {
		if pgErrCode(err) == pgInvalidCatalog {
			return nil, fmt.Errorf("list tables in %s: %w", name, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("connect to %s: %w", name, err)
	}
	defer func() { _ = conn.Close(ctx) }()

	rows, err := conn.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = 'public' ORDER BY table_name`)
	if err != nil {
		return nil, fmt.Errorf("list tables in %s: %w", name, err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		tables = append(tables, t)
	}
	return tables, rows.Err()
}
