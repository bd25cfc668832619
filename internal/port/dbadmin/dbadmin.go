// Package dbadmin defines the physical-database driver port (interface).
package dbadmin

import "context"

// Admin manages the lifecycle of physical tenant databases on the cluster.
// Implementations connect with a role privileged to create and drop
// databases; they never look inside tenant schemas beyond listing tables.
type Admin interface {
	// CreateIfNotExists creates the named database. Reports created=false
	// without error when it already exists; safe to repeat.
	CreateIfNotExists(ctx context.Context, name string) (created bool, err error)

	// Drop removes the named database, disconnecting any remaining
	// sessions. Dropping a database that does not exist is not an error.
	Drop(ctx context.Context, name string) error

	// Exists reports whether the named database is present.
	Exists(ctx context.Context, name string) (bool, error)

	// ListTables returns the public-schema table names inside the named
	// database.
	ListTables(ctx context.Context, name string) ([]string, error)
}
