// Package seed provides the idempotent reference-data seeders every tenant
// database gets at provisioning time. Seeders are safe to re-run; they only
// ever add missing rows.
package seed

import (
	"context"

	"github.com/chronahq/tenancy/internal/tenantdb"
)

// Seeder populates one slice of reference data inside a tenant database.
type Seeder interface {
	Name() string
	Run(ctx context.Context, q tenantdb.Querier) error
}

// Default returns all seeders in execution order. Roles must exist before
// permissions attach to them.
func Default() []Seeder {
	return []Seeder{Roles{}, Permissions{}}
}

// ByName returns the seeder registered under name, for --class.
func ByName(name string) (Seeder, bool) {
	for _, s := range Default() {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}
