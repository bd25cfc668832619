package seed

import (
	"context"
	"fmt"

	"github.com/chronahq/tenancy/internal/tenantdb"
)

// Roles seeds the built-in role set.
type Roles struct{}

func (Roles) Name() string { return "roles" }

var defaultRoles = []struct {
	name    string
	display string
}{
	{"admin", "Administrator"},
	{"manager", "Manager"},
	{"member", "Team Member"},
}

func (Roles) Run(ctx context.Context, q tenantdb.Querier) error {
	for _, r := range defaultRoles {
		_, err := q.Exec(ctx,
			`INSERT INTO roles (name, display_name) VALUES ($1, $2)
			 ON CONFLICT (name) DO NOTHING`, r.name, r.display)
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.name, err)
		}
	}
	return nil
}
