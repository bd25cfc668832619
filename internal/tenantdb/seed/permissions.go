package seed

import (
	"context"
	"fmt"

	"github.com/chronahq/tenancy/internal/tenantdb"
)

// Permissions seeds the permission set and the role attachments.
type Permissions struct{}

func (Permissions) Name() string { return "permissions" }

var defaultPermissions = []struct {
	name    string
	display string
	roles   []string
}{
	{"users.manage", "Manage users", []string{"admin"}},
	{"projects.manage", "Manage projects", []string{"admin", "manager"}},
	{"time.track", "Track time", []string{"admin", "manager", "member"}},
	{"time.approve", "Approve timesheets", []string{"admin", "manager"}},
	{"expenses.submit", "Submit expenses", []string{"admin", "manager", "member"}},
	{"expenses.approve", "Approve expenses", []string{"admin", "manager"}},
	{"reports.view", "View reports", []string{"admin", "manager"}},
	{"billing.manage", "Manage billing", []string{"admin"}},
}

func (Permissions) Run(ctx context.Context, q tenantdb.Querier) error {
	for _, p := range defaultPermissions {
		_, err := q.Exec(ctx,
			`INSERT INTO permissions (name, display_name) VALUES ($1, $2)
			 ON CONFLICT (name) DO NOTHING`, p.name, p.display)
		if err != nil {
			return fmt.Errorf("seed permission %s: %w", p.name, err)
		}

		for _, role := range p.roles {
			_, err := q.Exec(ctx,
				`INSERT INTO permission_role (permission_id, role_id)
				 SELECT p.id, r.id FROM permissions p, roles r
				 WHERE p.name = $1 AND r.name = $2
				 ON CONFLICT DO NOTHING`, p.name, role)
			if err != nil {
				return fmt.Errorf("attach permission %s to role %s: %w", p.name, role, err)
			}
		}
	}
	return nil
}
