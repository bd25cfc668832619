package tenantdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// AdminRole is the role name the owning principal is attached to.
const AdminRole = "admin"

// EnsureOwner creates the owning principal, its profile row and its admin
// role attachment, unless a user with that email already exists. Reports
// created=false when the owner was already present; re-running provisioning
// must skip, not duplicate.
func EnsureOwner(ctx context.Context, q Querier, name, email, passwordHash string) (created bool, err error) {
	var userID int64
	err = q.QueryRow(ctx, `SELECT id FROM users WHERE email = $1`, email).Scan(&userID)
	switch {
	case err == nil:
		return false, nil
	case !errors.Is(err, pgx.ErrNoRows):
		return false, fmt.Errorf("look up owner %s: %w", email, err)
	}

	err = q.QueryRow(ctx,
		`INSERT INTO users (name, email, password) VALUES ($1, $2, $3) RETURNING id`,
		name, email, passwordHash,
	).Scan(&userID)
	if err != nil {
		return false, fmt.Errorf("create owner %s: %w", email, err)
	}

	if _, err := q.Exec(ctx,
		`INSERT INTO user_profiles (user_id, full_name) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO NOTHING`, userID, name); err != nil {
		return false, fmt.Errorf("create owner profile: %w", err)
	}

	if _, err := q.Exec(ctx,
		`INSERT INTO role_user (role_id, user_id)
		 SELECT r.id, $1 FROM roles r WHERE r.name = $2
		 ON CONFLICT DO NOTHING`, userID, AdminRole); err != nil {
		return false, fmt.Errorf("attach admin role: %w", err)
	}

	return true, nil
}

// HasAdminUser reports whether at least one principal holds the admin role.
func HasAdminUser(ctx context.Context, q Querier) (bool, error) {
	var one int
	err := q.QueryRow(ctx,
		`SELECT 1 FROM role_user ru
		 JOIN roles r ON r.id = ru.role_id
		 WHERE r.name = $1 LIMIT 1`, AdminRole).Scan(&one)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check admin role: %w", err)
	}
	return true, nil
}
