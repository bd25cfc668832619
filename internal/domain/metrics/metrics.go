// Package metrics defines per-tenant usage metric records.
package metrics

import "time"

// DailyUsage is one tenant's usage counters for one calendar day, gathered
// from inside the tenant's own database and persisted in the central
// registry for reporting.
type DailyUsage struct {
	TenantID      string    `json:"tenant_id"`
	TenantSlug    string    `json:"tenant_slug"`
	Date          time.Time `json:"date"`
	ActiveUsers   int64     `json:"active_users"`
	TimeEntries   int64     `json:"time_entries"`
	ExpensesCents int64     `json:"expenses_cents"`
	ComputedAt    time.Time `json:"computed_at"`
}
