package tenantdb

import (
	"context"
	"fmt"
	"time"
)

// Usage is one day's activity counts inside a tenant database.
type Usage struct {
	ActiveUsers   int
	TimeEntries   int
	ExpensesCents int64
}

// UsageOn counts the tenant's activity for one calendar day: distinct users
// who tracked time or filed an expense, the number of time entries, and the
// expense total in cents.
func UsageOn(ctx context.Context, q Querier, day time.Time) (Usage, error) {
	var u Usage
	err := q.QueryRow(ctx,
		`SELECT
		   (SELECT count(DISTINCT user_id) FROM (
		        SELECT user_id FROM time_entries WHERE entry_date = $1
		        UNION
		        SELECT user_id FROM expenses WHERE expense_date = $1
		    ) active),
		   (SELECT count(*) FROM time_entries WHERE entry_date = $1),
		   (SELECT COALESCE(sum(amount_cents), 0) FROM expenses WHERE expense_date = $1)`,
		day,
	).Scan(&u.ActiveUsers, &u.TimeEntries, &u.ExpensesCents)
	if err != nil {
		return Usage{}, fmt.Errorf("count usage for %s: %w", day.Format("2006-01-02"), err)
	}
	return u, nil
}
