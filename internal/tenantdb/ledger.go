package tenantdb

import (
	"context"
	"fmt"
)

// The ledger table inside every tenant database. A recorded migration name
// is append-only and unique; nothing ever updates or deletes a row except
// Fresh, which drops the whole schema.

// EnsureLedger creates the migrations ledger table if it is missing.
func EnsureLedger(ctx context.Context, q Querier) error {
	_, err := q.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS migrations (
		     id serial PRIMARY KEY,
		     migration text NOT NULL UNIQUE,
		     batch integer NOT NULL
		 )`)
	if err != nil {
		return fmt.Errorf("ensure migrations ledger: %w", err)
	}
	return nil
}

// Recorded returns the set of migration names the ledger already holds.
func Recorded(ctx context.Context, q Querier) (map[string]bool, error) {
	rows, err := q.Query(ctx, `SELECT migration FROM migrations`)
	if err != nil {
		return nil, fmt.Errorf("read migrations ledger: %w", err)
	}
	defer rows.Close()

	recorded := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		recorded[name] = true
	}
	return recorded, rows.Err()
}

// Record appends one migration name to the ledger under the given batch.
func Record(ctx context.Context, q Querier, name string, batch int) error {
	_, err := q.Exec(ctx,
		`INSERT INTO migrations (migration, batch) VALUES ($1, $2)`, name, batch)
	if err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	return nil
}

// NextBatch returns the batch number the next migration run should use.
func NextBatch(ctx context.Context, q Querier) (int, error) {
	var batch int
	err := q.QueryRow(ctx, `SELECT COALESCE(MAX(batch), 0) + 1 FROM migrations`).Scan(&batch)
	if err != nil {
		return 0, fmt.Errorf("read max batch: %w", err)
	}
	return batch, nil
}
