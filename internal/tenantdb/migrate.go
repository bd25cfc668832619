package tenantdb

import (
	"context"
	"fmt"
	"log/slog"
)

// Migrator applies the catalog to tenant databases through the ledger.
type Migrator struct {
	catalog *Catalog
}

// NewMigrator creates a Migrator over the given catalog.
func NewMigrator(catalog *Catalog) *Migrator {
	return &Migrator{catalog: catalog}
}

// Names returns the catalog's migration names in execution order.
func (m *Migrator) Names() []string {
	return m.catalog.Names()
}

// Pending returns the catalog names not yet recorded in the ledger, in
// execution order. The ledger table is created if missing.
func (m *Migrator) Pending(ctx context.Context, q Querier) ([]string, error) {
	if err := EnsureLedger(ctx, q); err != nil {
		return nil, err
	}
	recorded, err := Recorded(ctx, q)
	if err != nil {
		return nil, err
	}

	var pending []string
	for _, name := range m.catalog.Names() {
		if !recorded[name] {
			pending = append(pending, name)
		}
	}
	return pending, nil
}

// Migrate applies every pending migration in order, recording each under a
// single new batch. Re-running against an up-to-date database applies
// nothing and is not an error.
func (m *Migrator) Migrate(ctx context.Context, q Querier) ([]string, error) {
	pending, err := m.Pending(ctx, q)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	batch, err := NextBatch(ctx, q)
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, name := range pending {
		if err := m.catalog.Apply(ctx, q, name); err != nil {
			return applied, err
		}
		if err := Record(ctx, q, name, batch); err != nil {
			return applied, err
		}
		applied = append(applied, name)
		slog.Debug("migration applied", "migration", name, "batch", batch)
	}
	return applied, nil
}

// Fresh drops the entire public schema and re-applies the catalog from
// scratch. Destroys all tenant data; the CLI guards it behind --fresh.
func (m *Migrator) Fresh(ctx context.Context, q Querier) ([]string, error) {
	if _, err := q.Exec(ctx, `DROP SCHEMA public CASCADE`); err != nil {
		return nil, fmt.Errorf("drop schema: %w", err)
	}
	if _, err := q.Exec(ctx, `CREATE SCHEMA public`); err != nil {
		return nil, fmt.Errorf("recreate schema: %w", err)
	}
	return m.Migrate(ctx, q)
}
