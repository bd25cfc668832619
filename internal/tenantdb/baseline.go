package tenantdb

import (
	"context"
	"sort"
)

// BaselineReport is the outcome of one baseline reconciliation.
type BaselineReport struct {
	Missing []string
	Batch   int
	DryRun  bool
}

// Reconcile records the known migration names as already applied, without
// executing anything. For schemas created out-of-band: the ledger table is
// created if missing, missing = sorted(known) minus recorded, and each
// missing name is inserted under the given batch in sorted order. Dry-run
// reports the missing set and writes nothing. A second run with unchanged
// inputs inserts zero rows.
func Reconcile(ctx context.Context, q Querier, known []string, batch int, dryRun bool) (BaselineReport, error) {
	report := BaselineReport{Batch: batch, DryRun: dryRun}

	if err := EnsureLedger(ctx, q); err != nil {
		return report, err
	}
	recorded, err := Recorded(ctx, q)
	if err != nil {
		return report, err
	}

	sorted := make([]string, len(known))
	copy(sorted, known)
	sort.Strings(sorted)

	for _, name := range sorted {
		if !recorded[name] {
			report.Missing = append(report.Missing, name)
		}
	}

	if dryRun {
		return report, nil
	}

	for _, name := range report.Missing {
		if err := Record(ctx, q, name, batch); err != nil {
			return report, err
		}
	}
	return report, nil
}
