package tenantdb

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// fakeDB is an in-memory Querier that understands just enough of the
// ledger and catalog SQL to drive migration and baseline logic.
type fakeDB struct {
	ledger  []ledgerRow // insertion order preserved
	execLog []string    // every statement seen, in order
	failOn  string      // substring that makes Exec fail
}

type ledgerRow struct {
	name  string
	batch int
}

func (f *fakeDB) recorded(name string) bool {
	for _, r := range f.ledger {
		if r.name == name {
			return true
		}
	}
	return false
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execLog = append(f.execLog, sql)
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return pgconn.CommandTag{}, fmt.Errorf("forced failure on %q", f.failOn)
	}
	if strings.Contains(sql, "INSERT INTO migrations") {
		name, _ := args[0].(string)
		batch, _ := args[1].(int)
		if f.recorded(name) {
			return pgconn.CommandTag{}, fmt.Errorf("duplicate migration %s", name)
		}
		f.ledger = append(f.ledger, ledgerRow{name: name, batch: batch})
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	if strings.Contains(sql, "SELECT migration FROM migrations") {
		names := make([]string, len(f.ledger))
		for i, r := range f.ledger {
			names[i] = r.name
		}
		return &fakeRows{names: names}, nil
	}
	return nil, fmt.Errorf("fakeDB: unexpected query %q", sql)
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	if strings.Contains(sql, "MAX(batch)") {
		maxBatch := 0
		for _, r := range f.ledger {
			if r.batch > maxBatch {
				maxBatch = r.batch
			}
		}
		return fakeRow{val: maxBatch + 1}
	}
	return fakeRow{err: fmt.Errorf("fakeDB: unexpected query row %q", sql)}
}

// fakeRows iterates a string column.
type fakeRows struct {
	names []string
	pos   int
}

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.names) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	p, ok := dest[0].(*string)
	if !ok {
		return fmt.Errorf("fakeRows: expected *string dest")
	}
	*p = r.names[r.pos-1]
	return nil
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return nil, nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

// fakeRow scans one int.
type fakeRow struct {
	val int
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	p, ok := dest[0].(*int)
	if !ok {
		return fmt.Errorf("fakeRow: expected *int dest")
	}
	*p = r.val
	return nil
}
