package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/lifecycle"
	"github.com/chronahq/tenancy/internal/domain/metrics"
	"github.com/chronahq/tenancy/internal/domain/subscription"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/tenantdb"
)

// fakeRegistry is an in-memory registry.Store.
type fakeRegistry struct {
	mu      sync.Mutex
	tenants map[string]*tenant.Tenant
	order   []string
	domains []tenant.Domain
	subs    map[string]*subscription.Subscription
	usage   []metrics.DailyUsage

	createErr   error
	deleteErr   error
	scheduleErr error
	subErrFor   map[string]error

	deleted   []string
	scheduled map[string]time.Time
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{
		tenants:   map[string]*tenant.Tenant{},
		subs:      map[string]*subscription.Subscription{},
		subErrFor: map[string]error{},
		scheduled: map[string]time.Time{},
	}
}

func (f *fakeRegistry) add(t *tenant.Tenant) *tenant.Tenant {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tenants[t.ID] = t
	f.order = append(f.order, t.ID)
	return t
}

func (f *fakeRegistry) GetTenant(_ context.Context, id string) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return nil, fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	return t, nil
}

func (f *fakeRegistry) GetTenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range f.order {
		if f.tenants[id].Slug == slug {
			return f.tenants[id], nil
		}
	}
	return nil, fmt.Errorf("tenant %s: %w", slug, domain.ErrNotFound)
}

func (f *fakeRegistry) ListTenants(_ context.Context, flt tenant.Filter) ([]tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tenant.Tenant
	for _, id := range f.order {
		t := f.tenants[id]
		if flt.Status != "" && t.Status != flt.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (f *fakeRegistry) CreateTenant(_ context.Context, t *tenant.Tenant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	for _, id := range f.order {
		if f.tenants[id].Slug == t.Slug {
			return fmt.Errorf("tenant %s: %w", t.Slug, domain.ErrAlreadySatisfied)
		}
	}
	cp := *t
	f.tenants[t.ID] = &cp
	f.order = append(f.order, t.ID)
	return nil
}

func (f *fakeRegistry) UpdateTenantStatus(_ context.Context, id string, status tenant.Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	t.Status = status
	return nil
}

func (f *fakeRegistry) SetSubscriptionState(_ context.Context, id string, state lifecycle.State, changedAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tenants[id]
	if !ok {
		return fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	t.SubscriptionState = state
	if changedAt != nil {
		at := *changedAt
		t.SubscriptionLastStatusChangeAt = &at
	}
	return nil
}

func (f *fakeRegistry) DeleteTenant(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if _, ok := f.tenants[id]; !ok {
		return fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	delete(f.tenants, id)
	for i, oid := range f.order {
		if oid == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeRegistry) ListUnscheduled(_ context.Context) ([]tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tenant.Tenant
	for _, id := range f.order {
		if f.tenants[id].ScheduledForDeletionAt == nil {
			out = append(out, *f.tenants[id])
		}
	}
	return out, nil
}

func (f *fakeRegistry) ListPurgeCandidates(_ context.Context, now time.Time, limit int) ([]tenant.Tenant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tenant.Tenant
	for _, id := range f.order {
		t := f.tenants[id]
		if t.ScheduledForDeletionAt != nil && !t.ScheduledForDeletionAt.After(now) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].ScheduledForDeletionAt.Before(*out[j].ScheduledForDeletionAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeRegistry) ScheduleDeletion(_ context.Context, id string, deadline time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scheduleErr != nil {
		return f.scheduleErr
	}
	t, ok := f.tenants[id]
	if !ok {
		return fmt.Errorf("tenant %s: %w", id, domain.ErrNotFound)
	}
	d := deadline
	t.ScheduledForDeletionAt = &d
	t.DataRetentionUntil = &d
	f.scheduled[id] = deadline
	return nil
}

func (f *fakeRegistry) EnsureDomain(_ context.Context, d tenant.Domain) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.domains {
		if existing.TenantID == d.TenantID && existing.Domain == d.Domain {
			return nil
		}
	}
	f.domains = append(f.domains, d)
	return nil
}

func (f *fakeRegistry) ListDomains(_ context.Context, tenantID string) ([]tenant.Domain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []tenant.Domain
	for _, d := range f.domains {
		if d.TenantID == tenantID {
			out = append(out, d)
		}
	}
	return out, nil
}

func (f *fakeRegistry) GetSubscription(_ context.Context, tenantID string) (*subscription.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.subErrFor[tenantID]; err != nil {
		return nil, err
	}
	return f.subs[tenantID], nil
}

func (f *fakeRegistry) UpsertDailyUsage(_ context.Context, u metrics.DailyUsage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.usage {
		if existing.TenantID == u.TenantID && existing.Date.Equal(u.Date) {
			f.usage[i] = u
			return nil
		}
	}
	f.usage = append(f.usage, u)
	return nil
}

func (f *fakeRegistry) ListDailyUsage(_ context.Context, date time.Time) ([]metrics.DailyUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []metrics.DailyUsage
	for _, u := range f.usage {
		if u.Date.Equal(date) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeRegistry) Ping(context.Context) error { return nil }

func (f *fakeRegistry) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.tenants[id]
	return ok
}

// fakeAdmin is an in-memory dbadmin.Admin.
type fakeAdmin struct {
	mu       sync.Mutex
	existing map[string]bool
	tables   map[string][]string

	createErr  error
	dropErrFor map[string]error
	listErr    error

	created []string
	dropped []string
}

func newFakeAdmin() *fakeAdmin {
	return &fakeAdmin{
		existing:   map[string]bool{},
		tables:     map[string][]string{},
		dropErrFor: map[string]error{},
	}
}

func (a *fakeAdmin) CreateIfNotExists(_ context.Context, name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.createErr != nil {
		return false, a.createErr
	}
	if a.existing[name] {
		return false, nil
	}
	a.existing[name] = true
	a.created = append(a.created, name)
	return true, nil
}

func (a *fakeAdmin) Drop(_ context.Context, name string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.dropErrFor[name]; err != nil {
		return err
	}
	delete(a.existing, name)
	a.dropped = append(a.dropped, name)
	return nil
}

func (a *fakeAdmin) Exists(_ context.Context, name string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.existing[name], nil
}

func (a *fakeAdmin) ListTables(_ context.Context, name string) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	return a.tables[name], nil
}

// fakeRunner satisfies TenantRunner, handing each callback an in-memory
// tenant database.
type fakeRunner struct {
	mu     sync.Mutex
	db     *fakeTenantDB
	runErr error
	runs   int
	forgot []string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{db: &fakeTenantDB{}}
}

func (r *fakeRunner) Run(ctx context.Context, _ *tenant.Tenant, fn func(ctx context.Context, q tenantdb.Querier) error) error {
	r.mu.Lock()
	if r.runErr != nil {
		r.mu.Unlock()
		return r.runErr
	}
	r.runs++
	db := r.db
	r.mu.Unlock()
	return fn(ctx, db)
}

func (r *fakeRunner) Forget(t *tenant.Tenant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.forgot = append(r.forgot, t.ID)
}

// fakeTenantDB answers the owner, role, ledger and usage statements the
// services run inside a tenant database.
type fakeTenantDB struct {
	mu       sync.Mutex
	users    map[string]int64
	nextID   int64
	hasAdmin bool
	usage    tenantdb.Usage
	ledger   []ledgerEntry
	execs    []string
}

type ledgerEntry struct {
	name  string
	batch int
}

func (f *fakeTenantDB) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, sql)
	switch {
	case strings.Contains(sql, "INSERT INTO role_user"):
		f.hasAdmin = true
	case strings.Contains(sql, "INSERT INTO migrations"):
		name, _ := args[0].(string)
		batch, _ := args[1].(int)
		f.ledger = append(f.ledger, ledgerEntry{name: name, batch: batch})
	}
	return pgconn.CommandTag{}, nil
}

func (f *fakeTenantDB) Query(_ context.Context, sql string, _ ...any) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.Contains(sql, "SELECT migration FROM migrations") {
		names := make([]string, len(f.ledger))
		for i, e := range f.ledger {
			names[i] = e.name
		}
		return &stringRows{names: names}, nil
	}
	return nil, fmt.Errorf("fakeTenantDB: unexpected query %q", sql)
}

func (f *fakeTenantDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case strings.Contains(sql, "SELECT id FROM users WHERE email"):
		email, _ := args[0].(string)
		if id, ok := f.users[email]; ok {
			return valueRow{vals: []any{id}}
		}
		return valueRow{err: pgx.ErrNoRows}
	case strings.Contains(sql, "INSERT INTO users"):
		email, _ := args[1].(string)
		if f.users == nil {
			f.users = map[string]int64{}
		}
		f.nextID++
		f.users[email] = f.nextID
		return valueRow{vals: []any{f.nextID}}
	case strings.Contains(sql, "FROM role_user"):
		if f.hasAdmin {
			return valueRow{vals: []any{1}}
		}
		return valueRow{err: pgx.ErrNoRows}
	case strings.Contains(sql, "FROM time_entries"):
		return valueRow{vals: []any{f.usage.ActiveUsers, f.usage.TimeEntries, f.usage.ExpensesCents}}
	case strings.Contains(sql, "MAX(batch)"):
		maxBatch := 0
		for _, e := range f.ledger {
			if e.batch > maxBatch {
				maxBatch = e.batch
			}
		}
		return valueRow{vals: []any{maxBatch + 1}}
	}
	return valueRow{err: fmt.Errorf("fakeTenantDB: unexpected query row %q", sql)}
}

func (f *fakeTenantDB) ownerCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.users)
}

func (f *fakeTenantDB) ledgerNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	names := make([]string, len(f.ledger))
	for i, e := range f.ledger {
		names[i] = e.name
	}
	return names
}

// valueRow is a single pgx.Row holding already-typed column values.
type valueRow struct {
	vals []any
	err  error
}

func (r valueRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i := range dest {
		switch p := dest[i].(type) {
		case *int:
			*p = r.vals[i].(int)
		case *int64:
			*p = r.vals[i].(int64)
		case *string:
			*p = r.vals[i].(string)
		default:
			return fmt.Errorf("valueRow: unsupported dest %T", dest[i])
		}
	}
	return nil
}

// stringRows iterates one text column.
type stringRows struct {
	names []string
	pos   int
}

func (r *stringRows) Next() bool {
	if r.pos >= len(r.names) {
		return false
	}
	r.pos++
	return true
}

func (r *stringRows) Scan(dest ...any) error {
	p, ok := dest[0].(*string)
	if !ok {
		return fmt.Errorf("stringRows: expected *string dest")
	}
	*p = r.names[r.pos-1]
	return nil
}

func (r *stringRows) Close()                                       {}
func (r *stringRows) Err() error                                   { return nil }
func (r *stringRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stringRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stringRows) Values() ([]any, error)                       { return nil, nil }
func (r *stringRows) RawValues() [][]byte                          { return nil }
func (r *stringRows) Conn() *pgx.Conn                              { return nil }

// fakeSink records audit events.
type fakeSink struct {
	mu     sync.Mutex
	events []audit.Event
	err    error
}

func (s *fakeSink) Record(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSink) byAction(a audit.Action) []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []audit.Event
	for _, e := range s.events {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// fakeMigrator satisfies CatalogRunner without touching a database.
type fakeMigrator struct {
	mu      sync.Mutex
	names   []string
	err     error
	runs    int
	freshes int
}

func (m *fakeMigrator) Migrate(context.Context, tenantdb.Querier) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.runs++
	return m.names, nil
}

func (m *fakeMigrator) Fresh(context.Context, tenantdb.Querier) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	m.freshes++
	return m.names, nil
}

func (m *fakeMigrator) Pending(context.Context, tenantdb.Querier) ([]string, error) {
	return nil, nil
}

func (m *fakeMigrator) Names() []string { return m.names }

// fakeSeeder counts its runs.
type fakeSeeder struct {
	mu   sync.Mutex
	name string
	err  error
	runs int
}

func (s *fakeSeeder) Name() string { return s.name }

func (s *fakeSeeder) Run(context.Context, tenantdb.Querier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.runs++
	return nil
}

func (s *fakeSeeder) runCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs
}

// registryTenant adds a minimally valid tenant row to the fake registry.
func registryTenant(f *fakeRegistry, id, slug string, status tenant.Status) *tenant.Tenant {
	now := time.Now().UTC().Add(-time.Hour)
	return f.add(&tenant.Tenant{
		ID:         id,
		Slug:       slug,
		Name:       slug,
		Status:     status,
		Plan:       "standard",
		OwnerName:  "Owner",
		OwnerEmail: slug + "@example.com",
		CreatedAt:  now,
		UpdatedAt:  now,
	})
}

func timePtr(t time.Time) *time.Time { return &t }
