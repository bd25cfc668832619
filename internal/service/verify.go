package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/dbadmin"
	"github.com/chronahq/tenancy/internal/port/registry"
	"github.com/chronahq/tenancy/internal/tenantdb"
)

// HealthCheck is one independently reported probe result.
type HealthCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// TenantHealth aggregates the verification probe's checks for one tenant.
type TenantHealth struct {
	Slug    string        `json:"slug"`
	Healthy bool          `json:"healthy"`
	Checks  []HealthCheck `json:"checks"`
}

func (h *TenantHealth) pass(name, detail string) {
	h.Checks = append(h.Checks, HealthCheck{Name: name, OK: true, Detail: detail})
}

func (h *TenantHealth) fail(name, detail string) {
	h.Checks = append(h.Checks, HealthCheck{Name: name, OK: false, Detail: detail})
}

// VerifyService is the read-only tenant integrity probe: central record,
// physical database, required tables, administrative principal. It never
// mutates anything.
type VerifyService struct {
	store    registry.Store
	admin    dbadmin.Admin
	switcher TenantRunner
	cfg      config.Verification
	dbPrefix string
}

// NewVerifyService creates a VerifyService.
func NewVerifyService(store registry.Store, admin dbadmin.Admin, switcher TenantRunner, cfg config.Verification, dbPrefix string) *VerifyService {
	return &VerifyService{
		store:    store,
		admin:    admin,
		switcher: switcher,
		cfg:      cfg,
		dbPrefix: dbPrefix,
	}
}

// Check probes one tenant. Probe-level problems (a missing database, an
// unreachable tenant schema) surface as failed checks, not errors; only a
// registry read failure aborts.
func (s *VerifyService) Check(ctx context.Context, slug string) (*TenantHealth, error) {
	h := &TenantHealth{Slug: slug}

	t, err := s.store.GetTenantBySlug(ctx, slug)
	if errors.Is(err, domain.ErrNotFound) {
		h.fail("central_record", "no central record")
		h.fail("database_exists", "not checked: no central record")
		h.fail("required_tables", "not checked: no central record")
		h.fail("admin_principal", "not checked: no central record")
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", slug, err)
	}
	h.pass("central_record", "status "+string(t.Status))

	name := t.DatabaseName(s.dbPrefix)
	exists, err := s.admin.Exists(ctx, name)
	switch {
	case err != nil:
		h.fail("database_exists", err.Error())
	case !exists:
		h.fail("database_exists", "database "+name+" missing")
	default:
		h.pass("database_exists", name)
	}

	s.checkTables(ctx, h, name)
	s.checkAdmin(ctx, h, t)

	h.Healthy = true
	for _, c := range h.Checks {
		if !c.OK {
			h.Healthy = false
			break
		}
	}
	return h, nil
}

func (s *VerifyService) checkTables(ctx context.Context, h *TenantHealth, name string) {
	tables, err := s.admin.ListTables(ctx, name)
	if err != nil {
		h.fail("required_tables", err.Error())
		return
	}

	present := make(map[string]bool, len(tables))
	for _, tb := range tables {
		present[tb] = true
	}
	var missing []string
	for _, want := range s.cfg.RequiredTables {
		if !present[want] {
			missing = append(missing, want)
		}
	}
	if len(missing) > 0 {
		h.fail("required_tables", "missing: "+strings.Join(missing, ", "))
		return
	}
	h.pass("required_tables", fmt.Sprintf("%d required, %d present", len(s.cfg.RequiredTables), len(tables)))
}

func (s *VerifyService) checkAdmin(ctx context.Context, h *TenantHealth, t *tenant.Tenant) {
	var has bool
	err := s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
		var aerr error
		has, aerr = tenantdb.HasAdminUser(ctx, q)
		return aerr
	})
	switch {
	case err != nil:
		h.fail("admin_principal", err.Error())
	case !has:
		h.fail("admin_principal", "no principal holds the admin role")
	default:
		h.pass("admin_principal", "admin role held")
	}
}
