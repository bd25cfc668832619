package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/tenantdb/seed"
)

type provisionFixture struct {
	reg      *fakeRegistry
	admin    *fakeAdmin
	runner   *fakeRunner
	migrator *fakeMigrator
	seeder   *fakeSeeder
	sink     *fakeSink
	svc      *ProvisionService
}

func newProvisionFixture(cfg config.Provisioning) *provisionFixture {
	fx := &provisionFixture{
		reg:      newFakeRegistry(),
		admin:    newFakeAdmin(),
		runner:   newFakeRunner(),
		migrator: &fakeMigrator{names: []string{"0001_create_users", "0002_create_roles"}},
		seeder:   &fakeSeeder{name: "roles"},
		sink:     &fakeSink{},
	}
	fx.svc = NewProvisionService(
		fx.reg, fx.admin, fx.runner, fx.migrator,
		[]seed.Seeder{fx.seeder}, nil, fx.sink, cfg, "chrona_t_",
	)
	return fx
}

func provisioningConfig() config.Provisioning {
	return config.Provisioning{
		BcryptCost:       bcrypt.MinCost,
		CleanupOnFailure: true,
		DefaultPlan:      "standard",
		TrialDays:        14,
		BaseDomain:       "chrona.test",
	}
}

func signupReq(slug string) tenant.SignupRequest {
	return tenant.SignupRequest{
		Slug:       slug,
		Name:       "Acme Corp",
		OwnerName:  "Ada Admin",
		OwnerEmail: "ada@" + slug + ".test",
		Password:   "hunter2hunter2",
	}
}

func provisionStep(events []audit.Event, step string) (audit.Event, bool) {
	for _, e := range events {
		if e.Detail != nil && e.Detail["step"] == step {
			return e, true
		}
	}
	return audit.Event{}, false
}

func TestProvisionNewRunsFullPipeline(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	before := time.Now().UTC()

	got, err := fx.svc.ProvisionNew(context.Background(), signupReq("acme-corp"))
	if err != nil {
		t.Fatalf("ProvisionNew: %v", err)
	}

	if got.Status != tenant.StatusActive {
		t.Errorf("expected active status, got %q", got.Status)
	}
	if got.Plan != "standard" {
		t.Errorf("expected default plan, got %q", got.Plan)
	}
	if got.TrialEndsAt == nil || got.TrialEndsAt.Before(before.AddDate(0, 0, 13)) {
		t.Errorf("expected trial deadline about 14 days out, got %v", got.TrialEndsAt)
	}

	wantDB := got.DatabaseName("chrona_t_")
	if len(fx.admin.created) != 1 || fx.admin.created[0] != wantDB {
		t.Errorf("expected database %q created, got %v", wantDB, fx.admin.created)
	}

	domains, _ := fx.reg.ListDomains(context.Background(), got.ID)
	if len(domains) != 1 || domains[0].Domain != "acme-corp.chrona.test" || !domains[0].IsPrimary {
		t.Errorf("expected primary acme-corp.chrona.test domain, got %+v", domains)
	}

	if fx.migrator.runs != 1 {
		t.Errorf("expected 1 migration run, got %d", fx.migrator.runs)
	}
	if fx.seeder.runCount() != 1 {
		t.Errorf("expected 1 seeder run, got %d", fx.seeder.runCount())
	}
	if fx.runner.db.ownerCount() != 1 {
		t.Errorf("expected 1 owner principal, got %d", fx.runner.db.ownerCount())
	}

	stored, err := fx.reg.GetTenantBySlug(context.Background(), "acme-corp")
	if err != nil || stored.Status != tenant.StatusActive {
		t.Errorf("expected stored tenant active, got %+v (%v)", stored, err)
	}

	events := fx.sink.byAction(audit.ActionProvision)
	if len(events) == 0 {
		t.Fatal("expected provision audit events")
	}
	last := events[len(events)-1]
	if last.Outcome != audit.OutcomeOK || last.Detail["completed"] != true {
		t.Errorf("expected completed provision event, got %+v", last)
	}
}

func TestProvisionNewRejectsInvalidSlug(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())

	for _, slug := range []string{"Acme", "ab", "-bad-", "with_underscore"} {
		req := signupReq("acme-corp")
		req.Slug = slug
		req.OwnerEmail = "ada@acme.test"
		if _, err := fx.svc.ProvisionNew(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
			t.Errorf("slug %q: expected validation error, got %v", slug, err)
		}
	}

	tenants, _ := fx.reg.ListTenants(context.Background(), tenant.Filter{})
	if len(tenants) != 0 {
		t.Errorf("expected no rows after rejected signups, got %d", len(tenants))
	}
}

func TestProvisionNewRequiresCompleteRequest(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())

	req := signupReq("acme-corp")
	req.OwnerEmail = ""
	if _, err := fx.svc.ProvisionNew(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for missing email, got %v", err)
	}

	req = signupReq("acme-corp")
	req.Password = "short"
	if _, err := fx.svc.ProvisionNew(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("expected validation error for short password, got %v", err)
	}
}

func TestProvisionNewAdoptsExistingSlug(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	existing := registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusProvisioning)

	got, err := fx.svc.ProvisionNew(context.Background(), signupReq("acme-corp"))
	if err != nil {
		t.Fatalf("ProvisionNew: %v", err)
	}

	if got.ID != existing.ID {
		t.Errorf("expected the existing row adopted, got id %s", got.ID)
	}
	tenants, _ := fx.reg.ListTenants(context.Background(), tenant.Filter{})
	if len(tenants) != 1 {
		t.Errorf("expected a single tenant row, got %d", len(tenants))
	}
	if fx.runner.db.ownerCount() != 1 {
		t.Errorf("expected a single owner, got %d", fx.runner.db.ownerCount())
	}
	if got.Status != tenant.StatusActive {
		t.Errorf("expected adopted tenant activated, got %q", got.Status)
	}
}

func TestProvisionNewCleansUpRowOnFailure(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	fx.admin.createErr = errors.New("cluster down")

	_, err := fx.svc.ProvisionNew(context.Background(), signupReq("acme-corp"))
	if err == nil {
		t.Fatal("expected pipeline failure")
	}
	if !strings.Contains(err.Error(), "create_database") {
		t.Errorf("expected failing step in error, got %v", err)
	}

	tenants, _ := fx.reg.ListTenants(context.Background(), tenant.Filter{})
	if len(tenants) != 0 {
		t.Errorf("expected the created row removed again, got %d rows", len(tenants))
	}

	if e, ok := provisionStep(fx.sink.byAction(audit.ActionProvision), "create_database"); !ok || e.Outcome != audit.OutcomeFailed {
		t.Errorf("expected failed create_database audit event, got %+v (found=%v)", e, ok)
	}
}

func TestProvisionNewKeepsAdoptedRowOnFailure(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	existing := registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusProvisioning)
	fx.admin.createErr = errors.New("cluster down")

	if _, err := fx.svc.ProvisionNew(context.Background(), signupReq("acme-corp")); err == nil {
		t.Fatal("expected pipeline failure")
	}
	if !fx.reg.has(existing.ID) {
		t.Error("adopted row must survive a failed re-run")
	}
}

func TestProvisionNewKeepsRowWhenCleanupDisabled(t *testing.T) {
	cfg := provisioningConfig()
	cfg.CleanupOnFailure = false
	fx := newProvisionFixture(cfg)
	fx.admin.createErr = errors.New("cluster down")

	if _, err := fx.svc.ProvisionNew(context.Background(), signupReq("acme-corp")); err == nil {
		t.Fatal("expected pipeline failure")
	}

	tenants, _ := fx.reg.ListTenants(context.Background(), tenant.Filter{})
	if len(tenants) != 1 {
		t.Fatalf("expected the row kept for resume, got %d rows", len(tenants))
	}
	if tenants[0].Status != tenant.StatusProvisioning {
		t.Errorf("expected row left in provisioning, got %q", tenants[0].Status)
	}
}

func TestProvisionNewSkipsDomainWithoutBaseDomain(t *testing.T) {
	cfg := provisioningConfig()
	cfg.BaseDomain = ""
	fx := newProvisionFixture(cfg)

	got, err := fx.svc.ProvisionNew(context.Background(), signupReq("acme-corp"))
	if err != nil {
		t.Fatalf("ProvisionNew: %v", err)
	}

	domains, _ := fx.reg.ListDomains(context.Background(), got.ID)
	if len(domains) != 0 {
		t.Errorf("expected no domain rows, got %+v", domains)
	}
	if _, ok := provisionStep(fx.sink.byAction(audit.ActionProvision), "default_domain"); ok {
		t.Error("expected no default_domain step without a base domain")
	}
}

func TestResumeCompletesMissingSteps(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusProvisioning)

	got, err := fx.svc.Resume(context.Background(), "acme-corp", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if got.Status != tenant.StatusActive {
		t.Errorf("expected resumed tenant active, got %q", got.Status)
	}
	if len(fx.admin.created) != 1 {
		t.Errorf("expected database created, got %v", fx.admin.created)
	}
	if fx.runner.db.ownerCount() != 1 {
		t.Errorf("expected owner created, got %d", fx.runner.db.ownerCount())
	}

	events := fx.sink.byAction(audit.ActionProvision)
	last := events[len(events)-1]
	if last.Detail["resumed"] != true {
		t.Errorf("expected resumed completion event, got %+v", last)
	}
}

func TestResumeNeverDeletesOnFailure(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	existing := registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusProvisioning)
	fx.admin.createErr = errors.New("cluster down")

	if _, err := fx.svc.Resume(context.Background(), "acme-corp", "hunter2hunter2"); err == nil {
		t.Fatal("expected resume failure")
	}
	if !fx.reg.has(existing.ID) {
		t.Error("resume must never remove the tenant row")
	}
}

func TestResumeSecondRunFindsWorkDone(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	if _, err := fx.svc.ProvisionNew(context.Background(), signupReq("acme-corp")); err != nil {
		t.Fatalf("ProvisionNew: %v", err)
	}

	got, err := fx.svc.Resume(context.Background(), "acme-corp", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Resume after full provision: %v", err)
	}

	if len(fx.admin.created) != 1 {
		t.Errorf("expected no second database creation, got %v", fx.admin.created)
	}
	if fx.runner.db.ownerCount() != 1 {
		t.Errorf("expected no duplicate owner, got %d", fx.runner.db.ownerCount())
	}
	if got.Status != tenant.StatusActive {
		t.Errorf("expected tenant still active, got %q", got.Status)
	}
}

func TestResumeGeneratesOwnerPasswordWhenAbsent(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusProvisioning)

	if _, err := fx.svc.Resume(context.Background(), "acme-corp", ""); err != nil {
		t.Fatalf("Resume: %v", err)
	}

	if fx.runner.db.ownerCount() != 1 {
		t.Fatalf("expected owner created, got %d", fx.runner.db.ownerCount())
	}
	e, ok := provisionStep(fx.sink.byAction(audit.ActionProvision), "create_owner")
	if !ok || e.Detail["generated_password"] != true {
		t.Errorf("expected generated_password flagged in audit, got %+v (found=%v)", e, ok)
	}
}

func TestResumeKeepsNonProvisioningStatus(t *testing.T) {
	fx := newProvisionFixture(provisioningConfig())
	registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusSuspended)

	got, err := fx.svc.Resume(context.Background(), "acme-corp", "hunter2hunter2")
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got.Status != tenant.StatusSuspended {
		t.Errorf("expected suspended status untouched, got %q", got.Status)
	}
}
