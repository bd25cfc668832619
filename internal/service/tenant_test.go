package service

import (
	"context"
	"errors"
	"testing"

	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
)

type tenantFixture struct {
	reg    *fakeRegistry
	admin  *fakeAdmin
	runner *fakeRunner
	sink   *fakeSink
	svc    *TenantService
}

func newTenantFixture() *tenantFixture {
	fx := &tenantFixture{
		reg:    newFakeRegistry(),
		admin:  newFakeAdmin(),
		runner: newFakeRunner(),
		sink:   &fakeSink{},
	}
	fx.svc = NewTenantService(fx.reg, fx.admin, fx.runner, nil, fx.sink, "chrona_t_")
	return fx
}

func TestDestroyRemovesPoolRowAndDatabase(t *testing.T) {
	fx := newTenantFixture()
	row := registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusActive)
	name := row.DatabaseName("chrona_t_")
	fx.admin.existing[name] = true

	if err := fx.svc.Destroy(context.Background(), row); err != nil {
		t.Fatalf("Destroy: %v", err)
	}

	if len(fx.runner.forgot) != 1 || fx.runner.forgot[0] != row.ID {
		t.Errorf("expected pool forgotten for %s, got %v", row.ID, fx.runner.forgot)
	}
	if len(fx.reg.deleted) != 1 || fx.reg.deleted[0] != row.ID {
		t.Errorf("expected central row deleted, got %v", fx.reg.deleted)
	}
	if len(fx.admin.dropped) != 1 || fx.admin.dropped[0] != name {
		t.Errorf("expected database %s dropped, got %v", name, fx.admin.dropped)
	}
}

func TestDestroyNeverDropsBeforeCentralDelete(t *testing.T) {
	fx := newTenantFixture()
	row := registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusActive)
	fx.reg.deleteErr = errors.New("registry down")

	err := fx.svc.Destroy(context.Background(), row)
	if err == nil {
		t.Fatal("expected destroy failure")
	}
	if len(fx.admin.dropped) != 0 {
		t.Errorf("database must not be dropped when the central delete failed, got %v", fx.admin.dropped)
	}
	if len(fx.runner.forgot) != 1 {
		t.Errorf("expected cached pool forgotten before the delete attempt, got %v", fx.runner.forgot)
	}
}

func TestDestroyRejectsMissingDatabaseName(t *testing.T) {
	fx := newTenantFixture()

	err := fx.svc.Destroy(context.Background(), &tenant.Tenant{Slug: "ghost"})
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if len(fx.reg.deleted) != 0 || len(fx.admin.dropped) != 0 {
		t.Error("nothing may be touched for a tenant without a database name")
	}
}

func TestDeleteAuditsSuccess(t *testing.T) {
	fx := newTenantFixture()
	row := registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusActive)
	fx.admin.existing[row.DatabaseName("chrona_t_")] = true

	if err := fx.svc.Delete(context.Background(), "acme-corp"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	events := fx.sink.byAction(audit.ActionDelete)
	if len(events) != 1 || events[0].Outcome != audit.OutcomeOK || events[0].TenantSlug != "acme-corp" {
		t.Errorf("expected one ok delete event, got %+v", events)
	}
}

func TestDeleteAuditsFailure(t *testing.T) {
	fx := newTenantFixture()
	row := registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusActive)
	fx.admin.dropErrFor[row.DatabaseName("chrona_t_")] = errors.New("still has sessions")

	if err := fx.svc.Delete(context.Background(), "acme-corp"); err == nil {
		t.Fatal("expected delete failure")
	}

	events := fx.sink.byAction(audit.ActionDelete)
	if len(events) != 1 || events[0].Outcome != audit.OutcomeFailed || events[0].Error == "" {
		t.Errorf("expected one failed delete event with an error, got %+v", events)
	}
}

func TestDeleteUnknownSlug(t *testing.T) {
	fx := newTenantFixture()
	if err := fx.svc.Delete(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestListRejectsUnknownStatus(t *testing.T) {
	fx := newTenantFixture()
	if _, err := fx.svc.List(context.Background(), tenant.Filter{Status: "bogus"}); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersByStatus(t *testing.T) {
	fx := newTenantFixture()
	registryTenant(fx.reg, "3f8a1c2e-9b4d-4e6f-8a01-2b3c4d5e6f70", "acme-corp", tenant.StatusActive)
	registryTenant(fx.reg, "5a6b7c8d-1e2f-4a3b-9c4d-5e6f7a8b9c0d", "initech", tenant.StatusSuspended)

	got, err := fx.svc.List(context.Background(), tenant.Filter{Status: tenant.StatusSuspended})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0].Slug != "initech" {
		t.Errorf("expected only initech, got %+v", got)
	}
}
