package service

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	tnotel "github.com/chronahq/tenancy/internal/adapter/otel"
	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/dbadmin"
	"github.com/chronahq/tenancy/internal/port/registry"
	"github.com/chronahq/tenancy/internal/resilience"
	"github.com/chronahq/tenancy/internal/tenantdb"
	"github.com/chronahq/tenancy/internal/tenantdb/seed"
)

// SchemaMigrator applies the tenant schema catalog to one database.
type SchemaMigrator interface {
	Migrate(ctx context.Context, q tenantdb.Querier) ([]string, error)
}

// ProvisionService drives the tenant provisioning pipeline: central record
// and default domain, physical database, schema, reference data, owner
// principal. Every step checks for its own work being already done, so the
// pipeline re-runs safely against a half-provisioned tenant and completes
// whatever is missing.
type ProvisionService struct {
	store    registry.Store
	admin    dbadmin.Admin
	switcher TenantRunner
	migrator SchemaMigrator
	seeders  []seed.Seeder
	breaker  *resilience.Breaker
	sink     audit.Sink
	cfg      config.Provisioning
	dbPrefix string
}

// NewProvisionService creates a ProvisionService.
func NewProvisionService(
	store registry.Store,
	admin dbadmin.Admin,
	switcher TenantRunner,
	migrator SchemaMigrator,
	seeders []seed.Seeder,
	breaker *resilience.Breaker,
	sink audit.Sink,
	cfg config.Provisioning,
	dbPrefix string,
) *ProvisionService {
	return &ProvisionService{
		store:    store,
		admin:    admin,
		switcher: switcher,
		migrator: migrator,
		seeders:  seeders,
		breaker:  breaker,
		sink:     sink,
		cfg:      cfg,
		dbPrefix: dbPrefix,
	}
}

// ProvisionNew registers a tenant and runs the full pipeline. Used by the
// signup endpoint and `tenants create`. When the pipeline fails and
// cleanup_on_failure is set, the tenant row created by this invocation is
// deleted again; a row that already existed (concurrent signup for the same
// slug) is always left alone.
func (s *ProvisionService) ProvisionNew(ctx context.Context, req tenant.SignupRequest) (*tenant.Tenant, error) {
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if !slugRegex.MatchString(req.Slug) {
		return nil, fmt.Errorf("%w: invalid slug %q: must be 3-64 lowercase alphanumeric characters or hyphens", domain.ErrValidation, req.Slug)
	}

	now := time.Now().UTC()
	trialEnds := now.AddDate(0, 0, s.cfg.TrialDays)
	plan := req.Plan
	if plan == "" {
		plan = s.cfg.DefaultPlan
	}

	t := &tenant.Tenant{
		ID:          uuid.NewString(),
		Slug:        req.Slug,
		Name:        req.Name,
		Status:      tenant.StatusProvisioning,
		Plan:        plan,
		OwnerName:   req.OwnerName,
		OwnerEmail:  req.OwnerEmail,
		TrialEndsAt: &trialEnds,
	}

	createdRow := true
	err := s.store.CreateTenant(ctx, t)
	switch {
	case errors.Is(err, domain.ErrAlreadySatisfied):
		// Concurrent signup for the same slug. Adopt the existing row and
		// let the remaining steps find their work already done.
		createdRow = false
		existing, getErr := s.store.GetTenantBySlug(ctx, req.Slug)
		if getErr != nil {
			return nil, fmt.Errorf("get tenant %s after duplicate signup: %w", req.Slug, getErr)
		}
		t = existing
	case err != nil:
		return nil, fmt.Errorf("create tenant %s: %w", req.Slug, err)
	}
	if err := s.step(ctx, t, "central_record", map[string]any{"created": createdRow}, nil); err != nil {
		return nil, err
	}

	if err := s.pipeline(ctx, t, req.Password); err != nil {
		if createdRow && s.cfg.CleanupOnFailure {
			if delErr := s.store.DeleteTenant(ctx, t.ID); delErr != nil {
				slog.Error("cleanup of failed signup left the tenant row behind", "slug", t.Slug, "error", delErr)
			} else {
				slog.Warn("removed tenant row after failed signup", "slug", t.Slug)
			}
		}
		return nil, err
	}

	if err := s.activate(ctx, t); err != nil {
		return nil, err
	}

	slog.Info("tenant provisioned", "slug", t.Slug, "tenant_id", t.ID)
	recordAudit(ctx, s.sink, audit.Event{
		Action:     audit.ActionProvision,
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		Outcome:    audit.OutcomeOK,
		Detail:     map[string]any{"completed": true, "resumed": false},
	})
	return t, nil
}

// Resume re-runs the pipeline for an existing tenant, completing whatever
// steps are still missing. It never deletes anything on failure. When the
// owner principal turns out to be missing and ownerPassword is empty, a
// random password is generated and flagged in the audit detail; the owner
// then needs a password reset before first login.
func (s *ProvisionService) Resume(ctx context.Context, slug, ownerPassword string) (*tenant.Tenant, error) {
	t, err := s.store.GetTenantBySlug(ctx, slug)
	if err != nil {
		return nil, fmt.Errorf("get tenant %s: %w", slug, err)
	}
	if err := s.step(ctx, t, "central_record", map[string]any{"created": false}, nil); err != nil {
		return nil, err
	}

	if err := s.pipeline(ctx, t, ownerPassword); err != nil {
		return nil, err
	}
	if err := s.activate(ctx, t); err != nil {
		return nil, err
	}

	slog.Info("tenant provisioning resumed to completion", "slug", t.Slug, "tenant_id", t.ID)
	recordAudit(ctx, s.sink, audit.Event{
		Action:     audit.ActionProvision,
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		Outcome:    audit.OutcomeOK,
		Detail:     map[string]any{"completed": true, "resumed": true},
	})
	return t, nil
}

func (s *ProvisionService) pipeline(ctx context.Context, t *tenant.Tenant, ownerPassword string) error {
	ctx, span := tnotel.StartProvisionSpan(ctx, t.Slug)
	defer span.End()

	if err := s.ensureDomain(ctx, t); err != nil {
		return err
	}
	if err := s.ensureDatabase(ctx, t); err != nil {
		return err
	}
	if err := s.applySchema(ctx, t); err != nil {
		return err
	}
	if err := s.seedReferenceData(ctx, t); err != nil {
		return err
	}
	return s.ensureOwner(ctx, t, ownerPassword)
}

func (s *ProvisionService) ensureDomain(ctx context.Context, t *tenant.Tenant) error {
	if s.cfg.BaseDomain == "" {
		return nil
	}
	d := tenant.Domain{
		TenantID:  t.ID,
		Domain:    t.Slug + "." + s.cfg.BaseDomain,
		IsPrimary: true,
	}
	err := s.store.EnsureDomain(ctx, d)
	return s.step(ctx, t, "default_domain", map[string]any{"domain": d.Domain}, err)
}

func (s *ProvisionService) ensureDatabase(ctx context.Context, t *tenant.Tenant) error {
	name := t.DatabaseName(s.dbPrefix)
	if name == "" {
		return s.step(ctx, t, "create_database", nil, fmt.Errorf("tenant has no database name: %w", domain.ErrConfiguration))
	}

	var created bool
	err := guard(s.breaker, func() error {
		var cerr error
		created, cerr = s.admin.CreateIfNotExists(ctx, name)
		return cerr
	})
	return s.step(ctx, t, "create_database", map[string]any{"database": name, "created": created}, err)
}

func (s *ProvisionService) applySchema(ctx context.Context, t *tenant.Tenant) error {
	var applied []string
	err := s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
		var merr error
		applied, merr = s.migrator.Migrate(ctx, q)
		return merr
	})
	return s.step(ctx, t, "migrate_schema", map[string]any{"applied": len(applied)}, err)
}

func (s *ProvisionService) seedReferenceData(ctx context.Context, t *tenant.Tenant) error {
	err := s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
		for _, sd := range s.seeders {
			if err := sd.Run(ctx, q); err != nil {
				return fmt.Errorf("seeder %s: %w", sd.Name(), err)
			}
		}
		return nil
	})
	return s.step(ctx, t, "seed_reference_data", map[string]any{"seeders": len(s.seeders)}, err)
}

func (s *ProvisionService) ensureOwner(ctx context.Context, t *tenant.Tenant, password string) error {
	generated := false
	if password == "" {
		raw := make([]byte, 16)
		if _, err := rand.Read(raw); err != nil {
			return s.step(ctx, t, "create_owner", nil, fmt.Errorf("generate password: %w", err))
		}
		password = hex.EncodeToString(raw)
		generated = true
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return s.step(ctx, t, "create_owner", nil, fmt.Errorf("hash password: %w", err))
	}

	var created bool
	err = s.switcher.Run(ctx, t, func(ctx context.Context, q tenantdb.Querier) error {
		var oerr error
		created, oerr = tenantdb.EnsureOwner(ctx, q, t.OwnerName, t.OwnerEmail, string(hash))
		return oerr
	})

	detail := map[string]any{"created": created}
	if err == nil && created && generated {
		detail["generated_password"] = true
		slog.Warn("owner created with a generated password; a reset is required before first login",
			"slug", t.Slug, "email", t.OwnerEmail)
	}
	return s.step(ctx, t, "create_owner", detail, err)
}

// activate flips a freshly provisioned tenant out of the provisioning
// status. Tenants resumed after e.g. a suspension keep their status.
func (s *ProvisionService) activate(ctx context.Context, t *tenant.Tenant) error {
	if t.Status != tenant.StatusProvisioning {
		return nil
	}
	if err := s.store.UpdateTenantStatus(ctx, t.ID, tenant.StatusActive); err != nil {
		return fmt.Errorf("activate tenant %s: %w", t.Slug, err)
	}
	t.Status = tenant.StatusActive
	return nil
}

// step logs one pipeline step and records it in the audit trail; failures
// come back wrapped with tenant context.
func (s *ProvisionService) step(ctx context.Context, t *tenant.Tenant, name string, detail map[string]any, err error) error {
	if err != nil {
		slog.Error("provisioning step failed", "slug", t.Slug, "step", name, "error", err)
		recordAudit(ctx, s.sink, audit.Event{
			Action:     audit.ActionProvision,
			TenantID:   t.ID,
			TenantSlug: t.Slug,
			Outcome:    audit.OutcomeFailed,
			Detail:     map[string]any{"step": name},
			Error:      err.Error(),
		})
		return fmt.Errorf("provision %s: %s: %w", t.Slug, name, err)
	}

	slog.Info("provisioning step done", "slug", t.Slug, "step", name)
	if detail == nil {
		detail = map[string]any{}
	}
	detail["step"] = name
	recordAudit(ctx, s.sink, audit.Event{
		Action:     audit.ActionProvision,
		TenantID:   t.ID,
		TenantSlug: t.Slug,
		Outcome:    audit.OutcomeOK,
		Detail:     detail,
	})
	return nil
}
