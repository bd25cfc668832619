//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/service"
)

// signup registers a tenant through the API and returns the decoded row.
// Provisioning runs synchronously, so the returned tenant is fully built.
func signup(t *testing.T, slug, name string) tenant.Tenant {
	t.Helper()

	body, _ := json.Marshal(map[string]any{
		"slug":        slug,
		"name":        name,
		"owner_name":  "Ada Admin",
		"owner_email": "ada@" + slug + ".test",
		"password":    "integration-pass-1",
	})

	resp, err := http.Post(testServer.URL+"/api/v1/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("signup %s: %v", slug, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("signup %s: expected 201, got %d", slug, resp.StatusCode)
	}

	var created tenant.Tenant
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return created
}

func TestSignupProvisionLifecycle(t *testing.T) {
	cleanDB(testPool)

	created := signup(t, "acme-travel", "Acme Travel")

	if created.ID == "" {
		t.Fatal("expected non-empty tenant ID")
	}
	if created.Status != tenant.StatusActive {
		t.Fatalf("expected status %q, got %q", tenant.StatusActive, created.Status)
	}
	if created.TrialEndsAt == nil {
		t.Fatal("expected a trial deadline on the fresh tenant")
	}

	dbName := created.DatabaseName(testCfg.TenantDB.NamePrefix)
	if !databaseExists(t, dbName) {
		t.Fatalf("expected physical database %s after provisioning", dbName)
	}

	// A second signup for the same slug adopts the existing tenant and
	// re-runs the pipeline instead of failing.
	again := signup(t, "acme-travel", "Acme Travel")
	if again.ID != created.ID {
		t.Fatalf("duplicate signup returned a different tenant: %s vs %s", again.ID, created.ID)
	}

	// 1. Get by slug
	resp, err := http.Get(testServer.URL + "/api/v1/tenants/acme-travel")
	if err != nil {
		t.Fatalf("get tenant: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", resp.StatusCode)
	}

	var fetched tenant.Tenant
	if err := json.NewDecoder(resp.Body).Decode(&fetched); err != nil {
		t.Fatalf("decode fetched: %v", err)
	}
	if fetched.ID != created.ID {
		t.Fatalf("expected ID %q, got %q", created.ID, fetched.ID)
	}

	// 2. List filtered by status
	resp2, err := http.Get(testServer.URL + "/api/v1/tenants?status=active")
	if err != nil {
		t.Fatalf("list tenants: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()

	var listed []tenant.Tenant
	if err := json.NewDecoder(resp2.Body).Decode(&listed); err != nil {
		t.Fatalf("decode listed: %v", err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 active tenant, got %d", len(listed))
	}

	// 3. Health probe against the provisioned database
	resp3, err := http.Get(testServer.URL + "/api/v1/tenants/acme-travel/health")
	if err != nil {
		t.Fatalf("tenant health: %v", err)
	}
	defer func() { _ = resp3.Body.Close() }()

	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("health: expected 200, got %d", resp3.StatusCode)
	}

	var health service.TenantHealth
	if err := json.NewDecoder(resp3.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if !health.Healthy {
		t.Fatalf("expected healthy tenant, got %+v", health.Checks)
	}
	if len(health.Checks) == 0 {
		t.Fatal("expected at least one health check")
	}

	// 4. Unknown slug is 404
	resp4, err := http.Get(testServer.URL + "/api/v1/tenants/no-such-tenant")
	if err != nil {
		t.Fatalf("get nonexistent: %v", err)
	}
	defer func() { _ = resp4.Body.Close() }()

	if resp4.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp4.StatusCode)
	}

	// 5. Delete removes the registry row and the physical database
	if err := tenantsSvc.Delete(context.Background(), "acme-travel"); err != nil {
		t.Fatalf("delete tenant: %v", err)
	}

	resp5, err := http.Get(testServer.URL + "/api/v1/tenants/acme-travel")
	if err != nil {
		t.Fatalf("get deleted: %v", err)
	}
	defer func() { _ = resp5.Body.Close() }()

	if resp5.StatusCode != http.StatusNotFound {
		t.Fatalf("get deleted: expected 404, got %d", resp5.StatusCode)
	}
	if databaseExists(t, dbName) {
		t.Fatalf("expected database %s dropped with the tenant", dbName)
	}
}

func TestSignupValidation(t *testing.T) {
	// Missing owner email should return 400
	body, _ := json.Marshal(map[string]any{
		"slug":       "no-email",
		"name":       "No Email Inc",
		"owner_name": "Nobody",
		"password":   "integration-pass-1",
	})

	resp, err := http.Post(testServer.URL+"/api/v1/signup", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("signup without email: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	// Malformed slug should return 400 before any database work
	body2, _ := json.Marshal(map[string]any{
		"slug":        "Bad_Slug!",
		"name":        "Bad Slug Inc",
		"owner_name":  "Nobody",
		"owner_email": "nobody@example.test",
		"password":    "integration-pass-1",
	})

	resp2, err := http.Post(testServer.URL+"/api/v1/signup", "application/json", bytes.NewReader(body2))
	if err != nil {
		t.Fatalf("signup with bad slug: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()

	if resp2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp2.StatusCode)
	}
}

// TestRetentionPurgeFlow walks a tenant through trial expiry, deletion
// scheduling and the purge, while a second healthy tenant rides along to
// prove the good-standing guards hold.
func TestRetentionPurgeFlow(t *testing.T) {
	cleanDB(testPool)
	ctx := context.Background()

	doomed := signup(t, "winding-down", "Winding Down GmbH")
	signup(t, "still-alive", "Still Alive AG")

	// Push the trial into the past; with no subscription row the state
	// re-derives to expired.
	if _, err := testPool.Exec(ctx,
		"UPDATE tenants SET trial_ends_at = now() - interval '40 days' WHERE id = $1",
		doomed.ID); err != nil {
		t.Fatalf("expire trial: %v", err)
	}

	report, err := retentionSvc.Schedule(ctx, 0, false)
	if err != nil {
		t.Fatalf("schedule deletions: %v", err)
	}
	if n := report.Failed(); n > 0 {
		t.Fatalf("scheduling failed for %d tenants", n)
	}
	if r := findResult(t, report, "winding-down"); !r.OK() {
		t.Fatalf("expected winding-down scheduled, got %+v", r)
	}
	if r := findResult(t, report, "still-alive"); !r.Skipped {
		t.Fatalf("expected still-alive skipped, got %+v", r)
	}

	resp, err := http.Get(testServer.URL + "/api/v1/tenants/winding-down")
	if err != nil {
		t.Fatalf("get scheduled tenant: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var scheduled tenant.Tenant
	if err := json.NewDecoder(resp.Body).Decode(&scheduled); err != nil {
		t.Fatalf("decode scheduled tenant: %v", err)
	}
	if scheduled.ScheduledForDeletionAt == nil {
		t.Fatal("expected a deletion deadline on the expired tenant")
	}

	purged, err := purgeSvc.PurgeExpired(ctx, 0, false)
	if err != nil {
		t.Fatalf("purge expired: %v", err)
	}
	if n := purged.Failed(); n > 0 {
		t.Fatalf("purge failed for %d tenants", n)
	}
	if len(purged.Items) != 1 {
		t.Fatalf("expected 1 purge candidate, got %d", len(purged.Items))
	}
	if r := findResult(t, purged, "winding-down"); !r.OK() {
		t.Fatalf("expected winding-down purged, got %+v", r)
	}

	// Purged tenant is gone, row and database both
	resp2, err := http.Get(testServer.URL + "/api/v1/tenants/winding-down")
	if err != nil {
		t.Fatalf("get purged tenant: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()

	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for purged tenant, got %d", resp2.StatusCode)
	}
	if dbName := doomed.DatabaseName(testCfg.TenantDB.NamePrefix); databaseExists(t, dbName) {
		t.Fatalf("expected database %s dropped by the purge", dbName)
	}

	// The healthy tenant is untouched
	resp3, err := http.Get(testServer.URL + "/api/v1/tenants/still-alive")
	if err != nil {
		t.Fatalf("get surviving tenant: %v", err)
	}
	defer func() { _ = resp3.Body.Close() }()

	if resp3.StatusCode != http.StatusOK {
		t.Fatalf("expected surviving tenant intact, got %d", resp3.StatusCode)
	}
}

func findResult(t *testing.T, report *service.Report, slug string) service.Result {
	t.Helper()
	for _, item := range report.Items {
		if item.Slug == slug {
			return item
		}
	}
	t.Fatalf("no result for %s in %+v", slug, report.Items)
	return service.Result{}
}

func databaseExists(t *testing.T, name string) bool {
	t.Helper()
	var n int
	err := testPool.QueryRow(context.Background(),
		"SELECT count(*) FROM pg_database WHERE datname = $1", name).Scan(&n)
	if err != nil {
		t.Fatalf("query pg_database: %v", err)
	}
	return n > 0
}
