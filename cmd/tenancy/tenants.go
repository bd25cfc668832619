package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/domain/tenant"
	"github.com/chronahq/tenancy/internal/logger"
	"github.com/chronahq/tenancy/internal/service"
)

// runTenants dispatches the tenant lifecycle subcommands.
func runTenants(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printTenantsHelp()
		return nil
	}

	switch args[0] {
	case "list":
		return runTenantsList(args[1:])
	case "create":
		return runTenantsCreate(args[1:])
	case "provision":
		return runTenantsProvision(args[1:])
	case "migrate":
		return runTenantsMigrate(args[1:])
	case "seed":
		return runTenantsSeed(args[1:])
	case "baseline":
		return runTenantsBaseline(args[1:])
	case "verify":
		return runTenantsVerify(args[1:])
	case "delete":
		return runTenantsDelete(args[1:])
	case "purge-expired":
		return runTenantsPurgeExpired(args[1:])
	case "metrics-daily":
		return runTenantsMetricsDaily(args[1:])
	case "sync-states":
		return runTenantsSyncStates(args[1:])
	default:
		printTenantsHelp()
		return fmt.Errorf("unknown tenants command: %s", args[0])
	}
}

func printTenantsHelp() {
	fmt.Fprintf(os.Stderr, `Usage: tenancy tenants <command> [options]

Commands:
  list           List registry tenants
  create         Register and provision a new tenant
  provision      Resume provisioning for an existing tenant
  migrate        Run schema migrations on tenant databases
  seed           Run reference-data seeders on tenant databases
  baseline       Reconcile a tenant's migration ledger without executing
  verify         Probe one tenant's health
  delete         Destroy a tenant and its database
  purge-expired  Schedule deletion deadlines and purge tenants past them
  metrics-daily  Compute per-tenant daily usage counters
  sync-states    Derive and persist subscription lifecycle states
  help           Show this help message

Options go before positional arguments.

Examples:
  tenancy tenants list --status=active
  tenancy tenants create --slug acme --name "Acme Corp" --email owner@acme.com
  tenancy tenants migrate --all --workers=4
  tenancy tenants verify --detailed acme
  tenancy tenants purge-expired --dry-run
  tenancy tenants metrics-daily --date=2024-03-01 --export=usage.xlsx
`)
}

// loadApp builds the backbone for a CLI run. Logs go to stderr in text
// form so stdout stays parseable.
func loadApp(ctx context.Context) (*backbone, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(logger.NewCLI(cfg.Logging))
	return buildBackbone(ctx, cfg)
}

func runTenantsList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	status := fs.String("status", "", "filter by status (provisioning, active, suspended, deactivated)")
	asJSON := fs.Bool("json", false, "emit JSON instead of a table")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rows, err := app.tenants.List(ctx, tenant.Filter{Status: tenant.Status(*status)})
	if err != nil {
		return fmt.Errorf("list tenants: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rows)
	}

	if len(rows) == 0 {
		fmt.Println("No tenants found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SLUG\tNAME\tSTATUS\tPLAN\tSTATE\tDELETE_AT\tCREATED")
	for i := range rows {
		t := &rows[i]
		state := string(t.SubscriptionState)
		if state == "" {
			state = "-"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.Slug, t.Name, t.Status, t.Plan, state,
			dateCell(t.ScheduledForDeletionAt), t.CreatedAt.UTC().Format("2006-01-02"))
	}
	return w.Flush()
}

func runTenantsCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ContinueOnError)
	slug := fs.String("slug", "", "tenant slug (required)")
	name := fs.String("name", "", "tenant display name (required)")
	email := fs.String("email", "", "owner email address (required)")
	owner := fs.String("owner", "", "owner display name (defaults to the tenant name)")
	plan := fs.String("plan", "", "subscription plan (defaults to provisioning.default_plan)")
	passwordStdin := fs.Bool("password-stdin", false, "read the owner password from stdin instead of prompting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *slug == "" {
		return errors.New("--slug is required")
	}
	if *name == "" {
		return errors.New("--name is required")
	}
	if *email == "" {
		return errors.New("--email is required")
	}

	var pass string
	if *passwordStdin {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("read password from stdin: %w", err)
		}
		pass = strings.TrimSpace(string(data))
		if pass == "" {
			return errors.New("empty password on stdin")
		}
	} else {
		var err error
		pass, err = promptPassword("Owner password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		if pass != confirm {
			return errors.New("passwords do not match")
		}
	}

	ownerName := *owner
	if ownerName == "" {
		ownerName = *name
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := app.provision.ProvisionNew(ctx, tenant.SignupRequest{
		Slug:       *slug,
		Name:       *name,
		OwnerName:  ownerName,
		OwnerEmail: *email,
		Password:   pass,
		Plan:       *plan,
	})
	if err != nil {
		return fmt.Errorf("provision tenant: %w", err)
	}

	fmt.Printf("tenant created: %s (id=%s, status=%s)\n", t.Slug, t.ID, t.Status)
	return nil
}

func runTenantsProvision(args []string) error {
	fs := flag.NewFlagSet("provision", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	slug, err := requireSlug(fs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	t, err := app.provision.Resume(ctx, slug, "")
	if err != nil {
		return fmt.Errorf("resume provisioning: %w", err)
	}

	fmt.Printf("provisioning completed: %s (status=%s)\n", t.Slug, t.Status)
	return nil
}

func runTenantsMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	all := fs.Bool("all", false, "migrate every tenant")
	fresh := fs.Bool("fresh", false, "drop all tables and re-run the full catalog")
	seedAfter := fs.Bool("seed", false, "run reference-data seeders after migrating")
	workers := fs.Int("workers", 0, "parallel tenant workers for --all (0 uses batch.workers)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slug, err := optionalSlug(fs)
	if err != nil {
		return err
	}
	if slug == "" && !*all {
		return errors.New("a tenant slug or --all is required")
	}
	if slug != "" && *all {
		return errors.New("a tenant slug and --all are mutually exclusive")
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var rep *service.Report
	if *all {
		rep, err = app.schema.MigrateAll(ctx, *fresh, *seedAfter, workerCount(app.cfg, *workers))
	} else {
		rep, err = app.schema.MigrateOne(ctx, slug, *fresh, *seedAfter)
	}
	if err != nil {
		return err
	}
	return printReport(rep)
}

func runTenantsSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	all := fs.Bool("all", false, "seed every tenant")
	class := fs.String("class", "", "run a single seeder by name")
	workers := fs.Int("workers", 0, "parallel tenant workers for --all (0 uses batch.workers)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slug, err := optionalSlug(fs)
	if err != nil {
		return err
	}
	if slug == "" && !*all {
		return errors.New("a tenant slug or --all is required")
	}
	if slug != "" && *all {
		return errors.New("a tenant slug and --all are mutually exclusive")
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var rep *service.Report
	if *all {
		rep, err = app.schema.SeedAll(ctx, *class, workerCount(app.cfg, *workers))
	} else {
		rep, err = app.schema.SeedOne(ctx, slug, *class)
	}
	if err != nil {
		return err
	}
	return printReport(rep)
}

func runTenantsBaseline(args []string) error {
	fs := flag.NewFlagSet("baseline", flag.ContinueOnError)
	batch := fs.Int("batch", 1, "ledger batch number for recorded rows")
	dryRun := fs.Bool("dry-run", false, "report missing entries without writing")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slug, err := requireSlug(fs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := app.schema.Baseline(ctx, slug, *batch, *dryRun)
	if err != nil {
		return err
	}

	if len(rep.Missing) == 0 {
		fmt.Println("ledger already matches the catalog")
		return nil
	}
	for _, name := range rep.Missing {
		fmt.Printf("  %s\n", name)
	}
	if rep.DryRun {
		fmt.Printf("%d migrations missing from the ledger (dry run, nothing recorded)\n", len(rep.Missing))
	} else {
		fmt.Printf("%d migrations recorded under batch %d\n", len(rep.Missing), rep.Batch)
	}
	return nil
}

func runTenantsVerify(args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	detailed := fs.Bool("detailed", false, "print every check, not just failures")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slug, err := requireSlug(fs)
	if err != nil {
		return err
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	h, err := app.verify.Check(ctx, slug)
	if err != nil {
		return fmt.Errorf("verify tenant: %w", err)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range h.Checks {
		if !*detailed && c.OK {
			continue
		}
		result := "ok"
		if !c.OK {
			result = "fail"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", result, c.Name, c.Detail)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if !h.Healthy {
		return fmt.Errorf("tenant %s is unhealthy", slug)
	}
	fmt.Printf("tenant %s is healthy (%d checks)\n", slug, len(h.Checks))
	return nil
}

func runTenantsDelete(args []string) error {
	fs := flag.NewFlagSet("delete", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip interactive confirmation")
	if err := fs.Parse(args); err != nil {
		return err
	}
	slug, err := requireSlug(fs)
	if err != nil {
		return err
	}

	if !*force {
		if err := confirmSlug(slug); err != nil {
			return err
		}
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := app.tenants.Delete(ctx, slug); err != nil {
		return fmt.Errorf("delete tenant: %w", err)
	}

	fmt.Printf("deleted %s\n", slug)
	return nil
}

func runTenantsPurgeExpired(args []string) error {
	fs := flag.NewFlagSet("purge-expired", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report without scheduling or purging anything")
	days := fs.Int("retention-days", -1, "override the retention window in days (-1 uses retention.days)")
	limit := fs.Int("limit", 0, "max purges this run (0 uses retention.purge_batch_limit)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	scheduled, err := app.retention.Schedule(ctx, *days, *dryRun)
	if err != nil {
		return err
	}
	fmt.Println("Deletion scheduling:")
	schedErr := printReport(scheduled)

	purged, err := app.purge.PurgeExpired(ctx, *limit, *dryRun)
	if err != nil {
		return err
	}
	fmt.Println("Purge:")
	purgeErr := printReport(purged)

	return errors.Join(schedErr, purgeErr)
}

func runTenantsMetricsDaily(args []string) error {
	fs := flag.NewFlagSet("metrics-daily", flag.ContinueOnError)
	dateStr := fs.String("date", "", "calendar day YYYY-MM-DD (default: yesterday)")
	slug := fs.String("tenant", "", "narrow the sweep to one tenant slug")
	dryRun := fs.Bool("dry-run", false, "report counts without recording them")
	limit := fs.Int("limit", 0, "max tenants this sweep (0 uses metrics.batch_limit)")
	export := fs.String("export", "", "write the day's recorded usage to an XLSX workbook at this path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	day := time.Now().UTC().AddDate(0, 0, -1)
	if *dateStr != "" {
		var err error
		day, err = time.Parse("2006-01-02", *dateStr)
		if err != nil {
			return fmt.Errorf("parse --date: %w", err)
		}
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := app.usage.ComputeDaily(ctx, day, *slug, *limit, *dryRun)
	if err != nil {
		return err
	}
	repErr := printReport(rep)

	if *export != "" {
		if err := app.usage.Export(ctx, day, *export); err != nil {
			return errors.Join(repErr, err)
		}
		fmt.Printf("workbook written to %s\n", *export)
	}
	return repErr
}

func runTenantsSyncStates(args []string) error {
	fs := flag.NewFlagSet("sync-states", flag.ContinueOnError)
	dryRun := fs.Bool("dry-run", false, "report transitions without persisting them")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument %q", fs.Arg(0))
	}

	ctx := context.Background()
	app, cleanup, err := loadApp(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	rep, err := app.lifecycle.SyncStates(ctx, *dryRun)
	if err != nil {
		return err
	}
	return printReport(rep)
}

// printReport renders per-tenant outcome lines and a summary. It returns an
// error when any item failed so the process exits nonzero.
func printReport(rep *service.Report) error {
	if len(rep.Items) == 0 {
		fmt.Println("nothing to do")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, item := range rep.Items {
		switch {
		case item.Err != nil:
			_, _ = fmt.Fprintf(w, "fail\t%s\t%v\n", item.Slug, item.Err)
		case item.Skipped:
			_, _ = fmt.Fprintf(w, "skip\t%s\t%s\n", item.Slug, item.Detail)
		default:
			_, _ = fmt.Fprintf(w, "ok\t%s\t%s\n", item.Slug, item.Detail)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Printf("%d succeeded, %d skipped, %d failed\n", rep.Succeeded(), rep.Skipped(), rep.Failed())
	if n := rep.Failed(); n > 0 {
		return fmt.Errorf("%d of %d tenants failed", n, len(rep.Items))
	}
	return nil
}

// requireSlug returns the single positional argument. Flags placed after a
// positional would be swallowed silently, so extras are an error.
func requireSlug(fs *flag.FlagSet) (string, error) {
	if fs.NArg() != 1 {
		return "", errors.New("expected exactly one tenant slug (options go before it)")
	}
	return fs.Arg(0), nil
}

func optionalSlug(fs *flag.FlagSet) (string, error) {
	switch fs.NArg() {
	case 0:
		return "", nil
	case 1:
		return fs.Arg(0), nil
	}
	return "", errors.New("expected at most one tenant slug (options go before it)")
}

func workerCount(cfg *config.Config, flagValue int) int {
	if flagValue > 0 {
		return flagValue
	}
	return cfg.Batch.Workers
}

func dateCell(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02")
}

// confirmSlug requires the operator to retype the slug before a
// destructive command proceeds.
func confirmSlug(slug string) error {
	fmt.Fprintf(os.Stderr, "This permanently deletes tenant %q and its database.\nType the tenant slug to confirm: ", slug)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return fmt.Errorf("read confirmation: %w", err)
	}
	if strings.TrimSpace(line) != slug {
		return fmt.Errorf("confirmation does not match %q, aborting", slug)
	}
	return nil
}

// promptPassword reads a password from the terminal without echoing.
func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(int(syscall.Stdin)) //nolint:unconvert // int conversion needed on some platforms
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
