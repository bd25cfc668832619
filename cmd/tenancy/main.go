package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	tnhttp "github.com/chronahq/tenancy/internal/adapter/http"
	tnats "github.com/chronahq/tenancy/internal/adapter/nats"
	"github.com/chronahq/tenancy/internal/adapter/natskv"
	tnotel "github.com/chronahq/tenancy/internal/adapter/otel"
	"github.com/chronahq/tenancy/internal/adapter/postgres"
	"github.com/chronahq/tenancy/internal/adapter/ristretto"
	"github.com/chronahq/tenancy/internal/adapter/tiered"
	"github.com/chronahq/tenancy/internal/adapter/ws"
	"github.com/chronahq/tenancy/internal/config"
	"github.com/chronahq/tenancy/internal/logger"
	"github.com/chronahq/tenancy/internal/middleware"
	"github.com/chronahq/tenancy/internal/port/audit"
	"github.com/chronahq/tenancy/internal/port/cache"
	"github.com/chronahq/tenancy/internal/port/notifier"
	"github.com/chronahq/tenancy/internal/resilience"
	"github.com/chronahq/tenancy/internal/secrets"
	"github.com/chronahq/tenancy/internal/service"
	"github.com/chronahq/tenancy/internal/tenantdb"
	"github.com/chronahq/tenancy/internal/tenantdb/seed"
)

const version = "0.1.0"

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(log)

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	// Local .env never overrides real environment variables.
	if err := secrets.Bootstrap(".env"); err != nil {
		return fmt.Errorf("bootstrap secrets: %w", err)
	}

	if len(args) == 0 {
		return runServe()
	}
	switch args[0] {
	case "serve":
		return runServe()
	case "tenants":
		return runTenants(args[1:])
	case "version":
		fmt.Println("tenancy " + version)
		return nil
	case "help", "--help", "-h":
		printUsage()
		return nil
	default:
		printUsage()
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: tenancy <command> [options]

Commands:
  serve      Run the ops/registration API (default when no command is given)
  tenants    Tenant lifecycle commands (see: tenancy tenants help)
  version    Print the version
  help       Show this help message
`)
}

// backbone bundles the infrastructure and services shared by serve mode and
// the tenants commands.
type backbone struct {
	cfg      *config.Config
	pool     *pgxpool.Pool
	store    *postgres.Store
	admin    *postgres.Admin
	switcher *tenantdb.Switcher
	queue    *tnats.Conn // nil when nats.url is empty
	sink     audit.Sink

	provision *service.ProvisionService
	tenants   *service.TenantService
	schema    *service.SchemaService
	retention *service.RetentionService
	purge     *service.PurgeService
	lifecycle *service.LifecycleService
	usage     *service.MetricsService
	verify    *service.VerifyService
	notify    *service.NotificationService
}

// buildBackbone connects the registry, tenant-database plumbing, NATS, the
// audit fan-out and telemetry, and wires every lifecycle service on top.
// The returned cleanup releases everything in reverse order.
func buildBackbone(ctx context.Context, cfg *config.Config) (*backbone, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	shutdownOtel, err := tnotel.Init(ctx, cfg.Observability.OTLPEndpoint, cfg.Logging.Service, cfg.Observability.SampleRatio)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("otel: %w", err)
	}
	closers = append(closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	})

	pool, err := postgres.NewPool(ctx, cfg.Registry)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("registry: %w", err)
	}
	closers = append(closers, pool.Close)
	slog.Info("registry connected")

	dsnFor := func(dbname string) string {
		dsn, err := cfg.TenantDSN(dbname)
		if err != nil {
			slog.Error("tenant dsn", "database", dbname, "error", err)
			return ""
		}
		return dsn
	}

	store := postgres.NewStore(pool)
	admin := postgres.NewAdmin(pool, dsnFor)
	switcher := tenantdb.NewSwitcher(cfg.TenantDB, dsnFor)
	closers = append(closers, switcher.Close)

	catalog, err := tenantdb.LoadCatalog()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("schema catalog: %w", err)
	}
	migrator := tenantdb.NewMigrator(catalog)

	var queue *tnats.Conn
	sinks := []audit.Sink{postgres.NewAuditLog(pool)}
	if cfg.NATS.URL != "" {
		queue, err = tnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.AuditStream)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("nats: %w", err)
		}
		closers = append(closers, func() { _ = queue.Close() })
		sinks = append(sinks, queue.Publisher())
	} else {
		slog.Info("nats disabled, audit events stay local")
		sinks = append(sinks, audit.LogSink{})
	}

	instruments, err := tnotel.NewMetrics()
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("otel instruments: %w", err)
	}
	sinks = append(sinks, tnotel.NewAuditMetrics(instruments))

	notify := service.NewNotificationService(buildNotifiers(cfg.Notifications), cfg.Notifications.Events)
	if notify.NotifierCount() > 0 {
		sinks = append(sinks, notify)
	}

	sink := audit.NewMulti(sinks...)
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	seeders := seed.Default()
	prefix := cfg.TenantDB.NamePrefix

	tenants := service.NewTenantService(store, admin, switcher, breaker, sink, prefix)

	app := &backbone{
		cfg:      cfg,
		pool:     pool,
		store:    store,
		admin:    admin,
		switcher: switcher,
		queue:    queue,
		sink:     sink,

		provision: service.NewProvisionService(store, admin, switcher, migrator, seeders, breaker, sink, cfg.Provisioning, prefix),
		tenants:   tenants,
		schema:    service.NewSchemaService(store, switcher, migrator, seeders, sink),
		retention: service.NewRetentionService(store, sink, cfg.Retention),
		purge:     service.NewPurgeService(store, tenants, sink, cfg.Retention),
		lifecycle: service.NewLifecycleService(store, sink),
		usage:     service.NewMetricsService(store, switcher, sink, cfg.Metrics),
		verify:    service.NewVerifyService(store, admin, switcher, cfg.Verification, prefix),
		notify:    notify,
	}
	return app, cleanup, nil
}

// buildNotifiers resolves the configured notification provider. A missing
// or broken provider downgrades to no notifications rather than failing
// startup.
func buildNotifiers(cfg config.Notifications) []notifier.Notifier {
	if cfg.Provider == "" {
		return nil
	}
	n, err := notifier.New(cfg.Provider, notifierConfig(cfg))
	if err != nil {
		slog.Warn("notifier unavailable", "provider", cfg.Provider, "error", err)
		return nil
	}
	slog.Info("notifier registered", "provider", n.Name())
	return []notifier.Notifier{n}
}

func notifierConfig(cfg config.Notifications) map[string]string {
	switch cfg.Provider {
	case "slack":
		return map[string]string{"webhook_url": cfg.SlackWebhookURL}
	case "discord":
		return map[string]string{"webhook_url": cfg.DiscordWebhookURL}
	case "email":
		return map[string]string{
			"host":     cfg.Email.Host,
			"port":     strconv.Itoa(cfg.Email.Port),
			"from":     cfg.Email.From,
			"password": cfg.Email.Password,
			"to":       cfg.Email.To,
		}
	}
	return nil
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logClose := logger.New(cfg.Logging)
	slog.SetDefault(log)
	defer logClose.Close()

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"registry_max_conns", cfg.Registry.MaxConns,
	)

	ctx := context.Background()

	app, cleanup, err := buildBackbone(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := postgres.RunMigrations(ctx, cfg.Registry.DSN); err != nil {
		return fmt.Errorf("registry migrations: %w", err)
	}
	slog.Info("registry migrations applied")

	// Live config reload. Only the log level applies immediately;
	// connection-level settings take effect on restart.
	holder := config.NewHolder(cfg, config.DefaultConfigFile)
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := holder.Reload(); err != nil {
				slog.Error("config reload rejected", "error", err)
				continue
			}
			next := holder.Get()
			logger.SetLevel(next.Logging.Level)
			slog.Info("config reloaded", "log_level", next.Logging.Level)
		}
	}()

	// Audit events published by this process and by CLI runs elsewhere
	// both come back through the stream and onto operator dashboards.
	hub := ws.NewHub()
	if app.queue != nil {
		stopRelay, err := app.queue.SubscribeAudit(ctx, hub.RelayAudit)
		if err != nil {
			return fmt.Errorf("audit subscriber: %w", err)
		}
		defer stopRelay()
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("l1 cache: %w", err)
	}
	var readCache cache.Cache = l1
	if app.queue != nil {
		kv, err := app.queue.KeyValue(ctx, cfg.Cache.L2Bucket, cfg.Cache.L2TTL)
		if err != nil {
			return fmt.Errorf("cache bucket: %w", err)
		}
		readCache = tiered.New(l1, natskv.New(kv), cfg.Cache.L2TTL)
	}

	handlers := &tnhttp.Handlers{
		Provision: app.provision,
		Tenants:   app.tenants,
		Verify:    app.verify,
		Cache:     readCache,
		CacheTTL:  cfg.Verification.CacheTTL,
		Ping:      app.pool.Ping,
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(tnhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(tnhttp.Logger)
	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	r.Use(tnotel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(tnhttp.SecurityHeaders)

	r.Get("/healthz", handlers.Healthz)
	r.Get("/ws", hub.HandleWS)

	// The API group carries the abuse controls; probes and the websocket
	// stay outside them.
	rl := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopRL := rl.StartCleanup(time.Minute, 10*time.Minute)
	defer stopRL()

	var idem func(http.Handler) http.Handler
	if app.queue != nil {
		idemKV, err := app.queue.KeyValue(ctx, cfg.Idempotency.Bucket, cfg.Idempotency.TTL)
		if err != nil {
			return fmt.Errorf("idempotency bucket: %w", err)
		}
		idem = middleware.Idempotency(idemKV)
	}

	r.Group(func(r chi.Router) {
		r.Use(rl.Handler)
		if idem != nil {
			r.Use(idem)
		}
		tnhttp.MountRoutes(r, handlers)
	})

	addr := ":" + cfg.Server.Port

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
