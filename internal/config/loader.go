package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "tenancy.yaml"

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "TENANCY_PORT")
	setString(&cfg.Server.CORSOrigin, "TENANCY_CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "TENANCY_REQUEST_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "TENANCY_SHUTDOWN_TIMEOUT")

	setString(&cfg.Registry.DSN, "DATABASE_URL")
	setInt32(&cfg.Registry.MaxConns, "TENANCY_PG_MAX_CONNS")
	setInt32(&cfg.Registry.MinConns, "TENANCY_PG_MIN_CONNS")
	setDuration(&cfg.Registry.MaxConnLifetime, "TENANCY_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Registry.MaxConnIdleTime, "TENANCY_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Registry.HealthCheck, "TENANCY_PG_HEALTH_CHECK")

	setString(&cfg.TenantDB.NamePrefix, "TENANCY_DB_PREFIX")
	setString(&cfg.TenantDB.DSNTemplate, "TENANCY_DB_DSN_TEMPLATE")
	setInt32(&cfg.TenantDB.MaxConns, "TENANCY_DB_MAX_CONNS")
	setInt(&cfg.TenantDB.MaxPools, "TENANCY_DB_MAX_POOLS")
	setDuration(&cfg.TenantDB.PoolIdleTTL, "TENANCY_DB_POOL_IDLE_TTL")

	setInt(&cfg.Provisioning.BcryptCost, "TENANCY_BCRYPT_COST")
	setBool(&cfg.Provisioning.CleanupOnFailure, "TENANCY_CLEANUP_ON_FAILURE")
	setString(&cfg.Provisioning.DefaultPlan, "TENANCY_DEFAULT_PLAN")
	setInt(&cfg.Provisioning.TrialDays, "TENANCY_TRIAL_DAYS")
	setString(&cfg.Provisioning.BaseDomain, "TENANCY_BASE_DOMAIN")

	setInt(&cfg.Retention.Days, "TENANCY_RETENTION_DAYS")
	setInt(&cfg.Retention.PurgeBatchLimit, "TENANCY_PURGE_BATCH_LIMIT")

	setStrings(&cfg.Verification.RequiredTables, "TENANCY_REQUIRED_TABLES")
	setDuration(&cfg.Verification.CacheTTL, "TENANCY_VERIFY_CACHE_TTL")

	setInt(&cfg.Metrics.BatchLimit, "TENANCY_METRICS_BATCH_LIMIT")
	setInt(&cfg.Batch.Workers, "TENANCY_BATCH_WORKERS")

	setString(&cfg.NATS.URL, "NATS_URL")
	setString(&cfg.NATS.AuditStream, "TENANCY_AUDIT_STREAM")

	setInt64(&cfg.Cache.L1MaxSizeMB, "TENANCY_CACHE_L1_SIZE_MB")
	setString(&cfg.Cache.L2Bucket, "TENANCY_CACHE_L2_BUCKET")
	setDuration(&cfg.Cache.L2TTL, "TENANCY_CACHE_L2_TTL")

	setString(&cfg.Idempotency.Bucket, "TENANCY_IDEMPOTENCY_BUCKET")
	setDuration(&cfg.Idempotency.TTL, "TENANCY_IDEMPOTENCY_TTL")

	setString(&cfg.Notifications.Provider, "TENANCY_NOTIFY_PROVIDER")
	setStrings(&cfg.Notifications.Events, "TENANCY_NOTIFY_EVENTS")
	setString(&cfg.Notifications.SlackWebhookURL, "TENANCY_NOTIFY_SLACK_WEBHOOK")
	setString(&cfg.Notifications.DiscordWebhookURL, "TENANCY_NOTIFY_DISCORD_WEBHOOK")
	setString(&cfg.Notifications.Email.Host, "TENANCY_NOTIFY_SMTP_HOST")
	setInt(&cfg.Notifications.Email.Port, "TENANCY_NOTIFY_SMTP_PORT")
	setString(&cfg.Notifications.Email.From, "TENANCY_NOTIFY_SMTP_FROM")
	setString(&cfg.Notifications.Email.Password, "TENANCY_NOTIFY_SMTP_PASSWORD")
	setString(&cfg.Notifications.Email.To, "TENANCY_NOTIFY_SMTP_TO")

	setString(&cfg.Observability.OTLPEndpoint, "TENANCY_OTLP_ENDPOINT")
	setFloat64(&cfg.Observability.SampleRatio, "TENANCY_OTEL_SAMPLE_RATIO")

	setString(&cfg.Logging.Level, "TENANCY_LOG_LEVEL")
	setString(&cfg.Logging.Service, "TENANCY_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "TENANCY_LOG_ASYNC")

	setInt(&cfg.Breaker.MaxFailures, "TENANCY_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "TENANCY_BREAKER_TIMEOUT")

	setFloat64(&cfg.Rate.RequestsPerSecond, "TENANCY_RATE_RPS")
	setInt(&cfg.Rate.Burst, "TENANCY_RATE_BURST")
}

// dbPrefixRegex constrains the tenant database prefix to characters that
// are safe inside an unquoted PostgreSQL identifier.
var dbPrefixRegex = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Registry.DSN == "" {
		return errors.New("registry.dsn is required")
	}
	if cfg.Registry.MaxConns < 1 {
		return errors.New("registry.max_conns must be >= 1")
	}
	if !dbPrefixRegex.MatchString(cfg.TenantDB.NamePrefix) {
		return fmt.Errorf("tenantdb.name_prefix %q must match %s", cfg.TenantDB.NamePrefix, dbPrefixRegex)
	}
	if cfg.TenantDB.MaxConns < 1 {
		return errors.New("tenantdb.max_conns must be >= 1")
	}
	if cfg.TenantDB.MaxPools < 1 {
		return errors.New("tenantdb.max_pools must be >= 1")
	}
	if cfg.Provisioning.BcryptCost < 4 || cfg.Provisioning.BcryptCost > 31 {
		return errors.New("provisioning.bcrypt_cost must be between 4 and 31")
	}
	if cfg.Retention.PurgeBatchLimit < 1 {
		return errors.New("retention.purge_batch_limit must be >= 1")
	}
	if cfg.Metrics.BatchLimit < 1 {
		return errors.New("metrics.batch_limit must be >= 1")
	}
	if cfg.Batch.Workers < 1 {
		return errors.New("batch.workers must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	return nil
}

// TenantDSN returns the connection string for the named tenant database.
// With no template configured it reuses the registry DSN, swapping only the
// database name; the registry DSN must then be in URL form.
func (c *Config) TenantDSN(dbname string) (string, error) {
	if dbname == "" {
		return "", errors.New("tenant database name is empty")
	}
	if c.TenantDB.DSNTemplate != "" {
		return fmt.Sprintf(c.TenantDB.DSNTemplate, dbname), nil
	}

	u, err := url.Parse(c.Registry.DSN)
	if err != nil {
		return "", fmt.Errorf("parse registry dsn: %w", err)
	}
	u.Path = "/" + dbname
	return u.String(), nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setStrings(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		*dst = out
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
