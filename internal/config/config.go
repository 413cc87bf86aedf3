// Package config centralizes process configuration. Every tunable is a
// command-line flag whose default is seeded from an environment variable, so
// `-help` lists all knobs and a deployment can rely on env alone.
//
// Typical usage:
//
//	_ = config.LoadDotEnv(".env")
//	cfg, err := config.Load()
//
// Tests use LoadFromArgs with a private FlagSet and a map-backed getenv:
//
//	fs := flag.NewFlagSet("test", flag.ContinueOnError)
//	cfg, err := config.LoadFromArgs(fs, func(k string) string { return env[k] }, nil)
package config

import (
	"flag"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"txetl/internal/datasource/httpds"
	"txetl/internal/storage"
)

// Config holds everything a run needs. It is a plain value; nothing reads
// the environment after Load returns.
type Config struct {
	// Source endpoint.
	SourceURL         string
	SourceAPIKey      string
	SourceTimeout     time.Duration
	SourceInsecureTLS bool

	// Diagnostic artifacts; empty disables the file.
	RawCSV         string
	TransformedCSV string

	// Destination. DSN is required except for postgres, where it
	// is built from the discrete parts when empty.
	DBDriver   string
	DSN        string
	DBHost     string
	DBPort     string
	DBName     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
	Table      string

	UpsertPolicy string // "update" or "ignore"
	Dedupe       bool   // collapse duplicate transaction_ids, keep last

	LogLevel string
	LogFile  string
	JobName  string

	MetricsBackend string // "none", "pushgateway" or "datadog"
	PushgatewayURL string
	DogStatsDAddr  string

	Verbose      bool // forces debug logging
	ValidateOnly bool // validate configuration and exit
}

// LoadFromArgs defines the flags on fs, seeding each default from getenv,
// then parses args. Explicit flags win over the environment.
func LoadFromArgs(fs *flag.FlagSet, getenv func(string) string, args []string) (*Config, error) {
	cfg := &Config{}

	envOr := func(k, d string) string {
		if v := getenv(k); v != "" {
			return v
		}
		return d
	}
	boolEnvOr := func(k string, d bool) bool {
		switch strings.ToLower(strings.TrimSpace(getenv(k))) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
		return d
	}
	durationEnvOr := func(k string, d time.Duration) time.Duration {
		v := strings.TrimSpace(getenv(k))
		if v == "" {
			return d
		}
		if dur, err := time.ParseDuration(v); err == nil {
			return dur
		}
		// Bare integers are seconds.
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
		return d
	}

	// Source
	fs.StringVar(&cfg.SourceURL, "source_url", getenv("SOURCE_URL"), "Transactions endpoint URL (required).")
	fs.StringVar(&cfg.SourceAPIKey, "source_api_key", getenv("SOURCE_API_KEY"), "API key sent as the 'key' query parameter.")
	fs.DurationVar(&cfg.SourceTimeout, "source_timeout", durationEnvOr("SOURCE_TIMEOUT", httpds.DefaultTimeout), "Fetch timeout.")
	fs.BoolVar(&cfg.SourceInsecureTLS, "source_insecure_tls", boolEnvOr("SOURCE_INSECURE_TLS", false), "Skip TLS certificate verification.")

	// Artifacts
	fs.StringVar(&cfg.RawCSV, "raw_csv", getenv("RAW_CSV_PATH"), "Write the fetched records to this CSV (empty = skip).")
	fs.StringVar(&cfg.TransformedCSV, "transformed_csv", getenv("TRANSFORMED_CSV_PATH"), "Write the normalized batch to this CSV (empty = skip).")

	// Destination
	fs.StringVar(&cfg.DBDriver, "db_driver", envOr("DB_DRIVER", "postgres"), "Storage backend: postgres, sqlite, mssql or mysql.")
	fs.StringVar(&cfg.DSN, "dsn", getenv("DB_DSN"), "Full DSN (required for sqlite, mssql and mysql; optional for postgres).")
	fs.StringVar(&cfg.DBHost, "db_host", envOr("DB_HOST", "localhost"), "DB host (postgres DSN builder).")
	fs.StringVar(&cfg.DBPort, "db_port", envOr("DB_PORT", "5432"), "DB port (postgres DSN builder).")
	fs.StringVar(&cfg.DBName, "db_name", envOr("DB_NAME", "postgres"), "DB name (postgres DSN builder).")
	fs.StringVar(&cfg.DBUser, "db_user", envOr("DB_USER", "postgres"), "DB user (postgres DSN builder).")
	fs.StringVar(&cfg.DBPassword, "db_password", getenv("DB_PASSWORD"), "DB password (postgres DSN builder).")
	fs.StringVar(&cfg.DBSSLMode, "db_sslmode", envOr("DB_SSLMODE", "disable"), "sslmode (postgres DSN builder).")
	fs.StringVar(&cfg.Table, "table", envOr("DB_TABLE", "transactions"), "Destination table, optionally schema-qualified.")
	fs.StringVar(&cfg.UpsertPolicy, "upsert_policy", envOr("UPSERT_POLICY", string(storage.Update)), "On key collision: update or ignore.")
	fs.BoolVar(&cfg.Dedupe, "dedupe", boolEnvOr("DEDUPE", false), "Collapse duplicate transaction_ids (last wins) before loading.")

	// Logging & metrics
	fs.StringVar(&cfg.LogLevel, "log_level", envOr("LOG_LEVEL", "info"), "Log level.")
	fs.StringVar(&cfg.LogFile, "log_file", envOr("LOG_FILE", "etl.log"), "JSON log file (empty = console only).")
	fs.StringVar(&cfg.JobName, "job", envOr("JOB_NAME", "transactions_etl"), "Job name used in logs and metrics.")
	fs.StringVar(&cfg.MetricsBackend, "metrics-backend", envOr("METRICS_BACKEND", "none"), "Metrics backend: none, pushgateway or datadog.")
	fs.StringVar(&cfg.PushgatewayURL, "pushgateway_url", getenv("PUSHGATEWAY_URL"), "Prometheus Pushgateway URL.")
	fs.StringVar(&cfg.DogStatsDAddr, "dogstatsd_addr", envOr("DOGSTATSD_ADDR", "127.0.0.1:8125"), "DogStatsD agent address.")

	fs.BoolVar(&cfg.Verbose, "v", false, "Verbose (debug) logging.")
	fs.BoolVar(&cfg.ValidateOnly, "validate", false, "Validate configuration and exit.")

	if args == nil {
		args = []string{}
	}
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// Load binds to flag.CommandLine, os.Getenv and os.Args[1:].
func Load() (*Config, error) {
	return LoadFromArgs(flag.CommandLine, os.Getenv, os.Args[1:])
}

// Level returns the effective log level.
func (c *Config) Level() string {
	if c.Verbose {
		return "debug"
	}
	return c.LogLevel
}

// StorageDSN returns DSN, or for postgres a URL built from the DB_* parts
// when DSN is empty.
func (c *Config) StorageDSN() string {
	if c.DSN != "" || !strings.EqualFold(c.DBDriver, "postgres") {
		return c.DSN
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.DBUser, c.DBPassword),
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	if c.DBPassword == "" {
		u.User = url.User(c.DBUser)
	}
	if c.DBSSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {c.DBSSLMode}}.Encode()
	}
	return u.String()
}

// Storage returns the storage backend configuration.
func (c *Config) Storage() storage.Config {
	return storage.Config{
		Kind:  strings.ToLower(strings.TrimSpace(c.DBDriver)),
		DSN:   c.StorageDSN(),
		Table: c.Table,
	}
}

// Source returns the HTTP client configuration.
func (c *Config) Source() httpds.Config {
	return httpds.Config{
		Timeout:            c.SourceTimeout,
		InsecureSkipVerify: c.SourceInsecureTLS,
	}
}

// Redacted returns a copy safe to log: the password and API key are masked
// and any password embedded in a URL-style DSN is replaced.
func (c Config) Redacted() Config {
	if c.DBPassword != "" {
		c.DBPassword = "xxxxx"
	}
	if c.SourceAPIKey != "" {
		c.SourceAPIKey = "xxxxx"
	}
	c.DSN = RedactDSN(c.DSN)
	c.SourceURL = httpds.RedactURL(c.SourceURL)
	return c
}

// RedactDSN masks the password of a URL-style DSN. Key/value DSNs are
// reduced to their non-secret keys.
func RedactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil {
			return u.Redacted()
		}
		return "xxxxx"
	}
	// key=value form (postgres "host=... password=..." or sqlserver "...;password=...").
	sep := " "
	if strings.Contains(dsn, ";") {
		sep = ";"
	}
	parts := strings.Split(dsn, sep)
	for i, p := range parts {
		k, _, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(k)) {
		case "password", "pwd":
			parts[i] = k + "=xxxxx"
		}
	}
	return strings.Join(parts, sep)
}
