// Command txetl fetches the transactions export, normalizes it and upserts
// it into the configured database in one atomic batch.
//
// Usage:
//
//	txetl -source_url=https://api.example.com/transactions -db_driver=sqlite -dsn=./tx.db
//
// Every flag also reads an environment variable (see internal/config); a .env
// file in the working directory is loaded first. The exit code reflects the
// run outcome: 0 completed or skipped, 2 bad configuration, 3 source
// unavailable, 4 load failed.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"

	"txetl/internal/config"
	"txetl/internal/datasource/api"
	"txetl/internal/logging"
	"txetl/internal/metrics"
	"txetl/internal/metrics/datadog"
	"txetl/internal/metrics/prompush"
	"txetl/internal/pipeline"
	"txetl/internal/storage"
	"txetl/internal/transformer"

	// register all storage backends; DB_DRIVER picks one at run time.
	_ "txetl/internal/storage/all"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, flag.CommandLine, os.Getenv, os.Args[1:], os.Stderr)
	stop()
	os.Exit(code)
}

// run is main without the process globals. It returns the exit code.
func run(ctx context.Context, fs *flag.FlagSet, getenv func(string) string, args []string, stderr io.Writer) int {
	cfg, err := config.LoadFromArgs(fs, getenv, args)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return pipeline.ExitConfig
	}

	issues := config.Validate(cfg, storage.ListKinds())
	for _, iss := range issues {
		fmt.Fprintf(stderr, "%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
	}
	if config.HasErrors(issues) {
		fmt.Fprintln(stderr, "configuration is invalid")
		return pipeline.ExitConfig
	}
	if cfg.ValidateOnly {
		fmt.Fprintln(stderr, "configuration is valid")
		return pipeline.ExitOK
	}

	logger, closeLog, err := logging.New(logging.Options{
		Level:   cfg.Level(),
		File:    cfg.LogFile,
		Console: stderr,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return pipeline.ExitConfig
	}
	defer closeLog()
	ctx = logging.WithContext(ctx, logger)

	redacted := cfg.Redacted()
	logger.Debug().
		Str("source_url", redacted.SourceURL).
		Str("db_driver", redacted.DBDriver).
		Str("dsn", config.RedactDSN(cfg.StorageDSN())).
		Str("table", redacted.Table).
		Str("upsert_policy", redacted.UpsertPolicy).
		Bool("dedupe", redacted.Dedupe).
		Msg("configuration")

	flush := setupMetrics(cfg, logger)
	defer flush()

	// Validate already rejected unknown policies.
	policy, _ := storage.ParseConflictPolicy(cfg.UpsertPolicy)

	norm := transformer.New()
	norm.Dedupe = cfg.Dedupe

	p := &pipeline.Pipeline{
		Source:     api.NewReader(cfg.SourceURL, cfg.SourceAPIKey, cfg.Source()),
		Normalizer: norm,
		Sink:       storage.NewWriter(cfg.Storage(), policy),
		Artifacts: pipeline.Artifacts{
			RawCSV:         cfg.RawCSV,
			TransformedCSV: cfg.TransformedCSV,
		},
		Job: cfg.JobName,
	}
	return p.Run(ctx).Status.ExitCode()
}

// setupMetrics installs the configured backend and returns its flush func.
// A backend that cannot be built is logged and metrics stay disabled.
func setupMetrics(cfg *config.Config, log zerolog.Logger) func() {
	var (
		b   metrics.Backend
		err error
	)
	switch name := strings.ToLower(cfg.MetricsBackend); name {
	case "pushgateway":
		b, err = prompush.NewBackend(cfg.JobName, cfg.PushgatewayURL)
	case "datadog":
		b, err = datadog.NewBackend(datadog.Config{
			Addr:      cfg.DogStatsDAddr,
			Namespace: "txetl.",
			Tags:      []string{"job:" + cfg.JobName},
		})
	default:
		log.Debug().Str("backend", name).Msg("metrics disabled")
		return func() {}
	}
	if err != nil {
		log.Warn().Err(err).Msg("metrics backend unavailable; using nop")
		return func() {}
	}

	metrics.SetBackend(b)
	log.Debug().Str("backend", cfg.MetricsBackend).Msg("metrics enabled")
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn().Err(err).Msg("metrics flush failed")
		}
	}
}
