package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"txetl/internal/storage"
)

// IssueSeverity is the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError blocks the run.
	SeverityError IssueSeverity = "error"
	// SeverityWarning is reported but does not block.
	SeverityWarning IssueSeverity = "warning"
)

// Issue is one validation finding. Path names the offending setting by its
// environment key.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, iss := range issues {
		if iss.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Validate checks required settings and enumerations. It never mutates c.
// kinds lists the registered storage backends; pass storage.ListKinds().
func Validate(c *Config, kinds []string) []Issue {
	var issues []Issue
	errorf := func(path, format string, args ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, args...)})
	}
	warnf := func(path, format string, args ...any) {
		issues = append(issues, Issue{SeverityWarning, path, fmt.Sprintf(format, args...)})
	}

	if strings.TrimSpace(c.SourceURL) == "" {
		errorf("SOURCE_URL", "is required")
	} else if u, err := url.Parse(c.SourceURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errorf("SOURCE_URL", "must be an absolute http(s) URL")
	}
	if c.SourceTimeout <= 0 {
		errorf("SOURCE_TIMEOUT", "must be positive, got %s", c.SourceTimeout)
	} else if c.SourceTimeout > 5*time.Minute {
		warnf("SOURCE_TIMEOUT", "%s is unusually long for a single attempt", c.SourceTimeout)
	}
	if c.SourceInsecureTLS {
		warnf("SOURCE_INSECURE_TLS", "TLS certificate verification is disabled")
	}

	kind := strings.ToLower(strings.TrimSpace(c.DBDriver))
	if !contains(kinds, kind) {
		errorf("DB_DRIVER", "unsupported driver %q (available: %s)", c.DBDriver, strings.Join(kinds, ", "))
	}
	if kind != "postgres" && strings.TrimSpace(c.DSN) == "" {
		errorf("DB_DSN", "is required for %s", kind)
	}
	if strings.TrimSpace(c.Table) == "" {
		errorf("DB_TABLE", "is required")
	}
	if _, err := storage.ParseConflictPolicy(c.UpsertPolicy); err != nil {
		errorf("UPSERT_POLICY", "%v", err)
	}
	if c.RawCSV != "" && c.RawCSV == c.TransformedCSV {
		errorf("TRANSFORMED_CSV_PATH", "must differ from RAW_CSV_PATH")
	}

	switch strings.ToLower(c.MetricsBackend) {
	case "", "none":
	case "pushgateway":
		if c.PushgatewayURL == "" {
			errorf("PUSHGATEWAY_URL", "is required for the pushgateway metrics backend")
		}
	case "datadog":
		if c.DogStatsDAddr == "" {
			errorf("DOGSTATSD_ADDR", "is required for the datadog metrics backend")
		}
	default:
		errorf("METRICS_BACKEND", "unknown backend %q (want none|pushgateway|datadog)", c.MetricsBackend)
	}
	if strings.TrimSpace(c.JobName) == "" {
		warnf("JOB_NAME", "is empty; metrics will be unlabelled")
	}
	return issues
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
