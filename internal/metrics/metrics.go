// Package metrics records run metrics through a pluggable Backend.
//
// The default backend discards everything, so callers may record
// unconditionally. cmd/txetl installs a Pushgateway or DogStatsD backend when
// one is configured and flushes it once the run is over.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by this package.
const (
	StageTotal    = "txetl_stage_total"
	StageDuration = "txetl_stage_duration_seconds"
	RecordsTotal  = "txetl_records_total"
	RunsTotal     = "txetl_runs_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is implemented by concrete metric systems.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style observation.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes buffered metrics, if the backend needs it.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b. Passing nil keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

// RecordStep counts one execution of a pipeline stage and observes its
// duration, labelled success or failure depending on err.
func RecordStep(job, stage string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "stage": stage, "status": status}

	b := current()
	b.IncCounter(StageTotal, 1, lbls)
	b.ObserveHistogram(StageDuration, d.Seconds(), lbls)
}

// RecordRow adds n to the record counter of the given kind ("fetched",
// "anomalies", "loaded", ...). Non-positive deltas are ignored.
func RecordRow(job, kind string, n int64) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordRun counts a finished run by its terminal status.
func RecordRun(job, status string) {
	current().IncCounter(RunsTotal, 1, Labels{"job": job, "status": status})
}
