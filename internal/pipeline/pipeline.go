// Package pipeline runs one fetch, normalize and load pass.
//
// A run is strictly sequential and never retries. Its outcome is reported as
// a Result whose Status the binary maps to an exit code.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"txetl/internal/artifact"
	"txetl/internal/logging"
	"txetl/internal/metrics"
	jsonparser "txetl/internal/parser/json"
	"txetl/internal/records"
	"txetl/internal/schema"
	"txetl/internal/transformer"
)

// Source yields the raw batch. api.Reader implements it.
type Source interface {
	Read(ctx context.Context) (jsonparser.Decoded, error)
}

// Sink loads a normalized batch atomically. storage.Writer implements it.
type Sink interface {
	Write(ctx context.Context, batch []records.Transaction) (int64, error)
}

// Artifacts names the diagnostic CSV files. Empty paths are skipped.
type Artifacts struct {
	RawCSV         string
	TransformedCSV string
}

// Pipeline wires the stages of a run.
type Pipeline struct {
	Source     Source
	Normalizer *transformer.Normalizer
	Sink       Sink
	Artifacts  Artifacts

	// Job labels logs and metrics.
	Job string

	// now and newID are replaced in tests.
	now   func() time.Time
	newID func() string
}

// Result describes a finished run.
type Result struct {
	RunID  string
	Status Status
	States []State

	Fetched    int
	Normalized int
	Loaded     int64
	Anomalies  []transformer.Anomaly

	// Fingerprint identifies the normalized batch content; equal batches
	// have equal fingerprints. Zero when nothing was normalized.
	Fingerprint uint64

	// Err is the error that aborted the run, nil otherwise.
	Err      error
	Duration time.Duration
}

func (p *Pipeline) clock() time.Time {
	if p.now != nil {
		return p.now()
	}
	return time.Now()
}

func (p *Pipeline) runID() string {
	if p.newID != nil {
		return p.newID()
	}
	return uuid.NewString()
}

// Run executes the pipeline once. It always returns a Result; failures are
// reported through Result.Status and Result.Err.
func (p *Pipeline) Run(ctx context.Context) Result {
	started := p.clock()
	res := Result{RunID: p.runID(), States: []State{Start}}

	log := logging.FromContext(ctx).With().Str("run_id", res.RunID).Str("job", p.Job).Logger()
	ctx = logging.WithContext(ctx, log)

	finish := func(status Status, err error) Result {
		res.Status = status
		res.Err = err
		if status == Completed {
			res.States = append(res.States, Done)
		} else {
			res.States = append(res.States, Aborted)
		}
		res.Duration = p.clock().Sub(started)
		metrics.RecordRun(p.Job, status.String())

		ev := log.Info()
		if err != nil {
			ev = log.Error().Err(err)
		}
		ev.Str("stage", "done").
			Str("status", status.String()).
			Int("fetched", res.Fetched).
			Int("normalized", res.Normalized).
			Int64("loaded", res.Loaded).
			Int("anomalies", len(res.Anomalies)).
			Dur("duration", res.Duration).
			Msg("run finished")
		return res
	}

	// fetch
	raw, err := p.fetch(ctx, log)
	if err != nil {
		return finish(AbortedAtFetch, err)
	}
	res.Fetched = len(raw.Records)
	p.writeRaw(log, raw)
	if len(raw.Records) == 0 {
		log.Warn().Str("stage", "fetch").Msg("source returned no records; skipping load")
		return finish(SkippedEmpty, nil)
	}
	res.States = append(res.States, Fetched)

	// normalize
	out := p.normalize(log, raw.Records)
	res.Normalized = len(out.Records)
	res.Anomalies = out.Anomalies
	res.Fingerprint = schema.Fingerprint(out.Records)
	res.States = append(res.States, Normalized)
	p.writeTransformed(log, out.Records)

	// load
	n, err := p.load(ctx, log, out.Records)
	if err != nil {
		return finish(AbortedAtLoad, err)
	}
	res.Loaded = n
	res.States = append(res.States, Loaded)
	return finish(Completed, nil)
}

func (p *Pipeline) fetch(ctx context.Context, log zerolog.Logger) (jsonparser.Decoded, error) {
	t0 := p.clock()
	dec, err := p.Source.Read(ctx)
	metrics.RecordStep(p.Job, "fetch", err, p.clock().Sub(t0))
	if err != nil {
		return jsonparser.Decoded{}, fmt.Errorf("fetch: %w", err)
	}
	metrics.RecordRow(p.Job, "fetched", int64(len(dec.Records)))
	log.Info().Str("stage", "fetch").Int("records", len(dec.Records)).Msg("fetched")
	return dec, nil
}

func (p *Pipeline) normalize(log zerolog.Logger, raw []records.Raw) transformer.Output {
	n := p.Normalizer
	if n == nil {
		n = transformer.New()
	}
	t0 := p.clock()
	out := n.Normalize(raw)
	metrics.RecordStep(p.Job, "normalize", nil, p.clock().Sub(t0))
	metrics.RecordRow(p.Job, "anomalies", int64(len(out.Anomalies)))

	for _, a := range out.Anomalies {
		log.Warn().Str("stage", "normalize").
			Int("row", a.Row).
			Str("field", a.Field).
			Interface("value", a.Value).
			Str("reason", a.Reason).
			Msg("transform anomaly")
	}
	ev := log.Info().Str("stage", "normalize").Int("records", len(out.Records)).Int("anomalies", len(out.Anomalies))
	for field, c := range out.Report.Filled {
		ev = ev.Int("filled_"+field, c)
	}
	if out.Report.Collapsed > 0 {
		ev = ev.Int("collapsed", out.Report.Collapsed)
	}
	ev.Msg("normalized")
	return out
}

func (p *Pipeline) load(ctx context.Context, log zerolog.Logger, batch []records.Transaction) (int64, error) {
	t0 := p.clock()
	n, err := p.Sink.Write(ctx, batch)
	metrics.RecordStep(p.Job, "load", err, p.clock().Sub(t0))
	if err != nil {
		return 0, fmt.Errorf("load: %w", err)
	}
	metrics.RecordRow(p.Job, "loaded", n)
	log.Info().Str("stage", "load").Int64("rows_affected", n).Msg("loaded")
	return n, nil
}

func (p *Pipeline) writeRaw(log zerolog.Logger, dec jsonparser.Decoded) {
	if p.Artifacts.RawCSV == "" {
		return
	}
	if err := artifact.WriteRaw(p.Artifacts.RawCSV, dec.Records, dec.Keys); err != nil {
		log.Warn().Err(err).Str("stage", "fetch").Msg("raw artifact not written")
		return
	}
	log.Debug().Str("stage", "fetch").Str("path", p.Artifacts.RawCSV).Msg("raw artifact written")
}

func (p *Pipeline) writeTransformed(log zerolog.Logger, batch []records.Transaction) {
	if p.Artifacts.TransformedCSV == "" {
		return
	}
	def := schema.Transactions()
	if p.Normalizer != nil {
		def = p.Normalizer.Schema
	}
	if err := artifact.WriteTransformed(p.Artifacts.TransformedCSV, def, batch); err != nil {
		log.Warn().Err(err).Str("stage", "normalize").Msg("transformed artifact not written")
		return
	}
	log.Debug().Str("stage", "normalize").Str("path", p.Artifacts.TransformedCSV).Msg("transformed artifact written")
}
