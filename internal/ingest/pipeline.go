// Package ingest runs the write path: fetch from each source, normalize each item, insert each record.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"pulseboard/internal/ingest/normalize"
	"pulseboard/internal/ingest/source"
	"pulseboard/internal/record/domain"
	"pulseboard/internal/telemetry"
	"pulseboard/internal/telemetry/metrics"
)

// Stage names the step an item failed at.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageNormalize Stage = "normalize"
	StageInsert    Stage = "insert"
)

// Inserter is the part of the record repository the pipeline writes through.
type Inserter interface {
	Insert(ctx context.Context, rec domain.Record) error
}

// Failure is one item that did not become a stored record.
type Failure struct {
	Stage Stage
	Index int
	Err   error
}

// SourceReport summarizes one source within a run.
type SourceReport struct {
	Source          string
	Kind            domain.Kind
	Fetched         int
	ExtractFailed   int
	NormalizeFailed int
	Inserted        int
	InsertFailed    int
	// SourceErr is set when the source could not be reached; the other counters are then zero.
	SourceErr error
	Failures  []Failure
	Duration  time.Duration
}

// Report is the outcome of one Run. It is returned even when the run stops early.
type Report struct {
	RunID    string
	Started  time.Time
	Finished time.Time
	Sources  []SourceReport
}

// Inserted is the total number of records stored by the run.
func (r *Report) Inserted() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Inserted
	}
	return n
}

// Failed is the total number of items dropped at any stage.
func (r *Report) Failed() int {
	n := 0
	for _, s := range r.Sources {
		n += s.ExtractFailed + s.NormalizeFailed + s.InsertFailed
	}
	return n
}

// Pipeline wires sources to the store. Runs are independent; a Pipeline may be reused.
type Pipeline struct {
	store      Inserter
	normalizer normalize.Normalizer
	emitter    telemetry.EventEmitter
	metrics    *metrics.Metrics
	logger     *slog.Logger
	newRunID   func() string
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithEmitter sends an ingest.batch event per source.
func WithEmitter(e telemetry.EventEmitter) Option { return func(p *Pipeline) { p.emitter = e } }

// WithMetrics records item outcomes.
func WithMetrics(m *metrics.Metrics) Option { return func(p *Pipeline) { p.metrics = m } }

// WithLogger sets the logger; defaults to slog.Default.
func WithLogger(l *slog.Logger) Option { return func(p *Pipeline) { p.logger = l } }

// WithRunID overrides run id generation.
func WithRunID(f func() string) Option { return func(p *Pipeline) { p.newRunID = f } }

// New returns a pipeline writing to store. n supplies the default location and clock;
// sources implementing source.Located override the location.
func New(store Inserter, n *normalize.Normalizer, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:    store,
		logger:   slog.Default(),
		newRunID: uuid.NewString,
	}
	if n != nil {
		p.normalizer = *n
	}
	for _, o := range opts {
		o(p)
	}
	p.logger = p.logger.With("component", "ingest")
	return p
}

// Run processes sources in order. Nothing is rolled back: records inserted before a failure stay.
//
// An unreachable source or a bad item is recorded in the report and the run goes on.
// The run stops with an error only when the store is not initialized or ctx is done;
// the partial report is returned alongside.
func (p *Pipeline) Run(ctx context.Context, sources []source.Source) (*Report, error) {
	report := &Report{RunID: p.newRunID(), Started: time.Now().UTC()}
	defer func() { report.Finished = time.Now().UTC() }()

	logger := p.logger.With("run_id", report.RunID)
	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		sr, err := p.runSource(ctx, src, logger.With("source", src.Name()))
		report.Sources = append(report.Sources, sr)
		p.publish(ctx, report.RunID, &sr)
		if err != nil {
			return report, err
		}
	}
	logger.Info("ingest run finished", "sources", len(report.Sources), "inserted", report.Inserted(), "failed", report.Failed())
	return report, nil
}

func (p *Pipeline) runSource(ctx context.Context, src source.Source, logger *slog.Logger) (sr SourceReport, err error) {
	start := time.Now()
	sr = SourceReport{Source: src.Name(), Kind: src.Kind()}
	defer func() { sr.Duration = time.Since(start) }()

	items, err := src.Fetch(ctx)
	if err != nil {
		p.metrics.ObserveFetch(sr.Source, false, start)
		if ctx.Err() != nil {
			return sr, ctx.Err()
		}
		sr.SourceErr = err
		logger.Warn("source unavailable", "error", err)
		return sr, nil
	}
	p.metrics.ObserveFetch(sr.Source, true, start)

	norm := p.normalizer
	if l, ok := src.(source.Located); ok && l.Location() != nil {
		norm.Location = l.Location()
	}

	index := 0
	for raw, itemErr := range items {
		i := index
		index++
		if itemErr != nil {
			sr.ExtractFailed++
			sr.Failures = append(sr.Failures, Failure{Stage: StageExtract, Index: i, Err: itemErr})
			logger.Warn("item extraction failed", "index", i, "error", itemErr)
			continue
		}
		sr.Fetched++
		rec, err := norm.Normalize(sr.Kind, sr.Source, raw)
		if err != nil {
			sr.NormalizeFailed++
			sr.Failures = append(sr.Failures, Failure{Stage: StageNormalize, Index: i, Err: err})
			logger.Warn("item normalization failed", "index", i, "error", err)
			continue
		}
		if err := p.store.Insert(ctx, rec); err != nil {
			if ctx.Err() != nil {
				p.count(&sr)
				return sr, ctx.Err()
			}
			if errors.Is(err, domain.ErrNotInitialized) {
				p.count(&sr)
				return sr, err
			}
			sr.InsertFailed++
			sr.Failures = append(sr.Failures, Failure{Stage: StageInsert, Index: i, Err: err})
			logger.Warn("item insert failed", "index", i, "error", err)
			continue
		}
		sr.Inserted++
		if err := ctx.Err(); err != nil {
			p.count(&sr)
			return sr, err
		}
	}
	p.count(&sr)
	if err := ctx.Err(); err != nil {
		return sr, err
	}
	logger.Info("source ingested",
		"kind", sr.Kind, "fetched", sr.Fetched, "inserted", sr.Inserted,
		"extract_failed", sr.ExtractFailed, "normalize_failed", sr.NormalizeFailed, "insert_failed", sr.InsertFailed)
	return sr, nil
}

func (p *Pipeline) count(sr *SourceReport) {
	p.metrics.AddIngestItems(sr.Source, metrics.OutcomeInserted, sr.Inserted)
	p.metrics.AddIngestItems(sr.Source, metrics.OutcomeExtractFailed, sr.ExtractFailed)
	p.metrics.AddIngestItems(sr.Source, metrics.OutcomeNormalizeFailed, sr.NormalizeFailed)
	p.metrics.AddIngestItems(sr.Source, metrics.OutcomeInsertFailed, sr.InsertFailed)
}

type batchMetadata struct {
	Fetched         int    `json:"fetched"`
	Inserted        int    `json:"inserted"`
	ExtractFailed   int    `json:"extract_failed"`
	NormalizeFailed int    `json:"normalize_failed"`
	InsertFailed    int    `json:"insert_failed"`
	DurationMS      int64  `json:"duration_ms"`
	Error           string `json:"error,omitempty"`
}

func (p *Pipeline) publish(ctx context.Context, runID string, sr *SourceReport) {
	if p.emitter == nil {
		return
	}
	md := batchMetadata{
		Fetched:         sr.Fetched,
		Inserted:        sr.Inserted,
		ExtractFailed:   sr.ExtractFailed,
		NormalizeFailed: sr.NormalizeFailed,
		InsertFailed:    sr.InsertFailed,
		DurationMS:      sr.Duration.Milliseconds(),
	}
	if sr.SourceErr != nil {
		md.Error = sr.SourceErr.Error()
	}
	event := telemetry.NewEvent(telemetry.EventIngestBatch, sr.Source, md)
	event.Kind = string(sr.Kind)
	event.RunID = runID
	telemetry.EmitAsync(p.emitter, ctx, event)
}
