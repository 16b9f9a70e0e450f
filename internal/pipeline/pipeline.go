package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/couchcryptid/owid-pivot/internal/domain"
	"github.com/couchcryptid/owid-pivot/internal/observability"
	"golang.org/x/sync/errgroup"
)

// Extractor reads every observation from a long-format source.
type Extractor interface {
	Extract(ctx context.Context, cols domain.Columns) (domain.Scan, error)
}

// Pivoter reshapes observations into the wide matrix for one metric.
type Pivoter interface {
	Pivot(ctx context.Context, obs []domain.Observation, metric domain.Metric) (domain.Matrix, error)
}

// Loader writes a finished matrix to its destination.
type Loader interface {
	Format() string
	Load(ctx context.Context, job domain.Job, m domain.Matrix) error
}

// ErrNoJobs is returned by Run when there is nothing to produce.
var ErrNoJobs = errors.New("no output jobs")

// Result summarizes a completed run.
type Result struct {
	Observations int
	Skipped      map[domain.SkipReason]int
	Outputs      []OutputResult
}

// OutputResult describes one produced matrix.
type OutputResult struct {
	Job     domain.Job
	Dates   int
	Regions int
	Filled  int
	Empty   int
	Omitted int
}

// Pipeline orchestrates the extract-pivot-load run: the source is scanned
// once, then every job is pivoted and handed to each loader.
type Pipeline struct {
	extractor   Extractor
	pivoter     Pivoter
	loaders     []Loader
	logger      *slog.Logger
	metrics     *observability.Metrics
	ready       atomic.Bool
	concurrency int
}

// New creates a Pipeline with the given stages and observability.
func New(e Extractor, p Pivoter, loaders []Loader, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor:   e,
		pivoter:     p,
		loaders:     loaders,
		logger:      logger,
		metrics:     metrics,
		concurrency: 4,
	}
}

// SetConcurrency bounds how many jobs are pivoted and loaded at once.
func (p *Pipeline) SetConcurrency(n int) {
	if n < 1 {
		n = 1
	}
	p.concurrency = n
}

// CheckReadiness returns nil once a run has completed successfully,
// or an error describing why the service is not yet ready.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.ready.Load() {
		return errors.New("pipeline has not completed a run yet")
	}
	return nil
}

// Run scans the source once using the key columns of keys, then produces
// every job. The first failing job cancels the rest.
func (p *Pipeline) Run(ctx context.Context, keys domain.Columns, jobs []domain.Job) (Result, error) {
	if len(jobs) == 0 {
		return Result{}, ErrNoJobs
	}

	start := domain.Now()
	p.metrics.PipelineRunning.Set(1)
	defer p.metrics.PipelineRunning.Set(0)

	// Only the key columns gate a row here. Each metric checks its own
	// column when it is pivoted.
	cols := domain.Columns{Region: keys.Region, Date: keys.Date}

	p.logger.Info("pipeline started", "jobs", len(jobs), "loaders", len(p.loaders))

	scan, err := p.extractor.Extract(ctx, cols)
	if err != nil {
		return Result{}, fmt.Errorf("extract: %w", err)
	}
	p.metrics.RowsRead.Add(float64(len(scan.Observations)))
	for reason, n := range scan.Skipped {
		p.metrics.RowsSkipped.WithLabelValues(string(reason)).Add(float64(n))
	}
	if skipped := scan.TotalSkipped(); skipped > 0 {
		p.logger.Warn("source rows skipped", "skipped", skipped, "by_reason", scan.Skipped)
	}

	outputs := make([]OutputResult, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, job := range jobs {
		g.Go(func() error {
			out, err := p.produce(gctx, scan.Observations, job)
			if err != nil {
				return err
			}
			outputs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	p.metrics.RunDuration.Observe(domain.Since(start).Seconds())
	p.ready.Store(true)
	p.logger.Info("pipeline finished",
		"observations", len(scan.Observations),
		"outputs", len(outputs),
		"duration", domain.Since(start),
	)

	return Result{
		Observations: len(scan.Observations),
		Skipped:      scan.Skipped,
		Outputs:      outputs,
	}, nil
}

// produce pivots one job and passes the matrix to every loader.
func (p *Pipeline) produce(ctx context.Context, obs []domain.Observation, job domain.Job) (OutputResult, error) {
	start := domain.Now()
	m, err := p.pivoter.Pivot(ctx, obs, job.Metric)
	if err != nil {
		return OutputResult{}, fmt.Errorf("pivot %s: %w", job.Metric.Name, err)
	}
	p.metrics.PivotDuration.WithLabelValues(job.Metric.Name).Observe(domain.Since(start).Seconds())

	filled, empty := m.CellStats()
	p.metrics.Cells.WithLabelValues("filled").Add(float64(filled))
	p.metrics.Cells.WithLabelValues("empty").Add(float64(empty))
	if m.Omitted > 0 {
		p.metrics.RowsOmitted.WithLabelValues(job.Metric.Name).Add(float64(m.Omitted))
	}

	for _, l := range p.loaders {
		if err := l.Load(ctx, job, m); err != nil {
			p.metrics.OutputErrors.WithLabelValues(l.Format()).Inc()
			p.logger.Error("load failed", "format", l.Format(), "metric", job.Metric.Name, "path", job.Path, "error", err)
			return OutputResult{}, fmt.Errorf("load %s (%s): %w", job.Metric.Name, l.Format(), err)
		}
		p.metrics.OutputsWritten.WithLabelValues(l.Format()).Inc()
	}

	p.logger.Info("output written",
		"metric", job.Metric.Name,
		"path", job.Path,
		"dates", len(m.Dates),
		"regions", len(m.Regions),
		"empty_cells", empty,
		"omitted", m.Omitted,
	)

	return OutputResult{
		Job:     job,
		Dates:   len(m.Dates),
		Regions: len(m.Regions),
		Filled:  filled,
		Empty:   empty,
		Omitted: m.Omitted,
	}, nil
}
