package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"

	"github.com/aleksaelezovic/annobrick/internal/annotation"
	"github.com/aleksaelezovic/annobrick/internal/compact"
	"github.com/aleksaelezovic/annobrick/internal/metrics"
	"github.com/aleksaelezovic/annobrick/internal/source"
)

// RowReader yields consecutive row batches and io.EOF at the end
type RowReader interface {
	Next() ([]annotation.Row, error)
	Close()
}

// Source is the table being converted
type Source interface {
	NumRows() int64
	Batches(ctx context.Context, size int) (RowReader, error)
}

// Backend compacts per-batch fragments and merges them
type Backend interface {
	compact.Compactor
	compact.Merger
	Extension() string
}

// Config controls a pipeline run
type Config struct {
	BatchSize int
	// Workers is the number of batches processed concurrently; 1 runs
	// batches one after another
	Workers int
	// CacheDir holds the per-batch files
	CacheDir string
	// Output is the final compact store
	Output string
	// KeepCache keeps CacheDir after a successful run
	KeepCache bool
}

// Result summarizes a successful run
type Result struct {
	RunID    string
	Batches  int
	Rows     int64
	Edges    int64
	Output   string
	Duration time.Duration
}

// Pipeline converts an annotations table into one compact store
type Pipeline struct {
	cfg        Config
	mapper     *annotation.Mapper
	backend    Backend
	serializer *Serializer
	metrics    *metrics.Recorder
	logger     *log.Logger

	mu      sync.Mutex
	state   RunState
	tracker *Tracker
}

// Option customizes a Pipeline
type Option func(*Pipeline)

// WithLogger sets the logger
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) { p.logger = logger }
}

// WithMetrics sets the metrics recorder
func WithMetrics(recorder *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = recorder }
}

// New creates a pipeline
func New(cfg Config, mapper *annotation.Mapper, backend Backend, opts ...Option) (*Pipeline, error) {
	if cfg.BatchSize <= 0 {
		return nil, fmt.Errorf("invalid batch size %d", cfg.BatchSize)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.CacheDir == "" || cfg.Output == "" {
		return nil, errors.New("cache directory and output path are required")
	}

	p := &Pipeline{
		cfg:        cfg,
		mapper:     mapper,
		backend:    backend,
		serializer: NewSerializer(cfg.CacheDir, backend.Extension(), mapper.Namespaces(), backend),
		metrics:    metrics.NewNoop(),
		logger:     log.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithPrefix("pipeline")
	return p, nil
}

// State returns the state of the current or last run
func (p *Pipeline) State() RunState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Tracker returns the batch states of the current or last run
func (p *Pipeline) Tracker() *Tracker {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tracker
}

func (p *Pipeline) setState(state RunState) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = state
}

// Run converts every row of src and merges the batches into the output.
// The first failing batch fails the run; batches not yet started are
// skipped and no intermediate file is deleted.
func (p *Pipeline) Run(ctx context.Context, src Source) (*Result, error) {
	start := time.Now()
	runID := uuid.New().String()
	logger := p.logger.With("run", runID)

	total := src.NumRows()
	logger.Info("Number of rows", "rows", total)

	plan, err := Plan(total, int64(p.cfg.BatchSize))
	if err != nil {
		return nil, err
	}
	tracker := NewTracker(len(plan))

	p.mu.Lock()
	p.state = RunRunning
	p.tracker = tracker
	p.mu.Unlock()

	fail := func(err error) (*Result, error) {
		p.setState(RunFailed)
		logger.Error("Pipeline failed", "err", err,
			"done", tracker.Count(StateDone),
			"failed", tracker.Count(StateFailed),
			"cancelled", tracker.Count(StateCancelled),
			"pending", tracker.Count(StatePending),
		)
		return nil, err
	}

	if err := os.MkdirAll(p.cfg.CacheDir, 0o755); err != nil {
		return fail(fmt.Errorf("failed to create cache directory: %w", err))
	}
	if err := p.removeMatching(p.serializer.TurtleGlob(), p.serializer.ArtifactGlob()); err != nil {
		return fail(fmt.Errorf("failed to clear stale batch files: %w", err))
	}
	// A failed run must not leave the previous output looking current
	if err := os.Remove(p.cfg.Output); err != nil && !os.IsNotExist(err) {
		return fail(fmt.Errorf("failed to remove previous output: %w", err))
	}

	logger.Info("Processing batches", "batches", len(plan), "batch_size", p.cfg.BatchSize, "workers", p.cfg.Workers)
	edges, err := p.runBatches(ctx, src, plan, tracker, logger)
	if err != nil {
		return fail(err)
	}

	if err := p.removeMatching(p.serializer.TurtleGlob()); err != nil {
		logger.Warn("Failed to remove turtle files", "err", err)
	}

	logger.Info("Combining compact stores", "output", p.cfg.Output)
	mergeStart := time.Now()
	if err := p.backend.Merge(ctx, p.serializer.ArtifactGlob(), p.cfg.Output); err != nil {
		if rmErr := os.Remove(p.cfg.Output); rmErr != nil && !os.IsNotExist(rmErr) {
			logger.Warn("Failed to remove partial output", "output", p.cfg.Output, "err", rmErr)
		}
		return fail(fmt.Errorf("failed to merge batches: %w", err))
	}
	p.metrics.ObserveMerge(time.Since(mergeStart))
	logger.Info("Done writing compact store", "output", p.cfg.Output, "elapsed", time.Since(mergeStart))

	if err := p.cleanup(); err != nil {
		logger.Warn("Cleanup incomplete", "err", err)
	}

	p.setState(RunDone)
	return &Result{
		RunID:    runID,
		Batches:  len(plan),
		Rows:     total,
		Edges:    edges,
		Output:   p.cfg.Output,
		Duration: time.Since(start),
	}, nil
}

// runBatches reads batches in order and processes them on at most
// Workers goroutines. It returns the summed fragment sizes.
func (p *Pipeline) runBatches(ctx context.Context, src Source, plan []Batch, tracker *Tracker, logger *log.Logger) (int64, error) {
	if len(plan) == 0 {
		return 0, nil
	}

	reader, err := src.Batches(ctx, p.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	defer reader.Close()

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	var done atomic.Int64
	var edges atomic.Int64

	for _, batch := range plan {
		if gCtx.Err() != nil {
			break
		}

		rows, err := reader.Next()
		if err == nil && int64(len(rows)) != batch.Len() {
			err = fmt.Errorf("expected %d rows, source returned %d", batch.Len(), len(rows))
		}
		if errors.Is(err, io.EOF) {
			err = fmt.Errorf("source ended before row %d", batch.Start)
		}
		if err != nil {
			_ = tracker.Transition(batch.Index, StateFailed)
			p.metrics.BatchFailed()
			readErr := &BatchError{Index: batch.Index, State: StatePending, Err: err}
			g.Go(func() error { return readErr })
			break
		}

		g.Go(func() error {
			if gCtx.Err() != nil {
				return nil
			}
			n, err := p.processBatch(gCtx, batch, rows, tracker)
			if err != nil {
				return err
			}
			edges.Add(int64(n))
			logger.Info("Batch done",
				"batch", batch.Index,
				"rows", len(rows),
				"edges", n,
				"progress", fmt.Sprintf("%d/%d", done.Add(1), len(plan)),
			)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return edges.Load(), nil
}

// processBatch maps and serializes one batch
func (p *Pipeline) processBatch(ctx context.Context, batch Batch, rows []annotation.Row, tracker *Tracker) (int, error) {
	start := time.Now()
	p.metrics.BatchStarted()

	state := StateAccumulating
	fail := func(err error) (int, error) {
		// Stopped by a failure elsewhere, not a failure of this batch
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			_ = tracker.Transition(batch.Index, StateCancelled)
			p.metrics.BatchCancelled()
		} else {
			_ = tracker.Transition(batch.Index, StateFailed)
			p.metrics.BatchFailed()
		}
		return 0, &BatchError{Index: batch.Index, State: state, Err: err}
	}

	if err := tracker.Transition(batch.Index, StateAccumulating); err != nil {
		return fail(err)
	}
	fragment, err := p.mapper.Accumulate(rows)
	if err != nil {
		return fail(err)
	}

	state = StateSerializing
	if err := tracker.Transition(batch.Index, StateSerializing); err != nil {
		return fail(err)
	}
	if _, err := p.serializer.Serialize(ctx, batch.Index, fragment); err != nil {
		return fail(err)
	}

	if err := tracker.Transition(batch.Index, StateDone); err != nil {
		return fail(err)
	}
	p.metrics.BatchDone(len(rows), fragment.Len(), time.Since(start))
	return fragment.Len(), nil
}

// cleanup removes the per-batch files and, unless KeepCache is set, the
// cache directory once nothing else is left in it. Files the run did not
// create are never removed.
func (p *Pipeline) cleanup() error {
	var result *multierror.Error
	if err := p.removeMatching(p.serializer.TurtleGlob(), p.serializer.ArtifactGlob()); err != nil {
		result = multierror.Append(result, err)
	}
	if !p.cfg.KeepCache {
		if err := removeIfEmpty(p.cfg.CacheDir); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

// removeIfEmpty deletes dir when it has no entries
func removeIfEmpty(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(entries) > 0 {
		return nil
	}
	return os.Remove(dir)
}

// removeMatching deletes every file matching the globs
func (p *Pipeline) removeMatching(globs ...string) error {
	var result *multierror.Error
	for _, glob := range globs {
		matches, err := doublestar.FilepathGlob(glob)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		for _, path := range matches {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				result = multierror.Append(result, err)
			}
		}
	}
	return result.ErrorOrNil()
}

// FromParquet adapts a Parquet file to a pipeline Source
func FromParquet(src *source.ParquetSource) Source {
	return parquetSource{src}
}

type parquetSource struct {
	*source.ParquetSource
}

func (s parquetSource) Batches(ctx context.Context, size int) (RowReader, error) {
	reader, err := s.ParquetSource.Batches(ctx, size)
	if err != nil {
		return nil, err
	}
	return reader, nil
}
