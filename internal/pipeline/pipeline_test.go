package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/annobrick/internal/annotation"
	"github.com/aleksaelezovic/annobrick/internal/compact"
	"github.com/aleksaelezovic/annobrick/internal/logging"
	"github.com/aleksaelezovic/annobrick/internal/metrics"
	"github.com/aleksaelezovic/annobrick/internal/source"
	"github.com/aleksaelezovic/annobrick/internal/store"
)

// sliceSource serves rows from memory
type sliceSource struct {
	rows []annotation.Row
}

func (s *sliceSource) NumRows() int64 {
	return int64(len(s.rows))
}

func (s *sliceSource) Batches(_ context.Context, size int) (RowReader, error) {
	return &sliceReader{rows: s.rows, size: size}, nil
}

type sliceReader struct {
	rows []annotation.Row
	size int
}

func (r *sliceReader) Next() ([]annotation.Row, error) {
	if len(r.rows) == 0 {
		return nil, io.EOF
	}
	n := min(r.size, len(r.rows))
	batch := r.rows[:n]
	r.rows = r.rows[n:]
	return batch, nil
}

func (r *sliceReader) Close() {}

// fakeBackend copies fragments and concatenates them on merge
type fakeBackend struct {
	mu       sync.Mutex
	compacts []string
	failOn   string
	mergeErr error
	merged   bool
}

func (f *fakeBackend) Extension() string { return "fake" }

func (f *fakeBackend) Compact(_ context.Context, req compact.Request) error {
	f.mu.Lock()
	f.compacts = append(f.compacts, req.Input)
	f.mu.Unlock()

	if f.failOn != "" && filepath.Base(req.Input) == f.failOn {
		return &compact.ToolError{Tool: compact.ToolRDF2HDT, ExitCode: 1, Stderr: "boom", Err: errors.New("exit status 1")}
	}
	data, err := os.ReadFile(req.Input)
	if err != nil {
		return err
	}
	return os.WriteFile(req.Output, data, 0o644)
}

func (f *fakeBackend) Merge(_ context.Context, inputGlob, output string) error {
	f.mu.Lock()
	f.merged = true
	f.mu.Unlock()

	matches, err := filepath.Glob(inputGlob)
	if err != nil {
		return err
	}
	var out []byte
	for _, m := range matches {
		data, err := os.ReadFile(m)
		if err != nil {
			return err
		}
		out = append(out, data...)
	}
	if f.mergeErr != nil {
		// Leave a truncated file behind like a tool dying mid-write
		_ = os.WriteFile(output, out[:len(out)/2], 0o644)
		return f.mergeErr
	}
	return os.WriteFile(output, out, 0o644)
}

// blockingBackend holds the first compaction until the run is cancelled
type blockingBackend struct {
	fakeBackend
	started chan struct{}
	once    sync.Once
}

func (b *blockingBackend) Compact(ctx context.Context, req compact.Request) error {
	if filepath.Base(req.Input) == "annotations_0.ttl" {
		b.once.Do(func() { close(b.started) })
		<-ctx.Done()
		return ctx.Err()
	}
	return b.fakeBackend.Compact(ctx, req)
}

// gatedSource holds every batch after the first until gate is closed
type gatedSource struct {
	sliceSource
	gate <-chan struct{}
}

func (s *gatedSource) Batches(ctx context.Context, size int) (RowReader, error) {
	return &gatedReader{sliceReader: sliceReader{rows: s.rows, size: size}, gate: s.gate}, nil
}

type gatedReader struct {
	sliceReader
	gate  <-chan struct{}
	calls int
}

func (r *gatedReader) Next() ([]annotation.Row, error) {
	if r.calls > 0 {
		<-r.gate
	}
	r.calls++
	return r.sliceReader.Next()
}

func counterValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func payload(texts ...string) string {
	data := `{"Value":{"StringWithMarkup":[`
	for i, text := range texts {
		if i > 0 {
			data += ","
		}
		data += fmt.Sprintf(`{"String":%q}`, text)
	}
	return data + `]}}`
}

func scenarioRows() []annotation.Row {
	return []annotation.Row{
		{Position: 0, ANID: 1, CompoundIDs: []int64{100}, Data: payload("toxic")},
		{Position: 1, ANID: 2, SubstanceIDs: []int64{200}, Data: payload("LC50 1.2 mg/L", "EC50 0.4 mg/L")},
		{Position: 2, ANID: 3, CompoundIDs: []int64{100, 101}, SubstanceIDs: []int64{200}, Data: `{"Value":{}}`},
	}
}

type testEnv struct {
	dir    string
	cache  string
	output string
	mapper *annotation.Mapper
}

func newTestEnv(t *testing.T, ext string) testEnv {
	t.Helper()
	dir := t.TempDir()
	mapper, err := annotation.NewMapper(annotation.DefaultNamespaces())
	require.NoError(t, err)
	return testEnv{
		dir:    dir,
		cache:  filepath.Join(dir, "cache", "process"),
		output: filepath.Join(dir, "brick", "annotations."+ext),
		mapper: mapper,
	}
}

func (e testEnv) pipeline(t *testing.T, backend Backend, batchSize, workers int, keepCache bool) *Pipeline {
	t.Helper()
	recorder, err := metrics.NewRecorder()
	require.NoError(t, err)
	p, err := New(Config{
		BatchSize: batchSize,
		Workers:   workers,
		CacheDir:  e.cache,
		Output:    e.output,
		KeepCache: keepCache,
	}, e.mapper, backend, WithLogger(logging.Discard()), WithMetrics(recorder))
	require.NoError(t, err)
	return p
}

func nativeBackend() *compact.Native {
	return compact.NewNative(compact.Options{Namespaces: annotation.DefaultNamespaces(), Logger: logging.Discard()})
}

func openFinal(t *testing.T, path string) *store.TripleStore {
	t.Helper()
	ts, err := nativeBackend().Open(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ts.Close() })
	return ts
}

func TestRun_EndToEnd(t *testing.T) {
	env := newTestEnv(t, "kvb")
	p := env.pipeline(t, nativeBackend(), 2, 1, false)

	result, err := p.Run(context.Background(), &sliceSource{rows: scenarioRows()})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Batches)
	assert.Equal(t, int64(3), result.Rows)
	assert.Equal(t, int64(22), result.Edges)
	assert.Equal(t, RunDone, p.State())
	assert.Equal(t, 2, p.Tracker().Count(StateDone))

	ts := openFinal(t, env.output)
	count, err := ts.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(22), count)

	vocab := env.mapper.Vocabulary()
	bodies, err := ts.Match(&store.Pattern{
		Subject:   vocab.AnnotationIRI(1),
		Predicate: vocab.HasBody,
		Object:    store.NewVariable("body"),
	})
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	assert.True(t, bodies[0].Object.Equals(vocab.BodyIRI(1)))

	// Every mapped edge is retrievable by its exact pattern
	for _, row := range scenarioRows() {
		triples, err := env.mapper.Map(row)
		require.NoError(t, err)
		for _, tr := range triples {
			ok, err := ts.ContainsTriple(tr)
			require.NoError(t, err)
			assert.True(t, ok, "missing %s", tr)
		}
	}

	assert.NoDirExists(t, env.cache)
}

func TestRun_Parquet(t *testing.T) {
	env := newTestEnv(t, "kvb")

	path := filepath.Join(env.dir, "annotations.parquet")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, source.WriteParquet(f, scenarioRows(), 2))
	require.NoError(t, f.Close())

	src, err := source.OpenParquet(path, 2)
	require.NoError(t, err)
	defer src.Close()

	p := env.pipeline(t, nativeBackend(), 1, 3, true)
	result, err := p.Run(context.Background(), FromParquet(src))
	require.NoError(t, err)
	assert.Equal(t, 3, result.Batches)

	count, err := openFinal(t, env.output).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(22), count)

	// Per-batch files are gone but the cache directory is kept
	assert.DirExists(t, env.cache)
	matches, err := filepath.Glob(filepath.Join(env.cache, "annotations_*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRun_MergeOrderInsensitive(t *testing.T) {
	var dumps []string
	for _, tc := range []struct{ size, workers int }{{3, 1}, {1, 1}, {1, 3}, {2, 2}} {
		env := newTestEnv(t, "kvb")
		p := env.pipeline(t, nativeBackend(), tc.size, tc.workers, false)
		_, err := p.Run(context.Background(), &sliceSource{rows: scenarioRows()})
		require.NoError(t, err)

		triples, err := openFinal(t, env.output).Triples(-1)
		require.NoError(t, err)
		lines := make([]string, len(triples))
		for i, tr := range triples {
			lines[i] = tr.String()
		}
		sort.Strings(lines)
		dumps = append(dumps, fmt.Sprint(lines))
	}

	for _, dump := range dumps[1:] {
		assert.Equal(t, dumps[0], dump)
	}
}

func TestRun_Empty(t *testing.T) {
	env := newTestEnv(t, "kvb")
	p := env.pipeline(t, nativeBackend(), 10, 1, false)

	result, err := p.Run(context.Background(), &sliceSource{})
	require.NoError(t, err)
	assert.Equal(t, 0, result.Batches)

	count, err := openFinal(t, env.output).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestRun_MalformedRowFailsBatch(t *testing.T) {
	env := newTestEnv(t, "fake")
	require.NoError(t, os.MkdirAll(filepath.Dir(env.output), 0o755))
	require.NoError(t, os.WriteFile(env.output, []byte("previous run"), 0o644))

	rows := scenarioRows()
	rows = append(rows,
		annotation.Row{Position: 3, ANID: 4, Data: "{not json"},
		annotation.Row{Position: 4, ANID: 5, Data: `{}`},
	)

	backend := &fakeBackend{}
	p := env.pipeline(t, backend, 2, 1, false)
	_, err := p.Run(context.Background(), &sliceSource{rows: rows})
	require.Error(t, err)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 1, batchErr.Index)
	assert.Equal(t, StateAccumulating, batchErr.State)
	assert.True(t, errors.Is(err, annotation.ErrMalformedPayload))

	var rowErr *annotation.RowMappingError
	require.True(t, errors.As(err, &rowErr))
	assert.Equal(t, int64(4), rowErr.ANID)

	assert.Equal(t, RunFailed, p.State())
	tracker := p.Tracker()
	assert.Equal(t, StateDone, tracker.State(0))
	assert.Equal(t, StateFailed, tracker.State(1))
	assert.Equal(t, StatePending, tracker.State(2))

	assert.False(t, backend.merged)
	assert.NoFileExists(t, env.output)
	// Intermediate files are kept for diagnosis
	assert.FileExists(t, filepath.Join(env.cache, "annotations_0.ttl"))
}

func TestRun_CompactionFailure(t *testing.T) {
	env := newTestEnv(t, "fake")
	backend := &fakeBackend{failOn: "annotations_0.ttl"}
	p := env.pipeline(t, backend, 10, 1, false)

	_, err := p.Run(context.Background(), &sliceSource{rows: scenarioRows()})
	require.Error(t, err)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, StateSerializing, batchErr.State)

	var toolErr *compact.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "boom", toolErr.Stderr)

	assert.FileExists(t, filepath.Join(env.cache, "annotations_0.ttl"))
	assert.NoFileExists(t, env.output)
}

func TestRun_ShortSource(t *testing.T) {
	env := newTestEnv(t, "fake")
	p := env.pipeline(t, &fakeBackend{}, 2, 1, false)

	src := &lyingSource{sliceSource{rows: scenarioRows()}, 5}
	_, err := p.Run(context.Background(), src)
	require.Error(t, err)

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, StatePending, batchErr.State)
}

// lyingSource reports more rows than it returns
type lyingSource struct {
	sliceSource
	total int64
}

func (s *lyingSource) NumRows() int64 {
	return s.total
}

func TestRun_TurtleOutput(t *testing.T) {
	env := newTestEnv(t, "fake")
	p := env.pipeline(t, &fakeBackend{}, 10, 1, false)

	_, err := p.Run(context.Background(), &sliceSource{rows: scenarioRows()[:1]})
	require.NoError(t, err)

	// The fake merge concatenates the Turtle fragments
	data, err := os.ReadFile(env.output)
	require.NoError(t, err)
	out := string(data)
	assert.Contains(t, out, "@prefix oa: <http://www.w3.org/ns/oa#> .")
	assert.Contains(t, out, "ecotoxannotation:ANID1\n    a oa:Annotation ;")
	assert.Contains(t, out, "<http://rdf.ncbi.nlm.nih.gov/ecotox/annotation/ANID1/body>")
	assert.Contains(t, out, `rdf:value "toxic"`)
}

func TestRun_CacheDirSharedWithOutput(t *testing.T) {
	env := newTestEnv(t, "kvb")
	env.cache = filepath.Dir(env.output)
	require.NoError(t, os.MkdirAll(env.cache, 0o755))
	unrelated := filepath.Join(env.cache, "README.txt")
	require.NoError(t, os.WriteFile(unrelated, []byte("keep me"), 0o644))

	p := env.pipeline(t, nativeBackend(), 2, 1, false)
	_, err := p.Run(context.Background(), &sliceSource{rows: scenarioRows()})
	require.NoError(t, err)
	assert.Equal(t, RunDone, p.State())

	count, err := openFinal(t, env.output).Count()
	require.NoError(t, err)
	assert.Equal(t, int64(22), count)
	assert.FileExists(t, unrelated)

	matches, err := filepath.Glob(filepath.Join(env.cache, "annotations_*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestRun_CleanupKeepsForeignFiles(t *testing.T) {
	env := newTestEnv(t, "fake")
	require.NoError(t, os.MkdirAll(env.cache, 0o755))
	foreign := filepath.Join(env.cache, "notes.txt")
	require.NoError(t, os.WriteFile(foreign, []byte("x"), 0o644))

	p := env.pipeline(t, &fakeBackend{}, 2, 1, false)
	_, err := p.Run(context.Background(), &sliceSource{rows: scenarioRows()})
	require.NoError(t, err)

	assert.FileExists(t, foreign)
	assert.FileExists(t, env.output)
}

func TestRun_ParallelFailureCancelsInFlight(t *testing.T) {
	env := newTestEnv(t, "fake")
	started := make(chan struct{})
	backend := &blockingBackend{started: started}

	rows := scenarioRows()[:2]
	rows = append(rows, annotation.Row{Position: 2, ANID: 4, Data: "{not json"})
	src := &gatedSource{sliceSource: sliceSource{rows: rows}, gate: started}

	recorder, err := metrics.NewRecorder()
	require.NoError(t, err)
	p, err := New(Config{
		BatchSize: 2,
		Workers:   2,
		CacheDir:  env.cache,
		Output:    env.output,
	}, env.mapper, backend, WithLogger(logging.Discard()), WithMetrics(recorder))
	require.NoError(t, err)

	_, err = p.Run(context.Background(), src)
	require.Error(t, err)
	assert.True(t, errors.Is(err, annotation.ErrMalformedPayload))

	var batchErr *BatchError
	require.True(t, errors.As(err, &batchErr))
	assert.Equal(t, 1, batchErr.Index)

	tracker := p.Tracker()
	assert.Equal(t, StateCancelled, tracker.State(0))
	assert.Equal(t, StateFailed, tracker.State(1))
	assert.Equal(t, 1, tracker.Count(StateFailed))

	assert.Equal(t, 1.0, counterValue(t, recorder.Gatherer(), "annobrick_batches_failed_total"))
	assert.Equal(t, 1.0, counterValue(t, recorder.Gatherer(), "annobrick_batches_cancelled_total"))

	assert.Equal(t, RunFailed, p.State())
	assert.False(t, backend.merged)
	assert.NoFileExists(t, env.output)
}

func TestRun_MergeFailure(t *testing.T) {
	env := newTestEnv(t, "fake")
	backend := &fakeBackend{mergeErr: &compact.ToolError{Tool: compact.ToolHDTCat, ExitCode: 2, Stderr: "disk full", Err: errors.New("exit status 2")}}
	p := env.pipeline(t, backend, 2, 1, false)

	_, err := p.Run(context.Background(), &sliceSource{rows: scenarioRows()})
	require.Error(t, err)

	var toolErr *compact.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, "disk full", toolErr.Stderr)

	assert.Equal(t, RunFailed, p.State())
	assert.Equal(t, 2, p.Tracker().Count(StateDone))
	assert.NoFileExists(t, env.output)
	// Per-batch stores are kept for diagnosis
	assert.FileExists(t, filepath.Join(env.cache, "annotations_0.fake"))
}
