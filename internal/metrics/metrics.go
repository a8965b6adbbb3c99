package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "annobrick"

// batchDurationBuckets span ~100ms to ~3.6h
var batchDurationBuckets = prometheus.ExponentialBuckets(0.1, 2, 18)

// Recorder collects pipeline metrics. A Recorder created with NewNoop
// records nothing.
type Recorder struct {
	monitoring bool
	registry   *prometheus.Registry

	batchesStarted prometheus.Counter
	batchesDone    prometheus.Counter
	batchesFailed  prometheus.Counter
	batchesCancel  prometheus.Counter
	rows           prometheus.Counter
	edges          prometheus.Counter
	batchDuration  prometheus.Histogram
	mergeDuration  prometheus.Histogram
	finalEdges     prometheus.Gauge
}

// NewNoop returns a recorder that drops every observation
func NewNoop() *Recorder {
	return &Recorder{}
}

// NewRecorder creates a recorder backed by its own registry
func NewRecorder() (*Recorder, error) {
	reg := prometheus.NewRegistry()
	r := &Recorder{monitoring: true, registry: reg}

	var err error
	if r.batchesStarted, err = newCounter(reg, "batches_started_total", "Count of batches started"); err != nil {
		return nil, err
	}
	if r.batchesDone, err = newCounter(reg, "batches_done_total", "Count of batches compacted successfully"); err != nil {
		return nil, err
	}
	if r.batchesFailed, err = newCounter(reg, "batches_failed_total", "Count of batches that failed"); err != nil {
		return nil, err
	}
	if r.batchesCancel, err = newCounter(reg, "batches_cancelled_total", "Count of in-flight batches stopped after another batch failed"); err != nil {
		return nil, err
	}
	if r.rows, err = newCounter(reg, "rows_total", "Count of source rows mapped"); err != nil {
		return nil, err
	}
	if r.edges, err = newCounter(reg, "edges_total", "Count of distinct edges serialized, summed over batches"); err != nil {
		return nil, err
	}
	if r.batchDuration, err = newHistogram(reg, "batch_duration_seconds", "Duration of batch mapping and compaction"); err != nil {
		return nil, err
	}
	if r.mergeDuration, err = newHistogram(reg, "merge_duration_seconds", "Duration of the merge step"); err != nil {
		return nil, err
	}

	r.finalEdges = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "final_edges",
		Help:      "Edge count of the verified final store",
	})
	if err := reg.Register(r.finalEdges); err != nil {
		return nil, err
	}

	return r, nil
}

func newCounter(reg prometheus.Registerer, name, help string) (prometheus.Counter, error) {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	})
	if err := reg.Register(c); err != nil {
		var e prometheus.AlreadyRegisteredError
		if errors.As(err, &e) {
			if counter, ok := e.ExistingCollector.(prometheus.Counter); ok {
				return counter, nil
			}
			return nil, fmt.Errorf("metric %s already registered but not as a Counter", name)
		}
		return nil, err
	}
	return c, nil
}

func newHistogram(reg prometheus.Registerer, name, help string) (prometheus.Histogram, error) {
	h := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
		Buckets:   batchDurationBuckets,
	})
	if err := reg.Register(h); err != nil {
		return nil, err
	}
	return h, nil
}

func (r *Recorder) BatchStarted() {
	if r.monitoring {
		r.batchesStarted.Inc()
	}
}

func (r *Recorder) BatchDone(rows, edges int, d time.Duration) {
	if r.monitoring {
		r.batchesDone.Inc()
		r.rows.Add(float64(rows))
		r.edges.Add(float64(edges))
		r.batchDuration.Observe(d.Seconds())
	}
}

func (r *Recorder) BatchFailed() {
	if r.monitoring {
		r.batchesFailed.Inc()
	}
}

func (r *Recorder) BatchCancelled() {
	if r.monitoring {
		r.batchesCancel.Inc()
	}
}

func (r *Recorder) ObserveMerge(d time.Duration) {
	if r.monitoring {
		r.mergeDuration.Observe(d.Seconds())
	}
}

func (r *Recorder) SetFinalEdges(n int64) {
	if r.monitoring {
		r.finalEdges.Set(float64(n))
	}
}

// Gatherer exposes the registry, nil for a noop recorder
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if !r.monitoring {
		return nil
	}
	return r.registry
}

// WriteTextfile writes the metrics in the text exposition format, for
// node_exporter's textfile collector. A noop recorder writes nothing.
func (r *Recorder) WriteTextfile(path string) error {
	if !r.monitoring {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, r.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
