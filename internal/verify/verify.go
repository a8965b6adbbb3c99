package verify

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/aleksaelezovic/annobrick/internal/compact"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// DefaultSampleSize is the number of edges listed in the report
const DefaultSampleSize = 5

// Error reports a store that could not be loaded
type Error struct {
	Path string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("failed to load store %s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Report summarizes a final store
type Report struct {
	TripleCount int64
	Namespaces  []rdf.Namespace
	Sample      []*rdf.Triple
}

// WriteTo writes the report in its text form
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	bw := bufio.NewWriter(w)
	cw := &countingWriter{w: bw}

	fmt.Fprintf(cw, "Triple Count: %d\n", r.TripleCount)
	fmt.Fprintln(cw, "Namespaces:")
	for _, ns := range r.Namespaces {
		fmt.Fprintf(cw, "  %s: %s\n", ns.Prefix, ns.IRI)
	}
	fmt.Fprintln(cw, "Sample Triples:")
	for _, t := range r.Sample {
		fmt.Fprintf(cw, "  %s %s %s\n", rdf.FormatTerm(t.Subject), rdf.FormatTerm(t.Predicate), rdf.FormatTerm(t.Object))
	}

	if cw.err != nil {
		return cw.n, cw.err
	}
	return cw.n, bw.Flush()
}

type countingWriter struct {
	w   io.Writer
	n   int64
	err error
}

func (c *countingWriter) Write(p []byte) (int, error) {
	if c.err != nil {
		return 0, c.err
	}
	n, err := c.w.Write(p)
	c.n += int64(n)
	c.err = err
	return n, err
}

// Verifier loads a final store and reports on it
type Verifier struct {
	opener     compact.Opener
	sampleSize int
	logger     *log.Logger
}

// New creates a verifier reading stores through opener
func New(opener compact.Opener, logger *log.Logger) *Verifier {
	if logger == nil {
		logger = log.Default()
	}
	return &Verifier{
		opener:     opener,
		sampleSize: DefaultSampleSize,
		logger:     logger.WithPrefix("verify"),
	}
}

// Verify loads the store at path and writes the report to reportPath.
// A store that cannot be loaded yields an *Error.
func (v *Verifier) Verify(ctx context.Context, path, reportPath string) (*Report, error) {
	ts, err := v.opener.Open(ctx, path)
	if err != nil {
		v.logger.Error("Failed to parse the graph", "path", path, "err", err)
		return nil, &Error{Path: path, Err: err}
	}
	defer ts.Close()

	count, err := ts.Count()
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	ns, err := ts.Namespaces()
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}
	sample, err := ts.Triples(v.sampleSize)
	if err != nil {
		return nil, &Error{Path: path, Err: err}
	}

	report := &Report{
		TripleCount: count,
		Namespaces:  ns.List(),
		Sample:      sample,
	}

	if err := writeReport(report, reportPath); err != nil {
		return nil, err
	}
	v.logger.Info("Metadata written", "report", reportPath, "triples", count)
	return report, nil
}

func writeReport(report *Report, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if _, err := report.WriteTo(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
