package verify

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aleksaelezovic/annobrick/internal/compact"
	"github.com/aleksaelezovic/annobrick/internal/logging"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

var testNamespaces = rdf.MustNamespaces(
	rdf.Namespace{Prefix: "ex", IRI: "http://example.org/"},
	rdf.Namespace{Prefix: "rdf", IRI: "http://www.w3.org/1999/02/22-rdf-syntax-ns#"},
)

func buildStore(t *testing.T, dir string, n int) string {
	t.Helper()
	backend := compact.NewNative(compact.Options{Namespaces: testNamespaces, Logger: logging.Discard()})

	ttl := filepath.Join(dir, "fragment.ttl")
	f, err := os.Create(ttl)
	require.NoError(t, err)
	tw := rdf.NewTurtleWriter(f, testNamespaces)
	for i := 0; i < n; i++ {
		require.NoError(t, tw.Write(rdf.NewTriple(
			rdf.NewNamedNode("http://example.org/s"),
			rdf.RDFValue,
			rdf.NewLiteral(strings.Repeat("v", i+1)),
		)))
	}
	require.NoError(t, tw.Close())
	require.NoError(t, f.Close())

	out := filepath.Join(dir, "annotations.kvb")
	require.NoError(t, backend.Compact(context.Background(), compact.Request{SourceFormat: rdf.FormatTurtle, Input: ttl, Output: out}))
	return out
}

func newVerifier() *Verifier {
	return New(compact.NewNative(compact.Options{Namespaces: testNamespaces, Logger: logging.Discard()}), logging.Discard())
}

func TestVerify_Report(t *testing.T) {
	dir := t.TempDir()
	path := buildStore(t, dir, 7)
	reportPath := filepath.Join(dir, "cache", "test", "test.txt")

	report, err := newVerifier().Verify(context.Background(), path, reportPath)
	require.NoError(t, err)
	assert.Equal(t, int64(7), report.TripleCount)
	assert.Len(t, report.Sample, DefaultSampleSize)
	assert.Len(t, report.Namespaces, 2)

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")

	assert.Equal(t, "Triple Count: 7", lines[0])
	assert.Equal(t, "Namespaces:", lines[1])
	assert.Equal(t, "  ex: http://example.org/", lines[2])
	assert.Equal(t, "  rdf: http://www.w3.org/1999/02/22-rdf-syntax-ns#", lines[3])
	assert.Equal(t, "Sample Triples:", lines[4])
	assert.Len(t, lines, 5+DefaultSampleSize)
	assert.True(t, strings.HasPrefix(lines[5], "  <http://example.org/s> <http://www.w3.org/1999/02/22-rdf-syntax-ns#value> \""))
}

func TestVerify_EmptyStore(t *testing.T) {
	dir := t.TempDir()
	path := buildStore(t, dir, 0)

	report, err := newVerifier().Verify(context.Background(), path, filepath.Join(dir, "report.txt"))
	require.NoError(t, err)
	assert.Equal(t, int64(0), report.TripleCount)
	assert.Empty(t, report.Sample)
}

func TestVerify_MissingStore(t *testing.T) {
	dir := t.TempDir()
	reportPath := filepath.Join(dir, "report.txt")

	_, err := newVerifier().Verify(context.Background(), filepath.Join(dir, "missing.kvb"), reportPath)
	require.Error(t, err)

	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.True(t, errors.Is(err, os.ErrNotExist))
	assert.NoFileExists(t, reportPath)
}

func TestVerify_CorruptStore(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "annotations.kvb")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a backup"), 0o644))

	_, err := newVerifier().Verify(context.Background(), path, filepath.Join(dir, "report.txt"))
	var verr *Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, path, verr.Path)
}
