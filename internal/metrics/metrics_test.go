package metrics

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder_Counts(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)

	r.BatchStarted()
	r.BatchStarted()
	r.BatchDone(3, 22, time.Second)
	r.BatchFailed()
	r.BatchCancelled()

	assert.Equal(t, 2.0, testutil.ToFloat64(r.batchesStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesDone))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesFailed))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.batchesCancel))
	assert.Equal(t, 22.0, testutil.ToFloat64(r.edges))
	assert.Equal(t, 3.0, testutil.ToFloat64(r.rows))
}

func TestRecorder_WriteTextfile(t *testing.T) {
	r, err := NewRecorder()
	require.NoError(t, err)
	r.BatchDone(1, 6, time.Millisecond)
	r.SetFinalEdges(6)

	path := filepath.Join(t.TempDir(), "metrics", "annobrick.prom")
	require.NoError(t, r.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "annobrick_edges_total 6")
	assert.Contains(t, string(data), "annobrick_final_edges 6")
}

func TestNoop(t *testing.T) {
	r := NewNoop()
	r.BatchStarted()
	r.BatchDone(1, 1, time.Second)
	r.ObserveMerge(time.Second)

	path := filepath.Join(t.TempDir(), "annobrick.prom")
	require.NoError(t, r.WriteTextfile(path))
	assert.NoFileExists(t, path)
	assert.Nil(t, r.Gatherer())
}
