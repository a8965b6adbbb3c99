package compact

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/aleksaelezovic/annobrick/internal/storage"
	"github.com/aleksaelezovic/annobrick/internal/store"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// insertChunk is the number of decoded triples inserted per write batch
const insertChunk = 10000

// Native stores fragments as Badger backups: one self-contained file per store
type Native struct {
	ns     rdf.Namespaces
	logger *log.Logger
}

// NewNative creates the native backend
func NewNative(opts Options) *Native {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Native{ns: opts.Namespaces, logger: logger.WithPrefix("native")}
}

func (n *Native) Name() string      { return BackendNative }
func (n *Native) Extension() string { return "kvb" }

// Compact decodes the input into an in-memory store and backs it up to the output
func (n *Native) Compact(ctx context.Context, req Request) error {
	in, err := os.Open(req.Input)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", req.Input, err)
	}
	defer in.Close()

	ts, err := n.memoryStore()
	if err != nil {
		return err
	}
	defer ts.Close()

	count, err := loadTriplesContext(ctx, bufio.NewReader(in), req.SourceFormat, ts)
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", req.Input, err)
	}

	if err := n.writeBackup(ts, req.Output); err != nil {
		return err
	}
	n.logger.Debug("Compacted fragment", "input", req.Input, "output", req.Output, "triples", count)
	return nil
}

// Merge loads every matching backup into one store. Index keys are
// idempotent, so the result is the set union of the inputs.
func (n *Native) Merge(ctx context.Context, inputGlob, output string) error {
	if err := ensureDir(output); err != nil {
		return err
	}
	if err := removeExisting(output); err != nil {
		return err
	}

	matches, err := doublestar.FilepathGlob(inputGlob)
	if err != nil {
		return fmt.Errorf("invalid merge glob %q: %w", inputGlob, err)
	}
	sort.Strings(matches)
	if len(matches) == 0 {
		n.logger.Warn("No inputs to merge, writing empty store", "glob", inputGlob)
	}

	workDir, err := os.MkdirTemp(filepath.Dir(output), ".merge-*")
	if err != nil {
		return fmt.Errorf("failed to create merge directory: %w", err)
	}
	defer os.RemoveAll(workDir)

	s, err := storage.NewBadgerStorage(workDir)
	if err != nil {
		return err
	}
	ts := store.NewTripleStore(s)
	defer ts.Close()

	for _, path := range matches {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := loadBackup(ts, path); err != nil {
			return err
		}
		n.logger.Debug("Merged store", "input", path)
	}

	if err := n.writeBackup(ts, output); err != nil {
		_ = os.Remove(output) // #nosec G104 - partial output is useless
		return err
	}
	return nil
}

// Open loads a backup into an in-memory store
func (n *Native) Open(ctx context.Context, path string) (*store.TripleStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	ts, err := n.memoryStore()
	if err != nil {
		return nil, err
	}
	if err := loadBackup(ts, path); err != nil {
		_ = ts.Close()
		return nil, err
	}
	return ts, nil
}

func (n *Native) memoryStore() (*store.TripleStore, error) {
	s, err := storage.NewBadgerStorage("")
	if err != nil {
		return nil, err
	}
	return store.NewTripleStore(s), nil
}

// writeBackup records the namespaces and writes the store to path through
// a temporary file
func (n *Native) writeBackup(ts *store.TripleStore, path string) error {
	if err := ts.SetNamespaces(n.ns); err != nil {
		return err
	}
	if err := ensureDir(path); err != nil {
		return err
	}

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", tmp, err)
	}

	w := bufio.NewWriter(f)
	err = ts.Backup(w)
	if err == nil {
		err = w.Flush()
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write store %s: %w", path, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to move store into place: %w", err)
	}
	return nil
}

func loadBackup(ts *store.TripleStore, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open store %s: %w", path, err)
	}
	defer f.Close()

	if err := ts.Load(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("failed to load store %s: %w", path, err)
	}
	return nil
}

// loadTriples streams a serialized document into ts
func loadTriples(r io.Reader, format rdf.Format, ts *store.TripleStore) (int, error) {
	return loadTriplesContext(context.Background(), r, format, ts)
}

func loadTriplesContext(ctx context.Context, r io.Reader, format rdf.Format, ts *store.TripleStore) (int, error) {
	reader := rdf.NewTripleReader(r, format)
	chunk := make([]*rdf.Triple, 0, insertChunk)
	total := 0

	flush := func() error {
		if len(chunk) == 0 {
			return nil
		}
		if err := ts.InsertTriples(chunk); err != nil {
			return err
		}
		total += len(chunk)
		chunk = chunk[:0]
		return ctx.Err()
	}

	for {
		triple, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return total, err
		}
		chunk = append(chunk, triple)
		if len(chunk) == insertChunk {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}
