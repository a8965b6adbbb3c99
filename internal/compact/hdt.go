package compact

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"

	"github.com/aleksaelezovic/annobrick/internal/storage"
	"github.com/aleksaelezovic/annobrick/internal/store"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// External HDT tools
const (
	ToolRDF2HDT = "rdf2hdt.sh"
	ToolHDTCat  = "hdtCat.sh"
	ToolHDT2RDF = "hdt2rdf.sh"
)

// toolWaitDelay bounds how long a killed tool may hold its output pipes
const toolWaitDelay = 5 * time.Second

// HDT drives the external HDT command line tools
type HDT struct {
	ns      rdf.Namespaces
	timeout time.Duration
	toolDir string
	logger  *log.Logger
}

// NewHDT creates the hdt backend
func NewHDT(opts Options) *HDT {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &HDT{
		ns:      opts.Namespaces,
		timeout: opts.Timeout,
		toolDir: opts.ToolDir,
		logger:  logger.WithPrefix("hdt"),
	}
}

func (h *HDT) Name() string      { return BackendHDT }
func (h *HDT) Extension() string { return "hdt" }

// Compact runs rdf2hdt on the request input
func (h *HDT) Compact(ctx context.Context, req Request) error {
	if err := ensureDir(req.Output); err != nil {
		return err
	}
	return h.run(ctx, ToolRDF2HDT, "-rdftype", string(req.SourceFormat), req.Input, req.Output)
}

// Merge runs hdtCat over the glob. With no matching inputs an empty store
// is written instead.
func (h *HDT) Merge(ctx context.Context, inputGlob, output string) error {
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

	if len(matches) == 0 {
		h.logger.Warn("No inputs to merge, writing empty store", "glob", inputGlob)
		err = h.compactEmpty(ctx, output)
	} else {
		err = h.run(ctx, ToolHDTCat, inputGlob, output)
	}
	if err != nil {
		_ = os.Remove(output) // #nosec G104 - partial output is useless
		return err
	}
	return nil
}

func (h *HDT) compactEmpty(ctx context.Context, output string) error {
	f, err := os.CreateTemp(filepath.Dir(output), "empty-*.ttl")
	if err != nil {
		return fmt.Errorf("failed to create empty fragment: %w", err)
	}
	defer os.Remove(f.Name())

	tw := rdf.NewTurtleWriter(f, h.ns)
	if err := tw.WritePrefixes(); err != nil {
		_ = f.Close()
		return err
	}
	if err := tw.Close(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	return h.Compact(ctx, Request{SourceFormat: rdf.FormatTurtle, Input: f.Name(), Output: output})
}

// Open dumps the store to N-Triples with hdt2rdf and loads the result
// into an in-memory store.
func (h *HDT) Open(ctx context.Context, path string) (*store.TripleStore, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	dir, err := os.MkdirTemp("", "annobrick-dump-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create dump directory: %w", err)
	}
	defer os.RemoveAll(dir)

	dump := filepath.Join(dir, "dump.nt")
	if err := h.run(ctx, ToolHDT2RDF, path, dump); err != nil {
		return nil, err
	}

	f, err := os.Open(dump)
	if err != nil {
		return nil, fmt.Errorf("failed to open dump: %w", err)
	}
	defer f.Close()

	s, err := storage.NewBadgerStorage("")
	if err != nil {
		return nil, err
	}
	ts := store.NewTripleStore(s)

	if _, err := loadTriples(f, rdf.FormatNTriples, ts); err != nil {
		_ = ts.Close()
		return nil, err
	}
	if err := ts.SetNamespaces(h.ns); err != nil {
		_ = ts.Close()
		return nil, err
	}
	return ts, nil
}

func (h *HDT) tool(name string) string {
	if h.toolDir == "" {
		return name
	}
	return filepath.Join(h.toolDir, name)
}

// run executes an external tool and maps failures to a ToolError
func (h *HDT) run(ctx context.Context, tool string, args ...string) error {
	ctx, cancel := withTimeout(ctx, h.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, h.tool(tool), args...) // #nosec G204 - tool names are fixed
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = toolWaitDelay

	start := time.Now()
	h.logger.Debug("Running tool", "tool", tool, "args", args)
	err := cmd.Run()
	if err == nil {
		h.logger.Debug("Tool finished", "tool", tool, "elapsed", time.Since(start))
		return nil
	}

	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		err = fmt.Errorf("%w: %v", ctxErr, err)
	}
	return &ToolError{
		Tool:     tool,
		Args:     args,
		ExitCode: exitCode,
		Stderr:   stderr.String(),
		Err:      err,
	}
}
