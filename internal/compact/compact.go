// Package compact turns serialized graph fragments into compact, indexed
// stores and merges them.
package compact

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/aleksaelezovic/annobrick/internal/store"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// Backend names
const (
	BackendHDT    = "hdt"
	BackendNative = "native"
)

// Request describes one compaction call
type Request struct {
	SourceFormat rdf.Format
	Input        string
	Output       string
}

// Compactor converts a serialized fragment into a compact store
type Compactor interface {
	Compact(ctx context.Context, req Request) error
}

// Merger unions every compact store matching inputGlob into output
type Merger interface {
	Merge(ctx context.Context, inputGlob, output string) error
}

// Opener loads a compact store for reading. The caller closes the store.
type Opener interface {
	Open(ctx context.Context, path string) (*store.TripleStore, error)
}

// Backend is a complete compact store implementation
type Backend interface {
	Compactor
	Merger
	Opener
	Name() string
	// Extension is the artifact file extension, without the dot
	Extension() string
}

// Options configures a backend
type Options struct {
	// Namespaces are recorded with every store
	Namespaces rdf.Namespaces
	// Timeout bounds each external call; zero disables it
	Timeout time.Duration
	// ToolDir is prepended to external tool names when set
	ToolDir string
	Logger  *log.Logger
}

// New returns the backend called name
func New(name string, opts Options) (Backend, error) {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	switch strings.ToLower(name) {
	case BackendHDT:
		return NewHDT(opts), nil
	case BackendNative:
		return NewNative(opts), nil
	default:
		return nil, fmt.Errorf("unknown compact backend %q", name)
	}
}

// withTimeout applies the per-call timeout
func withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// removeExisting deletes a previous artifact at path
func removeExisting(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove previous artifact %s: %w", path, err)
	}
	return nil
}

// ensureDir creates the parent directory of path
func ensureDir(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	return nil
}
