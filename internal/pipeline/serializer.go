package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aleksaelezovic/annobrick/internal/annotation"
	"github.com/aleksaelezovic/annobrick/internal/compact"
	"github.com/aleksaelezovic/annobrick/pkg/rdf"
)

// fragmentPrefix names every per-batch file
const fragmentPrefix = "annotations_"

// Serializer writes fragments to Turtle and compacts them
type Serializer struct {
	cacheDir  string
	ext       string
	ns        rdf.Namespaces
	compactor compact.Compactor
}

// NewSerializer creates a serializer writing into cacheDir. ext is the
// compact artifact extension.
func NewSerializer(cacheDir, ext string, ns rdf.Namespaces, compactor compact.Compactor) *Serializer {
	return &Serializer{cacheDir: cacheDir, ext: ext, ns: ns, compactor: compactor}
}

// TurtlePath returns the Turtle file of batch i
func (s *Serializer) TurtlePath(i int) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("%s%d.ttl", fragmentPrefix, i))
}

// ArtifactPath returns the compact store of batch i
func (s *Serializer) ArtifactPath(i int) string {
	return filepath.Join(s.cacheDir, fmt.Sprintf("%s%d.%s", fragmentPrefix, i, s.ext))
}

// TurtleGlob matches every per-batch Turtle file
func (s *Serializer) TurtleGlob() string {
	return filepath.Join(s.cacheDir, fragmentPrefix+"*.ttl")
}

// ArtifactGlob matches every per-batch compact store
func (s *Serializer) ArtifactGlob() string {
	return filepath.Join(s.cacheDir, fragmentPrefix+"*."+s.ext)
}

// Serialize writes the fragment of batch i and compacts it. On compaction
// failure the Turtle file is left in place.
func (s *Serializer) Serialize(ctx context.Context, i int, fragment *annotation.Fragment) (string, error) {
	ttl := s.TurtlePath(i)
	if err := s.writeTurtle(ttl, fragment); err != nil {
		return "", err
	}

	artifact := s.ArtifactPath(i)
	err := s.compactor.Compact(ctx, compact.Request{
		SourceFormat: rdf.FormatTurtle,
		Input:        ttl,
		Output:       artifact,
	})
	if err != nil {
		return "", fmt.Errorf("failed to compact %s: %w", ttl, err)
	}
	return artifact, nil
}

func (s *Serializer) writeTurtle(path string, fragment *annotation.Fragment) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}

	tw := rdf.NewTurtleWriter(f, s.ns)
	err = tw.WritePrefixes()
	if err == nil {
		err = tw.WriteAll(fragment.Triples())
	}
	if err == nil {
		err = tw.Close()
	}
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}
