package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestDefault(t *testing.T) {
	d := Default()
	assert.Equal(t, 10000, d.Batch.Size)
	assert.Equal(t, 1, d.Batch.Workers)
	assert.Equal(t, filepath.Join("cache", "process"), d.Paths.Cache)
	assert.Equal(t, filepath.Join("cache", "test", "test.txt"), d.Paths.Report)
	assert.Equal(t, "hdt", d.Compact.Backend)
	assert.NoError(t, d.Validate())
	assert.Equal(t, filepath.Join("brick", "annotations.hdt"), d.OutputPath(".hdt"))
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(newFlags(t))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_Precedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "annobrick.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
batch:
  size: 250
  workers: 2
compact:
  backend: native
  timeout: 90s
publish:
  bucket: from-file
`), 0o644))

	t.Setenv("ANNOBRICK_BATCH_WORKERS", "6")
	t.Setenv("ANNOBRICK_PATHS_OUTPUT_DIR", "/tmp/out")

	cfg, err := Load(newFlags(t, "--config", file, "--batch-size", "42"))
	require.NoError(t, err)

	assert.Equal(t, 42, cfg.Batch.Size, "flag wins over file")
	assert.Equal(t, 6, cfg.Batch.Workers, "env wins over file")
	assert.Equal(t, "/tmp/out", cfg.Paths.OutputDir)
	assert.Equal(t, "native", cfg.Compact.Backend)
	assert.Equal(t, 90*time.Second, cfg.Compact.Timeout)
	assert.Equal(t, "from-file", cfg.Publish.Bucket)
	assert.Equal(t, Default().Paths.Cache, cfg.Paths.Cache)
}

func TestLoad_MissingConfigFile(t *testing.T) {
	_, err := Load(newFlags(t, "--config", filepath.Join(t.TempDir(), "nope.yaml")))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero batch size", func(c *Config) { c.Batch.Size = 0 }},
		{"negative batch size", func(c *Config) { c.Batch.Size = -5 }},
		{"zero workers", func(c *Config) { c.Batch.Workers = 0 }},
		{"unknown backend", func(c *Config) { c.Compact.Backend = "zip" }},
		{"empty source", func(c *Config) { c.Source.Path = "" }},
		{"empty cache", func(c *Config) { c.Paths.Cache = "" }},
		{"empty output", func(c *Config) { c.Paths.OutputDir = "" }},
		{"empty report", func(c *Config) { c.Paths.Report = "" }},
		{"negative timeout", func(c *Config) { c.Compact.Timeout = -time.Second }},
		{"cache is working directory", func(c *Config) { c.Paths.Cache = "." }},
		{"cache above working directory", func(c *Config) { c.Paths.Cache = ".." }},
		{"cache is output dir", func(c *Config) { c.Paths.Cache = "brick" }},
		{"cache contains output dir", func(c *Config) { c.Paths.Cache = "out"; c.Paths.OutputDir = "out/brick" }},
		{"cache contains report", func(c *Config) { c.Paths.Report = "cache/process/report.txt" }},
		{"cache is output dir, unclean path", func(c *Config) { c.Paths.Cache = "./brick/" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	cfg := Default()
	cfg.Paths.Report = ""
	cfg.Verify.Enabled = false
	assert.NoError(t, cfg.Validate())

	// Siblings and children of protected paths are fine
	cfg = Default()
	cfg.Paths.Cache = "brick/cache"
	assert.NoError(t, cfg.Validate())
	cfg.Paths.Cache = "bricks"
	assert.NoError(t, cfg.Validate())
}

func TestWithin(t *testing.T) {
	sep := string(filepath.Separator)
	assert.True(t, within(sep+"a", sep+"a"))
	assert.True(t, within(sep+"a", filepath.Join(sep+"a", "b")))
	assert.False(t, within(sep+"a", sep+"ab"))
	assert.False(t, within(filepath.Join(sep+"a", "b"), sep+"a"))
	assert.False(t, within(sep+"a", filepath.Join(sep+"a", "..", "c")))
	assert.True(t, within(sep+"a", filepath.Join(sep+"a", "..b")))
}

func TestLoadEnv(t *testing.T) {
	const key = "ANNOBRICK_TEST_DOTENV_VALUE"
	t.Cleanup(func() { os.Unsetenv(key) })

	file := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(file, []byte(key+"=loaded\n"), 0o644))

	assert.True(t, LoadEnv(file))
	assert.Equal(t, "loaded", os.Getenv(key))
	assert.False(t, LoadEnv(filepath.Join(t.TempDir(), "missing.env")))
}
