package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aleksaelezovic/annobrick/internal/compact"
)

// EnvPrefix prefixes every environment override, e.g. ANNOBRICK_BATCH_SIZE
const EnvPrefix = "ANNOBRICK"

// Config is the full runtime configuration
type Config struct {
	Source  SourceConfig  `mapstructure:"source"`
	Batch   BatchConfig   `mapstructure:"batch"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Compact CompactConfig `mapstructure:"compact"`
	Verify  VerifyConfig  `mapstructure:"verify"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Publish PublishConfig `mapstructure:"publish"`
	Log     LogConfig     `mapstructure:"log"`
}

type SourceConfig struct {
	Path      string `mapstructure:"path"`
	ReadBatch int    `mapstructure:"read_batch"`
}

type BatchConfig struct {
	Size    int `mapstructure:"size"`
	Workers int `mapstructure:"workers"`
}

type PathsConfig struct {
	Cache     string `mapstructure:"cache"`
	OutputDir string `mapstructure:"output_dir"`
	Report    string `mapstructure:"report"`
	KeepCache bool   `mapstructure:"keep_cache"`
}

type CompactConfig struct {
	Backend string        `mapstructure:"backend"`
	Timeout time.Duration `mapstructure:"timeout"`
	ToolDir string        `mapstructure:"tool_dir"`
}

type VerifyConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type MetricsConfig struct {
	// Textfile is a Prometheus textfile-collector path; empty disables export
	Textfile string `mapstructure:"textfile"`
}

type PublishConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Default returns the built-in configuration
func Default() Config {
	return Config{
		Source: SourceConfig{
			Path:      "data/annotations.parquet",
			ReadBatch: 4096,
		},
		Batch: BatchConfig{
			Size:    10000,
			Workers: 1,
		},
		Paths: PathsConfig{
			Cache:     filepath.Join("cache", "process"),
			OutputDir: "brick",
			Report:    filepath.Join("cache", "test", "test.txt"),
		},
		Compact: CompactConfig{
			Backend: compact.BackendHDT,
			Timeout: 30 * time.Minute,
		},
		Verify: VerifyConfig{
			Enabled: true,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// OutputPath returns the final store path for the given file extension
func (c Config) OutputPath(ext string) string {
	return filepath.Join(c.Paths.OutputDir, "annotations"+ext)
}

// Validate checks the configuration for values the pipeline cannot run with
func (c Config) Validate() error {
	var errs []error
	if c.Source.Path == "" {
		errs = append(errs, errors.New("source.path must not be empty"))
	}
	if c.Source.ReadBatch <= 0 {
		errs = append(errs, fmt.Errorf("source.read_batch must be positive, got %d", c.Source.ReadBatch))
	}
	if c.Batch.Size <= 0 {
		errs = append(errs, fmt.Errorf("batch.size must be positive, got %d", c.Batch.Size))
	}
	if c.Batch.Workers <= 0 {
		errs = append(errs, fmt.Errorf("batch.workers must be positive, got %d", c.Batch.Workers))
	}
	if c.Paths.Cache == "" {
		errs = append(errs, errors.New("paths.cache must not be empty"))
	}
	if c.Paths.OutputDir == "" {
		errs = append(errs, errors.New("paths.output_dir must not be empty"))
	}
	if c.Verify.Enabled && c.Paths.Report == "" {
		errs = append(errs, errors.New("paths.report must not be empty when verification is enabled"))
	}
	switch c.Compact.Backend {
	case compact.BackendHDT, compact.BackendNative:
	default:
		errs = append(errs, fmt.Errorf("unknown compact.backend %q", c.Compact.Backend))
	}
	if c.Compact.Timeout < 0 {
		errs = append(errs, fmt.Errorf("compact.timeout must not be negative, got %s", c.Compact.Timeout))
	}
	if c.Paths.Cache != "" {
		errs = append(errs, c.validateCacheDir()...)
	}
	return errors.Join(errs...)
}

// validateCacheDir rejects a cache directory that holds, or is, a location
// the run must keep
func (c Config) validateCacheDir() []error {
	cache, err := filepath.Abs(c.Paths.Cache)
	if err != nil {
		return []error{fmt.Errorf("paths.cache: %w", err)}
	}

	var errs []error
	protected := []struct {
		name string
		path string
	}{
		{"the working directory", "."},
		{"paths.output_dir", c.Paths.OutputDir},
		{"paths.report", c.Paths.Report},
	}
	for _, p := range protected {
		if p.path == "" {
			continue
		}
		abs, err := filepath.Abs(p.path)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", p.name, err))
			continue
		}
		if within(cache, abs) {
			errs = append(errs, fmt.Errorf("paths.cache %q must not be or contain %s (%s)", c.Paths.Cache, p.name, p.path))
		}
	}
	return errs
}

// within reports whether path is dir or lies below it
func within(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// flagKeys maps command line flags to configuration keys
var flagKeys = map[string]string{
	"source":         "source.path",
	"batch-size":     "batch.size",
	"workers":        "batch.workers",
	"cache-dir":      "paths.cache",
	"output-dir":     "paths.output_dir",
	"report":         "paths.report",
	"keep-cache":     "paths.keep_cache",
	"backend":        "compact.backend",
	"timeout":        "compact.timeout",
	"tool-dir":       "compact.tool_dir",
	"verify":         "verify.enabled",
	"metrics-file":   "metrics.textfile",
	"bucket":         "publish.bucket",
	"publish-prefix": "publish.prefix",
	"log-level":      "log.level",
	"log-format":     "log.format",
}

// RegisterFlags adds the configuration flags to fs, defaulting to Default()
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.String("config", "", "YAML configuration file")
	fs.String("source", d.Source.Path, "Parquet file with annotation rows")
	fs.Int("batch-size", d.Batch.Size, "Rows per batch")
	fs.Int("workers", d.Batch.Workers, "Batches processed concurrently")
	fs.String("cache-dir", d.Paths.Cache, "Directory for per-batch intermediate files")
	fs.String("output-dir", d.Paths.OutputDir, "Directory for the final store")
	fs.String("report", d.Paths.Report, "Verification report path")
	fs.Bool("keep-cache", d.Paths.KeepCache, "Keep the cache directory after a successful run")
	fs.String("backend", d.Compact.Backend, "Compaction backend: hdt or native")
	fs.Duration("timeout", d.Compact.Timeout, "Per-invocation timeout for compaction tools (0 disables)")
	fs.String("tool-dir", d.Compact.ToolDir, "Directory containing the HDT tools (default: PATH)")
	fs.Bool("verify", d.Verify.Enabled, "Verify the final store after the build")
	fs.String("metrics-file", d.Metrics.Textfile, "Write Prometheus metrics to this textfile")
	fs.String("bucket", d.Publish.Bucket, "S3 bucket for publish")
	fs.String("publish-prefix", d.Publish.Prefix, "Key prefix for published objects")
	fs.String("log-level", d.Log.Level, "Log level: debug, info, warn, error")
	fs.String("log-format", d.Log.Format, "Log format: text, json, logfmt")
}

// LoadEnv loads variables from the given .env files, or ./.env when none
// are given. It reports whether a file was loaded.
func LoadEnv(files ...string) bool {
	return godotenv.Load(files...) == nil
}

// Load builds the configuration from defaults, the optional config file,
// ANNOBRICK_* environment variables and fs, in increasing priority.
func Load(fs *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			f := fs.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return Config{}, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
		if f := fs.Lookup("config"); f != nil && f.Value.String() != "" {
			v.SetConfigFile(f.Value.String())
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return Config{}, fmt.Errorf("error reading configuration file '%s': %w", f.Value.String(), err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("source.path", d.Source.Path)
	v.SetDefault("source.read_batch", d.Source.ReadBatch)
	v.SetDefault("batch.size", d.Batch.Size)
	v.SetDefault("batch.workers", d.Batch.Workers)
	v.SetDefault("paths.cache", d.Paths.Cache)
	v.SetDefault("paths.output_dir", d.Paths.OutputDir)
	v.SetDefault("paths.report", d.Paths.Report)
	v.SetDefault("paths.keep_cache", d.Paths.KeepCache)
	v.SetDefault("compact.backend", d.Compact.Backend)
	v.SetDefault("compact.timeout", d.Compact.Timeout)
	v.SetDefault("compact.tool_dir", d.Compact.ToolDir)
	v.SetDefault("verify.enabled", d.Verify.Enabled)
	v.SetDefault("metrics.textfile", d.Metrics.Textfile)
	v.SetDefault("publish.bucket", d.Publish.Bucket)
	v.SetDefault("publish.prefix", d.Publish.Prefix)
	v.SetDefault("publish.region", d.Publish.Region)
	v.SetDefault("publish.endpoint", d.Publish.Endpoint)
	v.SetDefault("publish.access_key", d.Publish.AccessKey)
	v.SetDefault("publish.secret_key", d.Publish.SecretKey)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}
