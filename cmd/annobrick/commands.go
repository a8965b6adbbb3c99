package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/aleksaelezovic/annobrick/internal/annotation"
	"github.com/aleksaelezovic/annobrick/internal/compact"
	"github.com/aleksaelezovic/annobrick/internal/config"
	"github.com/aleksaelezovic/annobrick/internal/logging"
	"github.com/aleksaelezovic/annobrick/internal/metrics"
	"github.com/aleksaelezovic/annobrick/internal/pipeline"
	"github.com/aleksaelezovic/annobrick/internal/publish"
	"github.com/aleksaelezovic/annobrick/internal/source"
	"github.com/aleksaelezovic/annobrick/internal/verify"
)

// app holds what every subcommand needs after configuration is loaded
type app struct {
	cfg    config.Config
	logger *log.Logger
	stdout io.Writer
}

// NewRootCommand creates the annobrick command tree
func NewRootCommand(stdout, stderr io.Writer) *cobra.Command {
	if Version == "" {
		Version = "v0.0.0"
	}
	if BuildTime == "" {
		BuildTime = "not recorded"
	}

	a := &app{stdout: stdout}
	rc := &cobra.Command{
		Use:   "annobrick",
		Short: "annobrick - ECOTOX annotations to a compact RDF store",
		Long: `Converts the ECOTOX annotations table into RDF, compacts it in
batches and merges the batches into one queryable store.

Version: ` + Version + `
Build Time: ` + BuildTime + "\n",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config.LoadEnv()
			cfg, err := config.Load(cmd.Flags())
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, Output: stderr})
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logger
			return nil
		},
	}
	config.RegisterFlags(rc.PersistentFlags())

	rc.AddCommand(
		newBuildCommand(a),
		newVerifyCommand(a),
		newInspectCommand(a),
		newPublishCommand(a),
		newVersionCommand(stdout),
	)
	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

func (a *app) backend() (compact.Backend, error) {
	return compact.New(a.cfg.Compact.Backend, compact.Options{
		Namespaces: annotation.DefaultNamespaces(),
		Timeout:    a.cfg.Compact.Timeout,
		ToolDir:    a.cfg.Compact.ToolDir,
		Logger:     a.logger,
	})
}

func (a *app) outputPath(backend compact.Backend) string {
	return a.cfg.OutputPath("." + backend.Extension())
}

func newBuildCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "build",
		Short: "Convert the annotations table into the final compact store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			ctx := cmd.Context()

			backend, err := a.backend()
			if err != nil {
				return err
			}
			mapper, err := annotation.NewMapper(annotation.DefaultNamespaces())
			if err != nil {
				return err
			}

			recorder := metrics.NewNoop()
			if a.cfg.Metrics.Textfile != "" {
				if recorder, err = metrics.NewRecorder(); err != nil {
					return fmt.Errorf("failed to create metrics: %w", err)
				}
			}

			src, err := source.OpenParquet(a.cfg.Source.Path, a.cfg.Source.ReadBatch)
			if err != nil {
				return err
			}
			defer src.Close()

			output := a.outputPath(backend)
			p, err := pipeline.New(pipeline.Config{
				BatchSize: a.cfg.Batch.Size,
				Workers:   a.cfg.Batch.Workers,
				CacheDir:  a.cfg.Paths.Cache,
				Output:    output,
				KeepCache: a.cfg.Paths.KeepCache,
			}, mapper, backend, pipeline.WithLogger(a.logger), pipeline.WithMetrics(recorder))
			if err != nil {
				return err
			}

			result, runErr := p.Run(ctx, pipeline.FromParquet(src))
			if runErr == nil {
				a.logger.Info("Build complete", "run", result.RunID, "batches", result.Batches, "rows", result.Rows, "edges", result.Edges, "output", result.Output, "elapsed", result.Duration.Round(time.Millisecond))
				if a.cfg.Verify.Enabled {
					report, err := verify.New(backend, a.logger).Verify(ctx, output, a.cfg.Paths.Report)
					if err != nil {
						runErr = err
					} else {
						recorder.SetFinalEdges(report.TripleCount)
					}
				}
			}

			if a.cfg.Metrics.Textfile != "" {
				if err := recorder.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
					a.logger.Warn("Failed to write metrics", "path", a.cfg.Metrics.Textfile, "err", err)
				}
			}
			return runErr
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify [store]",
		Short: "Load a compact store and write the verification report",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := a.backend()
			if err != nil {
				return err
			}
			path := a.outputPath(backend)
			if len(args) == 1 {
				path = args[0]
			}
			report, err := verify.New(backend, a.logger).Verify(cmd.Context(), path, a.cfg.Paths.Report)
			if err != nil {
				return err
			}
			_, err = report.WriteTo(a.stdout)
			return err
		},
	}
}

func newInspectCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [parquet]",
		Short: "Print the first row of the annotations table and its row count",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfg.Source.Path
			if len(args) == 1 {
				path = args[0]
			}
			src, err := source.OpenParquet(path, a.cfg.Source.ReadBatch)
			if err != nil {
				return err
			}
			defer src.Close()

			row, err := src.FirstRow(cmd.Context())
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(row, "", "  ")
			if err != nil {
				return fmt.Errorf("failed to format row: %w", err)
			}
			fmt.Fprintln(a.stdout, string(data))
			fmt.Fprintf(a.stdout, "Number of rows: %d\n", src.NumRows())
			return nil
		},
	}
}

func newPublishCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish [store]",
		Short: "Upload the final store and its report to S3",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			pc := a.cfg.Publish
			if pc.Bucket == "" {
				return errors.New("publish.bucket is required")
			}

			path := args
			if len(path) == 0 {
				backend, err := a.backend()
				if err != nil {
					return err
				}
				path = []string{a.outputPath(backend)}
			}

			client, err := publish.NewS3Client(ctx, publish.Options{
				Bucket:    pc.Bucket,
				Prefix:    pc.Prefix,
				Region:    pc.Region,
				Endpoint:  pc.Endpoint,
				AccessKey: pc.AccessKey,
				SecretKey: pc.SecretKey,
			})
			if err != nil {
				return err
			}
			publisher, err := publish.New(client, pc.Bucket, pc.Prefix, a.logger)
			if err != nil {
				return err
			}

			if _, err := publisher.Upload(ctx, path[0], ""); err != nil {
				return err
			}
			if _, err := os.Stat(a.cfg.Paths.Report); err == nil {
				if _, err := publisher.Upload(ctx, a.cfg.Paths.Report, ""); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func newVersionCommand(stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "annobrick %s (built %s)\n", Version, BuildTime)
		},
	}
}
