// Package main is the tradeledger CLI: one subcommand per pipeline stage,
// plus `run` to drive the full DAG. Entry point and command registration
// hub, grounded on codenerd/cmd/nerd/main.go's rootCmd/PersistentPreRunE
// shape and the teacher's flag-driven main()s elsewhere in the corpus.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/obsrvr/tradeledger/internal/analytics"
	"github.com/obsrvr/tradeledger/internal/bulk"
	"github.com/obsrvr/tradeledger/internal/config"
	"github.com/obsrvr/tradeledger/internal/dag"
	"github.com/obsrvr/tradeledger/internal/db"
	"github.com/obsrvr/tradeledger/internal/fx"
	"github.com/obsrvr/tradeledger/internal/identity"
	"github.com/obsrvr/tradeledger/internal/ingest"
	"github.com/obsrvr/tradeledger/internal/ledger"
	"github.com/obsrvr/tradeledger/internal/mapping"
	"github.com/obsrvr/tradeledger/internal/metrics"
	"github.com/obsrvr/tradeledger/internal/mirror"
	"github.com/obsrvr/tradeledger/internal/obslog"
	"github.com/obsrvr/tradeledger/internal/pgstore"
	"github.com/obsrvr/tradeledger/internal/pipeline"
	"github.com/obsrvr/tradeledger/internal/risk"
	"github.com/obsrvr/tradeledger/internal/serving"
	"github.com/obsrvr/tradeledger/internal/standardize"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "tradeledger",
	Short: "tradeledger runs the customs-data ETL pipeline stage by stage",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "path to the tradeledger YAML config")

	rootCmd.AddCommand(
		ingestCmd(), standardizeCmd(), resolveCmd(), loadCmd(),
		mirrorCmd(), analyticsCmd(), riskCmd(), serveRefreshCmd(),
		runCmd(), metricsServeCmd(),
	)
}

// rootContext returns a context cancelled on SIGINT/SIGTERM, the same
// graceful-shutdown hook the teacher's long-running services install.
func rootContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// bootstrap loads config and opens the shared pool and COPY loader — the
// common setup every stage subcommand needs before it can build its
// pgstore adapters and start a Run.
type bootstrap struct {
	cfg    *config.Config
	pool   *db.Pool
	loader *bulk.Loader
}

func bootstrapStage(ctx context.Context) (*bootstrap, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	obslog.Configure(obslog.Options{Level: cfg.Logging.Level, Production: cfg.Logging.Production})

	pool, err := db.Open(ctx, cfg.DB, cfg.Ingestion.Workers)
	if err != nil {
		return nil, fmt.Errorf("failed to open database pool: %w", err)
	}

	loader, err := bulk.NewLoader(cfg.DB.ConnString())
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to open bulk-copy connection: %w", err)
	}

	return &bootstrap{cfg: cfg, pool: pool, loader: loader}, nil
}

func (b *bootstrap) Close() {
	_ = b.loader.Close()
	b.pool.Close()
}

// startRun opens a pipeline.Run and the obslog.Stage tied to its run ID,
// the ordering every stage package's tests establish: the run exists
// before anything logs against it.
func startRun(ctx context.Context, pool *db.Pool, stage string) (*pipeline.Run, *obslog.Stage, error) {
	run, err := pipeline.Start(ctx, pgstore.NewRunStore(pool), stage, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start run: %w", err)
	}
	return run, obslog.NewStage(stage, run.ID()), nil
}

// finish closes out a Run, records metrics, and returns the process exit
// code spec.md §6 assigns (0 SUCCESS, 1 FAILED, 2 PARTIAL).
func finish(ctx context.Context, run *pipeline.Run, stage string, stageErr error) int {
	if err := run.Finish(ctx, stageErr); err != nil {
		fmt.Fprintf(os.Stderr, "failed to finalize run: %v\n", err)
	}
	snap := run.Snapshot()
	metrics.RowsProcessed.WithLabelValues(stage).Add(float64(snap.Processed))
	metrics.RowsCreated.WithLabelValues(stage).Add(float64(snap.Created))
	metrics.RowsSkipped.WithLabelValues(stage, "run_summary").Add(float64(snap.Skipped))
	metrics.RunsTotal.WithLabelValues(stage, string(snap.Status)).Inc()
	return run.ExitCode()
}

func ingestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest",
		Short: "scan the raw data root and load new files into raw_rows",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			run, log, err := startRun(ctx, b.pool, "ingest")
			if err != nil {
				return err
			}

			registry := pgstore.NewFileRegistry(b.pool)
			writer := pgstore.NewRawRowWriter(b.loader)

			specs, runErr := ingest.Scan(ingest.DirLister{}, b.cfg.Ingestion.RawDataRoot)
			if runErr == nil {
				opts := ingest.DefaultOptions()
				opts.ChunkSize = b.cfg.Ingestion.ChunkSize
				opts.FileTimeout = time.Duration(b.cfg.Ingestion.FileTimeoutSeconds) * time.Second
				runErr = ingest.IngestAll(ctx, log, run, registry, writer, ingest.OpenCSVReader, ingest.SHA256File, specs, opts)
			}
			os.Exit(finish(ctx, run, "ingest", runErr))
			return nil
		},
	}
}

func standardizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "standardize",
		Short: "project pending raw rows into standardized_rows via the mapping registry",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			mappings, err := mapping.LoadRegistry(b.cfg.MappingConfigPath)
			if err != nil {
				return err
			}
			rates, err := fx.LoadTable(b.cfg.FXRatesPath)
			if err != nil {
				return err
			}

			run, log, err := startRun(ctx, b.pool, "standardize")
			if err != nil {
				return err
			}
			store := pgstore.NewStandardizeStore(b.pool)

			var runErr error
			for _, spec := range mappings.Groups() {
				group := standardize.Group{Country: spec.Country, Direction: spec.Direction, SourceFormat: spec.SourceFormat}
				if err := standardize.ProcessGroup(ctx, log, run, store, mappings, rates, group, b.cfg.Ingestion.ChunkSize); err != nil {
					runErr = err
					break
				}
			}
			os.Exit(finish(ctx, run, "standardize", runErr))
			return nil
		},
	}
}

func resolveCmd() *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "resolve buyer/supplier names into organizations_master",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			run, log, err := startRun(ctx, b.pool, "resolve")
			if err != nil {
				return err
			}
			orgs := pgstore.NewOrgStore(b.pool)
			rows := pgstore.NewStdRowStore(b.pool)

			runErr := identity.ResolveAll(ctx, log, run, orgs, rows, threshold, standardize.MaxBatchSize)
			os.Exit(finish(ctx, run, "resolve", runErr))
			return nil
		},
	}
	cmd.Flags().Float64Var(&threshold, "fuzzy-threshold", identity.DefaultFuzzyThreshold, "trigram similarity threshold for fuzzy org matching")
	return cmd
}

func loadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "promote valid standardized rows into the trade ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			run, log, err := startRun(ctx, b.pool, "load")
			if err != nil {
				return err
			}
			store := pgstore.NewLedgerStore(b.pool)

			runErr := ledger.ProcessAll(ctx, log, run, store, ledger.MinBatchSize)
			os.Exit(finish(ctx, run, "load", runErr))
			return nil
		},
	}
}

func mirrorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mirror",
		Short: "match hidden-buyer exports against mirrored imports",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			run, log, err := startRun(ctx, b.pool, "mirror")
			if err != nil {
				return err
			}
			store := pgstore.NewMirrorStore(b.pool)

			runErr := mirror.ProcessAll(ctx, log, run, store, mirror.DefaultParams(), 500)
			os.Exit(finish(ctx, run, "mirror", runErr))
			return nil
		},
	}
}

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "refresh buyer/exporter profiles, price corridors, and lane stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			run, log, err := startRun(ctx, b.pool, "analytics")
			if err != nil {
				return err
			}
			store := pgstore.NewAnalyticsStore(b.pool)

			now := time.Now()
			lookback := time.Duration(b.cfg.Ingestion.LookbackDays) * 24 * time.Hour
			var runErr error
			for _, step := range []func(context.Context, *obslog.Stage, *pipeline.Run, analytics.Store, time.Duration, time.Time) error{
				analytics.RunBuyerProfiles, analytics.RunExporterProfiles,
				analytics.RunPriceCorridors, analytics.RunLaneStats,
			} {
				if runErr = step(ctx, log, run, store, lookback, now); runErr != nil {
					break
				}
			}
			os.Exit(finish(ctx, run, "analytics", runErr))
			return nil
		},
	}
}

func riskCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "risk",
		Short: "score shipments and buyers for undervaluation, smuggling, and fraud signals",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			run, log, err := startRun(ctx, b.pool, "risk")
			if err != nil {
				return err
			}
			store := pgstore.NewRiskStore(b.pool)

			now := time.Now()
			lookback := time.Duration(b.cfg.Ingestion.LookbackDays) * 24 * time.Hour
			runErr := risk.RunShipmentRisk(ctx, log, run, store, lookback, now)
			if runErr == nil {
				runErr = risk.RunBuyerRisk(ctx, log, run, store, lookback, now)
			}
			os.Exit(finish(ctx, run, "risk", runErr))
			return nil
		},
	}
}

func serveRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve-refresh",
		Short: "refresh the materialized summary and control-tower view",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			run, log, err := startRun(ctx, b.pool, "serve_refresh")
			if err != nil {
				return err
			}
			store := pgstore.NewServingStore(b.pool)

			runErr := serving.Refresh(ctx, log, run, store, time.Now())
			os.Exit(finish(ctx, run, "serve_refresh", runErr))
			return nil
		},
	}
}

// runCmd drives the whole DAG: S1-S4 linearly, then S5-S8 fanned out from
// S4, as internal/dag.Runner expresses it.
func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "run the full pipeline DAG end to end",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := rootContext()
			defer cancel()

			b, err := bootstrapStage(ctx)
			if err != nil {
				return err
			}
			defer b.Close()

			mappings, err := mapping.LoadRegistry(b.cfg.MappingConfigPath)
			if err != nil {
				return err
			}
			rates, err := fx.LoadTable(b.cfg.FXRatesPath)
			if err != nil {
				return err
			}

			now := time.Now()
			lookback := time.Duration(b.cfg.Ingestion.LookbackDays) * 24 * time.Hour
			dagLog := obslog.NewStage("dag", uuid.New())

			// stage wraps a body function in a fresh Run+Stage pair and
			// reports its own metrics, so each DAG node behaves exactly
			// like its standalone subcommand.
			stage := func(name string, body func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error) dag.StageFunc {
				return func(ctx context.Context) error {
					run, log, err := startRun(ctx, b.pool, name)
					if err != nil {
						return err
					}
					runErr := body(ctx, run, log)
					finish(ctx, run, name, runErr)
					return runErr
				}
			}

			runner := dag.NewRunner(dagLog, b.cfg.Ingestion.Workers,
				dag.Stage{Name: "ingest", Run: stage("ingest", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					specs, err := ingest.Scan(ingest.DirLister{}, b.cfg.Ingestion.RawDataRoot)
					if err != nil {
						return err
					}
					opts := ingest.DefaultOptions()
					opts.ChunkSize = b.cfg.Ingestion.ChunkSize
					opts.FileTimeout = time.Duration(b.cfg.Ingestion.FileTimeoutSeconds) * time.Second
					return ingest.IngestAll(ctx, log, run, pgstore.NewFileRegistry(b.pool), pgstore.NewRawRowWriter(b.loader), ingest.OpenCSVReader, ingest.SHA256File, specs, opts)
				})},
				dag.Stage{Name: "standardize", DependsOn: []string{"ingest"}, Run: stage("standardize", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					store := pgstore.NewStandardizeStore(b.pool)
					for _, spec := range mappings.Groups() {
						group := standardize.Group{Country: spec.Country, Direction: spec.Direction, SourceFormat: spec.SourceFormat}
						if err := standardize.ProcessGroup(ctx, log, run, store, mappings, rates, group, b.cfg.Ingestion.ChunkSize); err != nil {
							return err
						}
					}
					return nil
				})},
				dag.Stage{Name: "resolve", DependsOn: []string{"standardize"}, Run: stage("resolve", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					return identity.ResolveAll(ctx, log, run, pgstore.NewOrgStore(b.pool), pgstore.NewStdRowStore(b.pool), identity.DefaultFuzzyThreshold, standardize.MaxBatchSize)
				})},
				dag.Stage{Name: "load", DependsOn: []string{"resolve"}, Run: stage("load", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					return ledger.ProcessAll(ctx, log, run, pgstore.NewLedgerStore(b.pool), ledger.MinBatchSize)
				})},
				dag.Stage{Name: "mirror", DependsOn: []string{"load"}, Run: stage("mirror", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					return mirror.ProcessAll(ctx, log, run, pgstore.NewMirrorStore(b.pool), mirror.DefaultParams(), 500)
				})},
				dag.Stage{Name: "analytics", DependsOn: []string{"load"}, Run: stage("analytics", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					store := pgstore.NewAnalyticsStore(b.pool)
					for _, step := range []func(context.Context, *obslog.Stage, *pipeline.Run, analytics.Store, time.Duration, time.Time) error{
						analytics.RunBuyerProfiles, analytics.RunExporterProfiles,
						analytics.RunPriceCorridors, analytics.RunLaneStats,
					} {
						if err := step(ctx, log, run, store, lookback, now); err != nil {
							return err
						}
					}
					return nil
				})},
				dag.Stage{Name: "risk", DependsOn: []string{"analytics", "mirror"}, Run: stage("risk", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					store := pgstore.NewRiskStore(b.pool)
					if err := risk.RunShipmentRisk(ctx, log, run, store, lookback, now); err != nil {
						return err
					}
					return risk.RunBuyerRisk(ctx, log, run, store, lookback, now)
				})},
				dag.Stage{Name: "serve_refresh", DependsOn: []string{"risk"}, Run: stage("serve_refresh", func(ctx context.Context, run *pipeline.Run, log *obslog.Stage) error {
					return serving.Refresh(ctx, log, run, pgstore.NewServingStore(b.pool), now)
				})},
			)

			if err := runner.Run(ctx); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			return nil
		},
	}
}

// metricsServeCmd exposes /metrics standalone, for operators who run
// stages via cron rather than a long-lived process.
func metricsServeCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "metrics-serve",
		Short: "serve /metrics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			srv := &http.Server{Addr: addr, Handler: mux}

			ctx, cancel := rootContext()
			defer cancel()
			go func() {
				<-ctx.Done()
				_ = srv.Close()
			}()

			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address for /metrics")
	return cmd
}
