// Command etl loads the song catalog and the event logs into the warehouse
// star schema (songs, artists, users, time, songplays).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"songplays/internal/checkpoint"
	"songplays/internal/config"
	"songplays/internal/loader"
	"songplays/internal/logging"
	"songplays/internal/metrics"
	"songplays/internal/metrics/datadog"
	"songplays/internal/metrics/prompush"
	"songplays/internal/storage"

	// register all backends with the storage factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "songplays/internal/storage/all"
)

type runner interface {
	Run(ctx context.Context) (loader.Summary, error)
}

type checkpointStore interface {
	loader.Checkpointer
	Close() error
}

// closingBackend is a metrics backend that owns a background flush loop.
type closingBackend interface {
	metrics.Backend
	Close() error
}

// appDeps are the side-effecting steps of a run. Tests replace them.
type appDeps struct {
	loadConfig     func(opts config.LoadOptions) (config.Config, error)
	initLogging    func(cfg config.Logging, w io.Writer)
	initMetrics    func(ctx context.Context, cfg config.Metrics) (func(), error)
	openStore      func(ctx context.Context, cfg config.Storage) (storage.Store, error)
	openCheckpoint func(path string) (checkpointStore, error)
	newRunner      func(st storage.Store, opts loader.Options) (runner, error)
}

func defaultDeps() appDeps {
	return appDeps{
		loadConfig: config.Load,
		initLogging: func(cfg config.Logging, w io.Writer) {
			logging.Init(logging.Config{Level: cfg.Level, Format: cfg.Format, Caller: cfg.Caller, Output: w})
		},
		initMetrics: initMetrics,
		openStore: func(ctx context.Context, cfg config.Storage) (storage.Store, error) {
			return storage.Open(ctx, storage.Config{Kind: cfg.Kind, DSN: cfg.DSN})
		},
		openCheckpoint: func(path string) (checkpointStore, error) {
			return checkpoint.Open(path)
		},
		newRunner: func(st storage.Store, opts loader.Options) (runner, error) {
			return loader.New(st, opts)
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := runMain(ctx, os.Args[1:], os.Stdout, os.Stderr, defaultDeps())
	stop()
	os.Exit(code)
}

// flagKeys maps flags that override a config key to that key.
var flagKeys = map[string]string{
	"song-data":       "inputs.song_data",
	"log-data":        "inputs.log_data",
	"storage-kind":    "storage.kind",
	"dsn":             "storage.dsn",
	"create-tables":   "storage.create_tables",
	"parse-workers":   "runtime.parse_workers",
	"checkpoint":      "checkpoint.enabled",
	"metrics-backend": "metrics.backend",
}

// runMain parses args, loads config and runs the pipeline. It returns the
// process exit code: 0 on success, 1 on a fatal error, 2 on usage errors.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	fs := flag.NewFlagSet("etl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	var (
		cfgPath  string
		validate bool
		verbose  bool
	)
	fs.StringVar(&cfgPath, "config", "", "YAML config file (optional)")
	fs.String("song-data", "", "root of the song catalog tree")
	fs.String("log-data", "", "root of the event log tree")
	fs.String("storage-kind", "", "storage backend: "+fmt.Sprint(storage.Kinds()))
	fs.String("dsn", "", "database DSN (environment variables are expanded)")
	fs.Bool("create-tables", false, "create warehouse tables that do not exist")
	fs.Int("parse-workers", 1, "files parsed ahead of the writer")
	fs.Bool("checkpoint", false, "skip files already loaded by an earlier run")
	fs.String("metrics-backend", "", "metrics backend: none|datadog|prompush")
	fs.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	fs.BoolVar(&verbose, "v", false, "enable debug logs")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(stderr, "usage: etl [flags]; unexpected argument %q\n", fs.Arg(0))
		return 2
	}

	overrides := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		if key, ok := flagKeys[f.Name]; ok {
			overrides[key] = f.Value.(flag.Getter).Get()
		}
	})
	if verbose {
		overrides["logging.level"] = "debug"
	}

	cfg, err := deps.loadConfig(config.LoadOptions{Path: cfgPath, Overrides: overrides})
	if err != nil {
		return fail(stderr, err)
	}
	if validate {
		fmt.Fprintln(stdout, "ok")
		return 0
	}

	deps.initLogging(cfg.Logging, stderr)
	log := logging.Component("etl")
	log.Debug().
		Str("storage", cfg.Storage.Kind).
		Str("song_data", cfg.Inputs.SongData).
		Str("log_data", cfg.Inputs.LogData).
		Int("parse_workers", cfg.Runtime.ParseWorkers).
		Str("metrics", cfg.Metrics.Backend).
		Msg("pipeline configured")

	cleanup, err := deps.initMetrics(ctx, cfg.Metrics)
	if err != nil {
		return fail(stderr, fmt.Errorf("init metrics: %w", err))
	}
	defer cleanup()

	st, err := deps.openStore(ctx, cfg.Storage)
	if err != nil {
		return fail(stderr, fmt.Errorf("open storage: %w", err))
	}
	defer st.Close()

	if cfg.Storage.CreateTables {
		if err := st.EnsureTables(ctx, storage.WarehouseTables()); err != nil {
			return fail(stderr, fmt.Errorf("create tables: %w", err))
		}
		log.Info().Str("dialect", st.Dialect()).Msg("warehouse tables ensured")
	}

	opts := loader.Options{
		SongData:     cfg.Inputs.SongData,
		LogData:      cfg.Inputs.LogData,
		Pattern:      cfg.Inputs.Pattern,
		ParseWorkers: cfg.Runtime.ParseWorkers,
		LookupCache:  cfg.Runtime.LookupCache,
		DedupeTimes:  cfg.Runtime.DedupeTimeWithinFile,
		Logger:       logging.NewPrintf(logging.Component("loader")),
	}
	if cfg.Checkpoint.Enabled {
		cp, err := deps.openCheckpoint(cfg.Checkpoint.Path)
		if err != nil {
			return fail(stderr, fmt.Errorf("open checkpoint: %w", err))
		}
		defer func() {
			if err := cp.Close(); err != nil {
				log.Warn().Err(err).Msg("checkpoint close")
			}
		}()
		opts.Checkpoint = cp
	}

	r, err := deps.newRunner(st, opts)
	if err != nil {
		return fail(stderr, err)
	}
	sum, err := r.Run(ctx)
	if err != nil {
		return fail(stderr, err)
	}

	log.Info().
		Int("song_files", sum.Songs.Files).
		Int("song_files_skipped", sum.Songs.Skipped).
		Int("song_rows", sum.Songs.Rows()).
		Int("log_files", sum.Events.Files).
		Int("log_files_skipped", sum.Events.Skipped).
		Int("log_rows", sum.Events.Rows()).
		Int("lookup_hits", sum.LookupHits).
		Int("lookup_misses", sum.LookupMisses).
		Dur("duration", sum.Duration).
		Msg("run complete")
	fmt.Fprintln(stdout, "ok")
	return 0
}

func fail(stderr io.Writer, err error) int {
	fmt.Fprintf(stderr, "etl: %v\n", err)
	return 1
}

// Seams for initMetrics tests.
var (
	newDatadogBackend = func(ctx context.Context, opts datadog.Options) (closingBackend, error) {
		return datadog.NewBackend(ctx, opts)
	}
	newPromBackend = func(opts prompush.Options) (metrics.Backend, error) {
		return prompush.New(opts)
	}
	setMetricsBackend = metrics.SetBackend
	logPrintf         = func(format string, v ...any) {
		l := logging.Component("metrics")
		l.Warn().Msgf(format, v...)
	}
)

// initMetrics installs the configured metrics backend. The returned cleanup
// is never nil; it performs the final flush and restores the no-op backend.
func initMetrics(ctx context.Context, cfg config.Metrics) (func(), error) {
	noop := func() {}

	switch cfg.Backend {
	case "", "none":
		return noop, nil

	case "datadog":
		b, err := newDatadogBackend(ctx, datadog.Options{
			JobName:    cfg.Job,
			Tags:       datadog.ParseTagsCSV(cfg.Tags),
			FlushEvery: cfg.FlushEvery,
		})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			// Close stops the periodic flush loop and then performs a final Flush.
			if err := b.Close(); err != nil {
				logPrintf("metrics: datadog close error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	case "prompush":
		b, err := newPromBackend(prompush.Options{URL: cfg.PushgatewayURL, Job: cfg.Job})
		if err != nil {
			return noop, err
		}
		setMetricsBackend(b)
		return func() {
			if err := b.Flush(); err != nil {
				logPrintf("metrics: pushgateway flush error: %v", err)
			}
			setMetricsBackend(nil)
		}, nil

	default:
		return noop, fmt.Errorf("unknown metrics backend %q (want none|datadog|prompush)", cfg.Backend)
	}
}
