package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"songplays/internal/checkpoint"
	"songplays/internal/config"
	"songplays/internal/loader"
	"songplays/internal/logging"
	"songplays/internal/metrics"
	"songplays/internal/metrics/datadog"
	"songplays/internal/metrics/prompush"
	"songplays/internal/storage"
)

func TestMain(m *testing.M) {
	logging.SetLogger(zerolog.Nop())
	os.Exit(m.Run())
}

type fakeRunner struct {
	sum   loader.Summary
	err   error
	calls atomic.Int64
	opts  loader.Options
}

func (r *fakeRunner) Run(context.Context) (loader.Summary, error) {
	r.calls.Add(1)
	return r.sum, r.err
}

type fakeStore struct {
	ensureErr error
	ensured   atomic.Int64
	closed    atomic.Int64
}

func (s *fakeStore) Begin(context.Context) (storage.Tx, error) {
	return nil, errors.New("not used")
}

func (s *fakeStore) EnsureTables(_ context.Context, tables []storage.TableSpec) error {
	s.ensured.Add(int64(len(tables)))
	return s.ensureErr
}

func (s *fakeStore) Dialect() string { return "fake" }
func (s *fakeStore) Close()          { s.closed.Add(1) }

type fakeCheckpoint struct {
	closed atomic.Int64
}

func (c *fakeCheckpoint) Done(string, string, checkpoint.Fingerprint) (bool, error) { return false, nil }
func (c *fakeCheckpoint) Mark(string, string, checkpoint.Fingerprint) error         { return nil }
func (c *fakeCheckpoint) Close() error {
	c.closed.Add(1)
	return nil
}

func noLogging(config.Logging, io.Writer) {}

// failingDeps fatals on any side effect, proving usage failures
// short-circuit before anything is opened.
func failingDeps(t *testing.T) appDeps {
	return appDeps{
		loadConfig: func(config.LoadOptions) (config.Config, error) {
			t.Fatalf("loadConfig must not be called")
			return config.Config{}, nil
		},
		initLogging: func(config.Logging, io.Writer) {
			t.Fatalf("initLogging must not be called")
		},
		initMetrics: func(context.Context, config.Metrics) (func(), error) {
			t.Fatalf("initMetrics must not be called")
			return func() {}, nil
		},
		openStore: func(context.Context, config.Storage) (storage.Store, error) {
			t.Fatalf("openStore must not be called")
			return nil, nil
		},
		openCheckpoint: func(string) (checkpointStore, error) {
			t.Fatalf("openCheckpoint must not be called")
			return nil, nil
		},
		newRunner: func(storage.Store, loader.Options) (runner, error) {
			t.Fatalf("newRunner must not be called")
			return nil, nil
		},
	}
}

func TestRunMain_UsageErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		args          []string
		wantStderrSub string
	}{
		{"unknown_flag", []string{"-nope"}, "flag provided but not defined"},
		{"positional_argument", []string{"extra"}, "unexpected argument"},
		{"bad_int", []string{"-parse-workers", "many"}, "invalid value"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), tc.args, &stdout, &stderr, failingDeps(t))
			if code != 2 {
				t.Fatalf("exit code=%d, want 2; stderr=%q", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tc.wantStderrSub) {
				t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
			}
			if stdout.Len() != 0 {
				t.Fatalf("stdout=%q, want empty", stdout.String())
			}
		})
	}
}

func TestRunMain_FlagsBecomeOverrides(t *testing.T) {
	t.Parallel()

	var got config.LoadOptions
	deps := failingDeps(t)
	deps.loadConfig = func(opts config.LoadOptions) (config.Config, error) {
		got = opts
		return config.Config{}, errors.New("stop here")
	}

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{
		"-config", "etl.yaml",
		"-song-data", "/data/song_data",
		"-parse-workers", "4",
		"-checkpoint",
		"-v",
	}, &stdout, &stderr, deps)

	if code != 1 {
		t.Fatalf("exit code=%d, want 1", code)
	}
	if stderr.String() != "etl: stop here\n" {
		t.Fatalf("stderr=%q, want one fatal line", stderr.String())
	}
	if got.Path != "etl.yaml" {
		t.Fatalf("path=%q", got.Path)
	}
	want := map[string]any{
		"inputs.song_data":      "/data/song_data",
		"runtime.parse_workers": 4,
		"checkpoint.enabled":    true,
		"logging.level":         "debug",
	}
	if len(got.Overrides) != len(want) {
		t.Fatalf("overrides=%v, want %v", got.Overrides, want)
	}
	for k, v := range want {
		if got.Overrides[k] != v {
			t.Fatalf("override %s=%v (%T), want %v", k, got.Overrides[k], got.Overrides[k], v)
		}
	}
}

func TestRunMain_ValidateOnly(t *testing.T) {
	t.Parallel()

	deps := failingDeps(t)
	deps.loadConfig = func(config.LoadOptions) (config.Config, error) { return config.Defaults(), nil }

	var stdout, stderr bytes.Buffer
	code := runMain(context.Background(), []string{"-validate"}, &stdout, &stderr, deps)
	if code != 0 || stdout.String() != "ok\n" {
		t.Fatalf("code=%d stdout=%q stderr=%q", code, stdout.String(), stderr.String())
	}
}

func TestRunMain_FullFlow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		createTables    bool
		checkpoint      bool
		initMetricsErr  error
		openStoreErr    error
		ensureErr       error
		checkpointErr   error
		runErr          error
		wantCode        int
		wantStderrSub   string
		wantRunnerCalls int64
		wantCleanup     int64
		wantStoreClosed int64
	}{
		{
			name:           "init_metrics_error",
			initMetricsErr: errors.New("DD_API_KEY is not set"),
			wantCode:       1,
			wantStderrSub:  "etl: init metrics: DD_API_KEY is not set",
		},
		{
			name:          "open_storage_error",
			openStoreErr:  errors.New("connection refused"),
			wantCode:      1,
			wantStderrSub: "etl: open storage: connection refused",
			wantCleanup:   1,
		},
		{
			name:            "create_tables_error",
			createTables:    true,
			ensureErr:       errors.New("permission denied"),
			wantCode:        1,
			wantStderrSub:   "etl: create tables: permission denied",
			wantCleanup:     1,
			wantStoreClosed: 1,
		},
		{
			name:            "checkpoint_error",
			checkpoint:      true,
			checkpointErr:   errors.New("locked"),
			wantCode:        1,
			wantStderrSub:   "etl: open checkpoint: locked",
			wantCleanup:     1,
			wantStoreClosed: 1,
		},
		{
			name:            "run_error",
			runErr:          errors.New("log_data a.json: parse: bad json"),
			wantCode:        1,
			wantStderrSub:   "etl: log_data a.json: parse: bad json",
			wantRunnerCalls: 1,
			wantCleanup:     1,
			wantStoreClosed: 1,
		},
		{
			name:            "success",
			createTables:    true,
			checkpoint:      true,
			wantCode:        0,
			wantRunnerCalls: 1,
			wantCleanup:     1,
			wantStoreClosed: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			cfg := config.Defaults()
			cfg.Storage.CreateTables = tc.createTables
			cfg.Checkpoint.Enabled = tc.checkpoint

			st := &fakeStore{ensureErr: tc.ensureErr}
			cp := &fakeCheckpoint{}
			fr := &fakeRunner{err: tc.runErr}
			var cleanups atomic.Int64

			deps := appDeps{
				loadConfig:  func(config.LoadOptions) (config.Config, error) { return cfg, nil },
				initLogging: noLogging,
				initMetrics: func(context.Context, config.Metrics) (func(), error) {
					if tc.initMetricsErr != nil {
						return func() {}, tc.initMetricsErr
					}
					return func() { cleanups.Add(1) }, nil
				},
				openStore: func(_ context.Context, s config.Storage) (storage.Store, error) {
					if s.Kind != "postgres" {
						t.Fatalf("storage kind=%q", s.Kind)
					}
					if tc.openStoreErr != nil {
						return nil, tc.openStoreErr
					}
					return st, nil
				},
				openCheckpoint: func(path string) (checkpointStore, error) {
					if path != ".etl-checkpoint" {
						t.Fatalf("checkpoint path=%q", path)
					}
					if tc.checkpointErr != nil {
						return nil, tc.checkpointErr
					}
					return cp, nil
				},
				newRunner: func(_ storage.Store, opts loader.Options) (runner, error) {
					fr.opts = opts
					return fr, nil
				},
			}

			var stdout, stderr bytes.Buffer
			code := runMain(context.Background(), nil, &stdout, &stderr, deps)

			if code != tc.wantCode {
				t.Fatalf("exit code=%d, want %d; stderr=%q", code, tc.wantCode, stderr.String())
			}
			if tc.wantStderrSub != "" {
				if !strings.Contains(stderr.String(), tc.wantStderrSub) {
					t.Fatalf("stderr=%q, want contains %q", stderr.String(), tc.wantStderrSub)
				}
				if strings.Count(stderr.String(), "\n") != 1 {
					t.Fatalf("stderr=%q, want exactly one line", stderr.String())
				}
			}
			if tc.wantCode == 0 && stdout.String() != "ok\n" {
				t.Fatalf("stdout=%q, want ok", stdout.String())
			}
			if got := fr.calls.Load(); got != tc.wantRunnerCalls {
				t.Fatalf("runner calls=%d, want %d", got, tc.wantRunnerCalls)
			}
			if got := cleanups.Load(); got != tc.wantCleanup {
				t.Fatalf("cleanup calls=%d, want %d", got, tc.wantCleanup)
			}
			if got := st.closed.Load(); got != tc.wantStoreClosed {
				t.Fatalf("store closed=%d, want %d", got, tc.wantStoreClosed)
			}

			if tc.name == "success" {
				if st.ensured.Load() != int64(len(storage.WarehouseTables())) {
					t.Fatalf("ensured %d tables", st.ensured.Load())
				}
				if cp.closed.Load() != 1 {
					t.Fatalf("checkpoint closed=%d, want 1", cp.closed.Load())
				}
				if fr.opts.Checkpoint == nil || fr.opts.Logger == nil {
					t.Fatalf("runner options missing checkpoint or logger: %+v", fr.opts)
				}
				if fr.opts.SongData != "data/song_data" || fr.opts.ParseWorkers != 1 || !fr.opts.DedupeTimes {
					t.Fatalf("unexpected runner options: %+v", fr.opts)
				}
			}
		})
	}
}

func TestRunMain_CheckpointDisabledLeavesOptionNil(t *testing.T) {
	t.Parallel()

	fr := &fakeRunner{}
	deps := failingDeps(t)
	deps.loadConfig = func(config.LoadOptions) (config.Config, error) { return config.Defaults(), nil }
	deps.initLogging = noLogging
	deps.initMetrics = func(context.Context, config.Metrics) (func(), error) { return func() {}, nil }
	deps.openStore = func(context.Context, config.Storage) (storage.Store, error) { return &fakeStore{}, nil }
	deps.newRunner = func(_ storage.Store, opts loader.Options) (runner, error) {
		fr.opts = opts
		return fr, nil
	}

	var stdout, stderr bytes.Buffer
	if code := runMain(context.Background(), nil, &stdout, &stderr, deps); code != 0 {
		t.Fatalf("exit code=%d stderr=%q", code, stderr.String())
	}
	if fr.opts.Checkpoint != nil {
		t.Fatalf("checkpoint should be nil when disabled, got %T", fr.opts.Checkpoint)
	}
}

// ---- initMetrics (these swap package-level seams and do not run in parallel) ----

type fakeMetricsBackend struct {
	flushErr error
	closeErr error
	flushed  atomic.Int64
	closed   atomic.Int64
}

func (b *fakeMetricsBackend) IncCounter(string, float64, metrics.Labels)       {}
func (b *fakeMetricsBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *fakeMetricsBackend) Flush() error {
	b.flushed.Add(1)
	return b.flushErr
}
func (b *fakeMetricsBackend) Close() error {
	b.closed.Add(1)
	return b.closeErr
}

func swapSeams(t *testing.T) *bytes.Buffer {
	t.Helper()
	oldDD, oldProm, oldSet, oldLog := newDatadogBackend, newPromBackend, setMetricsBackend, logPrintf
	t.Cleanup(func() {
		newDatadogBackend, newPromBackend, setMetricsBackend, logPrintf = oldDD, oldProm, oldSet, oldLog
	})
	var logged bytes.Buffer
	logPrintf = func(format string, v ...any) {
		logged.WriteString(strings.TrimSpace(strings.ReplaceAll(format, "%v", "")))
		for _, a := range v {
			if err, ok := a.(error); ok {
				logged.WriteString(" " + err.Error())
			}
		}
	}
	return &logged
}

func TestInitMetrics_None_DoesNotMutateGlobalState(t *testing.T) {
	swapSeams(t)
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called for none")
	}

	for _, name := range []string{"", "none"} {
		cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: name})
		if err != nil {
			t.Fatalf("initMetrics(%q) err=%v", name, err)
		}
		if cleanup == nil {
			t.Fatalf("cleanup=nil, want non-nil")
		}
		cleanup()
	}
}

func TestInitMetrics_Datadog_WiresBackendAndCloses(t *testing.T) {
	logged := swapSeams(t)

	b := &fakeMetricsBackend{}
	var gotOpts datadog.Options
	var installed []metrics.Backend
	newDatadogBackend = func(_ context.Context, opts datadog.Options) (closingBackend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(mb metrics.Backend) { installed = append(installed, mb) }

	cleanup, err := initMetrics(context.Background(), config.Metrics{
		Backend: "datadog",
		Job:     "nightly",
		Tags:    "env:prod, team:data",
	})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotOpts.JobName != "nightly" || len(gotOpts.Tags) != 2 || gotOpts.Tags[1] != "team:data" {
		t.Fatalf("unexpected datadog options: %+v", gotOpts)
	}
	if len(installed) != 1 || installed[0] != b {
		t.Fatalf("backend not installed: %v", installed)
	}

	cleanup()
	if b.closed.Load() != 1 {
		t.Fatalf("closed=%d, want 1", b.closed.Load())
	}
	if len(installed) != 2 || installed[1] != nil {
		t.Fatalf("cleanup should restore the nop backend: %v", installed)
	}
	if logged.Len() != 0 {
		t.Fatalf("unexpected log output: %q", logged.String())
	}
}

func TestInitMetrics_Datadog_CloseErrorIsLogged(t *testing.T) {
	logged := swapSeams(t)

	b := &fakeMetricsBackend{closeErr: errors.New("flush failed")}
	newDatadogBackend = func(context.Context, datadog.Options) (closingBackend, error) { return b, nil }
	setMetricsBackend = func(metrics.Backend) {}

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "datadog"})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	cleanup()

	if !strings.Contains(logged.String(), "metrics: datadog close error") || !strings.Contains(logged.String(), "flush failed") {
		t.Fatalf("log=%q, want close error", logged.String())
	}
}

func TestInitMetrics_Datadog_InitError(t *testing.T) {
	swapSeams(t)
	newDatadogBackend = func(context.Context, datadog.Options) (closingBackend, error) {
		return nil, errors.New("datadog: init: DD_API_KEY is not set")
	}
	setMetricsBackend = func(metrics.Backend) {
		t.Fatalf("setMetricsBackend must not be called on init error")
	}

	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "datadog"})
	if err == nil || !strings.Contains(err.Error(), "DD_API_KEY") {
		t.Fatalf("err=%v, want DD_API_KEY error", err)
	}
	cleanup()
}

func TestInitMetrics_Prompush_FlushesOnCleanup(t *testing.T) {
	logged := swapSeams(t)

	b := &fakeMetricsBackend{flushErr: errors.New("503")}
	var gotOpts prompush.Options
	newPromBackend = func(opts prompush.Options) (metrics.Backend, error) {
		gotOpts = opts
		return b, nil
	}
	setMetricsBackend = func(metrics.Backend) {}

	cleanup, err := initMetrics(context.Background(), config.Metrics{
		Backend:        "prompush",
		Job:            "songplays",
		PushgatewayURL: "http://pushgateway:9091",
	})
	if err != nil {
		t.Fatalf("initMetrics err=%v", err)
	}
	if gotOpts.URL != "http://pushgateway:9091" || gotOpts.Job != "songplays" {
		t.Fatalf("unexpected prompush options: %+v", gotOpts)
	}
	cleanup()
	if b.flushed.Load() != 1 {
		t.Fatalf("flushed=%d, want 1", b.flushed.Load())
	}
	if !strings.Contains(logged.String(), "pushgateway flush error") {
		t.Fatalf("log=%q, want flush error", logged.String())
	}
}

func TestInitMetrics_UnknownBackendErrors(t *testing.T) {
	cleanup, err := initMetrics(context.Background(), config.Metrics{Backend: "statsd"})
	if err == nil {
		t.Fatalf("initMetrics err=nil, want error")
	}
	if cleanup == nil {
		t.Fatalf("cleanup=nil, want non-nil")
	}
	cleanup()
	if !strings.Contains(err.Error(), "unknown metrics backend") || !strings.Contains(err.Error(), "none|datadog|prompush") {
		t.Fatalf("err=%q", err.Error())
	}
}
