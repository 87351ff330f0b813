package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeYAML(t *testing.T, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "etl.yaml")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(LoadOptions{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Kind != "postgres" || cfg.Runtime.ParseWorkers != 1 || !cfg.Runtime.LookupCache {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.Metrics.FlushEvery != 10*time.Second || cfg.Metrics.Backend != "none" {
		t.Fatalf("unexpected metrics defaults %+v", cfg.Metrics)
	}
}

func TestLoad_Layering(t *testing.T) {
	p := writeYAML(t, `
inputs:
  song_data: /in/songs
storage:
  kind: sqlite
  dsn: file:${ETL_TEST_DB}?cache=shared
runtime:
  parse_workers: 2
metrics:
  flush_every: 30s
`)
	t.Setenv("ETL_TEST_DB", "/tmp/w.db")
	t.Setenv("ETL_RUNTIME__PARSE_WORKERS", "4")
	t.Setenv("ETL_LOGGING__LEVEL", "debug")
	t.Setenv("ETL_METRICS_BACKEND", "datadog")

	cfg, err := Load(LoadOptions{
		Path:      p,
		Overrides: map[string]any{"storage.create_tables": true, "runtime.parse_workers": 8},
	})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Inputs.SongData != "/in/songs" || cfg.Inputs.LogData != "data/log_data" {
		t.Fatalf("file should override only what it sets: %+v", cfg.Inputs)
	}
	if cfg.Storage.DSN != "file:/tmp/w.db?cache=shared" {
		t.Fatalf("dsn not expanded: %q", cfg.Storage.DSN)
	}
	if cfg.Runtime.ParseWorkers != 8 {
		t.Fatalf("override should beat env and file, got %d", cfg.Runtime.ParseWorkers)
	}
	if cfg.Logging.Level != "debug" || cfg.Metrics.Backend != "datadog" {
		t.Fatalf("env not applied: %+v %+v", cfg.Logging, cfg.Metrics)
	}
	if !cfg.Storage.CreateTables || cfg.Metrics.FlushEvery != 30*time.Second {
		t.Fatalf("unexpected %+v %+v", cfg.Storage, cfg.Metrics)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "nope.yaml")})
	if err == nil || !strings.Contains(err.Error(), "nope.yaml") {
		t.Fatalf("expected file error, got %v", err)
	}
}

func TestLoad_ValidationNamesKoanfPath(t *testing.T) {
	_, err := Load(LoadOptions{Overrides: map[string]any{"storage.kind": "oracle"}})
	if err == nil || !strings.Contains(err.Error(), "storage.kind") {
		t.Fatalf("expected storage.kind error, got %v", err)
	}
}

func TestValidate_CrossFieldRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(*Config) {}},
		{name: "checkpoint_without_path", mutate: func(c *Config) { c.Checkpoint.Enabled, c.Checkpoint.Path = true, "" }, wantErr: "checkpoint.path"},
		{name: "prompush_without_url", mutate: func(c *Config) { c.Metrics.Backend = "prompush" }, wantErr: "pushgateway_url"},
		{name: "bad_url", mutate: func(c *Config) { c.Metrics.PushgatewayURL = "not a url" }, wantErr: "metrics.pushgateway_url"},
		{name: "zero_workers", mutate: func(c *Config) { c.Runtime.ParseWorkers = 0 }, wantErr: "runtime.parse_workers"},
		{name: "empty_log_root", mutate: func(c *Config) { c.Inputs.LogData = "" }, wantErr: "inputs.log_data"},
		{name: "bad_format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "logging.format"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			c := Defaults()
			tc.mutate(&c)
			err := c.Validate()
			if tc.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q in error, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestEnvKey(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]string{
		"ETL_STORAGE__DSN":             "storage.dsn",
		"ETL_RUNTIME__PARSE_WORKERS":   "runtime.parse_workers",
		"ETL_METRICS_BACKEND":          "metrics.backend",
		"ETL_SOMETHING":                "",
		"ETL_CHECKPOINT__ENABLED":      "checkpoint.enabled",
		"ETL_METRICS__PUSHGATEWAY_URL": "metrics.pushgateway_url",
	} {
		if got := envKey(in); got != want {
			t.Fatalf("envKey(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestLoad_SampleConfig(t *testing.T) {
	t.Setenv("PGPASSWORD", "s3cret")

	cfg, err := Load(LoadOptions{Path: filepath.Join("..", "..", "configs", "etl.yaml")})
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !strings.Contains(cfg.Storage.DSN, "password=s3cret") {
		t.Fatalf("DSN not expanded: %q", cfg.Storage.DSN)
	}
	if cfg.Runtime.ParseWorkers != 4 || !cfg.Storage.CreateTables {
		t.Fatalf("unexpected runtime/storage: %+v %+v", cfg.Runtime, cfg.Storage)
	}
	if cfg.Metrics.FlushEvery != 10*time.Second || cfg.Metrics.Tags != "team:data" {
		t.Fatalf("unexpected metrics: %+v", cfg.Metrics)
	}
}
