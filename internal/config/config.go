// Package config loads the run configuration.
//
// Precedence, lowest to highest: built-in defaults, an optional YAML file,
// ETL_-prefixed environment variables, then explicit overrides (CLI flags).
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix prefixes every environment override. Nested keys are separated
// by a double underscore: ETL_STORAGE__DSN sets storage.dsn.
const EnvPrefix = "ETL_"

type Config struct {
	Inputs     Inputs     `koanf:"inputs"`
	Storage    Storage    `koanf:"storage"`
	Runtime    Runtime    `koanf:"runtime"`
	Checkpoint Checkpoint `koanf:"checkpoint"`
	Logging    Logging    `koanf:"logging"`
	Metrics    Metrics    `koanf:"metrics"`
}

type Inputs struct {
	SongData string `koanf:"song_data" validate:"required"`
	LogData  string `koanf:"log_data" validate:"required"`
	// Pattern is the doublestar glob used under both roots.
	Pattern string `koanf:"pattern"`
}

type Storage struct {
	Kind string `koanf:"kind" validate:"required,oneof=postgres sqlite sqlserver duckdb"`
	// DSN is expanded with os.ExpandEnv after loading, so secrets can stay in
	// the environment: "postgres://etl:${PGPASSWORD}@db/sparkifydb".
	DSN          string `koanf:"dsn" validate:"required"`
	CreateTables bool   `koanf:"create_tables"`
}

type Runtime struct {
	ParseWorkers         int  `koanf:"parse_workers" validate:"gte=1,lte=64"`
	LookupCache          bool `koanf:"lookup_cache"`
	DedupeTimeWithinFile bool `koanf:"dedupe_time_within_file"`
}

type Checkpoint struct {
	Enabled bool   `koanf:"enabled"`
	Path    string `koanf:"path"`
}

type Logging struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=console json"`
	Caller bool   `koanf:"caller"`
}

type Metrics struct {
	Backend        string        `koanf:"backend" validate:"oneof=none datadog prompush"`
	Job            string        `koanf:"job"`
	PushgatewayURL string        `koanf:"pushgateway_url" validate:"omitempty,url"`
	Tags           string        `koanf:"tags"`
	FlushEvery     time.Duration `koanf:"flush_every" validate:"gte=0"`
}

// Defaults returns the configuration used when nothing overrides it.
func Defaults() Config {
	return Config{
		Inputs: Inputs{
			SongData: "data/song_data",
			LogData:  "data/log_data",
			Pattern:  "**/*.json",
		},
		Storage: Storage{
			Kind: "postgres",
			DSN:  "host=127.0.0.1 dbname=sparkifydb user=student password=student",
		},
		Runtime: Runtime{
			ParseWorkers:         1,
			LookupCache:          true,
			DedupeTimeWithinFile: true,
		},
		Checkpoint: Checkpoint{Path: ".etl-checkpoint"},
		Logging:    Logging{Level: "info", Format: "console"},
		Metrics: Metrics{
			Backend:    "none",
			Job:        "songplays",
			FlushEvery: 10 * time.Second,
		},
	}
}

// LoadOptions selects the optional file and the final overrides.
type LoadOptions struct {
	// Path of a YAML file. Empty skips the file layer; a missing file is an error.
	Path string
	// Overrides are dotted koanf paths ("storage.kind") applied last.
	Overrides map[string]any
}

// Load layers defaults, file, environment and overrides, then validates.
func Load(opts LoadOptions) (Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Defaults(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("config: defaults: %w", err)
	}

	if opts.Path != "" {
		if err := k.Load(file.Provider(opts.Path), yaml.Parser()); err != nil {
			return Config{}, fmt.Errorf("config: file %s: %w", opts.Path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return Config{}, fmt.Errorf("config: environment: %w", err)
	}

	for key, v := range opts.Overrides {
		if err := k.Set(key, v); err != nil {
			return Config{}, fmt.Errorf("config: override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// envKey maps ETL_STORAGE__DSN to storage.dsn. ETL_METRICS_BACKEND is
// accepted as a shorthand for ETL_METRICS__BACKEND.
func envKey(name string) string {
	key := strings.ToLower(strings.TrimPrefix(name, EnvPrefix))
	if key == "metrics_backend" {
		return "metrics.backend"
	}
	if !strings.Contains(key, "__") {
		return ""
	}
	return strings.ReplaceAll(key, "__", ".")
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("koanf"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Validate checks field rules and the rules that span fields.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var ves validator.ValidationErrors
		if errors.As(err, &ves) {
			msgs := make([]string, 0, len(ves))
			for _, fe := range ves {
				path := strings.TrimPrefix(fe.Namespace(), "Config.")
				if fe.Param() != "" {
					msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", path, fe.Tag(), fe.Param()))
				} else {
					msgs = append(msgs, fmt.Sprintf("%s: failed %s", path, fe.Tag()))
				}
			}
			return fmt.Errorf("config: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("config: %w", err)
	}
	if c.Checkpoint.Enabled && c.Checkpoint.Path == "" {
		return errors.New("config: checkpoint.path is required when checkpoint.enabled")
	}
	if c.Metrics.Backend == "prompush" && c.Metrics.PushgatewayURL == "" {
		return errors.New("config: metrics.pushgateway_url is required for the prompush backend")
	}
	return nil
}
