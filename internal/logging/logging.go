// Package logging configures the process logger (zerolog) and adapts it to
// the Printf-style interface the loader logs through.
//
// Call Init once from main. Before that, a JSON logger at info level writes
// to stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	// Unknown values fall back to info.
	Level string

	// Format is json or console. Default: console.
	Format string

	// Caller adds file:line to each entry.
	Caller bool

	// Output defaults to os.Stderr.
	Output io.Writer
}

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init (re)configures the process logger.
func Init(cfg Config) {
	mu.Lock()
	defer mu.Unlock()
	log = build(cfg)
}

func build(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	zerolog.SetGlobalLevel(ParseLevel(cfg.Level))
	zerolog.TimeFieldFormat = time.RFC3339

	out := cfg.Output
	if cfg.Format == "" || cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: cfg.Output, TimeFormat: "15:04:05"}
	}

	ctx := zerolog.New(out).With().Timestamp()
	if cfg.Caller {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// ParseLevel converts a level name to a zerolog.Level.
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger returns the process logger.
func Logger() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// SetLogger replaces the process logger. Tests use it to capture output.
func SetLogger(l zerolog.Logger) {
	mu.Lock()
	defer mu.Unlock()
	log = l
}

// Component returns a child of the process logger tagged with component=name.
func Component(name string) zerolog.Logger {
	l := Logger()
	return l.With().Str("component", name).Logger()
}

// Printf writes Printf-style lines to a zerolog logger at a fixed level.
// It satisfies loader.Logger.
type Printf struct {
	l     zerolog.Logger
	level zerolog.Level
}

// NewPrintf returns an adapter logging at info level.
func NewPrintf(l zerolog.Logger) *Printf {
	return &Printf{l: l, level: zerolog.InfoLevel}
}

// AtLevel returns a copy that logs at level.
func (p *Printf) AtLevel(level zerolog.Level) *Printf {
	return &Printf{l: p.l, level: level}
}

func (p *Printf) Printf(format string, v ...any) {
	p.l.WithLevel(p.level).Msg(strings.TrimRight(fmt.Sprintf(format, v...), "\n"))
}
