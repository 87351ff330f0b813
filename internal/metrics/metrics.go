// Package metrics is the process-wide metrics facade. Pipeline code calls the
// package-level helpers; cmd/etl installs a concrete Backend (datadog,
// prompush) or leaves the no-op default in place.
package metrics

import (
	"sync"
	"time"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric observations.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
	Flush() error
}

// Metric names emitted by the pipeline.
const (
	FilesTotal          = "etl_files_total"           // tree, status
	RowsTotal           = "etl_rows_total"            // table, outcome
	LookupsTotal        = "etl_lookups_total"         // result
	FileDurationSeconds = "etl_file_duration_seconds" // tree, status
)

// Label values.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"

	OutcomeInserted = "inserted"
	OutcomeIgnored  = "ignored"

	ResultHit  = "hit"
	ResultMiss = "miss"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. nil restores the no-op backend.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		b = nopBackend{}
	}
	backend = b
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

func IncCounter(name string, delta float64, labels Labels) {
	current().IncCounter(name, delta, labels)
}

func ObserveHistogram(name string, value float64, labels Labels) {
	current().ObserveHistogram(name, value, labels)
}

// Flush flushes the installed backend.
func Flush() error { return current().Flush() }

// RecordFile counts one processed file and its wall time.
func RecordFile(tree, status string, d time.Duration) {
	b := current()
	l := Labels{"tree": tree, "status": status}
	b.IncCounter(FilesTotal, 1, l)
	b.ObserveHistogram(FileDurationSeconds, d.Seconds(), l)
}

// RecordRows counts n rows written to (or ignored by) table.
func RecordRows(table, outcome string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RowsTotal, float64(n), Labels{"table": table, "outcome": outcome})
}

// RecordLookup counts one fact-key lookup.
func RecordLookup(result string) {
	current().IncCounter(LookupsTotal, 1, Labels{"result": result})
}
