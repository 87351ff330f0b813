// Package prompush implements metrics.Backend on a private Prometheus registry
// that is pushed to a Pushgateway on Flush. A batch load exits before any
// scraper would see it, so the push model fits.
package prompush

import (
	"errors"
	"fmt"
	"sync"

	"songplays/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
)

// Options configures the push target.
type Options struct {
	// URL of the Pushgateway, e.g. http://pushgateway:9091. Required.
	URL string
	// Job is the Pushgateway job label. Defaults to "songplays-etl".
	Job string
	// Grouping adds extra grouping labels (e.g. instance).
	Grouping map[string]string
}

// Backend buffers observations in Prometheus collectors.
type Backend struct {
	reg    *prometheus.Registry
	pusher *push.Pusher

	files    *prometheus.CounterVec
	rows     *prometheus.CounterVec
	lookups  *prometheus.CounterVec
	duration *prometheus.HistogramVec

	mu sync.Mutex
}

// New builds a Backend and registers its collectors.
func New(opts Options) (*Backend, error) {
	if opts.URL == "" {
		return nil, errors.New("prompush: URL is required")
	}
	job := opts.Job
	if job == "" {
		job = "songplays-etl"
	}

	b := &Backend{
		reg: prometheus.NewRegistry(),
		files: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.FilesTotal,
			Help: "Input files processed, by tree and status",
		}, []string{"tree", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Warehouse rows written or ignored as duplicates",
		}, []string{"table", "outcome"}),
		lookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.LookupsTotal,
			Help: "Song/artist key lookups for songplays, by result",
		}, []string{"result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.FileDurationSeconds,
			Help:    "Per-file load time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"tree", "status"}),
	}
	for _, c := range []prometheus.Collector{b.files, b.rows, b.lookups, b.duration} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register: %w", err)
		}
	}

	b.pusher = push.New(opts.URL, job).Gatherer(b.reg)
	for k, v := range opts.Grouping {
		b.pusher = b.pusher.Grouping(k, v)
	}
	return b, nil
}

// Registry exposes the underlying registry.
func (b *Backend) Registry() *prometheus.Registry { return b.reg }

// IncCounter implements metrics.Backend. Unknown names are ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.FilesTotal:
		b.files.WithLabelValues(labels["tree"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(labels["table"], labels["outcome"]).Add(delta)
	case metrics.LookupsTotal:
		b.lookups.WithLabelValues(labels["result"]).Add(delta)
	}
}

// ObserveHistogram implements metrics.Backend. Unknown names are ignored.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	if name == metrics.FileDurationSeconds {
		b.duration.WithLabelValues(labels["tree"], labels["status"]).Observe(value)
	}
}

// Flush replaces the job's metric group on the Pushgateway with the current
// cumulative values.
func (b *Backend) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

var _ metrics.Backend = (*Backend)(nil)
