// Package loader drives a full load: the song catalog tree first, then the
// event-log tree, one transaction per input file.
package loader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"songplays/internal/checkpoint"
	"songplays/internal/discover"
	"songplays/internal/parser/jsonl"
	"songplays/internal/records"
	"songplays/internal/storage"
	"songplays/internal/warehouse"
)

// Tree names, used in logs, metrics and checkpoint keys.
const (
	TreeSongs  = "song_data"
	TreeEvents = "log_data"
)

// Logger is the minimal logging interface used by the driver.
// *log.Logger satisfies this interface.
type Logger interface {
	Printf(format string, v ...any)
}

// Checkpointer records committed files so a rerun can skip them.
// *checkpoint.Store satisfies this interface.
type Checkpointer interface {
	Done(tree, path string, fp checkpoint.Fingerprint) (bool, error)
	Mark(tree, path string, fp checkpoint.Fingerprint) error
}

// Options configures a Driver.
type Options struct {
	// SongData and LogData are the roots of the two input trees. Both required.
	SongData string
	LogData  string

	// Pattern selects input files under each root (doublestar glob).
	// Empty means discover.DefaultPattern.
	Pattern string

	// ParseWorkers > 1 parses up to that many files ahead of the writer.
	// Writes stay sequential and in file order.
	ParseWorkers int

	// LookupCache memoizes song/artist lookups for the event tree.
	LookupCache bool

	// DedupeTimes drops repeated start times within one event file before
	// they reach the store.
	DedupeTimes bool

	// Checkpoint is optional.
	Checkpoint Checkpointer

	// Logger receives stage and progress lines. nil discards them.
	Logger Logger

	// Language localizes the counts in progress lines. Defaults to English.
	Language language.Tag
}

// Driver runs the load against one Store.
type Driver struct {
	store   storage.Store
	opts    Options
	logf    func(format string, v ...any)
	printer *message.Printer

	// now is a seam for deterministic durations in tests.
	now func() time.Time
}

// New validates opts and returns a Driver.
//
// Errors:
//   - store is nil.
//   - either tree root is empty.
func New(store storage.Store, opts Options) (*Driver, error) {
	if store == nil {
		return nil, errors.New("loader: store is required")
	}
	if opts.SongData == "" || opts.LogData == "" {
		return nil, errors.New("loader: song and log data roots are required")
	}
	if opts.Pattern == "" {
		opts.Pattern = discover.DefaultPattern
	}
	if opts.ParseWorkers < 1 {
		opts.ParseWorkers = 1
	}
	if opts.Language == language.Und {
		opts.Language = language.English
	}

	d := &Driver{
		store:   store,
		opts:    opts,
		printer: message.NewPrinter(opts.Language),
		now:     time.Now,
	}
	if opts.Logger == nil {
		d.logf = log.New(io.Discard, "", 0).Printf
	} else {
		d.logf = opts.Logger.Printf
	}
	return d, nil
}

// TreeSummary counts the work done on one input tree.
//
// Inserted counts dimension and fact statements that succeeded; with the
// insert-or-ignore templates this includes rows the store silently kept from
// an earlier file. Ignored counts duplicate-key failures the driver absorbed.
type TreeSummary struct {
	Files    int
	Loaded   int
	Skipped  int
	Inserted map[string]int
	Ignored  map[string]int
}

// Rows sums Inserted over all tables.
func (t TreeSummary) Rows() int {
	n := 0
	for _, v := range t.Inserted {
		n += v
	}
	return n
}

// Summary is the outcome of a successful Run.
type Summary struct {
	Songs        TreeSummary
	Events       TreeSummary
	LookupHits   int
	LookupMisses int
	Duration     time.Duration
}

// Run loads the catalog tree and then the event tree.
//
// The first fatal error aborts the run: the current file's transaction is
// rolled back, files committed before it stay committed, and no summary is
// returned.
func (d *Driver) Run(ctx context.Context) (Summary, error) {
	start := d.now()
	var sum Summary

	songs, err := runTree(ctx, d, tree[records.Song]{
		name: TreeSongs,
		root: d.opts.SongData,
		open: jsonl.SongFile,
		load: d.loadCatalogFile,
	})
	if err != nil {
		return Summary{}, err
	}
	sum.Songs = songs

	resolver := warehouse.NewResolver(warehouse.ResolverOptions{Cache: d.opts.LookupCache})
	events, err := runTree(ctx, d, tree[records.Event]{
		name: TreeEvents,
		root: d.opts.LogData,
		open: jsonl.EventFile,
		load: func(ctx context.Context, s storage.Session, recs []records.Event, st *fileStats) error {
			return d.loadEventFile(ctx, s, resolver, recs, st)
		},
	})
	if err != nil {
		return Summary{}, err
	}
	sum.Events = events
	sum.LookupHits, sum.LookupMisses = resolver.Counts()
	sum.Duration = d.now().Sub(start)

	d.logf("stage=done song_files=%d log_files=%d lookup_hits=%d lookup_misses=%d duration=%s",
		sum.Songs.Files, sum.Events.Files, sum.LookupHits, sum.LookupMisses, sum.Duration.Truncate(time.Millisecond))
	return sum, nil
}

func (d *Driver) progress(treeName string, done, total int) {
	d.logf("stage=%s %s", treeName, d.printer.Sprintf("processed %d of %d files", done, total))
}

func wrapFile(treeName, path string, err error) error {
	return fmt.Errorf("%s %s: %w", treeName, path, err)
}
