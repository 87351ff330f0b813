package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"songplays/internal/checkpoint"
	"songplays/internal/discover"
	"songplays/internal/metrics"
	"songplays/internal/parser/jsonl"
	"songplays/internal/storage"
)

// tree describes how to load one input tree of records of type T.
type tree[T any] struct {
	name string
	root string
	open func(path string) jsonl.File[T]
	load func(ctx context.Context, s storage.Session, recs []T, st *fileStats) error
}

// fileStats accumulates per-table outcomes while one file is written.
type fileStats struct {
	inserted map[string]int
	ignored  map[string]int
}

func newFileStats() *fileStats {
	return &fileStats{inserted: map[string]int{}, ignored: map[string]int{}}
}

type workItem struct {
	path string
	fp   checkpoint.Fingerprint
	skip bool
}

// runTree discovers the files of t and loads them in order, one transaction
// per file.
func runTree[T any](ctx context.Context, d *Driver, t tree[T]) (TreeSummary, error) {
	sum := TreeSummary{Inserted: map[string]int{}, Ignored: map[string]int{}}

	root, err := filepath.Abs(t.root)
	if err != nil {
		return sum, fmt.Errorf("%s: %w", t.name, err)
	}
	files, err := discover.JSONFiles(root, d.opts.Pattern)
	if err != nil {
		return sum, fmt.Errorf("%s: %w", t.name, err)
	}
	sum.Files = len(files)
	d.logf("stage=%s %s", t.name, d.printer.Sprintf("%d files found in %s", len(files), t.root))

	items, err := d.plan(t.name, files)
	if err != nil {
		return sum, err
	}

	ctx, cancel := context.WithCancel(ctx)
	pf := startPrefetch(ctx, t, items, d.opts.ParseWorkers)
	defer func() {
		cancel()
		_ = pf.wait()
	}()

	for i, it := range items {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if it.skip {
			sum.Skipped++
			metrics.RecordFile(t.name, metrics.StatusSkipped, 0)
			d.logf("stage=%s file=%s skipped=checkpoint", t.name, it.path)
			d.progress(t.name, i+1, len(items))
			continue
		}

		p, err := pf.next(ctx, i)
		if err != nil {
			return sum, err
		}

		start := d.now()
		st, err := commitFile(ctx, d.store, t, it.path, p)
		if err != nil {
			metrics.RecordFile(t.name, metrics.StatusError, d.now().Sub(start))
			return sum, err
		}
		metrics.RecordFile(t.name, metrics.StatusOK, d.now().Sub(start))

		sum.Loaded++
		for table, n := range st.inserted {
			sum.Inserted[table] += n
			metrics.RecordRows(table, metrics.OutcomeInserted, n)
		}
		for table, n := range st.ignored {
			sum.Ignored[table] += n
			metrics.RecordRows(table, metrics.OutcomeIgnored, n)
		}
		d.progress(t.name, i+1, len(items))

		if d.opts.Checkpoint != nil {
			if err := d.opts.Checkpoint.Mark(t.name, it.path, it.fp); err != nil {
				return sum, wrapFile(t.name, it.path, err)
			}
		}
	}
	return sum, nil
}

// plan stats every file and marks the ones an earlier run already committed.
func (d *Driver) plan(treeName string, files []string) ([]workItem, error) {
	items := make([]workItem, len(files))
	for i, path := range files {
		items[i].path = path
		if d.opts.Checkpoint == nil {
			continue
		}
		fi, err := os.Stat(path)
		if err != nil {
			return nil, wrapFile(treeName, path, err)
		}
		items[i].fp = checkpoint.FingerprintOf(fi)
		done, err := d.opts.Checkpoint.Done(treeName, path, items[i].fp)
		if err != nil {
			return nil, wrapFile(treeName, path, err)
		}
		items[i].skip = done
	}
	return items, nil
}

// commitFile writes one parsed file inside its own transaction.
func commitFile[T any](ctx context.Context, store storage.Store, t tree[T], path string, p parsed[T]) (*fileStats, error) {
	if p.err != nil {
		return nil, wrapFile(t.name, path, p.err)
	}

	tx, err := store.Begin(ctx)
	if err != nil {
		return nil, wrapFile(t.name, path, fmt.Errorf("begin: %w", err))
	}
	defer func() { _ = tx.Rollback(ctx) }()

	st := newFileStats()
	if err := t.load(ctx, tx, p.recs, st); err != nil {
		return nil, wrapFile(t.name, path, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, wrapFile(t.name, path, fmt.Errorf("commit: %w", err))
	}
	return st, nil
}

type parsed[T any] struct {
	recs []T
	err  error
}

// prefetch parses files ahead of the writer.
//
// Up to workers files are parsed concurrently and at most 2*workers parsed
// files wait for the writer. Parse failures are delivered as results, so the
// writer reports the first bad file in file order and every file before it
// is still committed.
type prefetch[T any] struct {
	results []chan parsed[T]
	window  chan struct{}
	g       *errgroup.Group
	done    chan struct{}
}

func startPrefetch[T any](ctx context.Context, t tree[T], items []workItem, workers int) *prefetch[T] {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	pf := &prefetch[T]{
		results: make([]chan parsed[T], len(items)),
		window:  make(chan struct{}, 2*workers),
		g:       g,
		done:    make(chan struct{}),
	}
	for i := range pf.results {
		pf.results[i] = make(chan parsed[T], 1)
	}

	go func() {
		defer close(pf.done)
		for i, it := range items {
			if it.skip {
				continue
			}
			select {
			case pf.window <- struct{}{}:
			case <-gctx.Done():
				return
			}
			out, path := pf.results[i], it.path
			g.Go(func() error {
				recs, err := t.open(path).ReadAll(gctx)
				out <- parsed[T]{recs: recs, err: err}
				return nil
			})
		}
	}()
	return pf
}

// next blocks until item i is parsed and frees its lookahead slot.
func (pf *prefetch[T]) next(ctx context.Context, i int) (parsed[T], error) {
	select {
	case p := <-pf.results[i]:
		<-pf.window
		return p, nil
	case <-ctx.Done():
		return parsed[T]{}, ctx.Err()
	}
}

// wait must be called after the prefetch context is canceled or every
// result has been consumed.
func (pf *prefetch[T]) wait() error {
	<-pf.done
	return pf.g.Wait()
}
