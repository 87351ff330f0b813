// Package probe samples an input tree before a load and reports how it looks:
// how many files and records parse, which files are rejected, and how unique
// each record field is.
//
// The uniqueness report is the quick check for key quality: song_id should be
// unique per catalog record, artist_id repeats across songs, and userId in the
// event logs has a low distinct ratio because every user emits many events.
//
// Probing is best-effort. A file that fails to parse is listed in the result
// and does not fail the probe.
package probe

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"songplays/internal/discover"
	"songplays/internal/parser/jsonl"
	"songplays/internal/records"
)

// Trees a probe can read.
const (
	TreeSongs  = "song_data"
	TreeEvents = "log_data"
)

// distinctCapPerColumn bounds memory on high-cardinality fields (ts, song_id).
const distinctCapPerColumn = 10000

// Options selects what to sample.
type Options struct {
	// Tree is TreeSongs or TreeEvents.
	Tree string
	// Root of the tree.
	Root string
	// Pattern is the doublestar glob under Root. Empty means discover.DefaultPattern.
	Pattern string
	// MaxFiles caps the number of files read. <= 0 reads all of them.
	MaxFiles int
}

// FileError is a file the probe could not fully parse.
type FileError struct {
	Path string
	Err  string
}

// Result is the outcome of one probe.
type Result struct {
	Tree string
	Root string

	// FilesFound counts matches under Root; Files counts the ones read.
	FilesFound int
	Files      int
	Records    int
	// Plays counts NextSong events. Always zero for the catalog tree.
	Plays int

	Rejected   []FileError
	Uniqueness Uniqueness
}

// Uniqueness holds bounded distinct-count stats per field.
//
// Per-column totals, not Records, are the denominators for ratios: a field
// only counts a record when it had a value there.
type Uniqueness struct {
	PerColumnTotal    map[string]int
	PerColumnDistinct map[string]int
	PerColumnCapped   map[string]bool
	ColumnOrder       []string
}

var (
	songColumns = []string{
		"song_id", "title", "artist_id", "artist_name", "artist_location", "year", "duration",
	}
	eventColumns = []string{
		"userId", "sessionId", "page", "level", "gender", "auth", "song", "artist", "ts",
	}
)

// Probe walks the tree and samples every record of the selected files.
//
// Errors:
//   - unknown tree.
//   - root missing or pattern invalid.
//   - ctx canceled.
func Probe(ctx context.Context, opt Options) (Result, error) {
	var columns []string
	switch opt.Tree {
	case TreeSongs:
		columns = songColumns
	case TreeEvents:
		columns = eventColumns
	default:
		return Result{}, fmt.Errorf("probe: unknown tree %q (want %s or %s)", opt.Tree, TreeSongs, TreeEvents)
	}

	paths, err := discover.JSONFiles(opt.Root, opt.Pattern)
	if err != nil {
		return Result{}, fmt.Errorf("probe: %w", err)
	}

	res := Result{Tree: opt.Tree, Root: opt.Root, FilesFound: len(paths)}
	if opt.MaxFiles > 0 && len(paths) > opt.MaxFiles {
		paths = paths[:opt.MaxFiles]
	}

	u := newCounter(columns)
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		res.Files++

		var ferr error
		if opt.Tree == TreeSongs {
			ferr = sampleFile(ctx, jsonl.SongFile(path), func(s records.Song) {
				res.Records++
				u.add(songValues(s))
			})
		} else {
			ferr = sampleFile(ctx, jsonl.EventFile(path), func(e records.Event) {
				res.Records++
				if e.IsPlay() {
					res.Plays++
				}
				u.add(eventValues(e))
			})
		}
		if ferr != nil {
			if ctx.Err() != nil {
				return Result{}, ctx.Err()
			}
			res.Rejected = append(res.Rejected, FileError{Path: path, Err: ferr.Error()})
		}
	}

	res.Uniqueness = u.finish()
	return res, nil
}

// sampleFile feeds every record before the first error to fn.
func sampleFile[T any](ctx context.Context, f jsonl.File[T], fn func(T)) error {
	for rec, err := range f.Records(ctx) {
		if err != nil {
			return err
		}
		fn(rec)
	}
	return nil
}

func songValues(s records.Song) []string {
	return []string{
		s.SongID,
		s.Title,
		s.ArtistID,
		s.ArtistName,
		s.ArtistLocation,
		strconv.Itoa(s.Year),
		strconv.FormatFloat(s.Duration, 'f', -1, 64),
	}
}

func eventValues(e records.Event) []string {
	return []string{
		e.UserID.String(),
		strconv.FormatInt(e.SessionID, 10),
		e.Page,
		e.Level,
		e.Gender,
		e.Auth,
		deref(e.Song),
		deref(e.Artist),
		strconv.FormatInt(e.TS, 10),
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

type counter struct {
	stats Uniqueness
	sets  map[string]map[string]struct{}
}

func newCounter(columns []string) *counter {
	c := &counter{
		stats: Uniqueness{
			PerColumnTotal:    make(map[string]int, len(columns)),
			PerColumnDistinct: make(map[string]int, len(columns)),
			PerColumnCapped:   make(map[string]bool, len(columns)),
			ColumnOrder:       append([]string(nil), columns...),
		},
		sets: make(map[string]map[string]struct{}, len(columns)),
	}
	for _, col := range columns {
		c.sets[col] = make(map[string]struct{})
	}
	return c
}

// add counts one record. values align with ColumnOrder; blank values are
// treated as missing.
func (c *counter) add(values []string) {
	for i, col := range c.stats.ColumnOrder {
		v := strings.TrimSpace(values[i])
		if v == "" {
			continue
		}
		c.stats.PerColumnTotal[col]++

		if c.stats.PerColumnCapped[col] {
			continue
		}
		c.sets[col][v] = struct{}{}
		if len(c.sets[col]) >= distinctCapPerColumn {
			c.stats.PerColumnCapped[col] = true
			delete(c.sets, col)
		}
	}
}

func (c *counter) finish() Uniqueness {
	for _, col := range c.stats.ColumnOrder {
		if c.stats.PerColumnCapped[col] {
			c.stats.PerColumnDistinct[col] = distinctCapPerColumn
			continue
		}
		c.stats.PerColumnDistinct[col] = len(c.sets[col])
	}
	return c.stats
}

// FormatReport renders r for a terminal. Columns are sorted by ascending
// uniqueness ratio; columns with no values are omitted.
func FormatReport(r Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "probe: tree=%s root=%s files=%d/%d records=%d", r.Tree, r.Root, r.Files, r.FilesFound, r.Records)
	if r.Tree == TreeEvents {
		fmt.Fprintf(&b, " plays=%d", r.Plays)
	}
	fmt.Fprintf(&b, " rejected=%d\n", len(r.Rejected))
	for _, fe := range r.Rejected {
		fmt.Fprintf(&b, "rejected:\t%s\n", fe.Err)
	}

	if r.Records == 0 {
		b.WriteString("uniqueness: no rows sampled")
		return b.String()
	}

	type row struct {
		col    string
		dist   int
		den    int
		ratio  float64
		capped bool
	}
	u := r.Uniqueness
	rows := make([]row, 0, len(u.ColumnOrder))
	for _, col := range u.ColumnOrder {
		den := u.PerColumnTotal[col]
		if den <= 0 {
			continue
		}
		d := u.PerColumnDistinct[col]
		rows = append(rows, row{col: col, dist: d, den: den, ratio: float64(d) / float64(den), capped: u.PerColumnCapped[col]})
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].ratio == rows[j].ratio {
			return rows[i].col < rows[j].col
		}
		return rows[i].ratio < rows[j].ratio
	})

	fmt.Fprintf(&b, "%-15s\t%-7s\t%-7s\tratio\tcapped\n", "col", "unique", "rows")
	for _, rw := range rows {
		fmt.Fprintf(&b, "%-15s\t%-7d\t%d\t%.1f%%\t%t\n", rw.col, rw.dist, rw.den, rw.ratio*100, rw.capped)
	}
	return strings.TrimRight(b.String(), "\n")
}
