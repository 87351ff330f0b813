// Package jsonl decodes newline-delimited JSON files into typed records.
package jsonl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/goccy/go-json"

	"songplays/internal/records"
)

// ParseError reports a line that is not a well-formed record.
type ParseError struct {
	Path  string
	Line  int    // 1-based physical line
	Field string // set when a decoded record failed validation
	Err   error
}

func (e *ParseError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "<input>"
	}
	if e.Line > 0 {
		loc = fmt.Sprintf("%s:%d", loc, e.Line)
	}
	return fmt.Sprintf("parse %s: %v", loc, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode reads one JSON object per line from r, decodes it into a T, runs
// validate (when non-nil) and hands the record to yield.
//
// Behavior:
//   - Blank lines are skipped; line numbers still count them.
//   - There is no line length limit.
//   - Decoding stops without error when yield returns false.
//   - The first malformed or invalid line stops decoding with a *ParseError.
func Decode[T any](ctx context.Context, r io.Reader, validate func(*T) error, yield func(line int, rec T) bool) error {
	br := bufio.NewReaderSize(r, 64*1024)
	line := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		raw, readErr := br.ReadBytes('\n')
		if len(raw) > 0 {
			line++
			if line == 1 {
				raw = bytes.TrimPrefix(raw, utf8BOM)
			}
			raw = bytes.TrimSpace(raw)
		}

		if len(raw) > 0 {
			var rec T
			if err := json.Unmarshal(raw, &rec); err != nil {
				return &ParseError{Line: line, Err: err}
			}
			if validate != nil {
				if err := validate(&rec); err != nil {
					pe := &ParseError{Line: line, Err: err}
					var fe *records.FieldError
					if errors.As(err, &fe) {
						pe.Field = fe.Field
					}
					return pe
				}
			}
			if !yield(line, rec) {
				return nil
			}
		}

		if readErr == io.EOF {
			return nil
		}
		if readErr != nil {
			return fmt.Errorf("read line %d: %w", line+1, readErr)
		}
	}
}

// File is an NDJSON file of T records.
type File[T any] struct {
	Path     string
	Validate func(*T) error
}

// Records returns a lazy sequence over the file. Every range over the
// sequence reopens the file, so the sequence can be consumed more than once.
// A failure is delivered as the final (zero, err) pair.
func (f File[T]) Records(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		fh, err := os.Open(f.Path)
		if err != nil {
			yield(zero, fmt.Errorf("open %s: %w", f.Path, err))
			return
		}
		defer fh.Close()

		stopped := false
		err = Decode(ctx, fh, f.Validate, func(_ int, rec T) bool {
			if !yield(rec, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err == nil || stopped {
			return
		}
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = f.Path
		} else {
			err = fmt.Errorf("%s: %w", f.Path, err)
		}
		yield(zero, err)
	}
}

// ReadAll collects every record of the file.
func (f File[T]) ReadAll(ctx context.Context) ([]T, error) {
	var out []T
	for rec, err := range f.Records(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// SongFile is the catalog-file shape.
func SongFile(path string) File[records.Song] {
	return File[records.Song]{Path: path, Validate: records.ValidateSong}
}

// EventFile is the activity-log-file shape.
func EventFile(path string) File[records.Event] {
	return File[records.Event]{Path: path, Validate: records.ValidateEvent}
}
