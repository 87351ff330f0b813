package storage

import (
	"fmt"
	"strings"
)

// Op is the semantic name of a warehouse statement.
type Op string

const (
	OpInsertSong     Op = "insert-dimension-song"
	OpInsertArtist   Op = "insert-dimension-artist"
	OpInsertUser     Op = "insert-dimension-user"
	OpInsertTime     Op = "insert-dimension-time"
	OpInsertSongplay Op = "insert-fact-songplay"
	OpLookupSong     Op = "lookup-song-by-title-artist-duration"
)

// Ops lists every operation a backend statement table must provide.
var Ops = []Op{
	OpInsertSong,
	OpInsertArtist,
	OpInsertUser,
	OpInsertTime,
	OpInsertSongplay,
	OpLookupSong,
}

// IsDimensionInsert reports whether a duplicate-key failure of op may be
// treated as a no-op.
func IsDimensionInsert(op Op) bool {
	switch op {
	case OpInsertSong, OpInsertArtist, OpInsertUser, OpInsertTime:
		return true
	}
	return false
}

// Statements maps each Op to a SQL template for one dialect.
//
// A Statements value is built once (usually in a backend's package init) and
// is read-only afterwards; there is no mutating method.
//
// Argument order per op:
//
//	insert-dimension-song      song_id, title, artist_id, year, duration
//	insert-dimension-artist    artist_id, name, location, latitude, longitude
//	insert-dimension-user      user_id, first_name, last_name, gender, level
//	insert-dimension-time      start_time, hour, day, week, month, year, weekday
//	insert-fact-songplay       start_time, user_id, level, song_id, artist_id, session_id, location, user_agent
//	lookup-song-by-title-...   title, artist name, duration  -> song_id, artist_id
type Statements struct {
	dialect string
	sql     map[Op]string
}

// NewStatements validates that every Op in Ops has a non-empty template and
// returns an immutable copy.
func NewStatements(dialect string, m map[Op]string) (Statements, error) {
	if dialect == "" {
		return Statements{}, fmt.Errorf("statements: empty dialect")
	}
	var missing []string
	cp := make(map[Op]string, len(m))
	for _, op := range Ops {
		s := strings.TrimSpace(m[op])
		if s == "" {
			missing = append(missing, string(op))
			continue
		}
		cp[op] = s
	}
	if len(missing) > 0 {
		return Statements{}, fmt.Errorf("statements(%s): missing %s", dialect, strings.Join(missing, ", "))
	}
	for op := range m {
		if _, ok := cp[op]; !ok {
			return Statements{}, fmt.Errorf("statements(%s): unknown op %q", dialect, op)
		}
	}
	return Statements{dialect: dialect, sql: cp}, nil
}

// MustStatements is NewStatements for package-level tables. It panics on an
// incomplete table so a broken backend fails at process start.
func MustStatements(dialect string, m map[Op]string) Statements {
	s, err := NewStatements(dialect, m)
	if err != nil {
		panic(err)
	}
	return s
}

// SQL returns the template registered for op.
func (s Statements) SQL(op Op) (string, error) {
	q, ok := s.sql[op]
	if !ok {
		return "", fmt.Errorf("statements(%s): no statement for op %q", s.dialect, op)
	}
	return q, nil
}

func (s Statements) Dialect() string { return s.dialect }
