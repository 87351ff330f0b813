package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"songplays/internal/storage"
	"songplays/internal/storage/sqlstore"
)

// SQLite has no native TIMESTAMPTZ type; timestamps are stored as
// RFC3339Nano UTC text so that the time dimension key and the fact's
// start_time compare equal byte for byte.

// Statements is the SQLite statement table.
var Statements = storage.MustStatements("sqlite", map[storage.Op]string{
	storage.OpInsertArtist: `INSERT INTO "artists" ("artist_id", "name", "location", "latitude", "longitude")
		VALUES (?, ?, ?, ?, ?) ON CONFLICT ("artist_id") DO NOTHING`,
	storage.OpInsertSong: `INSERT INTO "songs" ("song_id", "title", "artist_id", "year", "duration")
		VALUES (?, ?, ?, ?, ?) ON CONFLICT ("song_id") DO NOTHING`,
	storage.OpInsertUser: `INSERT INTO "users" ("user_id", "first_name", "last_name", "gender", "level")
		VALUES (?, ?, ?, ?, ?) ON CONFLICT ("user_id") DO NOTHING`,
	storage.OpInsertTime: `INSERT INTO "time" ("start_time", "hour", "day", "week", "month", "year", "weekday")
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT ("start_time") DO NOTHING`,
	storage.OpInsertSongplay: `INSERT INTO "songplays" ("start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent")
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	storage.OpLookupSong: `SELECT s."song_id", s."artist_id"
		FROM "songs" s JOIN "artists" a ON a."artist_id" = s."artist_id"
		WHERE s."title" = ? AND a."name" = ? AND s."duration" = ?
		LIMIT 1`,
})

// DDL renders TableSpecs for SQLite.
var DDL = storage.DDLDialect{
	Ident: storage.QuoteDouble,
	Types: map[storage.ColumnType]string{
		storage.TypeText:      "TEXT",
		storage.TypeKey:       "TEXT",
		storage.TypeChar:      "TEXT",
		storage.TypeInt:       "INTEGER",
		storage.TypeBigInt:    "INTEGER",
		storage.TypeFloat:     "REAL",
		storage.TypeTimestamp: "TEXT",
	},
	SerialPK: func(_, column string) string {
		return storage.QuoteDouble(column) + " INTEGER PRIMARY KEY AUTOINCREMENT"
	},
	OnDelete: true,
}

func init() {
	storage.Register("sqlite", New)
}

// New opens a SQLite database. Foreign keys are enforced on every connection
// and the pool is pinned to one connection: SQLite serializes writers anyway
// and an in-memory database exists only per connection.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlite", withForeignKeys(cfg.DSN))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	return sqlstore.New(db, Dialect()), nil
}

// withForeignKeys adds the foreign_keys pragma to dsn unless it already sets
// one. The driver runs _pragma parameters on each new connection.
func withForeignKeys(dsn string) string {
	if strings.Contains(dsn, "foreign_keys") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)"
}

// Dialect returns the sqlstore dialect for SQLite.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Kind:       "sqlite",
		Statements: Statements,
		DDL:        DDL,
		Classify:   classify,
		Arg:        bindArg,
	}
}

func bindArg(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatSQLiteTime(t)
	}
	return v
}

func classify(err error) error {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return nil
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return storage.ErrDuplicateKey
	}
	if se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT {
		// Non-extended codes still carry the constraint kind in the message.
		if strings.Contains(se.Error(), "UNIQUE constraint failed") {
			return storage.ErrDuplicateKey
		}
		return storage.ErrConstraint
	}
	return nil
}

// formatSQLiteTime formats a time as RFC3339Nano in UTC.
func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
