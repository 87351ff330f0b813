// Package duckdb registers an embedded DuckDB warehouse backend, useful for
// local analytics over the star schema without a database server.
package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/duckdb/duckdb-go/v2"

	"songplays/internal/storage"
	"songplays/internal/storage/sqlstore"
)

// Statements is the DuckDB statement table.
var Statements = storage.MustStatements("duckdb", map[storage.Op]string{
	storage.OpInsertArtist: `INSERT INTO "artists" ("artist_id", "name", "location", "latitude", "longitude")
		VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
	storage.OpInsertSong: `INSERT INTO "songs" ("song_id", "title", "artist_id", "year", "duration")
		VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
	storage.OpInsertUser: `INSERT INTO "users" ("user_id", "first_name", "last_name", "gender", "level")
		VALUES (?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
	storage.OpInsertTime: `INSERT INTO "time" ("start_time", "hour", "day", "week", "month", "year", "weekday")
		VALUES (?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
	storage.OpInsertSongplay: `INSERT INTO "songplays" ("start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent")
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	storage.OpLookupSong: `SELECT s."song_id", s."artist_id"
		FROM "songs" s JOIN "artists" a ON a."artist_id" = s."artist_id"
		WHERE s."title" = ? AND a."name" = ? AND s."duration" = ?
		LIMIT 1`,
})

// DDL renders TableSpecs for DuckDB. DuckDB has no referential actions, so
// ON DELETE SET NULL is dropped and the plain foreign key kept.
var DDL = storage.DDLDialect{
	Ident: storage.QuoteDouble,
	Types: map[storage.ColumnType]string{
		storage.TypeText:      "VARCHAR",
		storage.TypeKey:       "VARCHAR",
		storage.TypeChar:      "VARCHAR",
		storage.TypeInt:       "INTEGER",
		storage.TypeBigInt:    "BIGINT",
		storage.TypeFloat:     "DOUBLE",
		storage.TypeTimestamp: "TIMESTAMPTZ",
	},
	Preamble: func(table, column string) []string {
		return []string{fmt.Sprintf("CREATE SEQUENCE IF NOT EXISTS %s", storage.QuoteDouble(seqName(table, column)))}
	},
	SerialPK: func(table, column string) string {
		return fmt.Sprintf("%s BIGINT PRIMARY KEY DEFAULT nextval('%s')", storage.QuoteDouble(column), seqName(table, column))
	},
	OnDelete: false,
}

func seqName(table, column string) string {
	return strings.ReplaceAll(table, ".", "_") + "_" + column + "_seq"
}

func init() {
	storage.Register("duckdb", New)
}

// New opens a DuckDB database file (or an in-memory database for an empty DSN).
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("duckdb", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, Dialect()), nil
}

// Dialect returns the sqlstore dialect for DuckDB.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Kind:       "duckdb",
		Statements: Statements,
		DDL:        DDL,
		Classify:   classify,
	}
}

func classify(err error) error {
	var de *duckdb.Error
	if !errors.As(err, &de) || de.Type != duckdb.ErrorTypeConstraint {
		return nil
	}
	if strings.Contains(strings.ToLower(de.Msg), "duplicate key") {
		return storage.ErrDuplicateKey
	}
	return storage.ErrConstraint
}
