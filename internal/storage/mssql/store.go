package mssql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/microsoft/go-mssqldb"

	"songplays/internal/storage"
	"songplays/internal/storage/sqlstore"
)

// SQL Server has no ON CONFLICT. Dimension inserts use INSERT ... SELECT
// ... WHERE NOT EXISTS, which can still race with a concurrent writer; the
// resulting 2627/2601 is classified as storage.ErrDuplicateKey and ignored
// by the loader.

// Statements is the SQL Server statement table.
var Statements = storage.MustStatements("sqlserver", map[storage.Op]string{
	storage.OpInsertArtist: buildInsertNotExistsSQL("artists",
		[]string{"artist_id", "name", "location", "latitude", "longitude"}, []string{"artist_id"}),
	storage.OpInsertSong: buildInsertNotExistsSQL("songs",
		[]string{"song_id", "title", "artist_id", "year", "duration"}, []string{"song_id"}),
	storage.OpInsertUser: buildInsertNotExistsSQL("users",
		[]string{"user_id", "first_name", "last_name", "gender", "level"}, []string{"user_id"}),
	storage.OpInsertTime: buildInsertNotExistsSQL("time",
		[]string{"start_time", "hour", "day", "week", "month", "year", "weekday"}, []string{"start_time"}),
	storage.OpInsertSongplay: buildInsertNotExistsSQL("songplays",
		[]string{"start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}, nil),
	storage.OpLookupSong: `SELECT TOP 1 s.[song_id], s.[artist_id]
		FROM [songs] s JOIN [artists] a ON a.[artist_id] = s.[artist_id]
		WHERE s.[title] = @p1 AND a.[name] = @p2 AND s.[duration] = @p3`,
})

// DDL renders TableSpecs for SQL Server.
var DDL = storage.DDLDialect{
	Ident: mssqlIdent,
	Types: map[storage.ColumnType]string{
		storage.TypeText:      "NVARCHAR(MAX)",
		storage.TypeKey:       "NVARCHAR(64)",
		storage.TypeChar:      "NCHAR(1)",
		storage.TypeInt:       "INT",
		storage.TypeBigInt:    "BIGINT",
		storage.TypeFloat:     "FLOAT",
		storage.TypeTimestamp: "DATETIMEOFFSET(3)",
	},
	SerialPK: func(_, column string) string {
		return mssqlIdent(column) + " BIGINT IDENTITY(1,1) PRIMARY KEY"
	},
	OnDelete: true,
	Wrap:     wrapCreateIfMissing,
}

func init() {
	storage.Register("sqlserver", New)
}

// New opens SQL Server through database/sql and the "sqlserver" driver.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Writes are sequential; a small pool covers the lookup path.
	db.SetMaxOpenConns(8)
	db.SetMaxIdleConns(8)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return sqlstore.New(db, Dialect()), nil
}

// Dialect returns the sqlstore dialect for SQL Server.
func Dialect() sqlstore.Dialect {
	return sqlstore.Dialect{
		Kind:       "sqlserver",
		Statements: Statements,
		DDL:        DDL,
		Classify:   classify,
	}
}

// sqlErrorNumber is satisfied by mssql.Error.
type sqlErrorNumber interface {
	SQLErrorNumber() int32
}

func classify(err error) error {
	var se sqlErrorNumber
	if !errors.As(err, &se) {
		return nil
	}
	switch se.SQLErrorNumber() {
	case 2627, 2601: // PK / unique index violation
		return storage.ErrDuplicateKey
	case 547, 515: // FK or CHECK conflict, NULL into NOT NULL column
		return storage.ErrConstraint
	}
	return nil
}

// buildInsertNotExistsSQL builds a single-row insert with @pN placeholders.
//
// With dedupe columns the row is only inserted when no existing row matches
// on all of them.
func buildInsertNotExistsSQL(table string, columns []string, dedupeColumns []string) string {
	var b strings.Builder

	b.WriteString("INSERT INTO ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}

	if len(dedupeColumns) == 0 {
		b.WriteString(") VALUES (")
		for i := range columns {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "@p%d", i+1)
		}
		b.WriteString(")")
		return b.String()
	}

	b.WriteString(") SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("v.")
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(" FROM (VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "@p%d", i+1)
	}
	b.WriteString(")) AS v(")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(mssqlIdent(c))
	}
	b.WriteString(") WHERE NOT EXISTS (SELECT 1 FROM ")
	b.WriteString(mssqlTableIdent(table))
	b.WriteString(" t WHERE ")
	for i, dc := range dedupeColumns {
		if i > 0 {
			b.WriteString(" AND ")
		}
		b.WriteString("t.")
		b.WriteString(mssqlIdent(dc))
		b.WriteString(" = v.")
		b.WriteString(mssqlIdent(dc))
	}
	b.WriteString(")")

	return b.String()
}

// wrapCreateIfMissing wraps a CREATE TABLE statement in an OBJECT_ID guard.
//
// This keeps EnsureTables idempotent without requiring IF NOT EXISTS syntax.
func wrapCreateIfMissing(tableName string, innerDefs string) string {
	return fmt.Sprintf(
		"IF OBJECT_ID(N'%s', N'U') IS NULL BEGIN CREATE TABLE %s (%s); END;",
		strings.ReplaceAll(tableName, "'", "''"),
		mssqlTableIdent(tableName),
		innerDefs,
	)
}

// mssqlIdent returns a bracket-quoted identifier, escaping ']' as ']]'.
func mssqlIdent(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// mssqlTableIdent returns a bracket-quoted identifier for schema-qualified names.
//
// Example:
//
//	"dbo.imports" -> [dbo].[imports]
func mssqlTableIdent(name string) string {
	parts := strings.Split(name, ".")
	for i := range parts {
		parts[i] = mssqlIdent(strings.TrimSpace(parts[i]))
	}
	return strings.Join(parts, ".")
}
