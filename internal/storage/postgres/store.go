package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"songplays/internal/storage"
)

/*
Store implements storage.Store for Postgres on a pgx connection pool.

Dimension statements use ON CONFLICT (...) DO NOTHING, so a duplicate natural
key never raises 23505 and never aborts the surrounding transaction.
*/
type Store struct {
	pool *pgxpool.Pool
}

// Statements is the Postgres statement table.
var Statements = storage.MustStatements("postgres", map[storage.Op]string{
	storage.OpInsertArtist: buildInsertSQL("artists",
		[]string{"artist_id", "name", "location", "latitude", "longitude"}, []string{"artist_id"}),
	storage.OpInsertSong: buildInsertSQL("songs",
		[]string{"song_id", "title", "artist_id", "year", "duration"}, []string{"song_id"}),
	storage.OpInsertUser: buildInsertSQL("users",
		[]string{"user_id", "first_name", "last_name", "gender", "level"}, []string{"user_id"}),
	storage.OpInsertTime: buildInsertSQL("time",
		[]string{"start_time", "hour", "day", "week", "month", "year", "weekday"}, []string{"start_time"}),
	storage.OpInsertSongplay: buildInsertSQL("songplays",
		[]string{"start_time", "user_id", "level", "song_id", "artist_id", "session_id", "location", "user_agent"}, nil),
	storage.OpLookupSong: `SELECT s."song_id", s."artist_id"
		FROM "songs" s JOIN "artists" a ON a."artist_id" = s."artist_id"
		WHERE s."title" = $1 AND a."name" = $2 AND s."duration" = $3
		LIMIT 1`,
})

// DDL renders TableSpecs for Postgres.
var DDL = storage.DDLDialect{
	Ident: pgIdent,
	Types: map[storage.ColumnType]string{
		storage.TypeText:      "text",
		storage.TypeKey:       "varchar(64)",
		storage.TypeChar:      "varchar(1)",
		storage.TypeInt:       "integer",
		storage.TypeBigInt:    "bigint",
		storage.TypeFloat:     "double precision",
		storage.TypeTimestamp: "timestamptz",
	},
	SerialPK: func(_, column string) string {
		return pgIdent(column) + " bigserial PRIMARY KEY"
	},
	OnDelete: true,
	Wrap: func(table, body string) string {
		return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);", pgTableIdent(table), body)
	},
}

// New creates a new Postgres-backed Store.
func New(ctx context.Context, cfg storage.Config) (storage.Store, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Dialect() string { return "postgres" }

// Close closes the connection pool.
func (s *Store) Close() { s.pool.Close() }

// Pool exposes the underlying pool for read-side queries.
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("postgres: begin: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// EnsureTables creates the schema (for qualified names) and each table.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		if schema, _ := splitQualifiedName(t.Name); schema != "" {
			q := fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s;`, pgIdent(schema))
			if _, err := s.pool.Exec(ctx, q); err != nil {
				return fmt.Errorf("create schema for %s: %w", t.Name, err)
			}
		}
		stmts, err := storage.BuildCreateTable(t, DDL)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := s.pool.Exec(ctx, q); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, op storage.Op, args ...any) error {
	q, err := Statements.SQL(op)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, q, args...)
	return storage.Wrap(op, classify, err)
}

func (t *pgTx) QueryOne(ctx context.Context, op storage.Op, args []any, dest ...any) (bool, error) {
	q, err := Statements.SQL(op)
	if err != nil {
		return false, err
	}
	err = t.tx.QueryRow(ctx, q, args...).Scan(dest...)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap(op, classify, err)
	}
	return true, nil
}

func (t *pgTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

func (t *pgTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err == nil || errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}
	return fmt.Errorf("postgres: rollback: %w", err)
}

// classify maps SQLSTATE class 23 (integrity constraint violation).
func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return nil
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return storage.ErrDuplicateKey
	}
	if strings.HasPrefix(pgErr.Code, "23") {
		return storage.ErrConstraint
	}
	return nil
}

// buildInsertSQL constructs a single-row INSERT with $n placeholders.
//
// When conflict columns are given the statement becomes insert-or-ignore via
// ON CONFLICT (...) DO NOTHING.
func buildInsertSQL(table string, columns []string, conflict []string) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgTableIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES (")
	for i := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "$%d", i+1)
	}
	b.WriteString(")")

	if len(conflict) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflict {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(") DO NOTHING")
	}
	return b.String()
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// pgTableIdent quotes a possibly schema-qualified table name.
func pgTableIdent(name string) string {
	if schema, table := splitQualifiedName(name); schema != "" {
		return pgIdent(schema) + "." + pgIdent(table)
	}
	return pgIdent(strings.TrimSpace(name))
}

// splitQualifiedName splits a schema-qualified name into (schema, table).
//
// Examples:
//   - "public.countries" => ("public", "countries")
//   - "countries"        => ("", "countries")
//
// Only a single dot is handled; anything else is treated as unqualified.
func splitQualifiedName(name string) (schema string, table string) {
	name = strings.TrimSpace(name)
	parts := strings.Split(name, ".")
	if len(parts) != 2 {
		return "", name
	}
	return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
}
