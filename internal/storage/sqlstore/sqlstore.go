// Package sqlstore implements storage.Store on top of database/sql. The
// sqlite, sqlserver and duckdb backends are thin dialect definitions around it.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"songplays/internal/storage"
)

// Dialect carries everything backend specific.
type Dialect struct {
	Kind       string
	Statements storage.Statements
	DDL        storage.DDLDialect
	Classify   storage.Classifier

	// Arg converts a bound argument before it reaches the driver. Optional.
	Arg func(v any) any
}

// Store is a database/sql backed storage.Store.
type Store struct {
	db *sql.DB
	d  Dialect
}

// New wraps an open *sql.DB. The Store owns db and closes it on Close.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, d: d}
}

func (s *Store) Dialect() string { return s.d.Kind }

// DB exposes the pool for read-side queries (reports, tests).
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() { _ = s.db.Close() }

func (s *Store) Begin(ctx context.Context) (storage.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%s: begin: %w", s.d.Kind, err)
	}
	return &sqlTx{tx: tx, d: &s.d}, nil
}

// EnsureTables creates each table in order, outside any transaction.
func (s *Store) EnsureTables(ctx context.Context, tables []storage.TableSpec) error {
	for _, t := range tables {
		stmts, err := storage.BuildCreateTable(t, s.d.DDL)
		if err != nil {
			return err
		}
		for _, q := range stmts {
			if _, err := s.db.ExecContext(ctx, q); err != nil {
				return fmt.Errorf("create table %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

type sqlTx struct {
	tx *sql.Tx
	d  *Dialect
}

func (t *sqlTx) args(in []any) []any {
	if t.d.Arg == nil {
		return in
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = t.d.Arg(v)
	}
	return out
}

func (t *sqlTx) Exec(ctx context.Context, op storage.Op, args ...any) error {
	q, err := t.d.Statements.SQL(op)
	if err != nil {
		return err
	}
	_, err = t.tx.ExecContext(ctx, q, t.args(args)...)
	return storage.Wrap(op, t.d.Classify, err)
}

func (t *sqlTx) QueryOne(ctx context.Context, op storage.Op, args []any, dest ...any) (bool, error) {
	q, err := t.d.Statements.SQL(op)
	if err != nil {
		return false, err
	}
	err = t.tx.QueryRowContext(ctx, q, t.args(args)...).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storage.Wrap(op, t.d.Classify, err)
	}
	return true, nil
}

func (t *sqlTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("%s: commit: %w", t.d.Kind, err)
	}
	return nil
}

func (t *sqlTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback()
	if err == nil || errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return fmt.Errorf("%s: rollback: %w", t.d.Kind, err)
}
