package loader

import (
	"context"
	"errors"
	"fmt"

	"songplays/internal/records"
	"songplays/internal/storage"
	"songplays/internal/warehouse"
)

// Warehouse table names, as counted in summaries and metrics.
const (
	TableSongs     = "songs"
	TableArtists   = "artists"
	TableUsers     = "users"
	TableTime      = "time"
	TableSongplays = "songplays"
)

// loadCatalogFile writes the artist and then the song of every catalog
// record, so the song's artist reference is always satisfied.
func (d *Driver) loadCatalogFile(ctx context.Context, s storage.Session, recs []records.Song, st *fileStats) error {
	rows := warehouse.CatalogRowsFrom(recs)
	for i := range rows.Songs {
		if err := insertDimension(ctx, s, storage.OpInsertArtist, TableArtists, rows.Artists[i].Args(), st); err != nil {
			return err
		}
		if err := insertDimension(ctx, s, storage.OpInsertSong, TableSongs, rows.Songs[i].Args(), st); err != nil {
			return err
		}
	}
	return nil
}

// loadEventFile writes time buckets, then users, then one songplay per
// NextSong event.
func (d *Driver) loadEventFile(ctx context.Context, s storage.Session, r *warehouse.Resolver, recs []records.Event, st *fileStats) error {
	rows := warehouse.EventRowsFrom(recs, d.opts.DedupeTimes)

	for _, t := range rows.Times {
		if err := insertDimension(ctx, s, storage.OpInsertTime, TableTime, t.Args(), st); err != nil {
			return err
		}
	}
	for _, u := range rows.Users {
		if err := insertDimension(ctx, s, storage.OpInsertUser, TableUsers, u.Args(), st); err != nil {
			return err
		}
	}
	for _, e := range rows.Plays {
		p, err := r.Resolve(ctx, s, e)
		if err != nil {
			return err
		}
		if err := s.Exec(ctx, storage.OpInsertSongplay, p.Args()...); err != nil {
			return fmt.Errorf("songplay at ts=%d user=%s: %w", e.TS, e.UserID, err)
		}
		st.inserted[TableSongplays]++
	}
	return nil
}

// insertDimension runs a dimension insert. A duplicate key means the row was
// already written by an earlier record or file and is counted as ignored.
func insertDimension(ctx context.Context, s storage.Session, op storage.Op, table string, args []any, st *fileStats) error {
	err := s.Exec(ctx, op, args...)
	switch {
	case err == nil:
		st.inserted[table]++
		return nil
	case storage.IsDimensionInsert(op) && errors.Is(err, storage.ErrDuplicateKey):
		st.ignored[table]++
		return nil
	default:
		return fmt.Errorf("%s %v: %w", table, args[0], err)
	}
}
