package warehouse

import (
	"context"
	"fmt"
	"sync"

	"songplays/internal/metrics"
	"songplays/internal/records"
	"songplays/internal/storage"
)

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Cache memoizes lookups (hits and misses) by their exact triple for the
	// lifetime of the Resolver. Only valid once the catalog is fully loaded.
	Cache bool
}

type lookupKey struct {
	title    string
	artist   string
	duration float64
}

type songRef struct {
	songID   string
	artistID string
	found    bool
}

// Resolver builds Songplay rows, resolving each play's song and artist keys
// against the loaded catalog.
type Resolver struct {
	opts ResolverOptions

	mu     sync.Mutex
	cache  map[lookupKey]songRef
	hits   int
	misses int
}

func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{opts: opts}
	if opts.Cache {
		r.cache = make(map[lookupKey]songRef)
	}
	return r
}

// Resolve builds the songplays row for a NextSong event.
//
// The lookup matches (title, artist name, duration) exactly. When several
// catalog entries match, the store returns the first one. A miss is not an
// error: the row keeps nil SongID and ArtistID.
//
// Errors:
//   - e is not a play event.
//   - the lookup statement failed (wrapped; never reported as a miss).
func (r *Resolver) Resolve(ctx context.Context, q storage.Querier, e records.Event) (Songplay, error) {
	if !e.IsPlay() {
		return Songplay{}, fmt.Errorf("resolve: event page %q is not %s", e.Page, records.NextSong)
	}

	p := Songplay{
		StartTime: StartTime(e.TS),
		UserID:    e.UserID.String(),
		Level:     e.Level,
		SessionID: e.SessionID,
		Location:  e.Location,
		UserAgent: e.UserAgent,
	}

	key := lookupKey{title: deref(e.Song), artist: deref(e.Artist), duration: derefFloat(e.Length)}
	ref, err := r.lookup(ctx, q, key)
	if err != nil {
		return Songplay{}, err
	}

	r.mu.Lock()
	if ref.found {
		r.hits++
	} else {
		r.misses++
	}
	r.mu.Unlock()

	if ref.found {
		metrics.RecordLookup(metrics.ResultHit)
		songID, artistID := ref.songID, ref.artistID
		p.SongID, p.ArtistID = &songID, &artistID
	} else {
		metrics.RecordLookup(metrics.ResultMiss)
	}
	return p, nil
}

func (r *Resolver) lookup(ctx context.Context, q storage.Querier, key lookupKey) (songRef, error) {
	if r.cache != nil {
		r.mu.Lock()
		ref, ok := r.cache[key]
		r.mu.Unlock()
		if ok {
			return ref, nil
		}
	}

	var ref songRef
	found, err := q.QueryOne(ctx, storage.OpLookupSong, []any{key.title, key.artist, key.duration}, &ref.songID, &ref.artistID)
	if err != nil {
		return songRef{}, fmt.Errorf("resolve %q by %q (%v): %w", key.title, key.artist, key.duration, err)
	}
	ref.found = found

	if r.cache != nil {
		r.mu.Lock()
		r.cache[key] = ref
		r.mu.Unlock()
	}
	return ref, nil
}

// Counts returns the number of resolved plays with and without a catalog match.
func (r *Resolver) Counts() (hits, misses int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hits, r.misses
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
