// Package warehouse turns parsed records into star-schema rows: the four
// dimensions (songs, artists, users, time) and the songplays fact.
package warehouse

import (
	"time"

	"songplays/internal/records"
)

// Song is a row of the songs dimension.
type Song struct {
	SongID   string
	Title    string
	ArtistID string
	Year     int
	Duration float64
}

// Args returns the insert-dimension-song arguments.
func (s Song) Args() []any {
	return []any{s.SongID, s.Title, s.ArtistID, s.Year, s.Duration}
}

// Artist is a row of the artists dimension. Latitude and Longitude are nil
// when the catalog does not know them.
type Artist struct {
	ArtistID  string
	Name      string
	Location  string
	Latitude  *float64
	Longitude *float64
}

func (a Artist) Args() []any {
	return []any{a.ArtistID, a.Name, a.Location, a.Latitude, a.Longitude}
}

// User is a row of the users dimension.
type User struct {
	UserID    string
	FirstName string
	LastName  string
	Gender    string
	Level     string
}

func (u User) Args() []any {
	return []any{u.UserID, u.FirstName, u.LastName, u.Gender, u.Level}
}

// TimeBucket is a row of the time dimension. Every field other than StartTime
// is derived from it by NewTimeBucket.
type TimeBucket struct {
	StartTime time.Time
	Hour      int
	Day       int
	Week      int
	Month     int
	Year      int
	Weekday   int
}

func (t TimeBucket) Args() []any {
	return []any{t.StartTime, t.Hour, t.Day, t.Week, t.Month, t.Year, t.Weekday}
}

// Songplay is a row of the songplays fact. SongID and ArtistID are nil when
// the catalog lookup missed; the surrogate key is assigned by the store.
type Songplay struct {
	StartTime time.Time
	UserID    string
	Level     string
	SongID    *string
	ArtistID  *string
	SessionID int64
	Location  string
	UserAgent string
}

func (p Songplay) Args() []any {
	return []any{p.StartTime, p.UserID, p.Level, p.SongID, p.ArtistID, p.SessionID, p.Location, p.UserAgent}
}

// SongFrom projects the songs row of a catalog record.
func SongFrom(r records.Song) Song {
	return Song{
		SongID:   r.SongID,
		Title:    r.Title,
		ArtistID: r.ArtistID,
		Year:     r.Year,
		Duration: r.Duration,
	}
}

// ArtistFrom projects the artists row of a catalog record.
func ArtistFrom(r records.Song) Artist {
	return Artist{
		ArtistID:  r.ArtistID,
		Name:      r.ArtistName,
		Location:  r.ArtistLocation,
		Latitude:  r.ArtistLatitude,
		Longitude: r.ArtistLongitude,
	}
}

// UserFrom projects the users row of any event, whatever its page. ok is
// false for events without a user id (logged-out page views).
func UserFrom(e records.Event) (u User, ok bool) {
	if e.UserID == "" {
		return User{}, false
	}
	return User{
		UserID:    e.UserID.String(),
		FirstName: e.FirstName,
		LastName:  e.LastName,
		Gender:    e.Gender,
		Level:     e.Level,
	}, true
}

// IsPlay reports whether e feeds the time dimension and the fact table.
func IsPlay(e records.Event) bool { return e.IsPlay() }

// StartTime converts an epoch-millisecond timestamp to a UTC time.
func StartTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// NewTimeBucket decomposes an epoch-millisecond timestamp in UTC.
//
// Week is the ISO 8601 week number (1-53; the first days of January may fall
// in week 52 or 53 of the previous year). Weekday counts from 0 = Monday to
// 6 = Sunday, matching ISO weeks that also start on Monday.
func NewTimeBucket(ms int64) TimeBucket {
	t := StartTime(ms)
	_, week := t.ISOWeek()
	return TimeBucket{
		StartTime: t,
		Hour:      t.Hour(),
		Day:       t.Day(),
		Week:      week,
		Month:     int(t.Month()),
		Year:      t.Year(),
		Weekday:   (int(t.Weekday()) + 6) % 7,
	}
}

// CatalogRows are the rows of one catalog file in insert order: each
// artist before the song that references it.
type CatalogRows struct {
	Artists []Artist
	Songs   []Song
}

// CatalogRowsFrom projects every record of a catalog file.
func CatalogRowsFrom(songs []records.Song) CatalogRows {
	out := CatalogRows{
		Artists: make([]Artist, 0, len(songs)),
		Songs:   make([]Song, 0, len(songs)),
	}
	for _, s := range songs {
		out.Artists = append(out.Artists, ArtistFrom(s))
		out.Songs = append(out.Songs, SongFrom(s))
	}
	return out
}

// EventRows are the dimension rows of one event file plus the play events
// still to be resolved into songplays.
type EventRows struct {
	Times []TimeBucket
	Users []User
	Plays []records.Event
}

// EventRowsFrom derives the rows of one event file in record order.
//
// Users are collected from every event and keep their first occurrence in
// the file. Times and Plays come from NextSong events only; with dedupeTimes
// a start_time seen earlier in the file is not emitted again.
func EventRowsFrom(events []records.Event, dedupeTimes bool) EventRows {
	var out EventRows
	seenUser := make(map[string]struct{})
	var seenTime map[int64]struct{}
	if dedupeTimes {
		seenTime = make(map[int64]struct{})
	}

	for _, e := range events {
		if u, ok := UserFrom(e); ok {
			if _, dup := seenUser[u.UserID]; !dup {
				seenUser[u.UserID] = struct{}{}
				out.Users = append(out.Users, u)
			}
		}
		if !IsPlay(e) {
			continue
		}
		out.Plays = append(out.Plays, e)
		if dedupeTimes {
			if _, dup := seenTime[e.TS]; dup {
				continue
			}
			seenTime[e.TS] = struct{}{}
		}
		out.Times = append(out.Times, NewTimeBucket(e.TS))
	}
	return out
}
